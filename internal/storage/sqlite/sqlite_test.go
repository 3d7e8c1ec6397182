package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazeta/internal/storage"
	"gazeta/internal/types"
)

func newTestStore(t *testing.T) storage.StateStore {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	return store
}

func TestCreateAndGetRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	received := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)

	id, err := store.CreateRecord(ctx, "mail_abc", "src1", "tech", received)
	require.NoError(t, err)

	rec, err := store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "mail_abc", rec.ItemKey)
	assert.Equal(t, "src1", rec.SourceID)
	assert.Equal(t, "tech", rec.Profile)
	assert.Equal(t, types.StagePending, rec.Stage)
	assert.Equal(t, 1, rec.Attempt)
	assert.False(t, rec.Superseded)
	assert.True(t, received.Equal(rec.ReceivedAt))
	assert.Empty(t, rec.DestinationRefs)
}

func TestGetRecordNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRecord(context.Background(), 999)
	assert.True(t, errors.Is(err, types.ErrRecordNotFound))
}

func TestDuplicateKeyRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateRecord(ctx, "mail_abc", "src1", "tech", time.Now())
	require.NoError(t, err)

	_, err = store.CreateRecord(ctx, "mail_abc", "src1", "tech", time.Now())
	assert.True(t, types.IsDuplicateKey(err))

	// same item under a different profile is a separate record
	_, err = store.CreateRecord(ctx, "mail_abc", "src1", "finance", time.Now())
	assert.NoError(t, err)
}

func TestIsKnownAndFindActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	known, err := store.IsKnown(ctx, "mail_abc", "tech")
	require.NoError(t, err)
	assert.False(t, known)

	rec, err := store.FindActive(ctx, "mail_abc", "tech")
	require.NoError(t, err)
	assert.Nil(t, rec)

	id, err := store.CreateRecord(ctx, "mail_abc", "src1", "tech", time.Now())
	require.NoError(t, err)

	known, err = store.IsKnown(ctx, "mail_abc", "tech")
	require.NoError(t, err)
	assert.True(t, known)

	rec, err = store.FindActive(ctx, "mail_abc", "tech")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
}

func TestAdvanceStage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "mail_abc", "src1", "tech", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.AdvanceStage(ctx, id, types.StageFetched, storage.StageFields{RawRef: "data/raw/mail_abc.eml"}))
	require.NoError(t, store.AdvanceStage(ctx, id, types.StageExtracted, storage.StageFields{ResultRef: "data/extractions/mail_abc_extraction.json", CostUnits: 1234}))
	require.NoError(t, store.AdvanceStage(ctx, id, types.StagePublished, storage.StageFields{DestinationRefs: []string{"notion:page-1", "feed:mail_abc"}}))

	rec, err := store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StagePublished, rec.Stage)
	assert.Equal(t, "data/raw/mail_abc.eml", rec.RawRef)
	assert.Equal(t, "data/extractions/mail_abc_extraction.json", rec.ResultRef)
	assert.Equal(t, int64(1234), rec.CostUnits)
	assert.Equal(t, []string{"notion:page-1", "feed:mail_abc"}, rec.DestinationRefs)
}

func TestAdvanceStageRejectsInvalidTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "mail_abc", "src1", "tech", time.Now())
	require.NoError(t, err)

	err = store.AdvanceStage(ctx, id, types.StageExtracted, storage.StageFields{})
	assert.True(t, types.IsInvalidTransition(err))

	err = store.AdvanceStage(ctx, id, types.StageFailed, storage.StageFields{})
	assert.True(t, types.IsInvalidTransition(err))

	err = store.AdvanceStage(ctx, 999, types.StageFetched, storage.StageFields{})
	assert.True(t, errors.Is(err, types.ErrRecordNotFound))

	// record is untouched after the rejected moves
	rec, err := store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StagePending, rec.Stage)
}

func TestMarkFailedAndRetry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "mail_abc", "src1", "tech", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.AdvanceStage(ctx, id, types.StageFetched, storage.StageFields{RawRef: "raw.eml"}))
	require.NoError(t, store.MarkFailed(ctx, id, errors.New("model timeout")))

	rec, err := store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StageFailed, rec.Stage)
	assert.Equal(t, "model timeout", rec.Error)
	assert.Equal(t, "raw.eml", rec.RawRef, "artifact refs survive failure")

	require.NoError(t, store.RetryFailed(ctx, id))

	rec, err = store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StagePending, rec.Stage)
	assert.Empty(t, rec.Error)
	assert.Equal(t, 2, rec.Attempt)
}

func TestRetryRequiresFailedStage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "mail_abc", "src1", "tech", time.Now())
	require.NoError(t, err)

	err = store.RetryFailed(ctx, id)
	assert.True(t, types.IsInvalidTransition(err))
}

func TestSupersedeFreesDedupKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "mail_abc", "src1", "tech", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.AdvanceStage(ctx, id, types.StageFetched, storage.StageFields{}))
	require.NoError(t, store.AdvanceStage(ctx, id, types.StageExtracted, storage.StageFields{}))
	require.NoError(t, store.AdvanceStage(ctx, id, types.StagePublished, storage.StageFields{}))

	require.NoError(t, store.Supersede(ctx, id))

	// key is free again; attempt numbering continues
	newID, err := store.CreateRecord(ctx, "mail_abc", "src1", "tech", time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)

	rec, err := store.GetRecord(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempt)

	// old record remains readable
	old, err := store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, old.Superseded)

	// superseding twice is an error
	assert.Error(t, store.Supersede(ctx, id))
}

func TestBookmark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bm, err := store.Bookmark(ctx, "src1")
	require.NoError(t, err)
	assert.Nil(t, bm, "no published records means no bookmark")

	early := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	late := time.Date(2026, 8, 3, 9, 15, 0, 0, time.UTC)

	publish := func(key string, received time.Time) {
		id, err := store.CreateRecord(ctx, key, "src1", "tech", received)
		require.NoError(t, err)
		require.NoError(t, store.AdvanceStage(ctx, id, types.StageFetched, storage.StageFields{}))
		require.NoError(t, store.AdvanceStage(ctx, id, types.StageExtracted, storage.StageFields{}))
		require.NoError(t, store.AdvanceStage(ctx, id, types.StagePublished, storage.StageFields{}))
	}

	publish("mail_early", early)
	publish("mail_late", late)

	// a pending record with a later timestamp must not move the bookmark
	_, err = store.CreateRecord(ctx, "mail_pending", "src1", "tech", late.Add(48*time.Hour))
	require.NoError(t, err)

	bm, err = store.Bookmark(ctx, "src1")
	require.NoError(t, err)
	require.NotNil(t, bm)
	assert.True(t, late.Equal(*bm))

	// other sources are unaffected
	bm, err = store.Bookmark(ctx, "src2")
	require.NoError(t, err)
	assert.Nil(t, bm)
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.CreateRecord(ctx, "mail_a", "src1", "tech", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.AdvanceStage(ctx, id1, types.StageFetched, storage.StageFields{}))
	require.NoError(t, store.AdvanceStage(ctx, id1, types.StageExtracted, storage.StageFields{CostUnits: 100}))

	id2, err := store.CreateRecord(ctx, "mail_b", "src1", "tech", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, id2, errors.New("boom")))

	_, err = store.CreateRecord(ctx, "mail_c", "src1", "tech", time.Now())
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStage[types.StageExtracted])
	assert.Equal(t, 1, stats.ByStage[types.StageFailed])
	assert.Equal(t, 1, stats.ByStage[types.StagePending])
	assert.Equal(t, 3, stats.TotalRecords)
	assert.Equal(t, int64(100), stats.TotalCostUnits)
}

func TestEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateRecord(ctx, "mail_abc", "src1", "tech", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.AdvanceStage(ctx, id, types.StageFetched, storage.StageFields{RawRef: "raw.eml"}))
	require.NoError(t, store.MarkFailed(ctx, id, errors.New("boom")))
	require.NoError(t, store.RetryFailed(ctx, id))

	events, err := store.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "created", events[0].Kind)
	assert.Equal(t, "fetched", events[1].Kind)
	assert.Equal(t, "failed", events[2].Kind)
	assert.Equal(t, "boom", events[2].Detail)
	assert.Equal(t, "retry", events[3].Kind)

	for _, e := range events {
		assert.Equal(t, id, e.RecordID)
		assert.False(t, e.Timestamp.IsZero())
	}
}
