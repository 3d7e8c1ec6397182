package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazeta/internal/registry"
	"gazeta/internal/storage"
	"gazeta/internal/storage/sqlite"
	"gazeta/internal/types"
)

// fakeSource implements both the adapter and fetcher sides of a source
// from in-memory content.
type fakeSource struct {
	name       string
	candidates []types.Candidate
	raws       map[string]*types.RawContent

	fetchCalls    int
	fetchErr      map[string]error
	discoverErr   error
	consumed      []string
	markErr       error
	lastNotBefore *time.Time
}

func newFakeSource(name string) *fakeSource {
	return &fakeSource{
		name:     name,
		raws:     make(map[string]*types.RawContent),
		fetchErr: make(map[string]error),
	}
}

func (f *fakeSource) addItem(key string, receivedAt time.Time) {
	f.candidates = append(f.candidates, types.Candidate{ItemKey: key, ReceivedAt: receivedAt})
	f.raws[key] = &types.RawContent{
		ItemKey: key,
		Ref:     "raw:" + key,
		Subject: "Subject " + key,
		Sender:  "news@example.com",
		Text:    "newsletter body for " + key,
	}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Discover(ctx context.Context, address string, notBefore *time.Time, max int) ([]types.Candidate, error) {
	f.lastNotBefore = notBefore
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}

	var out []types.Candidate
	for _, c := range f.candidates {
		if len(out) >= max {
			break
		}
		if notBefore != nil && !c.ReceivedAt.After(*notBefore) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeSource) Fetch(ctx context.Context, itemKey string) (*types.RawContent, error) {
	f.fetchCalls++
	if err := f.fetchErr[itemKey]; err != nil {
		return nil, err
	}
	raw, ok := f.raws[itemKey]
	if !ok {
		return nil, fmt.Errorf("unknown item %s", itemKey)
	}
	return raw, nil
}

func (f *fakeSource) Load(ctx context.Context, ref string) (*types.RawContent, error) {
	for _, raw := range f.raws {
		if raw.Ref == ref {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("unknown ref %s", ref)
}

func (f *fakeSource) MarkConsumed(ctx context.Context, itemKey string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.consumed = append(f.consumed, itemKey)
	return nil
}

type fakeEngine struct {
	extractCalls int
	extractErr   map[string]error
	cost         int64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{extractErr: make(map[string]error), cost: 500}
}

func (f *fakeEngine) Extract(ctx context.Context, raw *types.RawContent, profile types.Profile) (*types.Extraction, error) {
	f.extractCalls++
	if err := f.extractErr[raw.ItemKey]; err != nil {
		return nil, err
	}
	return &types.Extraction{
		Result: &types.ExtractionResult{
			ExecutiveSummary: "summary of " + raw.ItemKey,
			Stories:          []types.Story{{Title: "story", Summary: "s"}},
		},
		ResultRef: "result:" + raw.ItemKey,
		Model:     "fake/model",
		CostUnits: f.cost,
	}, nil
}

func (f *fakeEngine) LoadResult(ctx context.Context, ref string) (*types.Extraction, error) {
	return &types.Extraction{
		Result:    &types.ExtractionResult{ExecutiveSummary: "loaded from " + ref},
		ResultRef: ref,
		Model:     "fake/model",
	}, nil
}

type fakePublisher struct {
	published []*types.Publication
	errOn     map[string]error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{errOn: make(map[string]error)}
}

func (f *fakePublisher) Publish(ctx context.Context, pub *types.Publication, set types.DestinationSet) ([]string, error) {
	if err := f.errOn[pub.ItemKey]; err != nil {
		return nil, err
	}
	f.published = append(f.published, pub)
	var refs []string
	for _, name := range set.Destinations {
		refs = append(refs, name+":"+pub.ItemKey)
	}
	return refs, nil
}

func newTestStore(t *testing.T) storage.StateStore {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func newTestRegistry() *registry.Registry {
	return registry.New(
		map[string]types.Profile{"tech": {Provider: "ollama", Model: "llama3"}},
		map[string]types.DestinationSet{"default": {Destinations: []string{"notion"}}},
	)
}

func testSpec(id string) types.SourceSpec {
	return types.SourceSpec{
		ID:             id,
		Name:           id,
		Address:        id + "@example.com",
		Enabled:        true,
		Profile:        "tech",
		DestinationSet: "default",
	}
}

func newTestOrchestrator(t *testing.T, store storage.StateStore, engine types.ExtractionEngine, publisher types.Publisher, sources ...*fakeSource) *Orchestrator {
	t.Helper()

	handles := make([]SourceHandle, 0, len(sources))
	for _, s := range sources {
		handles = append(handles, SourceHandle{Spec: testSpec(s.name), Adapter: s, Fetcher: s})
	}

	return NewOrchestrator(OrchestratorConfig{
		Store:      store,
		Registry:   newTestRegistry(),
		Engine:     engine,
		Publisher:  publisher,
		Sources:    handles,
		Workers:    2,
		DefaultMax: 10,
		Logger:     slog.Default(),
	})
}

func TestRunProcessesNewItems(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource("src1")
	source.addItem("mail_1", time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	source.addItem("mail_2", time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC))
	engine := newFakeEngine()
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, source)

	summary, err := o.RunPipeline(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, int64(1000), summary.CostUnits)

	rec, err := store.FindActive(context.Background(), "mail_1", "tech")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StagePublished, rec.Stage)
	assert.Equal(t, "raw:mail_1", rec.RawRef)
	assert.Equal(t, "result:mail_1", rec.ResultRef)
	assert.Equal(t, []string{"notion:mail_1"}, rec.DestinationRefs)

	assert.ElementsMatch(t, []string{"mail_1", "mail_2"}, source.consumed)
	require.Len(t, publisher.published, 2)
}

func TestSecondRunSkipsCompletedItems(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource("src1")
	source.addItem("mail_1", time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	engine := newFakeEngine()
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, source)
	ctx := context.Background()

	_, err := o.RunPipeline(ctx, types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, engine.extractCalls)

	// bookmark filters the item out at discovery
	summary, err := o.RunPipeline(ctx, types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, engine.extractCalls, "extraction must not run twice")
	require.NotNil(t, source.lastNotBefore)

	// even if discovery returns it again, the live record blocks reprocessing
	source.lastNotBefore = nil
	stale := source.candidates[0]
	source.candidates = append(source.candidates, types.Candidate{ItemKey: stale.ItemKey, ReceivedAt: stale.ReceivedAt.Add(48 * time.Hour)})
	summary, err = o.RunPipeline(ctx, types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, engine.extractCalls)
}

func TestDryRunWritesNothing(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource("src1")
	source.addItem("mail_1", time.Now().UTC())
	engine := newFakeEngine()
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, source)
	ctx := context.Background()

	summary, err := o.RunPipeline(ctx, types.RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Planned)
	assert.Equal(t, 0, summary.Processed)

	assert.Equal(t, 0, source.fetchCalls)
	assert.Equal(t, 0, engine.extractCalls)
	assert.Empty(t, publisher.published)
	assert.Empty(t, source.consumed)

	rec, err := store.FindActive(ctx, "mail_1", "tech")
	require.NoError(t, err)
	assert.Nil(t, rec, "dry run must not create records")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRecords)
}

func TestDryRunSkipsCompletedItems(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource("src1")
	source.addItem("mail_1", time.Now().UTC())
	engine := newFakeEngine()
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, source)
	ctx := context.Background()

	_, err := o.RunPipeline(ctx, types.RunOptions{})
	require.NoError(t, err)

	// force discovery to hand the completed item back
	summary, err := o.RunPipeline(ctx, types.RunOptions{DryRun: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Planned, "force dry run plans completed items")

	summary, err = o.RunPipeline(ctx, types.RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Planned)
}

func TestFailureIsolation(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource("src1")
	source.addItem("mail_bad", time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	source.addItem("mail_good", time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC))
	engine := newFakeEngine()
	engine.extractErr["mail_bad"] = errors.New("model exploded")
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, source)
	ctx := context.Background()

	summary, err := o.RunPipeline(ctx, types.RunOptions{})
	require.NoError(t, err, "one bad item must not abort the run")
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	rec, err := store.FindActive(ctx, "mail_bad", "tech")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StageFailed, rec.Stage)
	assert.Contains(t, rec.Error, "model exploded")
	assert.Equal(t, "raw:mail_bad", rec.RawRef, "fetched artifact survives the failure")
}

func TestFailedItemRetriesOnNextRun(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource("src1")
	source.addItem("mail_1", time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	engine := newFakeEngine()
	engine.extractErr["mail_1"] = errors.New("transient")
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, source)
	ctx := context.Background()

	summary, err := o.RunPipeline(ctx, types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	delete(engine.extractErr, "mail_1")

	summary, err = o.RunPipeline(ctx, types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	rec, err := store.FindActive(ctx, "mail_1", "tech")
	require.NoError(t, err)
	assert.Equal(t, types.StagePublished, rec.Stage)
	assert.Equal(t, 2, rec.Attempt)
}

func TestResumeFromIntermediateStage(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource("src1")
	received := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	source.addItem("mail_1", received)
	engine := newFakeEngine()
	publisher := newFakePublisher()

	ctx := context.Background()

	// simulate an interrupted earlier run that stopped after extraction
	id, err := store.CreateRecord(ctx, "mail_1", "src1", "tech", received)
	require.NoError(t, err)
	require.NoError(t, store.AdvanceStage(ctx, id, types.StageFetched, storage.StageFields{RawRef: "raw:mail_1"}))
	require.NoError(t, store.AdvanceStage(ctx, id, types.StageExtracted, storage.StageFields{ResultRef: "result:mail_1", CostUnits: 500}))

	o := newTestOrchestrator(t, store, engine, publisher, source)

	summary, err := o.RunPipeline(ctx, types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, source.fetchCalls, "resumed item must not refetch from the source")
	assert.Equal(t, 0, engine.extractCalls, "resumed item must not re-extract")
	assert.Equal(t, int64(0), summary.CostUnits, "no new cost incurred on resume")

	rec, err := store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StagePublished, rec.Stage)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, "Subject mail_1", publisher.published[0].Subject)
}

func TestForceReprocessesCompletedItem(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource("src1")
	source.addItem("mail_1", time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	engine := newFakeEngine()
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, source)
	ctx := context.Background()

	_, err := o.RunPipeline(ctx, types.RunOptions{})
	require.NoError(t, err)

	firstRec, err := store.FindActive(ctx, "mail_1", "tech")
	require.NoError(t, err)

	summary, err := o.RunPipeline(ctx, types.RunOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Nil(t, source.lastNotBefore, "force ignores the bookmark")

	rec, err := store.FindActive(ctx, "mail_1", "tech")
	require.NoError(t, err)
	assert.NotEqual(t, firstRec.ID, rec.ID)
	assert.Equal(t, 2, rec.Attempt)
	assert.Equal(t, types.StagePublished, rec.Stage)

	old, err := store.GetRecord(ctx, firstRec.ID)
	require.NoError(t, err)
	assert.True(t, old.Superseded)
}

func TestItemBudgetIsGlobal(t *testing.T) {
	store := newTestStore(t)
	src1 := newFakeSource("src1")
	src2 := newFakeSource("src2")
	for i := 0; i < 5; i++ {
		src1.addItem(fmt.Sprintf("mail_a%d", i), time.Date(2026, 8, 1, 9, i, 0, 0, time.UTC))
		src2.addItem(fmt.Sprintf("mail_b%d", i), time.Date(2026, 8, 1, 9, i, 0, 0, time.UTC))
	}
	engine := newFakeEngine()
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, src1, src2)

	summary, err := o.RunPipeline(context.Background(), types.RunOptions{MaxItems: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Processed+summary.Skipped+summary.Failed)
	assert.LessOrEqual(t, engine.extractCalls, 4)
}

func TestDiscoveryFailureIsContained(t *testing.T) {
	store := newTestStore(t)
	bad := newFakeSource("bad")
	bad.discoverErr = errors.New("gateway down")
	good := newFakeSource("good")
	good.addItem("mail_1", time.Now().UTC())
	engine := newFakeEngine()
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, bad, good)

	summary, err := o.RunPipeline(context.Background(), types.RunOptions{})
	require.NoError(t, err, "a broken source must not abort the run")
	assert.Equal(t, 1, summary.Processed)
}

func TestUnknownProfileIsContained(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource("src1")
	source.addItem("mail_1", time.Now().UTC())
	engine := newFakeEngine()
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, source)
	o.sources[0].Spec.Profile = "missing"

	summary, err := o.RunPipeline(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, source.fetchCalls)
}

func TestMarkConsumedFailureDoesNotFailItem(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource("src1")
	source.addItem("mail_1", time.Now().UTC())
	source.markErr = errors.New("gateway flaked")
	engine := newFakeEngine()
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, source)

	summary, err := o.RunPipeline(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)

	rec, err := store.FindActive(context.Background(), "mail_1", "tech")
	require.NoError(t, err)
	assert.Equal(t, types.StagePublished, rec.Stage)
}

// corruptStore forces an invalid transition out of the store to prove
// the run aborts instead of limping on.
type corruptStore struct {
	storage.StateStore
}

func (c *corruptStore) AdvanceStage(ctx context.Context, id int64, to types.Stage, fields storage.StageFields) error {
	return &types.InvalidTransitionError{RecordID: id, From: types.StagePublished, To: to}
}

func TestInvalidTransitionAbortsRun(t *testing.T) {
	store := &corruptStore{StateStore: newTestStore(t)}
	source := newFakeSource("src1")
	source.addItem("mail_1", time.Now().UTC())
	engine := newFakeEngine()
	publisher := newFakePublisher()

	o := newTestOrchestrator(t, store, engine, publisher, source)

	_, err := o.RunPipeline(context.Background(), types.RunOptions{})
	require.Error(t, err)
	assert.True(t, types.IsInvalidTransition(err))
}
