package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"gazeta/internal/storage"
	"gazeta/internal/types"
)

const recordColumns = `id, item_key, source_id, profile, received_at, stage, attempt, superseded,
	raw_ref, result_ref, destination_refs, cost_units, error, created_at, updated_at`

func (s *Store) IsKnown(ctx context.Context, itemKey, profile string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE item_key = ? AND profile = ? AND superseded = 0`,
		itemKey, profile,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return count > 0, nil
}

func (s *Store) FindActive(ctx context.Context, itemKey, profile string) (*types.Record, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE item_key = ? AND profile = ? AND superseded = 0`,
		itemKey, profile,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record for item %s: %w", itemKey, err)
	}
	return rec, nil
}

func (s *Store) GetRecord(ctx context.Context, id int64) (*types.Record, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %d: %w", id, err)
	}
	return rec, nil
}

func (s *Store) Bookmark(ctx context.Context, sourceID string) (*time.Time, error) {
	var raw sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT MAX(received_at) FROM records WHERE source_id = ? AND stage = ?`,
		sourceID, types.StagePublished,
	).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmark for source %s: %w", sourceID, err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bookmark for source %s: %w", sourceID, err)
	}
	return &t, nil
}

func (s *Store) CreateRecord(ctx context.Context, itemKey, sourceID, profile string, receivedAt time.Time) (int64, error) {
	now := formatTime(time.Now())

	// Attempt numbering continues from any superseded attempts for the
	// same dedup key.
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO records (item_key, source_id, profile, received_at, stage, attempt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?,
			COALESCE((SELECT MAX(attempt) FROM records WHERE item_key = ? AND profile = ?), 0) + 1,
			?, ?)
	`, itemKey, sourceID, profile, formatTime(receivedAt), types.StagePending, itemKey, profile, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, &types.DuplicateKeyError{ItemKey: itemKey, Profile: profile}
		}
		return 0, fmt.Errorf("failed to create record for item %s: %w", itemKey, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new record id: %w", err)
	}

	if err := s.appendEvent(ctx, s.conn, id, "created", fmt.Sprintf("item %s from source %s", itemKey, sourceID)); err != nil {
		return 0, err
	}

	return id, nil
}

func (s *Store) AdvanceStage(ctx context.Context, id int64, to types.Stage, fields storage.StageFields) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current types.Stage
	err = tx.QueryRowContext(ctx, `SELECT stage FROM records WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read current stage of record %d: %w", id, err)
	}

	if to == types.StageFailed || !types.CanTransition(current, to) {
		// MarkFailed owns the failure edge; AdvanceStage only moves forward.
		return &types.InvalidTransitionError{RecordID: id, From: current, To: to}
	}

	now := formatTime(time.Now())
	detail := ""

	switch to {
	case types.StageFetched:
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET stage = ?, raw_ref = ?, error = '', updated_at = ? WHERE id = ?`,
			to, fields.RawRef, now, id)
		detail = fields.RawRef
	case types.StageExtracted:
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET stage = ?, result_ref = ?, cost_units = ?, error = '', updated_at = ? WHERE id = ?`,
			to, fields.ResultRef, fields.CostUnits, now, id)
		detail = fmt.Sprintf("cost_units=%d", fields.CostUnits)
	case types.StagePublished:
		refs, jsonErr := json.Marshal(fields.DestinationRefs)
		if jsonErr != nil {
			return fmt.Errorf("failed to encode destination refs: %w", jsonErr)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET stage = ?, destination_refs = ?, error = '', updated_at = ? WHERE id = ?`,
			to, string(refs), now, id)
		detail = string(refs)
	default:
		return &types.InvalidTransitionError{RecordID: id, From: current, To: to}
	}
	if err != nil {
		return fmt.Errorf("failed to advance record %d to %s: %w", id, to, err)
	}

	if err := s.appendEvent(ctx, tx, id, string(to), detail); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stage advance: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE records SET stage = ?, error = ?, updated_at = ? WHERE id = ?`,
		types.StageFailed, msg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark record %d failed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrRecordNotFound
	}

	if err := s.appendEvent(ctx, tx, id, string(types.StageFailed), msg); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure mark: %w", err)
	}
	return nil
}

func (s *Store) RetryFailed(ctx context.Context, id int64) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current types.Stage
	err = tx.QueryRowContext(ctx, `SELECT stage FROM records WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read current stage of record %d: %w", id, err)
	}

	if current != types.StageFailed {
		return &types.InvalidTransitionError{RecordID: id, From: current, To: types.StagePending}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE records SET stage = ?, error = '', attempt = attempt + 1, updated_at = ? WHERE id = ?`,
		types.StagePending, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to retry record %d: %w", id, err)
	}

	if err := s.appendEvent(ctx, tx, id, "retry", "failed record reset to pending"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit retry: %w", err)
	}
	return nil
}

func (s *Store) Supersede(ctx context.Context, id int64) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE records SET superseded = 1, updated_at = ? WHERE id = ? AND superseded = 0`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to supersede record %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrRecordNotFound
	}

	if err := s.appendEvent(ctx, tx, id, "superseded", "forced reprocess requested"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit supersede: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (*types.Stats, error) {
	stats := &types.Stats{ByStage: make(map[types.Stage]int)}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT stage, COUNT(*) FROM records WHERE superseded = 0 GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stage types.Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stage count: %w", err)
		}
		stats.ByStage[stage] = count
		stats.TotalRecords += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stage counts: %w", err)
	}

	var total sql.NullInt64
	err = s.conn.QueryRowContext(ctx,
		`SELECT SUM(cost_units) FROM records WHERE superseded = 0`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to sum cost units: %w", err)
	}
	if total.Valid {
		stats.TotalCostUnits = total.Int64
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.Record, error) {
	var rec types.Record
	var receivedAt, createdAt, updatedAt, destRefs string
	var superseded int

	err := row.Scan(
		&rec.ID, &rec.ItemKey, &rec.SourceID, &rec.Profile, &receivedAt,
		&rec.Stage, &rec.Attempt, &superseded,
		&rec.RawRef, &rec.ResultRef, &destRefs, &rec.CostUnits, &rec.Error,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Superseded = superseded != 0

	if rec.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, fmt.Errorf("bad received_at on record %d: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at on record %d: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("bad updated_at on record %d: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(destRefs), &rec.DestinationRefs); err != nil {
		return nil, fmt.Errorf("bad destination_refs on record %d: %w", rec.ID, err)
	}

	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
