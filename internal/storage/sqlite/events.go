package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gazeta/internal/types"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) appendEvent(ctx context.Context, db execer, recordID int64, kind, detail string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO events (record_id, timestamp, kind, detail) VALUES (?, ?, ?, ?)`,
		recordID, formatTime(time.Now()), kind, detail)
	if err != nil {
		return fmt.Errorf("failed to append %s event for record %d: %w", kind, recordID, err)
	}
	return nil
}

func (s *Store) Events(ctx context.Context, recordID int64) ([]types.Event, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, record_id, timestamp, kind, detail FROM events WHERE record_id = ? ORDER BY id ASC`,
		recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for record %d: %w", recordID, err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var ev types.Event
		var ts string
		if err := rows.Scan(&ev.ID, &ev.RecordID, &ts, &ev.Kind, &ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("bad timestamp on event %d: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}
