package storage

import (
	"context"
	"time"

	"gazeta/internal/types"
)

// StageFields carries the stage-specific columns written alongside a
// stage advance. Only the fields relevant to the target stage are read.
type StageFields struct {
	RawRef          string
	ResultRef       string
	CostUnits       int64
	DestinationRefs []string
}

// StateStore is the durable table of item records plus the append-only
// event log. Every write is a single atomic transition; the store never
// holds locks across collaborator calls.
type StateStore interface {
	// IsKnown reports whether a live record exists for the dedup key.
	IsKnown(ctx context.Context, itemKey, profile string) (bool, error)

	// FindActive returns the live record for the dedup key, or nil.
	FindActive(ctx context.Context, itemKey, profile string) (*types.Record, error)

	// Bookmark returns the max received_at among published records for
	// the source, or nil if none exist.
	Bookmark(ctx context.Context, sourceID string) (*time.Time, error)

	// CreateRecord inserts a new pending record. Returns a
	// DuplicateKeyError when a live record already holds the dedup key.
	CreateRecord(ctx context.Context, itemKey, sourceID, profile string, receivedAt time.Time) (int64, error)

	GetRecord(ctx context.Context, id int64) (*types.Record, error)

	// AdvanceStage moves a record one step along the stage graph,
	// writing the stage's fields and an event in one transaction.
	// Returns an InvalidTransitionError when the move is not a direct
	// successor of the current stage.
	AdvanceStage(ctx context.Context, id int64, to types.Stage, fields StageFields) error

	// MarkFailed records a failure. Prior artifact references are kept
	// for inspection.
	MarkFailed(ctx context.Context, id int64, cause error) error

	// RetryFailed moves a failed record back to pending, clears its
	// error and bumps the attempt counter.
	RetryFailed(ctx context.Context, id int64) error

	// Supersede tombstones a live record so a forced reattempt can
	// claim the dedup key. The record and its events remain readable.
	Supersede(ctx context.Context, id int64) error

	Stats(ctx context.Context) (*types.Stats, error)

	Events(ctx context.Context, recordID int64) ([]types.Event, error)

	Close(ctx context.Context) error
}
