package types

import (
	"errors"
	"fmt"
)

// ConfigError means one source's configuration cannot be resolved.
// It is fatal for that source only; the run continues for others.
type ConfigError struct {
	Source string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("source %s: configuration error: %s", e.Source, e.Reason)
}

func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// DuplicateKeyError means a live record for (item_key, profile) already
// exists. Callers treat it as "already being handled" and skip.
type DuplicateKeyError struct {
	ItemKey string
	Profile string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("record for item %s under profile %s already exists", e.ItemKey, e.Profile)
}

func IsDuplicateKey(err error) bool {
	var e *DuplicateKeyError
	return errors.As(err, &e)
}

// InvalidTransitionError means a stage advance violated the stage
// graph. It indicates a bug and aborts the run.
type InvalidTransitionError struct {
	RecordID int64
	From     Stage
	To       Stage
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("record %d: invalid stage transition %s -> %s", e.RecordID, e.From, e.To)
}

func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

// UnknownProfileError means a source names an extraction profile that
// is not in the registry.
type UnknownProfileError struct {
	Name string
}

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("unknown extraction profile: %s", e.Name)
}

func IsUnknownProfile(err error) bool {
	var e *UnknownProfileError
	return errors.As(err, &e)
}

// UnknownDestinationSetError means a source names a destination set
// that is not in the registry.
type UnknownDestinationSetError struct {
	Name string
}

func (e *UnknownDestinationSetError) Error() string {
	return fmt.Sprintf("unknown destination set: %s", e.Name)
}

func IsUnknownDestinationSet(err error) bool {
	var e *UnknownDestinationSetError
	return errors.As(err, &e)
}

// ErrRecordNotFound is returned by store lookups for missing record IDs.
var ErrRecordNotFound = errors.New("record not found")
