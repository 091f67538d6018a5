package db

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by single-row reads with no match.
	ErrNotFound = errors.New("not found")
	// ErrConsistency means stored data contradicts what the node reports for the same key.
	// It is never resolved automatically.
	ErrConsistency = errors.New("consistency fault")
	// ErrStorage wraps failures of the storage engine itself (connection, disk).
	ErrStorage = errors.New("storage failure")
)

// StorageError tags err as ErrStorage unless it comes from context cancellation,
// which callers treat as an aborted run rather than an engine fault.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, ErrStorage) || errors.Is(err, ErrConsistency) || errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// ConsistencyError describes a conflicting row.
type ConsistencyError struct {
	Entity   string
	Key      string
	Stored   string
	Incoming string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s %s: stored %q, incoming %q", e.Entity, e.Key, e.Stored, e.Incoming)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }
