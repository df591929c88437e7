package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// maxTxAttempts bounds how many times RunTransaction re-runs its body
// after a conflicting commit.
const maxTxAttempts = 5

// Tx collects the reads and buffered writes of one transaction attempt.
// Writes become visible only when the transaction commits.
type Tx struct {
	store  *Store
	reads  map[string]int64
	writes []pendingWrite
}

// Get reads the document at path and records its version. Like Store.Get
// it returns ErrNotFound with a non-existent snapshot for absent documents.
func (tx *Tx) Get(ctx context.Context, path string) (Snapshot, error) {
	if len(tx.writes) > 0 {
		return Snapshot{}, ErrReadAfterWrite
	}
	if _, _, err := splitDoc(path); err != nil {
		return Snapshot{}, err
	}
	snap, err := readDoc(ctx, tx.store.db, path)
	if err != nil {
		return snap, err
	}
	if prev, seen := tx.reads[path]; seen && prev != snap.Version {
		return snap, ErrConflict
	}
	tx.reads[path] = snap.Version
	if !snap.Exists {
		return snap, ErrNotFound
	}
	return snap, nil
}

// Set buffers a write of data to path.
func (tx *Tx) Set(path string, data map[string]any, opts ...SetOption) error {
	w, err := newWrite(path, data, opts)
	if err != nil {
		return err
	}
	tx.writes = append(tx.writes, w)
	return nil
}

// Delete buffers removal of the document at path.
func (tx *Tx) Delete(path string) error {
	if _, _, err := splitDoc(path); err != nil {
		return err
	}
	tx.writes = append(tx.writes, pendingWrite{path: path, delete: true})
	return nil
}

// RunTransaction runs fn and commits its writes atomically if nothing it
// read has changed in the meantime. On a conflict fn runs again against
// fresh state, so it must not have side effects outside tx. An error from
// fn aborts the transaction and is returned unchanged.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &Tx{store: s, reads: make(map[string]int64)}
		err := fn(ctx, tx)
		if errors.Is(err, ErrConflict) {
			slog.Debug("transaction read conflict, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return err
		}

		err = s.apply(ctx, tx.reads, tx.writes)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		slog.Debug("transaction commit conflict, retrying", "attempt", attempt)
	}
	return fmt.Errorf("transaction aborted after %d attempts: %w", maxTxAttempts, ErrConflict)
}
