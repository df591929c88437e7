package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/timeledger/internal/sanitize"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get returns the document at path. A missing document yields a snapshot
// with Exists false together with ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (Snapshot, error) {
	if _, _, err := splitDoc(path); err != nil {
		return Snapshot{}, err
	}
	snap, err := readDoc(ctx, s.db, path)
	if err != nil {
		return snap, err
	}
	if !snap.Exists {
		return snap, ErrNotFound
	}
	return snap, nil
}

// Set writes data to path, replacing the document unless Merge is given.
func (s *Store) Set(ctx context.Context, path string, data map[string]any, opts ...SetOption) error {
	w, err := newWrite(path, data, opts)
	if err != nil {
		return err
	}
	return s.apply(ctx, nil, []pendingWrite{w})
}

// Delete removes the document at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, _, err := splitDoc(path); err != nil {
		return err
	}
	snap, err := readDoc(ctx, s.db, path)
	if err != nil {
		return err
	}
	if !snap.Exists {
		return ErrNotFound
	}
	return s.apply(ctx, nil, []pendingWrite{{path: path, delete: true}})
}

// List returns every document directly inside collection, oldest first.
func (s *Store) List(ctx context.Context, collection string) ([]Snapshot, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	return listDocs(ctx, s.db, collection)
}

type pendingWrite struct {
	path   string
	data   map[string]any
	merge  bool
	delete bool
}

func newWrite(path string, data map[string]any, opts []SetOption) (pendingWrite, error) {
	if _, _, err := splitDoc(path); err != nil {
		return pendingWrite{}, err
	}
	if p, found := sanitize.FindFirstMissing(data); found {
		return pendingWrite{}, fmt.Errorf("writing %s: %w at %s", path, ErrMissingValue, p)
	}
	o := applySetOptions(opts)
	return pendingWrite{path: path, data: data, merge: o.merge}, nil
}

// apply commits writes in one SQL transaction after checking that every
// version in reads is still current, then notifies subscribers.
func (s *Store) apply(ctx context.Context, reads map[string]int64, writes []pendingWrite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer tx.Rollback()

	for path, want := range reads {
		var got int64
		err := tx.QueryRowContext(ctx, "SELECT version FROM documents WHERE path = ?", path).Scan(&got)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking version of %s: %w", path, err)
		}
		if got != want {
			return ErrConflict
		}
	}

	if len(writes) == 0 {
		return nil
	}

	var version int64
	if err := tx.QueryRowContext(ctx, "UPDATE write_clock SET value = value + 1 WHERE id = 1 RETURNING value").Scan(&version); err != nil {
		return fmt.Errorf("advancing write clock: %w", err)
	}

	now := formatTime(s.now())
	paths := make([]string, 0, len(writes))
	for _, w := range writes {
		if err := writeDoc(ctx, tx, w, version, now); err != nil {
			return err
		}
		paths = append(paths, w.path)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing writes: %w", err)
	}
	s.hub.publish(paths...)
	return nil
}

func writeDoc(ctx context.Context, tx *sql.Tx, w pendingWrite, version int64, now string) error {
	if w.delete {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE path = ?", w.path); err != nil {
			return fmt.Errorf("deleting %s: %w", w.path, err)
		}
		return nil
	}

	cur, err := readDoc(ctx, tx, w.path)
	if err != nil {
		return err
	}

	fields := w.data
	if w.merge && cur.Exists {
		fields = make(map[string]any, len(cur.Data)+len(w.data))
		for k, v := range cur.Data {
			fields[k] = v
		}
		for k, v := range w.data {
			fields[k] = v
		}
	}
	if fields == nil {
		fields = map[string]any{}
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", w.path, err)
	}

	if cur.Exists {
		_, err = tx.ExecContext(ctx,
			"UPDATE documents SET data_json = ?, version = ?, update_time = ? WHERE path = ?",
			string(body), version, now, w.path)
	} else {
		parent, _, _ := splitDoc(w.path)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (path, parent, data_json, version, create_time, update_time)
			VALUES (?, ?, ?, ?, ?, ?)`,
			w.path, parent, string(body), version, now, now)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", w.path, err)
	}
	return nil
}

func readDoc(ctx context.Context, q querier, path string) (Snapshot, error) {
	_, id, _ := splitDoc(path)
	snap := Snapshot{Path: path, ID: id}

	var body, created, updated string
	err := q.QueryRowContext(ctx,
		"SELECT data_json, version, create_time, update_time FROM documents WHERE path = ?", path,
	).Scan(&body, &snap.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := fillSnapshot(&snap, body, created, updated); err != nil {
		return snap, err
	}
	return snap, nil
}

func listDocs(ctx context.Context, q querier, collection string) ([]Snapshot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT path, data_json, version, create_time, update_time
		FROM documents WHERE parent = ? ORDER BY create_time ASC, path ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var body, created, updated string
		if err := rows.Scan(&snap.Path, &body, &snap.Version, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", collection, err)
		}
		_, snap.ID, _ = splitDoc(snap.Path)
		if err := fillSnapshot(&snap, body, created, updated); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func fillSnapshot(snap *Snapshot, body, created, updated string) error {
	if err := json.Unmarshal([]byte(body), &snap.Data); err != nil {
		return fmt.Errorf("decoding %s: %w", snap.Path, err)
	}
	if snap.Data == nil {
		snap.Data = map[string]any{}
	}
	var err error
	if snap.CreateTime, err = parseTime(created); err != nil {
		return fmt.Errorf("parsing create_time of %s: %w", snap.Path, err)
	}
	if snap.UpdateTime, err = parseTime(updated); err != nil {
		return fmt.Errorf("parsing update_time of %s: %w", snap.Path, err)
	}
	snap.Exists = true
	return nil
}
