package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/timeledger/internal/sanitize"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var ctx = context.Background()

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := s1.Set(ctx, "users/u1", map[string]any{"n": 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}

	snap, err := s2.Get(ctx, "users/u1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if snap.Data["n"] != float64(1) {
		t.Errorf("n = %v, want 1", snap.Data["n"])
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", "idx_documents_parent").Scan(&count)
	if err != nil {
		t.Fatalf("querying index: %v", err)
	}
	if count != 1 {
		t.Errorf("index idx_documents_parent not found")
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)

	snap, err := s.Get(ctx, "users/u1/days/2025-01-02/review/main")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if snap.Exists {
		t.Error("snapshot should not exist")
	}
	if snap.ID != "main" {
		t.Errorf("ID = %q, want main", snap.ID)
	}
}

func TestInvalidPaths(t *testing.T) {
	s := openTestStore(t)

	for _, p := range []string{"", "users", "users/u1/days", "users//x", "/users/u1"} {
		if _, err := s.Get(ctx, p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Get(%q) err = %v, want ErrInvalidPath", p, err)
		}
	}
	if _, err := s.List(ctx, "users/u1"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("List on a document path err = %v, want ErrInvalidPath", err)
	}
}

func TestSetAndGet(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	s := openTestStore(t, WithClock(func() time.Time { return now }))

	path := Doc("users", "u1", "days", "2025-03-04", "plan", "main")
	err := s.Set(ctx, path, map[string]any{
		"note": "hello",
		"top3": []any{map[string]any{"text": "a", "done": true}},
	})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	snap, err := s.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !snap.Exists || snap.Data["note"] != "hello" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !snap.CreateTime.Equal(now) || !snap.UpdateTime.Equal(now) {
		t.Errorf("times = %v / %v, want %v", snap.CreateTime, snap.UpdateTime, now)
	}

	var decoded struct {
		Note string `json:"note"`
		Top3 []struct {
			Text string `json:"text"`
			Done bool   `json:"done"`
		} `json:"top3"`
	}
	if err := snap.DataTo(&decoded); err != nil {
		t.Fatalf("DataTo: %v", err)
	}
	if decoded.Note != "hello" || len(decoded.Top3) != 1 || !decoded.Top3[0].Done {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestSet_ReplaceVersusMerge(t *testing.T) {
	s := openTestStore(t)
	path := "users/u1"

	if err := s.Set(ctx, path, map[string]any{"a": 1, "b": map[string]any{"x": 1, "y": 2}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, path, map[string]any{"b": map[string]any{"x": 9}}, Merge()); err != nil {
		t.Fatalf("Set merge: %v", err)
	}

	snap, _ := s.Get(ctx, path)
	if snap.Data["a"] != float64(1) {
		t.Errorf("merge dropped a: %v", snap.Data)
	}
	b := snap.Data["b"].(map[string]any)
	if _, ok := b["y"]; ok {
		t.Errorf("named top-level field should be replaced whole, got %v", b)
	}

	if err := s.Set(ctx, path, map[string]any{"c": true}); err != nil {
		t.Fatalf("Set replace: %v", err)
	}
	snap, _ = s.Get(ctx, path)
	if len(snap.Data) != 1 || snap.Data["c"] != true {
		t.Errorf("replace should drop old fields, got %v", snap.Data)
	}
}

func TestSet_RejectsMissingMarker(t *testing.T) {
	s := openTestStore(t)

	err := s.Set(ctx, "users/u1", map[string]any{"a": map[string]any{"b": sanitize.Missing}})
	if !errors.Is(err, ErrMissingValue) {
		t.Fatalf("err = %v, want ErrMissingValue", err)
	}
	if _, err := s.Get(ctx, "users/u1"); !errors.Is(err, ErrNotFound) {
		t.Error("rejected payload must not be written")
	}
}

func TestVersionsNeverReused(t *testing.T) {
	s := openTestStore(t)
	path := "users/u1"

	s.Set(ctx, path, map[string]any{"n": 1})
	first, _ := s.Get(ctx, path)
	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	s.Set(ctx, path, map[string]any{"n": 1})
	second, _ := s.Get(ctx, path)

	if second.Version <= first.Version {
		t.Errorf("version after recreate = %d, want > %d", second.Version, first.Version)
	}
}

func TestDelete_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.Delete(ctx, "users/nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := openTestStore(t, WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))

	col := Collection("users", "u1", "days", "2025-01-01", "entries")
	for i := range 3 {
		if err := s.Set(ctx, col+"/"+fmt.Sprintf("e%d", 3-i), map[string]any{"i": i}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	// Nested and sibling documents are not part of the listing.
	s.Set(ctx, col+"/e1/notes/n1", map[string]any{})
	s.Set(ctx, "users/u1/days/2025-01-01/plan/main", map[string]any{})

	snaps, err := s.List(ctx, col)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("got %d docs, want 3", len(snaps))
	}
	for i, want := range []string{"e3", "e2", "e1"} {
		if snaps[i].ID != want {
			t.Errorf("snaps[%d].ID = %q, want %q (creation order)", i, snaps[i].ID, want)
		}
	}
}

func TestRunTransaction_Commits(t *testing.T) {
	s := openTestStore(t)
	path := "counters/c1"

	err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		snap, err := tx.Get(ctx, path)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if snap.Exists {
			t.Fatal("document should not exist yet")
		}
		return tx.Set(path, map[string]any{"n": 1})
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}

	snap, err := s.Get(ctx, path)
	if err != nil || snap.Data["n"] != float64(1) {
		t.Fatalf("after commit: %+v, %v", snap, err)
	}
}

func TestRunTransaction_BodyErrorAborts(t *testing.T) {
	s := openTestStore(t)
	boom := errors.New("boom")
	calls := 0

	err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		calls++
		tx.Set("counters/c1", map[string]any{"n": 1})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("body ran %d times, want 1", calls)
	}
	if _, err := s.Get(ctx, "counters/c1"); !errors.Is(err, ErrNotFound) {
		t.Error("aborted transaction must not write")
	}
}

func TestRunTransaction_RetriesOnConflict(t *testing.T) {
	s := openTestStore(t)
	path := "counters/c1"
	s.Set(ctx, path, map[string]any{"n": 0})

	calls := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		calls++
		snap, err := tx.Get(ctx, path)
		if err != nil {
			return err
		}
		if calls == 1 {
			// A concurrent writer commits between our read and our commit.
			if err := s.Set(ctx, path, map[string]any{"n": 100}); err != nil {
				t.Fatalf("interleaved Set: %v", err)
			}
		}
		n := snap.Data["n"].(float64)
		return tx.Set(path, map[string]any{"n": n + 1})
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if calls != 2 {
		t.Errorf("body ran %d times, want 2", calls)
	}

	snap, _ := s.Get(ctx, path)
	if snap.Data["n"] != float64(101) {
		t.Errorf("n = %v, want 101 (second attempt must see the concurrent write)", snap.Data["n"])
	}
}

func TestRunTransaction_GivesUp(t *testing.T) {
	s := openTestStore(t)
	path := "counters/c1"
	s.Set(ctx, path, map[string]any{"n": 0})

	calls := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		calls++
		if _, err := tx.Get(ctx, path); err != nil {
			return err
		}
		s.Set(ctx, path, map[string]any{"n": calls})
		return tx.Set(path, map[string]any{"n": -1})
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if calls != maxTxAttempts {
		t.Errorf("body ran %d times, want %d", calls, maxTxAttempts)
	}
}

func TestRunTransaction_ReadAfterWrite(t *testing.T) {
	s := openTestStore(t)
	err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		tx.Set("a/b", map[string]any{})
		_, err := tx.Get(ctx, "a/c")
		return err
	})
	if !errors.Is(err, ErrReadAfterWrite) {
		t.Fatalf("err = %v, want ErrReadAfterWrite", err)
	}
}

func TestRunTransaction_ConcurrentIncrements(t *testing.T) {
	s := openTestStore(t)
	path := "counters/c1"
	s.Set(ctx, path, map[string]any{"n": 0})

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
				snap, err := tx.Get(ctx, path)
				if err != nil {
					return err
				}
				return tx.Set(path, map[string]any{"n": snap.Data["n"].(float64) + 1})
			})
		}()
	}
	wg.Wait()
	close(errs)

	committed := 0
	for err := range errs {
		if err == nil {
			committed++
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snap, _ := s.Get(ctx, path)
	if got := int(snap.Data["n"].(float64)); got != committed {
		t.Errorf("n = %d, want %d (one increment per committed transaction)", got, committed)
	}
}

func TestWatch_DeliversFullSnapshots(t *testing.T) {
	s := openTestStore(t)
	path := "users/u1/days/2025-01-01/review/main"

	got := make(chan Snapshot, 8)
	stop := s.Watch(ctx, path, func(snap Snapshot, err error) {
		if err != nil {
			t.Errorf("watch error: %v", err)
			return
		}
		got <- snap
	})
	defer stop()

	first := recvSnapshot(t, got)
	if first.Exists {
		t.Fatal("initial snapshot should report a missing document")
	}

	s.Set(ctx, path, map[string]any{"reflection": "one"})
	if snap := recvSnapshot(t, got); snap.Data["reflection"] != "one" {
		t.Errorf("reflection = %v, want one", snap.Data["reflection"])
	}

	// Unrelated writes do not trigger an emission.
	s.Set(ctx, "users/u1/days/2025-01-01/plan/main", map[string]any{})

	s.Set(ctx, path, map[string]any{"computed": map[string]any{"totalMinutes": 5}}, Merge())
	snap := recvSnapshot(t, got)
	if snap.Data["reflection"] != "one" || snap.Data["computed"] == nil {
		t.Errorf("expected full merged document, got %v", snap.Data)
	}

	s.Delete(ctx, path)
	if snap := recvSnapshot(t, got); snap.Exists {
		t.Error("expected a non-existent snapshot after delete")
	}
}

func TestWatch_StopEndsDelivery(t *testing.T) {
	s := openTestStore(t)
	path := "users/u1"

	var mu sync.Mutex
	calls := 0
	stop := s.Watch(ctx, path, func(Snapshot, error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	stop()
	stop()

	s.Set(ctx, path, map[string]any{"a": 1})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls > 1 {
		t.Errorf("got %d calls after stop, want at most the initial one", calls)
	}
}

func TestWatch_Polling(t *testing.T) {
	dir := t.TempDir()
	watcher, err := Open(dir, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer watcher.Close()
	writer, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer writer.Close()

	got := make(chan Snapshot, 8)
	stop := watcher.Watch(ctx, "users/u1", func(snap Snapshot, err error) {
		if err == nil {
			got <- snap
		}
	})
	defer stop()
	recvSnapshot(t, got)

	// The write goes through another Store, so only polling can observe it.
	writer.Set(ctx, "users/u1", map[string]any{"name": "x"})
	if snap := recvSnapshot(t, got); snap.Data["name"] != "x" {
		t.Errorf("name = %v, want x", snap.Data["name"])
	}
}

func TestWatchCollection(t *testing.T) {
	s := openTestStore(t)
	col := "users/u1/days/2025-01-01/entries"

	got := make(chan []Snapshot, 8)
	stop := s.WatchCollection(ctx, col, func(snaps []Snapshot, err error) {
		if err != nil {
			t.Errorf("watch error: %v", err)
			return
		}
		got <- snaps
	})
	defer stop()

	if snaps := recvList(t, got); len(snaps) != 0 {
		t.Fatalf("initial listing has %d docs, want 0", len(snaps))
	}

	s.Set(ctx, col+"/e1", map[string]any{"text": "a"})
	if snaps := recvList(t, got); len(snaps) != 1 {
		t.Fatalf("got %d docs, want 1", len(snaps))
	}

	s.Set(ctx, col+"/e2", map[string]any{"text": "b"})
	if snaps := recvList(t, got); len(snaps) != 2 {
		t.Fatalf("got %d docs, want 2", len(snaps))
	}

	s.Delete(ctx, col+"/e1")
	snaps := recvList(t, got)
	if len(snaps) != 1 || snaps[0].ID != "e2" {
		t.Fatalf("after delete got %+v", snaps)
	}
}

func recvSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func recvList(t *testing.T, ch <-chan []Snapshot) []Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for listing")
		return nil
	}
}
