package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// hub fans out change notifications to subscribers. A notification only
// says "something you watch changed"; subscribers re-read full state, so
// coalescing pending notifications loses nothing.
type hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	match func(path string) bool
	ch    chan struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

func (h *hub) publish(paths ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		for _, p := range paths {
			if !sub.match(p) {
				continue
			}
			select {
			case sub.ch <- struct{}{}:
			default:
			}
			break
		}
	}
}

// subscribe registers match until ctx is done.
func (h *hub) subscribe(ctx context.Context, match func(string) bool) <-chan struct{} {
	sub := &subscriber{match: match, ch: make(chan struct{}, 1)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}()

	return sub.ch
}

// Watch calls fn with the current snapshot of the document at path and
// again after every change to it, until ctx is done or stop is called.
// Each call carries the full document (Exists false when absent), never a
// delta. Read failures are reported through fn and watching continues.
// fn runs on a single goroutine; stop waits for it and must not be called
// from inside fn.
func (s *Store) Watch(ctx context.Context, path string, fn func(Snapshot, error)) (stop func()) {
	if _, _, err := splitDoc(path); err != nil {
		fn(Snapshot{}, err)
		return func() {}
	}

	var last *Snapshot
	return s.watch(ctx, func(p string) bool { return p == path }, func(ctx context.Context) {
		snap, err := readDoc(ctx, s.db, path)
		if err != nil {
			if ctx.Err() == nil {
				fn(Snapshot{}, err)
			}
			return
		}
		if last != nil && last.Exists == snap.Exists && last.Version == snap.Version {
			return
		}
		last = &snap
		fn(snap, nil)
	})
}

// WatchCollection is Watch for every document directly inside collection.
func (s *Store) WatchCollection(ctx context.Context, collection string, fn func([]Snapshot, error)) (stop func()) {
	if err := validCollection(collection); err != nil {
		fn(nil, err)
		return func() {}
	}

	prefix := collection + "/"
	lastSig := ""
	first := true
	return s.watch(ctx, func(p string) bool {
		return strings.HasPrefix(p, prefix) && !strings.Contains(p[len(prefix):], "/")
	}, func(ctx context.Context) {
		snaps, err := listDocs(ctx, s.db, collection)
		if err != nil {
			if ctx.Err() == nil {
				fn(nil, err)
			}
			return
		}
		sig := signature(snaps)
		if !first && sig == lastSig {
			return
		}
		first = false
		lastSig = sig
		fn(snaps, nil)
	})
}

func (s *Store) watch(parent context.Context, match func(string) bool, emit func(context.Context)) func() {
	ctx, cancel := context.WithCancel(parent)
	changes := s.hub.subscribe(ctx, match)
	done := make(chan struct{})

	go func() {
		defer close(done)

		var tick <-chan time.Time
		if s.poll > 0 {
			t := time.NewTicker(s.poll)
			defer t.Stop()
			tick = t.C
		}

		emit(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
			case <-tick:
			}
			if ctx.Err() != nil {
				return
			}
			emit(ctx)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func signature(snaps []Snapshot) string {
	var b strings.Builder
	for _, s := range snaps {
		fmt.Fprintf(&b, "%s@%d;", s.Path, s.Version)
	}
	return b.String()
}
