package core

// store.go owns the current inventory snapshot.
//
// Every refresh takes a sequence number with Begin before it starts
// fetching and hands it back to Commit with the parsed result. Commit only
// replaces the snapshot when the sequence is newer than the committed one,
// so a slow response that started earlier can never overwrite data that
// was fetched later. The whole collection is swapped in one step; readers
// see either the old or the new snapshot, never a mix.
//
// A column remap re-derives records from text that is already committed.
// It goes through Replace, which keeps the snapshot's sequence so refreshes
// still in flight are not made stale by it. Every publish bumps Revision,
// which is what subscribers key on.

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
	"github.com/google/uuid"
)

// ErrStaleSnapshot is returned by Commit when a newer snapshot is already
// committed.
var ErrStaleSnapshot = errors.New("stale snapshot: a newer refresh already committed")

// ErrNoSnapshot is returned when nothing has been committed yet.
var ErrNoSnapshot = errors.New("inventory not loaded yet")

// subscriberBuffer is how many commits a slow subscriber may lag behind
// before updates are dropped for it.
const subscriberBuffer = 4

// Store holds the latest committed snapshot.
type Store struct {
	seq atomic.Uint64

	mu       sync.RWMutex
	current  *Snapshot
	revision uint64

	subMu sync.Mutex
	subs  map[chan SnapshotInfo]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		subs: make(map[chan SnapshotInfo]struct{}),
	}
}

// Begin reserves the next sequence number for a refresh.
func (s *Store) Begin() uint64 {
	return s.seq.Add(1)
}

// Commit publishes snap under seq. It fails with ErrStaleSnapshot when a
// snapshot with an equal or higher sequence is already committed. Missing
// ID and FetchedAt are filled in.
func (s *Store) Commit(seq uint64, snap Snapshot) (*Snapshot, error) {
	snap.Seq = seq
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	if snap.Records == nil {
		snap.Records = []inventory.Record{}
	}

	s.mu.Lock()
	if s.current != nil && seq <= s.current.Seq {
		s.mu.Unlock()
		return nil, ErrStaleSnapshot
	}
	s.revision++
	snap.Revision = s.revision
	committed := &snap
	s.current = committed
	s.mu.Unlock()

	s.broadcast(committed.Info())
	return committed, nil
}

// Replace publishes snap in place of base under base's sequence and fetch
// time. It fails with ErrStaleSnapshot when base is no longer current.
func (s *Store) Replace(base *Snapshot, snap Snapshot) (*Snapshot, error) {
	snap.Seq = base.Seq
	snap.FetchedAt = base.FetchedAt
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.Records == nil {
		snap.Records = []inventory.Record{}
	}

	s.mu.Lock()
	if s.current != base {
		s.mu.Unlock()
		return nil, ErrStaleSnapshot
	}
	s.revision++
	snap.Revision = s.revision
	replaced := &snap
	s.current = replaced
	s.mu.Unlock()

	s.broadcast(replaced.Info())
	return replaced, nil
}

// Current returns the committed snapshot, or ErrNoSnapshot.
func (s *Store) Current() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoSnapshot
	}
	return s.current, nil
}

// Subscribe returns a channel that receives every future commit.
func (s *Store) Subscribe() chan SnapshotInfo {
	ch := make(chan SnapshotInfo, subscriberBuffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (s *Store) Unsubscribe(ch chan SnapshotInfo) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (s *Store) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

func (s *Store) broadcast(info SnapshotInfo) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- info:
		default:
		}
	}
}
