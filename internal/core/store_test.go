package core

import (
	"errors"
	"testing"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
)

func TestStore_CurrentBeforeCommit(t *testing.T) {
	s := NewStore()
	if _, err := s.Current(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Current() error = %v, want ErrNoSnapshot", err)
	}
}

func TestStore_CommitFillsDefaults(t *testing.T) {
	s := NewStore()
	snap, err := s.Commit(s.Begin(), Snapshot{Trigger: TriggerManual})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if snap.ID == "" {
		t.Error("ID not filled")
	}
	if snap.FetchedAt.IsZero() {
		t.Error("FetchedAt not filled")
	}
	if snap.Records == nil {
		t.Error("Records should be an empty slice, not nil")
	}

	cur, err := s.Current()
	if err != nil || cur != snap {
		t.Errorf("Current() = %v, %v; want committed snapshot", cur, err)
	}
}

func TestStore_StaleCommitRejected(t *testing.T) {
	s := NewStore()
	early := s.Begin()
	late := s.Begin()

	if _, err := s.Commit(late, Snapshot{Strategy: "late"}); err != nil {
		t.Fatalf("late Commit() error = %v", err)
	}
	if _, err := s.Commit(early, Snapshot{Strategy: "early"}); !errors.Is(err, ErrStaleSnapshot) {
		t.Errorf("early Commit() error = %v, want ErrStaleSnapshot", err)
	}

	cur, _ := s.Current()
	if cur.Strategy != "late" {
		t.Errorf("current strategy = %q, want late", cur.Strategy)
	}
}

func TestStore_SameSeqTwice(t *testing.T) {
	s := NewStore()
	seq := s.Begin()
	if _, err := s.Commit(seq, Snapshot{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Commit(seq, Snapshot{}); !errors.Is(err, ErrStaleSnapshot) {
		t.Errorf("second Commit() error = %v, want ErrStaleSnapshot", err)
	}
}

func TestStore_Replace(t *testing.T) {
	tests := []struct {
		name    string
		advance bool // commit a newer refresh before replacing
		wantErr error
	}{
		{name: "current base keeps its sequence"},
		{name: "superseded base is stale", advance: true, wantErr: ErrStaleSnapshot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			pending := s.Begin()
			base, err := s.Commit(s.Begin(), Snapshot{Trigger: TriggerManual})
			if err != nil {
				t.Fatal(err)
			}
			newer := s.Begin()
			if tt.advance {
				if _, err := s.Commit(newer, Snapshot{Trigger: TriggerPoll}); err != nil {
					t.Fatal(err)
				}
			}

			got, err := s.Replace(base, Snapshot{Trigger: TriggerRemap})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Replace() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if got.Seq != base.Seq || !got.FetchedAt.Equal(base.FetchedAt) {
				t.Errorf("seq/fetched = %d/%v, want %d/%v", got.Seq, got.FetchedAt, base.Seq, base.FetchedAt)
			}
			if got.Revision <= base.Revision || got.ID == base.ID {
				t.Errorf("revision/id not advanced: %+v", got.Info())
			}
			if _, err := s.Commit(pending, Snapshot{}); !errors.Is(err, ErrStaleSnapshot) {
				t.Errorf("older Commit() error = %v, want ErrStaleSnapshot", err)
			}
			if _, err := s.Commit(newer, Snapshot{}); err != nil {
				t.Errorf("newer Commit() after Replace error = %v", err)
			}
		})
	}
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore()
	ch := s.Subscribe()
	if s.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", s.SubscriberCount())
	}

	_, err := s.Commit(s.Begin(), Snapshot{
		Rows:     3,
		Records:  []inventory.Record{{ID: "a"}, {ID: "b"}},
		Filtered: map[inventory.FilterReason]int{inventory.ReasonEmpty: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	info := <-ch
	if info.Records != 2 || info.Rows != 3 {
		t.Errorf("info = %+v, want 2 records from 3 rows", info)
	}
	if info.Filtered[string(inventory.ReasonEmpty)] != 1 {
		t.Errorf("info.Filtered = %v", info.Filtered)
	}

	s.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	// second unsubscribe is a no-op
	s.Unsubscribe(ch)
	if s.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", s.SubscriberCount())
	}
}

func TestStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewStore()
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	for i := 0; i < subscriberBuffer+3; i++ {
		if _, err := s.Commit(s.Begin(), Snapshot{}); err != nil {
			t.Fatal(err)
		}
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
}
