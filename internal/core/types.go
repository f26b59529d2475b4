package core

import (
	"time"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
)

// Refresh triggers, used in logs and metrics.
const (
	TriggerStartup = "startup"
	TriggerPoll    = "poll"
	TriggerManual  = "manual"
	TriggerCache   = "cache"
	TriggerRemap   = "remap"
)

// Snapshot is one committed parse of the sheet. A snapshot is immutable
// once committed; callers that need to adjust records must Clone them.
type Snapshot struct {
	ID        string
	Seq       uint64
	Revision  uint64 // bumped on every publish, including remaps
	FetchedAt time.Time
	Trigger   string
	Strategy  string
	Bytes     int64
	Header    []string
	Columns   inventory.ColumnMap
	Rows      int
	Filtered  map[inventory.FilterReason]int
	Records   []inventory.Record
	Stats     inventory.Stats

	// text is the sheet as fetched, kept so a column change can be
	// re-parsed without another round trip.
	text string
}

// Info summarizes the snapshot without its records.
func (s *Snapshot) Info() SnapshotInfo {
	filtered := make(map[string]int, len(s.Filtered))
	for reason, n := range s.Filtered {
		filtered[string(reason)] = n
	}
	return SnapshotInfo{
		ID:        s.ID,
		Seq:       s.Seq,
		Revision:  s.Revision,
		FetchedAt: s.FetchedAt,
		Trigger:   s.Trigger,
		Strategy:  s.Strategy,
		Bytes:     s.Bytes,
		Rows:      s.Rows,
		Records:   len(s.Records),
		Filtered:  filtered,
		Header:    s.Header,
		Columns:   s.Columns.Letters(),
	}
}

// SnapshotInfo is the metadata view sent to subscribers and /api/snapshot.
type SnapshotInfo struct {
	ID        string            `json:"id"`
	Seq       uint64            `json:"seq"`
	Revision  uint64            `json:"revision"`
	FetchedAt time.Time         `json:"fetched_at"`
	Trigger   string            `json:"trigger"`
	Strategy  string            `json:"strategy"`
	Bytes     int64             `json:"bytes"`
	Rows      int               `json:"rows"`
	Records   int               `json:"records"`
	Filtered  map[string]int    `json:"filtered"`
	Header    []string          `json:"header"`
	Columns   map[string]string `json:"columns"`
}
