package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
	"github.com/JonMunkholm/stockfeed/internal/overrides"
	"github.com/JonMunkholm/stockfeed/internal/source"
)

// RefreshTimeout bounds one refresh including every fetch strategy.
var RefreshTimeout = 2 * time.Minute

// Fetcher retrieves the raw sheet text.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID string) (source.Result, error)
}

// Observer receives refresh lifecycle events, typically for metrics.
type Observer interface {
	ObserveRefresh(trigger string, err error, elapsed time.Duration)
	ObserveParse(res inventory.Result, elapsed time.Duration)
	ObserveCommit(records int, at time.Time)
}

type noopObserver struct{}

func (noopObserver) ObserveRefresh(string, error, time.Duration)  {}
func (noopObserver) ObserveParse(inventory.Result, time.Duration) {}
func (noopObserver) ObserveCommit(int, time.Time)                 {}

// ServiceConfig holds the refresh settings.
type ServiceConfig struct {
	SourceID      string
	Columns       inventory.Mapping // letters from configuration
	PollInterval  time.Duration
	MaxConcurrent int
	MaxWait       time.Duration
}

// Service runs the refresh cycle and serves the current inventory with
// overrides applied.
type Service struct {
	cfg       ServiceConfig
	fetcher   Fetcher
	overrides overrides.Store
	store     *Store
	limiter   *FetchLimiter
	observer  Observer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithObserver reports refresh events to o.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithStore replaces the default empty store.
func WithStore(st *Store) ServiceOption {
	return func(s *Service) { s.store = st }
}

// NewService creates a Service.
func NewService(cfg ServiceConfig, fetcher Fetcher, ovs overrides.Store, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:       cfg,
		fetcher:   fetcher,
		overrides: ovs,
		store:     NewStore(),
		limiter:   NewFetchLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		observer:  noopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the snapshot store.
func (s *Service) Store() *Store { return s.store }

// Overrides returns the override store.
func (s *Service) Overrides() overrides.Store { return s.overrides }

// LimiterStatus reports the refresh slots in use.
func (s *Service) LimiterStatus() FetchLimiterStatus { return s.limiter.Status() }

// WaitForRefreshes blocks until in-flight refreshes finish or ctx is done.
func (s *Service) WaitForRefreshes(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Refresh fetches the sheet, parses it with the effective column mapping
// and commits the result. On any failure the previous snapshot stays in
// place. A refresh overtaken by a later one returns ErrStaleSnapshot.
func (s *Service) Refresh(ctx context.Context, trigger string) (*Snapshot, error) {
	start := time.Now()
	snap, err := s.refresh(ctx, trigger)
	s.observer.ObserveRefresh(trigger, err, time.Since(start))

	logger := slog.With("trigger", trigger, "duration_ms", time.Since(start).Milliseconds())
	switch {
	case err == nil:
		logger.Info("inventory refreshed",
			"snapshot_id", snap.ID,
			"seq", snap.Seq,
			"strategy", snap.Strategy,
			"records", len(snap.Records),
			"rows", snap.Rows,
		)
	case errors.Is(err, ErrStaleSnapshot):
		logger.Info("discarded stale refresh")
	default:
		logger.Error("inventory refresh failed", "error", err)
	}
	return snap, err
}

func (s *Service) refresh(ctx context.Context, trigger string) (*Snapshot, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, RefreshTimeout)
	defer cancel()

	seq := s.store.Begin()

	res, err := s.fetcher.Fetch(ctx, s.cfg.SourceID)
	if err != nil {
		return nil, fmt.Errorf("fetch inventory: %w", err)
	}

	return s.commitText(ctx, seq, trigger, res)
}

// Seed commits text that was obtained outside the refresh cycle, such as
// a cached copy at startup.
func (s *Service) Seed(ctx context.Context, res source.Result) (*Snapshot, error) {
	snap, err := s.commitText(ctx, s.store.Begin(), TriggerCache, res)
	if err == nil {
		slog.Info("inventory seeded", "snapshot_id", snap.ID, "records", len(snap.Records))
	}
	return snap, err
}

// Reparse re-runs the pipeline over the current snapshot text, used after
// the column mapping changes. The result replaces the current snapshot under
// its own sequence, so a refresh already fetching still commits afterwards.
func (s *Service) Reparse(ctx context.Context) (*Snapshot, error) {
	for attempt := 0; attempt < maxReparseAttempts; attempt++ {
		cur, err := s.store.Current()
		if err != nil {
			return nil, err
		}
		next := s.parse(ctx, TriggerRemap, source.Result{
			Text:     cur.text,
			Strategy: cur.Strategy,
			Bytes:    cur.Bytes,
		})
		snap, err := s.store.Replace(cur, next)
		if errors.Is(err, ErrStaleSnapshot) {
			// a refresh committed meanwhile; parse its text instead
			continue
		}
		if err != nil {
			return nil, err
		}
		s.observer.ObserveCommit(len(snap.Records), snap.FetchedAt)
		return snap, nil
	}
	return nil, ErrStaleSnapshot
}

const maxReparseAttempts = 3

func (s *Service) commitText(ctx context.Context, seq uint64, trigger string, res source.Result) (*Snapshot, error) {
	snap, err := s.store.Commit(seq, s.parse(ctx, trigger, res))
	if err != nil {
		return nil, err
	}
	s.observer.ObserveCommit(len(snap.Records), snap.FetchedAt)
	return snap, nil
}

// parse runs the pipeline over res with the effective column mapping.
func (s *Service) parse(ctx context.Context, trigger string, res source.Result) Snapshot {
	mapping, err := s.ColumnMapping(ctx)
	if err != nil {
		slog.Warn("load column mapping failed; using configured letters", "error", err)
		mapping = inventory.Mapping{}.Merge(s.cfg.Columns)
	}

	parseStart := time.Now()
	parsed := inventory.Parse(res.Text, mapping)
	s.observer.ObserveParse(parsed, time.Since(parseStart))

	return Snapshot{
		Trigger:  trigger,
		Strategy: res.Strategy,
		Bytes:    res.Bytes,
		Header:   parsed.Header,
		Columns:  parsed.Columns,
		Rows:     parsed.Rows,
		Filtered: parsed.Filtered,
		Records:  parsed.Records,
		Stats:    inventory.ComputeStats(parsed.Records),
		text:     res.Text,
	}
}

// ColumnMapping returns the configured letters overlaid by stored ones.
func (s *Service) ColumnMapping(ctx context.Context) (inventory.Mapping, error) {
	base := inventory.Mapping{}.Merge(s.cfg.Columns)
	if s.overrides == nil {
		return base, nil
	}
	stored, err := s.overrides.LoadColumnMapping(ctx)
	if err != nil {
		return base, fmt.Errorf("load column mapping: %w", err)
	}
	return base.Merge(stored), nil
}

// SaveColumnMapping stores the letters and re-parses the current snapshot
// so the change shows up without waiting for the next poll.
func (s *Service) SaveColumnMapping(ctx context.Context, m inventory.Mapping, updatedBy string) (inventory.Mapping, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := s.overrides.SaveColumnMapping(ctx, m, updatedBy); err != nil {
		return nil, err
	}

	if _, err := s.Reparse(ctx); err != nil && !errors.Is(err, ErrNoSnapshot) {
		slog.Warn("reparse after column change failed", "error", err)
	}
	return s.ColumnMapping(ctx)
}

// View is the inventory as shown to users.
type View struct {
	Snapshot *Snapshot
	Records  []inventory.Record
	Stats    inventory.Stats
}

// Inventory returns the current records with overrides applied and stats
// computed over the redacted rows, so hidden prices and quantities stay out
// of the totals. With includeHidden the raw pipeline
// records are returned unmodified.
func (s *Service) Inventory(ctx context.Context, includeHidden bool) (View, error) {
	snap, err := s.store.Current()
	if err != nil {
		return View{}, err
	}
	if includeHidden || s.overrides == nil {
		return View{Snapshot: snap, Records: snap.Records, Stats: snap.Stats}, nil
	}

	ovs, err := s.overrides.List(ctx)
	if err != nil {
		return View{}, fmt.Errorf("list overrides: %w", err)
	}
	idx := overrides.Index(ovs)
	records := overrides.Redact(overrides.Visible(snap.Records, idx), idx)

	return View{
		Snapshot: snap,
		Records:  records,
		Stats:    inventory.ComputeStats(records),
	}, nil
}
