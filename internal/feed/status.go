package feed

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/git-pkgs/feed/internal/index"
	"github.com/git-pkgs/feed/internal/metrics"
)

// SettingEnabled is the settings key holding the persisted enabled flag.
const SettingEnabled = "feed.enabled"

// SettingsStore persists small key/value settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// StatusSnapshot is the cheap view returned by GetStatus.
type StatusSnapshot struct {
	Enabled       bool       `json:"enabled"`
	Packages      int        `json:"packages"`
	Versions      int        `json:"versions"`
	Generation    uint64     `json:"generation"`
	StartedAt     time.Time  `json:"started_at"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
}

// Status is the feed's enabled flag plus counters for the status surface.
// It is created at startup and changed only through SetEnabled.
type Status struct {
	enabled     atomic.Bool
	lastIndexed atomic.Int64
	startedAt   time.Time
	index       *index.Index
	store       SettingsStore

	// mu serializes SetEnabled so the stored and in-memory flags agree.
	mu sync.Mutex
}

// NewStatus creates the status object. When store holds a persisted flag it
// overrides enabled.
func NewStatus(ctx context.Context, ix *index.Index, store SettingsStore, enabled bool) (*Status, error) {
	s := &Status{startedAt: time.Now().UTC(), index: ix, store: store}

	if store != nil {
		value, ok, err := store.GetSetting(ctx, SettingEnabled)
		if err != nil {
			return nil, fmt.Errorf("loading feed state: %w", err)
		}
		if ok {
			if b, err := strconv.ParseBool(value); err == nil {
				enabled = b
			}
		}
	}

	s.enabled.Store(enabled)
	metrics.SetFeedEnabled(enabled)
	return s, nil
}

func (s *Status) IsEnabled() bool {
	return s.enabled.Load()
}

// SetEnabled persists and applies the flag.
func (s *Status) SetEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SetSetting(ctx, SettingEnabled, strconv.FormatBool(enabled)); err != nil {
			return fmt.Errorf("saving feed state: %w", err)
		}
	}
	s.enabled.Store(enabled)
	metrics.SetFeedEnabled(enabled)
	return nil
}

// MarkIndexed records the time of the last successful ingestion.
func (s *Status) MarkIndexed(t time.Time) {
	s.lastIndexed.Store(t.UnixNano())
}

func (s *Status) GetStatus() StatusSnapshot {
	ids, versions := s.index.Len()
	snap := StatusSnapshot{
		Enabled:    s.IsEnabled(),
		Packages:   ids,
		Versions:   versions,
		Generation: s.index.Generation(),
		StartedAt:  s.startedAt,
	}
	if n := s.lastIndexed.Load(); n != 0 {
		t := time.Unix(0, n).UTC()
		snap.LastIndexedAt = &t
	}
	return snap
}
