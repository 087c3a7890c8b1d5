package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/git-pkgs/feed/internal/index"
	"github.com/git-pkgs/feed/internal/nuget"
)

type memorySettings struct {
	values map[string]string
	err    error
}

func (m *memorySettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memorySettings) SetSetting(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func TestStatusEnable(t *testing.T) {
	ctx := context.Background()
	store := &memorySettings{values: map[string]string{}}

	s, err := NewStatus(ctx, index.New(), store, true)
	if err != nil {
		t.Fatalf("NewStatus failed: %v", err)
	}
	if !s.IsEnabled() {
		t.Error("expected enabled by default")
	}

	if err := s.SetEnabled(ctx, false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	if s.IsEnabled() {
		t.Error("expected disabled")
	}
	if store.values[SettingEnabled] != "false" {
		t.Errorf("persisted value = %q", store.values[SettingEnabled])
	}

	restored, err := NewStatus(ctx, index.New(), store, true)
	if err != nil {
		t.Fatalf("NewStatus failed: %v", err)
	}
	if restored.IsEnabled() {
		t.Error("persisted flag should override default")
	}
}

func TestStatusSetEnabledError(t *testing.T) {
	ctx := context.Background()
	store := &memorySettings{values: map[string]string{}, err: errors.New("disk full")}

	s, _ := NewStatus(ctx, index.New(), store, true)
	if err := s.SetEnabled(ctx, false); err == nil {
		t.Fatal("expected error")
	}
	if !s.IsEnabled() {
		t.Error("flag changed despite persistence failure")
	}
}

func TestGetStatus(t *testing.T) {
	ix := index.New()
	_, _ = ix.Insert(nuget.Package{ID: "Foo", Version: "1.0.0"})
	_, _ = ix.Insert(nuget.Package{ID: "Foo", Version: "2.0.0"})
	_, _ = ix.Insert(nuget.Package{ID: "Bar", Version: "1.0.0"})

	s, _ := NewStatus(context.Background(), ix, nil, true)
	snap := s.GetStatus()
	if snap.Packages != 2 || snap.Versions != 3 {
		t.Errorf("counts = %d/%d", snap.Packages, snap.Versions)
	}
	if snap.LastIndexedAt != nil {
		t.Error("LastIndexedAt should be unset")
	}

	now := time.Now()
	s.MarkIndexed(now)
	snap = s.GetStatus()
	if snap.LastIndexedAt == nil || !snap.LastIndexedAt.Equal(now) {
		t.Errorf("LastIndexedAt = %v", snap.LastIndexedAt)
	}
}
