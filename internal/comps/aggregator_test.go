package comps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"flipwatch/internal/config"
)

type fakeCompStore struct {
	lastRun    *time.Time
	rebuilds   int
	lastWindow int
	lastKeep   int
	rebuildErr error
}

func (f *fakeCompStore) LatestCompComputedAt(ctx context.Context) (*time.Time, error) {
	return f.lastRun, nil
}

func (f *fakeCompStore) RebuildComps(ctx context.Context, windowDays, keepPerKey int) (int64, error) {
	if f.rebuildErr != nil {
		return 0, f.rebuildErr
	}
	f.rebuilds++
	f.lastWindow = windowDays
	f.lastKeep = keepPerKey
	return 12, nil
}

func testCompsConfig() config.CompsConfig {
	return config.CompsConfig{
		WindowDays:  30,
		MinInterval: 6 * time.Hour,
		KeepPerKey:  60,
	}
}

func TestRecomputeIfDueFreshSnapshotSkips(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Hour)
	store := &fakeCompStore{lastRun: &recent}
	agg := New(store, testCompsConfig(), zerolog.Nop())

	result, err := agg.RecomputeIfDue(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ran {
		t.Fatal("fresh snapshot must not be rebuilt")
	}
	if store.rebuilds != 0 {
		t.Fatalf("rebuild should not have run, ran %d times", store.rebuilds)
	}
}

func TestRecomputeIfDueStaleSnapshotRebuilds(t *testing.T) {
	stale := time.Now().UTC().Add(-7 * time.Hour)
	store := &fakeCompStore{lastRun: &stale}
	agg := New(store, testCompsConfig(), zerolog.Nop())

	result, err := agg.RecomputeIfDue(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Ran {
		t.Fatal("stale snapshot must be rebuilt")
	}
	if result.Rows != 12 {
		t.Fatalf("rows = %d, want 12", result.Rows)
	}
	if store.lastWindow != 30 || store.lastKeep != 60 {
		t.Fatalf("rebuild args = (%d, %d), want (30, 60)", store.lastWindow, store.lastKeep)
	}
}

func TestRecomputeIfDueNeverRanRebuilds(t *testing.T) {
	store := &fakeCompStore{}
	agg := New(store, testCompsConfig(), zerolog.Nop())

	result, err := agg.RecomputeIfDue(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Ran {
		t.Fatal("empty comps table must trigger a rebuild")
	}
}

func TestRecomputeIfDueForceBypassesRateLimit(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Minute)
	store := &fakeCompStore{lastRun: &recent}
	agg := New(store, testCompsConfig(), zerolog.Nop())

	result, err := agg.RecomputeIfDue(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Ran {
		t.Fatal("force must bypass the minimum interval")
	}
}

func TestRecomputeWindowOverride(t *testing.T) {
	store := &fakeCompStore{}
	agg := New(store, testCompsConfig(), zerolog.Nop())

	result, err := agg.Recompute(context.Background(), 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.WindowDays != 90 || store.lastWindow != 90 {
		t.Fatalf("window override not applied: result %d, store %d", result.WindowDays, store.lastWindow)
	}

	if _, err := agg.Recompute(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.lastWindow != 30 {
		t.Fatalf("zero override must fall back to config window, got %d", store.lastWindow)
	}
}

func TestRecomputeForcedTwiceIssuesIdenticalRebuilds(t *testing.T) {
	store := &fakeCompStore{}
	agg := New(store, testCompsConfig(), zerolog.Nop())

	first, err := agg.RecomputeIfDue(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstWindow, firstKeep := store.lastWindow, store.lastKeep

	second, err := agg.RecomputeIfDue(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The rebuild is a full replace driven only by (window, keep), so
	// back-to-back forced runs over unchanged history must issue the
	// same statement with the same arguments.
	if store.lastWindow != firstWindow || store.lastKeep != firstKeep {
		t.Fatalf("rebuild args changed between runs: (%d, %d) then (%d, %d)",
			firstWindow, firstKeep, store.lastWindow, store.lastKeep)
	}
	if !first.Ran || !second.Ran {
		t.Fatal("both forced runs must rebuild")
	}
	if store.rebuilds != 2 {
		t.Fatalf("expected 2 rebuilds, got %d", store.rebuilds)
	}
}

func TestRecomputeFailurePropagates(t *testing.T) {
	store := &fakeCompStore{rebuildErr: errors.New("boom")}
	agg := New(store, testCompsConfig(), zerolog.Nop())

	if _, err := agg.RecomputeIfDue(context.Background(), true); err == nil {
		t.Fatal("rebuild failure must propagate")
	}
}
