package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 3, 1, 12, 2, 30, 0, time.UTC)
	next := s.nextTick(now)
	want := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("nextTick = %s, want %s", next, want)
	}

	onBoundary := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	next = s.nextTick(onBoundary)
	want = time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("nextTick on boundary = %s, want %s", next, want)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute}, zerolog.Nop())

	now := time.Date(2026, 3, 1, 12, 2, 30, 0, time.UTC)
	next := s.nextTick(now)
	if !next.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unaligned nextTick = %s", next)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(ctx context.Context, bucket time.Time) error { return nil })
	if err == nil {
		t.Fatal("cancelled context must stop the loop with an error")
	}
}

func TestNewPanicsOnBadInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("zero interval must panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
