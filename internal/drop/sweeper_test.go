package drop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dropbin/internal/drop"
)

func TestSweeperReclaimsExpiredAndExhausted(t *testing.T) {
	e, meta, blobs := newTestEngine(drop.Limits{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	past := time.Now().Add(-time.Hour)
	seedDrop(t, meta, blobs, &drop.Drop{
		ID:        "timed-out",
		ObjectKey: "drops/timed-out",
		SizeBytes: 1,
		ExpiresAt: &past,
		Status:    drop.StatusActive,
	}, "a")

	limit := 2
	seedDrop(t, meta, blobs, &drop.Drop{
		ID:            "spent",
		ObjectKey:     "drops/spent",
		SizeBytes:     1,
		MaxDownloads:  &limit,
		DownloadCount: 2,
		Status:        drop.StatusActive,
	}, "b")

	// Still live, must survive the sweep.
	seedDrop(t, meta, blobs, &drop.Drop{
		ID:        "healthy",
		ObjectKey: "drops/healthy",
		SizeBytes: 1,
		Status:    drop.StatusActive,
	}, "c")

	s := drop.NewSweeper(e, drop.SweeperConfig{Enabled: true, Interval: 10 * time.Millisecond})
	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for meta.Len() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	s.Wait()

	if meta.Len() != 1 {
		t.Fatalf("metadata rows = %d, want 1", meta.Len())
	}
	if blobs.Len() != 1 {
		t.Fatalf("blobs = %d, want 1", blobs.Len())
	}
	if _, err := meta.Get(context.Background(), "healthy"); err != nil {
		t.Errorf("healthy drop was reclaimed: %v", err)
	}
	if _, err := meta.Get(context.Background(), "timed-out"); !errors.Is(err, drop.ErrNotFound) {
		t.Errorf("timed-out drop still present")
	}
	if _, err := meta.Get(context.Background(), "spent"); !errors.Is(err, drop.ErrNotFound) {
		t.Errorf("download-exhausted drop still present")
	}
}

func TestSweeperDisabled(t *testing.T) {
	e, _, _ := newTestEngine(drop.Limits{})

	s := drop.NewSweeper(e, drop.SweeperConfig{Enabled: false})
	s.Start(context.Background())

	// Must return immediately; a hang here fails the test by timeout.
	s.Wait()
}
