package drop_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"dropbin/internal/drop"
)

func TestReconcileRemovesAgedOrphans(t *testing.T) {
	e, _, blobs := newTestEngine(drop.Limits{})
	ctx := context.Background()

	// Referenced blob, created through the normal path. Backdated past
	// the grace window so only its metadata row protects it.
	res := create(t, e, "kept", drop.Policy{})
	blobs.SetModified(res.Drop.ObjectKey, time.Now().Add(-2*time.Hour))

	// Orphan old enough to be past the grace window.
	if _, err := blobs.Put(ctx, "drops/orphan-old", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatalf("seeding orphan: %v", err)
	}
	blobs.SetModified("drops/orphan-old", time.Now().Add(-2*time.Hour))

	// Fresh orphan, could be an in-flight upload; must be left alone.
	if _, err := blobs.Put(ctx, "drops/orphan-new", strings.NewReader("y"), 1, ""); err != nil {
		t.Fatalf("seeding orphan: %v", err)
	}

	removed, err := e.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if blobs.Len() != 2 {
		t.Fatalf("blobs = %d, want 2", blobs.Len())
	}
	rc, _, err := e.Retrieve(ctx, res.Drop.ID, "")
	if err != nil {
		t.Fatalf("referenced drop unreadable after reconcile: %v", err)
	}
	rc.Close()
}
