package drop

import (
	"context"
	"log"
	"time"
)

// reconcileGrace protects in-flight uploads: a blob younger than this is
// never treated as orphaned, its metadata insert may simply not have
// committed yet.
const reconcileGrace = time.Hour

// Reconcile is the out-of-band integrity sweep: it enumerates stored
// blobs, drops any object no metadata row references once it is older
// than the grace window, and returns the number removed. Orphans only
// appear when a create failed between the blob write and the metadata
// insert and its cleanup also failed, so this runs far less often than
// the expiry sweep.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	blobs, err := e.blobs.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := e.now().Add(-reconcileGrace)
	removed := 0

	for _, b := range blobs {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if b.LastModified.After(cutoff) {
			continue
		}

		referenced, err := e.meta.HasObjectKey(ctx, b.Key)
		if err != nil {
			return removed, err
		}
		if referenced {
			continue
		}

		if err := e.blobs.Delete(ctx, b.Key); err != nil {
			log.Printf("service=reconcile msg=%q key=%s err=%v", "delete_failed", b.Key, err)
			continue
		}
		log.Printf("service=reconcile msg=%q key=%s", "orphan_removed", b.Key)
		removed++
	}

	return removed, nil
}
