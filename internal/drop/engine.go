package drop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// maxIDAttempts bounds the generate/insert retry loop. Hitting it means
// the random source is broken, not that the id space is crowded.
const maxIDAttempts = 5

// MetadataStore is the durable record of every drop. Insert, IncrementDownload
// and Delete must be linearizable per id at the store level; the engine
// holds no locks of its own.
type MetadataStore interface {
	// Insert persists a new row. Returns ErrConflict when the id is
	// already live.
	Insert(ctx context.Context, d *Drop) error

	// Get returns the drop or ErrNotFound.
	Get(ctx context.Context, id string) (*Drop, error)

	// IncrementDownload atomically bumps download_count, refusing with
	// ErrLimitExceeded when the increment would pass max_downloads.
	// Returns the post-increment drop.
	IncrementDownload(ctx context.Context, id string) (*Drop, error)

	// MarkExpired flips an active drop to expired. No-op on any other
	// state.
	MarkExpired(ctx context.Context, id string) error

	// Delete removes the row. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// ListExpired returns up to limit ids whose time expiry has passed,
	// whose status is already expired, or whose download budget is
	// spent. Restartable: each call re-evaluates against now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)

	// OriginUsage reports the live drop count and cumulative size for
	// one origin.
	OriginUsage(ctx context.Context, origin string) (count int, sizeBytes int64, err error)

	// GlobalUsage reports the cumulative live size across all origins.
	GlobalUsage(ctx context.Context) (int64, error)

	// HasObjectKey reports whether any row references the blob key.
	// Used by the reconciliation pass.
	HasObjectKey(ctx context.Context, key string) (bool, error)
}

// BlobInfo describes one stored object during reconciliation.
type BlobInfo struct {
	Key          string
	LastModified time.Time
}

// BlobStore is durable byte storage addressed by object key. Put must be
// atomic from the reader's perspective: no Get ever observes a partial
// write.
type BlobStore interface {
	// Put streams r into the store under key and returns the byte count
	// written. size may be -1 when unknown in advance.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (int64, error)

	// Get returns a stream over the object or ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List enumerates stored objects for the reconciliation pass.
	List(ctx context.Context) ([]BlobInfo, error)
}

// Threshold maps payload sizes to a lifetime: drops up to MaxSize bytes
// live at most TTL. Thresholds are ordered by increasing size and
// decreasing duration, so small drops linger and large ones go quickly.
type Threshold struct {
	MaxSize int64
	TTL     time.Duration
}

// Limits gathers the creation-side resource limits. Zero values disable
// the corresponding check.
type Limits struct {
	OriginMaxBytes int64
	OriginMaxDrops int
	GlobalMaxBytes int64
	Thresholds     []Threshold
}

// Engine orchestrates the drop lifecycle over a metadata store and a
// blob store. Safe for concurrent use; all cross-request consistency is
// delegated to the stores.
type Engine struct {
	meta   MetadataStore
	blobs  BlobStore
	gen    *Generator
	limits Limits
	now    func() time.Time
}

// NewEngine assembles an engine. gen may be nil, in which case a
// crypto/rand generator is used.
func NewEngine(meta MetadataStore, blobs BlobStore, gen *Generator, limits Limits) *Engine {
	if gen == nil {
		gen = NewGenerator()
	}
	return &Engine{
		meta:   meta,
		blobs:  blobs,
		gen:    gen,
		limits: limits,
		now:    time.Now,
	}
}

// CreateParams carries one upload into the engine. SizeHint is the
// declared payload size, -1 when unknown; the authoritative size is
// whatever the blob store actually wrote.
type CreateParams struct {
	Body        io.Reader
	ContentType string
	Origin      string
	SizeHint    int64
	Policy      Policy
}

// CreateResult is handed back to the uploader. OwnerToken is the only
// time the token is available in the clear.
type CreateResult struct {
	Drop       *Drop
	OwnerToken string
}

// Create writes the payload, then inserts metadata under a freshly
// generated id, retrying generation on id collision. The blob write
// comes first so a crash between the two steps leaves an orphaned blob
// for the reconciler rather than a metadata row pointing at nothing.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if p.Policy.MaxDownloads != nil && *p.Policy.MaxDownloads < 1 {
		return nil, fmt.Errorf("%w: max_downloads must be at least 1", ErrInvalidPolicy)
	}
	if p.Policy.TTL < 0 {
		return nil, fmt.Errorf("%w: negative ttl", ErrInvalidPolicy)
	}

	// Pre-write quota check against the declared size. Re-checked below
	// once the real size is known.
	if hint := p.SizeHint; hint > 0 {
		if err := e.checkQuota(ctx, p.Origin, hint); err != nil {
			return nil, err
		}
	}

	var passwordHash string
	if p.Policy.Password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(p.Policy.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		passwordHash = string(h)
	}

	objectKey := "drops/" + uuid.NewString()
	size, err := e.blobs.Put(ctx, objectKey, p.Body, p.SizeHint, p.ContentType)
	if err != nil {
		return nil, err
	}

	ttl, err := e.effectiveTTL(size, p.Policy.TTL)
	if err != nil {
		e.discardBlob(ctx, objectKey)
		return nil, err
	}
	if err := e.checkQuota(ctx, p.Origin, size); err != nil {
		e.discardBlob(ctx, objectKey)
		return nil, err
	}

	now := e.now().UTC()
	var expiresAt *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	ownerToken := uuid.NewString()

	d := &Drop{
		ObjectKey:        objectKey,
		SizeBytes:        size,
		ContentType:      p.ContentType,
		Origin:           p.Origin,
		OwnerTokenDigest: DigestToken(ownerToken),
		PasswordHash:     passwordHash,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
		MaxDownloads:     p.Policy.MaxDownloads,
		Status:           StatusActive,
	}

	// Conflicts are absorbed here; only the insert retries, the blob
	// written above stays valid for every attempt.
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, genErr := e.gen.Generate()
		if genErr != nil {
			e.discardBlob(ctx, objectKey)
			return nil, fmt.Errorf("%w: %v", ErrEntropyExhausted, genErr)
		}
		d.ID = id

		insErr := e.meta.Insert(ctx, d)
		if insErr == nil {
			return &CreateResult{Drop: d, OwnerToken: ownerToken}, nil
		}
		if errors.Is(insErr, ErrConflict) {
			log.Printf("service=engine msg=%q id=%s attempt=%d", "id_collision", id, attempt+1)
			continue
		}
		e.discardBlob(ctx, objectKey)
		return nil, insErr
	}

	e.discardBlob(ctx, objectKey)
	return nil, ErrEntropyExhausted
}

// Retrieve resolves the id, enforces lazy expiry and the download
// limit, and returns a stream over the payload. The count increment
// commits before streaming starts: a client that disconnects mid-stream
// has still spent one download unit.
func (e *Engine) Retrieve(ctx context.Context, id, password string) (io.ReadCloser, *Drop, error) {
	d, err := e.meta.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if IsExpired(d, e.now()) {
		if d.Status == StatusActive {
			// Best effort; the sweeper reclaims it either way.
			if markErr := e.meta.MarkExpired(ctx, id); markErr != nil {
				log.Printf("service=engine msg=%q id=%s err=%v", "mark_expired_failed", id, markErr)
			}
		}
		return nil, nil, ErrExpired
	}

	if d.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(d.PasswordHash), []byte(password)) != nil {
			return nil, nil, ErrForbidden
		}
	}

	d, err = e.meta.IncrementDownload(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rc, err := e.blobs.Get(ctx, d.ObjectKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Row without bytes: a reclaim won the race after our read.
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return rc, d, nil
}

// Revoke deletes a drop on behalf of its owner. The presented token is
// checked against the stored digest before anything is removed.
func (e *Engine) Revoke(ctx context.Context, id, ownerToken string) error {
	d, err := e.meta.Get(ctx, id)
	if err != nil {
		return err
	}
	if !TokenMatches(ownerToken, d.OwnerTokenDigest) {
		return ErrForbidden
	}
	return e.reclaim(ctx, d)
}

// Reclaim removes a drop's blob and metadata together. Idempotent: an
// already-absent id is not an error. Blob deletion goes first so a
// partial failure leaves an orphaned blob, never a dangling row.
func (e *Engine) Reclaim(ctx context.Context, id string) error {
	d, err := e.meta.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return e.reclaim(ctx, d)
}

func (e *Engine) reclaim(ctx context.Context, d *Drop) error {
	if err := e.blobs.Delete(ctx, d.ObjectKey); err != nil {
		return fmt.Errorf("deleting blob %s: %w", d.ObjectKey, err)
	}
	if err := e.meta.Delete(ctx, d.ID); err != nil {
		return fmt.Errorf("deleting metadata %s: %w", d.ID, err)
	}
	return nil
}

// effectiveTTL resolves the requested TTL against the size thresholds:
// no request takes the threshold value, a request is clamped to it.
func (e *Engine) effectiveTTL(size int64, requested time.Duration) (time.Duration, error) {
	if len(e.limits.Thresholds) == 0 {
		return requested, nil
	}
	for _, t := range e.limits.Thresholds {
		if size <= t.MaxSize {
			if requested == 0 || requested > t.TTL {
				return t.TTL, nil
			}
			return requested, nil
		}
	}
	return 0, ErrTooLarge
}

func (e *Engine) checkQuota(ctx context.Context, origin string, addBytes int64) error {
	l := e.limits
	if l.OriginMaxBytes == 0 && l.OriginMaxDrops == 0 && l.GlobalMaxBytes == 0 {
		return nil
	}

	if l.OriginMaxBytes > 0 || l.OriginMaxDrops > 0 {
		count, used, err := e.meta.OriginUsage(ctx, origin)
		if err != nil {
			return err
		}
		if l.OriginMaxDrops > 0 && count+1 > l.OriginMaxDrops {
			return fmt.Errorf("%w: origin drop count", ErrQuotaExceeded)
		}
		if l.OriginMaxBytes > 0 && used+addBytes > l.OriginMaxBytes {
			return fmt.Errorf("%w: origin size", ErrQuotaExceeded)
		}
	}

	if l.GlobalMaxBytes > 0 {
		used, err := e.meta.GlobalUsage(ctx)
		if err != nil {
			return err
		}
		if used+addBytes > l.GlobalMaxBytes {
			return fmt.Errorf("%w: global size", ErrQuotaExceeded)
		}
	}
	return nil
}

// discardBlob best-effort removes a blob written by a create that did
// not complete. Failures are tolerated; the reconciler picks the object
// up later.
func (e *Engine) discardBlob(ctx context.Context, key string) {
	if err := e.blobs.Delete(ctx, key); err != nil {
		log.Printf("service=engine msg=%q key=%s err=%v", "orphan_blob_cleanup_failed", key, err)
	}
}
