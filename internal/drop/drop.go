// Package drop implements the content lifecycle engine: creation,
// retrieval and reclamation of stored drops, together with the
// identifier generator, the expiry sweeper and the orphan
// reconciliation pass. Storage backends are consumed through the
// MetadataStore and BlobStore interfaces.
package drop

import "time"

// Status describes where a drop sits in its lifecycle. Transitions
// only move forward: Active -> Expired -> Deleted or Active -> Deleted.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Drop is a single stored item. The byte payload lives in the blob
// store under ObjectKey; everything else is the metadata row.
type Drop struct {
	ID          string
	ObjectKey   string
	SizeBytes   int64
	ContentType string
	Origin      string

	// OwnerTokenDigest is the SHA-256 hex digest of the secret handed
	// to the uploader at creation time. PasswordHash is a bcrypt hash,
	// empty when the drop is not password protected.
	OwnerTokenDigest string
	PasswordHash     string

	CreatedAt     time.Time
	ExpiresAt     *time.Time
	MaxDownloads  *int
	DownloadCount int
	Status        Status
}

// Policy carries the caller-supplied lifecycle parameters for a new drop.
// A zero TTL means "let the size thresholds decide"; a nil MaxDownloads
// means unlimited.
type Policy struct {
	TTL          time.Duration
	MaxDownloads *int
	Password     string
}
