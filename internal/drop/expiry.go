package drop

import "time"

// IsExpired is the lazy-expiry predicate: a pure function of the clock
// and the drop's metadata, evaluated on every retrieval and by the
// sweeper. A drop already marked expired stays expired regardless of
// its timestamps.
func IsExpired(d *Drop, now time.Time) bool {
	if d.Status == StatusExpired {
		return true
	}
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}
