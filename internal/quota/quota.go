// Package quota tracks how full the archive's object-store bucket is
// relative to an operator-configured byte quota, caching the expensive
// full-bucket enumeration so every ingestion decision doesn't re-walk the
// bucket.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Unknown is returned by UsedRatio when no quota is configured, or when the
// very first enumeration has not yet succeeded.
const Unknown = -1.0

// CacheTTL is how long a successful enumeration result is reused before the
// next UsedRatio call re-enumerates the bucket.
const CacheTTL = 5 * time.Minute

// Enumerator sums the size of every object in the bucket. Implemented by
// objstore.Client.List aggregation at the call site to keep this package
// free of a direct object-store dependency.
type Enumerator func(ctx context.Context) (int64, error)

// Tracker computes used_ratio against a configured quota, caching the last
// successful enumeration so scrape-frequency calls don't hit the object
// store on every read.
type Tracker struct {
	quotaBytes int64
	enumerate  Enumerator
	now        func() time.Time

	mu          sync.Mutex
	lastRatio   float64
	lastFetched time.Time
	hasValue    bool
}

// NewTracker builds a Tracker. quotaBytes of 0 means no quota is configured
// and UsedRatio always returns Unknown without calling enumerate.
func NewTracker(quotaBytes int64, enumerate Enumerator) *Tracker {
	return &Tracker{
		quotaBytes: quotaBytes,
		enumerate:  enumerate,
		now:        time.Now,
	}
}

// UsedRatio returns the fraction of quota in use, in [0, 1], or Unknown when
// no quota is configured or enumeration has never succeeded. On enumeration
// failure the last known value is reused; the error is swallowed because a
// transient listing failure should not flap the gauge or pause ingestion.
func (t *Tracker) UsedRatio(ctx context.Context) float64 {
	if t.quotaBytes <= 0 {
		return Unknown
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasValue && t.now().Sub(t.lastFetched) < CacheTTL {
		return t.lastRatio
	}

	total, err := t.enumerate(ctx)
	if err != nil {
		if t.hasValue {
			return t.lastRatio
		}
		return Unknown
	}

	ratio := float64(total) / float64(t.quotaBytes)
	if ratio > 1 {
		ratio = 1
	}
	t.lastRatio = ratio
	t.lastFetched = t.now()
	t.hasValue = true
	return ratio
}

// Paused reports whether ingestion should be paused: ratio >= 1.0 with a
// quota actually configured. An unknown ratio never pauses ingestion.
func (t *Tracker) Paused(ctx context.Context) bool {
	ratio := t.UsedRatio(ctx)
	return ratio != Unknown && ratio >= 1.0
}

// FormatRatio renders a used_ratio value for admin-facing status output.
func FormatRatio(ratio float64) string {
	if ratio == Unknown {
		return "unknown"
	}
	return fmt.Sprintf("%.1f%%", ratio*100)
}
