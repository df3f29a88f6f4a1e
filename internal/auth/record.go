// Package auth implements the login gate: failed-attempt tracking with
// exponential backoff and timed lockouts, password verification, and
// session issue.
package auth

import "time"

// Lockout policy constants. The delay doubles with each failure, from
// BaseDelay up to DelayCap, and MaxAttempts consecutive failures lock the
// identity out for LockoutDuration.
const (
	MaxAttempts     = 5
	LockoutDuration = 15 * time.Minute
	BaseDelay       = time.Second
	DelayCap        = 16 * time.Second
)

// AttemptRecord tracks login failures for one client identity.
type AttemptRecord struct {
	Count         int
	LastAttemptAt time.Time
	LockedUntil   time.Time // zero when not locked
}

// Locked reports whether the record is locked at the given time.
func (r *AttemptRecord) Locked(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}

// AttemptStore persists per-identity failure history. Implementations must
// lazily evict expired lockouts on Get (an expired record reads as absent)
// and must serialize the read-modify-write in UpsertFailure so concurrent
// failures for one identity never lose an increment.
type AttemptStore interface {
	// Get returns the record for identity, or false if none exists.
	Get(identity string) (*AttemptRecord, bool)
	// UpsertFailure records one failure: it increments the count, stamps the
	// attempt time, and sets the lockout deadline on the failure that first
	// reaches MaxAttempts. Returns the updated record.
	UpsertFailure(identity string) *AttemptRecord
	// Clear removes all state for identity.
	Clear(identity string)

	Close() error
}
