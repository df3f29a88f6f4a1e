package auth

import (
	"time"

	"go.uber.org/zap"
)

// RateGuard decides whether a login attempt is permitted now and how long
// to stall it. It owns no state of its own; everything lives in the
// AttemptStore so the backing can be swapped.
type RateGuard struct {
	store  AttemptStore
	logger *zap.Logger
	now    func() time.Time // for testing
}

// NewRateGuard creates a guard over the given store.
func NewRateGuard(store AttemptStore, logger *zap.Logger) *RateGuard {
	return &RateGuard{store: store, logger: logger, now: time.Now}
}

// IsBlocked reports whether identity is currently locked out. Discovering
// an expired lockout evicts the record via the store's lazy cleanup.
func (g *RateGuard) IsBlocked(identity string) bool {
	rec, ok := g.store.Get(identity)
	return ok && rec.Locked(g.now())
}

// RemainingLockout returns how long the current lockout has left, or zero
// when identity is not locked.
func (g *RateGuard) RemainingLockout(identity string) time.Duration {
	rec, ok := g.store.Get(identity)
	if !ok || rec.LockedUntil.IsZero() {
		return 0
	}
	remaining := rec.LockedUntil.Sub(g.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DelayFor returns the backoff to apply before verifying an attempt:
// zero with no failure history, otherwise BaseDelay doubled per failure and
// capped at DelayCap. The delay applies to every attempt while a history
// exists, including the one that will succeed.
func (g *RateGuard) DelayFor(identity string) time.Duration {
	rec, ok := g.store.Get(identity)
	if !ok || rec.Count == 0 {
		return 0
	}
	if rec.Count > 10 {
		// shifting further would overflow; the cap applies long before this
		return DelayCap
	}
	delay := BaseDelay << uint(rec.Count-1)
	if delay > DelayCap {
		return DelayCap
	}
	return delay
}

// OnSuccess clears all failure history for identity.
func (g *RateGuard) OnSuccess(identity string) {
	g.store.Clear(identity)
}

// OnFailure records a failed attempt and returns the updated record.
func (g *RateGuard) OnFailure(identity string) *AttemptRecord {
	rec := g.store.UpsertFailure(identity)
	if !rec.LockedUntil.IsZero() {
		g.logger.Warn("identity locked out",
			zap.String("identity", identity),
			zap.Int("failures", rec.Count),
			zap.Time("locked_until", rec.LockedUntil))
	}
	return rec
}
