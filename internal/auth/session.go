package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMissingPassword indicates a login request with no secret. This never
// touches the rate guard: malformed input is not a failed attempt.
var ErrMissingPassword = errors.New("password is required")

// LoginResult is the outcome of one login attempt.
type LoginResult struct {
	OK        bool
	Token     string    // opaque session identifier, set on success
	ExpiresAt time.Time // end of the session validity window

	// Denial details. Locked marks an attempt rejected up front because the
	// identity was already locked out; a failure that itself triggers the
	// lockout is still a credential denial, with RetryAfter set and zero
	// attempts remaining.
	Locked            bool
	RetryAfter        time.Duration
	AttemptsRemaining int
}

// LoginSession orchestrates one login call: consult the guard, apply the
// backoff delay, verify the secret, and update the guard with the outcome.
type LoginSession struct {
	guard  *RateGuard
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	verifier PasswordVerifier

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// SessionOption configures a LoginSession.
type SessionOption func(*LoginSession)

// WithClock sets the time source. Used in tests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *LoginSession) { s.now = now }
}

// WithSleeper sets the function used for the backoff suspension. Used in
// tests to observe delays without waiting them out.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) SessionOption {
	return func(s *LoginSession) { s.sleep = sleep }
}

// NewLoginSession creates a session gate with the given guard and verifier.
// ttl is the validity window for issued session credentials.
func NewLoginSession(guard *RateGuard, verifier PasswordVerifier, ttl time.Duration, logger *zap.Logger, opts ...SessionOption) *LoginSession {
	s := &LoginSession{
		guard:    guard,
		verifier: verifier,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetVerifier swaps the password verifier. Called when the configured
// credential is reloaded.
func (s *LoginSession) SetVerifier(v PasswordVerifier) {
	s.mu.Lock()
	s.verifier = v
	s.mu.Unlock()
}

// Login runs one attempt for identity. A missing password returns
// ErrMissingPassword without consuming an attempt; a lockout returns a
// denial without consuming an attempt; otherwise the backoff delay is
// applied, the secret verified, and the guard updated with the outcome.
// A context error from the delay aborts the attempt.
func (s *LoginSession) Login(ctx context.Context, identity, password string) (*LoginResult, error) {
	if password == "" {
		return nil, ErrMissingPassword
	}

	if s.guard.IsBlocked(identity) {
		remaining := s.guard.RemainingLockout(identity)
		s.logger.Warn("login rejected, identity locked",
			zap.String("identity", identity),
			zap.Duration("remaining", remaining))
		return &LoginResult{Locked: true, RetryAfter: remaining}, nil
	}

	// Stall every attempt while a failure history exists, including the
	// one about to succeed.
	if err := s.sleep(ctx, s.guard.DelayFor(identity)); err != nil {
		return nil, err
	}

	if !s.verify(password) {
		rec := s.guard.OnFailure(identity)
		if rec.Count >= MaxAttempts {
			return &LoginResult{RetryAfter: LockoutDuration}, nil
		}
		remaining := MaxAttempts - rec.Count
		s.logger.Warn("login denied",
			zap.String("identity", identity),
			zap.Int("attempts_remaining", remaining))
		return &LoginResult{AttemptsRemaining: remaining}, nil
	}

	s.guard.OnSuccess(identity)
	token := uuid.NewString()
	s.logger.Info("login succeeded",
		zap.String("identity", identity),
		zap.String("session", token))
	return &LoginResult{OK: true, Token: token, ExpiresAt: s.now().Add(s.ttl)}, nil
}

// verify runs the verifier, treating a panic as a failed check so a broken
// verifier cannot crash the login path or let an attempt through.
func (s *LoginSession) verify(candidate string) (ok bool) {
	s.mu.RLock()
	v := s.verifier
	s.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("password verifier panicked", zap.Any("panic", r))
			ok = false
		}
	}()
	return v.Verify(candidate)
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
