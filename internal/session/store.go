// Package session owns the API-key credential and the identity it resolves
// to. It is the single source of truth the poller consults at apply time.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dyluth/geowatch/internal/kvstore"
	"github.com/dyluth/geowatch/internal/logger"
	"github.com/dyluth/geowatch/internal/metrics"
	"github.com/dyluth/geowatch/pkg/tracking"
	"go.uber.org/zap"
)

// ErrSuperseded is returned when the session changed while an identity
// request was in flight. The response was discarded.
var ErrSuperseded = errors.New("session changed while identity request was in flight")

// State is the lifecycle phase of a session.
type State string

const (
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// Session is an immutable view of the store at one instant.
type Session struct {
	State    State
	APIKey   string
	Identity *tracking.Identity
	// Loading is set while a login or refresh is in flight. A refresh keeps
	// State and Identity from before so the view does not flicker.
	Loading bool
	Err     error
	Epoch   uint64
}

// IsAuthenticated reports whether the session may issue authenticated calls.
func (s Session) IsAuthenticated() bool {
	return s.State == StateAuthenticated && s.APIKey != "" && s.Identity != nil
}

// IdentitySource resolves an API key to its identity.
// *tracking.Client satisfies it.
type IdentitySource interface {
	Me(ctx context.Context, apiKey string) (*tracking.Identity, error)
}

// Store holds the current session. It is safe for concurrent use.
// Subscribers are called in transition order and must not call Login,
// Logout, RefreshIdentity or Restore themselves.
type Store struct {
	src     IdentitySource
	kv      kvstore.Store
	profile string
	gate    *Gate
	log     *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	notifyMu  sync.Mutex
	cur       Session
	epoch     uint64
	lastState State
	subs      []func(Session)
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics records state transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithGate replaces the default admin-only gate.
func WithGate(g *Gate) Option {
	return func(s *Store) { s.gate = g }
}

// New creates a store in the Loading state. Call Restore once at startup.
func New(src IdentitySource, kv kvstore.Store, profile string, opts ...Option) *Store {
	s := &Store{
		src:     src,
		kv:      kv,
		profile: profile,
		log:     zap.NewNop(),
		cur:     Session{State: StateLoading, Loading: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = NewGate(s.log)
	}
	s.lastState = StateLoading
	return s
}

// Current returns a copy of the session.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Credentials returns the API key when authenticated.
func (s *Store) Credentials() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cur.IsAuthenticated() {
		return "", false
	}
	return s.cur.APIKey, true
}

// Subscribe registers fn for every subsequent transition.
func (s *Store) Subscribe(fn func(Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Login validates apiKey against the service and, for administrators,
// stores and persists it. Any failure leaves the session unauthenticated
// with nothing persisted.
func (s *Store) Login(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		s.mu.Lock()
		s.resetLocked(ctx, tracking.ErrInvalidKey)
		s.publishAndUnlock()
		return tracking.ErrInvalidKey
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.cur.Loading = true
	if !s.cur.IsAuthenticated() {
		s.cur.State = StateLoading
	}
	s.publishAndUnlock()

	s.log.Info("logging in", zap.String("event_type", "login"), zap.String("api_key", logger.MaskKey(apiKey)))
	id, err := s.src.Me(ctx, apiKey)
	return s.complete(ctx, epoch, apiKey, id, err, true)
}

// Logout clears the persisted key and resets the session. It never fails;
// storage errors are logged.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.resetLocked(ctx, nil)
	s.publishAndUnlock()
	s.log.Info("logged out", zap.String("event_type", "logout"))
}

// RefreshIdentity re-fetches the identity behind the current key. Losing
// administrator privilege or any fetch failure ends the session.
func (s *Store) RefreshIdentity(ctx context.Context) error {
	s.mu.Lock()
	if !s.cur.IsAuthenticated() {
		s.mu.Unlock()
		return tracking.ErrNotAuthenticated
	}
	epoch := s.epoch
	apiKey := s.cur.APIKey
	s.cur.Loading = true
	s.publishAndUnlock()

	id, err := s.src.Me(ctx, apiKey)
	return s.complete(ctx, epoch, apiKey, id, err, false)
}

// Restore performs the silent login from a persisted key at process start.
// No persisted key leaves the session unauthenticated without error. A key
// the service no longer accepts is cleared and reported as
// tracking.ErrSessionExpired.
func (s *Store) Restore(ctx context.Context) error {
	key, err := s.kv.Get(ctx, kvstore.SessionKey(s.profile))
	if err != nil {
		s.mu.Lock()
		s.resetLocked(ctx, nil)
		s.publishAndUnlock()
		if kvstore.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to read persisted session: %w", err)
	}

	if err := s.Login(ctx, key); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return err
		}
		s.log.Warn("persisted session rejected",
			zap.String("event_type", "session_expired"),
			zap.Error(err))
		s.mu.Lock()
		s.cur.Err = tracking.ErrSessionExpired
		s.publishAndUnlock()
		return fmt.Errorf("%w: %v", tracking.ErrSessionExpired, err)
	}
	return nil
}

// complete applies the outcome of an identity fetch issued at epoch.
func (s *Store) complete(ctx context.Context, epoch uint64, apiKey string, id *tracking.Identity, fetchErr error, persist bool) error {
	s.mu.Lock()

	if s.epoch != epoch || (!persist && s.cur.APIKey != apiKey) {
		s.mu.Unlock()
		s.log.Debug("identity response discarded", zap.String("event_type", "identity_stale"))
		return ErrSuperseded
	}

	if fetchErr != nil {
		s.resetLocked(ctx, fetchErr)
		s.publishAndUnlock()
		s.log.Warn("identity fetch failed", zap.String("event_type", "identity_failed"), zap.Error(fetchErr))
		return fetchErr
	}

	if err := s.gate.Authorize(id); err != nil {
		s.resetLocked(ctx, err)
		s.publishAndUnlock()
		return err
	}

	if persist {
		if err := s.kv.Set(ctx, kvstore.SessionKey(s.profile), apiKey); err != nil {
			werr := fmt.Errorf("failed to persist session: %w", err)
			s.resetLocked(ctx, werr)
			s.publishAndUnlock()
			return werr
		}
	}

	ident := *id
	s.cur = Session{State: StateAuthenticated, APIKey: apiKey, Identity: &ident, Epoch: s.epoch}
	s.publishAndUnlock()

	s.log.Info("identity confirmed",
		zap.String("event_type", "authenticated"),
		zap.Int64("user_id", ident.ID),
		zap.String("user_name", ident.Name))
	return nil
}

// resetLocked ends the session, bumps the epoch and removes the persisted key.
func (s *Store) resetLocked(ctx context.Context, cause error) {
	s.epoch++
	if err := s.kv.Delete(ctx, kvstore.SessionKey(s.profile)); err != nil {
		s.log.Warn("failed to clear persisted session", zap.Error(err))
	}
	s.cur = Session{State: StateUnauthenticated, Err: cause, Epoch: s.epoch}
}

func (s *Store) snapshotLocked() Session {
	snap := s.cur
	snap.Epoch = s.epoch
	if s.cur.Identity != nil {
		ident := *s.cur.Identity
		snap.Identity = &ident
	}
	return snap
}

// publishAndUnlock must be called with s.mu held. It releases s.mu and
// delivers the new session to subscribers in transition order.
func (s *Store) publishAndUnlock() {
	snap := s.snapshotLocked()
	subs := append(([]func(Session))(nil), s.subs...)
	changed := snap.State != s.lastState
	s.lastState = snap.State

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if changed {
		s.metrics.SessionTransition(string(snap.State))
	}
	for _, fn := range subs {
		fn(snap)
	}
}
