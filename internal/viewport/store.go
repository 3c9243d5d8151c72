// Package viewport persists the operator's map center and zoom between runs
// and tracks whether the next successful load should auto-fit the data.
package viewport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dyluth/geowatch/internal/kvstore"
	"github.com/dyluth/geowatch/pkg/tracking"
	"go.uber.org/zap"
)

// Store reads and writes the viewport for one profile.
type Store struct {
	kv       kvstore.Store
	profile  string
	fallback tracking.Viewport
	log      *zap.Logger
}

// New creates a viewport store. fallback is returned by Load when nothing
// usable is persisted.
func New(kv kvstore.Store, profile string, fallback tracking.Viewport, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{kv: kv, profile: profile, fallback: fallback, log: log}
}

// Default returns the fallback viewport.
func (s *Store) Default() tracking.Viewport {
	return s.fallback
}

// Load returns the persisted viewport, or the fallback when it is absent,
// unreadable or out of range. Load never fails.
func (s *Store) Load(ctx context.Context) tracking.Viewport {
	raw, err := s.kv.Get(ctx, kvstore.ViewportKey(s.profile))
	if err != nil {
		if !kvstore.IsNotFound(err) {
			s.log.Warn("viewport read failed, using default", zap.Error(err))
		}
		return s.fallback
	}

	var v tracking.Viewport
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		s.log.Warn("corrupt viewport discarded", zap.Error(err))
		return s.fallback
	}
	if err := v.Validate(); err != nil {
		s.log.Warn("invalid viewport discarded", zap.Error(err))
		return s.fallback
	}
	return v
}

// Save overwrites the persisted viewport and disarms auto-fit.
func (s *Store) Save(ctx context.Context, v tracking.Viewport) error {
	if err := v.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode viewport: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.ViewportKey(s.profile), string(data)); err != nil {
		return fmt.Errorf("failed to save viewport: %w", err)
	}
	return s.MarkFitted(ctx)
}

// Reset clears the persisted viewport and the initialized marker, so the
// next successful data load auto-fits.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.kv.Delete(ctx, kvstore.ViewportKey(s.profile), kvstore.ViewportInitializedKey(s.profile)); err != nil {
		return fmt.Errorf("failed to reset viewport: %w", err)
	}
	return nil
}

// NeedsFit reports whether auto-fit is armed.
// Read errors are treated as armed.
func (s *Store) NeedsFit(ctx context.Context) bool {
	_, err := s.kv.Get(ctx, kvstore.ViewportInitializedKey(s.profile))
	return err != nil
}

// MarkFitted disarms auto-fit.
func (s *Store) MarkFitted(ctx context.Context) error {
	if err := s.kv.Set(ctx, kvstore.ViewportInitializedKey(s.profile), "1"); err != nil {
		return fmt.Errorf("failed to mark viewport initialized: %w", err)
	}
	return nil
}
