package session

import (
	"github.com/dyluth/geowatch/pkg/tracking"
	"go.uber.org/zap"
)

// Gate decides whether a freshly fetched identity may hold a session.
// The service never pushes privilege changes, so the gate runs on every
// identity fetch and is the only place revocation is noticed.
type Gate struct {
	log *zap.Logger
}

// NewGate creates the admin-only gate.
func NewGate(log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{log: log}
}

// Authorize returns tracking.ErrInsufficientPrivilege for anything but an
// administrator. The caller must tear the session down on error.
func (g *Gate) Authorize(id *tracking.Identity) error {
	if id == nil {
		return tracking.ErrNotAuthenticated
	}
	if !id.IsAdmin {
		g.log.Warn("identity lacks administrator privilege",
			zap.String("event_type", "privilege_denied"),
			zap.Int64("user_id", id.ID))
		return tracking.ErrInsufficientPrivilege
	}
	return nil
}
