// Package access decides which Telegram users may watch or control the printer.
package access

import (
	"github.com/sirupsen/logrus"

	"github.com/HappyTetrahedron/printer-bot/internal/config"
	"github.com/HappyTetrahedron/printer-bot/internal/logging"
)

// Action classifies a request for the permission check.
type Action int

const (
	// Control covers actions that change printer state.
	Control Action = iota
	// Watch covers read-only status queries.
	Watch
)

func (a Action) String() string {
	switch a {
	case Control:
		return "control"
	case Watch:
		return "watch"
	default:
		return "unknown"
	}
}

// Gate holds the static allow-lists. A nil set means the list is not configured.
type Gate struct {
	users    map[int64]struct{}
	watchers map[int64]struct{}
	logger   *logrus.Entry
}

// NewGate builds a gate from the allow-lists in cfg.
func NewGate(cfg config.Config, logger *logrus.Entry) *Gate {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Gate{
		users:    toSet(cfg.ApprovedUsers),
		watchers: toSet(cfg.ApprovedWatchers),
		logger:   logger,
	}
}

// Authorized reports whether userID may perform action. Denied control checks
// are logged for audit.
func (g *Gate) Authorized(userID int64, action Action) bool {
	switch action {
	case Watch:
		if g.watchers != nil {
			if _, ok := g.watchers[userID]; ok {
				return true
			}
		}
		return g.Authorized(userID, Control)
	case Control:
		if g.users == nil {
			return true
		}
		if _, ok := g.users[userID]; ok {
			return true
		}
		g.logger.WithFields(logging.Fields{
			"event":   "permission_denied",
			"user_id": userID,
			"action":  action.String(),
		}).Warn("unauthorized control attempt")
		return false
	default:
		return false
	}
}

func toSet(ids []int64) map[int64]struct{} {
	if ids == nil {
		return nil
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
