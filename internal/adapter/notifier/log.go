// Package notifier delivers rule-match notifications.
package notifier

import (
	"context"
	"log/slog"

	"github.com/V4T54L/fleetgate/internal/domain"
)

// Log writes notifications to the structured log. It is the default when no
// external channel is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "log_notifier")}
}

func (n *Log) Notify(ctx context.Context, notification domain.Notification) error {
	n.logger.Warn(notification.Subject,
		"match_id", notification.MatchID,
		"entity_type", notification.EntityType,
		"rule", notification.RuleName,
		"row", notification.Body,
	)
	return nil
}
