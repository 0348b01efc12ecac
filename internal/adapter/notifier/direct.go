package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/pkg/retry"
)

// Direct is a MatchSink that notifies inline instead of going through the
// match queue. A match that still fails after the retries is dropped.
type Direct struct {
	notifier domain.Notifier
	retry    retry.Config
	logger   *slog.Logger
}

func NewDirect(notifier domain.Notifier, retries int, backoff time.Duration, logger *slog.Logger) *Direct {
	return &Direct{
		notifier: notifier,
		retry:    retry.Config{Attempts: retries, Backoff: backoff, MaxBackoff: 5 * time.Second},
		logger:   logger.With("component", "direct_dispatch"),
	}
}

func (d *Direct) Publish(ctx context.Context, match domain.RuleMatch) error {
	n := match.Notification()
	return retry.Do(ctx, d.retry, d.logger, "notify", func(int) error {
		return d.notifier.Notify(ctx, n)
	})
}
