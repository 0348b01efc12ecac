package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/pkg/config"
)

// FromConfig builds the notifier selected by NOTIFIER.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierLog:
		return NewLog(logger), nil
	case config.NotifierSES:
		return NewSES(ctx, cfg.AWSRegion, cfg.NotifyFrom, cfg.NotifyTo, logger)
	case config.NotifierWebhook:
		return NewWebhook(cfg.NotifyWebhookURL, logger), nil
	}
	return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
}
