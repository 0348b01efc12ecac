package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/fleetgate/internal/adapter/metrics"
	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/pkg/retry"
)

const defaultBatchSize = 100

// DeliverMatchesUseCase drains the match queue into a Notifier.
type DeliverMatchesUseCase struct {
	queue    domain.MatchQueue
	notifier domain.Notifier
	metrics  *metrics.IngestMetrics
	logger   *slog.Logger
	group    string
	consumer string
	retry    retry.Config
}

// NewDeliverMatchesUseCase creates the notifier consumer use case. m may be nil.
func NewDeliverMatchesUseCase(queue domain.MatchQueue, notifier domain.Notifier, m *metrics.IngestMetrics, logger *slog.Logger, group, consumer string, retries int, backoff time.Duration) *DeliverMatchesUseCase {
	if retries < 1 {
		retries = defaultRetryCount
	}
	return &DeliverMatchesUseCase{
		queue:    queue,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With("component", "deliver_matches"),
		group:    group,
		consumer: consumer,
		retry:    retry.Config{Attempts: retries, Backoff: backoff, MaxBackoff: maxRetryBackoff},
	}
}

// ProcessBatch reads a batch of matches, notifies each one with retries,
// parks failures in the DLQ and acknowledges everything it read. It returns
// the number of notifications sent.
func (uc *DeliverMatchesUseCase) ProcessBatch(ctx context.Context) (int, error) {
	matches, err := uc.queue.ReadMatchBatch(ctx, uc.group, uc.consumer, defaultBatchSize)
	if err != nil {
		uc.logger.Error("failed to read match batch from queue", "error", err)
		return 0, err
	}
	if len(matches) == 0 {
		return 0, nil
	}
	uc.logger.Debug("read batch of matches from queue", "count", len(matches))

	var failed []domain.RuleMatch
	sent := 0
	for _, match := range matches {
		if err := uc.notify(ctx, match); err != nil {
			uc.logger.Error("failed to notify rule match after retries", "match_id", match.ID, "rule", match.RuleName, "error", err)
			failed = append(failed, match)
			uc.count("failed")
			continue
		}
		sent++
		uc.count("sent")
	}

	if len(failed) > 0 {
		if err := uc.queue.MoveToDLQ(ctx, failed); err != nil {
			// Leave the batch pending so it is read again.
			uc.logger.Error("failed to move matches to DLQ", "count", len(failed), "error", err)
			return sent, err
		}
	}

	messageIDs := make([]string, len(matches))
	for i, match := range matches {
		messageIDs[i] = match.StreamMessageID
	}
	if err := uc.queue.AcknowledgeMatches(ctx, uc.group, messageIDs...); err != nil {
		uc.logger.Error("failed to acknowledge matches", "error", err)
		return sent, err
	}

	uc.logger.Info("delivered match batch", "sent", sent, "dead_lettered", len(failed))
	return sent, nil
}

func (uc *DeliverMatchesUseCase) notify(ctx context.Context, match domain.RuleMatch) error {
	n := match.Notification()
	return retry.Do(ctx, uc.retry, uc.logger, "notify", func(int) error {
		return uc.notifier.Notify(ctx, n)
	})
}

func (uc *DeliverMatchesUseCase) count(status string) {
	if uc.metrics != nil {
		uc.metrics.NotificationsTotal.WithLabelValues(status).Inc()
	}
}
