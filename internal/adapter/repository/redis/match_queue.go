package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/fleetgate/internal/adapter/metrics"
	"github.com/V4T54L/fleetgate/internal/domain"
)

const (
	payloadField = "payload"
	readBlock    = 2 * time.Second
)

var errQueueUnavailable = errors.New("redis is unavailable and no WAL is configured")

// MatchQueue implements domain.MatchQueue on a Redis stream. Publish falls
// back to the WAL while Redis is unreachable.
type MatchQueue struct {
	client    *redis.Client
	logger    *slog.Logger
	wal       domain.WALRepository
	metrics   *metrics.IngestMetrics
	stream    string
	dlqStream string
	available atomic.Bool
}

// MatchQueueConfig names the streams and consumer group.
type MatchQueueConfig struct {
	Stream    string
	DLQStream string
	Group     string
}

// NewMatchQueue creates the queue and its consumer group. wal and m may be nil;
// the notifier side has no use for a WAL.
func NewMatchQueue(client *redis.Client, cfg MatchQueueConfig, wal domain.WALRepository, m *metrics.IngestMetrics, logger *slog.Logger) *MatchQueue {
	q := &MatchQueue{
		client:    client,
		logger:    logger.With("component", "match_queue", "stream", cfg.Stream),
		wal:       wal,
		metrics:   m,
		stream:    cfg.Stream,
		dlqStream: cfg.DLQStream,
	}
	q.setAvailable(true)

	if err := q.ensureGroup(context.Background(), cfg.Group); err != nil {
		q.setAvailable(false)
		q.logger.Error("failed to set up consumer group, redis may be unavailable on startup", "error", err)
	}
	return q
}

func (q *MatchQueue) setAvailable(ok bool) {
	q.available.Store(ok)
	q.reportWAL(!ok)
}

func (q *MatchQueue) markUnavailable(err error) {
	if q.available.CompareAndSwap(true, false) {
		q.reportWAL(true)
		q.logger.Error("redis connection lost", "error", err)
	}
}

func (q *MatchQueue) reportWAL(active bool) {
	if q.metrics == nil || q.wal == nil {
		return
	}
	if active {
		q.metrics.WALActive.Set(1)
	} else {
		q.metrics.WALActive.Set(0)
	}
}

func (q *MatchQueue) ensureGroup(ctx context.Context, group string) error {
	if group == "" {
		return nil
	}
	err := q.client.XGroupCreateMkStream(ctx, q.stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}
	return nil
}

// StartHealthCheck pings Redis every interval and replays the WAL once it
// comes back. It blocks until ctx is done.
func (q *MatchQueue) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if q.wal == nil {
		q.logger.Info("WAL is not configured, skipping health check")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.client.Ping(ctx).Err(); err != nil {
				q.markUnavailable(err)
				continue
			}
			if q.available.Load() {
				continue
			}
			q.logger.Info("redis connection recovered, replaying WAL")
			if err := q.ReplayWAL(ctx); err != nil {
				q.logger.Error("failed to replay WAL after redis recovery", "error", err)
				continue
			}
			q.setAvailable(true)
		}
	}
}

// ReplayWAL appends every match held in the WAL to the stream, then truncates
// the WAL.
func (q *MatchQueue) ReplayWAL(ctx context.Context) error {
	if q.wal == nil {
		return nil
	}
	if err := q.wal.Replay(ctx, func(match domain.RuleMatch) error {
		return q.add(ctx, match)
	}); err != nil {
		return fmt.Errorf("WAL replay failed: %w", err)
	}
	if err := q.wal.Truncate(ctx); err != nil {
		return fmt.Errorf("failed to truncate WAL after replay: %w", err)
	}
	return nil
}

// Publish appends a match to the stream.
func (q *MatchQueue) Publish(ctx context.Context, match domain.RuleMatch) error {
	if !q.available.Load() {
		return q.writeWAL(ctx, match, nil)
	}

	err := q.add(ctx, match)
	if err == nil {
		return nil
	}
	if !isNetworkError(err) {
		return err
	}
	q.markUnavailable(err)
	return q.writeWAL(ctx, match, err)
}

func (q *MatchQueue) writeWAL(ctx context.Context, match domain.RuleMatch, cause error) error {
	if q.wal == nil {
		if cause != nil {
			return fmt.Errorf("%w: %w", errQueueUnavailable, cause)
		}
		return errQueueUnavailable
	}
	q.logger.Warn("redis is unavailable, writing match to WAL", "match_id", match.ID)
	return q.wal.Write(ctx, match)
}

func (q *MatchQueue) add(ctx context.Context, match domain.RuleMatch) error {
	payload, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("failed to encode match: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			payloadField:  payload,
			"entity_type": match.EntityType,
			"rule_name":   match.RuleName,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to XADD match: %w", err)
	}
	return nil
}

// ReadMatchBatch reads up to count undelivered matches for a consumer.
func (q *MatchQueue) ReadMatchBatch(ctx context.Context, group, consumer string, count int) ([]domain.RuleMatch, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(count),
		Block:    readBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP matches: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}
	matches, malformed := decodeMessages(streams[0].Messages, q.logger)
	if err := deadLetterMalformed(ctx, q.client, q.stream, q.dlqStream, group, malformed); err != nil {
		// They stay pending and are retried on the next claim.
		q.logger.Error("failed to dead-letter malformed stream entries", "count", len(malformed), "error", err)
	}
	return matches, nil
}

// AcknowledgeMatches acks handled stream entries.
func (q *MatchQueue) AcknowledgeMatches(ctx context.Context, group string, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := q.client.XAck(ctx, q.stream, group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK matches: %w", err)
	}
	return nil
}

// MoveToDLQ copies matches to the dead-letter stream in one pipeline.
func (q *MatchQueue) MoveToDLQ(ctx context.Context, matches []domain.RuleMatch) error {
	if len(matches) == 0 {
		return nil
	}

	failedAt := time.Now().UTC().Format(time.RFC3339)
	pipe := q.client.Pipeline()
	for _, match := range matches {
		payload, err := json.Marshal(match)
		if err != nil {
			q.logger.Error("failed to encode match for DLQ", "match_id", match.ID, "error", err)
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.dlqStream,
			Values: map[string]any{
				payloadField:      payload,
				"original_stream": q.stream,
				"original_msg_id": match.StreamMessageID,
				"failed_at":       failedAt,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline: %w", err)
	}
	q.logger.Warn("moved matches to DLQ", "count", len(matches), "dlq_stream", q.dlqStream)
	return nil
}

// decodeMessages turns stream entries into matches. Entries that cannot be
// decoded are returned separately with the reason recorded in their values.
func decodeMessages(messages []redis.XMessage, logger *slog.Logger) ([]domain.RuleMatch, []redis.XMessage) {
	matches := make([]domain.RuleMatch, 0, len(messages))
	var malformed []redis.XMessage
	for _, msg := range messages {
		match, err := decodeMessage(msg)
		if err != nil {
			logger.Warn("malformed stream entry", "message_id", msg.ID, "error", err)
			malformed = append(malformed, redis.XMessage{ID: msg.ID, Values: dlqValues(msg, err)})
			continue
		}
		matches = append(matches, match)
	}
	return matches, malformed
}

func dlqValues(msg redis.XMessage, cause error) map[string]any {
	values := make(map[string]any, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["original_msg_id"] = msg.ID
	values["decode_error"] = cause.Error()
	return values
}

// deadLetterMalformed copies undecodable entries to the DLQ stream and acks
// them in one MULTI/EXEC, so an entry is never acked without its copy.
func deadLetterMalformed(ctx context.Context, client *redis.Client, stream, dlqStream, group string, malformed []redis.XMessage) error {
	if len(malformed) == 0 {
		return nil
	}
	ids := make([]string, len(malformed))
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		failedAt := time.Now().UTC().Format(time.RFC3339)
		for i, msg := range malformed {
			ids[i] = msg.ID
			msg.Values["original_stream"] = stream
			msg.Values["failed_at"] = failedAt
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: dlqStream, Values: msg.Values})
		}
		pipe.XAck(ctx, stream, group, ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter malformed entries: %w", err)
	}
	return nil
}

func decodeMessage(msg redis.XMessage) (domain.RuleMatch, error) {
	var match domain.RuleMatch
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		return match, fmt.Errorf("missing %q field", payloadField)
	}
	if err := json.Unmarshal([]byte(payload), &match); err != nil {
		return match, err
	}
	match.StreamMessageID = msg.ID
	return match, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
