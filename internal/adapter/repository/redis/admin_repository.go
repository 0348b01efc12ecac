package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/fleetgate/internal/domain"
)

// AdminRepository implements domain.StreamAdminRepository for the match
// streams. Pending entries are reported with the rule that produced them.
type AdminRepository struct {
	client    *redis.Client
	dlqStream string
	logger    *slog.Logger
}

// NewAdminRepository creates a stream admin repository. Claimed entries that
// no longer decode as matches are moved to dlqStream.
func NewAdminRepository(client *redis.Client, dlqStream string, logger *slog.Logger) *AdminRepository {
	return &AdminRepository{
		client:    client,
		dlqStream: dlqStream,
		logger:    logger.With("component", "stream_admin"),
	}
}

func (r *AdminRepository) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	groups, err := r.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("XINFO GROUPS %s: %w", stream, err)
	}

	out := make([]domain.ConsumerGroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, domain.ConsumerGroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		})
	}
	return out, nil
}

func (r *AdminRepository) GetConsumerInfo(ctx context.Context, stream, group string) ([]domain.ConsumerInfo, error) {
	consumers, err := r.client.XInfoConsumers(ctx, stream, group).Result()
	if err != nil {
		return nil, fmt.Errorf("XINFO CONSUMERS %s/%s: %w", stream, group, err)
	}

	out := make([]domain.ConsumerInfo, 0, len(consumers))
	for _, c := range consumers {
		out = append(out, domain.ConsumerInfo{Name: c.Name, Pending: c.Pending, Idle: c.Idle})
	}
	return out, nil
}

func (r *AdminRepository) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingMatchSummary, error) {
	pending, err := r.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return nil, fmt.Errorf("XPENDING %s/%s: %w", stream, group, err)
	}
	return &domain.PendingMatchSummary{
		Total:          pending.Count,
		FirstMessageID: pending.Lower,
		LastMessageID:  pending.Higher,
		ConsumerTotals: pending.Consumers,
	}, nil
}

// GetPendingMessages lists pending entries with the entity-type and rule of
// each match. With q.EntityType set, the page of q.Count entries is filtered,
// so fewer than q.Count entries may come back.
func (r *AdminRepository) GetPendingMessages(ctx context.Context, stream, group string, q domain.PendingMatchQuery) ([]domain.PendingMatchDetail, error) {
	entries, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   stream,
		Group:    group,
		Start:    q.StartID,
		End:      "+",
		Count:    q.Count,
		Consumer: q.Consumer,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("XPENDING %s/%s: %w", stream, group, err)
	}
	if len(entries) == 0 {
		return []domain.PendingMatchDetail{}, nil
	}

	lookups := make([]*redis.XMessageSliceCmd, len(entries))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, e := range entries {
			lookups[i] = pipe.XRange(ctx, stream, e.ID, e.ID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("looking up pending matches: %w", err)
	}

	out := make([]domain.PendingMatchDetail, 0, len(entries))
	for i, e := range entries {
		detail := domain.PendingMatchDetail{
			ID:         e.ID,
			Consumer:   e.Consumer,
			IdleTime:   e.Idle,
			RetryCount: e.RetryCount,
		}
		if msgs, _ := lookups[i].Result(); len(msgs) == 1 {
			detail.EntityType, detail.RuleName = matchLabels(msgs[0])
		} else {
			// Trimmed away while still pending.
			detail.Trimmed = true
		}
		if q.EntityType != "" && detail.EntityType != q.EntityType {
			continue
		}
		out = append(out, detail)
	}
	return out, nil
}

// matchLabels reads the labels stored next to the payload, falling back to
// the payload itself for entries written without them.
func matchLabels(msg redis.XMessage) (entityType, ruleName string) {
	entityType, _ = msg.Values["entity_type"].(string)
	ruleName, _ = msg.Values["rule_name"].(string)
	if entityType != "" && ruleName != "" {
		return entityType, ruleName
	}
	if match, err := decodeMessage(msg); err == nil {
		return match.EntityType, match.RuleName
	}
	return entityType, ruleName
}

// ClaimMessages moves idle pending matches to consumer and returns them.
// Claimed entries that do not decode are dead-lettered and acknowledged.
func (r *AdminRepository) ClaimMessages(ctx context.Context, stream, group, consumer string, minIdleTime time.Duration, messageIDs []string) ([]domain.RuleMatch, error) {
	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdleTime,
		Messages: messageIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("XCLAIM %s/%s: %w", stream, group, err)
	}

	matches, malformed := decodeMessages(claimed, r.logger)
	if err := deadLetterMalformed(ctx, r.client, stream, r.dlqStream, group, malformed); err != nil {
		return matches, err
	}
	if len(malformed) > 0 {
		r.logger.Warn("dead-lettered malformed claimed entries", "count", len(malformed), "stream", stream)
	}
	return matches, nil
}

func (r *AdminRepository) AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, errors.New("at least one message ID is required")
	}
	return r.client.XAck(ctx, stream, group, messageIDs...).Result()
}

func (r *AdminRepository) TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error) {
	return r.client.XTrimMaxLen(ctx, stream, maxLen).Result()
}
