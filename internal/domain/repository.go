package domain

import (
	"context"
	"time"
)

// ObjectStore persists partition objects under a key.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
}

// MatchSink receives rule matches for delivery.
type MatchSink interface {
	Publish(ctx context.Context, match RuleMatch) error
}

// MatchQueue is a durable buffer between rule evaluation and notification delivery.
type MatchQueue interface {
	MatchSink

	// ReadMatchBatch reads matches not yet delivered to this consumer.
	ReadMatchBatch(ctx context.Context, group, consumer string, count int) ([]RuleMatch, error)

	// AcknowledgeMatches marks matches as handled.
	AcknowledgeMatches(ctx context.Context, group string, messageIDs ...string) error

	// MoveToDLQ parks matches whose delivery failed for good.
	MoveToDLQ(ctx context.Context, matches []RuleMatch) error
}

// Notifier delivers a single notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Authenticator checks agent credentials.
type Authenticator interface {
	// Enroll returns the node key for a valid enroll secret.
	Enroll(secret string) (nodeKey string, ok bool)

	// ValidNodeKey reports whether a node key was issued by this deployment.
	ValidNodeKey(nodeKey string) bool
}

// NodeRepository records enrolled agents.
type NodeRepository interface {
	Register(ctx context.Context, node Node) error
	Touch(ctx context.Context, hostIdentifier string, seenAt time.Time) error
}

// WALRepository is the local failover log for the match queue.
type WALRepository interface {
	Write(ctx context.Context, match RuleMatch) error
	Replay(ctx context.Context, handler func(match RuleMatch) error) error
	Truncate(ctx context.Context) error
}

// StreamAdminRepository exposes operational controls over the match stream.
type StreamAdminRepository interface {
	GetGroupInfo(ctx context.Context, stream string) ([]ConsumerGroupInfo, error)
	GetConsumerInfo(ctx context.Context, stream, group string) ([]ConsumerInfo, error)
	GetPendingSummary(ctx context.Context, stream, group string) (*PendingMatchSummary, error)
	GetPendingMessages(ctx context.Context, stream, group string, q PendingMatchQuery) ([]PendingMatchDetail, error)
	ClaimMessages(ctx context.Context, stream, group, consumer string, minIdleTime time.Duration, messageIDs []string) ([]RuleMatch, error)
	AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error)
	TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error)
}
