package domain

import "time"

// ConsumerGroupInfo describes a consumer group on the match stream.
type ConsumerGroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// ConsumerInfo describes one notifier consumer.
type ConsumerInfo struct {
	Name    string        `json:"name"`
	Pending int64         `json:"pending"`
	Idle    time.Duration `json:"idle_ms"`
}

// PendingMatchSummary summarises matches read but not yet acknowledged.
type PendingMatchSummary struct {
	Total          int64            `json:"total"`
	FirstMessageID string           `json:"first_message_id,omitempty"`
	LastMessageID  string           `json:"last_message_id,omitempty"`
	ConsumerTotals map[string]int64 `json:"consumer_totals,omitempty"`
}

// PendingMatchQuery selects pending entries. Empty fields mean "any".
type PendingMatchQuery struct {
	Consumer   string
	StartID    string
	Count      int64
	EntityType string
}

// PendingMatchDetail is a single pending entry and the match it carries.
type PendingMatchDetail struct {
	ID         string        `json:"id"`
	Consumer   string        `json:"consumer"`
	IdleTime   time.Duration `json:"idle_time_ms"`
	RetryCount int64         `json:"retry_count"`
	EntityType string        `json:"entity_type,omitempty"`
	RuleName   string        `json:"rule_name,omitempty"`
	Trimmed    bool          `json:"trimmed,omitempty"`
}

// RuleSummary lists rule names per entity-type for the admin API.
type RuleSummary struct {
	Tables map[string][]string `json:"tables"`
	Rules  int                 `json:"rules"`
}
