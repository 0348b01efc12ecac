package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RuleMatch is produced when a rule evaluates true against an added row.
type RuleMatch struct {
	ID              string          `json:"match_id"`
	EntityType      string          `json:"entity_type"`
	RuleName        string          `json:"rule_name"`
	Row             json.RawMessage `json:"row"`
	MatchedAt       time.Time       `json:"matched_at"`
	StreamMessageID string          `json:"-"`
}

// Notification is what a Notifier delivers for a match.
type Notification struct {
	MatchID    string `json:"match_id"`
	EntityType string `json:"entity_type"`
	RuleName   string `json:"rule_name"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// Notification renders the match for delivery. The body is the serialized row.
func (m RuleMatch) Notification() Notification {
	body := string(m.Row)
	var indented bytes.Buffer
	if err := json.Indent(&indented, m.Row, "", "  "); err == nil {
		body = indented.String()
	}
	return Notification{
		MatchID:    m.ID,
		EntityType: m.EntityType,
		RuleName:   m.RuleName,
		Subject:    fmt.Sprintf("[fleetgate] rule %s matched on %s", m.RuleName, m.EntityType),
		Body:       body,
	}
}

// FanOut publishes every match to all sinks. A failing sink does not stop
// delivery to the others.
type FanOut []MatchSink

func (f FanOut) Publish(ctx context.Context, match RuleMatch) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, match); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
