package usecase

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/rules"
)

// RuleEvaluator runs the rule catalog over partitioned rows.
type RuleEvaluator struct {
	catalog *rules.Catalog
	engine  rules.Engine
	logger  *slog.Logger
	now     func() time.Time
}

// NewRuleEvaluator creates a RuleEvaluator. A nil engine means rules.JSONLogic.
func NewRuleEvaluator(catalog *rules.Catalog, engine rules.Engine, logger *slog.Logger) *RuleEvaluator {
	if engine == nil {
		engine = rules.JSONLogic{}
	}
	return &RuleEvaluator{
		catalog: catalog,
		engine:  engine,
		logger:  logger.With("component", "rule_evaluator"),
		now:     time.Now,
	}
}

// EvaluateRules evaluates dataset against catalog with the built-in engine.
func EvaluateRules(dataset domain.PartitionedDataset, catalog *rules.Catalog, logger *slog.Logger) []domain.RuleMatch {
	return NewRuleEvaluator(catalog, nil, logger).Evaluate(dataset)
}

// Evaluate returns a match for every (added row, rule) pair whose expression
// is truthy. Rows that are not "added" are never evaluated and entity-types
// without rules are skipped. The dataset is only read.
func (e *RuleEvaluator) Evaluate(dataset domain.PartitionedDataset) []domain.RuleMatch {
	var matches []domain.RuleMatch

	for _, entityType := range sortedKeys(dataset) {
		entityRules := e.catalog.Rules(entityType)
		if len(entityRules) == 0 {
			continue
		}

		days := dataset[entityType]
		for _, day := range sortedKeys(days) {
			for _, row := range days[day] {
				if !row.Added() {
					continue
				}
				matches = e.evaluateRow(matches, entityType, entityRules, row)
			}
		}
	}

	return matches
}

func (e *RuleEvaluator) evaluateRow(matches []domain.RuleMatch, entityType string, entityRules []rules.Rule, row domain.NormalizedRow) []domain.RuleMatch {
	data := rules.FromAny(map[string]any(row))

	var serialized json.RawMessage
	for _, rule := range entityRules {
		if !e.engine.Match(rule.Expr, data) {
			continue
		}
		if serialized == nil {
			b, err := json.Marshal(row)
			if err != nil {
				e.logger.Error("failed to serialize matched row", "entity_type", entityType, "rule", rule.Name, "error", err)
				return matches
			}
			serialized = b
		}
		matches = append(matches, domain.RuleMatch{
			ID:         uuid.NewString(),
			EntityType: entityType,
			RuleName:   rule.Name,
			Row:        serialized,
			MatchedAt:  e.now().UTC(),
		})
	}
	return matches
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
