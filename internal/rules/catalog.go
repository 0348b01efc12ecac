// Package rules holds the alert rule catalog and the JSON-logic expression
// engine that evaluates rules against normalized telemetry rows.
//
// A rule document maps group names to groups. Each group names the
// entity-types (tables) it applies to and a set of named expressions:
//
//	{
//	  "pod_security": {
//	    "tables": ["kubernetes_pods"],
//	    "rules": {
//	      "privileged_container": {"==": [{"var": "privileged"}, "1"]}
//	    }
//	  }
//	}
//
// Documents are merged into a Catalog keyed by entity-type. The Catalog is
// immutable once built and is shared by all requests without locking.
package rules

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidDocument = errors.New("invalid rule document")

// Group is a named bundle of rules applied to one or more entity-types.
type Group struct {
	Tables []string              `json:"tables" yaml:"tables"`
	Rules  map[string]Expression `json:"rules" yaml:"rules"`
}

// Document maps group name to group.
type Document map[string]Group

// Rule is a named, compiled expression.
type Rule struct {
	Name string
	Expr Expression
}

// Catalog maps entity-type to its rules.
type Catalog struct {
	tables map[string][]Rule
}

// NewCatalog merges documents in the order given. Within a document groups are
// merged in sorted name order. A later rule with the same name replaces an
// earlier one for the same entity-type.
func NewCatalog(docs ...Document) (*Catalog, error) {
	merged := make(map[string]map[string]Expression)

	for docIndex, doc := range docs {
		groupNames := make([]string, 0, len(doc))
		for name := range doc {
			groupNames = append(groupNames, name)
		}
		sort.Strings(groupNames)

		for _, groupName := range groupNames {
			group := doc[groupName]
			if err := group.validate(); err != nil {
				return nil, fmt.Errorf("%w: document %d group %q: %w", ErrInvalidDocument, docIndex, groupName, err)
			}
			for _, table := range group.Tables {
				rules, ok := merged[table]
				if !ok {
					rules = make(map[string]Expression, len(group.Rules))
					merged[table] = rules
				}
				for ruleName, expr := range group.Rules {
					rules[ruleName] = expr
				}
			}
		}
	}

	c := &Catalog{tables: make(map[string][]Rule, len(merged))}
	for table, byName := range merged {
		rules := make([]Rule, 0, len(byName))
		for name, expr := range byName {
			rules = append(rules, Rule{Name: name, Expr: expr})
		}
		sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
		c.tables[table] = rules
	}
	return c, nil
}

func (g Group) validate() error {
	if len(g.Tables) == 0 {
		return errors.New("no tables")
	}
	for _, table := range g.Tables {
		if table == "" {
			return errors.New("empty table name")
		}
	}
	if len(g.Rules) == 0 {
		return errors.New("no rules")
	}
	for name, expr := range g.Rules {
		if name == "" {
			return errors.New("empty rule name")
		}
		if expr.IsZero() {
			return fmt.Errorf("rule %q has no expression", name)
		}
	}
	return nil
}

// Rules returns the rules for an entity-type sorted by name. The slice must
// not be modified.
func (c *Catalog) Rules(entityType string) []Rule {
	if c == nil {
		return nil
	}
	return c.tables[entityType]
}

// Rule looks up a single rule.
func (c *Catalog) Rule(entityType, name string) (Expression, bool) {
	for _, r := range c.Rules(entityType) {
		if r.Name == name {
			return r.Expr, true
		}
	}
	return Expression{}, false
}

// Tables returns every entity-type that has rules, sorted.
func (c *Catalog) Tables() []string {
	if c == nil {
		return nil
	}
	tables := make([]string, 0, len(c.tables))
	for t := range c.tables {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// Len returns the total number of (entity-type, rule) pairs.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, rules := range c.tables {
		n += len(rules)
	}
	return n
}
