package rules

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func ruleNames(rules []Rule) []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	return names
}

func TestNewCatalog_Merge(t *testing.T) {
	first := Document{
		"pods": Group{
			Tables: []string{"kubernetes_pods", "kubernetes_deployments"},
			Rules: map[string]Expression{
				"privileged": MustParse(`{"==": [{"var": "privileged"}, "1"]}`),
				"host_net":   MustParse(`{"==": [{"var": "host_network"}, "1"]}`),
			},
		},
	}
	second := Document{
		"override": Group{
			Tables: []string{"kubernetes_pods"},
			Rules: map[string]Expression{
				"privileged": MustParse(`{"==": [{"var": "privileged"}, "true"]}`),
				"no_limits":  MustParse(`{"missing": ["resource_limits.cpu"]}`),
			},
		},
	}

	catalog, err := NewCatalog(first, second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, want := catalog.Tables(), []string{"kubernetes_deployments", "kubernetes_pods"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected tables %v, got %v", want, got)
	}
	if got, want := ruleNames(catalog.Rules("kubernetes_pods")), []string{"host_net", "no_limits", "privileged"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected pod rules %v, got %v", want, got)
	}
	if got, want := ruleNames(catalog.Rules("kubernetes_deployments")), []string{"host_net", "privileged"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected deployment rules %v, got %v", want, got)
	}
	if catalog.Len() != 5 {
		t.Errorf("expected 5 rules, got %d", catalog.Len())
	}

	podRule, ok := catalog.Rule("kubernetes_pods", "privileged")
	if !ok {
		t.Fatal("expected privileged rule for pods")
	}
	if !podRule.Truthy(row(map[string]any{"privileged": "true"})) {
		t.Error("later document should win for kubernetes_pods")
	}
	deployRule, _ := catalog.Rule("kubernetes_deployments", "privileged")
	if !deployRule.Truthy(row(map[string]any{"privileged": "1"})) {
		t.Error("earlier rule should remain for kubernetes_deployments")
	}

	if rules := catalog.Rules("unknown_table"); len(rules) != 0 {
		t.Errorf("expected no rules for unknown table, got %d", len(rules))
	}
}

func TestNewCatalog_GroupOrderWithinDocument(t *testing.T) {
	doc := Document{
		"b_group": Group{
			Tables: []string{"t"},
			Rules:  map[string]Expression{"r": MustParse(`{"==": [{"var": "x"}, "b"]}`)},
		},
		"a_group": Group{
			Tables: []string{"t"},
			Rules:  map[string]Expression{"r": MustParse(`{"==": [{"var": "x"}, "a"]}`)},
		},
	}
	catalog, err := NewCatalog(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expr, _ := catalog.Rule("t", "r")
	if !expr.Truthy(row(map[string]any{"x": "b"})) {
		t.Error("groups should merge in sorted name order so b_group wins")
	}
}

func TestNewCatalog_InvalidGroups(t *testing.T) {
	valid := map[string]Expression{"r": MustParse(`{"var": "x"}`)}
	tests := []struct {
		name  string
		group Group
	}{
		{"no tables", Group{Rules: valid}},
		{"empty table", Group{Tables: []string{""}, Rules: valid}},
		{"no rules", Group{Tables: []string{"t"}}},
		{"zero expression", Group{Tables: []string{"t"}, Rules: map[string]Expression{"r": {}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(Document{"g": tt.group})
			if !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-pods.json", `{
		// pod hygiene
		"pods": {
			"tables": ["kubernetes_pods"],
			"rules": {
				"privileged": {"==": [{"var": "privileged"}, "1"]},
			},
		},
	}`)
	writeFile(t, dir, "20-override.yaml", `
override:
  tables: [kubernetes_pods, docker_containers]
  rules:
    privileged:
      "==": [{var: privileged}, "yes"]
    no_limits:
      missing: [resource_limits.cpu, resource_limits.memory]
`)
	writeFile(t, dir, "README.md", "not a rule file")

	catalog, err := LoadCatalog(dir, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, want := catalog.Tables(), []string{"docker_containers", "kubernetes_pods"}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected tables %v, got %v", want, got)
	}
	expr, ok := catalog.Rule("kubernetes_pods", "privileged")
	if !ok {
		t.Fatal("expected privileged rule")
	}
	if !expr.Truthy(row(map[string]any{"privileged": "yes"})) {
		t.Error("20-override.yaml should override 10-pods.json")
	}
	noLimits, _ := catalog.Rule("docker_containers", "no_limits")
	if !noLimits.Truthy(row(map[string]any{})) {
		t.Error("expected no_limits to match an empty row")
	}
}

func TestLoadCatalog_MalformedDocumentFailsWholeLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad json", "bad.json", `{"pods": {"tables": [`},
		{"unknown operator", "bad.json", `{"pods": {"tables": ["t"], "rules": {"r": {"regex": ["a", "b"]}}}}`},
		{"unknown group field", "bad.json", `{"pods": {"tables": ["t"], "rule": {}}}`},
		{"wrong shape", "bad.yaml", "pods: [1, 2, 3]\n"},
		{"no rules", "bad.yml", "pods:\n  tables: [t]\n"},
		{"empty document", "bad.yaml", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "00-good.json", `{"g": {"tables": ["t"], "rules": {"r": {"var": "x"}}}}`)
			writeFile(t, dir, tt.file, tt.content)

			catalog, err := LoadCatalog(dir, discardLogger())
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("expected ErrInvalidDocument, got %v", err)
			}
			if catalog != nil {
				t.Error("expected no catalog on failure")
			}
		})
	}
}

func TestLoadCatalog_MissingDirectory(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope"), discardLogger())
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
}
