package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ParseDocument decodes a rule document. JSON documents may carry comments
// and trailing commas (JSONC). Unknown group fields are rejected.
func ParseDocument(data []byte, ext string) (Document, error) {
	var doc Document
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
		if dec.More() {
			return nil, errors.New("trailing data after document")
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported rule document extension %q", ext)
	}
	if doc == nil {
		return nil, errors.New("document is empty")
	}
	return doc, nil
}

// IsRuleFile reports whether a file name looks like a rule document.
func IsRuleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonc", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadCatalog reads every rule document in dir in sorted file-name order and
// merges them. Any malformed document fails the whole load.
func LoadCatalog(dir string, logger *slog.Logger) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsRuleFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)

	docs := make([]Document, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		doc, err := ParseDocument(data, filepath.Ext(path))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, path, err)
		}
		docs = append(docs, doc)
		logger.Debug("loaded rule document", "path", path, "groups", len(doc))
	}

	catalog, err := NewCatalog(docs...)
	if err != nil {
		return nil, err
	}
	logger.Info("rule catalog loaded", "documents", len(docs), "tables", len(catalog.Tables()), "rules", catalog.Len())
	return catalog, nil
}
