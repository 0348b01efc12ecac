package pii

import (
	"log/slog"
	"strings"

	"github.com/V4T54L/fleetgate/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

var reservedColumns = map[string]struct{}{
	domain.RowKeyCalendarTime: {},
	domain.RowKeyUnixTime:     {},
	domain.RowKeyAdded:        {},
}

// Redactor masks configured columns in normalized rows before they are
// stored or evaluated.
type Redactor struct {
	columns map[string]struct{}
	logger  *slog.Logger
}

// NewRedactor creates a Redactor. Empty names are ignored and reserved row
// keys are never redacted.
func NewRedactor(columns []string, logger *slog.Logger) *Redactor {
	logger = logger.With("component", "pii_redactor")
	set := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		column = strings.TrimSpace(column)
		if column == "" {
			continue
		}
		if _, reserved := reservedColumns[column]; reserved {
			logger.Warn("ignoring reserved column in redaction list", "column", column)
			continue
		}
		set[column] = struct{}{}
	}
	return &Redactor{columns: set, logger: logger}
}

// Enabled reports whether any column is configured.
func (r *Redactor) Enabled() bool {
	return r != nil && len(r.columns) > 0
}

// RedactRow replaces configured columns in place and reports whether
// anything changed.
func (r *Redactor) RedactRow(row domain.NormalizedRow) bool {
	if !r.Enabled() {
		return false
	}
	redacted := false
	for column := range r.columns {
		if _, ok := row[column]; ok {
			row[column] = RedactedPlaceholder
			redacted = true
		}
	}
	return redacted
}

// RedactDataset redacts every row and returns how many rows changed.
func (r *Redactor) RedactDataset(dataset domain.PartitionedDataset) int {
	if !r.Enabled() {
		return 0
	}
	count := 0
	for _, days := range dataset {
		for _, rows := range days {
			for _, row := range rows {
				if r.RedactRow(row) {
					count++
				}
			}
		}
	}
	return count
}
