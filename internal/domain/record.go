package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Reserved keys every NormalizedRow carries in addition to the record's columns.
const (
	RowKeyCalendarTime = "calendarTime"
	RowKeyUnixTime     = "unixTime"
	RowKeyAdded        = "added"
)

// ActionAdded is the differential action that marks a newly observed row.
const ActionAdded = "added"

// DayKeyLayout formats a partition day key (YYYYMMDD, UTC).
const DayKeyLayout = "20060102"

var (
	ErrInvalidTimestamp  = errors.New("invalid unixTime")
	ErrMissingEntityType = errors.New("missing entity-type name")
	ErrInvalidEntityType = errors.New("invalid entity-type name")
)

// ValidEntityType reports whether name can be used as a single object key
// segment: non-empty, no path separators, no dot segments, no control
// characters.
func ValidEntityType(name string) bool {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// UnixTime is the raw agent timestamp token. Agents send it either as a JSON
// number or as a numeric string, so it is kept verbatim (quotes included) and
// validated during partitioning rather than at decode time.
type UnixTime string

// UnmarshalJSON accepts any token without failing; Seconds reports whether the
// value was usable.
func (t *UnixTime) UnmarshalJSON(b []byte) error {
	*t = UnixTime(strings.TrimSpace(string(b)))
	return nil
}

func (t UnixTime) text() (string, bool) {
	s := string(t)
	if unquoted, err := strconv.Unquote(s); err == nil {
		return strings.TrimSpace(unquoted), true
	}
	return s, false
}

// Verbatim returns the timestamp as the agent sent it: a string for a quoted
// token, a json.Number otherwise.
func (t UnixTime) Verbatim() any {
	s, quoted := t.text()
	if quoted || !json.Valid([]byte(s)) {
		return s
	}
	return json.Number(s)
}

// Seconds parses the timestamp as whole seconds since the epoch.
func (t UnixTime) Seconds() (int64, error) {
	s, _ := t.text()
	if s == "" || s == "null" {
		return 0, fmt.Errorf("%w: missing", ErrInvalidTimestamp)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: negative value %d", ErrInvalidTimestamp, n)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f > float64(1<<62) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return int64(f), nil
}

// IncomingRecord is one differential result reported by an agent.
type IncomingRecord struct {
	Name           string         `json:"name"`
	HostIdentifier string         `json:"hostIdentifier,omitempty"`
	UnixTime       UnixTime       `json:"unixTime"`
	CalendarTime   string         `json:"calendarTime"`
	Action         string         `json:"action"`
	Columns        map[string]any `json:"columns"`
}

// NormalizedRow is the flat, storage- and rule-ready form of a record.
type NormalizedRow map[string]any

// Added reports whether the row represents a newly observed state.
func (r NormalizedRow) Added() bool {
	added, _ := r[RowKeyAdded].(bool)
	return added
}

// PartitionedDataset maps entity-type -> day key -> rows in arrival order.
type PartitionedDataset map[string]map[string][]NormalizedRow

// Bucket is a single (entity-type, day) partition.
type Bucket struct {
	EntityType string
	Day        string
	Rows       []NormalizedRow
}

// Add appends a row to its bucket, creating the bucket if needed.
func (d PartitionedDataset) Add(entityType, day string, row NormalizedRow) {
	days, ok := d[entityType]
	if !ok {
		days = make(map[string][]NormalizedRow)
		d[entityType] = days
	}
	days[day] = append(days[day], row)
}

// Buckets flattens the dataset into its partitions.
func (d PartitionedDataset) Buckets() []Bucket {
	var buckets []Bucket
	for entityType, days := range d {
		for day, rows := range days {
			buckets = append(buckets, Bucket{EntityType: entityType, Day: day, Rows: rows})
		}
	}
	return buckets
}

// RowCount returns the total number of rows across all partitions.
func (d PartitionedDataset) RowCount() int {
	n := 0
	for _, days := range d {
		for _, rows := range days {
			n += len(rows)
		}
	}
	return n
}

// DayKey returns the UTC partition day for a unix timestamp.
func DayKey(seconds int64) string {
	return time.Unix(seconds, 0).UTC().Format(DayKeyLayout)
}

// RecordError describes a record that was left out of a dataset.
type RecordError struct {
	Index int
	Name  string
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d (%q): %v", e.Index, e.Name, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}
