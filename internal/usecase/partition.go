package usecase

import (
	"github.com/V4T54L/fleetgate/internal/domain"
)

// Partition groups records by entity-type and UTC day. Rows keep their input
// order within a bucket. A record with no name, a name that is not a single
// key segment, or an unusable timestamp is left out and reported; the rest of
// the batch is unaffected.
func Partition(records []domain.IncomingRecord) (domain.PartitionedDataset, []domain.RecordError) {
	dataset := make(domain.PartitionedDataset)
	var rejected []domain.RecordError

	for i, record := range records {
		if record.Name == "" {
			rejected = append(rejected, domain.RecordError{Index: i, Err: domain.ErrMissingEntityType})
			continue
		}
		if !domain.ValidEntityType(record.Name) {
			rejected = append(rejected, domain.RecordError{Index: i, Name: record.Name, Err: domain.ErrInvalidEntityType})
			continue
		}
		seconds, err := record.UnixTime.Seconds()
		if err != nil {
			rejected = append(rejected, domain.RecordError{Index: i, Name: record.Name, Err: err})
			continue
		}

		dataset.Add(record.Name, domain.DayKey(seconds), normalizeRecord(record))
	}

	return dataset, rejected
}

func normalizeRecord(record domain.IncomingRecord) domain.NormalizedRow {
	row := make(domain.NormalizedRow, len(record.Columns)+3)
	for column, value := range record.Columns {
		row[column] = NormalizeField(value)
	}
	// Reserved keys win over colliding columns.
	row[domain.RowKeyCalendarTime] = record.CalendarTime
	row[domain.RowKeyUnixTime] = record.UnixTime.Verbatim()
	row[domain.RowKeyAdded] = record.Action == domain.ActionAdded
	return row
}
