package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/superdialer/internal/history"
)

// Separators of the flat call-history format. Field values are not escaped: a
// value containing either separator misaligns its record on decode.
const (
	RecordSeparator = "§"
	FieldSeparator  = "|"

	callRecordFields = 4
)

// EncodeCallHistory flattens records as number|direction|epoch-millis|seconds,
// joined by RecordSeparator.
func EncodeCallHistory(records []history.CallRecord) string {
	encoded := make([]string, 0, len(records))
	for _, record := range records {
		fields := []string{
			record.Number,
			record.Direction.String(),
			strconv.FormatInt(record.Timestamp.UnixMilli(), 10),
			strconv.FormatInt(int64(record.Duration/time.Second), 10),
		}
		encoded = append(encoded, strings.Join(fields, FieldSeparator))
	}
	return strings.Join(encoded, RecordSeparator)
}

// DecodeCallHistory parses the flat format. Records with too few fields or
// unparsable numbers are skipped.
func DecodeCallHistory(raw string) []history.CallRecord {
	if raw == "" {
		return []history.CallRecord{}
	}
	chunks := strings.Split(raw, RecordSeparator)
	records := make([]history.CallRecord, 0, len(chunks))
	for _, chunk := range chunks {
		parts := strings.Split(chunk, FieldSeparator)
		if len(parts) < callRecordFields {
			continue
		}
		millis, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			continue
		}
		seconds, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			continue
		}
		records = append(records, history.CallRecord{
			Number:    parts[0],
			Direction: history.ParseDirection(parts[1]),
			Timestamp: time.UnixMilli(millis).UTC(),
			Duration:  time.Duration(seconds) * time.Second,
		})
	}
	return records
}
