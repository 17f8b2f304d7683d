package dialer

import (
	"sort"

	"github.com/MarcoPoloResearchLab/superdialer/internal/history"
	"github.com/MarcoPoloResearchLab/superdialer/internal/notes"
)

// ViewState is the merged, published view of call history and local annotations.
type ViewState struct {
	CallHistory  []history.CallRecord
	TagsByNumber map[string]string
	NoteCounts   map[string]int
	TagLabels    []string
	ContactNames map[string]string
	Revision     int64
}

func emptyViewState() ViewState {
	return ViewState{
		CallHistory:  []history.CallRecord{},
		TagsByNumber: map[string]string{},
		NoteCounts:   map[string]int{},
		TagLabels:    []string{},
		ContactNames: map[string]string{},
	}
}

// DisplayName returns the contact name for number, or number itself when unmapped.
func (v ViewState) DisplayName(number string) string {
	if name, ok := v.ContactNames[history.NormalizeNumber(number)]; ok && name != "" {
		return name
	}
	return number
}

// NumbersWithTag returns the distinct call-history numbers whose current tag is label.
func (v ViewState) NumbersWithTag(label string) []string {
	numbers := make([]string, 0)
	for _, number := range history.DistinctNumbers(v.CallHistory) {
		if current, ok := v.TagsByNumber[number]; ok && current == label {
			numbers = append(numbers, number)
		}
	}
	return numbers
}

// CallsFor returns the call-history entries of number, newest first. Numbers
// match after normalization, so "+1 555-0100" and "+15550100" are the same line.
func (v ViewState) CallsFor(number string) []history.CallRecord {
	key := history.NormalizeNumber(number)
	calls := make([]history.CallRecord, 0)
	for _, record := range v.CallHistory {
		if history.NormalizeNumber(record.Number) == key {
			calls = append(calls, record)
		}
	}
	return calls
}

func (v ViewState) clone() ViewState {
	copied := ViewState{
		CallHistory:  append([]history.CallRecord(nil), v.CallHistory...),
		TagsByNumber: make(map[string]string, len(v.TagsByNumber)),
		NoteCounts:   make(map[string]int, len(v.NoteCounts)),
		TagLabels:    append([]string(nil), v.TagLabels...),
		ContactNames: make(map[string]string, len(v.ContactNames)),
		Revision:     v.Revision,
	}
	if copied.CallHistory == nil {
		copied.CallHistory = []history.CallRecord{}
	}
	if copied.TagLabels == nil {
		copied.TagLabels = []string{}
	}
	for key, value := range v.TagsByNumber {
		copied.TagsByNumber[key] = value
	}
	for key, value := range v.NoteCounts {
		copied.NoteCounts[key] = value
	}
	for key, value := range v.ContactNames {
		copied.ContactNames[key] = value
	}
	return copied
}

func countNotesByNumber(records []notes.Note) map[string]int {
	counts := make(map[string]int)
	for _, record := range records {
		counts[record.PhoneNumber]++
	}
	return counts
}

// currentTagsByNumber expects records newest first and keeps the first label seen per number.
func currentTagsByNumber(records []notes.Tag) map[string]string {
	tags := make(map[string]string)
	for _, record := range records {
		if _, ok := tags[record.PhoneNumber]; ok {
			continue
		}
		tags[record.PhoneNumber] = record.Label
	}
	return tags
}

func sortedLabels(labels []string) []string {
	sorted := append([]string{}, labels...)
	sort.Strings(sorted)
	return sorted
}
