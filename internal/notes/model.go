package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidPhoneNumber indicates that a phone number key is empty or exceeds storage bounds.
	ErrInvalidPhoneNumber = errors.New("notes: invalid phone number")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// PhoneNumber represents a validated phone number key. The value is stored as
// given; formatting is the caller's concern.
type PhoneNumber string

// NewPhoneNumber validates raw input and returns a PhoneNumber.
func NewPhoneNumber(rawInput string) (PhoneNumber, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhoneNumber)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPhoneNumber, maxIdentifierLength)
	}
	return PhoneNumber(trimmed), nil
}

// String returns the underlying phone number.
func (number PhoneNumber) String() string {
	return string(number)
}

// Note is a free-text annotation attached to a phone number. A number may carry many notes.
type Note struct {
	ID              string `gorm:"column:id;primaryKey;size:190;not null"`
	PhoneNumber     string `gorm:"column:phone_number;size:190;not null;index:idx_notes_phone_created,priority:1"`
	Text            string `gorm:"column:text;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_notes_phone_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// CreatedAt returns the creation time in UTC.
func (n Note) CreatedAt() time.Time {
	return time.UnixMilli(n.CreatedAtMillis).UTC()
}

// Tag is a short label attached to a phone number. The store allows several
// records per number; the most recently inserted one still present is current.
type Tag struct {
	ID              string `gorm:"column:id;primaryKey;size:190;not null"`
	PhoneNumber     string `gorm:"column:phone_number;size:190;not null;index:idx_tags_phone"`
	Label           string `gorm:"column:label;size:190;not null;index:idx_tags_label"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}
