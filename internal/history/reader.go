package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	callLogTable   = "calls"
	callLogColumns = "number, type, date, duration"
	callLogOrder   = "date DESC"
	unknownNumber  = "unknown"
)

// ErrRegistryUnavailable indicates that a registry could not be read, for example
// because it is missing or access was denied.
var ErrRegistryUnavailable = errors.New("history: registry unavailable")

// Reader reads the device call log and contact list. Implementations never fail:
// an unreachable registry reads as empty.
type Reader interface {
	ReadCallHistory(ctx context.Context) []CallRecord
	ReadContacts(ctx context.Context) map[string]string
}

// RegistryReaderConfig locates the external registries.
type RegistryReaderConfig struct {
	CallLogPath  string
	ContactsPath string
	Logger       *zap.Logger
}

// RegistryReader reads a call-log registry stored as a SQLite database with a
// "calls" table and a contacts registry stored as YAML.
type RegistryReader struct {
	callLogPath  string
	contactsPath string
	logger       *zap.Logger
}

type callLogRow struct {
	Number   *string `gorm:"column:number"`
	Type     int     `gorm:"column:type"`
	Date     int64   `gorm:"column:date"`
	Duration int64   `gorm:"column:duration"`
}

type contactsDocument struct {
	Contacts []contactEntry `yaml:"contacts"`
}

type contactEntry struct {
	Number      string `yaml:"number"`
	DisplayName string `yaml:"display_name"`
}

// NewRegistryReader constructs a RegistryReader.
func NewRegistryReader(cfg RegistryReaderConfig) *RegistryReader {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistryReader{
		callLogPath:  strings.TrimSpace(cfg.CallLogPath),
		contactsPath: strings.TrimSpace(cfg.ContactsPath),
		logger:       log,
	}
}

// ReadCallHistory returns the call log newest first, or an empty slice when the
// registry is unavailable.
func (r *RegistryReader) ReadCallHistory(ctx context.Context) []CallRecord {
	records, err := r.LoadCallHistory(ctx)
	if err != nil {
		r.logger.Warn("call log unavailable", zap.String("path", r.callLogPath), zap.Error(err))
		return []CallRecord{}
	}
	return records
}

// ReadContacts returns normalized number to display name, or an empty map when
// the registry is unavailable.
func (r *RegistryReader) ReadContacts(ctx context.Context) map[string]string {
	contacts, err := r.LoadContacts(ctx)
	if err != nil {
		r.logger.Warn("contacts unavailable", zap.String("path", r.contactsPath), zap.Error(err))
		return map[string]string{}
	}
	return contacts
}

// LoadCallHistory reads the call-log registry and reports why it could not.
func (r *RegistryReader) LoadCallHistory(ctx context.Context) ([]CallRecord, error) {
	if err := ensureReadable(r.callLogPath); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(r.callLogPath), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	defer sqlDB.Close()

	var rows []callLogRow
	if err := db.WithContext(ctx).
		Table(callLogTable).
		Select(callLogColumns).
		Order(callLogOrder).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	records := make([]CallRecord, 0, len(rows))
	for _, row := range rows {
		number := unknownNumber
		if row.Number != nil {
			number = *row.Number
		}
		records = append(records, CallRecord{
			Number:    number,
			Direction: DirectionFromTypeCode(row.Type),
			Timestamp: time.UnixMilli(row.Date).UTC(),
			Duration:  time.Duration(row.Duration) * time.Second,
		})
	}
	return records, nil
}

// LoadContacts reads the contacts registry and reports why it could not.
func (r *RegistryReader) LoadContacts(ctx context.Context) (map[string]string, error) {
	if err := ensureReadable(r.contactsPath); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(r.contactsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	var document contactsDocument
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	contacts := make(map[string]string, len(document.Contacts))
	for _, entry := range document.Contacts {
		number := NormalizeNumber(strings.TrimSpace(entry.Number))
		if number == "" {
			continue
		}
		contacts[number] = entry.DisplayName
	}
	return contacts, nil
}

func ensureReadable(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path not configured", ErrRegistryUnavailable)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrRegistryUnavailable, path)
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return file.Close()
}
