package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/superdialer/internal/history"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry keys inside the cache namespace.
const (
	Namespace      = "dialer_cache_v2"
	KeyCallHistory = "cached_call_history"
	KeyContacts    = "cached_contacts"
	KeyNoteCounts  = "cached_note_counts"
	keySeparator   = "/"
	columnPrefKey  = "pref_key"
	queryPrefKey   = columnPrefKey + " = ?"
)

var (
	// ErrCacheMiss reports an absent or unreadable cache entry.
	ErrCacheMiss = errors.New("cache: miss")

	errMissingDatabase = errors.New("cache: database handle is required")
)

// Preference is one process-local key-value entry.
type Preference struct {
	Key             string `gorm:"column:pref_key;primaryKey;size:190;not null"`
	Value           string `gorm:"column:value;type:text;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Preference) TableName() string {
	return "preferences"
}

// Config describes the dependencies of the disk cache.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Cache is a best-effort snapshot of the last successful merge.
type Cache struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// New constructs a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get returns the raw value stored under key, or ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	var entries []Preference
	if err := c.db.WithContext(ctx).Where(queryPrefKey, namespaced(key)).Limit(1).Find(&entries).Error; err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheMiss, err)
	}
	if len(entries) == 0 {
		return "", ErrCacheMiss
	}
	return entries[0].Value, nil
}

// Put stores value under key, replacing any previous value.
func (c *Cache) Put(ctx context.Context, key, value string) error {
	entry := Preference{
		Key:             namespaced(key),
		Value:           value,
		UpdatedAtMillis: c.clock().UTC().UnixMilli(),
	}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: columnPrefKey}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_ms"}),
	}).Create(&entry).Error
}

// LoadCallHistory returns the cached call history, or ErrCacheMiss when nothing
// usable is stored.
func (c *Cache) LoadCallHistory(ctx context.Context) ([]history.CallRecord, error) {
	raw, err := c.Get(ctx, KeyCallHistory)
	if err != nil {
		return nil, err
	}
	records := DecodeCallHistory(raw)
	if raw != "" && len(records) == 0 {
		return nil, fmt.Errorf("%w: malformed call history", ErrCacheMiss)
	}
	return records, nil
}

// StoreCallHistory replaces the cached call history.
func (c *Cache) StoreCallHistory(ctx context.Context, records []history.CallRecord) error {
	return c.Put(ctx, KeyCallHistory, EncodeCallHistory(records))
}

// LoadContacts returns the cached number to display-name map.
func (c *Cache) LoadContacts(ctx context.Context) (map[string]string, error) {
	contacts := map[string]string{}
	if err := c.loadJSON(ctx, KeyContacts, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// StoreContacts replaces the cached contacts.
func (c *Cache) StoreContacts(ctx context.Context, contacts map[string]string) error {
	return c.storeJSON(ctx, KeyContacts, contacts)
}

// LoadNoteCounts returns the legacy cached note-count map.
func (c *Cache) LoadNoteCounts(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	if err := c.loadJSON(ctx, KeyNoteCounts, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// StoreNoteCounts replaces the legacy cached note-count map.
func (c *Cache) StoreNoteCounts(ctx context.Context, counts map[string]int) error {
	return c.storeJSON(ctx, KeyNoteCounts, counts)
}

func (c *Cache) loadJSON(ctx context.Context, key string, target any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		c.logger.Debug("cache entry unreadable", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrCacheMiss, err)
	}
	return nil
}

func (c *Cache) storeJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Put(ctx, key, string(raw))
}

func namespaced(key string) string {
	return Namespace + keySeparator + key
}
