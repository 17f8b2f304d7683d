package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/superdialer/internal/cache"
	"github.com/MarcoPoloResearchLab/superdialer/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationTrimTagLabels     = "2026-10-01_trim_tag_labels"
	migrationDropStaleCacheKey = "2026-10-01_drop_stale_cache_keys"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationTrimTagLabels, apply: trimTagLabels},
		{name: migrationDropStaleCacheKey, apply: dropStaleCacheKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// trimTagLabels normalizes labels written before input was trimmed so
// "Work" and "Work " count as one distinct label.
func trimTagLabels(db *gorm.DB) error {
	return db.Model(&notes.Tag{}).
		Where("label <> trim(label)").
		Update("label", gorm.Expr("trim(label)")).Error
}

// dropStaleCacheKeys removes snapshot entries written under older cache
// namespaces; their formats are not readable any more.
func dropStaleCacheKeys(db *gorm.DB) error {
	return db.Where("pref_key NOT LIKE ?", cache.Namespace+"/%").
		Delete(&cache.Preference{}).Error
}
