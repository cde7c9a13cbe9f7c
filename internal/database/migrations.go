package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/channels"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeChannelKinds = "2025-09-15_normalize_channel_kinds"

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
		{name: migrationNormalizeChannelKinds, apply: normalizeChannelKinds},
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

// normalizeChannelKinds rewrites registrations stored under client aliases to canonical kinds.
func normalizeChannelKinds(db *gorm.DB) error {
	aliases := map[channels.Kind][]string{
		channels.KindNativeDeviceToken:      {"native", "fcm", "apns"},
		channels.KindCrossPlatformPushToken: {"expo", "cross_platform"},
	}
	for canonical, legacy := range aliases {
		err := db.Model(&channels.Registration{}).
			Where("channel_kind IN ?", legacy).
			Update("channel_kind", canonical).Error
		if err != nil {
			return err
		}
	}
	return nil
}
