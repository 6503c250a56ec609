package database

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/backstage/services/resource/config"
	"example.com/backstage/services/resource/internal/clock"
	"example.com/backstage/services/resource/internal/metrics"
	"example.com/backstage/services/resource/internal/models"
)

// Connect opens the PostgreSQL pool described by cfg.
func Connect(cfg config.DatabaseConfig, clk clock.Clock, m *metrics.Metrics) (*gorm.DB, error) {
	db, err := Open(postgres.Open(cfg.DSN), cfg, clk, m)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database handle")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.AutoMigrate {
		if err := models.SetupModels(db); err != nil {
			return nil, errors.Wrap(err, "failed to run migrations")
		}
	}

	log.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("Connected to database")
	return db, nil
}

// Open wraps gorm.Open with the service's logger, clock and metric hooks.
// Tests call it with an SQLite dialector.
func Open(dialector gorm.Dialector, cfg config.DatabaseConfig, clk clock.Clock, m *metrics.Metrics) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(cfg.LogLevel, cfg.SlowThreshold),
		NowFunc:        clk.Now,
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if m != nil {
		if err := RegisterMetricsHooks(db, m); err != nil {
			return nil, err
		}
	}
	return db, nil
}
