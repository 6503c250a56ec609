package database

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/resource/internal/metrics"
)

const startTimeKey = "metrics:start_time"

// RegisterMetricsHooks times every create, query, update and delete statement
// and reports it to m.
func RegisterMetricsHooks(db *gorm.DB, m *metrics.Metrics) error {
	cb := db.Callback()
	steps := []struct {
		name      string
		operation string
		before    func(string) error
		after     func(string) error
	}{
		{
			name:      "create",
			operation: metrics.DBQueryTypeInsert,
			before:    func(n string) error { return cb.Create().Before("gorm:create").Register(n, markStart) },
			after:     func(n string) error { return cb.Create().After("gorm:create").Register(n, record(m, metrics.DBQueryTypeInsert)) },
		},
		{
			name:      "query",
			operation: metrics.DBQueryTypeSelect,
			before:    func(n string) error { return cb.Query().Before("gorm:query").Register(n, markStart) },
			after:     func(n string) error { return cb.Query().After("gorm:query").Register(n, record(m, metrics.DBQueryTypeSelect)) },
		},
		{
			name:      "update",
			operation: metrics.DBQueryTypeUpdate,
			before:    func(n string) error { return cb.Update().Before("gorm:update").Register(n, markStart) },
			after:     func(n string) error { return cb.Update().After("gorm:update").Register(n, record(m, metrics.DBQueryTypeUpdate)) },
		},
		{
			name:      "delete",
			operation: metrics.DBQueryTypeDelete,
			before:    func(n string) error { return cb.Delete().Before("gorm:delete").Register(n, markStart) },
			after:     func(n string) error { return cb.Delete().After("gorm:delete").Register(n, record(m, metrics.DBQueryTypeDelete)) },
		},
	}

	for _, s := range steps {
		if err := s.before("metrics:before_" + s.name); err != nil {
			return errors.Wrapf(err, "register %s timer", s.operation)
		}
		if err := s.after("metrics:after_" + s.name); err != nil {
			return errors.Wrapf(err, "register %s recorder", s.operation)
		}
	}
	return nil
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func record(m *metrics.Metrics, operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		var elapsed time.Duration
		if start, ok := db.InstanceGet(startTimeKey); ok {
			elapsed = time.Since(start.(time.Time))
		}
		m.RecordDatabaseQuery(operation, db.Error == nil || errors.Is(db.Error, gorm.ErrRecordNotFound), elapsed)
	}
}
