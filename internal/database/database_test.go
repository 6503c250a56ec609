package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"example.com/backstage/services/resource/config"
	"example.com/backstage/services/resource/internal/clock"
	"example.com/backstage/services/resource/internal/metrics"
	"example.com/backstage/services/resource/internal/models"
)

func TestOpenRecordsQueryMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	db, err := Open(sqlite.Open(dsn), config.DatabaseConfig{LogLevel: "silent"}, clock.Fixed(fixed, time.UTC), m)
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	assert.Equal(t, fixed, db.NowFunc())

	require.NoError(t, db.Create(&models.Resource{Type: models.ResourceTypeMeteringPoint, CountryCode: "EE", Version: 1}).Error)
	var found []models.Resource
	require.NoError(t, db.Find(&found).Error)
	require.Len(t, found, 1)

	assert.GreaterOrEqual(t, queryCount(t, m, metrics.DBQueryTypeInsert), 1.0)
	assert.GreaterOrEqual(t, queryCount(t, m, metrics.DBQueryTypeSelect), 1.0)
}

func queryCount(t *testing.T, m *metrics.Metrics, operation string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "resource_db_queries_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["operation"] == operation && labels["status"] == "success" {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, parseLevel("silent"))
	assert.Equal(t, gormlogger.Error, parseLevel("error"))
	assert.Equal(t, gormlogger.Info, parseLevel("info"))
	assert.Equal(t, gormlogger.Warn, parseLevel("warn"))
	assert.Equal(t, gormlogger.Warn, parseLevel(""))
}
