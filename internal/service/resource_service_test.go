package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/resource/config"
	"example.com/backstage/services/resource/internal/cache"
	"example.com/backstage/services/resource/internal/clock"
	"example.com/backstage/services/resource/internal/database"
	"example.com/backstage/services/resource/internal/metrics"
	"example.com/backstage/services/resource/internal/models"
	"example.com/backstage/services/resource/internal/repository"
)

// MockEventPublisher records published events.
type MockEventPublisher struct {
	mock.Mock
	mu     sync.Mutex
	events []models.ResourceEvent
}

func (m *MockEventPublisher) Publish(ctx context.Context, event models.ResourceEvent) error {
	args := m.Called(ctx, event)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.events = append(m.events, event)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockEventPublisher) Events() []models.ResourceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ResourceEvent(nil), m.events...)
}

func newTestService(t *testing.T) (*ResourceService, *MockEventPublisher, repository.ResourceRepository) {
	t.Helper()
	return newTestServiceWithCache(t, cache.Disabled())
}

func newTestServiceWithCache(t *testing.T, resourceCache cache.ResourceCache) (*ResourceService, *MockEventPublisher, repository.ResourceRepository) {
	t.Helper()
	clk := clock.New(time.UTC)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())

	db, err := database.Open(sqlite.Open(dsn), config.DatabaseConfig{LogLevel: "silent"}, clk, metrics.NewMetrics())
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := repository.NewResourceRepository(db, clk)
	publisher := new(MockEventPublisher)
	svc := NewResourceService(repo, publisher, resourceCache, clk, metrics.NewMetrics())
	return svc, publisher, repo
}

func TestCreateResource(t *testing.T) {
	svc, publisher, _ := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	resp, err := svc.Create(context.Background(), createRequest())
	require.NoError(t, err)
	assert.NotZero(t, resp.ID)
	assert.Equal(t, int64(1), resp.Version)
	assert.Equal(t, resp.CreatedAt, resp.UpdatedAt)
	require.NotNil(t, resp.Location)
	assert.Equal(t, "EE", resp.Location.CountryCode)
	require.Len(t, resp.Characteristics, 1)
	assert.NotZero(t, resp.Characteristics[0].ID)

	events := publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeCreated, events[0].EventType)
	assert.Equal(t, resp.ID, events[0].ResourceID)
	require.NotNil(t, events[0].Resource)
	assert.Equal(t, resp.Version, events[0].Resource.Version)
	assert.NotEmpty(t, events[0].EventID)
}

func TestCreateRejectsCountryMismatchWithoutSideEffects(t *testing.T) {
	svc, publisher, repo := newTestService(t)

	req := createRequest()
	req.Location.CountryCode = "FI"

	_, err := svc.Create(context.Background(), req)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	require.Len(t, vErr.Violations, 1)
	assert.Contains(t, vErr.Violations[0].Message, "must match location country code 'FI'")

	all, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestCreateSurvivesPublisherFailure(t *testing.T) {
	svc, publisher, repo := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	resp, err := svc.Create(context.Background(), createRequest())
	require.NoError(t, err)

	stored, err := repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
}

func TestUpdateResource(t *testing.T) {
	svc, publisher, _ := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)

	req := createRequest()
	req.CountryCode = "FI"
	req.Location.CountryCode = "FI"
	req.Location.City = "Helsinki"
	req.Location.PostalCode = "00100"
	req.Characteristics = []models.CharacteristicRequest{
		{Code: "S1", Type: ptr(models.CharacteristicTypeConnectionPointStatus), Value: "ON"},
		{Code: "S2", Type: ptr(models.CharacteristicTypeConsumptionType), Value: "BIZ"},
	}

	updated, err := svc.Update(ctx, created.ID, req, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "FI", updated.CountryCode)
	assert.Equal(t, created.Location.ID, updated.Location.ID)
	assert.Equal(t, "FI", updated.Location.CountryCode)
	require.Len(t, updated.Characteristics, 2)
	assert.True(t, created.CreatedAt.Time().Equal(updated.CreatedAt.Time()))

	events := publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypeUpdated, events[1].EventType)
	assert.Equal(t, int64(2), events[1].Resource.Version)
}

func TestUpdateCharacteristicsPresence(t *testing.T) {
	svc, publisher, repo := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)
	require.Len(t, created.Characteristics, 1)

	body := `{"type":"METERING_POINT","countryCode":"EE","location":{"streetAddress":"Narva mnt 7","city":"Tallinn","postalCode":"10117","countryCode":"EE"}}`
	var withoutKey models.ResourceRequest
	require.NoError(t, json.Unmarshal([]byte(body), &withoutKey))
	require.Nil(t, withoutKey.Characteristics)

	updated, err := svc.Update(ctx, created.ID, &withoutKey, nil)
	require.NoError(t, err)
	require.Len(t, updated.Characteristics, 1)
	assert.Equal(t, created.Characteristics[0].ID, updated.Characteristics[0].ID)
	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Characteristics, 1)

	body = `{"type":"METERING_POINT","countryCode":"EE","location":{"streetAddress":"Narva mnt 7","city":"Tallinn","postalCode":"10117","countryCode":"EE"},"characteristics":[]}`
	var emptyList models.ResourceRequest
	require.NoError(t, json.Unmarshal([]byte(body), &emptyList))

	updated, err = svc.Update(ctx, created.ID, &emptyList, nil)
	require.NoError(t, err)
	assert.Empty(t, updated.Characteristics)
	stored, err = repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Characteristics)
}

func TestPatchCountryAlignsStoredLocation(t *testing.T) {
	svc, publisher, repo := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)

	var req models.PatchResourceRequest
	require.NoError(t, json.Unmarshal([]byte(`{"countryCode":"FI"}`), &req))

	patched, err := svc.Patch(ctx, created.ID, &req, nil)
	require.NoError(t, err)
	assert.Equal(t, "FI", patched.CountryCode)
	assert.Equal(t, "FI", patched.Location.CountryCode)

	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "FI", stored.CountryCode)
	assert.Equal(t, "FI", stored.Location.CountryCode)
	assert.Equal(t, created.Location.ID, stored.Location.ID)
	assert.Equal(t, "Narva mnt 5", stored.Location.StreetAddress)
}

func TestUpdateMissingResource(t *testing.T) {
	svc, publisher, _ := newTestService(t)

	_, err := svc.Update(context.Background(), 404, createRequest(), nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "Resource not found with id: 404")
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestUpdateWithStaleVersion(t *testing.T) {
	svc, publisher, repo := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)
	_, err = svc.Update(ctx, created.ID, createRequest(), ptr(int64(1)))
	require.NoError(t, err)

	_, err = svc.Update(ctx, created.ID, createRequest(), ptr(int64(1)))
	require.ErrorIs(t, err, ErrVersionConflict)

	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Len(t, publisher.Events(), 2)
}

func TestPatchResource(t *testing.T) {
	svc, publisher, _ := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)

	patched, err := svc.Patch(ctx, created.ID, &models.PatchResourceRequest{
		Type: ptr(models.ResourceTypeConnectionPoint),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ResourceTypeConnectionPoint, patched.Type)
	assert.Equal(t, int64(2), patched.Version)
	assert.Equal(t, created.Location, patched.Location)
	assert.Equal(t, created.Characteristics, patched.Characteristics)

	empty := []models.CharacteristicRequest{}
	patched, err = svc.Patch(ctx, created.ID, &models.PatchResourceRequest{Characteristics: &empty}, nil)
	require.NoError(t, err)
	assert.Empty(t, patched.Characteristics)
	assert.Equal(t, int64(3), patched.Version)

	_, err = svc.Patch(ctx, created.ID, &models.PatchResourceRequest{CountryCode: ptr("XX")}, nil)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))

	_, err = svc.Patch(ctx, 999, &models.PatchResourceRequest{}, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteResource(t *testing.T) {
	svc, publisher, _ := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)

	err = svc.Delete(ctx, created.ID, ptr(int64(7)))
	require.ErrorIs(t, err, ErrVersionConflict)

	require.NoError(t, svc.Delete(ctx, created.ID, nil))
	_, err = svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)

	events := publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypeDeleted, events[1].EventType)
	assert.Equal(t, created.ID, events[1].ResourceID)
	assert.Nil(t, events[1].Resource)

	err = svc.Delete(ctx, created.ID, nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, publisher.Events(), 2)
}

func TestGetIsStableWithoutWrites(t *testing.T) {
	svc, publisher, _ := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)

	first, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	second, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first, second)
}

func TestGetThroughRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	resourceCache := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	svc, publisher, repo := newTestServiceWithCache(t, resourceCache)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.GetResourceCacheKey(created.ID)))

	first, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(cache.GetResourceCacheKey(created.ID)))

	// Served from the cache while the row is untouched by the service.
	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, stored))
	hit, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, hit.ID)
	assert.Equal(t, first.Version, hit.Version)
	assert.Equal(t, first.Location.City, hit.Location.City)
	assert.Len(t, hit.Characteristics, 1)

	mr.FlushAll()
	created, err = svc.Create(ctx, createRequest())
	require.NoError(t, err)
	stale, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)

	var req models.PatchResourceRequest
	require.NoError(t, json.Unmarshal([]byte(`{"countryCode":"FI"}`), &req))
	patched, err := svc.Patch(ctx, created.ID, &req, nil)
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.GetResourceCacheKey(created.ID)))

	// A read that loaded the old row before the patch cannot cache it.
	require.NoError(t, resourceCache.FillResource(ctx, stale))
	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, patched.Version, got.Version)
	assert.Equal(t, "FI", got.CountryCode)

	require.NoError(t, svc.Delete(ctx, created.ID, nil))
	_, err = svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// Nor can one that loaded it before the delete.
	require.NoError(t, resourceCache.FillResource(ctx, got))
	_, err = svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNotifyAll(t *testing.T) {
	svc, publisher, _ := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	summary, err := svc.NotifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ResourceCount)
	assert.Equal(t, "COMPLETED", summary.Status)
	assert.Equal(t, "BATCH_NOTIFICATION", summary.Operation)
	assert.Empty(t, publisher.Events())

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, createRequest())
		require.NoError(t, err)
	}

	summary, err = svc.NotifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ResourceCount)
	_, err = uuid.Parse(summary.OperationID)
	assert.NoError(t, err)

	var batch int
	for _, e := range publisher.Events() {
		if e.EventType == models.EventTypeBatchNotification {
			batch++
			assert.NotNil(t, e.Resource)
		}
	}
	assert.Equal(t, 3, batch)
}

func TestNotifyAllPropagatesPublisherRefusal(t *testing.T) {
	svc, publisher, _ := newTestService(t)
	ctx := context.Background()

	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e models.ResourceEvent) bool {
		return e.EventType == models.EventTypeCreated
	})).Return(nil)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e models.ResourceEvent) bool {
		return e.EventType == models.EventTypeBatchNotification
	})).Return(errors.New("publisher closed"))

	_, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)

	_, err = svc.NotifyAll(ctx)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestServiceWithoutPublisher(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.publisher = nil
	ctx := context.Background()

	_, err := svc.Create(ctx, createRequest())
	require.NoError(t, err, "mutations do not depend on the transport")

	_, err = svc.NotifyAll(ctx)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestListResources(t *testing.T) {
	svc, publisher, _ := newTestService(t)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.Create(ctx, createRequest())
	require.NoError(t, err)
	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
