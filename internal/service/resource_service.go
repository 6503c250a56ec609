package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/resource/internal/cache"
	"example.com/backstage/services/resource/internal/clock"
	"example.com/backstage/services/resource/internal/metrics"
	"example.com/backstage/services/resource/internal/models"
	"example.com/backstage/services/resource/internal/repository"
	"example.com/backstage/services/resource/internal/validation"
)

// Batch notification summary values.
const (
	BatchStatusCompleted = "COMPLETED"
	BatchOperationNotify = "BATCH_NOTIFICATION"
)

// EventPublisher accepts resource events for asynchronous delivery. An error
// means the event was not accepted at all.
type EventPublisher interface {
	Publish(ctx context.Context, event models.ResourceEvent) error
}

// ResourceService orchestrates validation, merge, persistence and event
// emission for resources.
type ResourceService struct {
	repo      repository.ResourceRepository
	mapper    *Mapper
	publisher EventPublisher
	cache     cache.ResourceCache
	clock     clock.Clock
	metrics   *metrics.Metrics
}

// NewResourceService wires the service. cache and m may be nil.
func NewResourceService(
	repo repository.ResourceRepository,
	publisher EventPublisher,
	resourceCache cache.ResourceCache,
	clk clock.Clock,
	m *metrics.Metrics,
) *ResourceService {
	if resourceCache == nil {
		resourceCache = cache.Disabled()
	}
	return &ResourceService{
		repo:      repo,
		mapper:    NewMapper(clk),
		publisher: publisher,
		cache:     resourceCache,
		clock:     clk,
		metrics:   m,
	}
}

// Create validates and stores a new resource, then announces it.
func (s *ResourceService) Create(ctx context.Context, req *models.ResourceRequest) (resp *models.ResourceResponse, err error) {
	defer s.observe(ctx, "create", &err)()

	if violations := validation.ValidateCreate(req); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	resource := s.mapper.ToEntity(req)
	if err := s.repo.Create(ctx, resource); err != nil {
		return nil, s.translate(err, 0)
	}

	resp = s.mapper.ToResponse(resource)
	log.Info().Int64("resource_id", resource.ID).Msg("Created resource")

	s.invalidate(ctx, resp)
	s.emit(ctx, models.EventTypeCreated, resource.ID, resp)
	return resp, nil
}

// Get returns one resource.
func (s *ResourceService) Get(ctx context.Context, id int64) (resp *models.ResourceResponse, err error) {
	defer s.observe(ctx, "get", &err)()

	if cached, err := s.cache.GetResource(ctx, id); err == nil {
		s.metrics.RecordCacheLookup(true)
		return cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn().Err(err).Int64("resource_id", id).Msg("Cache lookup failed")
	}
	s.metrics.RecordCacheLookup(false)

	resource, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, id)
	}

	resp = s.mapper.ToResponse(resource)
	if err := s.cache.FillResource(ctx, resp); err != nil {
		log.Warn().Err(err).Int64("resource_id", id).Msg("Failed to cache resource")
	}
	return resp, nil
}

// List returns every resource.
func (s *ResourceService) List(ctx context.Context) (resp []*models.ResourceResponse, err error) {
	defer s.observe(ctx, "list", &err)()

	resources, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, s.translate(err, 0)
	}

	resp = make([]*models.ResourceResponse, 0, len(resources))
	for _, r := range resources {
		resp = append(resp, s.mapper.ToResponse(r))
	}
	return resp, nil
}

// Update replaces a resource with the request body. When expectedVersion is
// set it must match the stored version.
func (s *ResourceService) Update(ctx context.Context, id int64, req *models.ResourceRequest, expectedVersion *int64) (resp *models.ResourceResponse, err error) {
	defer s.observe(ctx, "update", &err)()

	if violations := validation.ValidateUpdate(req); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return s.mutate(ctx, id, expectedVersion, func(resource *models.Resource) {
		s.mapper.UpdateEntity(resource, req)
	})
}

// Patch applies the present fields of the request body.
func (s *ResourceService) Patch(ctx context.Context, id int64, req *models.PatchResourceRequest, expectedVersion *int64) (resp *models.ResourceResponse, err error) {
	defer s.observe(ctx, "patch", &err)()

	if violations := validation.ValidatePatch(req); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return s.mutate(ctx, id, expectedVersion, func(resource *models.Resource) {
		s.mapper.PatchEntity(resource, req)
	})
}

func (s *ResourceService) mutate(ctx context.Context, id int64, expectedVersion *int64, apply func(*models.Resource)) (*models.ResourceResponse, error) {
	if err := s.ensureExists(ctx, id); err != nil {
		return nil, err
	}

	var resource *models.Resource
	err := s.repo.Transaction(ctx, func(tx repository.ResourceRepository) error {
		current, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != current.Version {
			return repository.ErrVersionConflict
		}
		apply(current)
		if err := tx.Save(ctx, current); err != nil {
			return err
		}
		resource = current
		return nil
	})
	if err != nil {
		return nil, s.translate(err, id)
	}

	resp := s.mapper.ToResponse(resource)
	log.Info().Int64("resource_id", id).Int64("version", resource.Version).Msg("Updated resource")

	s.invalidate(ctx, resp)
	s.emit(ctx, models.EventTypeUpdated, id, resp)
	return resp, nil
}

// Delete removes a resource and announces the removal without a payload.
func (s *ResourceService) Delete(ctx context.Context, id int64, expectedVersion *int64) (err error) {
	defer s.observe(ctx, "delete", &err)()

	if err := s.ensureExists(ctx, id); err != nil {
		return err
	}

	err = s.repo.Transaction(ctx, func(tx repository.ResourceRepository) error {
		current, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != current.Version {
			return repository.ErrVersionConflict
		}
		return tx.Delete(ctx, current)
	})
	if err != nil {
		return s.translate(err, id)
	}

	log.Info().Int64("resource_id", id).Msg("Deleted resource")
	if err := s.cache.EvictResource(ctx, id); err != nil {
		log.Warn().Err(err).Int64("resource_id", id).Msg("Failed to evict cached resource")
	}
	s.emit(ctx, models.EventTypeDeleted, id, nil)
	return nil
}

// NotifyAll publishes a BATCH_NOTIFICATION event for every stored resource.
// Unlike single mutations, a publisher refusal fails the whole run.
func (s *ResourceService) NotifyAll(ctx context.Context) (resp *models.BatchNotificationResponse, err error) {
	defer s.observe(ctx, "notify_all", &err)()

	resources, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, s.translate(err, 0)
	}

	for _, r := range resources {
		event := models.NewResourceEvent(models.EventTypeBatchNotification, r.ID, s.mapper.ToResponse(r), s.clock.Now())
		if err := s.publish(ctx, event); err != nil {
			log.Error().Err(err).Int64("resource_id", r.ID).Msg("Batch notification aborted")
			return nil, errors.Join(ErrTransportUnavailable, err)
		}
	}

	resp = &models.BatchNotificationResponse{
		OperationID:   uuid.NewString(),
		ResourceCount: len(resources),
		Status:        BatchStatusCompleted,
		ProcessedAt:   models.Timestamp(s.clock.Now()),
		Operation:     BatchOperationNotify,
	}
	log.Info().Str("operation_id", resp.OperationID).Int("resource_count", resp.ResourceCount).Msg("Batch notification completed")
	return resp, nil
}

func (s *ResourceService) ensureExists(ctx context.Context, id int64) error {
	ok, err := s.repo.Exists(ctx, id)
	if err != nil {
		return s.translate(err, id)
	}
	if !ok {
		return &NotFoundError{ID: id}
	}
	return nil
}

// emit publishes after commit. Failures are logged and never reach the caller.
func (s *ResourceService) emit(ctx context.Context, eventType models.EventType, id int64, resp *models.ResourceResponse) {
	event := models.NewResourceEvent(eventType, id, resp, s.clock.Now())
	if err := s.publish(ctx, event); err != nil {
		log.Error().Err(err).
			Str("event_id", event.EventID).
			Str("event_type", string(eventType)).
			Int64("resource_id", id).
			Msg("Failed to publish resource event")
	}
}

func (s *ResourceService) publish(ctx context.Context, event models.ResourceEvent) error {
	if s.publisher == nil {
		return ErrTransportUnavailable
	}
	return s.publisher.Publish(ctx, event)
}

// invalidate drops any cached copy older than the committed write. The next
// read refills the entry.
func (s *ResourceService) invalidate(ctx context.Context, resp *models.ResourceResponse) {
	if err := s.cache.InvalidateResource(ctx, resp.ID, resp.Version); err != nil {
		log.Warn().Err(err).Int64("resource_id", resp.ID).Msg("Failed to invalidate cached resource")
	}
}

func (s *ResourceService) translate(err error, id int64) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &NotFoundError{ID: id}
	case errors.Is(err, repository.ErrVersionConflict):
		s.metrics.RecordVersionConflict()
		return errors.Join(ErrVersionConflict, err)
	case errors.Is(err, repository.ErrIntegrityViolation):
		return errors.Join(ErrIntegrityViolation, err)
	}
	return err
}

func (s *ResourceService) observe(ctx context.Context, operation string, errp *error) func() {
	segment := newrelic.FromContext(ctx).StartSegment("ResourceService/" + operation)
	return func() {
		segment.End()
		s.metrics.RecordOperation(operation, *errp)
	}
}
