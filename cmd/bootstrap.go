package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/resource/config"
	"example.com/backstage/services/resource/internal/cache"
	"example.com/backstage/services/resource/internal/clock"
	"example.com/backstage/services/resource/internal/database"
	"example.com/backstage/services/resource/internal/messaging"
	"example.com/backstage/services/resource/internal/metrics"
	"example.com/backstage/services/resource/internal/repository"
	"example.com/backstage/services/resource/internal/service"
	"example.com/backstage/services/resource/internal/tracing"
)

// app holds the components shared by the serve, worker and notify commands.
type app struct {
	cfg       config.Config
	clock     clock.Clock
	db        *gorm.DB
	metrics   *metrics.Metrics
	tracer    *tracing.Tracer
	cache     *cache.RedisCache
	bus       *messaging.ServiceBus
	publisher *messaging.Publisher
	service   *service.ResourceService
}

func newApp(cfg config.Config) (*app, error) {
	loc, err := clock.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	clk := clock.New(loc)

	metricsCollector := metrics.NewMetrics()

	db, err := database.Connect(cfg.DB, clk, metricsCollector)
	if err != nil {
		return nil, err
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = cache.Disabled()
	}

	a := &app{
		cfg:     cfg,
		clock:   clk,
		db:      db,
		metrics: metricsCollector,
		tracer:  tracer,
		cache:   redisCache,
	}

	// A nil interface makes every publish fail with ErrTransportUnavailable.
	var publisher service.EventPublisher
	if cfg.Messaging.Enabled {
		if err := a.connectMessaging(); err != nil {
			log.Error().Err(err).Msg("Failed to initialize messaging, resource events will not be published")
		} else {
			publisher = a.publisher
		}
	} else {
		log.Warn().Msg("Messaging disabled, resource events will not be published")
	}

	repo := repository.NewResourceRepository(db, clk)
	a.service = service.NewResourceService(repo, publisher, redisCache, clk, metricsCollector)
	return a, nil
}

func (a *app) connectMessaging() error {
	bus, err := messaging.NewServiceBus(a.cfg.Messaging)
	if err != nil {
		return err
	}

	topicSender, err := bus.TopicSender()
	if err != nil {
		_ = bus.Close(context.Background())
		return err
	}

	// Without a dead-letter sender failed events are only logged.
	var deadLetter messaging.Sender
	if a.cfg.Messaging.DeadLetterQueue != "" {
		dlt, err := bus.DeadLetterSender()
		if err != nil {
			_ = bus.Close(context.Background())
			return err
		}
		deadLetter = dlt
	}

	a.bus = bus
	a.publisher = messaging.NewPublisher(topicSender, deadLetter, messaging.OptionsFromConfig(a.cfg.Messaging), log.Logger, a.metrics)
	return nil
}

// close drains pending events and releases connections.
func (a *app) close(ctx context.Context) {
	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to drain resource event publisher")
		}
	}
	if a.bus != nil {
		if err := a.bus.Close(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to close Service Bus client")
		}
	}
	if err := a.cache.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Redis client")
	}
	a.tracer.Close()

	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	} else {
		log.Warn().Err(errors.Wrap(err, "failed to get database handle")).Msg("Failed to close database")
	}
}
