package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"example.com/backstage/services/resource/config"
	"example.com/backstage/services/resource/internal/metrics"
	"example.com/backstage/services/resource/internal/models"
)

// Application properties attached to dead-lettered events.
const (
	PropertyExceptionMessage = "x-exception-message"
	PropertyOriginTopic      = "x-origin-topic"
	PropertyPartitionKey     = "x-partition-key"
	PropertyEventType        = "eventType"
	PropertyResourceID       = "resourceId"
)

var (
	ErrPublisherClosed    = errors.New("event publisher is closed")
	ErrPublisherSaturated = errors.New("event publisher queue is full")
)

// PublisherOptions tunes the publisher.
type PublisherOptions struct {
	Topic           string
	DeadLetterQueue string
	// Lanes is the number of ordered delivery goroutines. Events with the same
	// partition key always use the same lane.
	Lanes      int
	LaneBuffer int
	// SendTimeout bounds one send including the client's own retries.
	SendTimeout     time.Duration
	SessionOrdering bool
}

// OptionsFromConfig maps messaging configuration onto publisher options.
func OptionsFromConfig(cfg config.MessagingConfig) PublisherOptions {
	return PublisherOptions{
		Topic:           cfg.Topic,
		DeadLetterQueue: cfg.DeadLetterQueue,
		Lanes:           cfg.Lanes,
		LaneBuffer:      cfg.LaneBuffer,
		SendTimeout:     cfg.SendTimeout,
		SessionOrdering: cfg.SessionOrdering,
	}
}

type envelope struct {
	event models.ResourceEvent
	body  []byte
}

// Publisher delivers resource events to the topic asynchronously. Publish only
// enqueues; delivery, logging and dead-letter routing happen on lane
// goroutines.
type Publisher struct {
	sender     Sender
	deadLetter Sender
	opts       PublisherOptions
	log        zerolog.Logger
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	lanes  []chan envelope
	wg     sync.WaitGroup
}

// NewPublisher starts the lanes. deadLetter may be nil, in which case
// undeliverable events are only logged.
func NewPublisher(sender, deadLetter Sender, opts PublisherOptions, logger zerolog.Logger, m *metrics.Metrics) *Publisher {
	if opts.Lanes <= 0 {
		opts.Lanes = 1
	}
	if opts.LaneBuffer <= 0 {
		opts.LaneBuffer = 256
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}

	p := &Publisher{
		sender:     sender,
		deadLetter: deadLetter,
		opts:       opts,
		log:        logger,
		metrics:    m,
		lanes:      make([]chan envelope, opts.Lanes),
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan envelope, opts.LaneBuffer)
		p.wg.Add(1)
		go p.run(p.lanes[i])
	}
	return p
}

// Publish enqueues event and returns without waiting for the broker. It fails
// only when the event cannot be accepted.
func (p *Publisher) Publish(ctx context.Context, event models.ResourceEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "serialize resource event")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.lanes[p.laneFor(event.PartitionKey())] <- envelope{event: event, body: body}:
		return nil
	default:
		p.metrics.RecordEventPublished(string(event.EventType), "rejected", 0)
		return ErrPublisherSaturated
	}
}

// Close stops accepting events and waits until queued events are delivered or
// ctx expires.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, lane := range p.lanes {
			close(lane)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain event publisher")
	}
}

func (p *Publisher) laneFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.lanes)))
}

func (p *Publisher) run(lane <-chan envelope) {
	defer p.wg.Done()
	for env := range lane {
		p.deliver(env)
	}
}

func (p *Publisher) deliver(env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.SendTimeout)
	defer cancel()

	ev := env.event
	start := time.Now()
	err := p.sender.SendMessage(ctx, p.message(env), nil)
	if err == nil {
		p.metrics.RecordEventPublished(string(ev.EventType), "sent", time.Since(start))
		p.log.Info().
			Str("event_id", ev.EventID).
			Str("event_type", string(ev.EventType)).
			Int64("resource_id", ev.ResourceID).
			Str("topic", p.opts.Topic).
			Msg("Published resource event")
		return
	}

	p.metrics.RecordEventPublished(string(ev.EventType), "failed", time.Since(start))
	p.log.Error().Err(err).
		Str("event_id", ev.EventID).
		Str("event_type", string(ev.EventType)).
		Int64("resource_id", ev.ResourceID).
		Str("topic", p.opts.Topic).
		Msg("Failed to publish resource event")
	p.routeToDeadLetter(env, err)
}

func (p *Publisher) message(env envelope) *azservicebus.Message {
	key := env.event.PartitionKey()
	msg := &azservicebus.Message{
		MessageID:    to.Ptr(env.event.EventID),
		Body:         env.body,
		ContentType:  to.Ptr("application/json"),
		Subject:      to.Ptr(string(env.event.EventType)),
		PartitionKey: to.Ptr(key),
		ApplicationProperties: map[string]any{
			PropertyEventType:  string(env.event.EventType),
			PropertyResourceID: env.event.ResourceID,
		},
	}
	if p.opts.SessionOrdering {
		msg.SessionID = to.Ptr(key)
	}
	return msg
}

func (p *Publisher) routeToDeadLetter(env envelope, cause error) {
	ev := env.event
	if p.deadLetter == nil {
		p.log.Error().
			Str("event_id", ev.EventID).
			RawJSON("event", env.body).
			Msg("Dropping undeliverable resource event")
		return
	}

	key := ev.PartitionKey()
	msg := &azservicebus.Message{
		MessageID:    to.Ptr(ev.EventID),
		Body:         env.body,
		ContentType:  to.Ptr("application/json"),
		Subject:      to.Ptr(string(ev.EventType)),
		PartitionKey: to.Ptr(key),
		ApplicationProperties: map[string]any{
			PropertyEventType:        string(ev.EventType),
			PropertyResourceID:       ev.ResourceID,
			PropertyExceptionMessage: cause.Error(),
			PropertyOriginTopic:      p.opts.Topic,
			PropertyPartitionKey:     key,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.SendTimeout)
	defer cancel()
	if err := p.deadLetter.SendMessage(ctx, msg, nil); err != nil {
		p.metrics.RecordEventPublished(string(ev.EventType), "lost", 0)
		p.log.Error().Err(err).
			Str("event_id", ev.EventID).
			RawJSON("event", env.body).
			Msg("Failed to dead-letter resource event")
		return
	}

	p.metrics.RecordEventPublished(string(ev.EventType), "dead_lettered", 0)
	p.log.Warn().
		Str("event_id", ev.EventID).
		Str("dead_letter_queue", p.opts.DeadLetterQueue).
		Msg("Routed resource event to dead-letter queue")
}
