package messaging

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog"

	"example.com/backstage/services/resource/internal/models"
)

// DeadLetterConsumer drains the dead-letter queue into a DeadLetterHandler.
type DeadLetterConsumer struct {
	receiver Receiver
	handler  *DeadLetterHandler
	topic    string
	batch    int
	backoff  time.Duration
	log      zerolog.Logger
}

// NewDeadLetterConsumer reads up to batch messages per receive. topic is
// reported for messages that do not name their origin.
func NewDeadLetterConsumer(receiver Receiver, handler *DeadLetterHandler, topic string, batch int, logger zerolog.Logger) *DeadLetterConsumer {
	if batch <= 0 {
		batch = 10
	}
	return &DeadLetterConsumer{
		receiver: receiver,
		handler:  handler,
		topic:    topic,
		batch:    batch,
		backoff:  2 * time.Second,
		log:      logger,
	}
}

// Run receives until ctx is cancelled.
func (c *DeadLetterConsumer) Run(ctx context.Context) error {
	c.log.Info().Str("topic", c.topic).Msg("Starting dead-letter consumer")
	for {
		messages, err := c.receiver.ReceiveMessages(ctx, c.batch, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("Error receiving dead-lettered messages")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		for _, msg := range messages {
			c.process(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *DeadLetterConsumer) process(ctx context.Context, msg *azservicebus.ReceivedMessage) {
	c.handler.Handle(ctx, DeadLetterFromMessage(msg, c.topic))

	// Completing acknowledges the record; handling never asks for redelivery.
	if err := c.receiver.CompleteMessage(context.WithoutCancel(ctx), msg, nil); err != nil {
		c.log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Failed to complete dead-lettered message")
	}
}

// DeadLetterFromMessage maps a received Service Bus message onto a DeadLetter.
// A body that does not decode still yields a DeadLetter whose reason is the
// decode failure.
func DeadLetterFromMessage(msg *azservicebus.ReceivedMessage, defaultTopic string) DeadLetter {
	dl := DeadLetter{Topic: defaultTopic, Offset: -1}

	if err := json.Unmarshal(msg.Body, &dl.Event); err != nil {
		reason := "failed to deserialize event: " + err.Error()
		dl.Reason = &reason
		dl.Event = models.ResourceEvent{EventID: msg.MessageID}
		if t, ok := stringProperty(msg, PropertyEventType); ok {
			dl.Event.EventType = models.EventType(t)
		}
		if id, ok := int64Property(msg, PropertyResourceID); ok {
			dl.Event.ResourceID = id
		}
	}

	if dl.Reason == nil {
		if r, ok := stringProperty(msg, PropertyExceptionMessage); ok {
			dl.Reason = &r
		} else if msg.DeadLetterErrorDescription != nil {
			dl.Reason = msg.DeadLetterErrorDescription
		} else if msg.DeadLetterReason != nil {
			dl.Reason = msg.DeadLetterReason
		}
	}

	if t, ok := stringProperty(msg, PropertyOriginTopic); ok {
		dl.Topic = t
	} else if msg.DeadLetterSource != nil {
		dl.Topic = *msg.DeadLetterSource
	}

	if k, ok := stringProperty(msg, PropertyPartitionKey); ok {
		dl.Partition = k
	} else if msg.PartitionKey != nil {
		dl.Partition = *msg.PartitionKey
	} else if msg.SessionID != nil {
		dl.Partition = *msg.SessionID
	}

	if msg.SequenceNumber != nil {
		dl.Offset = *msg.SequenceNumber
	}
	return dl
}

func stringProperty(msg *azservicebus.ReceivedMessage, key string) (string, bool) {
	v, ok := msg.ApplicationProperties[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func int64Property(msg *azservicebus.ReceivedMessage, key string) (int64, bool) {
	switch v := msg.ApplicationProperties[key].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}
