package messaging

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/resource/config"
)

// Sender is the part of *azservicebus.Sender the publisher uses.
type Sender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
}

// Receiver is the part of *azservicebus.Receiver the dead-letter consumer uses.
type Receiver interface {
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
}

// ServiceBus owns the Azure Service Bus client and the entities the service
// talks to: the resource topic and the dead-letter queue.
type ServiceBus struct {
	client *azservicebus.Client
	cfg    config.MessagingConfig
}

// NewServiceBus connects with the configured connection string. Transport
// retries follow cfg.Retry for every sender and receiver built from it.
func NewServiceBus(cfg config.MessagingConfig) (*ServiceBus, error) {
	if cfg.ConnectionStr == "" {
		return nil, errors.New("messaging connection string is not configured")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionStr, &azservicebus.ClientOptions{
		RetryOptions: azservicebus.RetryOptions{
			MaxRetries:    cfg.Retry.MaxRetries,
			RetryDelay:    cfg.Retry.Delay,
			MaxRetryDelay: cfg.Retry.MaxDelay,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	log.Info().Str("topic", cfg.Topic).Str("dead_letter_queue", cfg.DeadLetterQueue).Msg("Connected to Azure Service Bus")
	return &ServiceBus{client: client, cfg: cfg}, nil
}

// TopicSender returns a sender for resource events.
func (b *ServiceBus) TopicSender() (*azservicebus.Sender, error) {
	sender, err := b.client.NewSender(b.cfg.Topic, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create sender for %s", b.cfg.Topic)
	}
	return sender, nil
}

// DeadLetterSender returns a sender for events that could not be delivered.
func (b *ServiceBus) DeadLetterSender() (*azservicebus.Sender, error) {
	sender, err := b.client.NewSender(b.cfg.DeadLetterQueue, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create sender for %s", b.cfg.DeadLetterQueue)
	}
	return sender, nil
}

// DeadLetterReceiver returns a peek-lock receiver on the dead-letter queue.
func (b *ServiceBus) DeadLetterReceiver() (*azservicebus.Receiver, error) {
	receiver, err := b.client.NewReceiverForQueue(b.cfg.DeadLetterQueue, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create receiver for %s", b.cfg.DeadLetterQueue)
	}
	return receiver, nil
}

// Close closes the client and every link created from it.
func (b *ServiceBus) Close(ctx context.Context) error {
	return b.client.Close(ctx)
}
