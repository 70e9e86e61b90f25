package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// sqsAPI is the subset of *sqs.Client used by the consumer.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// QueueConsumer drains provider status events published to SQS by the
// gateway and feeds them to the registry.
type QueueConsumer struct {
	client      sqsAPI
	queueURL    string
	registry    *Registry
	logger      *logging.Logger
	maxMessages int32
	waitSeconds int32
	errorDelay  time.Duration
}

func NewQueueConsumer(client sqsAPI, queueURL string, registry *Registry, logger *logging.Logger) *QueueConsumer {
	if client == nil {
		panic("channels: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("channels: SQS queueURL cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueConsumer{
		client:      client,
		queueURL:    queueURL,
		registry:    registry,
		logger:      logger.Component("channel-events"),
		maxMessages: 10,
		waitSeconds: 20,
		errorDelay:  5 * time.Second,
	}
}

// Run long-polls until ctx is cancelled.
func (c *QueueConsumer) Run(ctx context.Context) {
	c.logger.Info("channel event consumer started", "queue_url", c.queueURL)
	for {
		if ctx.Err() != nil {
			c.logger.Info("channel event consumer stopped")
			return
		}
		if _, err := c.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("channel event poll failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.errorDelay):
			}
		}
	}
}

// Poll receives one batch. Messages are deleted once applied or when they can
// never be applied; transient failures are left for redelivery.
func (c *QueueConsumer) Poll(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.maxMessages,
		WaitTimeSeconds:     c.waitSeconds,
	})
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, msg := range out.Messages {
		changed, err := c.registry.ApplyRaw(ctx, []byte(aws.ToString(msg.Body)))
		if err != nil && !errors.Is(err, ErrUnusableEvent) {
			c.logger.Error("channel event apply failed", "message_id", aws.ToString(msg.MessageId), "error", err)
			continue
		}
		if err != nil {
			c.logger.Warn("dropping unusable channel event", "message_id", aws.ToString(msg.MessageId), "error", err)
		}
		if changed {
			applied++
		}
		c.delete(ctx, msg.ReceiptHandle)
	}
	return applied, nil
}

// ErrUnusableEvent marks a queued event that can never be applied.
var ErrUnusableEvent = errors.New("channels: unusable status event")

// ApplyRaw decodes a queued StatusEvent and applies it. Malformed events and
// events for unknown channels are wrapped in ErrUnusableEvent.
func (r *Registry) ApplyRaw(ctx context.Context, body []byte) (bool, error) {
	var ev StatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnusableEvent, err)
	}
	changed, err := r.Apply(ctx, ev)
	if errors.Is(err, ErrChannelNotFound) || errors.Is(err, ErrInvalidChannel) {
		return false, fmt.Errorf("%w: %s %s: %v", ErrUnusableEvent, ev.ChannelID, ev.Kind, err)
	}
	return changed, err
}

func (c *QueueConsumer) delete(ctx context.Context, receipt *string) {
	if aws.ToString(receipt) == "" {
		return
	}
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receipt,
	}); err != nil {
		c.logger.Warn("failed to delete channel event", "error", err)
	}
}
