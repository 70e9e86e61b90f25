package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
	"github.com/wolfman30/dental-crm-messaging/internal/app/bootstrap"
	"github.com/wolfman30/dental-crm-messaging/internal/channels"
	appconfig "github.com/wolfman30/dental-crm-messaging/internal/config"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

type applier interface {
	ApplyRaw(ctx context.Context, body []byte) (bool, error)
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		panic("DATABASE_URL is required")
	}

	ctx := context.Background()
	stores, err := bootstrap.BuildStores(ctx, cfg, logger)
	if err != nil {
		panic(err)
	}

	var sink alerts.Sink
	if cfg.AMQPURL != "" {
		amqpSink, err := alerts.DialAMQPSink(cfg.AMQPURL, cfg.AMQPAlertsExchange)
		if err != nil {
			logger.Warn("alert broker unavailable, channel alerts will only be logged", "error", err)
		} else {
			sink = amqpSink
		}
	}

	registry := channels.NewRegistry(stores.Channels, &syncPublisher{sink: sink, logger: logger}, nil, logger.Component("channels"))
	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, registry, logger, evt)
	})
}

// handle applies each record and reports transient failures back to SQS so
// only those records are redelivered.
func handle(ctx context.Context, reg applier, logger *logging.Logger, evt events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		changed, err := reg.ApplyRaw(ctx, []byte(record.Body))
		switch {
		case errors.Is(err, channels.ErrUnusableEvent):
			logger.Warn("dropping unusable channel event", "message_id", record.MessageId, "error", err)
		case err != nil:
			logger.Error("channel event apply failed", "message_id", record.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		case changed:
			logger.Info("channel event applied", "message_id", record.MessageId)
		}
	}
	return resp, nil
}

// syncPublisher delivers alerts before returning; the Lambda runtime may
// freeze the process as soon as the handler returns.
type syncPublisher struct {
	sink   alerts.Sink
	logger *logging.Logger
}

func (p *syncPublisher) Publish(ctx context.Context, a alerts.Alert) alerts.Alert {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Severity == "" {
		a.Severity = alerts.SeverityInfo
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	p.logger.Info("alert raised", "alert_id", a.ID, "type", a.Type, "severity", a.Severity, "message", a.Message)
	if p.sink == nil {
		return a
	}
	if err := p.sink.Deliver(ctx, a); err != nil {
		p.logger.Warn("alert sink delivery failed", "type", a.Type, "error", err)
	}
	return a
}
