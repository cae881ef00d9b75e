package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alien88ted/presale-monitor/service/metrics"
)

// Publisher defines the interface for publishing presale events to NATS.
type Publisher interface {
	// PublishDeposit publishes one newly observed deposit to JetStream
	// on the subject "presale.deposits.{wallet}".
	PublishDeposit(ctx context.Context, event *DepositEvent) error

	// PublishMetrics announces a completed metrics recomputation on the
	// subject "presale.metrics.{wallet}".
	PublishMetrics(ctx context.Context, event *MetricsEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes presale events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for presale events.
	StreamName = "PRESALE"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "presale.>"

	// StreamRetention is how long messages are retained.
	StreamRetention = 30 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("presale-monitor"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Presale wallet deposit and metrics events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishDeposit publishes a single deposit event.
func (p *JetStreamPublisher) PublishDeposit(ctx context.Context, event *DepositEvent) error {
	subject := fmt.Sprintf("presale.deposits.%s", event.Wallet)
	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish deposit: %w", err)
	}

	p.logger.Debug("published deposit event",
		"subject", subject,
		"signature", event.Signature,
		"usd_value", event.USDValue,
	)
	return nil
}

// PublishMetrics publishes a metrics refresh announcement.
func (p *JetStreamPublisher) PublishMetrics(ctx context.Context, event *MetricsEvent) error {
	subject := fmt.Sprintf("presale.metrics.%s", event.Wallet)
	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish metrics event: %w", err)
	}

	p.logger.Debug("published metrics event",
		"subject", subject,
		"total_raised_usd", event.TotalRaisedUSD,
	)
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status)
	}
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
