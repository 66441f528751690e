package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"go.uber.org/zap"
)

// JSContext is the subset of JetStream the NATS reporter publishes through.
// Tests provide an in-memory implementation.
type JSContext interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// WrapJetStream adapts a nats.JetStreamContext to JSContext.
func WrapJetStream(js nats.JetStreamContext) JSContext {
	return js
}

// NATSConfig holds configuration for the NATS reporter
type NATSConfig struct {
	ResultSubject  string        // Subject for completion records (default: "workflow.result")
	TriggerSubject string        // Subject for trigger events (default: "workflow.trigger")
	MaxRetries     int           // Retries after the first publish attempt (default: 3)
	RetryDelay     time.Duration // Delay between retries (default: 1s)
	Logger         *zap.Logger
}

// DefaultNATSConfig returns the default NATS reporter configuration
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		ResultSubject:  "workflow.result",
		TriggerSubject: "workflow.trigger",
		MaxRetries:     3,
		RetryDelay:     time.Second,
	}
}

// NATSReporter publishes trigger events and completion records as JSON to
// JetStream. Completion records use the execution id as the JetStream
// message id so redelivered reports are de-duplicated by the stream.
type NATSReporter struct {
	js     JSContext
	config NATSConfig
	logger *zap.Logger
}

var _ Reporter = (*NATSReporter)(nil)

// NewNATSReporter creates a reporter. A nil config uses DefaultNATSConfig.
func NewNATSReporter(js JSContext, config *NATSConfig) (*NATSReporter, error) {
	if js == nil {
		return nil, sdkerrors.NewError(sdkerrors.CodeInvalidConfig, "jetstream context is required", sdkerrors.ErrNotConnected)
	}
	cfg := *DefaultNATSConfig()
	if config != nil {
		if config.ResultSubject != "" {
			cfg.ResultSubject = config.ResultSubject
		}
		if config.TriggerSubject != "" {
			cfg.TriggerSubject = config.TriggerSubject
		}
		if config.MaxRetries >= 0 {
			cfg.MaxRetries = config.MaxRetries
		}
		if config.RetryDelay > 0 {
			cfg.RetryDelay = config.RetryDelay
		}
		cfg.Logger = config.Logger
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSReporter{js: js, config: cfg, logger: logger}, nil
}

// Config returns the effective configuration
func (r *NATSReporter) Config() NATSConfig {
	return r.config
}

// Trigger publishes the trigger event to the trigger subject.
func (r *NATSReporter) Trigger(ctx context.Context, e TriggerEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return sdkerrors.NewError(sdkerrors.CodeMarshalFailed, "failed to marshal trigger event", err)
	}
	return r.publishWithRetry(ctx, r.config.TriggerSubject, data)
}

// Complete publishes the completion record to the result subject.
func (r *NATSReporter) Complete(ctx context.Context, c Completion) error {
	data, err := json.Marshal(c)
	if err != nil {
		return sdkerrors.NewError(sdkerrors.CodeMarshalFailed, "failed to marshal completion record", err)
	}

	var opts []nats.PubOpt
	if c.ExecutionID != "" {
		opts = append(opts, nats.MsgId("completion-"+c.ExecutionID))
	}
	if err := r.publishWithRetry(ctx, r.config.ResultSubject, data, opts...); err != nil {
		return err
	}

	r.logger.Info("Published completion record",
		zap.String("subject", r.config.ResultSubject),
		zap.String("execution_id", c.ExecutionID),
		zap.String("status", string(c.Status)))
	return nil
}

func (r *NATSReporter) publishWithRetry(ctx context.Context, subject string, data []byte, opts ...nats.PubOpt) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Info("Retrying publish",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.config.MaxRetries+1),
				zap.String("subject", subject),
				zap.Duration("retry_delay", r.config.RetryDelay))
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled during retry: %w", ctx.Err())
			case <-time.After(r.config.RetryDelay):
			}
		}

		_, err := r.js.Publish(subject, data, opts...)
		if err == nil {
			return nil
		}
		lastErr = err
		r.logger.Warn("Publish attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", r.config.MaxRetries+1),
			zap.String("subject", subject),
			zap.Error(err))
	}

	return sdkerrors.NewError(sdkerrors.CodePublishFailed,
		fmt.Sprintf("publish to %s failed after %d attempts", subject, r.config.MaxRetries+1),
		fmt.Errorf("%w: %v", sdkerrors.ErrPublishFailed, lastErr))
}
