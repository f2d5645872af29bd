package consumer

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/predictflow/internal/runtime/errors"
	"github.com/drblury/predictflow/internal/runtime/logging"
	"github.com/drblury/predictflow/internal/runtime/metrics"
)

// JobContext provides information about one delivery to hooks.
type JobContext struct {
	// Queue is the queue the delivery was consumed from.
	Queue string
	// MessageUUID is the message id of the request, or a generated ULID.
	MessageUUID   string
	CorrelationID string
	DeliveryTag   uint64
	Redelivered   bool
	// Metadata contains the request metadata.
	Metadata message.Metadata
	// Context is the context associated with the delivery.
	Context context.Context
	// StartedAt is when the delivery was taken off the channel.
	StartedAt time.Time
	// Duration is how long the delivery took up to its ack or nack (only set
	// in OnJobDone and OnJobError).
	Duration time.Duration
	// BatchSize is the number of decoded tickets, or -1 if decoding did not
	// complete.
	BatchSize int
	// FailedIn is the state the delivery failed in (only set in OnJobError).
	FailedIn State
}

// JobHooks defines callbacks for delivery lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type JobHooks struct {
	// OnJobStart is called before the delivery is decoded.
	OnJobStart func(ctx JobContext)

	// OnJobDone is called after the reply was published and the delivery acked.
	OnJobDone func(ctx JobContext)

	// OnJobError is called after a failed delivery was nacked.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks, creating a new JobHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// start, done and failed recover panics raised by a hook so a broken hook
// cannot stop the consumer loop or skip the settlement of a delivery.
func (h JobHooks) start(ctx JobContext, logger logging.ServiceLogger) {
	if h.OnJobStart != nil {
		runHook(logger, "OnJobStart", func() { h.OnJobStart(ctx) })
	}
}

func (h JobHooks) done(ctx JobContext, logger logging.ServiceLogger) {
	if h.OnJobDone != nil {
		runHook(logger, "OnJobDone", func() { h.OnJobDone(ctx) })
	}
}

func (h JobHooks) failed(ctx JobContext, err error, logger logging.ServiceLogger) {
	if h.OnJobError != nil {
		runHook(logger, "OnJobError", func() { h.OnJobError(ctx, err) })
	}
}

func runHook(logger logging.ServiceLogger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job hook panicked", fmt.Errorf("panic in %s: %v", name, r), logging.LogFields{
				"hook":  name,
				"stack": string(debug.Stack()),
			})
		}
	}()
	fn()
}

// LoggingHooks returns hooks that log delivery lifecycle events.
func LoggingHooks(logger logging.ServiceLogger) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Delivery received", logging.LogFields{
				"queue":          ctx.Queue,
				"message_uuid":   ctx.MessageUUID,
				"correlation_id": ctx.CorrelationID,
				"delivery_tag":   ctx.DeliveryTag,
				"redelivered":    ctx.Redelivered,
			})
		},
		OnJobDone: func(ctx JobContext) {
			logger.Info("Prediction reply sent", logging.LogFields{
				"queue":          ctx.Queue,
				"message_uuid":   ctx.MessageUUID,
				"correlation_id": ctx.CorrelationID,
				"batch_size":     ctx.BatchSize,
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Delivery rejected", err, logging.LogFields{
				"queue":          ctx.Queue,
				"message_uuid":   ctx.MessageUUID,
				"correlation_id": ctx.CorrelationID,
				"kind":           string(errspkg.KindOf(err)),
				"failed_in":      ctx.FailedIn.String(),
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that feed m.
func MetricsHooks(m *metrics.WorkerMetrics) JobHooks {
	return JobHooks{
		OnJobStart: func(JobContext) {
			m.Started()
		},
		OnJobDone: func(ctx JobContext) {
			m.Decoded(ctx.BatchSize)
			m.Acked(ctx.BatchSize, ctx.Duration)
		},
		OnJobError: func(ctx JobContext, err error) {
			if ctx.BatchSize >= 0 {
				m.Decoded(ctx.BatchSize)
			}
			m.Nacked(string(errspkg.KindOf(err)), ctx.Duration)
		},
	}
}
