package consumer

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/predictflow/internal/runtime/envelope"
	"github.com/drblury/predictflow/internal/runtime/logging"
)

// TracerName is the OpenTelemetry instrumentation name of the consumer.
const TracerName = "github.com/drblury/predictflow/consumer"

// DefaultMiddlewares returns the chain every Worker runs its pipeline under,
// outermost first: panic recovery, tracing and payload debug logging.
func DefaultMiddlewares(queue string, logger logging.ServiceLogger) []message.HandlerMiddleware {
	return []message.HandlerMiddleware{
		middleware.Recoverer,
		TracerMiddleware(queue),
		LogMessagesMiddleware(logger),
	}
}

// TracerMiddleware wraps message handling in a consumer span.
func TracerMiddleware(queue string) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer(TracerName)
			ctx, span := tracer.Start(
				msg.Context(),
				queue+" process",
				trace.WithSpanKind(trace.SpanKindConsumer),
			)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("messaging.system", "rabbitmq"),
				attribute.String("messaging.destination.name", queue),
				attribute.String("messaging.message.id", msg.UUID),
				attribute.String("messaging.message.conversation_id", envelope.CorrelationID(msg)),
				attribute.Int("messaging.message.body.size", len(msg.Payload)),
			)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at debug level.
func LogMessagesMiddleware(logger logging.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", logging.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// chain applies middlewares so that the first one is the outermost.
func chain(h message.HandlerFunc, middlewares ...message.HandlerMiddleware) message.HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			h = middlewares[i](h)
		}
	}
	return h
}
