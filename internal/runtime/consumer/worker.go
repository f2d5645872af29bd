// Package consumer runs the request/reply loop: take one delivery, decode it,
// score it, publish the reply and settle the delivery with exactly one ack or
// one nack without requeue.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/predictflow/internal/runtime/batch"
	"github.com/drblury/predictflow/internal/runtime/config"
	"github.com/drblury/predictflow/internal/runtime/envelope"
	errspkg "github.com/drblury/predictflow/internal/runtime/errors"
	idspkg "github.com/drblury/predictflow/internal/runtime/ids"
	"github.com/drblury/predictflow/internal/runtime/logging"
	"github.com/drblury/predictflow/internal/runtime/scoring"
)

// Broker is what the Worker needs from the broker client.
type Broker interface {
	Consume(ctx context.Context, queue string) (<-chan envelope.Delivery, error)
	Publish(ctx context.Context, destination string, body []byte, correlationID string) error
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// Options configures a Worker.
type Options struct {
	// Queue is the request queue consumed by Run.
	Queue string
	// ReplyMode is config.ReplyModeReplyTo (the default) or config.ReplyModeFixed.
	ReplyMode string
	// ReplyQueue is the fixed reply destination, and the fallback for requests
	// without reply_to in reply_to mode.
	ReplyQueue string
	Logger     logging.ServiceLogger
	Hooks      JobHooks
	// Middlewares are applied inside DefaultMiddlewares.
	Middlewares []message.HandlerMiddleware
}

// Outcome describes how one delivery ended.
type Outcome struct {
	// Final is StateAcked or StateNacked.
	Final State
	// FailedIn is the state the failure happened in; StateIdle when acked.
	FailedIn State
	// Err is the failure that caused the nack.
	Err error
	// DispositionErr is set when the ack or nack itself could not be sent.
	DispositionErr error
	CorrelationID  string
	Predictions    int
	Duration       time.Duration
}

// Worker processes deliveries one at a time.
type Worker struct {
	broker  Broker
	scorer  scoring.Scorer
	opts    Options
	logger  logging.ServiceLogger
	handler message.HandlerFunc
	state   atomic.Int32
}

// New builds a Worker. A scorer that is not already a *scoring.Guard is
// wrapped in one without a timeout.
func New(b Broker, s scoring.Scorer, opts Options) (*Worker, error) {
	if b == nil {
		return nil, errspkg.Config("new worker", errspkg.ErrBrokerRequired)
	}
	if s == nil {
		return nil, errspkg.Config("new worker", errspkg.ErrScorerRequired)
	}
	if opts.Queue == "" {
		return nil, errspkg.Config("new worker", errspkg.ErrQueueRequired)
	}
	switch opts.ReplyMode {
	case "":
		opts.ReplyMode = config.ReplyModeReplyTo
	case config.ReplyModeReplyTo:
	case config.ReplyModeFixed:
		if opts.ReplyQueue == "" {
			return nil, errspkg.Config("new worker", fmt.Errorf("fixed reply mode: %w", errspkg.ErrQueueRequired))
		}
	default:
		return nil, errspkg.Config("new worker", fmt.Errorf("unsupported reply mode %q", opts.ReplyMode))
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if _, ok := s.(*scoring.Guard); !ok {
		guard, err := scoring.NewGuard(s, 0)
		if err != nil {
			return nil, err
		}
		s = guard
	}

	w := &Worker{
		broker: b,
		scorer: s,
		opts:   opts,
		logger: opts.Logger.With(logging.LogFields{"queue": opts.Queue}),
	}
	middlewares := append(DefaultMiddlewares(opts.Queue, w.logger), opts.Middlewares...)
	w.handler = chain(w.process, middlewares...)
	return w, nil
}

// State reports the state of the delivery currently being processed.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run consumes the request queue until ctx is cancelled or the delivery
// channel closes. A delivery already being handled when ctx is cancelled is
// finished first; one received after cancellation is left unsettled.
// Cancellation returns nil; a closed delivery channel is a connection error.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.broker.Consume(ctx, w.opts.Queue)
	if err != nil {
		return errspkg.Wrap(errspkg.KindConnection, "consume "+w.opts.Queue, err)
	}
	w.logger.Info("Consuming requests", logging.LogFields{"reply_mode": w.opts.ReplyMode})

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Consumer stopping", logging.LogFields{"reason": ctx.Err().Error()})
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errspkg.Connection("consume "+w.opts.Queue, errspkg.ErrDeliveriesClosed)
			}
			if ctx.Err() != nil {
				// left unacked; the broker redelivers it once the channel closes
				return nil
			}
			w.Handle(context.WithoutCancel(ctx), d)
		}
	}
}

// Handle runs one delivery through the state machine and settles it.
func (w *Worker) Handle(ctx context.Context, d envelope.Delivery) Outcome {
	started := time.Now()
	cyc := newCycle(&w.state)
	msg := d.ToMessage(withCycle(ctx, cyc))

	job := JobContext{
		Queue:         w.opts.Queue,
		MessageUUID:   msg.UUID,
		CorrelationID: d.CorrelationID,
		DeliveryTag:   d.Tag,
		Redelivered:   d.Redelivered,
		Metadata:      msg.Metadata,
		Context:       ctx,
		StartedAt:     started,
		BatchSize:     -1,
	}
	w.opts.Hooks.start(job, w.logger)

	out := Outcome{CorrelationID: d.CorrelationID}
	replies, err := w.handler(msg)
	if err == nil {
		err = w.publish(ctx, replies)
	}

	job.BatchSize = cyc.batchSize
	if err != nil {
		out.FailedIn = cyc.state
		out.Err = classify(err, cyc.state)
		cyc.set(StateFailed)
		if nackErr := w.broker.Nack(d.Tag, false); nackErr != nil {
			out.DispositionErr = nackErr
			w.logger.Error("Failed to nack delivery", nackErr, logging.LogFields{"delivery_tag": d.Tag})
		}
		cyc.set(StateNacked)
		out.Final = StateNacked
	} else {
		if ackErr := w.broker.Ack(d.Tag); ackErr != nil {
			out.DispositionErr = ackErr
			w.logger.Error("Failed to ack delivery", ackErr, logging.LogFields{"delivery_tag": d.Tag})
		}
		cyc.set(StateAcked)
		out.Final = StateAcked
		out.Predictions = cyc.batchSize
	}
	out.Duration = time.Since(started)
	job.Duration = out.Duration

	if out.Err != nil {
		job.FailedIn = out.FailedIn
		w.opts.Hooks.failed(job, out.Err, w.logger)
	} else {
		w.opts.Hooks.done(job, w.logger)
	}
	cyc.set(StateIdle)
	return out
}

// process is the pipeline the middlewares wrap. It returns exactly one reply
// addressed through envelope.KeyDestination.
func (w *Worker) process(msg *message.Message) ([]*message.Message, error) {
	cyc := cycleFrom(msg.Context())

	cyc.set(StateDecoding)
	req, err := batch.Decode(msg.Payload)
	if err != nil {
		return nil, err
	}
	cyc.batchSize = req.Len()

	cyc.set(StateScoring)
	scores, err := w.scorer.Score(msg.Context(), req.Items)
	if err != nil {
		return nil, err
	}
	resp, err := batch.BuildResponse(envelope.CorrelationID(msg), req, scores)
	if err != nil {
		return nil, err
	}

	cyc.set(StateResponding)
	destination, err := w.replyDestination(msg)
	if err != nil {
		return nil, err
	}
	body, err := batch.Encode(resp)
	if err != nil {
		return nil, errspkg.Publish("encode reply", err)
	}

	reply := message.NewMessage(idspkg.NewMessageID(), body)
	reply.Metadata.Set(envelope.KeyCorrelationID, resp.CorrelationID)
	reply.Metadata.Set(envelope.KeyDestination, destination)
	return message.Messages{reply}, nil
}

func (w *Worker) replyDestination(msg *message.Message) (string, error) {
	if w.opts.ReplyMode == config.ReplyModeFixed {
		return w.opts.ReplyQueue, nil
	}
	if replyTo := envelope.ReplyTo(msg); replyTo != "" {
		return replyTo, nil
	}
	if w.opts.ReplyQueue != "" {
		return w.opts.ReplyQueue, nil
	}
	return "", errspkg.Publish("resolve reply destination", errspkg.ErrReplyTargetMissing)
}

func (w *Worker) publish(ctx context.Context, replies []*message.Message) error {
	if len(replies) != 1 {
		return errspkg.Publish("publish reply", fmt.Errorf("expected one reply, got %d", len(replies)))
	}
	reply := replies[0]
	err := w.broker.Publish(ctx, envelope.Destination(reply), reply.Payload, envelope.CorrelationID(reply))
	return errspkg.Wrap(errspkg.KindPublish, "publish reply", err)
}

// classify gives a kind to errors that do not carry one, such as recovered
// panics, from the state the delivery failed in.
func classify(err error, failedIn State) error {
	if errspkg.KindOf(err) != errspkg.KindUnknown {
		return err
	}
	op := "process"
	var panicErr middleware.RecoveredPanicError
	if errors.As(err, &panicErr) {
		op = "recover panic"
	}
	switch failedIn {
	case StateDecoding:
		return errspkg.Decode(op, err)
	case StateScoring:
		return errspkg.Scoring(op, err)
	case StateResponding:
		return errspkg.Publish(op, err)
	default:
		return errspkg.Wrap(errspkg.KindDecode, op, err)
	}
}
