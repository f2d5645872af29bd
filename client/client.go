// Package client is the caller side of the prediction RPC: it publishes a
// batch to the request queue with a fresh correlation id and an exclusive
// reply queue, and waits for the matching reply.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/predictflow/internal/runtime/batch"
	brokerpkg "github.com/drblury/predictflow/internal/runtime/broker"
	"github.com/drblury/predictflow/internal/runtime/config"
	"github.com/drblury/predictflow/internal/runtime/envelope"
	errspkg "github.com/drblury/predictflow/internal/runtime/errors"
	idspkg "github.com/drblury/predictflow/internal/runtime/ids"
	"github.com/drblury/predictflow/internal/runtime/logging"
)

// DefaultTimeout bounds Predict when the context has no deadline.
const DefaultTimeout = 30 * time.Second

type (
	// Ticket is one ticket to score.
	Ticket = batch.TicketFeatures
	// Prediction is the waiting time predicted for one ticket.
	Prediction = batch.Prediction
)

// Broker is what the Client needs from the broker client.
type Broker interface {
	DeclareReplyQueue() (string, error)
	Consume(ctx context.Context, queue string) (<-chan envelope.Delivery, error)
	PublishMessage(ctx context.Context, destination string, msg brokerpkg.Outgoing) error
	Ack(tag uint64) error
	Close() error
}

// Options configures a Client.
type Options struct {
	// RequestQueue defaults to predict_request.
	RequestQueue string
	// Timeout bounds a Predict call whose context has no deadline. Zero means
	// DefaultTimeout.
	Timeout        time.Duration
	PublishTimeout time.Duration
	Logger         logging.ServiceLogger
}

// Client multiplexes concurrent Predict calls over one reply queue.
type Client struct {
	broker       Broker
	requestQueue string
	replyQueue   string
	timeout      time.Duration
	logger       logging.ServiceLogger

	mu      sync.Mutex
	pending map[string]chan []byte

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Dial connects to url and returns a ready Client.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	b, err := brokerpkg.Connect(ctx, url, brokerpkg.Options{
		PublishTimeout: opts.PublishTimeout,
		ConnectionName: "predict-client",
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	c, err := New(b, opts)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return c, nil
}

// New declares the reply queue on b and starts routing replies. The Client
// owns b from now on and closes it in Close.
func New(b Broker, opts Options) (*Client, error) {
	if b == nil {
		return nil, errspkg.Config("new client", errspkg.ErrBrokerRequired)
	}
	if opts.RequestQueue == "" {
		opts.RequestQueue = config.DefaultRequestQueue
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	replyQueue, err := b.DeclareReplyQueue()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	replies, err := b.Consume(ctx, replyQueue)
	if err != nil {
		cancel()
		return nil, err
	}

	c := &Client{
		broker:       b,
		requestQueue: opts.RequestQueue,
		replyQueue:   replyQueue,
		timeout:      opts.Timeout,
		logger:       opts.Logger.With(logging.LogFields{"reply_queue": replyQueue}),
		pending:      make(map[string]chan []byte),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go c.route(replies)
	return c, nil
}

// ReplyQueue returns the name of the exclusive reply queue.
func (c *Client) ReplyQueue() string {
	return c.replyQueue
}

func (c *Client) route(replies <-chan envelope.Delivery) {
	defer close(c.done)
	for d := range replies {
		if err := c.broker.Ack(d.Tag); err != nil {
			c.logger.Error("Failed to ack reply", err, logging.LogFields{"correlation_id": d.CorrelationID})
		}
		c.mu.Lock()
		waiter, ok := c.pending[d.CorrelationID]
		delete(c.pending, d.CorrelationID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("Dropping reply without waiter", logging.LogFields{"correlation_id": d.CorrelationID})
			continue
		}
		waiter <- d.Body
	}
}

// Predict sends tickets as one batch and returns the predictions in the same
// order. It fails with a decode error if the reply cannot be parsed and with
// ErrClientClosed if the reply consumer stops first.
func (c *Client) Predict(ctx context.Context, tickets []Ticket) ([]Prediction, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := batch.EncodeRequest(batch.BatchRequest{Items: tickets})
	if err != nil {
		return nil, errspkg.Publish("encode request", err)
	}

	correlationID := idspkg.NewMessageID()
	waiter := make(chan []byte, 1)
	select {
	case <-c.done:
		return nil, errspkg.ErrClientClosed
	default:
	}
	c.mu.Lock()
	c.pending[correlationID] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}()

	err = c.broker.PublishMessage(ctx, c.requestQueue, brokerpkg.Outgoing{
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       c.replyQueue,
	})
	if err != nil {
		return nil, err
	}

	select {
	case reply := <-waiter:
		return batch.DecodeResponse(reply)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errspkg.ErrClientClosed
	}
}

// Close stops the reply consumer and closes the broker connection.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.broker.Close()
	})
	return err
}
