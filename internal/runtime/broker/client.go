// Package broker is the thin AMQP 0-9-1 client the worker and the caller-side
// client share: one connection, one channel, durable queues, manual acks and
// default-exchange publishing.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/predictflow/internal/runtime/envelope"
	errspkg "github.com/drblury/predictflow/internal/runtime/errors"
	idspkg "github.com/drblury/predictflow/internal/runtime/ids"
	"github.com/drblury/predictflow/internal/runtime/logging"
)

// ContentTypeJSON is set on every published message.
const ContentTypeJSON = "application/json"

// DefaultPublishTimeout bounds Publish when Options.PublishTimeout is zero.
const DefaultPublishTimeout = 5 * time.Second

// Channel is the subset of *amqp.Channel the client uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Close() error
	IsClosed() bool
}

// Connection is the subset of *amqp.Connection the client uses.
type Connection interface {
	Channel() (Channel, error)
	Close() error
	IsClosed() bool
}

// Dial opens the AMQP connection. Tests replace it to avoid a live broker.
var Dial = func(url string, cfg amqp.Config) (Connection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	return c.Connection.Channel()
}

// Options tunes a Client.
type Options struct {
	// PublishTimeout bounds one publish. Zero means DefaultPublishTimeout.
	PublishTimeout time.Duration
	// ConnectionName is advertised to the broker as connection_name.
	ConnectionName string
	// ConsumerTag is passed to basic.consume. Empty lets the server choose.
	ConsumerTag string
	Logger      logging.ServiceLogger
}

// Outgoing is a message to publish on the default exchange.
type Outgoing struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
}

// Client owns one connection and one channel. Its methods are not meant to be
// called concurrently except Close and IsConnected.
type Client struct {
	conn   Connection
	ch     Channel
	opts   Options
	logger logging.ServiceLogger

	mu     sync.Mutex
	closed bool
}

// Connect dials url and opens a channel. An empty or malformed url is a
// configuration error; failing to reach the broker is a connection error.
// There is no retry.
func Connect(ctx context.Context, url string, opts Options) (*Client, error) {
	if url == "" {
		return nil, errspkg.Config("connect", errspkg.ErrBrokerURLRequired)
	}
	if _, err := amqp.ParseURI(url); err != nil {
		return nil, errspkg.Config("connect", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errspkg.Connection("connect", err)
	}

	props := amqp.NewConnectionProperties()
	if opts.ConnectionName != "" {
		props.SetClientConnectionName(opts.ConnectionName)
	}
	conn, err := Dial(url, amqp.Config{Properties: props})
	if err != nil {
		return nil, errspkg.Connection("dial", err)
	}
	return NewClient(conn, opts)
}

// NewClient opens a channel on an existing connection. The connection is
// closed if the channel cannot be opened.
func NewClient(conn Connection, opts Options) (*Client, error) {
	if conn == nil {
		return nil, errspkg.Connection("open channel", errors.New("connection is nil"))
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errspkg.Connection("open channel", err)
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{conn: conn, ch: ch, opts: opts, logger: logger}, nil
}

// DeclareQueue declares a durable, non-exclusive, non-auto-delete queue.
// Declaring an existing queue with the same properties is a no-op.
func (c *Client) DeclareQueue(name string) error {
	if name == "" {
		return errspkg.Config("declare queue", errspkg.ErrQueueRequired)
	}
	if _, err := c.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return errspkg.Connection("declare queue "+name, err)
	}
	c.logger.Debug("Queue declared", logging.LogFields{"queue": name})
	return nil
}

// DeclareReplyQueue declares an exclusive, auto-delete queue with a server
// generated name and returns that name.
func (c *Client) DeclareReplyQueue() (string, error) {
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", errspkg.Connection("declare reply queue", err)
	}
	return q.Name, nil
}

// SetPrefetch limits the number of unacknowledged deliveries on the channel.
func (c *Client) SetPrefetch(n int) error {
	if n < 0 {
		return errspkg.Config("set prefetch", fmt.Errorf("prefetch cannot be negative: %d", n))
	}
	if err := c.ch.Qos(n, 0, false); err != nil {
		return errspkg.Connection("set prefetch", err)
	}
	return nil
}

// Consume starts a manual-ack consumer on queue. The returned channel is
// closed when the broker cancels the consumer, the channel dies or ctx ends.
func (c *Client) Consume(ctx context.Context, queue string) (<-chan envelope.Delivery, error) {
	if queue == "" {
		return nil, errspkg.Config("consume", errspkg.ErrQueueRequired)
	}
	src, err := c.ch.ConsumeWithContext(ctx, queue, c.opts.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, errspkg.Connection("consume "+queue, err)
	}

	out := make(chan envelope.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- toDelivery(d):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func toDelivery(d amqp.Delivery) envelope.Delivery {
	var headers envelope.Metadata
	if len(d.Headers) > 0 {
		headers = make(envelope.Metadata, len(d.Headers))
		for k, v := range d.Headers {
			headers[k] = fmt.Sprint(v)
		}
	}
	return envelope.Delivery{
		Tag:           d.DeliveryTag,
		Body:          d.Body,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		MessageID:     d.MessageId,
		ContentType:   d.ContentType,
		Redelivered:   d.Redelivered,
		Headers:       headers,
	}
}

// Publish sends body to destination through the default exchange with the
// correlation id copied verbatim.
func (c *Client) Publish(ctx context.Context, destination string, body []byte, correlationID string) error {
	return c.PublishMessage(ctx, destination, Outgoing{Body: body, CorrelationID: correlationID})
}

// PublishMessage sends msg to destination through the default exchange as a
// persistent JSON message with a fresh ULID message id.
func (c *Client) PublishMessage(ctx context.Context, destination string, msg Outgoing) error {
	if destination == "" {
		return errspkg.Publish("publish", errspkg.ErrReplyTargetMissing)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return errspkg.Publish("publish to "+destination, err)
	}

	err := c.ch.PublishWithContext(ctx, "", destination, false, false, amqp.Publishing{
		ContentType:   ContentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		MessageId:     idspkg.NewMessageID(),
		Timestamp:     time.Now().UTC(),
		Body:          msg.Body,
	})
	if err != nil {
		return errspkg.Publish("publish to "+destination, err)
	}
	return nil
}

// Ack acknowledges one delivery.
func (c *Client) Ack(tag uint64) error {
	if err := c.ch.Ack(tag, false); err != nil {
		return errspkg.Connection("ack", err)
	}
	return nil
}

// Nack rejects one delivery. With requeue false the broker drops it or routes
// it to a dead-letter exchange if the queue has one.
func (c *Client) Nack(tag uint64, requeue bool) error {
	if err := c.ch.Nack(tag, false, requeue); err != nil {
		return errspkg.Connection("nack", err)
	}
	return nil
}

// IsConnected reports whether both the channel and the connection are open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.ch.IsClosed() && !c.conn.IsClosed()
}

// Close closes the channel and then the connection. Further calls return nil.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if !c.ch.IsClosed() {
		if err := c.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return errspkg.Connection("close", errors.Join(errs...))
	}
	return nil
}
