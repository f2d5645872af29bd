// Package envelope models the transport-level view of a request: the broker
// properties that travel next to the body and never inside it.
package envelope

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/drblury/predictflow/internal/runtime/ids"
)

// Metadata keys used when a Delivery is lifted into a Watermill message.
const (
	KeyCorrelationID = "correlation_id"
	KeyReplyTo       = "reply_to"
	KeyDeliveryTag   = "delivery_tag"
	KeyRedelivered   = "redelivered"
	KeyContentType   = "content_type"
	KeyDestination   = "reply_destination"
)

// Metadata represents string headers carried alongside a message.
type Metadata map[string]string

// Clone returns a shallow copy of the metadata map; never nil.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Delivery is one inbound request as handed to the consumer loop. It is read
// once and discarded after the message has been acked or nacked.
type Delivery struct {
	Tag           uint64
	Body          []byte
	CorrelationID string
	ReplyTo       string
	MessageID     string
	ContentType   string
	Redelivered   bool
	Headers       Metadata
}

// ToMessage lifts the delivery into a Watermill message. Transport properties
// are copied into metadata under the Key* constants and take precedence over
// user headers of the same name.
func (d Delivery) ToMessage(ctx context.Context) *message.Message {
	uuid := d.MessageID
	if uuid == "" {
		uuid = idspkg.NewMessageID()
	}
	msg := message.NewMessage(uuid, d.Body)

	md := message.Metadata(d.Headers.Clone())
	md[KeyCorrelationID] = d.CorrelationID
	md[KeyReplyTo] = d.ReplyTo
	md[KeyDeliveryTag] = strconv.FormatUint(d.Tag, 10)
	md[KeyRedelivered] = strconv.FormatBool(d.Redelivered)
	if d.ContentType != "" {
		md[KeyContentType] = d.ContentType
	}
	msg.Metadata = md

	if ctx != nil {
		msg.SetContext(ctx)
	}
	return msg
}

// CorrelationID returns the correlation id carried by msg, possibly empty.
func CorrelationID(msg *message.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Metadata.Get(KeyCorrelationID)
}

// ReplyTo returns the caller supplied reply destination carried by msg.
func ReplyTo(msg *message.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Metadata.Get(KeyReplyTo)
}

// Destination returns where a reply message must be published.
func Destination(msg *message.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Metadata.Get(KeyDestination)
}
