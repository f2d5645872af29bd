package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	errspkg "github.com/drblury/predictflow/internal/runtime/errors"
	"github.com/drblury/predictflow/internal/runtime/jsoncodec"
)

// wireTicket uses pointers so an absent field can be told apart from a zero.
type wireTicket struct {
	TicketID    *int64 `json:"ticketId"`
	QueueLength *int64 `json:"queue_length"`
	Hour        *int64 `json:"hour"`
	DayOfWeek   *int64 `json:"day_of_week"`
}

// ticketsKey is the only key allowed in the {"tickets": [...]} request shape.
const ticketsKey = "tickets"

// Decode parses a request body. Both a bare JSON array and an object whose
// only key is a "tickets" array are accepted. Absent (or null) feature fields
// default to 0; a missing ticketId or a wrongly typed field is a decode error.
// An empty body or null decodes to zero items. An object without "tickets",
// with a null "tickets", or with any other key is a decode error.
func Decode(body []byte) (BatchRequest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return BatchRequest{Items: []TicketFeatures{}}, nil
	}

	var tickets []wireTicket
	if trimmed[0] == '{' {
		var err error
		if tickets, err = decodeTicketsObject(trimmed); err != nil {
			return BatchRequest{}, err
		}
	} else if err := jsoncodec.Unmarshal(trimmed, &tickets); err != nil {
		return BatchRequest{}, errspkg.Decode("request body", err)
	}

	items := make([]TicketFeatures, len(tickets))
	for i, t := range tickets {
		if t.TicketID == nil {
			return BatchRequest{}, errspkg.Decode(fmt.Sprintf("item %d", i), errspkg.ErrTicketIDMissing)
		}
		items[i] = TicketFeatures{
			TicketID:    *t.TicketID,
			QueueLength: valueOrZero(t.QueueLength),
			Hour:        valueOrZero(t.Hour),
			DayOfWeek:   valueOrZero(t.DayOfWeek),
		}
	}
	return BatchRequest{Items: items}, nil
}

func decodeTicketsObject(body []byte) ([]wireTicket, error) {
	var obj map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(body, &obj); err != nil {
		return nil, errspkg.Decode("request body", err)
	}
	for _, key := range slices.Sorted(maps.Keys(obj)) {
		if key != ticketsKey {
			return nil, errspkg.Decode("request body", fmt.Errorf("unknown field %q", key))
		}
	}
	raw, ok := obj[ticketsKey]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, errspkg.Decode("request body", errspkg.ErrTicketsMissing)
	}

	var tickets []wireTicket
	if err := jsoncodec.Unmarshal(raw, &tickets); err != nil {
		return nil, errspkg.Decode("tickets", err)
	}
	return tickets, nil
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// Encode serializes the reply predictions as a JSON array. An empty batch
// encodes as [] and never as null.
func Encode(resp BatchResponse) ([]byte, error) {
	preds := resp.Predictions
	if preds == nil {
		preds = []Prediction{}
	}
	return jsoncodec.Marshal(preds)
}

// EncodeRequest serializes a batch in the array request shape, every field present.
func EncodeRequest(req BatchRequest) ([]byte, error) {
	items := req.Items
	if items == nil {
		items = []TicketFeatures{}
	}
	return jsoncodec.Marshal(items)
}

// DecodeResponse parses a reply body produced by Encode.
func DecodeResponse(body []byte) ([]Prediction, error) {
	var preds []Prediction
	if err := jsoncodec.Unmarshal(body, &preds); err != nil {
		return nil, errspkg.Decode("reply body", err)
	}
	if preds == nil {
		preds = []Prediction{}
	}
	return preds, nil
}
