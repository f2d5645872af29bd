// Package batch holds the typed request and reply records exchanged over the
// queue, the body codec, and the pure response builder.
package batch

// TicketFeatures is one ticket to score. TicketID is opaque and echoed verbatim.
type TicketFeatures struct {
	TicketID    int64 `json:"ticketId"`
	QueueLength int64 `json:"queue_length"`
	Hour        int64 `json:"hour"`
	DayOfWeek   int64 `json:"day_of_week"`
}

// BatchRequest is an ordered batch of tickets. Predictions are matched back to
// items by position.
type BatchRequest struct {
	Items []TicketFeatures
}

// Len returns the number of items in the batch.
func (r BatchRequest) Len() int {
	return len(r.Items)
}

// Prediction is one reply record.
type Prediction struct {
	TicketID          int64   `json:"ticketId"`
	PredictedWaitTime float64 `json:"predicted_wait_time"`
}

// BatchResponse pairs the predictions with the correlation id taken from the
// inbound transport properties, never from the body.
type BatchResponse struct {
	CorrelationID string
	Predictions   []Prediction
}
