package batch

import (
	"fmt"
	"math"

	errspkg "github.com/drblury/predictflow/internal/runtime/errors"
)

// BuildResponse zips request items with scorer output by position and rounds
// every prediction to two decimals. It performs no I/O.
func BuildResponse(correlationID string, req BatchRequest, scores []float64) (BatchResponse, error) {
	if len(scores) != len(req.Items) {
		return BatchResponse{}, errspkg.Scoring("build response",
			fmt.Errorf("%w: got %d for %d items", errspkg.ErrLengthMismatch, len(scores), len(req.Items)))
	}

	preds := make([]Prediction, len(req.Items))
	for i, item := range req.Items {
		preds[i] = Prediction{
			TicketID:          item.TicketID,
			PredictedWaitTime: Round2(scores[i]),
		}
	}
	return BatchResponse{CorrelationID: correlationID, Predictions: preds}, nil
}

// exactIntegerBound is 2^52: every float64 at or beyond it is a whole number.
const exactIntegerBound = 1 << 52

// Round2 rounds half away from zero to two decimal places. Values at or above
// 2^52 in magnitude have no fractional part and are returned unchanged, which
// keeps v*100 from overflowing to infinity.
func Round2(v float64) float64 {
	if math.Abs(v) >= exactIntegerBound || math.IsNaN(v) {
		return v
	}
	return math.Round(v*100) / 100
}
