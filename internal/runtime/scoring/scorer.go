// Package scoring defines the contract of the batch predictor and the guard
// that turns every way a predictor can misbehave into a scoring error.
package scoring

import (
	"context"

	"github.com/drblury/predictflow/internal/runtime/batch"
)

// Scorer predicts a waiting time for every ticket. The result must have the
// same length as features and result[i] must belong to features[i].
// Implementations may hold read-only state such as a loaded model but must
// not mutate it per call.
type Scorer interface {
	Score(ctx context.Context, features []batch.TicketFeatures) ([]float64, error)
}

// Func adapts a plain function to the Scorer interface.
type Func func(ctx context.Context, features []batch.TicketFeatures) ([]float64, error)

func (f Func) Score(ctx context.Context, features []batch.TicketFeatures) ([]float64, error) {
	return f(ctx, features)
}
