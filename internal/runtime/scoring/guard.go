package scoring

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/drblury/predictflow/internal/runtime/batch"
	errspkg "github.com/drblury/predictflow/internal/runtime/errors"
)

// Guard wraps a Scorer and enforces its contract. Errors, panics, length
// mismatches, NaN or infinite predictions and (when Timeout > 0) calls that
// outlive Timeout are all reported as scoring errors.
//
// With a timeout the wrapped scorer runs on its own goroutine; a scorer that
// ignores ctx keeps running after the guard has given up on it.
type Guard struct {
	Scorer  Scorer
	Timeout time.Duration
}

// NewGuard returns a Guard around s.
func NewGuard(s Scorer, timeout time.Duration) (*Guard, error) {
	if s == nil {
		return nil, errspkg.ErrScorerRequired
	}
	if timeout < 0 {
		return nil, errspkg.Config("scoring timeout", fmt.Errorf("timeout cannot be negative: %v", timeout))
	}
	return &Guard{Scorer: s, Timeout: timeout}, nil
}

type scoreResult struct {
	scores []float64
	err    error
}

// Score implements Scorer.
func (g *Guard) Score(ctx context.Context, features []batch.TicketFeatures) ([]float64, error) {
	if g == nil || g.Scorer == nil {
		return nil, errspkg.Scoring("score", errspkg.ErrScorerRequired)
	}

	var res scoreResult
	if g.Timeout <= 0 {
		res = g.call(ctx, features)
	} else {
		callCtx, cancel := context.WithTimeout(ctx, g.Timeout)
		defer cancel()

		done := make(chan scoreResult, 1)
		go func() { done <- g.call(callCtx, features) }()

		select {
		case res = <-done:
		case <-callCtx.Done():
			return nil, errspkg.Scoring("score", callCtx.Err())
		}
	}

	if res.err != nil {
		return nil, errspkg.Scoring("score", res.err)
	}
	if len(res.scores) != len(features) {
		return nil, errspkg.Scoring("score",
			fmt.Errorf("%w: got %d for %d items", errspkg.ErrLengthMismatch, len(res.scores), len(features)))
	}
	for i, v := range res.scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errspkg.Scoring("score", fmt.Errorf("%w: item %d is %v", errspkg.ErrNonFinitePrediction, i, v))
		}
	}
	return res.scores, nil
}

func (g *Guard) call(ctx context.Context, features []batch.TicketFeatures) (res scoreResult) {
	defer func() {
		if r := recover(); r != nil {
			res = scoreResult{err: fmt.Errorf("scorer panicked: %v\n%s", r, debug.Stack())}
		}
	}()
	scores, err := g.Scorer.Score(ctx, features)
	return scoreResult{scores: scores, err: err}
}
