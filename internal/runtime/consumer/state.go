package consumer

import (
	"context"
	"sync/atomic"
)

// State is a step of the per-delivery state machine:
//
//	Idle -> Decoding -> Scoring -> Responding -> Acked -> Idle
//	Decoding | Scoring | Responding -> Failed -> Nacked -> Idle
type State int32

const (
	StateIdle State = iota
	StateDecoding
	StateScoring
	StateResponding
	StateAcked
	StateFailed
	StateNacked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDecoding:
		return "decoding"
	case StateScoring:
		return "scoring"
	case StateResponding:
		return "responding"
	case StateAcked:
		return "acked"
	case StateFailed:
		return "failed"
	case StateNacked:
		return "nacked"
	default:
		return "unknown"
	}
}

// cycle follows one delivery through the state machine. It travels in the
// message context so pipeline stages can report progress.
type cycle struct {
	state     State
	batchSize int
	worker    *atomic.Int32
}

func newCycle(worker *atomic.Int32) *cycle {
	return &cycle{state: StateIdle, batchSize: -1, worker: worker}
}

func (c *cycle) set(s State) {
	c.state = s
	if c.worker != nil {
		c.worker.Store(int32(s))
	}
}

type cycleKey struct{}

func withCycle(ctx context.Context, c *cycle) context.Context {
	return context.WithValue(ctx, cycleKey{}, c)
}

// cycleFrom returns the cycle stored in ctx, or a detached one so a handler
// invoked outside Handle still works.
func cycleFrom(ctx context.Context) *cycle {
	if c, ok := ctx.Value(cycleKey{}).(*cycle); ok {
		return c
	}
	return newCycle(nil)
}
