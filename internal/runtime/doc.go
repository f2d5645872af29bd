/*
Package runtime provides the prediction worker behind predictflow.

# Architecture Overview

The runtime package wires a RabbitMQ connection, a Scorer and the consumer
loop into a Service. Requests arrive on a durable queue, are scored one batch
at a time (prefetch 1), and every delivery ends in exactly one ack or one
nack without requeue.

# Package Structure

## Core Service (service.go)

The Service struct is the central orchestrator that wires together:
  - Broker connection and queue topology
  - Scorer (model artifact or injected) behind a scoring Guard
  - Consumer loop with logging and metrics hooks
  - HTTP servers for metrics, health and stats

## Stats (stats.go)

JSON snapshot of the worker state and counters on /api/stats.

# Sub-packages

  - batch/: Request and reply wire types, codec and response builder
  - broker/: amqp091 client (topology, consume, publish, ack/nack)
  - config/: Service configuration from the environment with validation
  - consumer/: Consumer loop state machine, hooks and middleware
  - envelope/: Transport envelope of one delivery
  - errors/: Sentinel errors and the error kind taxonomy
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metrics/: Prometheus collectors for the worker
  - scoring/: Scorer interface, Guard and the linear Model

# Usage Example

	cfg, err := predictflow.LoadConfig()
	if err != nil {
		return err
	}

	svc, err := predictflow.NewService(ctx, &cfg, logger, predictflow.ServiceDependencies{})
	if err != nil {
		return err
	}

	return svc.Start(ctx)
*/
package runtime
