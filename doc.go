// Package predictflow is a RabbitMQ worker that answers batched waiting-time
// predictions using the RPC-over-queue pattern. A caller publishes a JSON
// batch of ticket features tagged with a correlation id and a reply
// destination; the worker scores every ticket and publishes the predictions,
// tagged with the same correlation id, to that destination.
//
// A minimal setup fills Config (usually through LoadConfig), creates a
// Service, and calls Start. Start blocks until the context is cancelled or
// the broker connection is lost.
//
// # Delivery handling
//
// The worker consumes one request at a time (prefetch 1). Every delivery ends
// in exactly one outcome: the reply is published and the request acked, or the
// request is nacked without requeue. Malformed bodies, scorer failures and
// publish failures never stop the consumer.
//
// # Scoring
//
// The default Scorer is a linear Model loaded from a YAML or JSON artifact
// (SCORER_MODEL_PATH). Supply ServiceDependencies.Scorer to plug in a custom
// one; it is wrapped in a Guard that turns errors, panics, length mismatches
// and non-finite outputs into scoring errors.
//
// # Job Hooks
//
// JobHooks provide OnJobStart, OnJobDone, and OnJobError callbacks around each
// delivery. LoggingHooks and MetricsHooks are always installed;
// ServiceDependencies.Hooks are called after them.
//
// # Client
//
// The client package is the caller side of the protocol. It declares an
// exclusive reply queue and matches replies to requests by correlation id.
package predictflow
