/*
Package runtime implements the message bus core that the root package
re-exports.

# Architecture Overview

The Bus wires a Config, a ServiceLogger, and a transport built from the
transport registry into one dispatch surface. Listener registration,
outbound calls, and lifecycle operations all run through the Bus so
every delivery passes the middleware chain and is visible to the
introspection API.

# Package Structure

  - bus.go: the Bus coordinator and its lifecycle operations
  - middleware.go: the middleware chain and the default stack
    (correlation id, delivery logging, tracing, metrics, recoverer)
  - metrics.go: Prometheus collectors behind the metrics middleware
  - hooks.go: dispatch lifecycle hooks exposed as a middleware
  - stats.go: per-listener dispatch stats (latency percentiles,
    throughput, error breakdown, load)
  - introspection.go: the listener registry JSON API
  - typed.go: generic typed-handler adapters over the transport
    handler contract

The transport contract itself and the concrete transports live outside
this package, under transport/.
*/
package runtime
