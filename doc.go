// Package mbus is a message bus abstraction with pluggable transports.
//
// A Bus binds handlers to routing keys and dispatches deliveries to
// them, and lets callers reach remote listeners through Request and
// Publish. Routing keys use colon-separated segments ("users:create")
// and are resolved to transport-specific topics by each transport.
// Handlers receive a Delivery carrying the decoded payload plus the
// correlation id and initiator metadata, and return a reply value or a
// typed error that survives the wire in both directions.
//
// # Transports
//
// Transports adapt the bus contract to a concrete protocol. They
// register themselves when their package is linked in:
//
//   - transport/http: listeners become HTTP routes, calls become HTTP
//     requests, with method routing and optional gzip on both sides
//   - transport/nats: listeners become NATS subscriptions, calls become
//     NATS requests, with methods emulated through subject tokens
//   - transport/channel: in-process loopback for tests and
//     single-binary deployments
//
// Importing transport/transports links all built-in transports at once.
// Custom transports implement the transport.Transport interface and
// register through RegisterTransport.
//
// # Middleware
//
// Every dispatched delivery passes through the bus middleware chain
// before it reaches the handler. The default chain assigns correlation
// ids, logs deliveries, opens a trace span, records Prometheus metrics,
// and recovers panics. Custom middlewares come in through
// BusDependencies.Middlewares and run after the defaults unless the
// defaults are disabled. DispatchHooksMiddleware adapts DispatchHooks
// into the chain for start, done, and error callbacks per dispatch.
//
// # Typed listeners
//
// AddTypedListener registers a handler that receives its payload
// decoded into a caller-supplied pointer type instead of raw JSON
// shapes. Payloads that do not fit the type are rejected with an
// invalid message error before the handler runs.
//
// # Introspection
//
// The bus keeps per-listener dispatch statistics, latency percentiles,
// throughput, error breakdowns, and in-flight load. With
// Config.IntrospectionEnabled the bus serves them as JSON on
// /api/listeners, and Bus.Listeners exposes the same snapshot in
// process.
package mbus
