// Package transport defines the core interfaces and types for mbus
// transports. Each transport implementation (http, channel, nats)
// lives in its own sub-package and registers itself with the transport
// registry.
package transport

import (
	"context"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/pmghq/mbus/internal/runtime/errors"
)

// Routing keys are hierarchical; the resolver turns them into wire
// paths segment for segment.
const (
	// KeySeparator delimits hierarchy segments in a routing key.
	KeySeparator = ":"
	// PathSeparator replaces KeySeparator in a resolved topic.
	PathSeparator = "/"
)

// Listener methods. ALL is a registration wildcard matching every
// supported method at a path; it never appears on the wire.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
	MethodAll    = "ALL"
)

// Delivery is the inbound message envelope handed to a Handler: the
// extracted payload plus the two propagated tracing values. Both
// tracing values are optional and pass through verbatim.
type Delivery struct {
	Payload       any
	CorrelationID string
	Initiator     string
}

// Handler is the business callback bound to a listener. Handlers must
// tolerate concurrent reentry; the bus dispatches without per-topic
// locking. The returned value is serialized as the reply (nil serves
// as an empty object); a returned error passes through the error
// translator before leaving the process.
type Handler func(ctx context.Context, d Delivery) (any, error)

// ListenOptions configures a listener registration.
type ListenOptions struct {
	// Method selects which inbound method the listener binds to,
	// case-insensitive, one of get/post/put/delete/all. Empty defaults
	// to get. Anything else fails registration synchronously.
	Method string
}

// CallOptions configures one outbound call.
type CallOptions struct {
	// Host, Port and Protocol pin the target address. When Host is
	// empty the resolved topic itself is treated as a host-qualified
	// address. Protocol defaults to "http".
	Host     string
	Port     int
	Protocol string

	// Method is the outbound verb, default GET.
	Method string

	// CorrelationID and Initiator are attached as the fixed tracing
	// headers when non-empty.
	CorrelationID string
	Initiator     string
}

// Transport is the capability set every mbus transport realizes. The
// bus composes exactly one transport; callers never talk to a
// transport directly.
type Transport interface {
	// ResolveTopic converts a routing key into this transport's wire
	// address form.
	ResolveTopic(routingKey string) (string, error)

	// AddListener binds h at the routing key for the method in opts,
	// replacing any existing listener at that exact binding.
	AddListener(routingKey string, h Handler, opts ListenOptions) error

	// RemoveListener unbinds every listener at the routing key's
	// resolved address, across all methods. Unknown keys are a no-op.
	RemoveListener(routingKey string) error

	// Listen binds the serving endpoint. It returns once the endpoint
	// is bound; serving continues in the background.
	Listen(ctx context.Context) error

	// Disconnect drains and unbinds the serving endpoint. Idempotent;
	// a subsequent Listen must succeed.
	Disconnect(ctx context.Context) error

	// Publish fires msg at the routing key and discards the remote
	// outcome: response-family errors are absorbed, while validation
	// and request errors propagate.
	Publish(ctx context.Context, routingKey string, msg any, opts CallOptions) error

	// Request sends msg at the routing key and returns the decoded
	// reply, or the reconstructed typed error.
	Request(ctx context.Context, routingKey string, msg any, opts CallOptions) (any, error)
}

// Builder is the function signature for creating a transport from
// config. Each transport package provides a Builder that can be
// registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports. This
// interface lets transports access only the config they need without
// depending on the full config package.
type Config interface {
	// GetTransport returns the selected transport name.
	GetTransport() string

	// HTTP
	GetHTTPPort() int
	GetServeGzip() bool
	GetSendGzip() bool
	GetRequestTimeout() time.Duration

	// NATS
	GetNATSURL() string
}

// CapabilitiesProvider is implemented by transports that can report
// their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// ResolveTopic converts a routing key into a wire path by replacing
// every hierarchy separator with a path separator. Pure; callable
// concurrently. An empty key is a validation error.
func ResolveTopic(routingKey string) (string, error) {
	if routingKey == "" {
		return "", errors.E(errors.KindValidation, "routing key must not be empty")
	}
	return strings.ReplaceAll(routingKey, KeySeparator, PathSeparator), nil
}

// NormalizeListenerMethod canonicalizes the method of a listener
// registration. Matching is case-insensitive and empty defaults to
// GET; unsupported methods fail with a validation error before any
// registration happens.
func NormalizeListenerMethod(m string) (string, error) {
	switch strings.ToUpper(m) {
	case "":
		return MethodGet, nil
	case MethodGet:
		return MethodGet, nil
	case MethodPost:
		return MethodPost, nil
	case MethodPut:
		return MethodPut, nil
	case MethodDelete:
		return MethodDelete, nil
	case MethodAll:
		return MethodAll, nil
	default:
		return "", errors.Ef(errors.KindValidation, "unsupported listener method %q", m)
	}
}

// NormalizeCallMethod canonicalizes the method of an outbound call,
// defaulting to GET.
func NormalizeCallMethod(m string) string {
	if m == "" {
		return MethodGet
	}
	return strings.ToUpper(m)
}
