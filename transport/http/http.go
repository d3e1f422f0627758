// Package http provides the HTTP transport for mbus. Routing keys
// resolve to URL paths, listeners bind to (method, path) pairs on a
// dynamic router, and outbound calls carry the tracing headers and the
// typed error protocol over plain HTTP/1.1.
package http

import (
	"context"
	"net"
	nethttp "net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-chi/chi/v5"

	"github.com/pmghq/mbus/internal/runtime/errors"
	"github.com/pmghq/mbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// defaultRequestTimeout bounds outbound calls when the config leaves
// RequestTimeout unset.
const defaultRequestTimeout = 30 * time.Second

// ClientFactory allows overriding the outbound HTTP client creation for testing.
var ClientFactory = func(timeout time.Duration) *nethttp.Client {
	return &nethttp.Client{Timeout: timeout}
}

func init() { Register() }

// Register registers the HTTP transport with the default registry.
// Importing the package already does this; calling it explicitly is
// only needed after replacing the registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return New(cfg, logger)
}

// Transport serves listeners over an embedded HTTP server and issues
// outbound calls through a shared HTTP client. The zero value is not
// usable; construct via New.
type Transport struct {
	cfg    transport.Config
	logger watermill.LoggerAdapter
	client *nethttp.Client

	// mu guards table; the router snapshot in mux is rebuilt from the
	// table on every mutation and swapped in one atomic store.
	mu    sync.Mutex
	table *listenerTable
	mux   atomic.Pointer[chi.Mux]

	// lifecycleMu guards the listening endpoint independently of the
	// table so draining never blocks listener mutations.
	lifecycleMu sync.Mutex
	srv         *nethttp.Server
	ln          net.Listener
}

// New constructs an HTTP transport from cfg. The transport is ready
// for listener registration and outbound calls immediately; Listen
// binds the serving endpoint separately.
func New(cfg transport.Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg == nil {
		return nil, errors.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	timeout := cfg.GetRequestTimeout()
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	t := &Transport{
		cfg:    cfg,
		logger: logger,
		client: ClientFactory(timeout),
		table:  newListenerTable(),
	}
	t.mux.Store(t.buildMux(t.table))
	return t, nil
}

// ResolveTopic converts a routing key into a URL path.
func (t *Transport) ResolveTopic(routingKey string) (string, error) {
	return transport.ResolveTopic(routingKey)
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

// serveHTTP dispatches against the current router snapshot. Requests
// in flight during a mutation finish against the snapshot they
// started with.
func (t *Transport) serveHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	t.mux.Load().ServeHTTP(w, r)
}

// wirePath normalizes a resolved topic into a rooted URL path.
func wirePath(topic string) string {
	if strings.HasPrefix(topic, "/") {
		return topic
	}
	return "/" + topic
}
