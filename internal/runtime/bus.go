package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	configpkg "github.com/pmghq/mbus/internal/runtime/config"
	"github.com/pmghq/mbus/internal/runtime/errors"
	loggingpkg "github.com/pmghq/mbus/internal/runtime/logging"
	"github.com/pmghq/mbus/transport"
)

// BusDependencies holds the collaborators a Bus can be built with.
// Leave fields nil to use the configured defaults.
type BusDependencies struct {
	Config *configpkg.Config
	Logger loggingpkg.ServiceLogger

	// Transport overrides the registry lookup. When nil the transport
	// named in Config.Transport is built from the default registry.
	Transport transport.Transport

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
}

// Bus wires config, logger, transport and the middleware chain behind
// one dispatch surface. Register listeners on the Bus rather than the
// transport so every handler runs inside the chain.
type Bus struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport transport.Transport

	middlewares   []Middleware
	middlewaresMu sync.RWMutex

	listeners   []*ListenerInfo
	listenersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	httpStarted   bool

	metrics         *BusMetrics
	resourceSampler *resourceTracker
}

// NewBus constructs a Bus for the supplied dependencies. Wiring
// failures are programming errors and panic; use TryNewBus for an
// error return.
func NewBus(ctx context.Context, deps BusDependencies) *Bus {
	b, err := TryNewBus(ctx, deps)
	if err != nil {
		panic(err)
	}
	return b
}

// TryNewBus constructs a Bus for the supplied dependencies.
func TryNewBus(ctx context.Context, deps BusDependencies) (*Bus, error) {
	conf := deps.Config
	if conf == nil {
		return nil, errors.ErrConfigRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = loggingpkg.NewSlogServiceLogger(slog.Default())
	}

	log.Info("Creating message bus", loggingpkg.LogFields{
		"transport": conf.GetTransport(),
		"config":    conf,
	})

	b := &Bus{
		Conf:            conf,
		Logger:          log,
		resourceSampler: newResourceTracker(),
	}

	tr := deps.Transport
	if tr == nil {
		built, err := transport.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			return nil, err
		}
		tr = built
	}
	b.transport = tr

	if err := b.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bus) registerConfiguredMiddlewares(deps BusDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := b.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("registering middleware %s: %w", name, err)
		}
	}
	return nil
}

// AddListener registers h for the routing key, wrapped in the bus
// middleware chain and instrumented for the introspection API.
func (b *Bus) AddListener(routingKey string, h transport.Handler, opts transport.ListenOptions) error {
	if routingKey == "" {
		return errors.ErrRoutingKeyRequired
	}
	if h == nil {
		return errors.ErrHandlerRequired
	}
	method, err := transport.NormalizeListenerMethod(opts.Method)
	if err != nil {
		return err
	}
	opts.Method = method

	stats := newListenerStats(b.resourceSampler)
	wrapped := withDispatchStats(stats, b.wrapHandler(routingKey, method, h))
	if err := b.transport.AddListener(routingKey, wrapped, opts); err != nil {
		return err
	}
	b.recordListener(routingKey, method, stats)
	return nil
}

// RemoveListener unbinds every listener at the routing key, across
// all methods.
func (b *Bus) RemoveListener(routingKey string) error {
	if routingKey == "" {
		return errors.ErrRoutingKeyRequired
	}
	if err := b.transport.RemoveListener(routingKey); err != nil {
		return err
	}
	b.forgetListeners(routingKey)
	return nil
}

// Listen binds the transport's serving endpoint and, once per Bus,
// starts the auxiliary HTTP servers such as the metrics and
// introspection endpoints.
func (b *Bus) Listen(ctx context.Context) error {
	b.startIntrospectionServer()
	b.startHTTPServers()
	return b.transport.Listen(ctx)
}

// Disconnect drains and unbinds the transport's serving endpoint.
func (b *Bus) Disconnect(ctx context.Context) error {
	return b.transport.Disconnect(ctx)
}

// Publish fires msg at the routing key and discards the remote outcome.
func (b *Bus) Publish(ctx context.Context, routingKey string, msg any, opts transport.CallOptions) error {
	return b.transport.Publish(ctx, routingKey, msg, opts)
}

// Request sends msg at the routing key and returns the decoded reply.
func (b *Bus) Request(ctx context.Context, routingKey string, msg any, opts transport.CallOptions) (any, error) {
	return b.transport.Request(ctx, routingKey, msg, opts)
}

// ResolveTopic converts a routing key into the transport's wire
// address form.
func (b *Bus) ResolveTopic(routingKey string) (string, error) {
	return b.transport.ResolveTopic(routingKey)
}

// Capabilities reports the composed transport's capabilities, or a
// zero value for transports that do not declare any.
func (b *Bus) Capabilities() transport.Capabilities {
	if cp, ok := b.transport.(transport.CapabilitiesProvider); ok {
		return cp.Capabilities()
	}
	return transport.Capabilities{}
}

// Transport exposes the composed transport for callers that need to
// reach past the bus surface.
func (b *Bus) Transport() transport.Transport {
	return b.transport
}

// wrapHandler applies the middleware chain around h, earliest
// registration outermost, and seeds the dispatch info middlewares
// read from the context.
func (b *Bus) wrapHandler(routingKey, method string, h transport.Handler) transport.Handler {
	b.middlewaresMu.RLock()
	chain := make([]Middleware, len(b.middlewares))
	copy(chain, b.middlewares)
	b.middlewaresMu.RUnlock()

	wrapped := h
	for i := len(chain) - 1; i >= 0; i-- {
		wrapped = chain[i](wrapped)
	}

	info := DispatchInfo{RoutingKey: routingKey, Method: method}
	return func(ctx context.Context, d transport.Delivery) (any, error) {
		return wrapped(ContextWithDispatchInfo(ctx, info), d)
	}
}

// RegisterHTTPHandler mounts handler on the mux serving the given
// port. Servers start on the first Listen.
func (b *Bus) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	b.httpServersMu.Lock()
	defer b.httpServersMu.Unlock()

	if b.httpServers == nil {
		b.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := b.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		b.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (b *Bus) startHTTPServers() {
	b.httpServersMu.Lock()
	defer b.httpServersMu.Unlock()

	if b.httpStarted {
		return
	}
	b.httpStarted = true

	for port, mux := range b.httpServers {
		addr := fmt.Sprintf(":%d", port)
		b.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				b.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
