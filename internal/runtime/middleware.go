package runtime

import (
	"context"
	sterrors "errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pmghq/mbus/internal/runtime/errors"
	idspkg "github.com/pmghq/mbus/internal/runtime/ids"
	loggingpkg "github.com/pmghq/mbus/internal/runtime/logging"
	"github.com/pmghq/mbus/transport"
)

// Middleware wraps a listener handler with cross-cutting behavior.
type Middleware func(transport.Handler) transport.Handler

// MiddlewareBuilder constructs a handler middleware using the provided bus instance.
type MiddlewareBuilder func(*Bus) (Middleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Bus.
type MiddlewareRegistration struct {
	Name       string
	Middleware Middleware
	Builder    MiddlewareBuilder
}

// DispatchInfo identifies the listener binding a delivery is running
// under. The bus seeds it into the context before the chain runs.
type DispatchInfo struct {
	RoutingKey string
	Method     string
}

type dispatchInfoKey struct{}

// ContextWithDispatchInfo returns ctx carrying info.
func ContextWithDispatchInfo(ctx context.Context, info DispatchInfo) context.Context {
	return context.WithValue(ctx, dispatchInfoKey{}, info)
}

// DispatchInfoFromContext returns the dispatch info seeded by the bus,
// or a zero value outside a bus dispatch.
func DispatchInfoFromContext(ctx context.Context) DispatchInfo {
	info, _ := ctx.Value(dispatchInfoKey{}).(DispatchInfo)
	return info
}

// DefaultMiddlewares returns the standard middleware chain used by the
// Bus constructor, outermost first.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogDeliveriesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware ensures each delivery carries a correlation
// identifier, filling missing ones with a fresh ULID.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(next transport.Handler) transport.Handler {
			return func(ctx context.Context, d transport.Delivery) (any, error) {
				if d.CorrelationID == "" {
					d.CorrelationID = idspkg.NewCorrelationID()
				}
				return next(ctx, d)
			}
		},
	}
}

// LogDeliveriesMiddleware logs every dispatched delivery with its
// binding and tracing values. A nil logger falls back to the bus logger.
func LogDeliveriesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_deliveries",
		Builder: func(b *Bus) (Middleware, error) {
			l := logger
			if l == nil {
				l = b.Logger
			}
			if l == nil {
				return nil, sterrors.New("log deliveries middleware requires a logger")
			}
			return func(next transport.Handler) transport.Handler {
				return func(ctx context.Context, d transport.Delivery) (any, error) {
					info := DispatchInfoFromContext(ctx)
					l.Debug("Dispatching delivery", loggingpkg.LogFields{
						"routing_key":    info.RoutingKey,
						"method":         info.Method,
						"correlation_id": d.CorrelationID,
						"initiator":      d.Initiator,
					})
					return next(ctx, d)
				}
			}, nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Middleware: func(next transport.Handler) transport.Handler {
			return func(ctx context.Context, d transport.Delivery) (any, error) {
				info := DispatchInfoFromContext(ctx)
				tracer := otel.Tracer("mbus-dispatch-tracer")
				ctx, span := tracer.Start(ctx, "DispatchDelivery")
				defer span.End()

				span.SetAttributes(
					attribute.String("delivery.routing_key", info.RoutingKey),
					attribute.String("delivery.method", info.Method),
					attribute.String("delivery.correlation_id", d.CorrelationID),
				)
				return next(ctx, d)
			}
		},
	}
}

// MetricsMiddleware measures dispatches with Prometheus and mounts the
// /metrics endpoint when a metrics port is configured.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(b *Bus) (Middleware, error) {
			if !b.Conf.MetricsEnabled {
				return nil, nil
			}

			m := NewBusMetrics(prometheus.DefaultRegisterer)
			if err := m.Register(); err != nil {
				return nil, err
			}
			b.metrics = m

			if b.Conf.MetricsPort > 0 {
				b.RegisterHTTPHandler(b.Conf.MetricsPort, "/metrics", promhttp.Handler())
			}

			return m.Middleware(), nil
		},
	}
}

// RecovererMiddleware converts handler panics into errors so a broken
// handler answers a structured failure instead of tearing down the
// serving goroutine.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "recoverer",
		Middleware: func(next transport.Handler) transport.Handler {
			return func(ctx context.Context, d transport.Delivery) (out any, err error) {
				defer func() {
					if r := recover(); r != nil {
						err = errors.Ef(errors.KindResponseProcessing, "handler panic: %v", r)
					}
				}()
				return next(ctx, d)
			}
		},
	}
}

// RegisterMiddleware appends the supplied middleware to the bus
// dispatch chain. Builders may return a nil middleware to opt out,
// the way disabled metrics do.
func (b *Bus) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw Middleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(b)
		if err != nil {
			return err
		}
	default:
		return sterrors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	b.middlewaresMu.Lock()
	b.middlewares = append(b.middlewares, mw)
	b.middlewaresMu.Unlock()
	return nil
}
