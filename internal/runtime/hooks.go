package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/pmghq/mbus/internal/runtime/logging"
	"github.com/pmghq/mbus/transport"
)

// DispatchContext describes one delivery dispatch to hooks.
type DispatchContext struct {
	// RoutingKey is the key the listener was registered under.
	RoutingKey string
	// Method is the listener method the delivery matched.
	Method string
	// CorrelationID is the correlation id carried by the delivery.
	CorrelationID string
	// Initiator identifies the calling service, when known.
	Initiator string
	// StartedAt is when the dispatch started.
	StartedAt time.Time
	// Duration is how long the dispatch took (only set in OnDispatchDone
	// and OnDispatchError).
	Duration time.Duration
}

// DispatchHooks defines callbacks for dispatch lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type DispatchHooks struct {
	// OnDispatchStart is called when a delivery enters the handler.
	OnDispatchStart func(ctx DispatchContext)

	// OnDispatchDone is called when the handler completes successfully.
	OnDispatchDone func(ctx DispatchContext)

	// OnDispatchError is called when the handler returns an error.
	OnDispatchError func(ctx DispatchContext, err error)
}

// Merge combines two DispatchHooks, creating a new DispatchHooks that
// calls both. The hooks from 'other' are called after the hooks from 'h'.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: chainStartHooks(h.OnDispatchStart, other.OnDispatchStart),
		OnDispatchDone:  chainDoneHooks(h.OnDispatchDone, other.OnDispatchDone),
		OnDispatchError: chainErrorHooks(h.OnDispatchError, other.OnDispatchError),
	}
}

func chainStartHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainDoneHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// DispatchHooksMiddleware creates a middleware that invokes the
// provided hooks around every dispatched delivery.
func DispatchHooksMiddleware(hooks DispatchHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "dispatch_hooks",
		Middleware: dispatchHooksMiddleware(hooks),
	}
}

func dispatchHooksMiddleware(hooks DispatchHooks) Middleware {
	return func(next transport.Handler) transport.Handler {
		return func(ctx context.Context, d transport.Delivery) (any, error) {
			info := DispatchInfoFromContext(ctx)
			hookCtx := DispatchContext{
				RoutingKey:    info.RoutingKey,
				Method:        info.Method,
				CorrelationID: d.CorrelationID,
				Initiator:     d.Initiator,
				StartedAt:     time.Now(),
			}

			if hooks.OnDispatchStart != nil {
				hooks.OnDispatchStart(hookCtx)
			}

			out, err := next(ctx, d)

			hookCtx.Duration = time.Since(hookCtx.StartedAt)

			if err != nil {
				if hooks.OnDispatchError != nil {
					hooks.OnDispatchError(hookCtx, err)
				}
			} else {
				if hooks.OnDispatchDone != nil {
					hooks.OnDispatchDone(hookCtx)
				}
			}

			return out, err
		}
	}
}

// LoggingHooks returns pre-built hooks that log dispatch lifecycle
// events.
func LoggingHooks(logger loggingpkg.ServiceLogger) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: func(ctx DispatchContext) {
			logger.Info("Dispatch started", loggingpkg.LogFields{
				"routing_key":    ctx.RoutingKey,
				"method":         ctx.Method,
				"correlation_id": ctx.CorrelationID,
				"initiator":      ctx.Initiator,
			})
		},
		OnDispatchDone: func(ctx DispatchContext) {
			logger.Info("Dispatch completed", loggingpkg.LogFields{
				"routing_key":    ctx.RoutingKey,
				"method":         ctx.Method,
				"correlation_id": ctx.CorrelationID,
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
		OnDispatchError: func(ctx DispatchContext, err error) {
			logger.Error("Dispatch failed", err, loggingpkg.LogFields{
				"routing_key":    ctx.RoutingKey,
				"method":         ctx.Method,
				"correlation_id": ctx.CorrelationID,
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that feed dispatch counters.
func MetricsHooks(onStart, onDone, onError func(routingKey, method string)) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: func(ctx DispatchContext) {
			if onStart != nil {
				onStart(ctx.RoutingKey, ctx.Method)
			}
		},
		OnDispatchDone: func(ctx DispatchContext) {
			if onDone != nil {
				onDone(ctx.RoutingKey, ctx.Method)
			}
		},
		OnDispatchError: func(ctx DispatchContext, err error) {
			if onError != nil {
				onError(ctx.RoutingKey, ctx.Method)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on dispatch
// errors.
func AlertingHooks(alertFunc func(ctx DispatchContext, err error)) DispatchHooks {
	return DispatchHooks{
		OnDispatchError: alertFunc,
	}
}
