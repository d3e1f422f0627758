package runtime

import (
	"context"
	"reflect"

	errspkg "github.com/pmghq/mbus/internal/runtime/errors"
	"github.com/pmghq/mbus/internal/runtime/jsoncodec"
	"github.com/pmghq/mbus/transport"
)

// TypedDelivery carries a payload decoded into T alongside the
// propagated tracing values.
type TypedDelivery[T any] struct {
	Payload       T
	CorrelationID string
	Initiator     string
}

// TypedHandler processes a decoded payload and returns the reply body.
type TypedHandler[T any, O any] func(ctx context.Context, d TypedDelivery[T]) (O, error)

// TypedListenerRegistration binds a typed handler to a routing key.
type TypedListenerRegistration[T any, O any] struct {
	RoutingKey string
	Method     string
	Handler    TypedHandler[T, O]
}

// AddTypedListener converts the typed handler into a transport handler
// and registers it on the bus.
func AddTypedListener[T any, O any](b *Bus, reg TypedListenerRegistration[T, O]) error {
	if b == nil {
		return errspkg.ErrBusRequired
	}

	wrapped, err := BuildTypedHandler(reg.Handler)
	if err != nil {
		return err
	}

	return b.AddListener(reg.RoutingKey, wrapped, transport.ListenOptions{Method: reg.Method})
}

// BuildTypedHandler converts a typed handler into a transport handler.
// T must be a pointer type; every delivery decodes into a fresh T.
// Payloads that do not fit T are rejected as invalid messages.
func BuildTypedHandler[T any, O any](h TypedHandler[T, O]) (transport.Handler, error) {
	if h == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	prototypeFactory, err := payloadPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, d transport.Delivery) (any, error) {
		typed := prototypeFactory()

		if d.Payload != nil {
			raw, err := jsoncodec.Marshal(d.Payload)
			if err != nil {
				return nil, errspkg.E(errspkg.KindInvalidMessage, "re-encoding payload failed").WithCause(err)
			}
			if err := jsoncodec.Unmarshal(raw, typed); err != nil {
				return nil, errspkg.E(errspkg.KindInvalidMessage, "payload does not match the expected shape").WithCause(err)
			}
		}

		out, err := h(ctx, TypedDelivery[T]{
			Payload:       typed,
			CorrelationID: d.CorrelationID,
			Initiator:     d.Initiator,
		})
		if err != nil {
			return nil, err
		}
		if isNilReply(out) {
			return nil, nil
		}
		return out, nil
	}, nil
}

func payloadPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPayloadPointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}

// isNilReply reports whether the typed reply is a nil pointer, map, or
// slice, so it can fall back to the empty-object reply.
func isNilReply(out any) bool {
	if out == nil {
		return true
	}
	v := reflect.ValueOf(out)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
