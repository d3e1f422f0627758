package mbus

import (
	runtimepkg "github.com/pmghq/mbus/internal/runtime"
	configpkg "github.com/pmghq/mbus/internal/runtime/config"
	errspkg "github.com/pmghq/mbus/internal/runtime/errors"
	idspkg "github.com/pmghq/mbus/internal/runtime/ids"
	"github.com/pmghq/mbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/pmghq/mbus/internal/runtime/logging"
	metadatapkg "github.com/pmghq/mbus/internal/runtime/metadata"
	transportpkg "github.com/pmghq/mbus/transport"
)

// The root package re-exports the public surface of the bus so that
// consumers only ever import github.com/pmghq/mbus plus the transport
// packages they want linked in.

type (
	// Bus routes deliveries between listeners and callers over a
	// pluggable transport.
	Bus             = runtimepkg.Bus
	BusDependencies = runtimepkg.BusDependencies

	// Config carries the transport-independent bus settings.
	Config = configpkg.Config

	// Middleware wraps every dispatched delivery.
	Middleware             = runtimepkg.Middleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	DispatchInfo           = runtimepkg.DispatchInfo
	BusMetrics             = runtimepkg.BusMetrics

	// Hooks observe the dispatch lifecycle.
	DispatchContext = runtimepkg.DispatchContext
	DispatchHooks   = runtimepkg.DispatchHooks

	// Per-listener statistics served by the introspection API.
	ListenerInfo      = runtimepkg.ListenerInfo
	ListenerStats     = runtimepkg.ListenerStats
	LatencyMetrics    = runtimepkg.LatencyMetrics
	ThroughputMetrics = runtimepkg.ThroughputMetrics
	ErrorBreakdown    = runtimepkg.ErrorBreakdown
	LoadMetrics       = runtimepkg.LoadMetrics
	ResourceUsage     = runtimepkg.ResourceUsage

	// Typed listeners decode payloads into caller-supplied types.
	TypedDelivery[T any]                    = runtimepkg.TypedDelivery[T]
	TypedHandler[T any, O any]              = runtimepkg.TypedHandler[T, O]
	TypedListenerRegistration[T any, O any] = runtimepkg.TypedListenerRegistration[T, O]

	// Transport contract types for implementing custom transports.
	Transport         = transportpkg.Transport
	TransportBuilder  = transportpkg.Builder
	TransportConfig   = transportpkg.Config
	TransportRegistry = transportpkg.Registry
	Capabilities      = transportpkg.Capabilities
	Delivery          = transportpkg.Delivery
	Handler           = transportpkg.Handler
	ListenOptions     = transportpkg.ListenOptions
	CallOptions       = transportpkg.CallOptions

	// Metadata travels alongside payloads across transports.
	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Error is the typed error exchanged between bus peers.
	Error                 = errspkg.Error
	ErrorKind             = errspkg.Kind
	ConfigValidationError = errspkg.ConfigValidationError
)

// Listener and call methods.
const (
	MethodGet    = transportpkg.MethodGet
	MethodPost   = transportpkg.MethodPost
	MethodPut    = transportpkg.MethodPut
	MethodDelete = transportpkg.MethodDelete
	MethodAll    = transportpkg.MethodAll
)

// Error kinds carried by bus errors.
const (
	KindValidation         = errspkg.KindValidation
	KindInvalidMessage     = errspkg.KindInvalidMessage
	KindUnauthorized       = errspkg.KindUnauthorized
	KindForbidden          = errspkg.KindForbidden
	KindNotFound           = errspkg.KindNotFound
	KindResponseProcessing = errspkg.KindResponseProcessing
	KindRequest            = errspkg.KindRequest
)

// Metadata keys understood by every transport.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyInitiator     = metadatapkg.KeyInitiator
)

var (
	// Bus construction.
	NewBus    = runtimepkg.NewBus
	TryNewBus = runtimepkg.TryNewBus

	// Configuration.
	DefaultConfig  = configpkg.DefaultConfig
	ValidateConfig = configpkg.ValidateConfig

	// Middleware constructors and the default chain.
	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogDeliveriesMiddleware = runtimepkg.LogDeliveriesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	NewBusMetrics           = runtimepkg.NewBusMetrics

	// Dispatch info plumbing for custom middlewares.
	ContextWithDispatchInfo = runtimepkg.ContextWithDispatchInfo
	DispatchInfoFromContext = runtimepkg.DispatchInfoFromContext

	// Dispatch hooks and stock hook sets.
	DispatchHooksMiddleware = runtimepkg.DispatchHooksMiddleware
	LoggingHooks            = runtimepkg.LoggingHooks
	MetricsHooks            = runtimepkg.MetricsHooks
	AlertingHooks           = runtimepkg.AlertingHooks

	// Transport registry.
	RegisterTransport                 = transportpkg.Register
	RegisterTransportWithCapabilities = transportpkg.RegisterWithCapabilities
	BuildTransport                    = transportpkg.Build
	NewTransportRegistry              = transportpkg.NewRegistry
	GetCapabilities                   = transportpkg.GetCapabilities

	// Routing key helpers.
	ResolveTopic = transportpkg.ResolveTopic

	// Correlation ids.
	NewCorrelationID = idspkg.NewCorrelationID

	// Metadata helpers.
	NewMetadata           = metadatapkg.New
	MetadataFromHeader    = metadatapkg.FromHeader
	ApplyMetadataToHeader = metadatapkg.ApplyToHeader

	// Logging constructors.
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	// JSON encoding aliases shared with the transports.
	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	// Error constructors, predicates, and wire translation.
	NewError             = errspkg.E
	NewErrorf            = errspkg.Ef
	AsError              = errspkg.AsError
	KindOf               = errspkg.KindOf
	IsValidation         = errspkg.IsValidation
	IsInvalidMessage     = errspkg.IsInvalidMessage
	IsUnauthorized       = errspkg.IsUnauthorized
	IsForbidden          = errspkg.IsForbidden
	IsNotFound           = errspkg.IsNotFound
	IsResponseProcessing = errspkg.IsResponseProcessing
	IsRequestError       = errspkg.IsRequestError
	IsResponseError      = errspkg.IsResponseError
	HTTPStatus           = errspkg.HTTPStatus
	ErrorFromStatus      = errspkg.FromStatus
	ErrorFromStatusBody  = errspkg.FromStatusBody
	ErrorResponseBody    = errspkg.ResponseBody

	// Sentinel errors returned by bus operations.
	ErrBusRequired          = errspkg.ErrBusRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrTransportRequired    = errspkg.ErrTransportRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrRoutingKeyRequired   = errspkg.ErrRoutingKeyRequired
	ErrPayloadTypeRequired  = errspkg.ErrPayloadTypeRequired
	ErrPayloadPointerNeeded = errspkg.ErrPayloadPointerNeeded
)

func AddTypedListener[T any, O any](b *Bus, reg TypedListenerRegistration[T, O]) error {
	return runtimepkg.AddTypedListener(b, reg)
}

func BuildTypedHandler[T any, O any](h TypedHandler[T, O]) (Handler, error) {
	return runtimepkg.BuildTypedHandler(h)
}
