package transport

// Capabilities describes the features supported by a transport backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// SupportsRequestReply indicates the transport can return a decoded
	// reply for Request. When false, Request degrades to Publish.
	SupportsRequestReply bool

	// SupportsMethodRouting indicates the transport can bind distinct
	// handlers per method at one path. When false, the method is folded
	// into the wire address instead.
	SupportsMethodRouting bool

	// SupportsWildcardMethod indicates ALL registrations bind a single
	// handler across every supported method.
	SupportsWildcardMethod bool

	// SupportsMetadata indicates correlation id and initiator propagate
	// across hops.
	SupportsMetadata bool

	// SupportsGzip indicates the transport can compress bodies on the
	// wire.
	SupportsGzip bool

	// RequiresRemotePeer indicates calls leave the process. False means
	// the transport loops back in-process.
	RequiresRemotePeer bool

	// MaxPayloadSize is the maximum payload size in bytes (0 = unlimited/unknown).
	MaxPayloadSize int64

	// Name is the human-readable name of the transport.
	Name string

	// Version is the transport/driver version.
	Version string
}

// RequiresMethodEmulation returns true if the transport folds the
// listener method into the wire address because it cannot route by
// method natively.
func (c Capabilities) RequiresMethodEmulation() bool {
	return !c.SupportsMethodRouting
}

// IsLoopback returns true if calls never leave the process.
func (c Capabilities) IsLoopback() bool {
	return !c.RequiresRemotePeer
}

// Predefined capability sets for the in-tree transports.
var (
	// HTTPCapabilities for the HTTP transport.
	HTTPCapabilities = Capabilities{
		Name:                   "http",
		SupportsRequestReply:   true,
		SupportsMethodRouting:  true,
		SupportsWildcardMethod: true,
		SupportsMetadata:       true,
		SupportsGzip:           true,
		RequiresRemotePeer:     true,
	}

	// ChannelCapabilities for the in-process channel transport.
	ChannelCapabilities = Capabilities{
		Name:                   "channel",
		SupportsRequestReply:   true,
		SupportsMethodRouting:  false,
		SupportsWildcardMethod: true,
		SupportsMetadata:       true,
		SupportsGzip:           false,
		RequiresRemotePeer:     false,
	}

	// NATSCapabilities for the NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:                   "nats",
		SupportsRequestReply:   true,
		SupportsMethodRouting:  false,
		SupportsWildcardMethod: true,
		SupportsMetadata:       true,
		SupportsGzip:           false,
		RequiresRemotePeer:     true,
		MaxPayloadSize:         1048576, // NATS default 1MB
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each
// transport package. Returns a zero Capabilities struct if the
// transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
