// Package metadata carries the tracing pairs mbus propagates across
// hops: the correlation id and the initiator. It owns both the
// in-process keys and the fixed wire header names, so transports agree
// on one spelling.
package metadata

// Canonical in-process keys. Transports that carry metadata as a map
// (channel, nats) use these; the HTTP transport maps them to the wire
// header names in headers.go.
const (
	KeyCorrelationID = "correlation_id"
	KeyInitiator     = "initiator"
)

// Metadata represents the tracing pairs carried alongside a message.
// Values are opaque: mbus passes them through verbatim and never
// validates their content.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
// Pairs with an empty value are dropped, so absent tracing headers
// never materialize as empty entries.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// CorrelationID returns the correlation id pair value, if present.
func (m Metadata) CorrelationID() string { return m[KeyCorrelationID] }

// Initiator returns the initiator pair value, if present.
func (m Metadata) Initiator() string { return m[KeyInitiator] }
