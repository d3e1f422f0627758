package metadata

import "net/http"

// Fixed wire header names for the propagated tracing pairs. Matching
// on the inbound side is case-insensitive (http.Header canonicalizes),
// so X-PMG-CorrelationId and x-pmg-correlationid are the same header.
const (
	HeaderCorrelationID = "x-pmg-correlationid"
	HeaderInitiator     = "x-pmg-initiator"
)

// FromHeader extracts the tracing pairs from h. Absent or empty
// headers yield no entry; values pass through verbatim.
func FromHeader(h http.Header) Metadata {
	return New(
		KeyCorrelationID, h.Get(HeaderCorrelationID),
		KeyInitiator, h.Get(HeaderInitiator),
	)
}

// ApplyToHeader stamps the tracing pairs onto h. Empty values are
// skipped so absent metadata never produces empty headers on the wire.
func ApplyToHeader(m Metadata, h http.Header) {
	if v := m[KeyCorrelationID]; v != "" {
		h.Set(HeaderCorrelationID, v)
	}
	if v := m[KeyInitiator]; v != "" {
		h.Set(HeaderInitiator, v)
	}
}
