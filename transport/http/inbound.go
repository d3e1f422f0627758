package http

import (
	"bytes"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/klauspost/compress/gzip"

	"github.com/pmghq/mbus/internal/runtime/errors"
	"github.com/pmghq/mbus/internal/runtime/jsoncodec"
	"github.com/pmghq/mbus/internal/runtime/metadata"
	"github.com/pmghq/mbus/transport"
)

const contentTypeJSON = "application/json; charset=utf-8"

// notFoundBody is the fixed reply for unmatched (method, path)
// combinations; business handlers never see those requests.
var notFoundBody = []byte(`{"message":"Not Found"}`)

// dispatchHandler adapts a business handler into an HTTP handler:
// tracing headers in, payload extracted by request method, outcome
// serialized back through the error protocol.
func (t *Transport) dispatchHandler(h transport.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		md := metadata.FromHeader(r.Header)

		payload, err := extractPayload(r)
		if err != nil {
			t.writeError(w, r, err)
			return
		}

		out, err := h(r.Context(), transport.Delivery{
			Payload:       payload,
			CorrelationID: md.CorrelationID(),
			Initiator:     md.Initiator(),
		})
		if err != nil {
			t.writeError(w, r, err)
			return
		}
		if out == nil {
			out = map[string]any{}
		}
		t.writeJSON(w, nethttp.StatusOK, out)
	})
}

// extractPayload pulls the message out of the request: query
// parameters for GET and DELETE, the JSON body otherwise. Wildcard
// bindings extract by the method actually on the wire.
func extractPayload(r *nethttp.Request) (any, error) {
	switch r.Method {
	case nethttp.MethodGet, nethttp.MethodDelete:
		return queryPayload(r.URL.Query()), nil
	default:
		return bodyPayload(r)
	}
}

// queryPayload flattens query parameters into a message object. A
// parameter given once maps to its string value, a repeated parameter
// to the slice of values.
func queryPayload(values url.Values) map[string]any {
	payload := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			payload[k] = vs[0]
			continue
		}
		payload[k] = vs
	}
	return payload
}

// bodyPayload decodes the request body as JSON, transparently
// inflating gzip-compressed bodies. An empty body is an empty object.
func bodyPayload(r *nethttp.Request) (any, error) {
	reader := io.Reader(r.Body)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, errors.E(errors.KindInvalidMessage, "invalid gzip request body").WithCause(err)
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.E(errors.KindInvalidMessage, "reading request body failed").WithCause(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}

	var payload any
	if err := jsoncodec.Unmarshal(data, &payload); err != nil {
		return nil, errors.E(errors.KindInvalidMessage, "invalid JSON request body").WithCause(err)
	}
	return payload, nil
}

// writeError translates a handler failure into its wire form: mapped
// status plus a JSON body that always carries at least a message.
func (t *Transport) writeError(w nethttp.ResponseWriter, r *nethttp.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= nethttp.StatusInternalServerError {
		t.logger.Error("handler failed", err, watermill.LogFields{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
	t.writeJSON(w, status, errors.ResponseBody(err))
}

// writeJSON serializes v with the given status. Serialization happens
// before any header is committed so an unencodable value still yields
// a well-formed 500.
func (t *Transport) writeJSON(w nethttp.ResponseWriter, status int, v any) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		t.logger.Error("encoding response failed", err, nil)
		status = nethttp.StatusInternalServerError
		data = []byte(`{"message":"Internal Server Error"}`)
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeNotFound(w nethttp.ResponseWriter, _ *nethttp.Request) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(nethttp.StatusNotFound)
	_, _ = w.Write(notFoundBody)
}
