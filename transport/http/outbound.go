package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/pmghq/mbus/internal/runtime/errors"
	"github.com/pmghq/mbus/internal/runtime/jsoncodec"
	"github.com/pmghq/mbus/internal/runtime/metadata"
	"github.com/pmghq/mbus/transport"
)

// Request issues an outbound call at the routing key and returns the
// decoded reply. Failures come back as typed errors: status-coded
// replies reconstitute the peer's error kind, everything that never
// produced a status is a request error.
func (t *Transport) Request(ctx context.Context, routingKey string, msg any, opts transport.CallOptions) (any, error) {
	topic, err := t.ResolveTopic(routingKey)
	if err != nil {
		return nil, err
	}

	method := transport.NormalizeCallMethod(opts.Method)
	req, err := t.newRequest(ctx, method, buildURI(topic, opts), msg, opts)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.E(errors.KindRequest, "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E(errors.KindRequest, "reading response failed").WithCause(err)
	}

	if resp.StatusCode < nethttp.StatusOK || resp.StatusCode >= nethttp.StatusMultipleChoices {
		return nil, errors.FromStatusBody(resp.StatusCode, body)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	var out any
	if err := jsoncodec.Unmarshal(body, &out); err != nil {
		return nil, errors.E(errors.KindRequest, "malformed response body").WithCause(err).WithBody(body)
	}
	return out, nil
}

// Publish fires msg at the routing key and discards the remote
// outcome. Only response-family errors are absorbed: a validation or
// request error means the call never reached a handler and still
// surfaces to the caller.
func (t *Transport) Publish(ctx context.Context, routingKey string, msg any, opts transport.CallOptions) error {
	_, err := t.Request(ctx, routingKey, msg, opts)
	if err != nil && errors.IsResponseError(err) {
		return nil
	}
	return err
}

// newRequest assembles the outbound request: query-encoded message
// for GET, JSON body otherwise, tracing headers from opts, and gzip
// compression of the body when configured.
func (t *Transport) newRequest(ctx context.Context, method, uri string, msg any, opts transport.CallOptions) (*nethttp.Request, error) {
	var body io.Reader
	compressed := false

	if method == transport.MethodGet {
		query, err := queryEncode(msg)
		if err != nil {
			return nil, err
		}
		if query != "" {
			uri = uri + "?" + query
		}
	} else if msg != nil {
		data, err := jsoncodec.Marshal(msg)
		if err != nil {
			return nil, errors.E(errors.KindValidation, "encoding message failed").WithCause(err)
		}
		if t.cfg.GetSendGzip() {
			data, err = gzipCompress(data)
			if err != nil {
				return nil, errors.E(errors.KindRequest, "compressing request body failed").WithCause(err)
			}
			compressed = true
		}
		body = bytes.NewReader(data)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return nil, errors.E(errors.KindValidation, "invalid request target").WithCause(err).WithDetail("uri", uri)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
		if compressed {
			req.Header.Set("Content-Encoding", "gzip")
		}
	}
	metadata.ApplyToHeader(metadata.New(
		metadata.KeyCorrelationID, opts.CorrelationID,
		metadata.KeyInitiator, opts.Initiator,
	), req.Header)
	return req, nil
}

// buildURI derives the call target. Host, port and protocol from opts
// pin the address explicitly; without a host the resolved topic is
// itself the address, defaulting to plain http when it names no
// scheme.
func buildURI(topic string, opts transport.CallOptions) string {
	if opts.Host == "" {
		if strings.Contains(topic, "://") {
			return topic
		}
		return "http://" + topic
	}

	protocol := opts.Protocol
	if protocol == "" {
		protocol = "http"
	}
	addr := opts.Host
	if opts.Port != 0 {
		addr = fmt.Sprintf("%s:%d", addr, opts.Port)
	}
	return fmt.Sprintf("%s://%s/%s", protocol, addr, strings.TrimPrefix(topic, "/"))
}

// queryEncode flattens a message into a query string. The message
// must encode to a JSON object; values keep their JSON scalar form
// and arrays become repeated parameters.
func queryEncode(msg any) (string, error) {
	if msg == nil {
		return "", nil
	}
	obj, err := jsoncodec.ToObject(msg)
	if err != nil {
		return "", errors.E(errors.KindValidation, "message must encode to an object for query transport").WithCause(err)
	}

	values := url.Values{}
	for k, v := range obj {
		if items, ok := v.([]any); ok {
			for _, item := range items {
				values.Add(k, queryScalar(item))
			}
			continue
		}
		values.Set(k, queryScalar(v))
	}
	return values.Encode(), nil
}

// queryScalar renders one query value. Non-scalar values fall back to
// their JSON encoding so nothing is silently dropped.
func queryScalar(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case json.Number:
		return vv.String()
	case bool:
		return strconv.FormatBool(vv)
	default:
		data, err := jsoncodec.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv)
		}
		return string(data)
	}
}

// gzipCompress returns data as a gzip stream.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

