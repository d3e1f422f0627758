package http

import (
	"bytes"
	"context"
	sterrors "errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmghq/mbus/internal/runtime/errors"
	"github.com/pmghq/mbus/internal/runtime/jsoncodec"
	"github.com/pmghq/mbus/transport"
)

type testConfig struct {
	port           int
	serveGzip      bool
	sendGzip       bool
	requestTimeout time.Duration
}

func (c *testConfig) GetTransport() string             { return "http" }
func (c *testConfig) GetHTTPPort() int                 { return c.port }
func (c *testConfig) GetServeGzip() bool               { return c.serveGzip }
func (c *testConfig) GetSendGzip() bool                { return c.sendGzip }
func (c *testConfig) GetRequestTimeout() time.Duration { return c.requestTimeout }
func (c *testConfig) GetNATSURL() string               { return "" }

// startTransport builds a transport on an ephemeral port, binds it
// and tears it down with the test.
func startTransport(t *testing.T, cfg *testConfig) *Transport {
	t.Helper()
	tr, err := New(cfg, watermill.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, tr.Listen(context.Background()))
	t.Cleanup(func() {
		_ = tr.Disconnect(context.Background())
	})
	return tr
}

func baseURL(tr *Transport) string {
	return fmt.Sprintf("http://127.0.0.1:%d", tr.Port())
}

// echoHandler replies with the delivered payload under "echo".
func echoHandler(ctx context.Context, d transport.Delivery) (any, error) {
	return map[string]any{"echo": d.Payload}, nil
}

// doRequest issues a raw HTTP request and returns the response with
// its fully-read body.
func doRequest(t *testing.T, method, url, body string, header nethttp.Header) (*nethttp.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := nethttp.NewRequest(method, url, reader)
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "http", TransportName)
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "http", caps.Name)
	assert.True(t, caps.SupportsRequestReply)
	assert.True(t, caps.SupportsMethodRouting)
	assert.True(t, caps.SupportsGzip)
}

func TestCapabilities(t *testing.T) {
	tr, err := New(&testConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, transport.HTTPCapabilities, tr.Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("applies default request timeout", func(t *testing.T) {
		originalFactory := ClientFactory
		defer func() { ClientFactory = originalFactory }()

		var gotTimeout time.Duration
		ClientFactory = func(timeout time.Duration) *nethttp.Client {
			gotTimeout = timeout
			return &nethttp.Client{Timeout: timeout}
		}

		tr, err := Build(context.Background(), &testConfig{}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.NotNil(t, tr)
		assert.Equal(t, defaultRequestTimeout, gotTimeout)
	})

	t.Run("honors configured timeout", func(t *testing.T) {
		originalFactory := ClientFactory
		defer func() { ClientFactory = originalFactory }()

		var gotTimeout time.Duration
		ClientFactory = func(timeout time.Duration) *nethttp.Client {
			gotTimeout = timeout
			return &nethttp.Client{Timeout: timeout}
		}

		_, err := Build(context.Background(), &testConfig{requestTimeout: 5 * time.Second}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, gotTimeout)
	})

	t.Run("requires config", func(t *testing.T) {
		_, err := Build(context.Background(), nil, watermill.NopLogger{})
		assert.ErrorIs(t, err, errors.ErrConfigRequired)
	})
}

func TestEndToEnd_DefaultListener(t *testing.T) {
	tr := startTransport(t, &testConfig{})

	err := tr.AddListener("bob", func(ctx context.Context, d transport.Delivery) (any, error) {
		data, err := jsoncodec.Marshal(d.Payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"result": fmt.Sprintf("Received %s, %s, %s", data, d.CorrelationID, d.Initiator),
		}, nil
	}, transport.ListenOptions{})
	require.NoError(t, err)

	resp, body := doRequest(t, nethttp.MethodGet, baseURL(tr)+"/bob?testParam=5", "", nethttp.Header{
		"X-PMG-CorrelationId": {"testCorrelationId"},
		"X-PMG-Initiator":     {"testInitiator"},
	})

	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, jsoncodec.Unmarshal(body, &out))
	assert.Equal(t, `Received {"testParam":"5"}, testCorrelationId, testInitiator`, out["result"])
}

func TestListenerMethods(t *testing.T) {
	tr := startTransport(t, &testConfig{})

	tests := []struct {
		method   string
		body     string
		query    string
		wantEcho any
	}{
		{
			method:   "get",
			query:    "?a=1",
			wantEcho: map[string]any{"a": "1"},
		},
		{
			method:   "post",
			body:     `{"value":"x"}`,
			wantEcho: map[string]any{"value": "x"},
		},
		{
			method:   "put",
			body:     `{"n":7}`,
			wantEcho: map[string]any{"n": float64(7)},
		},
		{
			method:   "delete",
			query:    "?id=42",
			wantEcho: map[string]any{"id": "42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			key := "methods-" + tt.method
			require.NoError(t, tr.AddListener(key, echoHandler, transport.ListenOptions{Method: tt.method}))

			resp, body := doRequest(t, strings.ToUpper(tt.method), baseURL(tr)+"/"+key+tt.query, tt.body, nil)
			assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

			var out map[string]any
			require.NoError(t, jsoncodec.Unmarshal(body, &out))
			assert.Equal(t, tt.wantEcho, out["echo"])
		})
	}
}

func TestWildcardListener(t *testing.T) {
	tr := startTransport(t, &testConfig{})
	require.NoError(t, tr.AddListener("any", echoHandler, transport.ListenOptions{Method: "all"}))

	t.Run("get extracts query", func(t *testing.T) {
		resp, body := doRequest(t, nethttp.MethodGet, baseURL(tr)+"/any?x=y", "", nil)
		assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
		var out map[string]any
		require.NoError(t, jsoncodec.Unmarshal(body, &out))
		assert.Equal(t, map[string]any{"x": "y"}, out["echo"])
	})

	t.Run("post extracts body", func(t *testing.T) {
		resp, body := doRequest(t, nethttp.MethodPost, baseURL(tr)+"/any", `{"x":"y"}`, nil)
		assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
		var out map[string]any
		require.NoError(t, jsoncodec.Unmarshal(body, &out))
		assert.Equal(t, map[string]any{"x": "y"}, out["echo"])
	})
}

func TestHierarchicalRoutingKey(t *testing.T) {
	tr := startTransport(t, &testConfig{})
	require.NoError(t, tr.AddListener("users:accounts:create", echoHandler, transport.ListenOptions{Method: "post"}))

	resp, _ := doRequest(t, nethttp.MethodPost, baseURL(tr)+"/users/accounts/create", `{}`, nil)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
}

func TestUnmatchedRoute_NotFound(t *testing.T) {
	tr := startTransport(t, &testConfig{})
	require.NoError(t, tr.AddListener("known", echoHandler, transport.ListenOptions{}))

	t.Run("unknown path", func(t *testing.T) {
		resp, body := doRequest(t, nethttp.MethodGet, baseURL(tr)+"/unknown", "", nil)
		assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
		assert.JSONEq(t, `{"message":"Not Found"}`, string(body))
	})

	t.Run("unbound method at known path", func(t *testing.T) {
		resp, body := doRequest(t, nethttp.MethodPost, baseURL(tr)+"/known", `{}`, nil)
		assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
		assert.JSONEq(t, `{"message":"Not Found"}`, string(body))
	})
}

func TestAddListener_UnsupportedMethod(t *testing.T) {
	tr, err := New(&testConfig{}, watermill.NopLogger{})
	require.NoError(t, err)

	err = tr.AddListener("bad", echoHandler, transport.ListenOptions{Method: "PATCH"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestHandlerErrorTranslation(t *testing.T) {
	tr := startTransport(t, &testConfig{})

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "invalid message",
			err:         errors.E(errors.KindInvalidMessage, "broken payload"),
			wantStatus:  nethttp.StatusBadRequest,
			wantMessage: "broken payload",
		},
		{
			name:        "unauthorized",
			err:         errors.E(errors.KindUnauthorized, "missing token"),
			wantStatus:  nethttp.StatusUnauthorized,
			wantMessage: "missing token",
		},
		{
			name:        "forbidden",
			err:         errors.E(errors.KindForbidden, "not yours"),
			wantStatus:  nethttp.StatusForbidden,
			wantMessage: "not yours",
		},
		{
			name:        "not found",
			err:         errors.E(errors.KindNotFound, "no such user"),
			wantStatus:  nethttp.StatusNotFound,
			wantMessage: "no such user",
		},
		{
			name:        "response processing",
			err:         errors.E(errors.KindResponseProcessing, "downstream broke"),
			wantStatus:  nethttp.StatusInternalServerError,
			wantMessage: "downstream broke",
		},
		{
			name:        "untyped error",
			err:         sterrors.New("boom"),
			wantStatus:  nethttp.StatusInternalServerError,
			wantMessage: "boom",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := fmt.Sprintf("failing-%d", i)
			require.NoError(t, tr.AddListener(key, func(ctx context.Context, d transport.Delivery) (any, error) {
				return nil, tt.err
			}, transport.ListenOptions{}))

			resp, body := doRequest(t, nethttp.MethodGet, baseURL(tr)+"/"+key, "", nil)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var out map[string]any
			require.NoError(t, jsoncodec.Unmarshal(body, &out))
			assert.Equal(t, tt.wantMessage, out["message"])
		})
	}
}

func TestHandlerNilResult_EmptyObject(t *testing.T) {
	tr := startTransport(t, &testConfig{})
	require.NoError(t, tr.AddListener("void", func(ctx context.Context, d transport.Delivery) (any, error) {
		return nil, nil
	}, transport.ListenOptions{}))

	resp, body := doRequest(t, nethttp.MethodGet, baseURL(tr)+"/void", "", nil)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{}`, string(body))
}

func TestInboundInvalidJSONBody(t *testing.T) {
	tr := startTransport(t, &testConfig{})
	require.NoError(t, tr.AddListener("strict", echoHandler, transport.ListenOptions{Method: "post"}))

	resp, body := doRequest(t, nethttp.MethodPost, baseURL(tr)+"/strict", `{"broken`, nil)
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)

	var out map[string]any
	require.NoError(t, jsoncodec.Unmarshal(body, &out))
	assert.Contains(t, out["message"], "invalid JSON")
}

func TestInboundGzipBody(t *testing.T) {
	tr := startTransport(t, &testConfig{})
	require.NoError(t, tr.AddListener("gzin", echoHandler, transport.ListenOptions{Method: "post"}))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`{"compressed":"yes"}`))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	resp, body := doRequest(t, nethttp.MethodPost, baseURL(tr)+"/gzin", buf.String(), nethttp.Header{
		"Content-Encoding": {"gzip"},
	})
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, jsoncodec.Unmarshal(body, &out))
	assert.Equal(t, map[string]any{"compressed": "yes"}, out["echo"])
}

func TestServeGzip(t *testing.T) {
	tr := startTransport(t, &testConfig{serveGzip: true})
	payload := strings.Repeat("x", 512)
	require.NoError(t, tr.AddListener("zipped", func(ctx context.Context, d transport.Delivery) (any, error) {
		return map[string]any{"payload": payload}, nil
	}, transport.ListenOptions{}))

	req, err := nethttp.NewRequest(nethttp.MethodGet, baseURL(tr)+"/zipped", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	// Disable the automatic decompression to observe the wire encoding.
	client := &nethttp.Client{Transport: &nethttp.Transport{DisableCompression: true}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	gz, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	defer gz.Close()

	var out map[string]any
	require.NoError(t, jsoncodec.Decode(gz, &out))
	assert.Equal(t, payload, out["payload"])
}

func TestLifecycle(t *testing.T) {
	tr, err := New(&testConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, tr.AddListener("ping", echoHandler, transport.ListenOptions{}))

	require.NoError(t, tr.Listen(ctx))
	firstPort := tr.Port()
	require.NotZero(t, firstPort)

	resp, _ := doRequest(t, nethttp.MethodGet, baseURL(tr)+"/ping", "", nil)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	// Listen again while bound is a no-op, the port stays.
	require.NoError(t, tr.Listen(ctx))
	assert.Equal(t, firstPort, tr.Port())

	require.NoError(t, tr.Disconnect(ctx))
	assert.Equal(t, "", tr.Addr())
	assert.Zero(t, tr.Port())

	// Disconnect when not listening is a no-op.
	require.NoError(t, tr.Disconnect(ctx))

	_, err = nethttp.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", firstPort))
	assert.Error(t, err)

	// A fresh Listen serves the listeners registered before teardown.
	require.NoError(t, tr.Listen(ctx))
	defer func() { _ = tr.Disconnect(ctx) }()

	resp, _ = doRequest(t, nethttp.MethodGet, baseURL(tr)+"/ping", "", nil)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
}
