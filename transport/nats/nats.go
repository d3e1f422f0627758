// Package nats provides a NATS Core transport for mbus. Routing keys
// resolve to dotted subjects and the listener method becomes the
// leading subject token, so "users:create" served for POST listens on
// "POST.users.create". Request/reply rides NATS request semantics;
// the reply carries the status in a header and the same JSON bodies
// the HTTP transport uses, so typed errors cross this wire unchanged.
package nats

import (
	"bytes"
	"context"
	sterrors "errors"
	"fmt"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/pmghq/mbus/internal/runtime/errors"
	"github.com/pmghq/mbus/internal/runtime/jsoncodec"
	"github.com/pmghq/mbus/internal/runtime/metadata"
	"github.com/pmghq/mbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// headerStatus carries the reply status across NATS, which has no
// status line of its own. Missing means 200.
const headerStatus = "x-mbus-status"

// drainPollInterval paces the wait for a draining connection to close.
const drainPollInterval = 10 * time.Millisecond

// Conn is the slice of the NATS client connection the transport uses.
// It exists so tests can substitute an in-memory connection through
// ConnectFactory.
type Conn interface {
	Subscribe(subject string, handler nats.MsgHandler) (Subscription, error)
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
	PublishMsg(msg *nats.Msg) error
	Drain() error
	IsClosed() bool
	Close()
}

// Subscription is the live binding of one subject, owned by Conn.
type Subscription interface {
	Unsubscribe() error
}

// ConnectFactory allows overriding how the transport reaches a NATS
// server. Tests substitute an in-memory connection.
var ConnectFactory = func(url string) (Conn, error) {
	nc, err := nats.Connect(url, nats.Name("mbus"))
	if err != nil {
		return nil, err
	}
	return &natsConn{nc}, nil
}

// natsConn adapts *nats.Conn to Conn; Subscribe narrows the returned
// subscription to the Subscription interface.
type natsConn struct{ *nats.Conn }

func (c *natsConn) Subscribe(subject string, handler nats.MsgHandler) (Subscription, error) {
	return c.Conn.Subscribe(subject, handler)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates the NATS transport from config.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return New(cfg, logger)
}

// topicListeners is the serving state of one resolved topic: the
// method-keyed handlers plus the single wildcard subscription feeding
// them. sub is nil until Listen.
type topicListeners struct {
	handlers map[string]transport.Handler
	sub      Subscription
}

// Transport serves and calls over NATS Core subjects. One wildcard
// subscription per topic receives every method token; dispatch picks
// the method's handler with ALL as fallback, so a specific listener
// beats a wildcard one deterministically.
type Transport struct {
	cfg    transport.Config
	logger watermill.LoggerAdapter

	mu        sync.RWMutex
	conn      Conn
	listening bool
	entries   map[string]*topicListeners
}

// New creates a NATS transport. The connection is established lazily
// on the first Listen or outbound call.
func New(cfg transport.Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg == nil {
		return nil, errors.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Transport{
		cfg:     cfg,
		logger:  logger,
		entries: map[string]*topicListeners{},
	}, nil
}

// ResolveTopic converts a routing key into a dotted NATS token path:
// "users:create" becomes "users.create".
func (t *Transport) ResolveTopic(routingKey string) (string, error) {
	topic, err := transport.ResolveTopic(routingKey)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(topic, transport.PathSeparator, "."), nil
}

// Capabilities reports what this transport supports.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

// AddListener binds h at the routing key for the method in opts,
// replacing any existing listener at that exact binding. When the
// transport is already listening the topic goes live immediately.
func (t *Transport) AddListener(routingKey string, h transport.Handler, opts transport.ListenOptions) error {
	method, err := transport.NormalizeListenerMethod(opts.Method)
	if err != nil {
		return err
	}
	topic, err := t.ResolveTopic(routingKey)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	tl := t.entries[topic]
	if tl == nil {
		tl = &topicListeners{handlers: map[string]transport.Handler{}}
		t.entries[topic] = tl
	}
	tl.handlers[method] = h
	if t.listening && tl.sub == nil {
		if err := t.subscribeLocked(topic, tl); err != nil {
			return fmt.Errorf("mbus nats: subscribe %s: %w", topic, err)
		}
	}
	t.logger.Debug("listener added", watermill.LogFields{"method": method, "topic": topic})
	return nil
}

// RemoveListener unbinds every method at the routing key's topic and
// drops its subscription. Unknown keys are a no-op.
func (t *Transport) RemoveListener(routingKey string) error {
	topic, err := t.ResolveTopic(routingKey)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	tl := t.entries[topic]
	if tl == nil {
		return nil
	}
	delete(t.entries, topic)
	if tl.sub != nil {
		if err := tl.sub.Unsubscribe(); err != nil {
			return fmt.Errorf("mbus nats: unsubscribe %s: %w", topic, err)
		}
	}
	t.logger.Debug("listener removed", watermill.LogFields{"topic": topic})
	return nil
}

// Listen connects and subscribes every registered topic. It returns
// once the subscriptions are placed; serving continues on the
// connection's goroutines. Listening transports are a no-op.
func (t *Transport) Listen(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listening {
		return nil
	}
	if err := t.connectLocked(); err != nil {
		return fmt.Errorf("mbus nats: connect %s: %w", t.url(), err)
	}
	for topic, tl := range t.entries {
		if tl.sub != nil {
			continue
		}
		if err := t.subscribeLocked(topic, tl); err != nil {
			return fmt.Errorf("mbus nats: subscribe %s: %w", topic, err)
		}
	}
	t.listening = true
	t.logger.Info("nats transport listening", watermill.LogFields{
		"url":    t.url(),
		"topics": len(t.entries),
	})
	return nil
}

// Disconnect drains the connection: subscriptions stop taking new
// messages, in-flight handlers finish and their replies flush before
// the connection closes. Idempotent; listeners stay registered and a
// subsequent Listen reconnects them.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	nc := t.conn
	t.conn = nil
	t.listening = false
	for _, tl := range t.entries {
		tl.sub = nil
	}
	t.mu.Unlock()

	if nc == nil {
		return nil
	}
	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("mbus nats: drain: %w", err)
	}
	for !nc.IsClosed() {
		select {
		case <-ctx.Done():
			nc.Close()
			return fmt.Errorf("mbus nats: drain: %w", ctx.Err())
		case <-time.After(drainPollInterval):
		}
	}
	t.logger.Info("nats transport stopped", nil)
	return nil
}

// Request sends msg at the routing key and returns the decoded reply,
// or the typed error reconstructed from the reply status. A request
// nobody subscribes to comes back as not found, matching an unmatched
// HTTP route.
func (t *Transport) Request(ctx context.Context, routingKey string, msg any, opts transport.CallOptions) (any, error) {
	topic, err := t.ResolveTopic(routingKey)
	if err != nil {
		return nil, err
	}
	method := transport.NormalizeCallMethod(opts.Method)
	nc, err := t.ensureConn()
	if err != nil {
		return nil, errors.E(errors.KindRequest, "connecting to nats failed").WithCause(err)
	}

	req := nats.NewMsg(method + "." + topic)
	if msg != nil {
		data, err := jsoncodec.Marshal(msg)
		if err != nil {
			return nil, errors.E(errors.KindValidation, "encoding message failed").WithCause(err)
		}
		req.Data = data
	}
	metadata.ApplyToHeader(metadata.New(
		metadata.KeyCorrelationID, opts.CorrelationID,
		metadata.KeyInitiator, opts.Initiator,
	), nethttp.Header(req.Header))

	reply, err := nc.RequestMsgWithContext(ctx, req)
	if err != nil {
		if sterrors.Is(err, nats.ErrNoResponders) {
			return nil, errors.E(errors.KindNotFound, "Not Found").WithCause(err)
		}
		return nil, errors.E(errors.KindRequest, "request failed").WithCause(err)
	}
	return decodeReply(reply)
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

// subscribeLocked places the topic's wildcard subscription: "*" as
// the method token receives every verb in one subscription, keeping
// specific-over-ALL selection an in-process map lookup instead of a
// race between overlapping NATS subscriptions. The delivering
// connection is captured so replies still flush while a later
// Disconnect drains it.
func (t *Transport) subscribeLocked(topic string, tl *topicListeners) error {
	sub, err := t.conn.Subscribe("*."+topic, t.dispatch(t.conn, topic))
	if err != nil {
		return err
	}
	tl.sub = sub
	return nil
}

// dispatch builds the subscription callback for one topic. The method
// token of the arriving subject selects the handler; ALL is the
// fallback, an unbound method answers not found.
func (t *Transport) dispatch(nc Conn, topic string) nats.MsgHandler {
	return func(m *nats.Msg) {
		method := methodToken(m.Subject)

		t.mu.RLock()
		var h transport.Handler
		if tl := t.entries[topic]; tl != nil {
			if h = tl.handlers[method]; h == nil {
				h = tl.handlers[transport.MethodAll]
			}
		}
		t.mu.RUnlock()

		if h == nil {
			t.respond(nc, m, nethttp.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}

		payload, err := decodePayload(m.Data)
		if err != nil {
			t.respondError(nc, m, err)
			return
		}
		md := metadata.FromHeader(nethttp.Header(m.Header))
		out, err := h(context.Background(), transport.Delivery{
			Payload:       payload,
			CorrelationID: md.CorrelationID(),
			Initiator:     md.Initiator(),
		})
		if err != nil {
			t.respondError(nc, m, err)
			return
		}
		if out == nil {
			out = map[string]any{}
		}
		t.respond(nc, m, nethttp.StatusOK, out)
	}
}

// respondError translates err through the shared status mapping and
// serves its body. Internal failures are logged; the four mapped
// kinds are the caller's fault and stay quiet.
func (t *Transport) respondError(nc Conn, m *nats.Msg, err error) {
	status := errors.HTTPStatus(err)
	if status >= nethttp.StatusInternalServerError {
		t.logger.Error("handler failed", err, watermill.LogFields{"subject": m.Subject})
	}
	t.respond(nc, m, status, errors.ResponseBody(err))
}

// respond publishes the reply with the status header set. Messages
// without a reply inbox are plain publishes and get no answer.
func (t *Transport) respond(nc Conn, m *nats.Msg, status int, body any) {
	if m.Reply == "" {
		return
	}
	data, err := jsoncodec.Marshal(body)
	if err != nil {
		status = nethttp.StatusInternalServerError
		data = []byte(`{"message":"Internal Server Error"}`)
	}
	reply := nats.NewMsg(m.Reply)
	reply.Header.Set(headerStatus, strconv.Itoa(status))
	reply.Data = data
	if err := nc.PublishMsg(reply); err != nil {
		t.logger.Error("responding failed", err, watermill.LogFields{"subject": m.Subject})
	}
}

// ensureConn returns the live connection, dialing on first use.
func (t *Transport) ensureConn() (Conn, error) {
	t.mu.RLock()
	nc := t.conn
	t.mu.RUnlock()
	if nc != nil {
		return nc, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		if err := t.connectLocked(); err != nil {
			return nil, err
		}
	}
	return t.conn, nil
}

func (t *Transport) connectLocked() error {
	if t.conn != nil {
		return nil
	}
	nc, err := ConnectFactory(t.url())
	if err != nil {
		return err
	}
	t.conn = nc
	return nil
}

func (t *Transport) url() string {
	if u := t.cfg.GetNATSURL(); u != "" {
		return u
	}
	return nats.DefaultURL
}

// decodeReply turns a reply message back into the caller's result:
// the status header drives the shared error reconstruction, a 2xx
// body decodes as the result, empty means an empty object.
func decodeReply(reply *nats.Msg) (any, error) {
	status := nethttp.StatusOK
	if raw := reply.Header.Get(headerStatus); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.E(errors.KindRequest, "malformed response status").WithCause(err).WithBody(reply.Data)
		}
		status = parsed
	}
	if status < 200 || status > 299 {
		return nil, errors.FromStatusBody(status, reply.Data)
	}
	if len(bytes.TrimSpace(reply.Data)) == 0 {
		return map[string]any{}, nil
	}
	var out any
	if err := jsoncodec.Unmarshal(reply.Data, &out); err != nil {
		return nil, errors.E(errors.KindRequest, "malformed response body").WithCause(err).WithBody(reply.Data)
	}
	return out, nil
}

// decodePayload decodes an inbound message body; empty is an empty
// object, anything else must be JSON.
func decodePayload(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var payload any
	if err := jsoncodec.Unmarshal(data, &payload); err != nil {
		return nil, errors.E(errors.KindInvalidMessage, "invalid JSON request payload").WithCause(err)
	}
	return payload, nil
}

// methodToken extracts the leading subject token, the wire method.
func methodToken(subject string) string {
	if i := strings.Index(subject, "."); i >= 0 {
		return subject[:i]
	}
	return subject
}
