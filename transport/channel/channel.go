// Package channel provides an in-process loopback transport for mbus.
// Calls dispatch directly to registered handlers without leaving the
// process; published messages additionally mirror onto a Watermill
// go-channel stream for observers. Useful for testing and local
// development.
package channel

import (
	"context"
	sterrors "errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/pmghq/mbus/internal/runtime/errors"
	"github.com/pmghq/mbus/internal/runtime/jsoncodec"
	"github.com/pmghq/mbus/internal/runtime/metadata"
	"github.com/pmghq/mbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the feed pub/sub creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() { Register() }

// Register registers the channel transport with the default registry.
// Importing the package already does this; calling it explicitly is
// only needed after replacing the registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new channel transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return New(cfg, logger)
}

// Transport dispatches in-process. Listener methods are validated for
// contract parity but folded away: the path alone addresses the
// handler, so a second registration at the same path replaces the
// first even when the methods differ.
type Transport struct {
	cfg    transport.Config
	logger watermill.LoggerAdapter

	mu        sync.RWMutex
	handlers  map[string]transport.Handler
	listening bool
	feedPub   message.Publisher
	feedSub   message.Subscriber
}

// New constructs a channel transport from cfg. Dispatch requires
// Listen first, mirroring the remote transports.
func New(cfg transport.Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg == nil {
		return nil, errors.ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Transport{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]transport.Handler),
	}, nil
}

// ResolveTopic converts a routing key into the in-process address.
func (t *Transport) ResolveTopic(routingKey string) (string, error) {
	return transport.ResolveTopic(routingKey)
}

// Capabilities returns the capabilities of this transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// AddListener binds h at the routing key's path, replacing any prior
// binding there.
func (t *Transport) AddListener(routingKey string, h transport.Handler, opts transport.ListenOptions) error {
	if _, err := transport.NormalizeListenerMethod(opts.Method); err != nil {
		return err
	}
	topic, err := t.ResolveTopic(routingKey)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[topic] = h
	return nil
}

// RemoveListener unbinds the routing key's path. Unknown paths are a
// no-op.
func (t *Transport) RemoveListener(routingKey string) error {
	topic, err := t.ResolveTopic(routingKey)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, topic)
	return nil
}

// Listen opens the loopback for dispatch and creates the feed
// pub/sub. Listening while open is a no-op.
func (t *Transport) Listen(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listening {
		return nil
	}
	t.feedPub, t.feedSub = Factory(gochannel.Config{}, t.logger)
	t.listening = true
	t.logger.Info("channel transport listening", nil)
	return nil
}

// Disconnect closes the loopback and the feed. Idempotent; a later
// Listen reopens with the registered handlers intact.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.listening {
		return nil
	}
	t.listening = false

	// The feed pub and sub are usually one go-channel; Close there is
	// idempotent so closing both sides is safe either way.
	err := sterrors.Join(t.feedPub.Close(), t.feedSub.Close())
	t.feedPub, t.feedSub = nil, nil
	if err != nil {
		return err
	}

	t.logger.Info("channel transport stopped", nil)
	return nil
}

// Feed exposes the observation stream: every published message is
// mirrored there keyed by its resolved topic. Nil until Listen.
func (t *Transport) Feed() message.Subscriber {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.feedSub
}

// Request dispatches msg to the handler at the routing key and
// returns its reply. Payload and reply both round-trip through JSON
// so handlers observe the same shapes they would see on a wire
// transport.
func (t *Transport) Request(ctx context.Context, routingKey string, msg any, opts transport.CallOptions) (any, error) {
	topic, err := t.ResolveTopic(routingKey)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	listening := t.listening
	h := t.handlers[topic]
	t.mu.RUnlock()

	if !listening {
		return nil, errors.E(errors.KindRequest, "channel transport not listening")
	}
	if h == nil {
		return nil, errors.E(errors.KindNotFound, "Not Found")
	}

	payload, err := jsonShape(msg)
	if err != nil {
		return nil, errors.E(errors.KindValidation, "encoding message failed").WithCause(err)
	}

	out, err := h(ctx, transport.Delivery{
		Payload:       payload,
		CorrelationID: opts.CorrelationID,
		Initiator:     opts.Initiator,
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	reply, err := jsonShape(out)
	if err != nil {
		return nil, errors.E(errors.KindResponseProcessing, "encoding reply failed").WithCause(err)
	}
	return reply, nil
}

// Publish dispatches msg at the routing key, discards the handler
// outcome and mirrors the message onto the feed. Only response-family
// errors are absorbed; a validation failure or a closed loopback
// still surfaces.
func (t *Transport) Publish(ctx context.Context, routingKey string, msg any, opts transport.CallOptions) error {
	topic, err := t.ResolveTopic(routingKey)
	if err != nil {
		return err
	}

	if _, err := t.Request(ctx, routingKey, msg, opts); err != nil && !errors.IsResponseError(err) {
		return err
	}
	t.mirror(topic, msg, opts)
	return nil
}

// mirror copies a published message onto the feed stream. Feed loss
// is logged, never fatal.
func (t *Transport) mirror(topic string, msg any, opts transport.CallOptions) {
	t.mu.RLock()
	pub := t.feedPub
	t.mu.RUnlock()
	if pub == nil {
		return
	}

	data := []byte("{}")
	if msg != nil {
		var err error
		data, err = jsoncodec.Marshal(msg)
		if err != nil {
			t.logger.Error("encoding feed message failed", err, watermill.LogFields{"topic": topic})
			return
		}
	}

	m := message.NewMessage(watermill.NewUUID(), data)
	m.Metadata = metadata.ToWatermill(metadata.New(
		metadata.KeyCorrelationID, opts.CorrelationID,
		metadata.KeyInitiator, opts.Initiator,
	))
	if err := pub.Publish(topic, m); err != nil {
		t.logger.Error("feed publish failed", err, watermill.LogFields{"topic": topic})
	}
}

// jsonShape round-trips v through JSON, normalizing structs and typed
// maps into the generic shapes a wire transport would deliver.
func jsonShape(v any) (any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := jsoncodec.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
