package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock config for testing
type mockConfig struct {
	transport string
}

func (m *mockConfig) GetTransport() string             { return m.transport }
func (m *mockConfig) GetHTTPPort() int                 { return 0 }
func (m *mockConfig) GetServeGzip() bool               { return false }
func (m *mockConfig) GetSendGzip() bool                { return false }
func (m *mockConfig) GetRequestTimeout() time.Duration { return 0 }
func (m *mockConfig) GetNATSURL() string               { return "" }

// stubTransport is a minimal Transport implementation for registry tests.
type stubTransport struct {
	name string
}

func (s *stubTransport) ResolveTopic(routingKey string) (string, error) {
	return ResolveTopic(routingKey)
}

func (s *stubTransport) AddListener(string, Handler, ListenOptions) error { return nil }
func (s *stubTransport) RemoveListener(string) error                      { return nil }
func (s *stubTransport) Listen(context.Context) error                     { return nil }
func (s *stubTransport) Disconnect(context.Context) error                 { return nil }

func (s *stubTransport) Publish(context.Context, string, any, CallOptions) error {
	return nil
}

func (s *stubTransport) Request(context.Context, string, any, CallOptions) (any, error) {
	return nil, nil
}

func stubBuilder(name string) Builder {
	return func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return &stubTransport{name: name}, nil
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	reg.Register("test-transport", stubBuilder("test-transport"))
	assert.True(t, reg.Has("test-transport"))
	assert.Contains(t, reg.Names(), "test-transport")
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()

	caps := Capabilities{
		Name:                 "test-transport",
		SupportsRequestReply: true,
		SupportsMetadata:     true,
	}

	reg.RegisterWithCapabilities("test-transport", stubBuilder("test-transport"), caps)

	assert.True(t, reg.Has("test-transport"))
	retrievedCaps := reg.GetCapabilities("test-transport")
	assert.Equal(t, "test-transport", retrievedCaps.Name)
	assert.True(t, retrievedCaps.SupportsRequestReply)
	assert.True(t, retrievedCaps.SupportsMetadata)
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	reg := NewRegistry()
	caps := reg.GetCapabilities("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.SupportsRequestReply)
	assert.False(t, caps.SupportsMethodRouting)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", stubBuilder("test-transport"))

	cfg := &mockConfig{transport: "test-transport"}
	ctx := context.Background()

	tr, err := reg.Build(ctx, cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr)
}

func TestRegistry_Build_NilConfig(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	_, err := reg.Build(ctx, nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

func TestRegistry_Build_UnknownTransport(t *testing.T) {
	reg := NewRegistry()
	cfg := &mockConfig{transport: "unknown-transport"}
	ctx := context.Background()

	_, err := reg.Build(ctx, cfg, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestRegistry_Build_BuilderError(t *testing.T) {
	reg := NewRegistry()

	expectedErr := errors.New("builder error")
	builder := func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return nil, expectedErr
	}

	reg.Register("failing-transport", builder)
	cfg := &mockConfig{transport: "failing-transport"}
	ctx := context.Background()

	_, err := reg.Build(ctx, cfg, nil)
	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)
}

func TestRegistry_Has(t *testing.T) {
	reg := NewRegistry()

	assert.False(t, reg.Has("test-transport"))

	reg.Register("test-transport", stubBuilder("test-transport"))
	assert.True(t, reg.Has("test-transport"))
	assert.False(t, reg.Has("other-transport"))
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()

	assert.Empty(t, reg.Names())

	reg.Register("transport1", stubBuilder("transport1"))
	reg.Register("transport2", stubBuilder("transport2"))
	reg.Register("transport3", stubBuilder("transport3"))

	names := reg.Names()
	assert.Len(t, names, 3)
	assert.Contains(t, names, "transport1")
	assert.Contains(t, names, "transport2")
	assert.Contains(t, names, "transport3")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	// Register and query concurrently
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(idx int) {
			for j := 0; j < 100; j++ {
				reg.Register("transport", stubBuilder("transport"))
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	assert.True(t, reg.Has("transport"))
}

func TestGlobalRegistry(t *testing.T) {
	assert.NotNil(t, DefaultRegistry)
}

func TestBuildWithDefaultRegistry(t *testing.T) {
	cfg := &mockConfig{transport: "nonexistent"}
	ctx := context.Background()

	_, err := Build(ctx, cfg, nil)
	assert.Error(t, err)
}

func TestPackageLevelRegister(t *testing.T) {
	Register("test-pkg-transport", stubBuilder("test-pkg-transport"))

	assert.True(t, DefaultRegistry.Has("test-pkg-transport"))
}

func TestPackageLevelRegisterWithCapabilities(t *testing.T) {
	caps := Capabilities{
		Name:                 "test-pkg-caps-transport",
		SupportsRequestReply: true,
	}

	RegisterWithCapabilities("test-pkg-caps-transport", stubBuilder("test-pkg-caps-transport"), caps)

	assert.True(t, DefaultRegistry.Has("test-pkg-caps-transport"))
	retrievedCaps := DefaultRegistry.GetCapabilities("test-pkg-caps-transport")
	assert.Equal(t, "test-pkg-caps-transport", retrievedCaps.Name)
	assert.True(t, retrievedCaps.SupportsRequestReply)
}
