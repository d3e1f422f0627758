package http

import (
	"context"
	sterrors "errors"
	"fmt"
	"net"
	nethttp "net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Listen binds the serving endpoint on the configured port and starts
// serving in the background. It returns once the socket is bound, so
// a nil return means the endpoint is reachable. Listening while
// already bound is a no-op.
func (t *Transport) Listen(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.srv != nil {
		return nil
	}

	addr := fmt.Sprintf(":%d", t.cfg.GetHTTPPort())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mbus http: listen on %s: %w", addr, err)
	}

	srv := &nethttp.Server{
		Handler:        nethttp.HandlerFunc(t.serveHTTP),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	t.srv, t.ln = srv, ln

	go func() {
		if err := srv.Serve(ln); err != nil && !sterrors.Is(err, nethttp.ErrServerClosed) {
			t.logger.Error("http server terminated", err, watermill.LogFields{
				"addr": ln.Addr().String(),
			})
		}
	}()

	t.logger.Info("http transport listening", watermill.LogFields{
		"addr": ln.Addr().String(),
	})
	return nil
}

// Disconnect stops serving: the socket closes, in-flight requests
// drain (bounded by ctx), and the server reference clears so a later
// Listen binds fresh. Disconnecting while not listening is a no-op.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.srv == nil {
		return nil
	}

	err := t.srv.Shutdown(ctx)
	t.srv, t.ln = nil, nil
	if err != nil {
		return fmt.Errorf("mbus http: shutdown: %w", err)
	}

	t.logger.Info("http transport stopped", nil)
	return nil
}

// Addr reports the bound listen address, or "" when not listening.
// With port 0 this is the way to learn the OS-assigned port.
func (t *Transport) Addr() string {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	if t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

// Port reports the bound listen port, or 0 when not listening.
func (t *Transport) Port() int {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	if t.ln == nil {
		return 0
	}
	if tcp, ok := t.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
