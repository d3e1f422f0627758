package runtime

import (
	"net/http"
	"strings"

	"github.com/pmghq/mbus/internal/runtime/jsoncodec"
)

// ListenerInfo is one entry of the introspection API: a registered
// listener binding plus its accumulated dispatch stats.
type ListenerInfo struct {
	RoutingKey string         `json:"routing_key"`
	Method     string         `json:"method"`
	Topic      string         `json:"topic"`
	Stats      *ListenerStats `json:"stats"`
}

// Listeners returns a snapshot of the currently registered listener
// bindings, in registration order.
func (b *Bus) Listeners() []*ListenerInfo {
	b.listenersMu.RLock()
	defer b.listenersMu.RUnlock()

	out := make([]*ListenerInfo, len(b.listeners))
	copy(out, b.listeners)
	return out
}

func (b *Bus) recordListener(routingKey, method string, stats *ListenerStats) {
	topic, _ := b.transport.ResolveTopic(routingKey)

	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()

	// Re-registering a binding replaces it, matching the transport's
	// last-write-wins semantics.
	for i, info := range b.listeners {
		if info.RoutingKey == routingKey && info.Method == method {
			b.listeners[i] = &ListenerInfo{RoutingKey: routingKey, Method: method, Topic: topic, Stats: stats}
			return
		}
	}
	b.listeners = append(b.listeners, &ListenerInfo{RoutingKey: routingKey, Method: method, Topic: topic, Stats: stats})
}

func (b *Bus) forgetListeners(routingKey string) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()

	kept := b.listeners[:0]
	for _, info := range b.listeners {
		if info.RoutingKey != routingKey {
			kept = append(kept, info)
		}
	}
	for i := len(kept); i < len(b.listeners); i++ {
		b.listeners[i] = nil
	}
	b.listeners = kept
}

func (b *Bus) startIntrospectionServer() {
	if b.Conf == nil || !b.Conf.IntrospectionEnabled {
		return
	}

	port := b.Conf.IntrospectionPort
	if port == 0 {
		port = 8081
	}

	b.RegisterHTTPHandler(port, "/api/listeners", http.HandlerFunc(b.handleGetListeners))
}

func (b *Bus) handleGetListeners(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if b.Conf != nil && len(b.Conf.IntrospectionCORSOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := b.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, b.Listeners()); err != nil {
		b.Logger.Error("Failed to encode listeners", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value
// for the request origin, or empty when the origin is not allowed.
func (b *Bus) getAllowedCORSOrigin(requestOrigin string) string {
	if b.Conf == nil {
		return ""
	}
	for _, allowed := range b.Conf.IntrospectionCORSOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
