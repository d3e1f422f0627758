package http

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pmghq/mbus/transport"
)

// listenerEntry is one active binding of a handler at (method, path).
type listenerEntry struct {
	method  string
	path    string
	handler transport.Handler
}

// listenerTable is the immutable listener registry value. Mutations
// produce a new table; the transport swaps tables atomically so a
// request dispatching during a mutation observes either the fully-old
// or fully-new registry, never a partial rebuild.
type listenerTable struct {
	entries []listenerEntry
}

func newListenerTable() *listenerTable {
	return &listenerTable{}
}

// upsert returns a new table with h bound at (method, path). An
// existing binding at the exact (method, path) is replaced in place so
// registration order stays stable across re-registrations.
func (lt *listenerTable) upsert(method, path string, h transport.Handler) *listenerTable {
	next := &listenerTable{entries: make([]listenerEntry, len(lt.entries), len(lt.entries)+1)}
	copy(next.entries, lt.entries)

	for i, e := range next.entries {
		if e.method == method && e.path == path {
			next.entries[i].handler = h
			return next
		}
	}
	next.entries = append(next.entries, listenerEntry{method: method, path: path, handler: h})
	return next
}

// removePath returns a new table without any binding at path. Removal
// is path-scoped: every method bound at the path is dropped, entries
// at other paths survive untouched. Removing an unknown path yields
// an equivalent table.
func (lt *listenerTable) removePath(path string) *listenerTable {
	next := &listenerTable{entries: make([]listenerEntry, 0, len(lt.entries))}
	for _, e := range lt.entries {
		if e.path != path {
			next.entries = append(next.entries, e)
		}
	}
	return next
}

// handlerAt reports the handler bound at (method, path), for
// introspection after registration.
func (lt *listenerTable) handlerAt(method, path string) (transport.Handler, bool) {
	for _, e := range lt.entries {
		if e.method == method && e.path == path {
			return e.handler, true
		}
	}
	return nil, false
}

// AddListener binds h at the routing key's path for the method in
// opts (default GET, wildcard ALL supported). A prior binding at the
// exact (method, path) is replaced, last write wins.
func (t *Transport) AddListener(routingKey string, h transport.Handler, opts transport.ListenOptions) error {
	method, err := transport.NormalizeListenerMethod(opts.Method)
	if err != nil {
		return err
	}
	topic, err := t.ResolveTopic(routingKey)
	if err != nil {
		return err
	}
	path := wirePath(topic)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.swap(t.table.upsert(method, path, h))

	t.logger.Debug("listener added", watermill.LogFields{
		"method": method,
		"path":   path,
	})
	return nil
}

// RemoveListener drops every binding at the routing key's path across
// all methods. Removing an unregistered path is a no-op.
func (t *Transport) RemoveListener(routingKey string) error {
	topic, err := t.ResolveTopic(routingKey)
	if err != nil {
		return err
	}
	path := wirePath(topic)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.swap(t.table.removePath(path))

	t.logger.Debug("listeners removed", watermill.LogFields{"path": path})
	return nil
}

// swap installs next as the current table and publishes a router
// rebuilt from it. Callers hold t.mu.
func (t *Transport) swap(next *listenerTable) {
	t.table = next
	t.mux.Store(t.buildMux(next))
}

// buildMux materializes a router from a table. Unmatched paths and
// unmatched methods at known paths both answer 404 with the fixed
// not-found body; they never reach a handler. Wildcard entries bind
// before method-specific ones so a specific binding at the same path
// always wins.
func (t *Transport) buildMux(tbl *listenerTable) *chi.Mux {
	mux := chi.NewRouter()
	if t.cfg.GetServeGzip() {
		mux.Use(middleware.Compress(5))
	}
	mux.NotFound(writeNotFound)
	mux.MethodNotAllowed(writeNotFound)

	for _, e := range tbl.entries {
		if e.method == transport.MethodAll {
			mux.Handle(e.path, t.dispatchHandler(e.handler))
		}
	}
	for _, e := range tbl.entries {
		if e.method != transport.MethodAll {
			mux.Method(e.method, e.path, t.dispatchHandler(e.handler))
		}
	}
	return mux
}
