package docstore

import (
	"context"
	"sync"
)

// Hub fans change signals out to subscriptions. Backends call Notify with the
// path of every document they write or delete; subscriptions on that
// document and on its parent collection reload and deliver a fresh snapshot.
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
}

type watcher struct {
	signal chan struct{}
}

func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[*watcher]struct{})}
}

// Notify marks docPath and its parent collection as changed.
func (h *Hub) Notify(docPath string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signalLocked(docPath)
	if parent := Parent(docPath); parent != "" {
		h.signalLocked(parent)
	}
}

func (h *Hub) signalLocked(path string) {
	for w := range h.watchers[path] {
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of live watchers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ws := range h.watchers {
		n += len(ws)
	}
	return n
}

func (h *Hub) add(path string) *watcher {
	w := &watcher{signal: make(chan struct{}, 1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	ws, ok := h.watchers[path]
	if !ok {
		ws = make(map[*watcher]struct{})
		h.watchers[path] = ws
	}
	ws[w] = struct{}{}
	return w
}

func (h *Hub) remove(path string, w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers[path], w)
	if len(h.watchers[path]) == 0 {
		delete(h.watchers, path)
	}
}

// Watch registers a subscription on path. load is called once immediately
// and again after every signal; signals arriving while a snapshot is waiting
// to be received collapse into one reload, so slow readers get the latest
// state rather than a backlog.
func (h *Hub) Watch(ctx context.Context, path string, load func(context.Context) Snapshot) <-chan Snapshot {
	w := h.add(path)
	w.signal <- struct{}{}
	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer h.remove(path, w)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.signal:
			}
			snap := load(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
