package actor

import (
	"context"
	"fmt"
	"sync"

	"aide/pkg/proto"
)

// Directory maps logical URIs to live actor handles. It is the only
// mechanism by which one actor reaches another: actors receive the URIs
// of their collaborators at wiring time and never discover or guess them.
type Directory struct {
	mu       sync.RWMutex
	actors   map[string]*Handle
	observer Observer
}

// Observer receives a copy of every message the directory delivers.
// It runs on the sender's goroutine and must not block.
type Observer func(to string, msg proto.Message)

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{actors: make(map[string]*Handle)}
}

// Register binds a URI to a handle. A URI resolves to at most one live
// actor: rebinding is an error, not a replacement.
func (d *Directory) Register(uri string, handle *Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, bound := d.actors[uri]; bound {
		return fmt.Errorf("register %s: %w", uri, ErrURIBound)
	}
	d.actors[uri] = handle
	return nil
}

// Deregister removes a binding on shutdown. Unknown URIs are a no-op.
func (d *Directory) Deregister(uri string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.actors, uri)
}

// Resolve returns the handle bound to uri. Resolution failure is
// immediate and final, never retried or defaulted.
func (d *Directory) Resolve(uri string) (*Handle, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handle, ok := d.actors[uri]
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", uri, ErrUnknownURI)
	}
	return handle, nil
}

// Observe installs the message trace hook. Passing nil removes it.
func (d *Directory) Observe(fn Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = fn
}

// Send resolves uri and enqueues msg in one step. The observer, if any,
// sees only messages that were actually enqueued.
func (d *Directory) Send(ctx context.Context, uri string, msg proto.Message) error {
	handle, err := d.Resolve(uri)
	if err != nil {
		return err
	}
	if err := handle.Send(ctx, msg); err != nil {
		return err
	}

	d.mu.RLock()
	observer := d.observer
	d.mu.RUnlock()
	if observer != nil {
		observer(uri, msg)
	}
	return nil
}

// URIs lists the currently bound URIs, for diagnostics.
func (d *Directory) URIs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	uris := make([]string, 0, len(d.actors))
	for uri := range d.actors {
		uris = append(uris, uri)
	}
	return uris
}
