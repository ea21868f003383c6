// Package coordinator implements Coordinator: the wiring between a
// core.NetworkObserver and an Uploader's pause state. It owns the
// lifecycle of the observer subscription the way the Uploader owns its
// own timer.
package coordinator

import (
	"sync"

	"github.com/eventcore/sdk-core/internal/core"
)

// Hook reacts to a reachability transition. Coordinator supports
// registering more than one, even though a single uploader only needs one
// today. *uploader.Uploader satisfies this directly via its own
// OnConnectionChange/OnUnreachable methods — no adapter required;
// declaring the interface here, rather than importing uploader, keeps the
// dependency direction pointing one way.
type Hook interface {
	OnConnectionChange(core.ConnectionType)
	OnUnreachable()
}

// Coordinator wires a core.NetworkObserver's events to one or more Hooks.
type Coordinator struct {
	observer core.NetworkObserver

	mu      sync.Mutex
	hooks   []Hook
	started bool
}

// New constructs a Coordinator over the given observer.
func New(observer core.NetworkObserver) *Coordinator {
	return &Coordinator{observer: observer}
}

// RegisterHook adds a hook that will be called on every reachability
// transition, in registration order.
func (c *Coordinator) RegisterHook(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Start subscribes to the network observer. Calling Start twice without an
// intervening Stop is a no-op.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.observer.Start(c.dispatchReachable, c.dispatchUnreachable)
}

// Stop unsubscribes from the network observer.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	c.observer.Stop()
}

func (c *Coordinator) dispatchReachable(conn core.ConnectionType) {
	c.mu.Lock()
	hooks := append([]Hook(nil), c.hooks...)
	c.mu.Unlock()

	for _, h := range hooks {
		h.OnConnectionChange(conn)
	}
}

func (c *Coordinator) dispatchUnreachable() {
	c.mu.Lock()
	hooks := append([]Hook(nil), c.hooks...)
	c.mu.Unlock()

	for _, h := range hooks {
		h.OnUnreachable()
	}
}
