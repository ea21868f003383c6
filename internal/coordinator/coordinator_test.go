package coordinator_test

import (
	"sync"
	"testing"

	"github.com/eventcore/sdk-core/internal/core"
	"github.com/eventcore/sdk-core/internal/coordinator"
)

type fakeObserver struct {
	onReachable   func(core.ConnectionType)
	onUnreachable func()
	stopped       bool
}

func (o *fakeObserver) Start(onReachable func(core.ConnectionType), onUnreachable func()) {
	o.onReachable = onReachable
	o.onUnreachable = onUnreachable
}

func (o *fakeObserver) Stop() {
	o.stopped = true
}

type recordingHook struct {
	mu         sync.Mutex
	reachable  []core.ConnectionType
	unreachCnt int
}

func (h *recordingHook) OnConnectionChange(conn core.ConnectionType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reachable = append(h.reachable, conn)
}

func (h *recordingHook) OnUnreachable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unreachCnt++
}

func TestCoordinator_DispatchesToAllHooksInOrder(t *testing.T) {
	obs := &fakeObserver{}
	c := coordinator.New(obs)

	var order []int
	var mu sync.Mutex
	h1 := hookFunc{onConn: func(core.ConnectionType) { mu.Lock(); order = append(order, 1); mu.Unlock() }}
	h2 := hookFunc{onConn: func(core.ConnectionType) { mu.Lock(); order = append(order, 2); mu.Unlock() }}
	c.RegisterHook(h1)
	c.RegisterHook(h2)

	c.Start()
	obs.onReachable(core.ConnectionWifi)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("dispatch order: want [1 2], got %v", order)
	}
}

func TestCoordinator_ForwardsReachableAndUnreachable(t *testing.T) {
	obs := &fakeObserver{}
	c := coordinator.New(obs)
	hook := &recordingHook{}
	c.RegisterHook(hook)
	c.Start()

	obs.onReachable(core.ConnectionCellular)
	obs.onUnreachable()

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if len(hook.reachable) != 1 || hook.reachable[0] != core.ConnectionCellular {
		t.Fatalf("reachable events: want [cellular], got %v", hook.reachable)
	}
	if hook.unreachCnt != 1 {
		t.Fatalf("unreachable count: want 1, got %d", hook.unreachCnt)
	}
}

func TestCoordinator_StopUnsubscribes(t *testing.T) {
	obs := &fakeObserver{}
	c := coordinator.New(obs)
	c.Start()
	c.Stop()

	if !obs.stopped {
		t.Fatal("Stop should call observer.Stop")
	}
}

func TestCoordinator_StartTwiceIsNoop(t *testing.T) {
	obs := &fakeObserver{}
	c := coordinator.New(obs)
	c.Start()
	c.Start() // should not panic or double-subscribe
	c.Stop()
}

type hookFunc struct {
	onConn func(core.ConnectionType)
}

func (h hookFunc) OnConnectionChange(conn core.ConnectionType) { h.onConn(conn) }
func (h hookFunc) OnUnreachable()                              {}
