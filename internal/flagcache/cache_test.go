package flagcache_test

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/eventcore/sdk-core/internal/core"
	"github.com/eventcore/sdk-core/internal/flagcache"
	"github.com/eventcore/sdk-core/internal/kvstore"
)

type fakeDecide struct {
	mu    sync.Mutex
	calls int
	resp  core.DecideResponse
	err   error
	block chan struct{} // if non-nil, Decide waits for this to close
}

func (f *fakeDecide) Decide(ctx context.Context, req core.DecideRequest) (core.DecideResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	return f.resp, f.err
}

func newStore(t *testing.T) core.KeyValueStore {
	t.Helper()
	s, err := kvstore.Open(t.TempDir(), "eventcore.", log.New(os.Stderr, "[test] ", 0))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	return s
}

func awaitCallback(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onComplete")
	}
}

func TestCache_LoadAppliesFlagsAndInvokesCallback(t *testing.T) {
	decide := &fakeDecide{resp: core.DecideResponse{
		FeatureFlags:        map[string]core.FlagValue{"f1": core.NewFlagValue(true)},
		FeatureFlagPayloads: map[string]string{"f1": `{"v":1}`},
	}}
	c := flagcache.New(decide, newStore(t), nil)

	done := make(chan struct{})
	c.Load(context.Background(), "user1", "", nil, func(flags map[string]core.FlagValue, payloads map[string]string) {
		if !c.IsEnabled("f1") {
			t.Error("f1 should be enabled after load")
		}
		close(done)
	})
	awaitCallback(t, done)
}

func TestCache_IsEnabledFalseForAbsentOrExplicitFalse(t *testing.T) {
	decide := &fakeDecide{resp: core.DecideResponse{
		FeatureFlags:        map[string]core.FlagValue{"on": core.NewFlagValue(true), "off": core.NewFlagValue(false)},
		FeatureFlagPayloads: map[string]string{},
	}}
	c := flagcache.New(decide, newStore(t), nil)

	done := make(chan struct{})
	c.Load(context.Background(), "user1", "", nil, func(map[string]core.FlagValue, map[string]string) { close(done) })
	awaitCallback(t, done)

	if !c.IsEnabled("on") {
		t.Error("on: want enabled")
	}
	if c.IsEnabled("off") {
		t.Error("off: want disabled")
	}
	if c.IsEnabled("missing") {
		t.Error("missing: want disabled")
	}
}

func TestCache_ProtocolFailureInvokesCallbackWithNil(t *testing.T) {
	decide := &fakeDecide{err: errors.New("boom")}
	c := flagcache.New(decide, newStore(t), nil)

	done := make(chan struct{})
	c.Load(context.Background(), "user1", "", nil, func(flags map[string]core.FlagValue, payloads map[string]string) {
		if flags != nil || payloads != nil {
			t.Errorf("want nil, nil on failure, got %v, %v", flags, payloads)
		}
		close(done)
	})
	awaitCallback(t, done)
}

func TestCache_MergesOnPartialComputationFailure(t *testing.T) {
	store := newStore(t)
	decide := &fakeDecide{}
	c := flagcache.New(decide, store, nil)

	decide.resp = core.DecideResponse{
		FeatureFlags:        map[string]core.FlagValue{"a": core.NewFlagValue(true)},
		FeatureFlagPayloads: map[string]string{},
	}
	done1 := make(chan struct{})
	c.Load(context.Background(), "u", "", nil, func(map[string]core.FlagValue, map[string]string) { close(done1) })
	awaitCallback(t, done1)

	decide.resp = core.DecideResponse{
		FeatureFlags:              map[string]core.FlagValue{"b": core.NewFlagValue(true)},
		FeatureFlagPayloads:       map[string]string{},
		ErrorsWhileComputingFlags: true,
	}
	done2 := make(chan struct{})
	c.Load(context.Background(), "u", "", nil, func(map[string]core.FlagValue, map[string]string) { close(done2) })
	awaitCallback(t, done2)

	if !c.IsEnabled("a") {
		t.Error("a should survive a partial-failure merge")
	}
	if !c.IsEnabled("b") {
		t.Error("b should be present after merge")
	}
}

func TestCache_ReplacesWholesaleWithoutPartialFailure(t *testing.T) {
	decide := &fakeDecide{}
	c := flagcache.New(decide, newStore(t), nil)

	decide.resp = core.DecideResponse{FeatureFlags: map[string]core.FlagValue{"a": core.NewFlagValue(true)}, FeatureFlagPayloads: map[string]string{}}
	done1 := make(chan struct{})
	c.Load(context.Background(), "u", "", nil, func(map[string]core.FlagValue, map[string]string) { close(done1) })
	awaitCallback(t, done1)

	decide.resp = core.DecideResponse{FeatureFlags: map[string]core.FlagValue{"b": core.NewFlagValue(true)}, FeatureFlagPayloads: map[string]string{}}
	done2 := make(chan struct{})
	c.Load(context.Background(), "u", "", nil, func(map[string]core.FlagValue, map[string]string) { close(done2) })
	awaitCallback(t, done2)

	if c.IsEnabled("a") {
		t.Error("a should have been replaced away")
	}
	if !c.IsEnabled("b") {
		t.Error("b should be present")
	}
}

func TestCache_ConcurrentLoadIsSingleFlight(t *testing.T) {
	block := make(chan struct{})
	decide := &fakeDecide{
		resp:  core.DecideResponse{FeatureFlags: map[string]core.FlagValue{}, FeatureFlagPayloads: map[string]string{}},
		block: block,
	}
	c := flagcache.New(decide, newStore(t), nil)

	var callbacks int32
	var mu sync.Mutex
	cb := func(map[string]core.FlagValue, map[string]string) {
		mu.Lock()
		callbacks++
		mu.Unlock()
	}

	c.Load(context.Background(), "u", "", nil, cb)
	// second call while the first is still blocked in Decide must not
	// spawn a second in-flight load or invoke its callback at all.
	c.Load(context.Background(), "u", "", nil, cb)

	close(block)
	time.Sleep(50 * time.Millisecond)

	decide.mu.Lock()
	calls := decide.calls
	decide.mu.Unlock()
	if calls != 1 {
		t.Fatalf("Decide calls: want 1, got %d", calls)
	}

	mu.Lock()
	got := callbacks
	mu.Unlock()
	if got != 1 {
		t.Fatalf("callbacks invoked: want 1, got %d", got)
	}
}

func TestCache_PersistsAcrossFreshInstance(t *testing.T) {
	dir := t.TempDir()
	store, err := kvstore.Open(dir, "eventcore.", nil)
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	decide := &fakeDecide{resp: core.DecideResponse{
		FeatureFlags:        map[string]core.FlagValue{"a": core.NewFlagValue(true)},
		FeatureFlagPayloads: map[string]string{"a": `"payload"`},
	}}
	c := flagcache.New(decide, store, nil)

	done := make(chan struct{})
	c.Load(context.Background(), "u", "", nil, func(map[string]core.FlagValue, map[string]string) { close(done) })
	awaitCallback(t, done)

	store2, err := kvstore.Open(dir, "eventcore.", nil)
	if err != nil {
		t.Fatalf("kvstore.Open (reopen): %v", err)
	}
	c2 := flagcache.New(&fakeDecide{err: errors.New("offline")}, store2, nil)
	if !c2.IsEnabled("a") {
		t.Fatal("freshly constructed cache should read the persisted snapshot before any Load succeeds")
	}
}

func TestCache_GetPayloadParsesJSONWithStringFallback(t *testing.T) {
	decide := &fakeDecide{resp: core.DecideResponse{
		FeatureFlags: map[string]core.FlagValue{"a": core.NewFlagValue(true), "b": core.NewFlagValue(true)},
		FeatureFlagPayloads: map[string]string{
			"a": `{"variant":"treatment"}`,
			"b": "not-json",
		},
	}}
	c := flagcache.New(decide, newStore(t), nil)

	done := make(chan struct{})
	c.Load(context.Background(), "u", "", nil, func(map[string]core.FlagValue, map[string]string) { close(done) })
	awaitCallback(t, done)

	decoded, ok := c.GetPayload("a")
	if !ok {
		t.Fatal("GetPayload(a): want present")
	}
	m, ok := decoded.(map[string]any)
	if !ok || m["variant"] != "treatment" {
		t.Fatalf("GetPayload(a): want decoded map, got %v", decoded)
	}

	raw, ok := c.GetPayload("b")
	if !ok || raw != "not-json" {
		t.Fatalf("GetPayload(b): want raw string fallback, got %v", raw)
	}
}
