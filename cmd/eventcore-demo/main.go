// Command eventcore-demo exercises a wired Core against in-memory fake
// collaborators: a batch endpoint that logs what it would have sent, a
// decide endpoint that returns a fixed flag set, and a network observer
// that starts reachable over wifi. It is a harness for seeing the five
// components run together end to end, not a facade or a shipped CLI tool.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/eventcore/sdk-core/internal/core"
	"github.com/eventcore/sdk-core/pkg/eventcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "eventcore-demo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	storageRoot, err := os.MkdirTemp("", "eventcore-demo-*")
	if err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	defer os.RemoveAll(storageRoot)

	cfg := eventcore.DefaultConfig()
	cfg.StorageRoot = storageRoot
	cfg.Uploader.FlushIntervalSeconds = 2
	cfg.Uploader.FlushAt = 5

	batch := &loggingBatchEndpoint{}
	decide := &fixedDecideEndpoint{
		flags: map[string]core.FlagValue{
			"new-checkout": core.NewFlagValue(true),
			"dark-mode":    core.NewFlagValue(false),
		},
		payloads: map[string]string{
			"new-checkout": `{"variant":"treatment"}`,
		},
	}
	observer := &manualNetworkObserver{}

	c, err := eventcore.New(cfg, batch, decide, observer, nil)
	if err != nil {
		return fmt.Errorf("wire core: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	defer c.Stop()

	distinctID := uuid.NewString()
	c.Flags.Load(ctx, distinctID, "", nil, func(flags map[string]core.FlagValue, payloads map[string]string) {
		log.Printf("flags loaded: new-checkout enabled=%v", c.Flags.IsEnabled("new-checkout"))
	})

	for i := 0; i < 8; i++ {
		c.Add([]byte(fmt.Sprintf(`{"name":"demo.event","body":{"i":%d}}`, i)))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("shutting down")
	case <-time.After(6 * time.Second):
		log.Println("demo window elapsed, shutting down")
	}
	return nil
}

// loggingBatchEndpoint reports every batch as delivered and logs its
// size, standing in for a real HTTP ingestion endpoint.
type loggingBatchEndpoint struct {
	mu    sync.Mutex
	sent  int
	calls int
}

func (b *loggingBatchEndpoint) SendBatch(ctx context.Context, events []core.Event) (core.BatchResult, error) {
	b.mu.Lock()
	b.sent += len(events)
	b.calls++
	b.mu.Unlock()
	log.Printf("batch endpoint: delivered %d event(s) (call #%d)", len(events), b.calls)
	return core.BatchResult{StatusCode: 200}, nil
}

// fixedDecideEndpoint returns a constant flag/payload set, standing in
// for a real feature-flag decide API.
type fixedDecideEndpoint struct {
	flags    map[string]core.FlagValue
	payloads map[string]string
}

func (d *fixedDecideEndpoint) Decide(ctx context.Context, req core.DecideRequest) (core.DecideResponse, error) {
	return core.DecideResponse{
		FeatureFlags:        d.flags,
		FeatureFlagPayloads: d.payloads,
	}, nil
}

// manualNetworkObserver starts reachable over wifi and never changes
// state on its own; it exists only so Core.Start has an observer to
// subscribe to.
type manualNetworkObserver struct {
	onReachable   func(core.ConnectionType)
	onUnreachable func()
}

func (o *manualNetworkObserver) Start(onReachable func(core.ConnectionType), onUnreachable func()) {
	o.onReachable = onReachable
	o.onUnreachable = onUnreachable
	go onReachable(core.ConnectionWifi)
}

func (o *manualNetworkObserver) Stop() {}
