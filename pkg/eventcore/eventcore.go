package eventcore

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/eventcore/sdk-core/internal/core"
	"github.com/eventcore/sdk-core/internal/coordinator"
	"github.com/eventcore/sdk-core/internal/diskqueue"
	"github.com/eventcore/sdk-core/internal/flagcache"
	"github.com/eventcore/sdk-core/internal/kvstore"
	"github.com/eventcore/sdk-core/internal/uploader"
)

// defaultLogWriter is the destination for component loggers built inside
// New. Callers that want their own destination should construct
// components directly from their respective packages instead of using
// New.
func defaultLogWriter() io.Writer {
	return os.Stderr
}

// Core is the assembled set of collaborators: PersistentQueue,
// KeyValueStore, FlagCache, Uploader, and Coordinator. Callers construct
// and own a Core explicitly rather than reaching for a process-wide
// singleton.
type Core struct {
	Queue       *diskqueue.Queue
	Store       *kvstore.Store
	Flags       *flagcache.Cache
	Uploader    *uploader.Uploader
	Coordinator *coordinator.Coordinator
}

// New wires a Core from config and three external collaborators: a
// batch endpoint, a decide endpoint, and a network observer. decode
// converts a raw queued record into a core.Event; pass nil to use the
// default pass-through decoder.
func New(cfg *Config, batch core.BatchEndpoint, decide core.DecideEndpoint, observer core.NetworkObserver, decode uploader.Deserializer) (*Core, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	store, err := kvstore.Open(cfg.StorageRoot, cfg.KeyPrefix, log.New(defaultLogWriter(), "[KVSTORE] ", log.LstdFlags))
	if err != nil {
		return nil, err
	}

	queueDir := cfg.StorageRoot
	if existing, ok := store.GetString(core.StoreKeyQueueFolder); ok && existing != "" {
		queueDir = existing
	} else {
		queueDir = filepath.Join(cfg.StorageRoot, "queue")
		_ = store.SetString(core.StoreKeyQueueFolder, queueDir)
	}

	queue, err := diskqueue.Open(queueDir, log.New(defaultLogWriter(), "[QUEUE] ", log.LstdFlags))
	if err != nil {
		return nil, err
	}

	up := uploader.New(cfg.toUploaderConfig(), queue, batch, decode, log.New(defaultLogWriter(), "[UPLOADER] ", log.LstdFlags))

	flags := flagcache.New(decide, store, log.New(defaultLogWriter(), "[FLAGCACHE] ", log.LstdFlags))

	var coord *coordinator.Coordinator
	if observer != nil {
		coord = coordinator.New(observer)
		coord.RegisterHook(up)
	}

	return &Core{
		Queue:       queue,
		Store:       store,
		Flags:       flags,
		Uploader:    up,
		Coordinator: coord,
	}, nil
}

// Start starts the uploader's timer and, if a network observer was
// supplied, the coordinator's subscription.
func (c *Core) Start(ctx context.Context) {
	c.Uploader.Start(ctx)
	if c.Coordinator != nil {
		c.Coordinator.Start()
	}
}

// Stop tears down the uploader's timer and any coordinator subscription.
// An in-flight flush is allowed to complete.
func (c *Core) Stop() {
	if c.Coordinator != nil {
		c.Coordinator.Stop()
	}
	c.Uploader.Stop()
}

// Add appends a record to the queue and triggers an immediate flush if
// the new depth has reached the configured threshold.
func (c *Core) Add(body []byte) {
	c.Queue.Add(body)
	c.Uploader.AddTriggered(c.Queue.Depth())
}
