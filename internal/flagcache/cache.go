// Package flagcache implements FlagCache: the last-known feature-flag map
// and payload map, refreshed via a single-flight call to the decide
// endpoint with a merge-on-partial-failure policy. A concurrent Load call
// while one is already in flight returns immediately and its caller gets
// no callback at all.
package flagcache

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/eventcore/sdk-core/internal/core"
)

// FlagsUpdated is broadcast to subscribers after a successful load.
type FlagsUpdated struct {
	Flags    map[string]core.FlagValue
	Payloads map[string]string
}

// Cache holds the last known flags/payloads and single-flights refreshes
// against the decide endpoint.
//
// loadMu guards only isLoading; cacheMu guards only the flags/payloads
// maps. Neither is ever held across the decide call.
type Cache struct {
	decide core.DecideEndpoint
	store  core.KeyValueStore
	log    *log.Logger

	loadMu    sync.Mutex
	isLoading bool

	cacheMu  sync.RWMutex
	flags    map[string]core.FlagValue
	payloads map[string]string

	subMu       sync.Mutex
	subscribers []func(FlagsUpdated)
}

// New constructs a Cache, loading any previously persisted flags/payloads
// from store so a fresh process starts from the last successful snapshot
// rather than an empty cache.
func New(decide core.DecideEndpoint, store core.KeyValueStore, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(os.Stderr, "[FLAGCACHE] ", log.LstdFlags)
	}
	c := &Cache{
		decide:   decide,
		store:    store,
		log:      logger,
		flags:    make(map[string]core.FlagValue),
		payloads: make(map[string]string),
	}
	c.loadPersisted()
	return c
}

func (c *Cache) loadPersisted() {
	if c.store == nil {
		return
	}
	if dict, ok := c.store.GetDict(core.StoreKeyEnabledFlags); ok {
		for k, v := range dict {
			c.flags[k] = core.NewFlagValue(v)
		}
	}
	if dict, ok := c.store.GetDict(core.StoreKeyEnabledFlagPayloads); ok {
		for k, v := range dict {
			if s, ok := v.(string); ok {
				c.payloads[k] = s
			}
		}
	}
}

// Subscribe registers a callback invoked after every successful load. It
// is the stand-in for "posted on the platform's main/UI dispatch
// context" — each subscriber runs on its own goroutine so a slow
// subscriber can never stall the next Load.
func (c *Cache) Subscribe(fn func(FlagsUpdated)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

func (c *Cache) broadcast(update FlagsUpdated) {
	c.subMu.Lock()
	subs := make([]func(FlagsUpdated), len(c.subscribers))
	copy(subs, c.subscribers)
	c.subMu.Unlock()

	for _, fn := range subs {
		go fn(update)
	}
}

// Load kicks off one in-flight refresh against the decide endpoint. A
// concurrent call while a load is already in flight returns immediately
// and onComplete is never invoked for it. onComplete, when invoked, is
// called with the new flags and payloads, or (nil, nil) on any protocol
// failure.
func (c *Cache) Load(ctx context.Context, distinctID, anonymousID string, groups map[string]string, onComplete func(flags map[string]core.FlagValue, payloads map[string]string)) {
	c.loadMu.Lock()
	if c.isLoading {
		c.loadMu.Unlock()
		return
	}
	c.isLoading = true
	c.loadMu.Unlock()

	go c.runLoad(ctx, distinctID, anonymousID, groups, onComplete)
}

func (c *Cache) runLoad(ctx context.Context, distinctID, anonymousID string, groups map[string]string, onComplete func(map[string]core.FlagValue, map[string]string)) {
	defer func() {
		c.loadMu.Lock()
		c.isLoading = false
		c.loadMu.Unlock()
	}()

	resp, err := c.decide.Decide(ctx, core.DecideRequest{
		DistinctID:  distinctID,
		AnonymousID: anonymousID,
		Groups:      groups,
	})
	if err != nil {
		c.log.Printf("decide request failed: %v", err)
		if onComplete != nil {
			onComplete(nil, nil)
		}
		return
	}
	if resp.FeatureFlags == nil || resp.FeatureFlagPayloads == nil {
		c.log.Printf("decide response missing featureFlags/featureFlagPayloads, treating as protocol failure")
		if onComplete != nil {
			onComplete(nil, nil)
		}
		return
	}

	newFlags, newPayloads := c.apply(resp)
	c.persist(newFlags, newPayloads)
	c.broadcast(FlagsUpdated{Flags: newFlags, Payloads: newPayloads})

	if onComplete != nil {
		onComplete(newFlags, newPayloads)
	}
}

// apply implements the merge-on-partial-failure rule: merge into the
// existing maps when the server reports partial computation, otherwise
// replace wholesale. Returns copies of the resulting maps.
func (c *Cache) apply(resp core.DecideResponse) (map[string]core.FlagValue, map[string]string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	if resp.ErrorsWhileComputingFlags {
		for k, v := range resp.FeatureFlags {
			c.flags[k] = v
		}
		for k, v := range resp.FeatureFlagPayloads {
			c.payloads[k] = v
		}
	} else {
		c.flags = make(map[string]core.FlagValue, len(resp.FeatureFlags))
		for k, v := range resp.FeatureFlags {
			c.flags[k] = v
		}
		c.payloads = make(map[string]string, len(resp.FeatureFlagPayloads))
		for k, v := range resp.FeatureFlagPayloads {
			c.payloads[k] = v
		}
	}

	flagsCopy := make(map[string]core.FlagValue, len(c.flags))
	for k, v := range c.flags {
		flagsCopy[k] = v
	}
	payloadsCopy := make(map[string]string, len(c.payloads))
	for k, v := range c.payloads {
		payloadsCopy[k] = v
	}
	return flagsCopy, payloadsCopy
}

func (c *Cache) persist(flags map[string]core.FlagValue, payloads map[string]string) {
	if c.store == nil {
		return
	}
	flagDict := make(map[string]any, len(flags))
	for k, v := range flags {
		var decoded any
		_ = v.Decode(&decoded)
		flagDict[k] = decoded
	}
	if err := c.store.SetDict(core.StoreKeyEnabledFlags, flagDict); err != nil {
		c.log.Printf("persist flags: %v", err)
	}

	payloadDict := make(map[string]any, len(payloads))
	for k, v := range payloads {
		payloadDict[k] = v
	}
	if err := c.store.SetDict(core.StoreKeyEnabledFlagPayloads, payloadDict); err != nil {
		c.log.Printf("persist payloads: %v", err)
	}
}

// IsEnabled returns true if the stored value is present and is not the
// JSON boolean false. A key that is absent returns false.
func (c *Cache) IsEnabled(key string) bool {
	c.cacheMu.RLock()
	v, ok := c.flags[key]
	c.cacheMu.RUnlock()

	if !ok {
		return false
	}
	return !v.IsExplicitlyFalse()
}

// Get returns the raw stored flag value for key.
func (c *Cache) Get(key string) (core.FlagValue, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	v, ok := c.flags[key]
	return v, ok
}

// GetPayload returns the stored payload for key. If the stored payload
// parses as JSON (including a top-level scalar), the decoded value is
// returned; otherwise the original string is returned unchanged.
func (c *Cache) GetPayload(key string) (any, bool) {
	c.cacheMu.RLock()
	raw, ok := c.payloads[key]
	c.cacheMu.RUnlock()
	if !ok {
		return nil, false
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw, true
	}
	return decoded, true
}

// Snapshot returns a defensive copy of the current flags and payloads,
// e.g. for a facade that wants to persist them elsewhere.
func (c *Cache) Snapshot() (map[string]core.FlagValue, map[string]string) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()

	flags := make(map[string]core.FlagValue, len(c.flags))
	for k, v := range c.flags {
		flags[k] = v
	}
	payloads := make(map[string]string, len(c.payloads))
	for k, v := range c.payloads {
		payloads[k] = v
	}
	return flags, payloads
}
