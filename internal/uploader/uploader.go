// Package uploader implements Uploader: the timer- and threshold-driven
// flush loop that drains diskqueue.Queue in batches to the batch
// endpoint, classifying HTTP results, pausing on network unavailability,
// and backing off on transient failures with a delay that grows linearly
// with the retry count up to a cap.
package uploader

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/eventcore/sdk-core/internal/core"
	"github.com/eventcore/sdk-core/internal/diskqueue"
)

// DataMode gates uploads on the current connection type.
type DataMode int

const (
	DataModeAny DataMode = iota
	DataModeWifiOnly
)

// Config holds the Uploader's configurable inputs.
type Config struct {
	FlushInterval time.Duration
	FlushAt       int
	MaxBatchSize  int
	DataMode      DataMode
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultConfig returns production-safe defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 30 * time.Second,
		FlushAt:       20,
		MaxBatchSize:  100,
		DataMode:      DataModeAny,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 2 * time.Minute,
	}
}

// Deserializer turns a queued record's bytes into a domain event, or
// reports an error if the record is corrupt. Flush drops any record
// that fails to deserialize rather than blocking the rest of the batch
// on it.
type Deserializer func(body []byte) (core.Event, error)

// pauseState bundles paused, pausedUntil, and retryCount behind one
// lock, so none of the three is ever read or written without also
// holding the others' invariants.
type pauseState struct {
	mu          sync.Mutex
	paused      bool
	pausedUntil time.Time
	retryCount  uint32
}

// Uploader drains a diskqueue.Queue to a core.BatchEndpoint.
//
// All public methods are safe for concurrent use.
type Uploader struct {
	cfg     Config
	queue   *diskqueue.Queue
	batch   core.BatchEndpoint
	decode  Deserializer
	log     *log.Logger
	limiter *rate.Limiter

	flushMu    sync.Mutex
	isFlushing bool

	pause pauseState

	timerMu sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	triggerCh chan struct{}
}

// New constructs an Uploader. decode converts a raw record into a
// core.Event; a nil decode defaults to treating the whole record body as
// an unnamed event.
func New(cfg Config, queue *diskqueue.Queue, batch core.BatchEndpoint, decode Deserializer, logger *log.Logger) *Uploader {
	if cfg.FlushAt <= 0 {
		cfg.FlushAt = DefaultConfig().FlushAt
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = DefaultConfig().MaxRetryDelay
	}
	if decode == nil {
		decode = func(body []byte) (core.Event, error) {
			return core.Event{Body: body}, nil
		}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[UPLOADER] ", log.LstdFlags)
	}

	return &Uploader{
		cfg:       cfg,
		queue:     queue,
		batch:     batch,
		decode:    decode,
		log:       logger,
		limiter:   rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		triggerCh: make(chan struct{}, 1),
	}
}

// Start installs the periodic timer and begins servicing flush triggers.
// Network observer wiring is the Coordinator's job; Start here only owns
// the timer.
func (u *Uploader) Start(ctx context.Context) {
	u.timerMu.Lock()
	if u.running {
		u.timerMu.Unlock()
		return
	}
	u.running = true
	u.ticker = time.NewTicker(u.cfg.FlushInterval)
	u.stopCh = make(chan struct{})
	u.doneCh = make(chan struct{})
	ticker := u.ticker
	stopCh := u.stopCh
	doneCh := u.doneCh
	u.timerMu.Unlock()

	go u.run(ctx, ticker, stopCh, doneCh)
}

// Stop invalidates the timer; no further scheduled flushes occur. An
// in-flight flush is allowed to run to completion.
func (u *Uploader) Stop() {
	u.timerMu.Lock()
	if !u.running {
		u.timerMu.Unlock()
		return
	}
	u.running = false
	ticker := u.ticker
	stopCh := u.stopCh
	doneCh := u.doneCh
	u.timerMu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	close(stopCh)
	<-doneCh
}

func (u *Uploader) run(ctx context.Context, ticker *time.Ticker, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.Flush(ctx)
		case <-u.triggerCh:
			if err := u.limiter.Wait(ctx); err != nil {
				return
			}
			u.Flush(ctx)
		}
	}
}

// AddTriggered schedules an immediate flush if depth has reached flushAt.
func (u *Uploader) AddTriggered(depth int) {
	if depth < u.cfg.FlushAt {
		return
	}
	u.requestFlush()
}

func (u *Uploader) requestFlush() {
	select {
	case u.triggerCh <- struct{}{}:
	default:
		// a trigger is already pending; coalesce
	}
}

// CanFlush reports whether a flush may proceed right now: not already
// flushing, not paused, and not within a still-future backoff window.
func (u *Uploader) CanFlush() bool {
	u.flushMu.Lock()
	flushing := u.isFlushing
	u.flushMu.Unlock()
	if flushing {
		return false
	}

	u.pause.mu.Lock()
	defer u.pause.mu.Unlock()
	if u.pause.paused {
		return false
	}
	if !u.pause.pausedUntil.IsZero() && time.Now().Before(u.pause.pausedUntil) {
		return false
	}
	return true
}

// Flush attempts to send one batch. It is a no-op if CanFlush is false.
// The endpoint call and its result handling run synchronously relative to
// the caller, but the single-flight flag keeps concurrent callers from
// overlapping.
func (u *Uploader) Flush(ctx context.Context) {
	if !u.CanFlush() {
		return
	}

	u.flushMu.Lock()
	if u.isFlushing {
		u.flushMu.Unlock()
		return
	}
	u.isFlushing = true
	u.flushMu.Unlock()

	defer func() {
		u.flushMu.Lock()
		u.isFlushing = false
		u.flushMu.Unlock()
	}()

	records := u.queue.PeekRecords(u.cfg.MaxBatchSize)
	if len(records) == 0 {
		return
	}

	events := make([]core.Event, 0, len(records))
	var corrupt []string
	for _, r := range records {
		ev, err := u.decode(r.Body)
		if err != nil {
			u.log.Printf("dropping undeserializable record %q: %v", r.Name, err)
			corrupt = append(corrupt, r.Name)
			continue
		}
		events = append(events, ev)
	}
	if len(corrupt) > 0 {
		u.queue.DeleteNames(corrupt)
	}
	if len(events) == 0 {
		return
	}

	result, err := u.batch.SendBatch(ctx, events)
	status := result.StatusCode
	if err != nil {
		status = -1
	}

	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}

	switch classify(status) {
	case outcomeSuccess:
		u.queue.DeleteNames(names)
		u.resetBackoff()
	case outcomeRetryable:
		u.backoff()
	case outcomeNonRetryable:
		u.queue.DeleteNames(names)
		u.resetBackoff()
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeNonRetryable
)

// classify applies the retry classification rule: -1 (transport failure)
// or any 3xx is retryable; 2xx is success; any other 4xx/5xx is
// non-retryable and treated as processed.
func classify(status int) outcome {
	switch {
	case status == -1:
		return outcomeRetryable
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status >= 300 && status < 400:
		return outcomeRetryable
	default:
		return outcomeNonRetryable
	}
}

func (u *Uploader) backoff() {
	u.pause.mu.Lock()
	defer u.pause.mu.Unlock()

	u.pause.retryCount++
	delay := time.Duration(u.pause.retryCount) * u.cfg.RetryDelay
	if delay > u.cfg.MaxRetryDelay {
		delay = u.cfg.MaxRetryDelay
	}
	u.pause.pausedUntil = time.Now().Add(delay)
}

func (u *Uploader) resetBackoff() {
	u.pause.mu.Lock()
	defer u.pause.mu.Unlock()
	u.pause.retryCount = 0
	u.pause.pausedUntil = time.Time{}
}

// SetPaused sets or clears the network-gating pause flag. It is the only
// entry point the Coordinator uses to react to connectivity changes.
func (u *Uploader) SetPaused(paused bool) {
	u.pause.mu.Lock()
	u.pause.paused = paused
	u.pause.mu.Unlock()
}

// OnConnectionChange applies the network-gating rule for a reachable
// transition: if DataMode is wifi-only and the new connection isn't wifi,
// pause; otherwise unpause, and if this transition is to wifi, trigger an
// immediate flush.
func (u *Uploader) OnConnectionChange(conn core.ConnectionType) {
	if u.cfg.DataMode == DataModeWifiOnly && conn != core.ConnectionWifi {
		u.SetPaused(true)
		return
	}
	u.SetPaused(false)
	if conn == core.ConnectionWifi {
		u.requestFlush()
	}
}

// OnUnreachable applies the network-gating rule for a lost-connectivity
// event: pause until reachability returns.
func (u *Uploader) OnUnreachable() {
	u.SetPaused(true)
}

// RetryCount exposes the current consecutive-retry count, for tests and
// diagnostics.
func (u *Uploader) RetryCount() uint32 {
	u.pause.mu.Lock()
	defer u.pause.mu.Unlock()
	return u.pause.retryCount
}

// PausedUntil exposes the current backoff deadline, for tests and
// diagnostics.
func (u *Uploader) PausedUntil() time.Time {
	u.pause.mu.Lock()
	defer u.pause.mu.Unlock()
	return u.pause.pausedUntil
}

// JSONDeserializer is a convenience Deserializer for records stored as
// {"name": "...", "body": <json>} — most callers that serialize domain
// events to JSON will want this shape rather than writing their own.
func JSONDeserializer() Deserializer {
	return func(body []byte) (core.Event, error) {
		var wire struct {
			Name string          `json:"name"`
			Body json.RawMessage `json:"body"`
		}
		if err := json.Unmarshal(body, &wire); err != nil {
			return core.Event{}, err
		}
		return core.Event{Name: wire.Name, Body: wire.Body}, nil
	}
}
