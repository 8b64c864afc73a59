package beacon

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beaconhq/beacon-go/adapters"
	"github.com/beaconhq/beacon-go/clock"
)

// Pipeline is the event intake-and-delivery orchestrator: it gates on
// the sampler, collapses bursts, applies route exclusion, enriches
// payloads, maintains the bounded queue and hands batches to the
// delivery adapter.
//
// Delivery is failure-safe by construction: the queue snapshot is
// persisted before the single send attempt, and the in-memory queue is
// released regardless of outcome. Transient failures recover from
// storage on the next Start; nothing ever retries in-process.
type Pipeline struct {
	config   PipelineConfig
	queue    *Queue
	sampler  *Sampler
	tags     *TagEngine
	delivery adapters.DeliveryAdapter
	store    *SafeStore
	logger   adapters.LoggerAdapter
	metadata *MetadataManager
	clk      clock.Clock

	excluded []routeRule

	mu         sync.Mutex
	lastEvent  *Event
	lastSeenAt time.Time
	firstSent  bool

	flushMu sync.Mutex

	lifecycleMu sync.Mutex
	started     bool
	ticker      *clock.Ticker
	tickerOn    bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// routeRule is one compiled exclusion pattern. A pattern that fails to
// compile as a regex degrades to a substring match.
type routeRule struct {
	re  *regexp.Regexp
	sub string
}

func (r routeRule) matches(url string) bool {
	if r.re != nil {
		return r.re.MatchString(url)
	}
	return r.sub != "" && strings.Contains(url, r.sub)
}

// NewPipeline wires the pipeline from its collaborators. Any nil
// collaborator is replaced with a safe default.
func NewPipeline(
	config PipelineConfig,
	sampler *Sampler,
	tags *TagEngine,
	delivery adapters.DeliveryAdapter,
	store *SafeStore,
	metadata *MetadataManager,
	logger adapters.LoggerAdapter,
	clk clock.Clock,
) *Pipeline {
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaultFlushInterval
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = defaultMaxQueueSize
	}
	if config.FlushThreshold <= 0 {
		config.FlushThreshold = defaultFlushThreshold
	}
	if logger == nil {
		logger = adapters.NewPrintLoggerAdapter(adapters.LogLevelWarn)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if metadata == nil {
		metadata = NewMetadataManager(nil)
	}
	if tags == nil {
		tags = NewTagEngine(nil)
	}

	p := &Pipeline{
		config:   config,
		queue:    NewQueue(config.MaxQueueSize),
		sampler:  sampler,
		tags:     tags,
		delivery: delivery,
		store:    store,
		logger:   logger,
		metadata: metadata,
		clk:      clk,
	}
	for _, pattern := range config.ExcludedRoutes {
		if re, err := regexp.Compile(pattern); err == nil {
			p.excluded = append(p.excluded, routeRule{re: re})
		} else {
			p.excluded = append(p.excluded, routeRule{sub: pattern})
		}
	}
	return p
}

// Start recovers any persisted payload from a previous page load and
// arms the pipeline. Calling Start on a started pipeline is a no-op.
func (p *Pipeline) Start() {
	p.lifecycleMu.Lock()
	if p.started {
		p.lifecycleMu.Unlock()
		return
	}
	p.stopChan = make(chan struct{})
	p.started = true
	p.lifecycleMu.Unlock()

	p.recoverPersisted()
}

// Stop flushes once, tears down the flush timer and releases queued
// state. After Stop, no timer or listener survives; Start may be
// called again.
func (p *Pipeline) Stop() {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return
	}
	p.started = false
	if p.tickerOn {
		p.ticker.Stop()
		p.tickerOn = false
	}
	close(p.stopChan)
	p.lifecycleMu.Unlock()

	p.wg.Wait()
	p.Flush()

	p.mu.Lock()
	p.lastEvent = nil
	p.firstSent = false
	p.mu.Unlock()
	p.queue.Clear()
}

// Track runs one event through the pipeline. It never returns an error
// and never panics into the caller; drops are silent by design.
func (p *Pipeline) Track(ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("track failed: %v", r)
		}
	}()

	if ev == nil {
		return
	}
	p.lifecycleMu.Lock()
	started := p.started
	p.lifecycleMu.Unlock()
	if !started {
		return
	}

	// Session boundaries always pass the sampling gate: a sampled-out
	// visitor still opens and closes sessions.
	if !ev.Type.IsSessionBoundary() && p.sampler != nil && !p.sampler.SampledIn() {
		return
	}

	now := p.clk.Now()

	if p.collapseDuplicate(ev, now) {
		return
	}

	if p.routeExcluded(ev.PageURL) {
		if !ev.Type.IsSessionBoundary() {
			p.logger.Debug("dropped %s on excluded route", ev.Type)
			return
		}
		// Session continuity must never be lost to URL filtering.
		ev.PageURL = ""
		ev.ExcludedRoute = true
	}

	p.enrich(ev, now)

	p.mu.Lock()
	copied := *ev
	p.lastEvent = &copied
	p.lastSeenAt = now
	p.mu.Unlock()

	if p.config.Sync {
		p.logEvent(ev)
		return
	}

	p.queue.Enqueue(*ev)
	p.armTicker()

	switch {
	case ev.Type == adapters.EventSessionEnd:
		p.Flush()
	case p.queue.Len() >= p.config.FlushThreshold:
		p.Flush()
	}
}

// collapseDuplicate refreshes the newest queued event instead of
// appending when ev repeats the last one within the dedup window.
func (p *Pipeline) collapseDuplicate(ev *Event, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastEvent == nil || p.lastEvent.Type != ev.Type {
		return false
	}
	if now.Sub(p.lastSeenAt) >= dedupWindow {
		return false
	}
	if !sameOccurrence(p.lastEvent, ev) {
		return false
	}

	timestamp := now.UnixMilli()
	if !p.config.Sync && !p.queue.RefreshNewest(timestamp) {
		// The previous occurrence was flushed out from under us; this
		// one must be queued as a fresh event, not swallowed.
		return false
	}
	p.lastEvent.Timestamp = timestamp
	p.lastSeenAt = now
	return true
}

// sameOccurrence is the type-specific equality behind burst collapse.
func sameOccurrence(last, ev *Event) bool {
	switch ev.Type {
	case adapters.EventPageView:
		return last.PageURL == ev.PageURL
	case adapters.EventClick:
		return last.ClickData != nil && ev.ClickData != nil &&
			last.ClickData.X == ev.ClickData.X && last.ClickData.Y == ev.ClickData.Y
	case adapters.EventScroll:
		return last.ScrollData != nil && ev.ScrollData != nil &&
			last.ScrollData.Depth == ev.ScrollData.Depth &&
			last.ScrollData.Direction == ev.ScrollData.Direction
	case adapters.EventCustom:
		return last.CustomData != nil && ev.CustomData != nil &&
			last.CustomData.Name == ev.CustomData.Name
	default:
		return false
	}
}

func (p *Pipeline) routeExcluded(url string) bool {
	if url == "" {
		return false
	}
	for _, rule := range p.excluded {
		if rule.matches(url) {
			return true
		}
	}
	return false
}

func (p *Pipeline) enrich(ev *Event, now time.Time) {
	ev.Timestamp = now.UnixMilli()

	p.mu.Lock()
	first := !p.firstSent
	p.firstSent = true
	p.mu.Unlock()

	if first {
		if ev.Referrer == "" {
			ev.Referrer = p.config.Referrer
		}
		if ev.UTM == nil {
			ev.UTM = p.config.UTM
		}
	}

	matches := p.tags.Match(ev, p.config.Device)
	if len(matches) > 0 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		ev.Tags = ids
		if p.config.Debug {
			keys := make([]string, len(matches))
			for i, m := range matches {
				keys[i] = m.Key
			}
			ev.TagKeys = keys
		}
	}
}

func (p *Pipeline) logEvent(ev *Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Info("event %s (unserializable: %v)", ev.Type, err)
		return
	}
	p.logger.Info("event %s", string(data))
}

// armTicker starts the interval flush on the first queued event.
func (p *Pipeline) armTicker() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.tickerOn || !p.started {
		return
	}
	p.ticker = p.clk.NewTicker(p.config.FlushInterval)
	p.tickerOn = true
	stop := p.stopChan
	ticker := p.ticker

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				if !p.queue.IsEmpty() {
					p.Flush()
				}
			case <-stop:
				return
			}
		}
	}()
}

// Flush delivers the current queue in a single attempt. The snapshot is
// persisted before the send and the in-memory queue is released no
// matter how delivery turns out, so a failing collector can never build
// an in-memory backlog or a retry loop.
func (p *Pipeline) Flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	events := p.queue.Drain()

	// Whatever was tracked last has now left the queue; the next
	// occurrence must be queued anew, not refreshed in place.
	p.mu.Lock()
	p.lastEvent = nil
	p.mu.Unlock()

	if len(events) == 0 {
		return
	}

	events = dedupeEvents(events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})

	payload := &QueuePayload{
		UserID:         p.config.Identity.UserID,
		SessionID:      p.config.Identity.SessionID,
		Device:         p.config.Device,
		Events:         events,
		GlobalMetadata: p.metadata.GetAll(),
		Timestamp:      p.clk.Now().UnixMilli(),
	}

	p.persistPayload(payload)

	if p.delivery == nil {
		return
	}

	result, err := p.delivery.Send(p.config.Endpoint, payload, p.config.Headers)
	if err != nil {
		// Transient: the persisted copy is the only retry path.
		p.logger.Warn("delivery failed, %d events parked for recovery: %v", len(events), err)
		return
	}

	switch {
	case result.OK:
		p.logger.Debug("delivered %d events", len(events))
		p.store.Remove(p.recoveryKey())
	case result.Permanent():
		// Client-side rejection: never retried at any layer.
		p.logger.Warn("collector rejected payload with status %d, dropping %d events", result.Status, len(events))
		p.store.Remove(p.recoveryKey())
	default:
		p.logger.Warn("collector returned status %d, %d events parked for recovery", result.Status, len(events))
	}
}

// dedupeEvents drops later occurrences sharing a composite key of type,
// page URL and the kind-specific discriminator, keeping the first.
func dedupeEvents(events []Event) []Event {
	seen := make(map[string]struct{}, len(events))
	result := events[:0]
	for _, ev := range events {
		key := compositeKey(&ev)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, ev)
	}
	return result
}

func compositeKey(ev *Event) string {
	discriminator := ""
	switch {
	case ev.ClickData != nil:
		discriminator = fmt.Sprintf("%d:%d", ev.ClickData.X, ev.ClickData.Y)
	case ev.ScrollData != nil:
		discriminator = fmt.Sprintf("%d:%s", ev.ScrollData.Depth, ev.ScrollData.Direction)
	case ev.CustomData != nil:
		discriminator = ev.CustomData.Name
	case ev.ErrorData != nil:
		discriminator = ev.ErrorData.Type + ":" + ev.ErrorData.Message
	case ev.VitalsData != nil:
		discriminator = ev.VitalsData.Name
	}
	return string(ev.Type) + "|" + ev.PageURL + "|" + discriminator
}

func (p *Pipeline) recoveryKey() string {
	return recoveryKeyPrefix + p.config.Identity.UserID
}

func (p *Pipeline) persistPayload(payload *QueuePayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to persist payload: %v", err)
		return
	}
	p.store.Set(p.recoveryKey(), string(data))
}

// recoverPersisted re-queues a payload parked by a previous page load.
// Payloads past the retention window are discarded without emission;
// malformed ones are dropped. Recovered events are deduplicated against
// anything already queued in this session.
func (p *Pipeline) recoverPersisted() {
	key := p.recoveryKey()
	raw := p.store.Get(key)
	if raw == "" {
		return
	}
	p.store.Remove(key)

	var payload QueuePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		p.logger.Warn("discarding malformed recovery payload: %v", err)
		return
	}
	age := p.clk.Now().UnixMilli() - payload.Timestamp
	if age > recoveryRetention.Milliseconds() {
		p.logger.Debug("discarding recovery payload older than retention window")
		return
	}
	if len(payload.Events) == 0 {
		return
	}

	queued := make(map[string]struct{})
	for _, ev := range p.queue.ToSlice() {
		queued[compositeKey(&ev)] = struct{}{}
	}
	recovered := 0
	for _, ev := range payload.Events {
		if _, dup := queued[compositeKey(&ev)]; dup {
			continue
		}
		p.queue.Enqueue(ev)
		recovered++
	}
	if recovered > 0 {
		p.logger.Info("recovered %d persisted events", recovered)
		p.armTicker()
	}
}
