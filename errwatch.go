package beacon

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/beaconhq/beacon-go/adapters"
	"github.com/beaconhq/beacon-go/clock"
)

const (
	// Burst gate: more than burstThreshold errors inside one
	// burstWindow puts the watcher into cooldown, during which every
	// error is dropped regardless of sampling.
	burstWindow    = 10 * time.Second
	burstThreshold = 10
	burstCooldown  = 30 * time.Second

	// suppressionWindow is how long a repeated identical error stays
	// silenced. A repeat inside the window refreshes it.
	suppressionWindow = 5 * time.Second

	// recentSoftLimit triggers pruning of the recent-error record;
	// recentHardCeiling triggers the full-clear safety valve.
	recentSoftLimit   = 50
	recentHardCeiling = 200
)

// ErrorWatcher is the resilient error-tracking subsystem. Observed
// errors pass a burst gate, random sampling, sanitization and duplicate
// suppression before being forwarded into the pipeline as ordinary
// error events. It is designed to survive adversarial bursts without
// ever overwhelming the pipeline or growing without bound.
type ErrorWatcher struct {
	pipeline *Pipeline
	logger   adapters.LoggerAdapter
	clk      clock.Clock
	rate     float64
	random   func() float64

	mu            sync.Mutex
	windowStart   time.Time
	windowCount   int
	cooldownUntil time.Time
	recent        map[string]time.Time
}

// NewErrorWatcher creates a watcher forwarding into pipeline with the
// given error-sampling rate.
func NewErrorWatcher(pipeline *Pipeline, rate float64, logger adapters.LoggerAdapter, clk clock.Clock) *ErrorWatcher {
	if logger == nil {
		logger = adapters.NewNoOpLoggerAdapter()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &ErrorWatcher{
		pipeline: pipeline,
		logger:   logger,
		clk:      clk,
		rate:     rate,
		random:   rand.Float64,
		recent:   make(map[string]time.Time),
	}
}

// CaptureError reports a caught error. Nil errors are ignored.
func (w *ErrorWatcher) CaptureError(err error) {
	if err == nil {
		return
	}
	w.capture(fmt.Sprintf("%T", err), err.Error(), "")
}

// CaptureRejection reports a failed asynchronous operation whose reason
// may be any value; extraction is polymorphic over the reason's shape.
func (w *ErrorWatcher) CaptureRejection(reason any) {
	errType, message := extractReason(reason)
	w.capture(errType, message, "")
}

// Recover is meant for deferred use at goroutine boundaries: it
// captures an in-flight panic with its stack and swallows it.
//
//	defer watcher.Recover()
func (w *ErrorWatcher) Recover() {
	r := recover()
	if r == nil {
		return
	}
	errType, message := extractReason(r)
	w.capture(errType, message, string(debug.Stack()))
}

// Watch reports every error received on ch until the channel is
// closed. It is meant for hosts that already funnel failures through an
// error channel; the goroutine exits with the channel.
func (w *ErrorWatcher) Watch(ch <-chan error) {
	go func() {
		for err := range ch {
			w.CaptureError(err)
		}
	}()
}

// Close drops the recent-error record. The watcher holds no timers;
// windows are computed from timestamps at capture time.
func (w *ErrorWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recent = make(map[string]time.Time)
	w.windowCount = 0
	w.cooldownUntil = time.Time{}
}

// capture never panics into the caller; a failing watcher degrades to
// dropping the occurrence.
func (w *ErrorWatcher) capture(errType, message, stack string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("error capture failed: %v", r)
		}
	}()

	now := w.clk.Now()
	sanitized := sanitizeMessage(message)

	w.mu.Lock()
	if !w.admit(now) {
		w.mu.Unlock()
		return
	}
	if w.suppressed(errType+":"+sanitized, now) {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.pipeline.Track(&Event{
		Type: adapters.EventError,
		ErrorData: &ErrorData{
			Type:    errType,
			Message: sanitized,
			Stack:   sanitizeMessage(stack),
		},
	})
}

// admit applies the burst gate and random sampling. Caller holds w.mu.
func (w *ErrorWatcher) admit(now time.Time) bool {
	if now.Sub(w.windowStart) >= burstWindow {
		w.windowStart = now
		w.windowCount = 0
	}
	w.windowCount++

	if now.Before(w.cooldownUntil) {
		return false
	}
	if w.windowCount > burstThreshold {
		w.cooldownUntil = now.Add(burstCooldown)
		w.logger.Warn("error burst detected, cooling down for %v", burstCooldown)
		return false
	}

	return w.random() < w.rate
}

// suppressed checks the recent-error record. A hit refreshes the
// timestamp, extending the suppression. Caller holds w.mu.
func (w *ErrorWatcher) suppressed(key string, now time.Time) bool {
	if last, ok := w.recent[key]; ok && now.Sub(last) < suppressionWindow {
		w.recent[key] = now
		return true
	}
	w.recent[key] = now
	w.pruneRecent(now)
	return false
}

// pruneRecent keeps the record bounded: past the soft limit it drops
// stale entries, then the oldest remaining; past the hard ceiling it
// clears everything except the entries written this instant. Caller
// holds w.mu.
func (w *ErrorWatcher) pruneRecent(now time.Time) {
	if len(w.recent) > recentHardCeiling {
		fresh := make(map[string]time.Time, 1)
		for key, last := range w.recent {
			if last.Equal(now) {
				fresh[key] = last
			}
		}
		w.recent = fresh
		w.logger.Warn("recent-error record hit hard ceiling, cleared")
		return
	}
	if len(w.recent) <= recentSoftLimit {
		return
	}

	for key, last := range w.recent {
		if now.Sub(last) >= suppressionWindow {
			delete(w.recent, key)
		}
	}
	for len(w.recent) > recentSoftLimit {
		oldestKey := ""
		var oldest time.Time
		for key, last := range w.recent {
			if oldestKey == "" || last.Before(oldest) {
				oldestKey = key
				oldest = last
			}
		}
		delete(w.recent, oldestKey)
	}
}

// extractReason normalizes an arbitrary rejection value into an error
// type and message. Strings pass through; errors and Stringers are
// asked; everything else tries JSON before falling back to %v.
func extractReason(reason any) (errType, message string) {
	switch v := reason.(type) {
	case nil:
		return "Error", "unknown rejection"
	case string:
		return "Error", v
	case error:
		return fmt.Sprintf("%T", v), v.Error()
	case fmt.Stringer:
		return fmt.Sprintf("%T", v), v.String()
	default:
		if data, err := json.Marshal(v); err == nil {
			return fmt.Sprintf("%T", v), string(data)
		}
		return fmt.Sprintf("%T", v), fmt.Sprintf("%v", v)
	}
}
