package beacon

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/beaconhq/beacon-go/adapters"
	"github.com/beaconhq/beacon-go/clock"
)

type mockDeliveryAdapter struct {
	mu       sync.Mutex
	calls    int
	payloads []*QueuePayload
	err      error
	status   int
}

func (m *mockDeliveryAdapter) Send(endpoint string, payload *QueuePayload, headers map[string]string) (*adapters.DeliveryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.payloads = append(m.payloads, payload)
	if m.err != nil {
		return nil, m.err
	}
	status := m.status
	if status == 0 {
		status = 200
	}
	return &adapters.DeliveryResult{Status: status, OK: status >= 200 && status < 300}, nil
}

func (m *mockDeliveryAdapter) sendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockDeliveryAdapter) lastPayload() *QueuePayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.payloads) == 0 {
		return nil
	}
	return m.payloads[len(m.payloads)-1]
}

type pipelineFixture struct {
	pipeline *Pipeline
	delivery *mockDeliveryAdapter
	storage  *adapters.MemoryStorageAdapter
	store    *SafeStore
	clk      *clock.FakeClock
}

func newPipelineFixture(t *testing.T, mutate func(*PipelineConfig), sampler *Sampler, tags []Tag) *pipelineFixture {
	t.Helper()

	config := PipelineConfig{
		Endpoint:       "https://collector.example.com/events",
		Identity:       Identity{UserID: "visitor-1", SessionID: "session-1"},
		Device:         adapters.DeviceDesktop,
		FlushInterval:  5 * time.Second,
		MaxQueueSize:   100,
		FlushThreshold: 90,
	}
	if mutate != nil {
		mutate(&config)
	}

	delivery := &mockDeliveryAdapter{}
	storage := adapters.NewMemoryStorageAdapter()
	store := NewSafeStore(storage, adapters.NewNoOpLoggerAdapter())
	clk := clock.Fake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	p := NewPipeline(config, sampler, NewTagEngine(tags), delivery, store, NewMetadataManager(nil), adapters.NewNoOpLoggerAdapter(), clk)
	p.Start()
	t.Cleanup(p.Stop)

	return &pipelineFixture{pipeline: p, delivery: delivery, storage: storage, store: store, clk: clk}
}

func TestPipeline_SamplingGate(t *testing.T) {
	t.Run("sampled-out visitor produces no ordinary events", func(t *testing.T) {
		f := newPipelineFixture(t, nil, NewSampler(0, "visitor-1"), nil)

		f.pipeline.Track(pageViewEvent("https://example.com/a"))
		f.pipeline.Track(&Event{Type: adapters.EventClick, PageURL: "https://example.com/a", ClickData: &ClickData{X: 1, Y: 2}})

		if n := f.pipeline.queue.Len(); n != 0 {
			t.Fatalf("queue length = %d, want 0", n)
		}
	})

	t.Run("session boundaries bypass sampling", func(t *testing.T) {
		f := newPipelineFixture(t, nil, NewSampler(0, "visitor-1"), nil)

		f.pipeline.Track(&Event{Type: adapters.EventSessionStart})
		if n := f.pipeline.queue.Len(); n != 1 {
			t.Fatalf("session_start dropped by sampling, queue length = %d", n)
		}
	})

	t.Run("rate 1 admits everything", func(t *testing.T) {
		f := newPipelineFixture(t, nil, NewSampler(1, "visitor-1"), nil)

		f.pipeline.Track(pageViewEvent("https://example.com/a"))
		f.clk.Advance(2 * time.Second)
		f.pipeline.Track(pageViewEvent("https://example.com/b"))
		if n := f.pipeline.queue.Len(); n != 2 {
			t.Fatalf("queue length = %d, want 2", n)
		}
	})
}

func TestPipeline_DuplicateCollapse(t *testing.T) {
	t.Run("same click within window collapses to one refreshed event", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		click := func() *Event {
			return &Event{Type: adapters.EventClick, PageURL: "https://example.com", ClickData: &ClickData{X: 10, Y: 20}}
		}

		f.pipeline.Track(click())
		f.clk.Advance(500 * time.Millisecond)
		f.pipeline.Track(click())

		events := f.pipeline.queue.ToSlice()
		if len(events) != 1 {
			t.Fatalf("queue length = %d, want 1", len(events))
		}
		want := f.clk.Now().UnixMilli()
		if events[0].Timestamp != want {
			t.Fatalf("timestamp = %d, want refreshed %d", events[0].Timestamp, want)
		}
	})

	t.Run("different coordinates do not collapse", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.pipeline.Track(&Event{Type: adapters.EventClick, PageURL: "https://example.com", ClickData: &ClickData{X: 10, Y: 20}})
		f.pipeline.Track(&Event{Type: adapters.EventClick, PageURL: "https://example.com", ClickData: &ClickData{X: 11, Y: 20}})

		if n := f.pipeline.queue.Len(); n != 2 {
			t.Fatalf("queue length = %d, want 2", n)
		}
	})

	t.Run("window expiry disables collapse", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.pipeline.Track(pageViewEvent("https://example.com"))
		f.clk.Advance(dedupWindow)
		f.pipeline.Track(pageViewEvent("https://example.com"))

		if n := f.pipeline.queue.Len(); n != 2 {
			t.Fatalf("queue length = %d, want 2", n)
		}
	})

	t.Run("duplicate after flush is queued as a fresh event", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		click := func() *Event {
			return &Event{Type: adapters.EventClick, PageURL: "https://example.com", ClickData: &ClickData{X: 10, Y: 20}}
		}

		f.pipeline.Track(click())
		f.pipeline.Flush()
		f.clk.Advance(500 * time.Millisecond)
		f.pipeline.Track(click())

		if n := f.pipeline.queue.Len(); n != 1 {
			t.Fatalf("queue length = %d, want 1 (occurrence after flush must requeue)", n)
		}
	})

	t.Run("same scroll depth and direction collapses", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		scroll := func() *Event {
			return &Event{Type: adapters.EventScroll, PageURL: "https://example.com", ScrollData: &ScrollData{Depth: 50, Direction: "down"}}
		}
		f.pipeline.Track(scroll())
		f.pipeline.Track(scroll())
		if n := f.pipeline.queue.Len(); n != 1 {
			t.Fatalf("queue length = %d, want 1", n)
		}
	})
}

func TestPipeline_RouteExclusion(t *testing.T) {
	mutate := func(c *PipelineConfig) { c.ExcludedRoutes = []string{"/admin", `^https://example\.com/internal/.*`} }

	t.Run("ordinary events on excluded routes are dropped", func(t *testing.T) {
		f := newPipelineFixture(t, mutate, nil, nil)
		f.pipeline.Track(pageViewEvent("https://example.com/admin/users"))
		f.pipeline.Track(pageViewEvent("https://example.com/internal/tools"))
		if n := f.pipeline.queue.Len(); n != 0 {
			t.Fatalf("queue length = %d, want 0", n)
		}
	})

	t.Run("session boundaries survive with cleared URL", func(t *testing.T) {
		f := newPipelineFixture(t, mutate, nil, nil)
		f.pipeline.Track(&Event{Type: adapters.EventSessionStart, PageURL: "https://example.com/admin"})

		events := f.pipeline.queue.ToSlice()
		if len(events) != 1 {
			t.Fatalf("session boundary lost to URL filtering")
		}
		if events[0].PageURL != "" || !events[0].ExcludedRoute {
			t.Fatalf("event = %+v, want cleared URL and excluded marker", events[0])
		}
	})
}

func TestPipeline_Enrichment(t *testing.T) {
	t.Run("referrer and UTM only on the first event", func(t *testing.T) {
		f := newPipelineFixture(t, func(c *PipelineConfig) {
			c.Referrer = "https://google.com"
			c.UTM = &UTM{Source: "ads"}
		}, nil, nil)

		f.pipeline.Track(pageViewEvent("https://example.com/a"))
		f.clk.Advance(2 * time.Second)
		f.pipeline.Track(pageViewEvent("https://example.com/b"))

		events := f.pipeline.queue.ToSlice()
		if events[0].Referrer != "https://google.com" || events[0].UTM == nil {
			t.Fatalf("first event missing landing context: %+v", events[0])
		}
		if events[1].Referrer != "" || events[1].UTM != nil {
			t.Fatalf("second event carries landing context: %+v", events[1])
		}
	})

	t.Run("intake timestamp comes from the clock", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		ev := pageViewEvent("https://example.com")
		ev.Timestamp = 12345 // observation-time value must be overwritten
		f.pipeline.Track(ev)

		if got := f.pipeline.queue.ToSlice()[0].Timestamp; got != f.clk.Now().UnixMilli() {
			t.Fatalf("timestamp = %d, want intake time", got)
		}
	})

	t.Run("tag ids attached, keys only in debug mode", func(t *testing.T) {
		tags := []Tag{{
			ID: "tag-1", Key: "pricing", TriggerType: adapters.EventPageView,
			Conditions: []TagCondition{{Type: ConditionURL, Operator: OpContains, Value: "pricing"}},
		}}

		f := newPipelineFixture(t, nil, nil, tags)
		f.pipeline.Track(pageViewEvent("https://example.com/pricing"))
		ev := f.pipeline.queue.ToSlice()[0]
		if len(ev.Tags) != 1 || ev.Tags[0] != "tag-1" {
			t.Fatalf("Tags = %v", ev.Tags)
		}
		if ev.TagKeys != nil {
			t.Fatalf("TagKeys set outside debug mode: %v", ev.TagKeys)
		}

		fd := newPipelineFixture(t, func(c *PipelineConfig) { c.Debug = true }, nil, tags)
		fd.pipeline.Track(pageViewEvent("https://example.com/pricing"))
		if keys := fd.pipeline.queue.ToSlice()[0].TagKeys; len(keys) != 1 || keys[0] != "pricing" {
			t.Fatalf("TagKeys = %v", keys)
		}
	})
}

func TestPipeline_SyncModeSkipsQueue(t *testing.T) {
	f := newPipelineFixture(t, func(c *PipelineConfig) { c.Sync = true }, nil, nil)
	f.pipeline.Track(pageViewEvent("https://example.com"))
	if n := f.pipeline.queue.Len(); n != 0 {
		t.Fatalf("sync mode queued an event")
	}
}

func TestPipeline_FlushTriggers(t *testing.T) {
	t.Run("threshold flushes synchronously", func(t *testing.T) {
		f := newPipelineFixture(t, func(c *PipelineConfig) { c.FlushThreshold = 3 }, nil, nil)

		for i, ev := range numberedEvents(3) {
			e := ev
			f.pipeline.Track(&e)
			f.clk.Advance(2 * time.Second)
			if i < 2 && f.delivery.sendCalls() != 0 {
				t.Fatal("flushed before threshold")
			}
		}
		if f.delivery.sendCalls() != 1 {
			t.Fatalf("send calls = %d, want 1", f.delivery.sendCalls())
		}
	})

	t.Run("session end flushes regardless of queue size", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.pipeline.Track(pageViewEvent("https://example.com"))
		f.clk.Advance(2 * time.Second)
		f.pipeline.Track(&Event{Type: adapters.EventSessionEnd})

		if f.delivery.sendCalls() != 1 {
			t.Fatalf("send calls = %d, want 1", f.delivery.sendCalls())
		}
		if events := f.delivery.lastPayload().Events; len(events) != 2 {
			t.Fatalf("payload events = %d, want 2", len(events))
		}
	})
}

func TestPipeline_DeliveryOutcomes(t *testing.T) {
	track := func(f *pipelineFixture) {
		f.pipeline.Track(pageViewEvent("https://example.com"))
	}

	t.Run("success clears queue and persisted copy", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		track(f)
		f.pipeline.Flush()

		if !f.pipeline.queue.IsEmpty() {
			t.Fatal("queue not cleared on success")
		}
		if raw := f.store.Get(f.pipeline.recoveryKey()); raw != "" {
			t.Fatal("persisted payload survived success")
		}
	})

	t.Run("transient failure clears queue but keeps persisted copy", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.delivery.err = errors.New("connection refused")
		track(f)
		f.pipeline.Flush()

		if !f.pipeline.queue.IsEmpty() {
			t.Fatal("queue not cleared on failure")
		}
		raw := f.store.Get(f.pipeline.recoveryKey())
		if raw == "" {
			t.Fatal("persisted payload missing after transient failure")
		}
		var payload QueuePayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil || len(payload.Events) != 1 {
			t.Fatalf("persisted payload unusable: %v %+v", err, payload)
		}
	})

	t.Run("5xx keeps persisted copy", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.delivery.status = 503
		track(f)
		f.pipeline.Flush()

		if raw := f.store.Get(f.pipeline.recoveryKey()); raw == "" {
			t.Fatal("persisted payload missing after 5xx")
		}
	})

	t.Run("4xx drops events permanently", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.delivery.status = 400
		track(f)
		f.pipeline.Flush()

		if raw := f.store.Get(f.pipeline.recoveryKey()); raw != "" {
			t.Fatal("persisted payload survived a permanent rejection")
		}
	})

	t.Run("no retry loop across flush intervals", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.delivery.err = errors.New("connection refused")
		track(f)
		f.pipeline.Flush()

		// Many elapsed intervals with an empty queue: the ticker keeps
		// firing but no outbound attempt happens.
		for i := 0; i < 10; i++ {
			f.clk.Advance(5 * time.Second)
			time.Sleep(time.Millisecond)
		}
		if n := f.delivery.sendCalls(); n != 1 {
			t.Fatalf("send calls = %d, want exactly 1", n)
		}
	})
}

func TestPipeline_ConcurrentTrackAndFlushLosesNothing(t *testing.T) {
	f := newPipelineFixture(t, func(c *PipelineConfig) {
		c.MaxQueueSize = 1 << 20
		c.FlushThreshold = 1 << 20
	}, nil, nil)

	const total = 20000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			f.pipeline.Track(&Event{
				Type:       adapters.EventCustom,
				PageURL:    "https://example.com",
				CustomData: &CustomData{Name: fmt.Sprintf("event-%d", i)},
			})
		}
	}()

	running := true
	for running {
		select {
		case <-done:
			running = false
		default:
		}
		f.pipeline.Flush()
	}
	f.pipeline.Flush()

	delivered := 0
	f.delivery.mu.Lock()
	for _, payload := range f.delivery.payloads {
		delivered += len(payload.Events)
	}
	f.delivery.mu.Unlock()
	if delivered != total {
		t.Fatalf("delivered %d events, want %d (events lost between snapshot and clear)", delivered, total)
	}
}

func TestPipeline_FlushDedupesAndSorts(t *testing.T) {
	f := newPipelineFixture(t, nil, nil, nil)

	// Recovered events arrive unsorted and may repeat queued ones.
	f.pipeline.queue.LoadFromSlice([]Event{
		{Type: adapters.EventCustom, Timestamp: 300, PageURL: "https://example.com", CustomData: &CustomData{Name: "signup"}},
		{Type: adapters.EventClick, Timestamp: 100, PageURL: "https://example.com", ClickData: &ClickData{X: 1, Y: 2}},
		{Type: adapters.EventCustom, Timestamp: 200, PageURL: "https://example.com", CustomData: &CustomData{Name: "signup"}},
	})
	f.pipeline.Flush()

	events := f.delivery.lastPayload().Events
	if len(events) != 2 {
		t.Fatalf("payload events = %d, want 2 after dedup", len(events))
	}
	if events[0].Timestamp != 100 || events[1].Timestamp != 300 {
		t.Fatalf("events not sorted by timestamp: %d, %d", events[0].Timestamp, events[1].Timestamp)
	}
	if events[1].CustomData.Name != "signup" {
		t.Fatal("dedup kept the wrong occurrence")
	}
}

func TestPipeline_Recovery(t *testing.T) {
	persist := func(f *pipelineFixture, payload *QueuePayload) {
		data, _ := json.Marshal(payload)
		f.store.Set(f.pipeline.recoveryKey(), string(data))
	}

	t.Run("fresh payload is requeued", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.pipeline.Stop()

		persist(f, &QueuePayload{
			UserID:    "visitor-1",
			Events:    []Event{{Type: adapters.EventPageView, Timestamp: 100, PageURL: "https://example.com/old"}},
			Timestamp: f.clk.Now().Add(-time.Hour).UnixMilli(),
		})
		f.pipeline.Start()

		if n := f.pipeline.queue.Len(); n != 1 {
			t.Fatalf("queue length after recovery = %d, want 1", n)
		}
	})

	t.Run("payload past retention is discarded", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.pipeline.Stop()

		persist(f, &QueuePayload{
			UserID:    "visitor-1",
			Events:    []Event{{Type: adapters.EventPageView, Timestamp: 100, PageURL: "https://example.com/old"}},
			Timestamp: f.clk.Now().Add(-25 * time.Hour).UnixMilli(),
		})
		f.pipeline.Start()

		if n := f.pipeline.queue.Len(); n != 0 {
			t.Fatalf("stale payload requeued, queue length = %d", n)
		}
		f.pipeline.Track(pageViewEvent("https://example.com/new"))
		f.pipeline.Flush()
		for _, ev := range f.delivery.lastPayload().Events {
			if ev.PageURL == "https://example.com/old" {
				t.Fatal("discarded event reappeared in a payload")
			}
		}
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.pipeline.Stop()

		f.store.Set(f.pipeline.recoveryKey(), "{not json")
		f.pipeline.Start()

		if n := f.pipeline.queue.Len(); n != 0 {
			t.Fatalf("queue length = %d, want 0", n)
		}
	})

	t.Run("recovered events do not duplicate queued ones", func(t *testing.T) {
		f := newPipelineFixture(t, nil, nil, nil)
		f.pipeline.Stop()
		f.pipeline.Start()
		f.pipeline.Track(&Event{Type: adapters.EventCustom, PageURL: "https://example.com", CustomData: &CustomData{Name: "signup"}})

		f.pipeline.Stop()
		persist(f, &QueuePayload{
			UserID: "visitor-1",
			Events: []Event{
				{Type: adapters.EventCustom, Timestamp: 50, PageURL: "https://example.com", CustomData: &CustomData{Name: "signup"}},
				{Type: adapters.EventPageView, Timestamp: 60, PageURL: "https://example.com/other"},
			},
			Timestamp: f.clk.Now().UnixMilli(),
		})
		f.pipeline.Start()
		f.pipeline.Track(&Event{Type: adapters.EventCustom, PageURL: "https://example.com", CustomData: &CustomData{Name: "signup"}})

		f.pipeline.Flush()
		events := f.delivery.lastPayload().Events
		custom := 0
		for _, ev := range events {
			if ev.Type == adapters.EventCustom {
				custom++
			}
		}
		if custom != 1 {
			t.Fatalf("custom event appears %d times, want 1", custom)
		}
	})
}

func TestPipeline_StopIsIdempotentAndRestartable(t *testing.T) {
	f := newPipelineFixture(t, nil, nil, nil)

	f.pipeline.Track(pageViewEvent("https://example.com"))
	f.pipeline.Stop()
	f.pipeline.Stop() // second stop is a no-op

	if f.delivery.sendCalls() != 1 {
		t.Fatalf("send calls after stop = %d, want 1 (final flush)", f.delivery.sendCalls())
	}

	// Tracking while stopped is a no-op.
	f.pipeline.Track(pageViewEvent("https://example.com/x"))
	if n := f.pipeline.queue.Len(); n != 0 {
		t.Fatal("stopped pipeline accepted an event")
	}

	f.pipeline.Start()
	f.pipeline.Track(pageViewEvent("https://example.com/y"))
	if n := f.pipeline.queue.Len(); n != 1 {
		t.Fatalf("restarted pipeline queue length = %d, want 1", n)
	}
}

func TestPipeline_TrackNeverPanics(t *testing.T) {
	f := newPipelineFixture(t, nil, nil, nil)
	f.pipeline.Track(nil) // must not panic
}
