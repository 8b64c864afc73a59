package beacon

import (
	"errors"
	"sync"

	"github.com/beaconhq/beacon-go/adapters"
	"github.com/beaconhq/beacon-go/clock"
)

// Client is the public entry point: it owns the sampler, the tag
// engine, the event pipeline and the error watcher, and exposes the
// tracking surface to the host.
//
// No method on Client ever panics into the host or returns internal
// pipeline failures; tracking degrades to a no-op when something is
// wrong inside.
type Client struct {
	config   ClientConfig
	metadata *MetadataManager
	store    *SafeStore
	session  *SessionManager
	pipeline *Pipeline
	watcher  *ErrorWatcher
	logger   adapters.LoggerAdapter
	clk      clock.Clock

	initialized bool
	mu          sync.RWMutex
}

// NewClient creates a client from config.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint must be provided in config")
	}

	if config.FlushInterval <= 0 {
		config.FlushInterval = defaultFlushInterval
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = defaultMaxQueueSize
	}
	if config.FlushThreshold <= 0 {
		config.FlushThreshold = defaultFlushThreshold
	}

	client := &Client{
		config:   config,
		metadata: NewMetadataManager(config.GlobalMetadata),
	}

	if config.Clock != nil {
		client.clk = config.Clock
	} else {
		client.clk = clock.Real()
	}
	if config.Adapters.LoggerAdapter != nil {
		client.logger = config.Adapters.LoggerAdapter
	} else {
		client.logger = adapters.NewPrintLoggerAdapter(adapters.LogLevelWarn)
	}

	return client, nil
}

// Init wires the components and starts tracking: persisted events from
// a previous page load are recovered and a session_start event is
// emitted. Init on an initialized client is a no-op.
func (c *Client) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	storage := c.config.Adapters.StorageAdapter
	if storage == nil {
		storage = adapters.NewFileStorageAdapter("beacon_store.json")
	}
	c.store = NewSafeStore(storage, c.logger)

	identity := c.config.Identity
	if identity.UserID == "" || identity.SessionID == "" {
		c.session = NewSessionManager(c.store, c.clk)
		identity = c.session.Identity()
	}

	samplingRate := defaultSamplingRate
	if c.config.SamplingRate != nil {
		samplingRate = *c.config.SamplingRate
	}
	errorRate := defaultErrorSamplingRate
	if c.config.ErrorSamplingRate != nil {
		errorRate = *c.config.ErrorSamplingRate
	}

	delivery := c.config.Adapters.DeliveryAdapter
	if delivery == nil {
		delivery = adapters.NewNetHTTPAdapter()
	}

	headers := map[string]string{}
	if c.config.APIKey != "" {
		header := "X-API-Key"
		if c.config.APIKeyHeader != nil {
			header = *c.config.APIKeyHeader
		}
		headers[header] = c.config.APIKey
	}

	pipelineConfig := PipelineConfig{
		Endpoint:       c.config.Endpoint,
		Headers:        headers,
		Identity:       identity,
		Device:         adapters.DetectDevice(c.config.UserAgent),
		Referrer:       c.config.Referrer,
		UTM:            c.config.UTM,
		FlushInterval:  c.config.FlushInterval,
		MaxQueueSize:   c.config.MaxQueueSize,
		FlushThreshold: c.config.FlushThreshold,
		ExcludedRoutes: c.config.ExcludedRoutes,
		Debug:          c.config.Debug,
		Sync:           c.config.Sync,
	}

	c.pipeline = NewPipeline(
		pipelineConfig,
		NewSampler(samplingRate, identity.UserID),
		NewTagEngine(c.config.Tags),
		delivery,
		c.store,
		c.metadata,
		c.logger,
		c.clk,
	)
	c.watcher = NewErrorWatcher(c.pipeline, errorRate, c.logger, c.clk)

	c.pipeline.Start()
	c.pipeline.Track(&Event{Type: adapters.EventSessionStart, PageURL: c.config.Referrer})

	c.initialized = true
	c.logger.Info("client initialized")
	return nil
}

// Track runs an arbitrary event through the pipeline.
func (c *Client) Track(ev *Event) {
	if p := c.activePipeline(); p != nil {
		p.Track(ev)
	}
}

// TrackPageView tracks a page view.
func (c *Client) TrackPageView(pageURL, fromPageURL string) {
	c.Track(&Event{Type: adapters.EventPageView, PageURL: pageURL, FromPageURL: fromPageURL})
}

// TrackClick tracks a click at page coordinates on an element.
func (c *Client) TrackClick(pageURL string, x, y int, element *ElementInfo) {
	c.Track(&Event{
		Type:      adapters.EventClick,
		PageURL:   pageURL,
		ClickData: &ClickData{X: x, Y: y, Element: element},
	})
}

// TrackScroll tracks scroll depth in a direction ("up" or "down").
func (c *Client) TrackScroll(pageURL string, depth int, direction string) {
	c.Track(&Event{
		Type:       adapters.EventScroll,
		PageURL:    pageURL,
		ScrollData: &ScrollData{Depth: depth, Direction: direction},
	})
}

// TrackCustom tracks an application-defined event.
func (c *Client) TrackCustom(pageURL, name string, properties map[string]any) {
	c.Track(&Event{
		Type:       adapters.EventCustom,
		PageURL:    pageURL,
		CustomData: &CustomData{Name: name, Properties: properties},
	})
}

// TrackVitals tracks a web-vitals measurement.
func (c *Client) TrackVitals(pageURL, name string, value float64) {
	c.Track(&Event{
		Type:       adapters.EventWebVitals,
		PageURL:    pageURL,
		VitalsData: &VitalsData{Name: name, Value: value},
	})
}

// CaptureError reports a caught error through the error watcher.
func (c *Client) CaptureError(err error) {
	if w := c.activeWatcher(); w != nil {
		w.CaptureError(err)
	}
}

// CaptureRejection reports a failed asynchronous operation.
func (c *Client) CaptureRejection(reason any) {
	if w := c.activeWatcher(); w != nil {
		w.CaptureRejection(reason)
	}
}

// SetMetadata sets a global metadata value attached to every payload.
func (c *Client) SetMetadata(key string, value any) error {
	keyLen := len(key)
	if keyLen == 0 {
		return errors.New("metadata key cannot be empty")
	}
	if keyLen > 255 {
		return errors.New("metadata key cannot exceed 255 characters")
	}

	c.metadata.Set(key, value)
	return nil
}

// GetMetadata returns a copy of the global metadata.
func (c *Client) GetMetadata() map[string]any {
	return c.metadata.GetAll()
}

// Identity returns the visitor identity in use, or the zero value
// before Init.
func (c *Client) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil {
		return c.session.Identity()
	}
	return c.config.Identity
}

// Flush forces a delivery attempt for the queued events.
func (c *Client) Flush() {
	if p := c.activePipeline(); p != nil {
		p.Flush()
	} else {
		c.logger.Warn("flush called before initialization")
	}
}

// Dispose emits a session_end event (which flushes), stops the
// pipeline and releases the error watcher. Dispose on a disposed
// client is a no-op; Init may be called again afterwards.
func (c *Client) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil
	}

	c.logger.Info("disposing client")
	c.pipeline.Track(&Event{Type: adapters.EventSessionEnd})
	c.pipeline.Stop()
	c.watcher.Close()
	c.initialized = false
	return nil
}

func (c *Client) activePipeline() *Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return nil
	}
	return c.pipeline
}

func (c *Client) activeWatcher() *ErrorWatcher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return nil
	}
	return c.watcher
}
