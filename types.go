package beacon

import (
	"time"

	"github.com/beaconhq/beacon-go/adapters"
	"github.com/beaconhq/beacon-go/clock"
)

// Re-export adapter types for convenience
type (
	Event           = adapters.Event
	EventType       = adapters.EventType
	UTM             = adapters.UTM
	ClickData       = adapters.ClickData
	ElementInfo     = adapters.ElementInfo
	ScrollData      = adapters.ScrollData
	CustomData      = adapters.CustomData
	ErrorData       = adapters.ErrorData
	VitalsData      = adapters.VitalsData
	Device          = adapters.Device
	QueuePayload    = adapters.QueuePayload
	DeliveryAdapter = adapters.DeliveryAdapter
	DeliveryResult  = adapters.DeliveryResult
	StorageAdapter  = adapters.StorageAdapter
	LoggerAdapter   = adapters.LoggerAdapter
	LogLevel        = adapters.LogLevel
)

// Identity is the stable visitor and session naming a payload is
// attributed to. UserID drives deterministic cohort sampling.
type Identity struct {
	UserID    string
	SessionID string
}

// ClientConfig configures a Client. Endpoint is required; everything
// else has a default.
type ClientConfig struct {
	Endpoint     string
	APIKey       string
	APIKeyHeader *string

	// Identity of the current visitor. When left empty the client
	// derives it through the session manager (persisted UUIDs).
	Identity Identity

	// UserAgent of the hosting context, used for device classification.
	UserAgent string

	// Referrer and UTM describe the landing context; they are attached
	// to the first event of the session only.
	Referrer string
	UTM      *UTM

	// SamplingRate in [0,1] decides per-visitor participation.
	// Nil means the default (1.0).
	SamplingRate *float64

	// ErrorSamplingRate in [0,1] gates captured errors. Nil means the
	// default (0.1).
	ErrorSamplingRate *float64

	FlushInterval  time.Duration
	MaxQueueSize   int
	FlushThreshold int

	// ExcludedRoutes drops events whose page URL matches any pattern
	// (substring or regex).
	ExcludedRoutes []string

	// Tags are the classification rules evaluated against each event.
	Tags []Tag

	// GlobalMetadata is attached verbatim to every payload.
	GlobalMetadata map[string]any

	// Debug additionally exposes human-readable tag keys on events.
	Debug bool

	// Sync logs events instead of queueing them; no delivery happens.
	Sync bool

	// Clock overrides the time source; nil means the real clock.
	// Tests inject clock.Fake for deterministic flushing.
	Clock clock.Clock

	Adapters struct {
		DeliveryAdapter adapters.DeliveryAdapter
		StorageAdapter  adapters.StorageAdapter
		LoggerAdapter   adapters.LoggerAdapter
	}
}

// PipelineConfig is the pipeline's view of the client configuration.
type PipelineConfig struct {
	Endpoint       string
	Headers        map[string]string
	Identity       Identity
	Device         Device
	Referrer       string
	UTM            *UTM
	FlushInterval  time.Duration
	MaxQueueSize   int
	FlushThreshold int
	ExcludedRoutes []string
	Debug          bool
	Sync           bool
}

const (
	defaultFlushInterval     = 5 * time.Second
	defaultMaxQueueSize      = 100
	defaultFlushThreshold    = 50
	defaultSamplingRate      = 1.0
	defaultErrorSamplingRate = 0.1

	// dedupWindow is how close two same-type events must be to collapse
	// into one.
	dedupWindow = 1000 * time.Millisecond

	// recoveryRetention is how long a persisted payload stays
	// recoverable before it is discarded on the next init.
	recoveryRetention = 24 * time.Hour

	// recoveryKeyPrefix namespaces the persisted payload per identity.
	recoveryKeyPrefix = "beacon:recovery:"
)
