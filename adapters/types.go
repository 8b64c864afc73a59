package adapters

// EventType discriminates the kind-specific payload an Event carries.
type EventType string

const (
	EventPageView        EventType = "page_view"
	EventClick           EventType = "click"
	EventScroll          EventType = "scroll"
	EventCustom          EventType = "custom"
	EventSessionStart    EventType = "session_start"
	EventSessionEnd      EventType = "session_end"
	EventError           EventType = "error"
	EventViewportVisible EventType = "viewport_visible"
	EventWebVitals       EventType = "web_vitals"
)

// IsSessionBoundary reports whether t marks the start or end of a
// session. Boundary events bypass sampling and survive route exclusion.
func (t EventType) IsSessionBoundary() bool {
	return t == EventSessionStart || t == EventSessionEnd
}

// Event is a single tracked occurrence. At most one of the kind-specific
// payloads (ClickData, ScrollData, CustomData, ErrorData, VitalsData) is
// set, matching Type. Timestamp is assigned at intake, not at observation.
type Event struct {
	Type          EventType   `json:"type"`
	Timestamp     int64       `json:"timestamp"`
	PageURL       string      `json:"pageUrl,omitempty"`
	FromPageURL   string      `json:"fromPageUrl,omitempty"`
	Referrer      string      `json:"referrer,omitempty"`
	UTM           *UTM        `json:"utm,omitempty"`
	Tags          []string    `json:"tags,omitempty"`
	TagKeys       []string    `json:"tagKeys,omitempty"`
	ExcludedRoute bool        `json:"excludedRoute,omitempty"`
	ClickData     *ClickData  `json:"clickData,omitempty"`
	ScrollData    *ScrollData `json:"scrollData,omitempty"`
	CustomData    *CustomData `json:"customData,omitempty"`
	ErrorData     *ErrorData  `json:"errorData,omitempty"`
	VitalsData    *VitalsData `json:"vitalsData,omitempty"`
}

// UTM carries campaign attribution parsed from the landing URL.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
}

// ClickData describes a click and the element it landed on.
type ClickData struct {
	X       int          `json:"x"`
	Y       int          `json:"y"`
	Element *ElementInfo `json:"element,omitempty"`
}

// ElementInfo is the structured description of a clicked element.
type ElementInfo struct {
	ID        string            `json:"id,omitempty"`
	Classes   string            `json:"classes,omitempty"`
	Tag       string            `json:"tag,omitempty"`
	Text      string            `json:"text,omitempty"`
	Href      string            `json:"href,omitempty"`
	Title     string            `json:"title,omitempty"`
	Alt       string            `json:"alt,omitempty"`
	Role      string            `json:"role,omitempty"`
	AriaLabel string            `json:"ariaLabel,omitempty"`
	DataAttrs map[string]string `json:"dataAttrs,omitempty"`
}

// ScrollData records how deep and in which direction the page scrolled.
type ScrollData struct {
	Depth     int    `json:"depth"`
	Direction string `json:"direction"`
}

// CustomData is an application-defined event.
type CustomData struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ErrorData describes a captured runtime error after sanitization.
type ErrorData struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// VitalsData is a single web-vitals measurement.
type VitalsData struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Device classifies the visitor's user agent.
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
	DeviceBot     Device = "bot"
)

// QueuePayload is the batch unit handed to a DeliveryAdapter. Events are
// deduplicated and sorted by ascending timestamp before the payload is
// built; a payload is sent whole or not at all.
type QueuePayload struct {
	UserID         string         `json:"userId"`
	SessionID      string         `json:"sessionId"`
	Device         Device         `json:"device"`
	Events         []Event        `json:"events"`
	GlobalMetadata map[string]any `json:"globalMetadata,omitempty"`
	Timestamp      int64          `json:"timestamp"`
}
