package adapters

// DeliveryResult is the outcome of a delivery attempt that reached the
// collector. Status carries the HTTP status code (or an equivalent for
// non-HTTP transports) so callers can tell permanent rejections from
// transient failures.
type DeliveryResult struct {
	OK     bool
	Status int
}

// Permanent reports whether the collector rejected the payload for good
// (a client-side error). Permanent failures must never be retried.
func (r *DeliveryResult) Permanent() bool {
	return r.Status >= 400 && r.Status < 500
}

// DeliveryAdapter ships a queue payload to the collection endpoint.
// Implement this interface to use a custom transport.
type DeliveryAdapter interface {
	// Send delivers the payload in a single attempt.
	//
	// Parameters:
	//   - endpoint: destination URL, topic or equivalent
	//   - payload: the batch to deliver, sent whole or not at all
	//   - headers: optional transport headers/metadata
	//
	// A non-nil error means the payload never reached the collector
	// (a transient failure). Retry policy belongs to the caller.
	Send(endpoint string, payload *QueuePayload, headers map[string]string) (*DeliveryResult, error)
}
