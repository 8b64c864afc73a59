package adapters

// StorageAdapter is a key/value persistence surface used to survive
// page reloads. Implement this interface to use custom storage backends
// (file, SQLite, Redis, etc.).
//
// Implementations may fail; the pipeline wraps every adapter in a
// never-fail facade that falls back to an in-memory shadow, so a broken
// backend degrades persistence without breaking tracking.
type StorageAdapter interface {
	// Get returns the value stored under key. A missing key is not an
	// error: Get returns ("", nil).
	Get(key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}
