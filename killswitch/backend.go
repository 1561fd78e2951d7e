package killswitch

import "context"

// Backend is the key/value + pub/sub service the kill-switch state lives in.
// Writes are last-writer-wins; the published event is the notification edge.
type Backend interface {
	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value at key.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Publish broadcasts payload on the named channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers channel payloads until ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
