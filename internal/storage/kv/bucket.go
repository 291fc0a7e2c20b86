// Package kv provides named key-value buckets with SQLite persistence and in-memory options.
package kv

// Bucket is the interface for key-value storage operations. Values are opaque
// bytes; callers choose the encoding.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// IsPersistent returns true if the bucket is backed by SQLite.
	IsPersistent() bool

	// Put saves value under key, replacing any previous value.
	Put(key string, value []byte) error

	// Get retrieves a value by key. ok is false if the key doesn't exist.
	Get(key string) (value []byte, ok bool, err error)

	// Delete removes a key from the bucket.
	// Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all keys in the bucket, sorted.
	Keys() ([]string, error)

	// Clear removes all keys from the bucket.
	Clear() error
}
