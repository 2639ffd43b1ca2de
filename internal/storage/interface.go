package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Metadata contains metadata for a stored snapshot
type Metadata struct {
	ContentType string            `json:"content_type"`
	StreamID    string            `json:"stream_id,omitempty"`
	Platform    string            `json:"platform,omitempty"`
	CapturedAt  time.Time         `json:"captured_at,omitempty"`
	Custom      map[string]string `json:"custom,omitempty"`
}

// ObjectInfo contains information about a stored object
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	Checksum     string    `json:"checksum,omitempty"`
	Metadata     Metadata  `json:"metadata"`
}

// Storage defines the interface for snapshot storage backends. The worker
// uses it to persist post-stream artifacts (currently thumbnail images);
// anything that can hold named byte blobs can implement it.
type Storage interface {
	// Put stores data with the given key and metadata
	Put(ctx context.Context, key string, data io.Reader, metadata Metadata) error

	// Get retrieves data for the given key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// GetInfo retrieves object information without fetching the payload
	GetInfo(ctx context.Context, key string) (*ObjectInfo, error)

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object for the given key
	Delete(ctx context.Context, key string) error

	// List returns object infos for keys matching the prefix
	List(ctx context.Context, prefix string) ([]*ObjectInfo, error)
}

// BackendType represents the type of storage backend
type BackendType string

const (
	BackendLocal BackendType = "local"
)

// BuildThumbnailKey builds the canonical key for a stream's thumbnail
// snapshot: thumbnails/{platform}/{stream_id}.jpg
func BuildThumbnailKey(platform, streamID string) string {
	return fmt.Sprintf("thumbnails/%s/%s.jpg", platform, streamID)
}
