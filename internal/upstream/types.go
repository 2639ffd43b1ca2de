// Package upstream holds the shared HTTP client and the boundary interfaces
// of the streaming platforms. Request/response shapes of the third-party
// APIs live behind these interfaces; the collector only sees the fields it
// needs.
package upstream

import (
	"context"
	"encoding/json"
	"time"
)

// MetadataPage is one response of the metadata-poll endpoint
type MetadataPage struct {
	// Timeout is the polling interval the upstream asks for; nil together
	// with an empty continuation means the stream is gone upstream.
	Timeout      *time.Duration
	Continuation string
	// IsWaiting reports that the stream has not started yet.
	IsWaiting bool
	ViewCount *int64
	LikeCount *int64
	Title     *string
}

// Gone reports that the upstream no longer knows the stream
func (p *MetadataPage) Gone() bool {
	return p.Timeout == nil && p.Continuation == ""
}

// ChatMessageKind discriminates the typed chat events of one chat poll
type ChatMessageKind string

const (
	ChatText       ChatMessageKind = "text"
	ChatMembership ChatMessageKind = "membership"
	ChatPaid       ChatMessageKind = "paid"
)

// ChatMessage is one typed chat event
type ChatMessage struct {
	Kind           ChatMessageKind
	Time           time.Time
	AuthorIsMember bool
	// Raw carries the upstream payload for events persisted individually
	// (memberships and paid messages).
	Raw json.RawMessage
}

// ChatPage is one response of the live-chat-poll endpoint
type ChatPage struct {
	Messages     []ChatMessage
	Continuation string
	Timeout      time.Duration
}

// StreamInfo is the authoritative post-stream metadata from the secondary
// source
type StreamInfo struct {
	Title     string
	LikeCount *int64
	StartTime *time.Time
	EndTime   *time.Time
}

// MetadataClient polls stream metadata. An empty continuation starts fresh;
// retry-exhausted calls surface as an error for that poll iteration.
type MetadataClient interface {
	FetchMetadata(ctx context.Context, streamID, continuation string) (*MetadataPage, error)
}

// ChatClient polls live chat. The first continuation is minted locally; each
// response carries the next one.
type ChatClient interface {
	FetchChat(ctx context.Context, continuation string) (*ChatPage, error)
}

// VideosClient is the secondary source for final stream metadata and the
// thumbnail snapshot
type VideosClient interface {
	FetchStreamInfo(ctx context.Context, streamID string) (*StreamInfo, error)
	FetchThumbnail(ctx context.Context, streamID string) ([]byte, error)
}

// TwitchPage is one response of the Twitch stream poll
type TwitchPage struct {
	Live        bool
	ViewerCount *int64
	Title       string
}

// TwitchClient polls Twitch stream state
type TwitchClient interface {
	FetchStream(ctx context.Context, streamID string) (*TwitchPage, error)
}
