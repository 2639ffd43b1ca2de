package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultInnertubeBaseURL = "https://www.youtube.com/youtubei/v1"
	defaultThumbnailBaseURL = "https://i.ytimg.com/vi"

	innertubeClientName    = "WEB"
	innertubeClientVersion = "2.20240731.01.00"
)

// YouTubeClient talks to the innertube endpoints YouTube's own web player
// uses, plus a secondary videos API for authoritative post-stream metadata.
// It implements MetadataClient, ChatClient and VideosClient over the shared
// rate-limited Client.
type YouTubeClient struct {
	client        *Client
	innertubeBase string
	thumbnailBase string
	videosBase    string
}

// YouTubeOptions overrides the default endpoint bases, mainly for tests
type YouTubeOptions struct {
	InnertubeBaseURL string
	ThumbnailBaseURL string
	VideosBaseURL    string
}

// NewYouTubeClient creates a YouTube client over the shared HTTP client
func NewYouTubeClient(client *Client, opts YouTubeOptions) *YouTubeClient {
	c := &YouTubeClient{
		client:        client,
		innertubeBase: defaultInnertubeBaseURL,
		thumbnailBase: defaultThumbnailBaseURL,
		videosBase:    opts.VideosBaseURL,
	}
	if opts.InnertubeBaseURL != "" {
		c.innertubeBase = opts.InnertubeBaseURL
	}
	if opts.ThumbnailBaseURL != "" {
		c.thumbnailBase = opts.ThumbnailBaseURL
	}
	return c
}

type innertubeContext struct {
	Client struct {
		ClientName    string `json:"clientName"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
}

func newInnertubeContext() innertubeContext {
	var ctx innertubeContext
	ctx.Client.ClientName = innertubeClientName
	ctx.Client.ClientVersion = innertubeClientVersion
	return ctx
}

type updatedMetadataRequest struct {
	Context      innertubeContext `json:"context"`
	VideoID      string           `json:"videoId,omitempty"`
	Continuation string           `json:"continuation,omitempty"`
}

type timedContinuation struct {
	TimeoutMs    *int   `json:"timeoutMs"`
	Continuation string `json:"continuation"`
}

type updatedMetadataResponse struct {
	Continuation struct {
		TimedContinuationData *timedContinuation `json:"timedContinuationData"`
	} `json:"continuation"`
	Actions []struct {
		UpdateViewershipAction *struct {
			ViewCount struct {
				VideoViewCountRenderer struct {
					ViewCount struct {
						SimpleText string `json:"simpleText"`
					} `json:"viewCount"`
					IsLive bool `json:"isLive"`
				} `json:"videoViewCountRenderer"`
			} `json:"viewCount"`
		} `json:"updateViewershipAction"`
		UpdateTitleAction *struct {
			Title struct {
				SimpleText string `json:"simpleText"`
			} `json:"title"`
		} `json:"updateTitleAction"`
		UpdateToggleButtonTextAction *struct {
			DefaultText struct {
				SimpleText string `json:"simpleText"`
			} `json:"defaultText"`
			ButtonID string `json:"buttonId"`
		} `json:"updateToggleButtonTextAction"`
	} `json:"actions"`
}

// FetchMetadata polls the updated_metadata endpoint. An empty continuation
// starts a fresh poll sequence for the stream.
func (y *YouTubeClient) FetchMetadata(ctx context.Context, streamID, continuation string) (*MetadataPage, error) {
	req := updatedMetadataRequest{Context: newInnertubeContext()}
	if continuation == "" {
		req.VideoID = streamID
	} else {
		req.Continuation = continuation
	}

	var resp updatedMetadataResponse
	if err := y.client.PostJSON(ctx, y.innertubeBase+"/updated_metadata", req, &resp); err != nil {
		return nil, fmt.Errorf("metadata poll for %s: %w", streamID, err)
	}

	page := &MetadataPage{}
	if tc := resp.Continuation.TimedContinuationData; tc != nil {
		page.Continuation = tc.Continuation
		if tc.TimeoutMs != nil {
			d := time.Duration(*tc.TimeoutMs) * time.Millisecond
			page.Timeout = &d
		}
	}

	for _, action := range resp.Actions {
		if va := action.UpdateViewershipAction; va != nil {
			renderer := va.ViewCount.VideoViewCountRenderer
			if !renderer.IsLive {
				page.IsWaiting = true
			}
			if n, ok := parseCount(renderer.ViewCount.SimpleText); ok {
				page.ViewCount = &n
			}
		}
		if ta := action.UpdateTitleAction; ta != nil && ta.Title.SimpleText != "" {
			title := ta.Title.SimpleText
			page.Title = &title
		}
		if ba := action.UpdateToggleButtonTextAction; ba != nil && ba.ButtonID == "TOGGLE_BUTTON_ID_TYPE_LIKE" {
			if n, ok := parseCount(ba.DefaultText.SimpleText); ok {
				page.LikeCount = &n
			}
		}
	}
	return page, nil
}

type liveChatRequest struct {
	Context      innertubeContext `json:"context"`
	Continuation string           `json:"continuation"`
}

type liveChatResponse struct {
	ContinuationContents struct {
		LiveChatContinuation struct {
			Continuations []struct {
				TimedContinuationData        *timedContinuation `json:"timedContinuationData"`
				InvalidationContinuationData *timedContinuation `json:"invalidationContinuationData"`
			} `json:"continuations"`
			Actions []struct {
				AddChatItemAction *struct {
					Item map[string]json.RawMessage `json:"item"`
				} `json:"addChatItemAction"`
			} `json:"actions"`
		} `json:"liveChatContinuation"`
	} `json:"continuationContents"`
}

type chatItemCommon struct {
	TimestampUsec string `json:"timestampUsec"`
	AuthorBadges  []struct {
		LiveChatAuthorBadgeRenderer struct {
			CustomThumbnail *struct{} `json:"customThumbnail"`
		} `json:"liveChatAuthorBadgeRenderer"`
	} `json:"authorBadges"`
}

// FetchChat polls the get_live_chat endpoint with the given continuation
func (y *YouTubeClient) FetchChat(ctx context.Context, continuation string) (*ChatPage, error) {
	req := liveChatRequest{Context: newInnertubeContext(), Continuation: continuation}

	var resp liveChatResponse
	if err := y.client.PostJSON(ctx, y.innertubeBase+"/live_chat/get_live_chat", req, &resp); err != nil {
		return nil, fmt.Errorf("chat poll: %w", err)
	}

	page := &ChatPage{Continuation: continuation, Timeout: time.Second}
	for _, c := range resp.ContinuationContents.LiveChatContinuation.Continuations {
		tc := c.TimedContinuationData
		if tc == nil {
			tc = c.InvalidationContinuationData
		}
		if tc == nil {
			continue
		}
		if tc.Continuation != "" {
			page.Continuation = tc.Continuation
		}
		if tc.TimeoutMs != nil {
			page.Timeout = time.Duration(*tc.TimeoutMs) * time.Millisecond
		}
		break
	}

	for _, action := range resp.ContinuationContents.LiveChatContinuation.Actions {
		if action.AddChatItemAction == nil {
			continue
		}
		for renderer, raw := range action.AddChatItemAction.Item {
			msg, ok := parseChatItem(renderer, raw)
			if !ok {
				continue
			}
			page.Messages = append(page.Messages, msg)
		}
	}
	return page, nil
}

func parseChatItem(renderer string, raw json.RawMessage) (ChatMessage, bool) {
	var kind ChatMessageKind
	switch renderer {
	case "liveChatTextMessageRenderer":
		kind = ChatText
	case "liveChatMembershipItemRenderer":
		kind = ChatMembership
	case "liveChatPaidMessageRenderer", "liveChatPaidStickerRenderer":
		kind = ChatPaid
	default:
		return ChatMessage{}, false
	}

	var common chatItemCommon
	if err := json.Unmarshal(raw, &common); err != nil {
		return ChatMessage{}, false
	}

	at := time.Now()
	if usec, err := strconv.ParseInt(common.TimestampUsec, 10, 64); err == nil {
		at = time.UnixMicro(usec)
	}

	// Member badges carry a custom thumbnail; built-in badges (moderator,
	// owner) do not.
	isMember := false
	for _, b := range common.AuthorBadges {
		if b.LiveChatAuthorBadgeRenderer.CustomThumbnail != nil {
			isMember = true
		}
	}

	return ChatMessage{
		Kind:           kind,
		Time:           at,
		AuthorIsMember: isMember,
		Raw:            raw,
	}, true
}

type videosResponse struct {
	Title     string     `json:"title"`
	LikeCount *int64     `json:"like_count"`
	StartTime *time.Time `json:"start_actual"`
	EndTime   *time.Time `json:"end_actual"`
}

// FetchStreamInfo loads the authoritative post-stream metadata from the
// secondary videos API
func (y *YouTubeClient) FetchStreamInfo(ctx context.Context, streamID string) (*StreamInfo, error) {
	if y.videosBase == "" {
		return nil, fmt.Errorf("videos API base URL not configured")
	}

	var resp videosResponse
	if err := y.client.GetJSON(ctx, y.videosBase+"/videos/"+streamID, nil, &resp); err != nil {
		return nil, fmt.Errorf("stream info for %s: %w", streamID, err)
	}
	return &StreamInfo{
		Title:     resp.Title,
		LikeCount: resp.LikeCount,
		StartTime: resp.StartTime,
		EndTime:   resp.EndTime,
	}, nil
}

// FetchThumbnail downloads the stream's highest-resolution thumbnail
func (y *YouTubeClient) FetchThumbnail(ctx context.Context, streamID string) ([]byte, error) {
	data, err := y.client.GetBytes(ctx, fmt.Sprintf("%s/%s/maxresdefault.jpg", y.thumbnailBase, streamID))
	if err != nil {
		return nil, fmt.Errorf("thumbnail for %s: %w", streamID, err)
	}
	return data, nil
}

// parseCount extracts the leading integer from a formatted count string like
// "12,345 watching now"
func parseCount(s string) (int64, bool) {
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		} else if digits.Len() > 0 {
			break
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
