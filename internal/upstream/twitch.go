package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const defaultHelixBaseURL = "https://api.twitch.tv/helix"

// TwitchHelixClient implements TwitchClient against the Helix streams
// endpoint. App access tokens are provisioned externally and passed in.
type TwitchHelixClient struct {
	client    *Client
	baseURL   string
	clientID  string
	authToken string
}

// NewTwitchHelixClient creates a Twitch client over the shared HTTP client
func NewTwitchHelixClient(client *Client, baseURL, clientID, authToken string) *TwitchHelixClient {
	if baseURL == "" {
		baseURL = defaultHelixBaseURL
	}
	return &TwitchHelixClient{
		client:    client,
		baseURL:   baseURL,
		clientID:  clientID,
		authToken: authToken,
	}
}

type helixStreamsResponse struct {
	Data []struct {
		Type        string `json:"type"`
		ViewerCount int64  `json:"viewer_count"`
		Title       string `json:"title"`
	} `json:"data"`
}

// FetchStream polls one stream's live state. An empty data array means the
// stream is offline; that is not an error.
func (t *TwitchHelixClient) FetchStream(ctx context.Context, streamID string) (*TwitchPage, error) {
	header := http.Header{}
	header.Set("Client-Id", t.clientID)
	header.Set("Authorization", "Bearer "+t.authToken)

	var resp helixStreamsResponse
	endpoint := fmt.Sprintf("%s/streams?user_login=%s", t.baseURL, url.QueryEscape(streamID))
	if err := t.client.GetJSON(ctx, endpoint, header, &resp); err != nil {
		return nil, fmt.Errorf("twitch stream poll for %s: %w", streamID, err)
	}

	if len(resp.Data) == 0 || resp.Data[0].Type != "live" {
		return &TwitchPage{Live: false}, nil
	}

	viewers := resp.Data[0].ViewerCount
	return &TwitchPage{
		Live:        true,
		ViewerCount: &viewers,
		Title:       resp.Data[0].Title,
	}, nil
}
