package ytchat

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden values captured from tokens the chat endpoint actually accepts.
// These must never drift: the upstream rejects anything else.
const (
	goldenChannelID = "UCqm3BQLlJfvkTsX_hvm0UmA"
	goldenStreamID  = "qNeJhJVDOS8"

	goldenLive   = "0ofMyANhGlhDaWtxSndvWVZVTnhiVE5DVVV4c1NtWjJhMVJ6V0Y5b2RtMHdWVzFCRWd0eFRtVkthRXBXUkU5VE9Cb1Q2cWpkdVFFTkNndHhUbVZLYUVwV1JFOVRPQ0FCMAGCAQIIAQ=="
	goldenReplay = "op2w0wRcGlhDaWtxSndvWVZVTnhiVE5DVVV4c1NtWjJhMVJ6V0Y5b2RtMHdWVzFCRWd0eFRtVkthRXBXUkU5VE9Cb1Q2cWpkdVFFTkNndHhUbVZLYUVwV1JFOVRPQ0FCQAE="
)

func TestLiveContinuationGolden(t *testing.T) {
	got := LiveContinuation(goldenChannelID, goldenStreamID)
	assert.Equal(t, goldenLive, got)
}

func TestReplayContinuationGolden(t *testing.T) {
	got := ReplayContinuation(goldenChannelID, goldenStreamID)
	assert.Equal(t, goldenReplay, got)
}

func TestContinuationDeterministic(t *testing.T) {
	first := LiveContinuation("UCabc", "vid123")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, LiveContinuation("UCabc", "vid123"))
	}
}

func TestContinuationIsPaddedBase64URL(t *testing.T) {
	tests := []struct {
		name      string
		channelID string
		streamID  string
	}{
		{"golden inputs", goldenChannelID, goldenStreamID},
		{"short ids", "UC1", "v1"},
		{"underscore and dash", "UC_a-b_c", "x-_9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, token := range []string{
				LiveContinuation(tt.channelID, tt.streamID),
				ReplayContinuation(tt.channelID, tt.streamID),
			} {
				_, err := base64.URLEncoding.DecodeString(token)
				require.NoError(t, err, "token must be padded base64url: %s", token)
			}
		})
	}
}

func TestLiveAndReplayDiffer(t *testing.T) {
	assert.NotEqual(t,
		LiveContinuation(goldenChannelID, goldenStreamID),
		ReplayContinuation(goldenChannelID, goldenStreamID))
}
