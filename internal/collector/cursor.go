package collector

import (
	"encoding/json"
	"fmt"
)

// cursorVersion guards the serialized cursor format. A bump invalidates
// persisted cursors from older builds; the collector then starts fresh
// instead of feeding a stale shape upstream.
const cursorVersion = 1

// cursor is the pair of upstream positions one YouTube collection job
// threads between its invocations: the metadata-poll continuation and the
// live-chat continuation. The pairing is a private convention of the
// collector; the job store only ever sees the serialized string.
type cursor struct {
	Version  int    `json:"v"`
	Metadata string `json:"metadata,omitempty"`
	Chat     string `json:"chat,omitempty"`
}

// serializeCursor encodes the cursor pair into the job continuation string
func serializeCursor(metadata, chat string) (string, error) {
	b, err := json.Marshal(cursor{Version: cursorVersion, Metadata: metadata, Chat: chat})
	if err != nil {
		return "", fmt.Errorf("failed to serialize cursor: %w", err)
	}
	return string(b), nil
}

// parseCursor decodes a persisted continuation string. A nil input (first
// invocation) or a version mismatch yields empty cursors, which makes the
// collector start both loops from scratch.
func parseCursor(continuation *string) (metadata, chat string, err error) {
	if continuation == nil || *continuation == "" {
		return "", "", nil
	}
	var c cursor
	if err := json.Unmarshal([]byte(*continuation), &c); err != nil {
		return "", "", fmt.Errorf("failed to parse cursor: %w", err)
	}
	if c.Version != cursorVersion {
		return "", "", nil
	}
	return c.Metadata, c.Chat, nil
}
