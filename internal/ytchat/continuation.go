// Package ytchat mints continuation tokens for the YouTube live chat
// endpoint. Tokens the upstream hands back are treated as opaque and passed
// through unmodified; only tokens this service mints itself are built here.
package ytchat

import (
	"encoding/base64"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the continuation wrapper messages. These mirror the
// private wire format the chat endpoint accepts; they are not negotiable.
const (
	fieldGetLiveChat       protowire.Number = 119693434
	fieldGetLiveChatReplay protowire.Number = 156074452
	fieldLiveChatContext   protowire.Number = 48687757
)

// LiveContinuation builds the initial cursor for reading a stream's live
// chat. Deterministic and byte-exact: fixed inputs always produce the same
// token.
func LiveContinuation(channelID, streamID string) string {
	var wrapper []byte
	wrapper = appendStringField(wrapper, 3, videoContext(channelID, streamID))
	wrapper = appendVarintField(wrapper, 6, 1)
	wrapper = appendMessageField(wrapper, 16, appendVarintField(nil, 1, 1))

	return encode(appendMessageField(nil, fieldGetLiveChat, wrapper))
}

// ReplayContinuation builds the cursor for reading the chat replay of a
// finished stream, from the same two identifiers.
func ReplayContinuation(channelID, streamID string) string {
	var wrapper []byte
	wrapper = appendStringField(wrapper, 3, videoContext(channelID, streamID))
	wrapper = appendVarintField(wrapper, 8, 1)

	return encode(appendMessageField(nil, fieldGetLiveChatReplay, wrapper))
}

// videoContext serializes the inner channel/stream record shared by both
// token shapes, itself base64-url encoded before being embedded as a string
// field of the wrapper.
func videoContext(channelID, streamID string) string {
	var ids []byte
	ids = appendStringField(ids, 1, channelID)
	ids = appendStringField(ids, 2, streamID)

	var msg []byte
	msg = appendMessageField(msg, 1, appendMessageField(nil, 5, ids))
	msg = appendMessageField(msg, 3, appendMessageField(nil, fieldLiveChatContext, appendStringField(nil, 1, streamID)))
	msg = appendVarintField(msg, 4, 1)

	return encode(msg)
}

func encode(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

func appendMessageField(b []byte, num protowire.Number, sub []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
