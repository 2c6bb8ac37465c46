package protocol

import (
	"encoding/json"
	"fmt"
)

// Client to server events.
const (
	EventJoinChannel  = "joinChannel"
	EventSendMessage  = "sendMessage"
	EventMarkAsRead   = "markAsRead"
	EventLeaveChannel = "leaveChannel"
)

// Server to client events.
const (
	EventNewMessage         = "newMessage"
	EventUnreadCountUpdated = "unreadCountUpdated"
	EventMessagesSeen       = "messagesSeen"
	EventError              = "error"
)

// Frame is the JSON envelope used in both directions:
//
//	{"type": "joinChannel", "data": {"userId": "u1", "channelId": "general"}}
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinChannel struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
}

type SendMessage struct {
	ChannelID string `json:"channelId"`
	Message   string `json:"message"`
	SenderID  string `json:"senderId"`
}

type MarkAsRead struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
}

type LeaveChannel struct {
	ChannelID string `json:"channelId"`
}

type UnreadCountUpdated struct {
	ChannelID string `json:"channelId"`
}

type MessagesSeen struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
}

// ErrorPayload is sent to the connection whose request failed.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return f, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// EncodeFrame marshals an outgoing event. json.RawMessage payloads are
// embedded as-is.
func EncodeFrame(event string, payload any) ([]byte, error) {
	out := struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{Type: event, Data: payload}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return b, nil
}
