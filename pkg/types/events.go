package types

import (
	"encoding/json"
	"time"
)

// EventType is the outbound wire "type" tag
type EventType string

const (
	EventChatMessage     EventType = "chat_message"
	EventTypingIndicator EventType = "typing_indicator"
	EventUserPresence    EventType = "user_presence"
	EventNewPost         EventType = "new_post"
	EventNewComment      EventType = "new_comment"
	EventModeration      EventType = "moderation_action"
	EventForumUpdate     EventType = "forum_update"
	EventDeliveryWarning EventType = "delivery_warning"
	EventError           EventType = "error"
)

// BridgeEvent names the HTTP-originated notifications accepted by the bridge
type BridgeEvent string

const (
	BridgeNewPost            BridgeEvent = "NewPost"
	BridgeNewComment         BridgeEvent = "NewComment"
	BridgeModerationAction   BridgeEvent = "ModerationAction"
	BridgeThreadCreated      BridgeEvent = "ThreadCreated"
	BridgeThreadStateChanged BridgeEvent = "ThreadStateChanged"
)

// Inbound client actions
const (
	ActionMessage     = "message"
	ActionTyping      = "typing"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Event is an immutable domain event addressed to one room. Frame is the
// wire payload already encoded once, so every member receives the same bytes.
type Event struct {
	Type      EventType       `json:"type"`
	Room      string          `json:"room"`
	Origin    string          `json:"origin,omitempty"`
	Frame     json.RawMessage `json:"frame"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent encodes frame and stamps the event with the current time
func NewEvent(eventType EventType, room, origin string, frame interface{}) (*Event, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, ErrInvalidFrame
	}
	return &Event{
		Type:      eventType,
		Room:      room,
		Origin:    origin,
		Frame:     data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Outbound frames

type ChatMessageFrame struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id,omitempty"`
	Message   string    `json:"message"`
	User      string    `json:"user"`
	Timestamp string    `json:"timestamp"`
}

type TypingFrame struct {
	Type     EventType `json:"type"`
	User     string    `json:"user"`
	IsTyping bool      `json:"is_typing"`
}

type PresenceFrame struct {
	Type     EventType `json:"type"`
	User     string    `json:"user"`
	IsOnline bool      `json:"is_online"`
}

type PostFrame struct {
	Type EventType   `json:"type"`
	Post interface{} `json:"post"`
}

type CommentFrame struct {
	Type    EventType   `json:"type"`
	Comment interface{} `json:"comment"`
}

type ModerationFrame struct {
	Type       EventType   `json:"type"`
	Moderation interface{} `json:"moderation"`
}

// ForumUpdateFrame covers thread creation and thread state changes
type ForumUpdateFrame struct {
	Type    EventType   `json:"type"`
	Message string      `json:"message"`
	Thread  interface{} `json:"thread,omitempty"`
}

// NoticeFrame is sent to a single connection (delivery warnings, errors)
type NoticeFrame struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Room    string    `json:"room,omitempty"`
}

// NewChatMessageFrame renders a persisted chat message for the wire
func NewChatMessageFrame(msg *ChatMessage) ChatMessageFrame {
	return ChatMessageFrame{
		Type:      EventChatMessage,
		ID:        msg.ID,
		Message:   msg.Body,
		User:      msg.SenderName,
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Inbound frames

// InboundFrame is the union of every client action. Fields are validated
// per action by the router.
type InboundFrame struct {
	Action   string `json:"action" validate:"required,oneof=message typing subscribe unsubscribe"`
	Message  string `json:"message,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
	Room     string `json:"room,omitempty"`
}
