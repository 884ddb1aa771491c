// Package v1 defines the AuraChat realtime wire protocol.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
//
// Frames are flat JSON objects carrying a "type" discriminator. The inbound set
// is closed: adding a frame type means adding a variant here and a dispatch arm
// in the gateway, checked at compile time.
package v1

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Inbound frame types (client -> server, room channel).
const (
	TypeChatMessage      = "chat_message"
	TypeReadReceipt      = "read_receipt"
	TypeTyping           = "typing"
	TypeTypingSuggestion = "typing_suggestion"
	TypeRequestSummary   = "request_summary"
	TypeEditMessage      = "edit_message"
	TypeDeleteMessage    = "delete_message"
	TypeAddReaction      = "add_reaction"
)

// Outbound frame types (server -> client, room channel).
const (
	TypeTypingIndicator = "typing_indicator"
	TypeGhostSuggestion = "ghost_suggestion"
	TypeMessageEdited   = "message_edited"
	TypeMessageDeleted  = "message_deleted"
	TypeReactionUpdate  = "reaction_update"
)

// Outbound frame types (server -> client, global/user channel).
const (
	TypeNewMessageNotification = "new_message_notification"
	TypeDeliveredReceipt       = "delivered_receipt"
	TypePresenceUpdate         = "presence_update"
	TypeMentionNotification    = "mention_notification"
	TypeAISuggestions          = "ai_suggestions"
	TypeAISummary              = "ai_summary"
	TypeChatSummary            = "chat_summary"
)

// TypeError is sent only to the connection whose frame failed.
const TypeError = "error"

// ---- shared wire objects ----

// UserRef identifies a message sender on the wire.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is the canonical wire representation of a chat message.
type Message struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	Sender      UserRef   `json:"sender"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	ReplyToID   string    `json:"reply_to_id,omitempty"`
	Duration    int       `json:"duration,omitempty"`
	StickerID   string    `json:"sticker_id,omitempty"`
	GifURL      string    `json:"gif_url,omitempty"`
	Edited      bool      `json:"edited"`
	Translated  string    `json:"translated,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Reaction is one (user, emoji) reaction entry for a message.
type Reaction struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Emoji     string `json:"emoji"`
}

// Mood is the AI mood read for a conversation window.
type Mood struct {
	Score int    `json:"score"`
	Label string `json:"label"`
}

// ---- inbound frames ----

// Inbound is the closed set of client frames on the room channel.
type Inbound interface{ inboundFrame() }

// ChatMessage requests sending a message into the room.
type ChatMessage struct {
	Message     string `json:"message"`
	TempID      string `json:"temp_id,omitempty"`
	TargetLang  string `json:"target_lang,omitempty"`
	ReplyToID   string `json:"reply_to_id,omitempty"`
	MessageType string `json:"message_type,omitempty" validate:"omitempty,oneof=text image file voice sticker gif"`
	Duration    int    `json:"duration,omitempty" validate:"gte=0"`
	StickerID   string `json:"sticker_id,omitempty"`
	GifURL      string `json:"gif_url,omitempty" validate:"omitempty,url"`
}

// ReadReceipt marks a message as read by the sender of the frame.
type ReadReceipt struct {
	MessageID string `json:"message_id" validate:"required"`
}

// Typing toggles the typing indicator.
type Typing struct {
	IsTyping bool `json:"is_typing"`
}

// TypingSuggestion requests a ghost-text continuation for a partial message.
type TypingSuggestion struct {
	Partial    string `json:"partial"`
	TargetLang string `json:"target_lang,omitempty"`
}

// RequestSummary asks for a summary of recent room history.
type RequestSummary struct{}

// EditMessage propagates an already-persisted edit to the room.
type EditMessage struct {
	MessageID  string `json:"message_id" validate:"required"`
	NewContent string `json:"new_content" validate:"required"`
}

// DeleteMessage propagates an already-persisted delete to the room.
type DeleteMessage struct {
	MessageID string `json:"message_id" validate:"required"`
}

// AddReaction toggles a (message, user, emoji) reaction.
type AddReaction struct {
	MessageID string `json:"message_id" validate:"required"`
	Emoji     string `json:"emoji" validate:"required,max=16"`
}

// Unknown is returned for frame types outside the closed set.
// Gateways log and ignore it; it is never an error.
type Unknown struct {
	Type string
}

func (ChatMessage) inboundFrame()      {}
func (ReadReceipt) inboundFrame()      {}
func (Typing) inboundFrame()           {}
func (TypingSuggestion) inboundFrame() {}
func (RequestSummary) inboundFrame()   {}
func (EditMessage) inboundFrame()      {}
func (DeleteMessage) inboundFrame()    {}
func (AddReaction) inboundFrame()      {}
func (Unknown) inboundFrame()          {}

var validate = validator.New()

// DecodeInbound parses a raw client frame into its typed variant.
// A missing or blank "type" is a decode error; an unrecognized "type" is not,
// it yields Unknown so callers can log-and-ignore per protocol.
func DecodeInbound(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	typ := strings.TrimSpace(head.Type)
	if typ == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}

	decode := func(dst Inbound) (Inbound, error) {
		if err := json.Unmarshal(data, dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		if err := validate.Struct(dst); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", typ, err)
		}
		return dst, nil
	}

	switch typ {
	case TypeChatMessage:
		return decode(&ChatMessage{})
	case TypeReadReceipt:
		return decode(&ReadReceipt{})
	case TypeTyping:
		return decode(&Typing{})
	case TypeTypingSuggestion:
		return decode(&TypingSuggestion{})
	case TypeRequestSummary:
		return decode(&RequestSummary{})
	case TypeEditMessage:
		return decode(&EditMessage{})
	case TypeDeleteMessage:
		return decode(&DeleteMessage{})
	case TypeAddReaction:
		return decode(&AddReaction{})
	default:
		return Unknown{Type: typ}, nil
	}
}

// ---- outbound frames ----

// ChatMessageEvent fans a stored message out to the room.
type ChatMessageEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
	TempID  string  `json:"temp_id,omitempty"`
}

// ReadReceiptEvent tells the room a message was read.
type ReadReceiptEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Reader    string `json:"reader"`
}

// TypingIndicatorEvent relays a typing toggle to the room.
type TypingIndicatorEvent struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// GhostSuggestionEvent returns a typing continuation to the requester only.
type GhostSuggestionEvent struct {
	Type         string `json:"type"`
	Continuation string `json:"continuation"`
}

// MessageEditedEvent relays an edit to the room.
type MessageEditedEvent struct {
	Type       string `json:"type"`
	MessageID  string `json:"message_id"`
	NewContent string `json:"new_content"`
	Edited     bool   `json:"edited"`
}

// MessageDeletedEvent relays a delete to the room.
type MessageDeletedEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// ReactionUpdateEvent carries the full current reaction list for a message.
type ReactionUpdateEvent struct {
	Type      string     `json:"type"`
	MessageID string     `json:"message_id"`
	Reactions []Reaction `json:"reactions"`
}

// NewMessageNotificationEvent notifies a user's global channel about a message
// in any of their rooms.
type NewMessageNotificationEvent struct {
	Type     string  `json:"type"`
	Message  Message `json:"message"`
	RoomID   string  `json:"room_id"`
	SenderID string  `json:"sender_id,omitempty"`
}

// DeliveredReceiptEvent tells the original sender a message reached a recipient.
type DeliveredReceiptEvent struct {
	Type        string `json:"type"`
	MessageID   string `json:"message_id"`
	DeliveredTo string `json:"delivered_to"`
}

// PresenceUpdateEvent announces an online/offline transition.
type PresenceUpdateEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// MentionNotificationEvent notifies a mentioned user.
type MentionNotificationEvent struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	MessageID   string `json:"message_id"`
	MentionedBy string `json:"mentioned_by"`
}

// AISuggestionsEvent carries reply and activity suggestions to the AI target.
type AISuggestionsEvent struct {
	Type        string   `json:"type"`
	RoomID      string   `json:"room_id"`
	MessageID   string   `json:"message_id"`
	Replies     []string `json:"replies"`
	Suggestions []string `json:"suggestions"`
}

// AISummaryEvent carries the mood read for a conversation window.
type AISummaryEvent struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	Summary Mood   `json:"summary"`
}

// ErrorEvent reports a failed frame back to the connection that sent it.
// It is never fanned out to a group.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChatSummaryEvent carries an on-demand room summary.
type ChatSummaryEvent struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	Summary string `json:"summary"`
}

// Encode marshals an outbound event. The zero Type field must already be set
// by the caller; constructors below guarantee it.
func Encode(event any) ([]byte, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}

// ---- constructors (keep the discriminator wire-stable) ----

func NewChatMessageEvent(msg Message, tempID string) ChatMessageEvent {
	return ChatMessageEvent{Type: TypeChatMessage, Message: msg, TempID: tempID}
}

func NewReadReceiptEvent(messageID, reader string) ReadReceiptEvent {
	return ReadReceiptEvent{Type: TypeReadReceipt, MessageID: messageID, Reader: reader}
}

func NewTypingIndicatorEvent(user, roomID string, isTyping bool) TypingIndicatorEvent {
	return TypingIndicatorEvent{Type: TypeTypingIndicator, User: user, RoomID: roomID, IsTyping: isTyping}
}

func NewGhostSuggestionEvent(continuation string) GhostSuggestionEvent {
	return GhostSuggestionEvent{Type: TypeGhostSuggestion, Continuation: continuation}
}

func NewMessageEditedEvent(messageID, newContent string) MessageEditedEvent {
	return MessageEditedEvent{Type: TypeMessageEdited, MessageID: messageID, NewContent: newContent, Edited: true}
}

func NewMessageDeletedEvent(messageID string) MessageDeletedEvent {
	return MessageDeletedEvent{Type: TypeMessageDeleted, MessageID: messageID}
}

func NewReactionUpdateEvent(messageID string, reactions []Reaction) ReactionUpdateEvent {
	if reactions == nil {
		reactions = []Reaction{}
	}
	return ReactionUpdateEvent{Type: TypeReactionUpdate, MessageID: messageID, Reactions: reactions}
}

func NewMessageNotificationEventOf(msg Message, roomID, senderID string) NewMessageNotificationEvent {
	return NewMessageNotificationEvent{Type: TypeNewMessageNotification, Message: msg, RoomID: roomID, SenderID: senderID}
}

func NewDeliveredReceiptEvent(messageID, deliveredTo string) DeliveredReceiptEvent {
	return DeliveredReceiptEvent{Type: TypeDeliveredReceipt, MessageID: messageID, DeliveredTo: deliveredTo}
}

func NewPresenceUpdateEvent(userID string, isOnline bool) PresenceUpdateEvent {
	return PresenceUpdateEvent{Type: TypePresenceUpdate, UserID: userID, IsOnline: isOnline}
}

func NewMentionNotificationEvent(roomID, messageID, mentionedBy string) MentionNotificationEvent {
	return MentionNotificationEvent{Type: TypeMentionNotification, RoomID: roomID, MessageID: messageID, MentionedBy: mentionedBy}
}

func NewAISuggestionsEvent(roomID, messageID string, replies, suggestions []string) AISuggestionsEvent {
	return AISuggestionsEvent{Type: TypeAISuggestions, RoomID: roomID, MessageID: messageID, Replies: replies, Suggestions: suggestions}
}

func NewAISummaryEvent(roomID string, mood Mood) AISummaryEvent {
	return AISummaryEvent{Type: TypeAISummary, RoomID: roomID, Summary: mood}
}

func NewErrorEvent(code, message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Code: code, Message: message}
}

func NewChatSummaryEvent(roomID, summary string) ChatSummaryEvent {
	return ChatSummaryEvent{Type: TypeChatSummary, RoomID: roomID, Summary: summary}
}
