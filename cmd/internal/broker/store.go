package broker

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by every ChatStore implementation.
var (
	ErrRoomNotFound   = errors.New("store: room not found")
	ErrNotParticipant = errors.New("store: not a participant")
	ErrEmptyMessage   = errors.New("store: message needs text, file, sticker or gif content")
	ErrUserNotFound   = errors.New("store: user not found")
)

// User is the store-level user projection the broker needs.
type User struct {
	ID       string
	Username string
	Language string
}

// Message is the canonical persisted message representation.
type Message struct {
	ID          string
	RoomID      string
	SenderID    string
	SenderName  string
	Content     string
	MessageType string
	ReplyToID   string
	Duration    int
	StickerID   string
	GifURL      string
	FileURL     string
	Edited      bool
	CreatedAt   time.Time
}

// Reaction is one persisted (message, user, emoji) reaction.
type Reaction struct {
	MessageID string
	UserID    string
	Username  string
	Emoji     string
}

// CreateMessageInput describes a message create request.
type CreateMessageInput struct {
	RoomID      string
	SenderID    string
	Content     string
	MessageType string
	ReplyToID   string
	Duration    int
	StickerID   string
	GifURL      string
	FileURL     string
	Now         time.Time
}

// ChatStore is the persistence collaborator: rooms, participants, messages,
// reactions and user lookups live behind it. The broker treats it as an
// external service; implementations must be safe for concurrent use.
type ChatStore interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	// ParticipantIDs returns the room's participant ids in a stable order.
	ParticipantIDs(ctx context.Context, roomID string) ([]string, error)

	// CreateMessage validates the room exists, the sender participates and at
	// least one of text/file/sticker/gif content is present, then persists.
	CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error)
	// RecentMessages returns the last limit non-empty message contents for the
	// room in chronological order.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]string, error)
	// MessageContents resolves ids to stored contents, skipping unknown ids.
	MessageContents(ctx context.Context, messageIDs []string) (map[string]string, error)

	// ToggleReaction creates the (message, user, emoji) reaction if absent,
	// removes it if present.
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) error
	Reactions(ctx context.Context, messageID string) ([]Reaction, error)

	UserByID(ctx context.Context, userID string) (User, error)
	PreferredLanguage(ctx context.Context, userID string) (string, error)
	UpdateLastSeen(ctx context.Context, userID string, t time.Time) error
	UsersByUsernames(ctx context.Context, usernames []string) ([]User, error)
	// RelatedUserIDs returns every other user sharing at least one room with
	// the given user.
	RelatedUserIDs(ctx context.Context, userID string) ([]string, error)
}
