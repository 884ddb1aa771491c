package broker

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/identity/ids"
	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/auth"
)

// MemoryStore is the dev/test ChatStore. It also carries dev credential
// records (argon2id hashes) so a local deployment can log in without an
// external identity service.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]*memUser   // user id -> user
	rooms     map[string]*memRoom   // room id -> room
	messages  map[string]*Message   // message id -> message
	byRoom    map[string][]string   // room id -> message ids, insertion order
	reactions map[string][]Reaction // message id -> reactions
}

type memUser struct {
	User
	passwordHash string
	lastSeen     time.Time
}

type memRoom struct {
	participants map[string]struct{}
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*memUser),
		rooms:     make(map[string]*memRoom),
		messages:  make(map[string]*Message),
		byRoom:    make(map[string][]string),
		reactions: make(map[string][]Reaction),
	}
}

// ---- seeding (dev mode and tests) ----

// SeedUser registers a user; password may be empty for users that never log in
// through the dev seam.
func (s *MemoryStore) SeedUser(u User, password string) error {
	var hash string
	if password != "" {
		var err error
		hash, err = auth.HashPassword(password, auth.DefaultArgon2idParams())
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &memUser{User: u, passwordHash: hash}
	return nil
}

// SeedRoom registers a room with the given participants.
func (s *MemoryStore) SeedRoom(roomID string, participantIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &memRoom{participants: make(map[string]struct{}, len(participantIDs))}
	for _, id := range participantIDs {
		r.participants[id] = struct{}{}
	}
	s.rooms[roomID] = r
}

// JoinRoom adds a participant to a room, creating the room if needed.
func (s *MemoryStore) JoinRoom(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[roomID]
	if r == nil {
		r = &memRoom{participants: make(map[string]struct{})}
		s.rooms[roomID] = r
	}
	r.participants[userID] = struct{}{}
}

// VerifyCredentials checks a username/password pair against seeded records.
func (s *MemoryStore) VerifyCredentials(username, password string) (User, error) {
	s.mu.Lock()
	var found *memUser
	for _, u := range s.users {
		if u.Username == username {
			found = u
			break
		}
	}
	s.mu.Unlock()

	if found == nil || found.passwordHash == "" {
		return User{}, ErrUserNotFound
	}
	ok, err := auth.VerifyPassword(found.passwordHash, password)
	if err != nil || !ok {
		return User{}, ErrUserNotFound
	}
	return found.User, nil
}

// LastSeen returns the recorded last-seen time, mainly for tests.
func (s *MemoryStore) LastSeen(userID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.users[userID]; u != nil {
		return u.lastSeen
	}
	return time.Time{}
}

// ---- ChatStore ----

func (s *MemoryStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok, nil
}

func (s *MemoryStore) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[roomID]
	if r == nil {
		return false, nil
	}
	_, ok := r.participants[userID]
	return ok, nil
}

func (s *MemoryStore) ParticipantIDs(ctx context.Context, roomID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[roomID]
	if r == nil {
		return nil, ErrRoomNotFound
	}
	out := lo.Keys(r.participants)
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	content := strings.TrimSpace(in.Content)
	if content == "" && in.FileURL == "" && in.StickerID == "" && in.GifURL == "" {
		return Message{}, ErrEmptyMessage
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[in.RoomID]
	if r == nil {
		return Message{}, ErrRoomNotFound
	}
	if _, ok := r.participants[in.SenderID]; !ok {
		return Message{}, ErrNotParticipant
	}
	sender := s.users[in.SenderID]
	if sender == nil {
		return Message{}, ErrUserNotFound
	}

	msgType := in.MessageType
	if msgType == "" {
		msgType = "text"
	}

	msg := Message{
		ID:          ids.MustULID(now),
		RoomID:      in.RoomID,
		SenderID:    in.SenderID,
		SenderName:  sender.Username,
		Content:     content,
		MessageType: msgType,
		ReplyToID:   in.ReplyToID,
		Duration:    in.Duration,
		StickerID:   in.StickerID,
		GifURL:      in.GifURL,
		FileURL:     in.FileURL,
		CreatedAt:   now,
	}
	s.messages[msg.ID] = &msg
	s.byRoom[in.RoomID] = append(s.byRoom[in.RoomID], msg.ID)

	return msg, nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idsInRoom := s.byRoom[roomID]
	out := make([]string, 0, limit)
	// Walk newest to oldest collecting non-empty contents, then reverse.
	for i := len(idsInRoom) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[idsInRoom[i]]
		if m == nil || m.Content == "" {
			continue
		}
		out = append(out, m.Content)
	}
	return lo.Reverse(out), nil
}

func (s *MemoryStore) MessageContents(ctx context.Context, messageIDs []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(messageIDs))
	for _, id := range messageIDs {
		if m := s.messages[id]; m != nil {
			out[id] = m.Content
		}
	}
	return out, nil
}

func (s *MemoryStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return nil // unknown message: toggle is a no-op, mirrors upstream behavior
	}

	existing := s.reactions[messageID]
	for i, r := range existing {
		if r.UserID == userID && r.Emoji == emoji {
			s.reactions[messageID] = append(existing[:i:i], existing[i+1:]...)
			return nil
		}
	}

	username := ""
	if u := s.users[userID]; u != nil {
		username = u.Username
	}
	s.reactions[messageID] = append(existing, Reaction{
		MessageID: messageID,
		UserID:    userID,
		Username:  username,
		Emoji:     emoji,
	})
	return nil
}

func (s *MemoryStore) Reactions(ctx context.Context, messageID string) ([]Reaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reaction(nil), s.reactions[messageID]...), nil
}

func (s *MemoryStore) UserByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[userID]
	if u == nil {
		return User{}, ErrUserNotFound
	}
	return u.User, nil
}

func (s *MemoryStore) PreferredLanguage(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[userID]
	if u == nil {
		return "", ErrUserNotFound
	}
	return u.Language, nil
}

func (s *MemoryStore) UpdateLastSeen(ctx context.Context, userID string, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[userID]
	if u == nil {
		return ErrUserNotFound
	}
	u.lastSeen = t
	return nil
}

func (s *MemoryStore) UsersByUsernames(ctx context.Context, usernames []string) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	want := lo.SliceToMap(usernames, func(n string) (string, struct{}) { return n, struct{}{} })
	var out []User
	for _, u := range s.users {
		if _, ok := want[u.Username]; ok {
			out = append(out, u.User)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) RelatedUserIDs(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	related := make(map[string]struct{})
	for _, r := range s.rooms {
		if _, ok := r.participants[userID]; !ok {
			continue
		}
		for id := range r.participants {
			if id != userID {
				related[id] = struct{}{}
			}
		}
	}
	out := lo.Keys(related)
	sort.Strings(out)
	return out, nil
}
