package broker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/identity/ids"
)

// PostgresStore is a ChatStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "aurachat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("broker: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("broker: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed ChatStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "aurachat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("broker: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	rooms := pgIdent(s.schema, "rooms")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+rooms+` WHERE id = $1`, roomID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	participants := pgIdent(s.schema, "room_participants")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+participants+` WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) ParticipantIDs(ctx context.Context, roomID string) ([]string, error) {
	participants := pgIdent(s.schema, "room_participants")

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+participants+` WHERE room_id = $1 ORDER BY user_id`,
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		// Distinguish "empty room" from "no such room".
		exists, err := s.RoomExists(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrRoomNotFound
		}
	}
	return out, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" && in.FileURL == "" && in.StickerID == "" && in.GifURL == "" {
		return Message{}, ErrEmptyMessage
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	msgType := in.MessageType
	if msgType == "" {
		msgType = "text"
	}

	exists, err := s.RoomExists(ctx, in.RoomID)
	if err != nil {
		return Message{}, err
	}
	if !exists {
		return Message{}, ErrRoomNotFound
	}
	ok, err := s.IsParticipant(ctx, in.RoomID, in.SenderID)
	if err != nil {
		return Message{}, err
	}
	if !ok {
		return Message{}, ErrNotParticipant
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, fmt.Errorf("message id: %w", err)
	}

	messages := pgIdent(s.schema, "messages")
	users := pgIdent(s.schema, "users")

	var senderName string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+messages+`
		   (id, room_id, sender_id, content, message_type, reply_to_id, duration, sticker_id, gif_url, file_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, 0), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)
		 RETURNING (SELECT username FROM `+users+` WHERE id = $3)`,
		id, in.RoomID, in.SenderID, content, msgType,
		in.ReplyToID, in.Duration, in.StickerID, in.GifURL, in.FileURL, now,
	).Scan(&senderName)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return Message{
		ID:          id,
		RoomID:      in.RoomID,
		SenderID:    in.SenderID,
		SenderName:  senderName,
		Content:     content,
		MessageType: msgType,
		ReplyToID:   in.ReplyToID,
		Duration:    in.Duration,
		StickerID:   in.StickerID,
		GifURL:      in.GifURL,
		FileURL:     in.FileURL,
		CreatedAt:   now,
	}, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT content FROM (
		   SELECT content, created_at, id FROM `+messages+`
		   WHERE room_id = $1 AND NOT deleted AND content <> ''
		   ORDER BY created_at DESC, id DESC
		   LIMIT $2
		 ) recent ORDER BY created_at ASC, id ASC`,
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MessageContents(ctx context.Context, messageIDs []string) (map[string]string, error) {
	if len(messageIDs) == 0 {
		return map[string]string{}, nil
	}
	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, content FROM `+messages+` WHERE id = ANY($1) AND NOT deleted`,
		messageIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(messageIDs))
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		out[id] = content
	}
	return out, rows.Err()
}

func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) error {
	reactions := pgIdent(s.schema, "message_reactions")

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+reactions+` WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+reactions+` (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
		messageID, userID, emoji,
	)
	return err
}

func (s *PostgresStore) Reactions(ctx context.Context, messageID string) ([]Reaction, error) {
	reactions := pgIdent(s.schema, "message_reactions")
	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT r.message_id, r.user_id, u.username, r.emoji
		 FROM `+reactions+` r
		 JOIN `+users+` u ON u.id = r.user_id
		 WHERE r.message_id = $1
		 ORDER BY r.created_at ASC`,
		messageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Username, &r.Emoji); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UserByID(ctx context.Context, userID string) (User, error) {
	users := pgIdent(s.schema, "users")

	var u User
	var lang *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, preferred_language FROM `+users+` WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Username, &lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	if lang != nil {
		u.Language = *lang
	}
	return u, nil
}

func (s *PostgresStore) PreferredLanguage(ctx context.Context, userID string) (string, error) {
	users := pgIdent(s.schema, "users")

	var lang *string
	err := s.pool.QueryRow(ctx,
		`SELECT preferred_language FROM `+users+` WHERE id = $1`, userID,
	).Scan(&lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	if lang == nil {
		return "", nil
	}
	return *lang, nil
}

func (s *PostgresStore) UpdateLastSeen(ctx context.Context, userID string, t time.Time) error {
	users := pgIdent(s.schema, "users")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET last_seen = $2 WHERE id = $1`, userID, t,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) UsersByUsernames(ctx context.Context, usernames []string) ([]User, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT id, username, COALESCE(preferred_language, '')
		 FROM `+users+` WHERE username = ANY($1) ORDER BY id`,
		usernames,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Language); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RelatedUserIDs(ctx context.Context, userID string) ([]string, error) {
	participants := pgIdent(s.schema, "room_participants")

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT p2.user_id
		 FROM `+participants+` p1
		 JOIN `+participants+` p2 ON p2.room_id = p1.room_id
		 WHERE p1.user_id = $1 AND p2.user_id <> $1
		 ORDER BY p2.user_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
