package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreateMessageValidation(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name    string
		in      CreateMessageInput
		wantErr error
	}{
		{
			name:    "unknown room",
			in:      CreateMessageInput{RoomID: "nope", SenderID: "alice", Content: "hi", Now: now},
			wantErr: ErrRoomNotFound,
		},
		{
			name:    "outsider sender",
			in:      CreateMessageInput{RoomID: "r1", SenderID: "mallory", Content: "hi", Now: now},
			wantErr: ErrNotParticipant,
		},
		{
			name:    "no content at all",
			in:      CreateMessageInput{RoomID: "r1", SenderID: "alice", Content: "  ", Now: now},
			wantErr: ErrEmptyMessage,
		},
		{
			name: "gif only",
			in:   CreateMessageInput{RoomID: "r1", SenderID: "alice", GifURL: "https://gif.example/x.gif", Now: now},
		},
		{
			name: "text",
			in:   CreateMessageInput{RoomID: "r1", SenderID: "alice", Content: "hello", Now: now},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			msg, err := store.CreateMessage(ctx, tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, msg.ID)
			require.Equal(t, "alice", msg.SenderName)
		})
	}
}

func TestMemoryStoreRecentMessagesOrderAndLimit(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, content := range []string{"one", "two", "three"} {
		_, err := store.CreateMessage(ctx, CreateMessageInput{
			RoomID: "r1", SenderID: "alice", Content: content,
			Now: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	// A sticker-only message has no text and never enters AI context.
	_, err := store.CreateMessage(ctx, CreateMessageInput{
		RoomID: "r1", SenderID: "bob", StickerID: "st-1",
		Now: base.Add(3 * time.Second),
	})
	require.NoError(t, err)

	recent, err := store.RecentMessages(ctx, "r1", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"two", "three"}, recent, "chronological, newest last, text only")

	all, err := store.RecentMessages(ctx, "r1", 50)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "three"}, all)
}

func TestMemoryStoreToggleReaction(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)
	ctx := context.Background()

	msg, err := store.CreateMessage(ctx, CreateMessageInput{
		RoomID: "r1", SenderID: "alice", Content: "cheers", Now: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, store.ToggleReaction(ctx, msg.ID, "bob", "🎉"))
	reactions, err := store.Reactions(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	require.Equal(t, "bob", reactions[0].Username)

	// Same pair toggles off; a different emoji coexists.
	require.NoError(t, store.ToggleReaction(ctx, msg.ID, "bob", "🎉"))
	require.NoError(t, store.ToggleReaction(ctx, msg.ID, "alice", "👍"))
	reactions, err = store.Reactions(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	require.Equal(t, "👍", reactions[0].Emoji)

	require.NoError(t, store.ToggleReaction(ctx, "missing", "bob", "🎉"), "unknown message is a no-op")
}

func TestMemoryStoreUserLookups(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)
	ctx := context.Background()

	u, err := store.UserByID(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", u.Username)
	require.Equal(t, "hi", u.Language)

	_, err = store.UserByID(ctx, "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)

	users, err := store.UsersByUsernames(ctx, []string{"alice", "ghost", "bob"})
	require.NoError(t, err)
	require.Len(t, users, 2)

	related, err := store.RelatedUserIDs(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, related)
}

func TestMemoryStoreVerifyCredentials(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)

	u, err := store.VerifyCredentials("alice", "password-a")
	require.NoError(t, err)
	require.Equal(t, "alice", u.ID)

	_, err = store.VerifyCredentials("alice", "wrong-password")
	require.Error(t, err)

	_, err = store.VerifyCredentials("ghost", "password-a")
	require.Error(t, err)
}

func TestMemoryStoreMessageContents(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)
	ctx := context.Background()

	msg, err := store.CreateMessage(ctx, CreateMessageInput{
		RoomID: "r1", SenderID: "alice", Content: "translate me", Now: time.Now().UTC(),
	})
	require.NoError(t, err)

	contents, err := store.MessageContents(ctx, []string{msg.ID, "missing"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{msg.ID: "translate me"}, contents)
}
