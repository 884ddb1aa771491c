package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/auth"
	v1 "github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/shared/contracts/chat/v1"
)

type roomFixture struct {
	store    *MemoryStore
	groups   *GroupBroker
	delivery *LocalDeliveryTracker
	presence *LocalPresence
	ai       *fakeAI
	orch     *AIOrchestrator

	session *roomSession

	// aliceRoom is alice's own room-channel connection; aliceUser and
	// bobUser are the global-channel connections.
	aliceRoom *Client
	bobRoom   *Client
	aliceUser *Client
	bobUser   *Client
}

// newRoomFixture wires a session for alice in room r1 shared with bob.
// The orchestrator has no running workers so scheduled tasks stay queued.
func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()

	f := &roomFixture{
		store:    seedRoomStore(t),
		groups:   NewGroupBroker(discardLogger(), nil),
		delivery: NewLocalDeliveryTracker(),
		presence: NewLocalPresence(),
		ai:       &fakeAI{},
	}
	f.orch = NewAIOrchestrator(discardLogger(), f.ai, f.store, noopLimiter{}, f.groups, 1, 8)

	f.aliceRoom = NewClient("room-a", "alice", "alice", 16)
	f.bobRoom = NewClient("room-b", "bob", "bob", 16)
	f.aliceUser = NewClient("user-a", "alice", "alice", 16)
	f.bobUser = NewClient("user-b", "bob", "bob", 16)

	f.groups.Join(RoomGroup("r1"), f.aliceRoom)
	f.groups.Join(RoomGroup("r1"), f.bobRoom)
	f.groups.Join(UserGroup("alice"), f.aliceUser)
	f.groups.Join(UserGroup("bob"), f.bobUser)

	f.session = &roomSession{
		log: discardLogger(),
		deps: GatewayDeps{
			Store:        f.store,
			Groups:       f.groups,
			Delivery:     f.delivery,
			Presence:     f.presence,
			AI:           f.ai,
			Orchestrator: f.orch,
		},
		roomID: "r1",
		user:   auth.Identity{UserID: "alice", Username: "alice", Language: "en"},
		client: f.aliceRoom,
		now:    func() time.Time { return time.Now().UTC() },
	}
	return f
}

func TestSessionChatMessageFanout(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)
	f.presence.Connect("bob")

	f.session.dispatch(context.Background(), &v1.ChatMessage{Message: "hi @bob", TempID: "tmp-1"})

	// Room channel: both members get exactly one chat_message.
	require.Equal(t, []string{"chat_message"}, frameTypes(t, f.bobRoom))

	aliceRoomFrames := drainFrames(t, f.aliceRoom)
	require.Len(t, aliceRoomFrames, 1)
	require.Equal(t, "chat_message", aliceRoomFrames[0]["type"])
	require.Equal(t, "tmp-1", aliceRoomFrames[0]["temp_id"])

	// Bob's global channel: notification plus mention.
	bobTypes := frameTypes(t, f.bobUser)
	require.Equal(t, []string{"new_message_notification", "mention_notification"}, bobTypes)

	// Bob is online, so alice is receipted immediately.
	aliceTypes := frameTypes(t, f.aliceUser)
	require.Equal(t, []string{"delivered_receipt"}, aliceTypes)

	// One analysis task targeting bob.
	require.Len(t, f.orch.tasks, 1)
	task := <-f.orch.tasks
	require.Equal(t, "bob", task.TargetUserID)
	require.Equal(t, "alice", task.SenderID)
	require.Equal(t, "hi @bob", task.Content)
}

func TestSessionChatMessageOfflineRecipient(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)

	f.session.dispatch(context.Background(), &v1.ChatMessage{Message: "anyone there?"})

	require.Empty(t, frameTypes(t, f.aliceUser), "no receipt while bob is offline")

	// Bob's backlog holds the undelivered record until his next connect.
	pending := f.delivery.Pending("bob")
	require.Len(t, pending, 1)
	require.Equal(t, "alice", pending[0].SenderID)
}

func TestSessionEmptyMessageRejectedBeforePersist(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)

	f.session.dispatch(context.Background(), &v1.ChatMessage{Message: "   "})

	frames := drainFrames(t, f.aliceRoom)
	require.Len(t, frames, 1)
	require.Equal(t, "error", frames[0]["type"])
	require.Equal(t, "send_failed", frames[0]["code"])

	require.Empty(t, drainFrames(t, f.bobRoom), "nothing is broadcast")
	require.Empty(t, drainFrames(t, f.bobUser))

	recent, err := f.store.RecentMessages(context.Background(), "r1", 10)
	require.NoError(t, err)
	require.Empty(t, recent, "nothing is persisted")
}

func TestSessionStickerWithoutTextIsValid(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)

	f.session.dispatch(context.Background(), &v1.ChatMessage{MessageType: "sticker", StickerID: "st-42"})

	frames := drainFrames(t, f.bobRoom)
	require.Len(t, frames, 1)
	require.Equal(t, "chat_message", frames[0]["type"])
}

func TestSessionMentionOutsideRoomIgnored(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)
	require.NoError(t, f.store.SeedUser(User{ID: "carol", Username: "carol"}, "password-c"))

	carolUser := NewClient("user-c", "carol", "carol", 16)
	f.groups.Join(UserGroup("carol"), carolUser)

	f.session.dispatch(context.Background(), &v1.ChatMessage{Message: "hey @carol"})

	require.Empty(t, frameTypes(t, carolUser), "non-participants are never mentioned")
}

func TestSessionSelfMentionIgnored(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)

	f.session.dispatch(context.Background(), &v1.ChatMessage{Message: "note to @alice"})

	types := frameTypes(t, f.aliceUser)
	require.NotContains(t, types, "mention_notification")
}

func TestSessionReadReceipt(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)
	now := time.Now().UTC()
	f.delivery.CreateRecords("m1", "bob", []string{"alice", "bob"}, now)

	f.session.dispatch(context.Background(), &v1.ReadReceipt{MessageID: "m1"})

	frames := drainFrames(t, f.bobRoom)
	require.Len(t, frames, 1)
	require.Equal(t, "read_receipt", frames[0]["type"])
	require.Equal(t, "alice", frames[0]["reader"])

	require.False(t, f.delivery.MarkRead("m1", "alice", now), "record is already read")
}

func TestSessionTypingIndicator(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)

	f.session.dispatch(context.Background(), &v1.Typing{IsTyping: true})

	frames := drainFrames(t, f.bobRoom)
	require.Len(t, frames, 1)
	require.Equal(t, "typing_indicator", frames[0]["type"])
	require.Equal(t, true, frames[0]["is_typing"])
	require.Equal(t, "alice", frames[0]["user"])
}

func TestSessionGhostSuggestionTooShort(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)
	f.ai.continuation = "should never be asked"

	f.session.dispatch(context.Background(), &v1.TypingSuggestion{Partial: "hi"})

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, drainFrames(t, f.aliceRoom), "partials under three characters are ignored")
}

func TestSessionGhostSuggestion(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)
	f.ai.continuation = "about the weekend plan?"

	f.session.dispatch(context.Background(), &v1.TypingSuggestion{Partial: "what do you think"})

	require.Eventually(t, func() bool {
		frames := drainFrames(t, f.aliceRoom)
		for _, fr := range frames {
			if fr["type"] == "ghost_suggestion" && fr["continuation"] == "about the weekend plan?" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, drainFrames(t, f.bobRoom), "ghost suggestions go to the requester only")
}

func TestSessionSummaryFallbackOnEmptyRoom(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)

	f.session.dispatch(context.Background(), &v1.RequestSummary{})

	require.Eventually(t, func() bool {
		frames := drainFrames(t, f.aliceRoom)
		for _, fr := range frames {
			if fr["type"] == "chat_summary" && fr["summary"] == "Not enough messages to summarize." {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSessionSummaryOnUserChannel(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)
	f.ai.summary = "Alice and Bob planned a trip."

	_, err := f.store.CreateMessage(context.Background(), CreateMessageInput{
		RoomID: "r1", SenderID: "alice", Content: "let's plan the trip",
		MessageType: "text", Now: time.Now().UTC(),
	})
	require.NoError(t, err)

	f.session.dispatch(context.Background(), &v1.RequestSummary{})

	require.Eventually(t, func() bool {
		frames := drainFrames(t, f.aliceUser)
		for _, fr := range frames {
			if fr["type"] == "chat_summary" && fr["summary"] == "Alice and Bob planned a trip." {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSessionReactionToggle(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)
	ctx := context.Background()

	msg, err := f.store.CreateMessage(ctx, CreateMessageInput{
		RoomID: "r1", SenderID: "bob", Content: "good news!",
		MessageType: "text", Now: time.Now().UTC(),
	})
	require.NoError(t, err)

	f.session.dispatch(ctx, &v1.AddReaction{MessageID: msg.ID, Emoji: "🔥"})

	frames := drainFrames(t, f.bobRoom)
	require.Len(t, frames, 1)
	require.Equal(t, "reaction_update", frames[0]["type"])
	require.Len(t, frames[0]["reactions"], 1)

	// Same (user, emoji) again removes it; the list is empty, never null.
	f.session.dispatch(ctx, &v1.AddReaction{MessageID: msg.ID, Emoji: "🔥"})

	frames = drainFrames(t, f.bobRoom)
	require.Len(t, frames, 1)
	reactions, ok := frames[0]["reactions"].([]any)
	require.True(t, ok, "reactions must be a JSON array, not null")
	require.Empty(t, reactions)
}

func TestSessionUnknownFrameIgnored(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)

	frame, err := v1.DecodeInbound([]byte(`{"type":"jazz_hands"}`))
	require.NoError(t, err)

	f.session.dispatch(context.Background(), frame)

	require.Empty(t, drainFrames(t, f.aliceRoom))
	require.Empty(t, drainFrames(t, f.bobRoom))
}

func TestSessionEditAndDeleteFanOutOnly(t *testing.T) {
	t.Parallel()

	f := newRoomFixture(t)
	ctx := context.Background()

	f.session.dispatch(ctx, &v1.EditMessage{MessageID: "m1", NewContent: "fixed typo"})
	f.session.dispatch(ctx, &v1.DeleteMessage{MessageID: "m1"})

	frames := drainFrames(t, f.bobRoom)
	require.Len(t, frames, 2)
	require.Equal(t, "message_edited", frames[0]["type"])
	require.Equal(t, true, frames[0]["edited"])
	require.Equal(t, "message_deleted", frames[1]["type"])
}
