package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/shared/contracts/chat/v1"
)

// fakeAI is a scriptable AIService for orchestrator and session tests.
type fakeAI struct {
	analysis     Analysis
	analyzeErr   error
	continuation string
	continueErr  error
	summary      string
	summarizeErr error

	lastLang         string
	lastConversation string
}

func (f *fakeAI) Analyze(_ context.Context, conversation, lang string) (Analysis, error) {
	f.lastConversation = conversation
	f.lastLang = lang
	if f.analyzeErr != nil {
		return Analysis{}, f.analyzeErr
	}
	return f.analysis, nil
}

func (f *fakeAI) Continue(_ context.Context, _, _, lang string) (string, error) {
	f.lastLang = lang
	return f.continuation, f.continueErr
}

func (f *fakeAI) Summarize(_ context.Context, _ []string, lang string) (string, error) {
	f.lastLang = lang
	return f.summary, f.summarizeErr
}

func (f *fakeAI) TranslateBatch(_ context.Context, _ map[string]string, _ string) (map[string]string, error) {
	return nil, errors.New("not scripted")
}

// noopLimiter admits immediately.
type noopLimiter struct{}

func (noopLimiter) Acquire(ctx context.Context) error { return ctx.Err() }

func seedRoomStore(t *testing.T) *MemoryStore {
	t.Helper()

	store := NewMemoryStore()
	require.NoError(t, store.SeedUser(User{ID: "alice", Username: "alice", Language: "en"}, "password-a"))
	require.NoError(t, store.SeedUser(User{ID: "bob", Username: "bob", Language: "hi"}, "password-b"))
	store.SeedRoom("r1", "alice", "bob")
	return store
}

func newTestOrchestrator(store ChatStore, ai AIService, groups *GroupBroker) *AIOrchestrator {
	return NewAIOrchestrator(discardLogger(), ai, store, noopLimiter{}, groups, 1, 8)
}

func TestOrchestratorHappyPath(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)
	groups := NewGroupBroker(discardLogger(), nil)
	ai := &fakeAI{analysis: Analysis{
		Mood:        v1.Mood{Score: 72, Label: "positive"},
		Replies:     []string{"Nice!", "Cool", "Same"},
		Suggestions: []string{"Go for coffee"},
	}}

	aliceConn := NewClient("ca", "alice", "alice", 16)
	bobConn := NewClient("cb", "bob", "bob", 16)
	groups.Join(UserGroup("alice"), aliceConn)
	groups.Join(UserGroup("bob"), bobConn)

	o := newTestOrchestrator(store, ai, groups)
	o.process(context.Background(), AITask{
		RoomID:       "r1",
		MessageID:    "m1",
		Content:      "hey bob",
		SenderID:     "alice",
		TargetUserID: "bob",
	})

	bobTypes := frameTypes(t, bobConn)
	require.Equal(t, []string{"ai_suggestions", "ai_summary"}, bobTypes)

	aliceTypes := frameTypes(t, aliceConn)
	require.Equal(t, []string{"ai_summary"}, aliceTypes)
}

func TestOrchestratorFailureEmitsNothing(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)
	groups := NewGroupBroker(discardLogger(), nil)
	ai := &fakeAI{analyzeErr: errors.New("ai down")}

	bobConn := NewClient("cb", "bob", "bob", 16)
	groups.Join(UserGroup("bob"), bobConn)

	o := newTestOrchestrator(store, ai, groups)
	o.process(context.Background(), AITask{
		RoomID: "r1", MessageID: "m1", Content: "hey",
		SenderID: "alice", TargetUserID: "bob",
	})

	require.Empty(t, drainFrames(t, bobConn), "failed analysis is dropped, not surfaced")
}

func TestOrchestratorLanguagePrecedence(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)
	groups := NewGroupBroker(discardLogger(), nil)

	t.Run("frame override wins", func(t *testing.T) {
		ai := &fakeAI{analysis: Analysis{Mood: v1.Mood{Score: 50, Label: "neutral"}}}
		o := newTestOrchestrator(store, ai, groups)
		o.process(context.Background(), AITask{
			RoomID: "r1", MessageID: "m1", Content: "hola",
			SenderID: "alice", TargetUserID: "bob", TargetLang: "es",
		})
		require.Equal(t, "es", ai.lastLang)
	})

	t.Run("target preference next", func(t *testing.T) {
		ai := &fakeAI{analysis: Analysis{Mood: v1.Mood{Score: 50, Label: "neutral"}}}
		o := newTestOrchestrator(store, ai, groups)
		o.process(context.Background(), AITask{
			RoomID: "r1", MessageID: "m1", Content: "hey",
			SenderID: "alice", TargetUserID: "bob",
		})
		require.Equal(t, "hi", ai.lastLang, "bob's stored preference applies")
	})
}

func TestOrchestratorContextWindow(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)
	groups := NewGroupBroker(discardLogger(), nil)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three", "four"} {
		_, err := store.CreateMessage(ctx, CreateMessageInput{
			RoomID: "r1", SenderID: "alice", Content: content,
			MessageType: "text", Now: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	ai := &fakeAI{analysis: Analysis{Mood: v1.Mood{Score: 50, Label: "neutral"}}}
	o := newTestOrchestrator(store, ai, groups)
	o.process(ctx, AITask{
		RoomID: "r1", MessageID: "m5", Content: "five",
		SenderID: "alice", TargetUserID: "bob",
	})

	// Last three stored plus the new message, trimmed back to three.
	require.Equal(t, "three\nfour\nfive", ai.lastConversation)
}

func TestOrchestratorScheduleDropsWhenFull(t *testing.T) {
	t.Parallel()

	store := seedRoomStore(t)
	groups := NewGroupBroker(discardLogger(), nil)
	o := NewAIOrchestrator(discardLogger(), &fakeAI{}, store, noopLimiter{}, groups, 1, 1)

	// No workers running: the second task finds the queue full and is dropped
	// without blocking.
	o.Schedule(AITask{RoomID: "r1"})
	o.Schedule(AITask{RoomID: "r1"})
}
