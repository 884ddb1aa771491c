package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/auth"
	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/broker"
)

type scriptedAI struct {
	translations map[string]string
	err          error
}

func (s scriptedAI) Analyze(context.Context, string, string) (broker.Analysis, error) {
	return broker.Analysis{}, s.err
}

func (s scriptedAI) Continue(context.Context, string, string, string) (string, error) {
	return "", s.err
}

func (s scriptedAI) Summarize(context.Context, []string, string) (string, error) {
	return "", s.err
}

func (s scriptedAI) TranslateBatch(_ context.Context, messages map[string]string, _ string) (map[string]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]string, len(messages))
	for id := range messages {
		if t, ok := s.translations[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func newTestAPI(t *testing.T, ai broker.AIService) (*apiHandler, *broker.MemoryStore, *auth.JWTVerifier) {
	t.Helper()

	verifier, err := auth.NewJWTVerifier(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatal(err)
	}

	store := broker.NewMemoryStore()
	store.SeedRoom(devLobbyRoom)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newAPIHandler(log, verifier, time.Hour, store, ai, store), store, verifier
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestRegisterThenLogin(t *testing.T) {
	t.Parallel()

	api, store, _ := newTestAPI(t, scriptedAI{})

	rr := doJSON(t, api.handleRegister, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":           "alice",
		"password":           "hunter2hunter2",
		"preferred_language": "en",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("register status=%d body=%s", rr.Code, rr.Body.String())
	}

	var reg authResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &reg); err != nil {
		t.Fatal(err)
	}
	if reg.Token == "" || reg.User.Username != "alice" || reg.User.ID == "" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	// Registration joins the lobby.
	in, err := store.IsParticipant(context.Background(), devLobbyRoom, reg.User.ID)
	if err != nil || !in {
		t.Fatalf("expected lobby membership, in=%v err=%v", in, err)
	}

	rr = doJSON(t, api.handleLogin, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice",
		"password": "hunter2hunter2",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, api.handleLogin, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice",
		"password": "wrong password",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status=%d", rr.Code)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	t.Parallel()

	api, _, _ := newTestAPI(t, scriptedAI{})

	body := map[string]string{"username": "bob", "password": "hunter2hunter2"}
	if rr := doJSON(t, api.handleRegister, http.MethodPost, "/api/auth/register", "", body); rr.Code != http.StatusOK {
		t.Fatalf("first register status=%d", rr.Code)
	}
	if rr := doJSON(t, api.handleRegister, http.MethodPost, "/api/auth/register", "", body); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate register status=%d", rr.Code)
	}
}

func TestTranslateRequiresAuth(t *testing.T) {
	t.Parallel()

	api, _, _ := newTestAPI(t, scriptedAI{})

	rr := doJSON(t, api.handleTranslate, http.MethodPost, "/api/translate", "", map[string]any{
		"message_ids": []string{"m1"},
		"target_lang": "hi",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", rr.Code)
	}
}

func seedTranslatable(t *testing.T, store *broker.MemoryStore) (string, string) {
	t.Helper()

	if err := store.SeedUser(broker.User{ID: "u1", Username: "carol", Language: "hi"}, ""); err != nil {
		t.Fatal(err)
	}
	store.SeedRoom("r1", "u1")
	msg, err := store.CreateMessage(context.Background(), broker.CreateMessageInput{
		RoomID:   "r1",
		SenderID: "u1",
		Content:  "hello there",
	})
	if err != nil {
		t.Fatal(err)
	}
	return "u1", msg.ID
}

func TestTranslateBatch(t *testing.T) {
	t.Parallel()

	api, store, verifier := newTestAPI(t, scriptedAI{translations: map[string]string{}})
	userID, msgID := seedTranslatable(t, store)
	api.ai = scriptedAI{translations: map[string]string{msgID: "नमस्ते"}}

	token, err := verifier.Issue(auth.Identity{UserID: userID, Username: "carol", Language: "hi"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	rr := doJSON(t, api.handleTranslate, http.MethodPost, "/api/translate", token, map[string]any{
		"message_ids": []string{msgID},
		"target_lang": "hi",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	var out map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out[msgID] != "नमस्ते" {
		t.Fatalf("translation=%q", out[msgID])
	}
}

func TestTranslateEnglishShortCircuits(t *testing.T) {
	t.Parallel()

	// An AI failure here proves the provider is never called for "en".
	api, store, verifier := newTestAPI(t, scriptedAI{err: broker.ErrKeysExhausted})
	userID, msgID := seedTranslatable(t, store)

	token, err := verifier.Issue(auth.Identity{UserID: userID, Username: "carol"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	rr := doJSON(t, api.handleTranslate, http.MethodPost, "/api/translate", token, map[string]any{
		"message_ids": []string{msgID},
		"target_lang": "en",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "hello there") {
		t.Fatalf("expected stored content, got %s", rr.Body.String())
	}
}

func TestTranslateFallsBackOnProviderFailure(t *testing.T) {
	t.Parallel()

	api, store, verifier := newTestAPI(t, scriptedAI{err: broker.ErrKeysExhausted})
	userID, msgID := seedTranslatable(t, store)

	token, err := verifier.Issue(auth.Identity{UserID: userID, Username: "carol", Language: "hi"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	rr := doJSON(t, api.handleTranslate, http.MethodPost, "/api/translate", token, map[string]any{
		"message_ids": []string{msgID},
		"target_lang": "hi",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}

	var out map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out[msgID] != "hello there" {
		t.Fatalf("fallback content=%q", out[msgID])
	}
}

func TestTranslateRejectsEmptyBatch(t *testing.T) {
	t.Parallel()

	api, _, verifier := newTestAPI(t, scriptedAI{})
	token, err := verifier.Issue(auth.Identity{UserID: "u9", Username: "dave"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	rr := doJSON(t, api.handleTranslate, http.MethodPost, "/api/translate", token, map[string]any{
		"message_ids": []string{},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
}
