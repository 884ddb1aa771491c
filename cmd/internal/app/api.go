package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/identity/ids"
	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/auth"
	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/broker"
)

const (
	maxAPIBodyBytes = 64 << 10

	// devLobbyRoom is the room every dev-registered user joins so a fresh
	// local deployment has somewhere to chat immediately.
	devLobbyRoom = "lobby"
)

// apiHandler serves the small REST surface next to the websocket channels:
// batch translation for everyone, plus a login/register seam that only works
// against the in-memory store.
type apiHandler struct {
	log      Logger
	verifier *auth.JWTVerifier
	tokenTTL time.Duration
	store    broker.ChatStore
	ai       broker.AIService

	// dev is non-nil only when dev login is enabled (in-memory mode).
	dev *broker.MemoryStore

	validate *validator.Validate
}

func newAPIHandler(log Logger, verifier *auth.JWTVerifier, tokenTTL time.Duration, store broker.ChatStore, ai broker.AIService, dev *broker.MemoryStore) *apiHandler {
	return &apiHandler{
		log:      log,
		verifier: verifier,
		tokenTTL: tokenTTL,
		store:    store,
		ai:       ai,
		dev:      dev,
		validate: validator.New(),
	}
}

func (h *apiHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/translate", h.handleTranslate)
	if h.dev != nil {
		mux.HandleFunc("POST /api/auth/login", h.handleLogin)
		mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=2,max=64"`
	Password string `json:"password" validate:"required,min=8"`
	Language string `json:"preferred_language" validate:"omitempty,max=8"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Language string `json:"preferred_language,omitempty"`
}

func (h *apiHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	user, err := h.dev.VerifyCredentials(req.Username, req.Password)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.issueToken(w, user)
}

func (h *apiHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	existing, err := h.dev.UsersByUsernames(r.Context(), []string{req.Username})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	if len(existing) > 0 {
		writeJSONError(w, http.StatusConflict, "username taken")
		return
	}

	user := broker.User{
		ID:       ids.MustULID(time.Now()),
		Username: req.Username,
		Language: req.Language,
	}
	if err := h.dev.SeedUser(user, req.Password); err != nil {
		h.log.Error("api.register.fail", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	h.dev.JoinRoom(devLobbyRoom, user.ID)

	h.log.Info("api.register", "user_id", user.ID, "username", user.Username)
	h.issueToken(w, user)
}

func (h *apiHandler) issueToken(w http.ResponseWriter, user broker.User) {
	token, err := h.verifier.Issue(auth.Identity{
		UserID:   user.ID,
		Username: user.Username,
		Language: user.Language,
	}, h.tokenTTL)
	if err != nil {
		h.log.Error("api.token.issue.fail", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "token issue failed")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Token: token,
		User:  userView{ID: user.ID, Username: user.Username, Language: user.Language},
	})
}

type translateRequest struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,max=100,dive,required"`
	TargetLang string   `json:"target_lang" validate:"omitempty,max=8"`
}

// handleTranslate returns {message id: text} for the requested messages,
// translated to the target language. English targets short-circuit to the
// stored content; a failed translation call also falls back to the stored
// content rather than erroring the whole batch.
func (h *apiHandler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req translateRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	target := strings.TrimSpace(req.TargetLang)
	if target == "" {
		target = identity.Language
	}

	contents, err := h.store.MessageContents(r.Context(), req.MessageIDs)
	if err != nil {
		h.log.Error("api.translate.fetch.fail", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	if target == "" || target == "en" {
		writeJSON(w, http.StatusOK, contents)
		return
	}

	translated, err := h.ai.TranslateBatch(r.Context(), contents, target)
	if err != nil {
		h.log.Warn("api.translate.ai.fail", "target_lang", target, "err", err)
		writeJSON(w, http.StatusOK, contents)
		return
	}

	// Untranslated ids keep their stored content.
	out := make(map[string]string, len(contents))
	for id, text := range contents {
		if t, ok := translated[id]; ok && strings.TrimSpace(t) != "" {
			out[id] = t
			continue
		}
		out[id] = text
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *apiHandler) authenticate(r *http.Request) (auth.Identity, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return auth.Identity{}, auth.ErrAnonymous
	}
	return h.verifier.Verify(r.Context(), strings.TrimSpace(header[len(prefix):]))
}

// readJSON decodes and validates the request body, writing the error response
// itself on failure.
func (h *apiHandler) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			writeJSONError(w, http.StatusBadRequest, "invalid request: "+verr[0].Field())
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
