package broker

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"

	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/identity/ids"
	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/auth"
	v1 "github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/shared/contracts/chat/v1"
)

const (
	ghostMinPartialChars = 3
	ghostContextWindow   = 5
	summaryContextWindow = 40
	emptySummaryFallback = "Not enough messages to summarize."
	defaultMessageType   = "text"
)

// RoomGateway is the websocket entrypoint for a single room channel.
//
// Each accepted connection becomes a session actor: a read loop dispatching
// typed frames, a writer draining the bounded send queue and a heartbeat.
// Authentication and room membership are enforced before the upgrade.
type RoomGateway struct {
	log  *slog.Logger
	deps GatewayDeps
	cfg  GatewayConfig

	originPatterns []string
}

// NewRoomGateway constructs the room channel gateway.
func NewRoomGateway(log *slog.Logger, deps GatewayDeps, cfg GatewayConfig) *RoomGateway {
	cfg.normalize()
	return &RoomGateway{
		log:            log,
		deps:           deps,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

func (g *RoomGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the room session loop until the
// peer disconnects or the connection fails.
func (g *RoomGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := enforceOrigin(g.cfg, r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	identity, err := g.deps.Verifier.Verify(r.Context(), credentialFrom(r))
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	roomID := strings.TrimSpace(r.PathValue("room_id"))
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	if err := g.authorizeRoom(r.Context(), roomID, identity.UserID); err != nil {
		g.log.Info("ws.reject.room", "err", err, "room_id", roomID, "user_id", identity.UserID)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(wsMaxFrameBytes)

	client := NewClient(ids.MustULID(time.Now().UTC()), identity.UserID, identity.Username, g.cfg.SendQueueSize)

	g.deps.Metrics.OpenConnections.Inc()
	defer g.deps.Metrics.OpenConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.deps.Groups.LeaveAll(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.deps.Groups.Join(RoomGroup(roomID), client)
	g.log.Info("ws.room.joined", "room_id", roomID, "user_id", identity.UserID, "conn_id", client.ConnID)

	writerDone := runWriter(ctx, g.log, conn, client, g.cfg.WriteTimeout, shutdown)
	heartbeatDone := runHeartbeat(ctx, g.log, conn, client, g.cfg, shutdown)

	session := &roomSession{
		log:    g.log,
		deps:   g.deps,
		roomID: roomID,
		user:   identity,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		mt, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", client.ConnID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}

		frame, err := v1.DecodeInbound(data)
		if err != nil {
			sendDirect(ctx, g.log, client, v1.NewErrorEvent("bad_frame", err.Error()))
			continue
		}

		session.dispatch(ctx, frame)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.room.left", "room_id", roomID, "user_id", identity.UserID, "conn_id", client.ConnID)
}

func (g *RoomGateway) authorizeRoom(ctx context.Context, roomID, userID string) error {
	exists, err := g.deps.Store.RoomExists(ctx, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRoomNotFound
	}

	ok, err := g.deps.Store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// roomSession is the per-connection actor state for one room channel.
// Handlers are methods so they can be exercised without a live websocket.
type roomSession struct {
	log    *slog.Logger
	deps   GatewayDeps
	roomID string
	user   auth.Identity
	client *Client
	now    func() time.Time
}

// dispatch routes one decoded frame. A handler failure never tears the
// connection down; the frame is dropped or answered with an error event.
func (s *roomSession) dispatch(ctx context.Context, frame v1.Inbound) {
	switch f := frame.(type) {
	case *v1.ChatMessage:
		s.countFrame(v1.TypeChatMessage)
		s.handleChatMessage(ctx, f)
	case *v1.ReadReceipt:
		s.countFrame(v1.TypeReadReceipt)
		s.handleReadReceipt(ctx, f)
	case *v1.Typing:
		s.countFrame(v1.TypeTyping)
		s.handleTyping(f)
	case *v1.TypingSuggestion:
		s.countFrame(v1.TypeTypingSuggestion)
		s.handleTypingSuggestion(ctx, f)
	case *v1.RequestSummary:
		s.countFrame(v1.TypeRequestSummary)
		s.handleRequestSummary(ctx)
	case *v1.EditMessage:
		s.countFrame(v1.TypeEditMessage)
		s.deps.Groups.Send(RoomGroup(s.roomID), v1.NewMessageEditedEvent(f.MessageID, f.NewContent))
	case *v1.DeleteMessage:
		s.countFrame(v1.TypeDeleteMessage)
		s.deps.Groups.Send(RoomGroup(s.roomID), v1.NewMessageDeletedEvent(f.MessageID))
	case *v1.AddReaction:
		s.countFrame(v1.TypeAddReaction)
		s.handleAddReaction(ctx, f)
	case v1.Unknown:
		s.log.Warn("ws.frame.unknown", "type", f.Type, "user_id", s.user.UserID)
	default:
		s.log.Warn("ws.frame.unhandled", "user_id", s.user.UserID)
	}
}

func (s *roomSession) countFrame(typ string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.FramesInbound.WithLabelValues(typ).Inc()
	}
}

// handleChatMessage persists the message, fans it out to the room and the
// participants' user channels, and queues mention and AI follow-ups.
// Persistence failures are reported to the sender, never dropped silently.
func (s *roomSession) handleChatMessage(ctx context.Context, f *v1.ChatMessage) {
	messageType := f.MessageType
	if messageType == "" {
		messageType = defaultMessageType
	}

	now := s.now()
	msg, err := s.deps.Store.CreateMessage(ctx, CreateMessageInput{
		RoomID:      s.roomID,
		SenderID:    s.user.UserID,
		Content:     f.Message,
		MessageType: messageType,
		ReplyToID:   f.ReplyToID,
		Duration:    f.Duration,
		StickerID:   f.StickerID,
		GifURL:      f.GifURL,
		Now:         now,
	})
	if err != nil {
		s.log.Warn("ws.chat_message.fail", "room_id", s.roomID, "user_id", s.user.UserID, "err", err)
		sendDirect(ctx, s.log, s.client, v1.NewErrorEvent("send_failed", err.Error()))
		return
	}

	participants, err := s.deps.Store.ParticipantIDs(ctx, s.roomID)
	if err != nil {
		s.log.Error("ws.participants.fail", "room_id", s.roomID, "err", err)
		sendDirect(ctx, s.log, s.client, v1.NewErrorEvent("send_failed", "message stored but fanout failed"))
		return
	}

	s.deps.Delivery.CreateRecords(msg.ID, s.user.UserID, participants, now)

	wire := wireMessage(msg)
	s.deps.Groups.Send(RoomGroup(s.roomID), v1.NewChatMessageEvent(wire, f.TempID))

	others := make([]string, 0, len(participants))
	for _, uid := range participants {
		if uid == s.user.UserID {
			continue
		}
		others = append(others, uid)
		s.deps.Groups.Send(UserGroup(uid), v1.NewMessageNotificationEventOf(wire, s.roomID, s.user.UserID))
		s.markDeliveredIfOnline(ctx, msg.ID, uid, now)
	}

	if len(others) > 0 && s.deps.Orchestrator != nil {
		s.deps.Orchestrator.Schedule(AITask{
			RoomID:       s.roomID,
			MessageID:    msg.ID,
			Content:      msg.Content,
			SenderID:     s.user.UserID,
			TargetUserID: others[0],
			TargetLang:   f.TargetLang,
		})
	}

	s.notifyMentions(ctx, f.Message, msg.ID, participants)
}

// markDeliveredIfOnline marks delivery for recipients with a live global
// connection and receipts the sender. Offline recipients flush on their next
// connect instead.
func (s *roomSession) markDeliveredIfOnline(ctx context.Context, messageID, recipientID string, now time.Time) {
	if !s.deps.Presence.IsOnline(recipientID) {
		return
	}
	if !s.deps.Delivery.MarkDelivered(messageID, recipientID, now) {
		return
	}

	recipient, err := s.deps.Store.UserByID(ctx, recipientID)
	if err != nil {
		s.log.Warn("ws.delivered.lookup_fail", "user_id", recipientID, "err", err)
		return
	}
	s.deps.Groups.Send(UserGroup(s.user.UserID), v1.NewDeliveredReceiptEvent(messageID, recipient.Username))
}

func (s *roomSession) notifyMentions(ctx context.Context, content, messageID string, participants []string) {
	mentioned := ExtractMentions(content)
	if len(mentioned) == 0 {
		return
	}

	users, err := s.deps.Store.UsersByUsernames(ctx, mentioned)
	if err != nil {
		s.log.Warn("ws.mentions.fail", "room_id", s.roomID, "err", err)
		return
	}

	inRoom := make(map[string]struct{}, len(participants))
	for _, uid := range participants {
		inRoom[uid] = struct{}{}
	}

	for _, u := range users {
		if u.ID == s.user.UserID {
			continue
		}
		if _, ok := inRoom[u.ID]; !ok {
			continue
		}
		s.deps.Groups.Send(UserGroup(u.ID), v1.NewMentionNotificationEvent(s.roomID, messageID, s.user.Username))
	}
}

func (s *roomSession) handleReadReceipt(ctx context.Context, f *v1.ReadReceipt) {
	s.deps.Delivery.MarkRead(f.MessageID, s.user.UserID, s.now())
	s.deps.Groups.Send(RoomGroup(s.roomID), v1.NewReadReceiptEvent(f.MessageID, s.user.Username))
}

func (s *roomSession) handleTyping(f *v1.Typing) {
	s.deps.Groups.Send(RoomGroup(s.roomID), v1.NewTypingIndicatorEvent(s.user.Username, s.roomID, f.IsTyping))
}

// handleTypingSuggestion asks the AI for a ghost continuation and answers
// the requester only. AI failures degrade to no suggestion.
func (s *roomSession) handleTypingSuggestion(ctx context.Context, f *v1.TypingSuggestion) {
	if utf8.RuneCountInString(f.Partial) < ghostMinPartialChars {
		return
	}

	go func() {
		recent, err := s.deps.Store.RecentMessages(ctx, s.roomID, ghostContextWindow)
		if err != nil {
			s.log.Warn("ws.ghost.context_fail", "room_id", s.roomID, "err", err)
			return
		}

		continuation, err := s.deps.AI.Continue(ctx, f.Partial, strings.Join(recent, "\n"), s.resolveLang(ctx, f.TargetLang))
		if err != nil {
			s.log.Warn("ws.ghost.fail", "room_id", s.roomID, "err", err)
			return
		}
		if continuation == "" {
			return
		}
		sendDirect(ctx, s.log, s.client, v1.NewGhostSuggestionEvent(continuation))
	}()
}

// handleRequestSummary summarizes recent room history onto the requester's
// user channel. Too little history answers with a fixed fallback.
func (s *roomSession) handleRequestSummary(ctx context.Context) {
	go func() {
		recent, err := s.deps.Store.RecentMessages(ctx, s.roomID, summaryContextWindow)
		if err != nil {
			s.log.Warn("ws.summary.context_fail", "room_id", s.roomID, "err", err)
			return
		}
		if len(recent) == 0 {
			sendDirect(ctx, s.log, s.client, v1.NewChatSummaryEvent(s.roomID, emptySummaryFallback))
			return
		}

		summary, err := s.deps.AI.Summarize(ctx, recent, s.resolveLang(ctx, ""))
		if err != nil {
			s.log.Warn("ws.summary.fail", "room_id", s.roomID, "err", err)
			return
		}
		s.deps.Groups.Send(UserGroup(s.user.UserID), v1.NewChatSummaryEvent(s.roomID, summary))
	}()
}

func (s *roomSession) handleAddReaction(ctx context.Context, f *v1.AddReaction) {
	if err := s.deps.Store.ToggleReaction(ctx, f.MessageID, s.user.UserID, f.Emoji); err != nil {
		s.log.Warn("ws.reaction.fail", "message_id", f.MessageID, "err", err)
		return
	}

	reactions, err := s.deps.Store.Reactions(ctx, f.MessageID)
	if err != nil {
		s.log.Warn("ws.reaction.list_fail", "message_id", f.MessageID, "err", err)
		return
	}
	s.deps.Groups.Send(RoomGroup(s.roomID), v1.NewReactionUpdateEvent(f.MessageID, wireReactions(reactions)))
}

// resolveLang prefers the explicit frame override, then the requester's
// stored preference, then English.
func (s *roomSession) resolveLang(ctx context.Context, override string) string {
	if override != "" {
		return override
	}
	if lang, err := s.deps.Store.PreferredLanguage(ctx, s.user.UserID); err == nil && lang != "" {
		return lang
	}
	return "en"
}
