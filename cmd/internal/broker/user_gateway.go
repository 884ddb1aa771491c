package broker

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/identity/ids"
	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/auth"
	v1 "github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/shared/contracts/chat/v1"
)

// UserGateway is the websocket entrypoint for the global per-user channel.
//
// The channel is outbound-only: notifications, delivered receipts, presence
// updates and AI results are relayed to every live device of the user.
// Inbound frames other than transport control are ignored.
type UserGateway struct {
	log  *slog.Logger
	deps GatewayDeps
	cfg  GatewayConfig

	originPatterns []string
}

// NewUserGateway constructs the global channel gateway.
func NewUserGateway(log *slog.Logger, deps GatewayDeps, cfg GatewayConfig) *UserGateway {
	cfg.normalize()
	return &UserGateway{
		log:            log,
		deps:           deps,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

func (g *UserGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the global session until the peer
// disconnects. Anonymous connections are rejected before the upgrade.
func (g *UserGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
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

	session := &userSession{
		log:    g.log,
		deps:   g.deps,
		user:   identity,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			session.disconnect(context.WithoutCancel(ctx))
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	session.connect(ctx)
	g.log.Info("ws.global.connected", "user_id", identity.UserID, "conn_id", client.ConnID)

	writerDone := runWriter(ctx, g.log, conn, client, g.cfg.WriteTimeout, shutdown)
	heartbeatDone := runHeartbeat(ctx, g.log, conn, client, g.cfg, shutdown)

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		_, _, err := conn.Read(readCtx)
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
			break
		}
		// Outbound-only channel; data frames from the peer are dropped.
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.global.disconnected", "user_id", identity.UserID, "conn_id", client.ConnID)
}

// userSession is the per-connection actor for the global channel.
type userSession struct {
	log    *slog.Logger
	deps   GatewayDeps
	user   auth.Identity
	client *Client
	now    func() time.Time
}

// connect joins the user group, handles the offline-to-online presence
// transition, snapshots who is already online for this fresh connection and
// flushes backlogged delivery receipts.
func (s *userSession) connect(ctx context.Context) {
	s.deps.Groups.Join(UserGroup(s.user.UserID), s.client)

	if first := s.deps.Presence.Connect(s.user.UserID); first {
		s.deps.Metrics.OnlineUsers.Inc()
		s.broadcastPresence(ctx, true)
	}

	for _, uid := range s.deps.Presence.Online() {
		if uid == s.user.UserID {
			continue
		}
		sendDirect(ctx, s.log, s.client, v1.NewPresenceUpdateEvent(uid, true))
	}

	s.flushPending()
}

// disconnect runs the cleanup path. It is best effort: secondary failures
// are logged, never allowed to leak group membership or presence counts.
func (s *userSession) disconnect(ctx context.Context) {
	s.deps.Groups.LeaveAll(s.client)

	if last := s.deps.Presence.Disconnect(s.user.UserID); !last {
		return
	}
	s.deps.Metrics.OnlineUsers.Dec()

	if err := s.deps.Store.UpdateLastSeen(ctx, s.user.UserID, s.now()); err != nil {
		s.log.Warn("ws.last_seen.fail", "user_id", s.user.UserID, "err", err)
	}
	s.broadcastPresence(ctx, false)
}

// broadcastPresence announces an online/offline transition to every user
// who shares a room with this one.
func (s *userSession) broadcastPresence(ctx context.Context, online bool) {
	related, err := s.deps.Store.RelatedUserIDs(ctx, s.user.UserID)
	if err != nil {
		s.log.Warn("ws.presence.related_fail", "user_id", s.user.UserID, "err", err)
		return
	}
	for _, uid := range related {
		s.deps.Groups.Send(UserGroup(uid), v1.NewPresenceUpdateEvent(s.user.UserID, online))
	}
}

// flushPending marks every backlogged message delivered and receipts each
// original sender, giving senders delivered ticks for messages that arrived
// while this user was offline.
func (s *userSession) flushPending() {
	now := s.now()
	for _, p := range s.deps.Delivery.Pending(s.user.UserID) {
		if !s.deps.Delivery.MarkDelivered(p.MessageID, s.user.UserID, now) {
			continue
		}
		s.deps.Groups.Send(UserGroup(p.SenderID), v1.NewDeliveredReceiptEvent(p.MessageID, s.user.Username))
	}
}
