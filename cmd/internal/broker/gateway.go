package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/auth"
	v1 "github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/shared/contracts/chat/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
	wsMaxFrameBytes   = 64 << 10

	wsDefaultHeartbeatInterval = 30 * time.Second
	wsDefaultHeartbeatTimeout  = 10 * time.Second
)

// GatewayConfig carries the transport knobs shared by both websocket
// gateways. Zero values fall back to secure defaults.
type GatewayConfig struct {
	// Origin is required by default; only localhost is allowed unless the
	// allowlist is widened.
	OriginRequired bool
	AllowedOrigins []string

	// DevInsecure disables TLS verification on Accept. Dev-only knob.
	DevInsecure bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultGatewayConfig returns the secure-by-default configuration.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired: true,
		AllowedOrigins: []string{"http://localhost", "http://127.0.0.1"},
	}
}

func (c *GatewayConfig) normalize() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = wsDefaultReadIdle
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = wsDefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = wsDefaultHeartbeatTimeout
	}
}

// GatewayDeps bundles the collaborators both gateways share.
type GatewayDeps struct {
	Verifier     auth.TokenVerifier
	Store        ChatStore
	Groups       *GroupBroker
	Delivery     DeliveryTracker
	Presence     PresenceStore
	AI           AIService
	Orchestrator *AIOrchestrator
	Metrics      *Metrics
}

// credentialFrom extracts the bearer credential from the Authorization
// header, falling back to the token query parameter for browser websocket
// clients that cannot set headers.
func credentialFrom(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return h
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- frame IO ----

// enqueueRaw offers an encoded frame to the client without blocking.
func enqueueRaw(ctx context.Context, client *Client, frame []byte) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- frame:
		return true
	default:
		return false
	}
}

// sendDirect encodes an event and offers it only to this connection.
func sendDirect(ctx context.Context, log *slog.Logger, client *Client, event any) bool {
	frame, err := v1.Encode(event)
	if err != nil {
		log.Error("ws.encode.fail", "err", err)
		return false
	}
	return enqueueRaw(ctx, client, frame)
}

// runWriter drains the client's send queue onto the wire. The returned
// channel closes when the writer exits.
func runWriter(ctx context.Context, log *slog.Logger, conn *websocket.Conn, client *Client, timeout time.Duration, shutdown func(websocket.StatusCode, string)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case frame := <-client.Send:
				writeCtx, cancel := context.WithTimeout(ctx, timeout)
				err := conn.Write(writeCtx, websocket.MessageText, frame)
				cancel()

				if err != nil {
					log.Info("ws.write.fail", "conn_id", client.ConnID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()
	return done
}

// runHeartbeat pings the peer on an interval and shuts the connection down
// after consecutive failures.
func runHeartbeat(ctx context.Context, log *slog.Logger, conn *websocket.Conn, client *Client, cfg GatewayConfig, shutdown func(websocket.StatusCode, string)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		t := time.NewTicker(cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "conn_id", client.ConnID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()
	return done
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func enforceOrigin(cfg GatewayConfig, r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}
	return errors.New("origin not allowed: " + origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the allowlist
// so the HTTP-level and Accept-level origin checks agree.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// wireMessage converts a stored message to its wire representation.
func wireMessage(m Message) v1.Message {
	messageType := m.MessageType
	if messageType == "" {
		messageType = "text"
	}
	return v1.Message{
		ID:          m.ID,
		RoomID:      m.RoomID,
		Sender:      v1.UserRef{ID: m.SenderID, Username: m.SenderName},
		Content:     m.Content,
		MessageType: messageType,
		ReplyToID:   m.ReplyToID,
		Duration:    m.Duration,
		StickerID:   m.StickerID,
		GifURL:      m.GifURL,
		Edited:      m.Edited,
		CreatedAt:   m.CreatedAt,
	}
}

// wireReactions converts stored reactions, never returning nil.
func wireReactions(rs []Reaction) []v1.Reaction {
	out := make([]v1.Reaction, 0, len(rs))
	for _, r := range rs {
		out = append(out, v1.Reaction{
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Username:  r.Username,
			Emoji:     r.Emoji,
		})
	}
	return out
}
