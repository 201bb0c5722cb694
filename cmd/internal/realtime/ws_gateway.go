package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"inbox/cmd/internal/auth"
	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/surface"
	"inbox/cmd/internal/thread"
	v1 "inbox/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	wsDefaultEventBuffer = 64

	wsDefaultSendEvents = 30
	wsDefaultSendWindow = 10 * time.Second
)

// GatewayConfig holds the websocket policy knobs.
type GatewayConfig struct {
	// AllowedOrigins is the Origin allowlist. "*" allows any origin.
	AllowedOrigins []string
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool
	// InsecureSkipVerify disables the websocket library's own origin check. Dev only.
	InsecureSkipVerify bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// RateEvents/RateWindow bound all inbound envelopes of one connection.
	RateEvents int
	RateWindow time.Duration

	// SendEvents/SendWindow bound message_send per user across all sessions.
	SendEvents int
	SendWindow time.Duration

	// EventBuffer is the broadcast subscription queue size per surface.
	EventBuffer int
}

// DefaultGatewayConfig returns secure defaults: Origin required, localhost only.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		OriginRequired:    true,
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   wsDefaultReadIdle,
		SendQueueSize:     wsDefaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
		SendEvents:        wsDefaultSendEvents,
		SendWindow:        wsDefaultSendWindow,
		EventBuffer:       wsDefaultEventBuffer,
	}
}

// GatewayDeps are the collaborators of a WSGateway.
type GatewayDeps struct {
	Log  *slog.Logger
	Auth *auth.Authenticator

	Resolver      surface.Resolver
	Conversations thread.Store
	// LastMessages is optional; without it list summaries are only patched through events.
	LastMessages thread.LastMessageWriter

	Messages   MessageStore
	Membership MembershipStore
	Registry   *broadcast.Registry
	Hub        *Hub
}

// WSGateway is the websocket entrypoint.
//
// Every connection hosts one active conversation view and one conversation list for the
// authenticated user. It enforces origin policy, subprotocol selection, rate limits and
// heartbeats, and routes validated envelopes to the session.
type WSGateway struct {
	log  *slog.Logger
	auth *auth.Authenticator

	resolver      surface.Resolver
	conversations thread.Store
	lastMessages  thread.LastMessageWriter
	messages      MessageStore
	membership    MembershipStore
	registry      *broadcast.Registry
	hub           *Hub

	cfg            GatewayConfig
	originPatterns []string
	sendLimiter    *KeyedRateLimiter

	now func() time.Time
}

// NewWSGateway constructs a gateway. Messages, Membership, Registry and Hub default to
// in-memory implementations.
func NewWSGateway(cfg GatewayConfig, deps GatewayDeps) (*WSGateway, error) {
	if deps.Auth == nil {
		return nil, errors.New("realtime: nil authenticator")
	}
	if deps.Resolver == nil {
		return nil, errors.New("realtime: nil resolver")
	}
	if deps.Conversations == nil {
		return nil, errors.New("realtime: nil conversation store")
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if deps.Messages == nil {
		deps.Messages = NewInMemoryStore()
	}
	if deps.Membership == nil {
		deps.Membership = StoreMembership{Store: deps.Conversations}
	}
	if deps.Registry == nil {
		deps.Registry = broadcast.NewRegistry(log)
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(log)
	}

	def := DefaultGatewayConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.SendEvents <= 0 {
		cfg.SendEvents = def.SendEvents
	}
	if cfg.SendWindow <= 0 {
		cfg.SendWindow = def.SendWindow
	}

	return &WSGateway{
		log:           log,
		auth:          deps.Auth,
		resolver:      deps.Resolver,
		conversations: deps.Conversations,
		lastMessages:  deps.LastMessages,
		messages:      deps.Messages,
		membership:    deps.Membership,
		registry:      deps.Registry,
		hub:           deps.Hub,
		cfg:           cfg,
		// websocket.Accept has its own origin check (same host, else OriginPatterns),
		// so both layers are derived from the same allowlist.
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
		sendLimiter:    NewKeyedRateLimiter(cfg.SendEvents, cfg.SendWindow),
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Registry returns the per-user broadcast registry the gateway publishes on.
func (g *WSGateway) Registry() *broadcast.Registry { return g.registry }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a websocket session and runs the realtime loop.
//
// Credentials may come with the handshake (Authorization header, or the dev header) or
// with the first hello envelope. Invalid handshake credentials are rejected with 401
// before upgrading.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var (
		claims    auth.Claims
		preAuthed bool
	)
	token := auth.BearerToken(r)
	devUser := r.Header.Get(auth.DevUserHeader)
	if token != "" || devUser != "" {
		c, err := g.auth.Authenticate(token, devUser)
		if err != nil {
			g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		claims, preAuthed = c, true
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(g.now())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient("", sessionID, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := newSession(ctx, g, client, thread.MatchLanguage(r.Header.Get("Accept-Language")))

	var closeOnce sync.Once

	// shutdown is idempotent and never closes client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			sess.close()
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
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

	if preAuthed {
		if err := sess.authenticate(claims); err != nil {
			g.log.Error("ws.session.start_failed", "session_id", sessionID, "err", err)
			shutdown(websocket.StatusInternalError, "session failed")
		}
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for ctx.Err() == nil {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				sess.sendError(v1.CodeBadJSON, "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := g.now()
		if !rl.Allow(now) {
			sess.sendError(v1.CodeRateLimited, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			sess.sendError(v1.CodeBadEnvelope, err.Error())
			continue readLoop
		}

		if env.Type == v1.TypeHello {
			if err := sess.onHello(env); err != nil {
				sess.sendError(v1.CodeUnauthorized, err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}
			continue readLoop
		}

		if !sess.authenticated() {
			sess.sendError(v1.CodeUnauthorized, "hello with token required")
			shutdown(websocket.StatusPolicyViolation, "unauthenticated")
			break readLoop
		}

		sess.dispatch(env, now)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload any, ts time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	id, err := NewEnvelopeID(ts)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: raw,
	}, nil
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
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
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	if strings.Contains(err.Error(), "unexpected end of JSON input") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" || origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
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

// deriveOriginPatternsFromAllowedOrigins returns the sorted hosts of the allowlist, in the
// form websocket.AcceptOptions.OriginPatterns expects.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "*" {
			return []string{"*"}
		}
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
