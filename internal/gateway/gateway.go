// Package gateway admits realtime websocket connections, routes their chat
// events and is the only component that mutates presence or broadcasts.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/middleware"
	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/internal/presence"
	"github.com/capitalize-ai/botchat/internal/store"
	"github.com/capitalize-ai/botchat/pkg/logger"
	"github.com/capitalize-ai/botchat/pkg/metrics"
)

// Store is the persistence the gateway needs.
type Store interface {
	GetUserByExternalUID(ctx context.Context, uid string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User) error
	CreateMessage(ctx context.Context, m *model.Message) error
	RecentMessages(ctx context.Context, limit int) ([]*model.Message, error)
}

// Limiter enforces per-user message and bot invocation quotas.
type Limiter interface {
	AllowMessage(ctx context.Context, userID string) (bool, error)
	RemainingMessages(ctx context.Context, userID string) int
	AllowBot(ctx context.Context, u *model.User) (bool, error)
	RemainingBot(ctx context.Context, u *model.User) int
}

// ContextCache holds the recent turns of each (user, room) pair.
type ContextCache interface {
	Append(ctx context.Context, userID, room string, turn model.Turn)
	Get(ctx context.Context, userID, room string) []model.Turn
}

// Timers tracks session inactivity.
type Timers interface {
	Reset(userID, room string)
}

// Invoker runs a bot and persists its reply.
type Invoker interface {
	Invoke(ctx context.Context, b *model.Bot, text, room string, turns []model.Turn) (*model.MessageView, error)
}

// Options configures a Gateway.
type Options struct {
	Verifier       *middleware.Verifier
	Store          Store
	Presence       *presence.Registry
	Limiter        Limiter
	Cache          ContextCache
	Timers         Timers
	Invoker        Invoker
	Logger         *logger.Logger
	HistoryLimit   int
	AllowedOrigins []string
}

// Gateway owns every live connection.
type Gateway struct {
	verifier     *middleware.Verifier
	store        Store
	presence     *presence.Registry
	limiter      Limiter
	cache        ContextCache
	timers       Timers
	invoker      Invoker
	log          *logger.Logger
	historyLimit int
	upgrader     websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	bots   sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a gateway.
func New(opts Options) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 50
	}

	g := &Gateway{
		verifier:     opts.Verifier,
		store:        opts.Store,
		presence:     opts.Presence,
		limiter:      opts.Limiter,
		cache:        opts.Cache,
		timers:       opts.Timers,
		invoker:      opts.Invoker,
		log:          log,
		historyLimit: limit,
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*Session),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return g
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// Authenticate verifies the bearer credential of a handshake.
func (g *Gateway) Authenticate(r *http.Request) (*middleware.Identity, error) {
	token := middleware.TokenFromRequest(r)
	if token == "" {
		return nil, &AuthError{Reason: ReasonMissingToken}
	}
	id, err := g.verifier.Verify(token)
	if err != nil {
		return nil, &AuthError{Reason: ReasonInvalidToken}
	}
	return id, nil
}

// ServeHTTP authenticates, upgrades and serves one connection until it
// closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := g.Authenticate(r)
	if err != nil {
		var authErr *AuthError
		reason := ReasonInvalidToken
		if errors.As(err, &authErr) {
			reason = authErr.Reason
		}
		metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
		http.Error(w, reason, http.StatusUnauthorized)
		return
	}

	user, err := g.resolveUser(r.Context(), id)
	if err != nil {
		g.log.Error("failed to resolve user", zap.String("uid", id.UID), zap.Error(err))
		http.Error(w, "failed to resolve user", http.StatusInternalServerError)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := g.register(ws, id, user)
	g.OnConnect(sess)
	g.readLoop(sess)
	g.OnDisconnect(sess)
}

// resolveUser maps a verified identity to a user record, creating one on
// first sight.
func (g *Gateway) resolveUser(ctx context.Context, id *middleware.Identity) (*model.User, error) {
	u, err := g.store.GetUserByExternalUID(ctx, id.UID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	u = &model.User{
		ExternalUID: id.UID,
		Email:       id.Email,
		Username:    id.Name,
		IsAdmin:     slices.Contains(id.Scopes, middleware.ScopeAdmin),
	}
	if u.Username == "" {
		u.Username = fallbackUsername(id.UID)
	}

	err = g.store.CreateUser(ctx, u)
	if errors.Is(err, store.ErrDuplicate) {
		// Either a concurrent handshake created the user or the name is taken.
		if existing, getErr := g.store.GetUserByExternalUID(ctx, id.UID); getErr == nil {
			return existing, nil
		}
		u.ID = ""
		u.Username = fallbackUsername(id.UID)
		err = g.store.CreateUser(ctx, u)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	g.log.Info("provisioned user", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return u, nil
}

func fallbackUsername(uid string) string {
	if len(uid) > 8 {
		uid = uid[:8]
	}
	return "user_" + uid
}

func (g *Gateway) register(ws *websocket.Conn, id *middleware.Identity, u *model.User) *Session {
	connID := uuid.NewString()
	sess := &Session{
		ID:       connID,
		Identity: id,
		conn:     newConn(ws),
		log:      g.log.WithConnection(connID, u.ID),
		user:     *u,
	}

	g.mu.Lock()
	g.sessions[connID] = sess
	g.mu.Unlock()
	metrics.WSConnectionsActive.Inc()
	return sess
}

func (g *Gateway) unregister(sess *Session) bool {
	g.mu.Lock()
	_, ok := g.sessions[sess.ID]
	delete(g.sessions, sess.ID)
	g.mu.Unlock()
	if ok {
		metrics.WSConnectionsActive.Dec()
	}
	return ok
}

// Session returns the live session for a connection id.
func (g *Gateway) Session(connID string) (*Session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[connID]
	return s, ok
}

// ConnectionCount returns the number of open connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

func (g *Gateway) snapshot() []*Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		out = append(out, s)
	}
	return out
}

func (g *Gateway) sessionsOf(userID string) []*Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Session
	for _, s := range g.sessions {
		if s.UserID() == userID {
			out = append(out, s)
		}
	}
	return out
}

func (g *Gateway) readLoop(sess *Session) {
	ws := sess.conn.ws
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		env, err := sess.conn.readFrame()
		if errors.Is(err, errMalformedFrame) {
			sess.sendError(model.ErrorEvent{Message: errInvalidMessage, Details: err.Error()})
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.log.Debug("connection read failed", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		g.dispatch(sess, env)
	}
}

// dispatch handles one client event. Events of one connection are handled
// in order; only bot invocations run in the background.
func (g *Gateway) dispatch(sess *Session, env model.Envelope) {
	ctx := g.ctx
	switch env.Event {
	case model.EventChatMessage:
		var req model.ChatMessageRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			sess.sendError(model.ErrorEvent{Message: errInvalidMessage, Details: err.Error()})
			return
		}
		g.OnChatMessage(ctx, sess, req)
	case model.EventGetInitialMessages:
		g.sendInitialMessages(ctx, sess)
	case model.EventGetInitialBotsAndUsers:
		g.sendDirectory(ctx, sess)
	case model.EventGetInitialOnlineUsers:
		sess.send(model.EventOnlineUsers, g.presence.Online())
	default:
		sess.sendError(model.ErrorEvent{Message: errUnknownEvent, Details: env.Event})
	}
}

// Broadcast sends an event to every connection.
func (g *Gateway) Broadcast(event string, data any) {
	g.broadcast(event, data, func(*Session) bool { return true })
}

func (g *Gateway) broadcastExcept(connID, event string, data any) {
	g.broadcast(event, data, func(s *Session) bool { return s.ID != connID })
}

func (g *Gateway) sendToUser(userID, event string, data any) {
	g.broadcast(event, data, func(s *Session) bool { return s.UserID() == userID })
}

// broadcast never waits on a peer: a connection whose queue is full is
// closed so one stalled client cannot hold up the sender.
func (g *Gateway) broadcast(event string, data any, include func(*Session) bool) {
	frame, err := encode(event, data)
	if err != nil {
		g.log.Error("failed to encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	for _, s := range g.snapshot() {
		if !include(s) {
			continue
		}
		if err := s.conn.trySend(frame); errors.Is(err, ErrSendBufferFull) {
			metrics.RejectionsTotal.WithLabelValues("slow_consumer").Inc()
			s.log.Warn("closing slow connection", zap.String("event", event))
			s.conn.Close()
		}
	}
}

// Shutdown closes every connection and waits for pending bot invocations
// until ctx is done. Invocations still running at the deadline are cancelled.
func (g *Gateway) Shutdown(ctx context.Context) error {
	defer g.cancel()
	for _, s := range g.snapshot() {
		s.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		g.bots.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
