package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/botchat/internal/bot"
	"github.com/capitalize-ai/botchat/internal/contextcache"
	"github.com/capitalize-ai/botchat/internal/middleware"
	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/internal/presence"
	"github.com/capitalize-ai/botchat/internal/ratelimit"
	"github.com/capitalize-ai/botchat/internal/session"
	"github.com/capitalize-ai/botchat/internal/store"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

const readTimeout = 2 * time.Second

var defaultLimits = ratelimit.Limits{
	MessageLimit:    100,
	MessageWindow:   time.Minute,
	BotLimit:        10,
	PremiumBotLimit: 20,
	BotWindow:       time.Hour,
}

type harness struct {
	t        *testing.T
	gw       *Gateway
	srv      *httptest.Server
	store    *store.SQLiteStore
	cache    *contextcache.Cache
	verifier *middleware.Verifier
	ross     *model.Bot
}

func newHarness(t *testing.T, gen bot.Generator, limits ratelimit.Limits) *harness {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st, err := store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ross := &model.Bot{Username: "Ross", BotRole: "Friend", BotType: model.BotTypeBasic, Personality: "You are Ross."}
	require.NoError(t, st.CreateBot(ctx, ross))

	cache := contextcache.New(rdb, 10, time.Hour, log)
	timers := session.New(time.Hour, cache, bot.NewSummarizer(gen, time.Second), st, log)
	t.Cleanup(timers.Stop)

	verifier := middleware.NewVerifier("test-secret")
	gw := New(Options{
		Verifier:     verifier,
		Store:        st,
		Presence:     presence.NewRegistry(st),
		Limiter:      ratelimit.New(rdb, limits, log),
		Cache:        cache,
		Timers:       timers,
		Invoker:      bot.NewInvoker(gen, st, time.Second, log),
		Logger:       log,
		HistoryLimit: 50,
	})
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		srv.Close()
		_ = gw.Shutdown(context.Background())
	})

	return &harness{t: t, gw: gw, srv: srv, store: st, cache: cache, verifier: verifier, ross: ross}
}

func (h *harness) url(token string) string {
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// dial connects a user and waits until OnConnect has finished. The read
// loop starts after OnConnect, so the onlineUsers reply marks that point.
func (h *harness) dial(uid, name string) *client {
	h.t.Helper()
	c := h.connect(uid, name)
	c.send(model.EventGetInitialOnlineUsers, nil)
	c.expect(model.EventOnlineUsers)
	return c
}

func (h *harness) connect(uid, name string) *client {
	h.t.Helper()
	token, err := h.verifier.Sign(middleware.Identity{UID: uid, Name: name}, time.Hour)
	require.NoError(h.t, err)

	ws, _, err := websocket.DefaultDialer.Dial(h.url(token), nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = ws.Close() })
	return &client{t: h.t, ws: ws}
}

func (h *harness) user(uid string) *model.User {
	h.t.Helper()
	u, err := h.store.GetUserByExternalUID(context.Background(), uid)
	require.NoError(h.t, err)
	return u
}

func (h *harness) messages() []*model.Message {
	h.t.Helper()
	msgs, err := h.store.RecentMessages(context.Background(), 100)
	require.NoError(h.t, err)
	return msgs
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (c *client) send(event string, data any) {
	c.t.Helper()
	frame, err := encode(event, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, frame))
}

func (c *client) chat(text, room string) {
	c.send(model.EventChatMessage, model.ChatMessageRequest{Text: text, Room: room})
}

func (c *client) next() (model.Envelope, error) {
	var env model.Envelope
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return env, err
	}
	err = json.Unmarshal(data, &env)
	return env, err
}

// expect reads until event arrives, skipping anything else.
func (c *client) expect(event string) model.Envelope {
	c.t.Helper()
	for {
		env, err := c.next()
		require.NoError(c.t, err, "waiting for %s", event)
		if env.Event == event {
			return env
		}
	}
}

// collect reads n events matching keep, skipping the rest.
func (c *client) collect(n int, keep func(model.Envelope) bool) []model.Envelope {
	c.t.Helper()
	var out []model.Envelope
	for len(out) < n {
		env, err := c.next()
		require.NoError(c.t, err)
		if keep(env) {
			out = append(out, env)
		}
	}
	return out
}

// quiet asserts no event passing keep arrives for a short while. The
// connection is unusable afterwards.
func (c *client) quiet(keep func(model.Envelope) bool) {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env model.Envelope
		require.NoError(c.t, json.Unmarshal(data, &env))
		assert.False(c.t, keep(env), "unexpected event %s", env.Event)
	}
}

func decode[T any](t *testing.T, env model.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func isEvent(names ...string) func(model.Envelope) bool {
	return func(env model.Envelope) bool {
		for _, n := range names {
			if env.Event == n {
				return true
			}
		}
		return false
	}
}

func replyGenerator(reply string) bot.GeneratorFunc {
	return func(context.Context, bot.Request) (string, error) { return reply, nil }
}

func TestAuthenticateRefusesHandshake(t *testing.T) {
	h := newHarness(t, replyGenerator("hi"), defaultLimits)

	_, resp, err := websocket.DefaultDialer.Dial(h.url(""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(h.url("not-a-token"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, h.gw.ConnectionCount())

	_, err = h.gw.Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil))
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ReasonMissingToken, authErr.Reason)

	_, err = h.gw.Authenticate(httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil))
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ReasonInvalidToken, authErr.Reason)
}

func TestConnectProvisionsUser(t *testing.T) {
	h := newHarness(t, replyGenerator("hi"), defaultLimits)

	h.dial("uid-alice", "alice")
	h.dial("uid-carl-1234", "")

	assert.Equal(t, "alice", h.user("uid-alice").Username)
	assert.Equal(t, "user_uid-carl", h.user("uid-carl-1234").Username)
	assert.False(t, h.user("uid-alice").IsAdmin)
}

func TestNewConnectionIsPullOnly(t *testing.T) {
	h := newHarness(t, replyGenerator("hi"), defaultLimits)

	alice := h.dial("uid-alice", "alice")
	bob := h.connect("uid-bob", "bob")

	// Peers already connected get the refreshed directory.
	dir := decode[model.DirectoryEvent](t, alice.expect(model.EventUpdateBotsAndUsers))
	require.Len(t, dir.Data, 3)
	assert.Equal(t, "Ross", dir.Data[0].Username)
	for _, e := range dir.Data[1:] {
		assert.Equal(t, model.StatusOnline, e.Status, e.Username)
	}

	// The new connection's first frame answers its own request.
	bob.send(model.EventGetInitialOnlineUsers, nil)
	first, err := bob.next()
	require.NoError(t, err)
	assert.Equal(t, model.EventOnlineUsers, first.Event)
	assert.Len(t, decode[[]string](t, first), 2)
}

func TestChatMessageBroadcastsAndCaches(t *testing.T) {
	h := newHarness(t, replyGenerator("hi"), defaultLimits)

	alice := h.dial("uid-alice", "alice")
	bob := h.dial("uid-bob", "bob")

	online := decode[model.UserEvent](t, alice.expect(model.EventUpdateUser))
	require.NotNil(t, online.Alert)
	assert.Equal(t, "bob is online", online.Alert.Text)

	alice.chat("hello", "general")
	alice.chat("@nobody are you there", "general")

	for _, c := range []*client{alice, bob} {
		got := c.collect(2, isEvent(model.EventMessage))
		first := decode[model.MessageView](t, got[0])
		assert.Equal(t, "hello", first.Content)
		assert.Equal(t, model.SenderUser, first.SenderType)
		assert.True(t, first.IsGlobal)
		assert.Equal(t, "alice", first.Sender.Username)
		assert.Equal(t, model.StatusOnline, first.Sender.Status)

		second := decode[model.MessageView](t, got[1])
		assert.False(t, second.IsGlobal)
	}

	uid := h.user("uid-alice").ID
	turns := h.cache.Get(context.Background(), uid, "general")
	assert.Equal(t, []model.Turn{
		{Role: model.RoleUser, Content: "hello"},
		{Role: model.RoleUser, Content: "@nobody are you there"},
	}, turns)
	assert.Len(t, h.messages(), 2)
}

func TestBannedUserCannotSend(t *testing.T) {
	h := newHarness(t, replyGenerator("hi"), defaultLimits)

	alice := h.dial("uid-alice", "alice")

	u, err := h.store.SetUserBanned(context.Background(), h.user("uid-alice").ID, true)
	require.NoError(t, err)
	h.gw.HandleRosterEvent(context.Background(), &model.RosterEvent{Type: model.RosterUserBanned, User: u})

	notice := decode[model.UserEvent](t, alice.expect(model.EventUpdateUser))
	require.NotNil(t, notice.Alert)
	assert.Equal(t, "Your account has been banned", notice.Alert.Text)
	banned := decode[model.UserEvent](t, alice.expect(model.EventBanUser))
	assert.True(t, banned.User.IsBanned)

	alice.chat("let me in", "general")
	errEv := decode[model.ErrorEvent](t, alice.expect(model.EventError))
	assert.Equal(t, errBanned, errEv.Message)
	assert.Empty(t, h.messages())
	alice.quiet(isEvent(model.EventMessage))
}

func TestRateLimitedMessage(t *testing.T) {
	limits := defaultLimits
	limits.MessageLimit = 2
	h := newHarness(t, replyGenerator("hi"), limits)

	alice := h.dial("uid-alice", "alice")
	for _, text := range []string{"one", "two", "three"} {
		alice.chat(text, "general")
	}

	got := alice.collect(3, isEvent(model.EventMessage, model.EventError))
	assert.Equal(t, model.EventMessage, got[0].Event)
	assert.Equal(t, model.EventMessage, got[1].Event)
	require.Equal(t, model.EventError, got[2].Event)

	errEv := decode[model.ErrorEvent](t, got[2])
	assert.Equal(t, errRateLimited, errEv.Message)
	require.NotNil(t, errEv.RemainingMessages)
	assert.Zero(t, *errEv.RemainingMessages)
	assert.Len(t, h.messages(), 2)
}

func TestInvalidMessageRejected(t *testing.T) {
	h := newHarness(t, replyGenerator("hi"), defaultLimits)

	alice := h.dial("uid-alice", "alice")
	alice.chat("   ", "general")
	alice.chat("hello", "")
	alice.send(model.EventChatMessage, "not an object")

	got := alice.collect(3, isEvent(model.EventMessage, model.EventError))
	for _, env := range got {
		assert.Equal(t, model.EventError, env.Event)
		assert.Equal(t, errInvalidMessage, decode[model.ErrorEvent](t, env).Message)
	}
	assert.Empty(t, h.messages())
}

func TestBotMentionReply(t *testing.T) {
	var (
		mu  sync.Mutex
		req bot.Request
	)
	gen := bot.GeneratorFunc(func(_ context.Context, r bot.Request) (string, error) {
		mu.Lock()
		req = r
		mu.Unlock()
		return "Pivot!", nil
	})
	h := newHarness(t, gen, defaultLimits)

	alice := h.dial("uid-alice", "alice")
	bob := h.dial("uid-bob", "bob")

	alice.chat("hello @Ross tell me something", "general")

	want := isEvent(model.EventMessage, model.EventBotTyping, model.EventError)
	got := alice.collect(4, want)
	require.Equal(t, model.EventMessage, got[0].Event)
	assert.Equal(t, model.SenderUser, decode[model.MessageView](t, got[0]).SenderType)

	require.Equal(t, model.EventBotTyping, got[1].Event)
	assert.Equal(t, model.BotTypingEvent{BotName: "Ross", IsTyping: true}, decode[model.BotTypingEvent](t, got[1]))
	require.Equal(t, model.EventBotTyping, got[2].Event)
	assert.Equal(t, model.BotTypingEvent{BotName: "Ross", IsTyping: false}, decode[model.BotTypingEvent](t, got[2]))

	require.Equal(t, model.EventMessage, got[3].Event)
	reply := decode[model.MessageView](t, got[3])
	assert.Equal(t, "Pivot!", reply.Content)
	assert.Equal(t, model.SenderBot, reply.SenderType)
	assert.True(t, reply.Sender.IsBot)
	assert.Equal(t, "Ross", reply.Sender.Username)

	// The bystander sees the same reply.
	bobGot := bob.collect(4, want)
	assert.Equal(t, "Pivot!", decode[model.MessageView](t, bobGot[3]).Content)

	mu.Lock()
	assert.Equal(t, "Ross", req.BotName)
	assert.Equal(t, "You are Ross.", req.Persona)
	assert.NotContains(t, req.Prompt, "@Ross")
	assert.Empty(t, req.Context)
	mu.Unlock()

	uid := h.user("uid-alice").ID
	assert.Equal(t, []model.Turn{
		{Role: model.RoleUser, Content: "hello @Ross tell me something"},
		{Role: model.RoleAssistant, Content: "Pivot!"},
	}, h.cache.Get(context.Background(), uid, "general"))
	assert.Len(t, h.messages(), 2)
}

func TestBotFailureSendsErrorOnly(t *testing.T) {
	gen := bot.GeneratorFunc(func(context.Context, bot.Request) (string, error) {
		return "", errors.New("exit status 1")
	})
	h := newHarness(t, gen, defaultLimits)

	alice := h.dial("uid-alice", "alice")
	alice.chat("@Ross hi", "general")

	got := alice.collect(4, isEvent(model.EventMessage, model.EventBotTyping, model.EventError))
	assert.Equal(t, model.EventMessage, got[0].Event)
	assert.True(t, decode[model.BotTypingEvent](t, got[1]).IsTyping)
	assert.False(t, decode[model.BotTypingEvent](t, got[2]).IsTyping)
	require.Equal(t, model.EventError, got[3].Event)

	errEv := decode[model.ErrorEvent](t, got[3])
	assert.Equal(t, errBotResponse, errEv.Message)
	assert.Contains(t, errEv.Details, "exit status 1")

	alice.quiet(isEvent(model.EventMessage, model.EventError))

	msgs := h.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.SenderUser, msgs[0].SenderType)
}

func TestBotRateLimit(t *testing.T) {
	limits := defaultLimits
	limits.BotLimit = 1
	h := newHarness(t, replyGenerator("sure"), limits)

	alice := h.dial("uid-alice", "alice")
	alice.chat("@Ross first", "general")
	alice.collect(1, func(env model.Envelope) bool {
		return env.Event == model.EventMessage && decode[model.MessageView](t, env).SenderType == model.SenderBot
	})

	alice.chat("@Ross second", "general")
	errEv := decode[model.ErrorEvent](t, alice.expect(model.EventError))
	assert.Equal(t, errBotRateLimited, errEv.Message)
	require.NotNil(t, errEv.RemainingMessages)
	assert.Zero(t, *errEv.RemainingMessages)

	// Two user messages and one reply.
	assert.Len(t, h.messages(), 3)
}

func TestPresenceIsConnectionCounted(t *testing.T) {
	h := newHarness(t, replyGenerator("hi"), defaultLimits)

	bob := h.dial("uid-bob", "bob")
	tab1 := h.dial("uid-alice", "alice")
	bob.expect(model.EventUpdateUser)
	tab2 := h.dial("uid-alice", "alice")

	uid := h.user("uid-alice").ID
	var sess *Session
	for _, s := range h.gw.snapshot() {
		if s.UserID() == uid {
			sess = s
		}
	}
	require.NotNil(t, sess)

	require.NoError(t, tab1.ws.Close())
	require.NoError(t, tab2.ws.Close())

	offline := decode[model.UserEvent](t, bob.expect(model.EventUpdateUser))
	require.NotNil(t, offline.User)
	assert.Equal(t, uid, offline.User.ID)
	assert.Equal(t, model.StatusOffline, offline.User.Status)
	assert.Equal(t, "alice is offline", offline.Alert.Text)
	assert.False(t, h.gw.presence.IsOnline(uid))

	// A repeated disconnect for an absent session is a no-op.
	h.gw.OnDisconnect(sess)
	bob.quiet(isEvent(model.EventUpdateUser))
}

func TestSecondTabKeepsUserOnline(t *testing.T) {
	h := newHarness(t, replyGenerator("hi"), defaultLimits)

	tab1 := h.dial("uid-alice", "alice")
	h.dial("uid-alice", "alice")
	uid := h.user("uid-alice").ID

	require.NoError(t, tab1.ws.Close())
	require.Eventually(t, func() bool { return h.gw.ConnectionCount() == 1 }, readTimeout, 5*time.Millisecond)
	assert.True(t, h.gw.presence.IsOnline(uid))
}

func TestInitialPulls(t *testing.T) {
	h := newHarness(t, replyGenerator("hi"), defaultLimits)

	alice := h.dial("uid-alice", "alice")
	alice.chat("first", "general")
	alice.chat("second", "general")
	alice.collect(2, isEvent(model.EventMessage))

	alice.send(model.EventGetInitialMessages, nil)
	history := decode[[]model.MessageView](t, alice.expect(model.EventInitialMessages))
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)
	assert.Equal(t, "alice", history[0].Sender.Username)
	assert.Equal(t, model.StatusOnline, history[0].Sender.Status)

	alice.send(model.EventGetInitialBotsAndUsers, nil)
	dir := decode[[]model.DirectoryEntry](t, alice.expect(model.EventInitialBotsAndUsersList))
	require.Len(t, dir, 2)
	assert.True(t, dir[0].IsBot)

	alice.send(model.EventGetInitialOnlineUsers, nil)
	online := decode[[]string](t, alice.expect(model.EventOnlineUsers))
	assert.Equal(t, []string{h.user("uid-alice").ID}, online)

	alice.send("shout", nil)
	errEv := decode[model.ErrorEvent](t, alice.expect(model.EventError))
	assert.Equal(t, errUnknownEvent, errEv.Message)
}

func TestRosterEvents(t *testing.T) {
	h := newHarness(t, replyGenerator("hi"), defaultLimits)
	ctx := context.Background()

	alice := h.dial("uid-alice", "alice")
	bob := h.dial("uid-bob", "bob")

	carl := &model.Bot{Username: "QC_Carl", BotType: model.BotTypeQC}
	require.NoError(t, h.store.CreateBot(ctx, carl))
	h.gw.HandleRosterEvent(ctx, &model.RosterEvent{Type: model.RosterBotCreated, Bot: carl})
	created := decode[model.BotEvent](t, bob.expect(model.EventCreateBot))
	assert.Equal(t, "QC_Carl", created.Bot.Username)
	_, ok := h.gw.presence.FindBot(ctx, "QC_Carl")
	assert.True(t, ok)

	h.gw.HandleRosterEvent(ctx, &model.RosterEvent{Type: model.RosterMessageDeleted, MessageID: "m-1"})
	deleted := decode[model.DeleteMessageEvent](t, bob.expect(model.EventDeleteMessage))
	assert.Equal(t, "m-1", deleted.MessageID)

	aliceUser := h.user("uid-alice")
	require.NoError(t, h.store.DeleteUser(ctx, aliceUser.ID))
	h.gw.HandleRosterEvent(ctx, &model.RosterEvent{Type: model.RosterUserDeleted, User: aliceUser})

	gone := decode[model.UserEvent](t, bob.expect(model.EventDeleteUser))
	assert.Equal(t, aliceUser.ID, gone.User.ID)
	alice.expect(model.EventDeleteUser)
	_, err := alice.next()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return h.gw.ConnectionCount() == 1 }, readTimeout, 5*time.Millisecond)
	assert.False(t, h.gw.presence.IsOnline(aliceUser.ID))
}

func TestPriorTurns(t *testing.T) {
	t.Parallel()
	turns := []model.Turn{
		{Role: model.RoleAssistant, Content: "earlier"},
		{Role: model.RoleUser, Content: "@Ross hi"},
	}
	assert.Equal(t, turns[:1], priorTurns(turns, "@Ross hi"))
	assert.Equal(t, turns, priorTurns(turns, "something else"))
	assert.Empty(t, priorTurns(nil, "x"))
}

func TestOriginChecker(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")

	assert.True(t, originChecker(nil)(r))
	assert.True(t, originChecker([]string{"*"})(r))
	assert.False(t, originChecker([]string{"https://chat.example"})(r))

	r.Header.Set("Origin", "https://chat.example")
	assert.True(t, originChecker([]string{"https://chat.example"})(r))
}

func TestShutdownWaitsForBotReply(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	gen := bot.GeneratorFunc(func(ctx context.Context, _ bot.Request) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-time.After(300 * time.Millisecond):
			return "worth the wait", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	h := newHarness(t, gen, defaultLimits)

	alice := h.dial("uid-alice", "alice")
	alice.chat("@Ross are you there", "general")
	select {
	case <-started:
	case <-time.After(readTimeout):
		t.Fatal("bot was not invoked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.gw.Shutdown(ctx))

	var replies []string
	for _, m := range h.messages() {
		if m.SenderType == model.SenderBot {
			replies = append(replies, m.Content)
		}
	}
	assert.Equal(t, []string{"worth the wait"}, replies)
}

func TestShutdownCancelsBotsAtDeadline(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan error, 1)
	var once sync.Once
	gen := bot.GeneratorFunc(func(ctx context.Context, _ bot.Request) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		cancelled <- ctx.Err()
		return "", ctx.Err()
	})
	h := newHarness(t, gen, defaultLimits)

	alice := h.dial("uid-alice", "alice")
	alice.chat("@Ross take your time", "general")
	select {
	case <-started:
	case <-time.After(readTimeout):
		t.Fatal("bot was not invoked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.gw.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(readTimeout):
		t.Fatal("bot invocation was not cancelled")
	}
	assert.Len(t, h.messages(), 1)
}

func TestBroadcastClosesFullConnection(t *testing.T) {
	t.Parallel()
	g := New(Options{Logger: logger.NewNop()})

	newTestConn := func(buffer int) *Conn {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		return &Conn{send: make(chan []byte, buffer), ctx: ctx, cancel: cancel}
	}
	stalled := newTestConn(1)
	stalled.send <- []byte("queued")
	healthy := newTestConn(1)
	g.sessions["stalled"] = &Session{ID: "stalled", conn: stalled, log: logger.NewNop()}
	g.sessions["healthy"] = &Session{ID: "healthy", conn: healthy, log: logger.NewNop()}

	start := time.Now()
	g.Broadcast(model.EventDeleteMessage, model.DeleteMessageEvent{MessageID: "m-1"})
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-stalled.Done():
	default:
		t.Fatal("stalled connection was not closed")
	}
	assert.ErrorIs(t, stalled.trySend([]byte("x")), ErrConnectionClosed)
	assert.Len(t, healthy.send, 1)
}
