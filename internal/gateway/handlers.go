package gateway

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/bot"
	"github.com/capitalize-ai/botchat/internal/middleware"
	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/metrics"
)

const (
	alertSuccess = "success"
	alertError   = "error"
	alertInfo    = "info"
)

// OnConnect registers the session's user as online. The first connection of
// a user is announced to everyone else, and the other connections get a
// refreshed directory. The new connection itself receives nothing until it
// asks.
func (g *Gateway) OnConnect(sess *Session) {
	user := sess.User()
	sess.log.Info("connected", zap.String("username", user.Username))

	if !g.presence.Connect(user.ID) {
		return
	}

	entry := model.UserEntry(&user, model.StatusOnline)
	g.broadcastExcept(sess.ID, model.EventUpdateUser, model.UserEvent{
		User:  &entry,
		Alert: &model.Alert{Type: alertSuccess, Text: user.Username + " is online"},
	})
	g.broadcastDirectory(g.ctx, sess.ID)
}

// OnDisconnect forgets the session. When the user's last connection closes
// the remaining connections are told the user went offline.
func (g *Gateway) OnDisconnect(sess *Session) {
	if !g.unregister(sess) {
		return
	}
	sess.conn.Close()

	user := sess.User()
	sess.log.Info("disconnected", zap.String("username", user.Username))

	if !g.presence.Disconnect(user.ID) {
		return
	}
	entry := model.UserEntry(&user, model.StatusOffline)
	g.Broadcast(model.EventUpdateUser, model.UserEvent{
		User:  &entry,
		Alert: &model.Alert{Type: alertError, Text: user.Username + " is offline"},
	})
}

// OnChatMessage handles a chatMessage event. Steps run in order: ban check,
// rate limit, persist, broadcast, cache append, timer reset, then an
// optional bot invocation in the background.
func (g *Gateway) OnChatMessage(ctx context.Context, sess *Session, req model.ChatMessageRequest) {
	user := sess.User()
	log := sess.log.With(zap.String("room", req.Room))

	if user.IsBanned {
		metrics.RejectionsTotal.WithLabelValues("banned").Inc()
		sess.sendError(model.ErrorEvent{Message: errBanned})
		return
	}

	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		metrics.RejectionsTotal.WithLabelValues("invalid").Inc()
		sess.sendError(model.ErrorEvent{Message: errInvalidMessage, Details: err.Error()})
		return
	}
	if err := middleware.ValidateRoom(req.Room); err != nil {
		metrics.RejectionsTotal.WithLabelValues("invalid").Inc()
		sess.sendError(model.ErrorEvent{Message: errInvalidMessage, Details: err.Error()})
		return
	}

	allowed, err := g.limiter.AllowMessage(ctx, user.ID)
	if err != nil {
		log.Error("message rate limit check failed", zap.Error(err))
		metrics.RejectionsTotal.WithLabelValues("rate_limit_error").Inc()
		sess.sendError(model.ErrorEvent{Message: errProcessMessage, Details: "rate limiter unavailable"})
		return
	}
	if !allowed {
		remaining := g.limiter.RemainingMessages(ctx, user.ID)
		metrics.RejectionsTotal.WithLabelValues("rate_limited").Inc()
		sess.sendError(model.ErrorEvent{Message: errRateLimited, RemainingMessages: &remaining})
		return
	}

	msg := &model.Message{
		SenderID:   user.ID,
		SenderType: model.SenderUser,
		Content:    req.Text,
		Room:       req.Room,
		IsGlobal:   !strings.HasPrefix(strings.TrimSpace(req.Text), "@"),
	}
	if err := g.store.CreateMessage(ctx, msg); err != nil {
		log.Error("failed to persist message", zap.Error(err))
		sess.sendError(model.ErrorEvent{Message: errProcessMessage, Details: "failed to save message"})
		return
	}
	metrics.MessagesTotal.WithLabelValues(string(model.SenderUser)).Inc()
	sess.setRoom(req.Room)

	g.Broadcast(model.EventMessage, model.MessageView{
		Message: *msg,
		Sender:  model.UserEntry(&user, model.StatusOnline),
	})
	g.cache.Append(ctx, user.ID, req.Room, model.Turn{Role: model.RoleUser, Content: req.Text})
	g.timers.Reset(user.ID, req.Room)

	name, ok := bot.ParseMention(req.Text)
	if !ok {
		return
	}
	b, ok := g.presence.FindBot(ctx, name)
	if !ok {
		return
	}
	g.startBot(ctx, sess, user, b, req)
}

// startBot checks the bot quota and runs the invocation in the background.
// The typing indicator is always cleared before the reply or the error.
func (g *Gateway) startBot(ctx context.Context, sess *Session, user model.User, b *model.Bot, req model.ChatMessageRequest) {
	allowed, err := g.limiter.AllowBot(ctx, &user)
	if err != nil {
		sess.log.Error("bot rate limit check failed", zap.Error(err))
		metrics.RejectionsTotal.WithLabelValues("rate_limit_error").Inc()
		sess.sendError(model.ErrorEvent{Message: errBotResponse, Details: "rate limiter unavailable"})
		return
	}
	if !allowed {
		remaining := g.limiter.RemainingBot(ctx, &user)
		metrics.RejectionsTotal.WithLabelValues("bot_rate_limited").Inc()
		sess.sendError(model.ErrorEvent{Message: errBotRateLimited, RemainingMessages: &remaining})
		return
	}

	g.Broadcast(model.EventBotTyping, model.BotTypingEvent{BotName: b.Username, IsTyping: true})

	g.bots.Add(1)
	go func() {
		defer g.bots.Done()

		turns := priorTurns(g.cache.Get(ctx, user.ID, req.Room), req.Text)
		view, err := g.invoker.Invoke(ctx, b, req.Text, req.Room, turns)

		g.Broadcast(model.EventBotTyping, model.BotTypingEvent{BotName: b.Username, IsTyping: false})

		if err != nil {
			sess.log.Warn("bot invocation failed", zap.String("bot", b.Username), zap.Error(err))
			sess.sendError(model.ErrorEvent{Message: errBotResponse, Details: err.Error()})
			return
		}

		g.Broadcast(model.EventMessage, view)
		g.cache.Append(ctx, user.ID, req.Room, model.Turn{Role: model.RoleAssistant, Content: view.Content})
		g.timers.Reset(user.ID, req.Room)
	}()
}

// priorTurns drops the just-appended prompt from the cached context so the
// generator does not see it twice.
func priorTurns(turns []model.Turn, prompt string) []model.Turn {
	if n := len(turns); n > 0 && turns[n-1].Role == model.RoleUser && turns[n-1].Content == prompt {
		return turns[:n-1]
	}
	return turns
}

func (g *Gateway) sendInitialMessages(ctx context.Context, sess *Session) {
	msgs, err := g.store.RecentMessages(ctx, g.historyLimit)
	if err != nil {
		sess.log.Error("failed to load recent messages", zap.Error(err))
		sess.sendError(model.ErrorEvent{Message: errInitialMessages})
		return
	}

	views := make([]model.MessageView, 0, len(msgs))
	for _, m := range msgs {
		sender, ok := g.presence.Lookup(ctx, m.SenderID)
		if !ok {
			sender = model.DirectoryEntry{
				ID:     m.SenderID,
				IsBot:  m.SenderType == model.SenderBot,
				Status: model.StatusOffline,
			}
		}
		views = append(views, model.MessageView{Message: *m, Sender: sender})
	}
	sess.send(model.EventInitialMessages, views)
}

func (g *Gateway) sendDirectory(ctx context.Context, sess *Session) {
	entries, err := g.presence.Directory(ctx)
	if err != nil {
		sess.log.Error("failed to load directory", zap.Error(err))
		sess.sendError(model.ErrorEvent{Message: errDirectory})
		return
	}
	sess.send(model.EventInitialBotsAndUsersList, entries)
}

// broadcastDirectory reloads the roster and pushes it to every connection
// but skip. Failures are logged and swallowed.
func (g *Gateway) broadcastDirectory(ctx context.Context, skip string) {
	if err := g.presence.Refresh(ctx); err != nil {
		g.log.Warn("directory refresh failed", zap.Error(err))
		return
	}
	entries, err := g.presence.Directory(ctx)
	if err != nil {
		g.log.Warn("directory snapshot failed", zap.Error(err))
		return
	}
	g.broadcastExcept(skip, model.EventUpdateBotsAndUsers, model.DirectoryEvent{Data: entries})
}
