package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

// HandleRosterEvent applies an admin-originated change to live connections.
// It is the relay subscriber of the gateway.
func (g *Gateway) HandleRosterEvent(ctx context.Context, ev *model.RosterEvent) {
	log := g.log.With(zap.String("event_id", ev.ID), zap.String("event_type", string(ev.Type)))

	switch ev.Type {
	case model.RosterUserUpdated:
		if ev.User == nil {
			log.Warn("roster event without user")
			return
		}
		g.updateSessions(*ev.User)
		g.refreshDirectory(ctx, log)
		entry := g.presence.UserEntry(ev.User)
		g.Broadcast(model.EventUpdateUser, model.UserEvent{User: &entry})

	case model.RosterUserBanned, model.RosterUserUnbanned:
		if ev.User == nil {
			log.Warn("roster event without user")
			return
		}
		g.updateSessions(*ev.User)
		g.refreshDirectory(ctx, log)

		event, alert := model.EventBanUser, model.Alert{Type: alertError, Text: "Your account has been banned"}
		if ev.Type == model.RosterUserUnbanned {
			event, alert = model.EventUnBanUser, model.Alert{Type: alertSuccess, Text: "Your account has been unBanned"}
		}
		g.sendToUser(ev.User.ID, model.EventUpdateUser, model.UserEvent{Alert: &alert})
		entry := g.presence.UserEntry(ev.User)
		g.Broadcast(event, model.UserEvent{User: &entry})

	case model.RosterUserDeleted:
		if ev.User == nil {
			log.Warn("roster event without user")
			return
		}
		g.presence.Drop(ev.User.ID)
		g.refreshDirectory(ctx, log)
		entry := model.UserEntry(ev.User, model.StatusOffline)
		g.Broadcast(model.EventDeleteUser, model.UserEvent{User: &entry})
		for _, s := range g.sessionsOf(ev.User.ID) {
			s.conn.Close()
		}

	case model.RosterBotCreated, model.RosterBotUpdated, model.RosterBotDeleted:
		if ev.Bot == nil {
			log.Warn("roster event without bot")
			return
		}
		g.refreshDirectory(ctx, log)
		g.Broadcast(botEventName(ev.Type), model.BotEvent{Bot: model.BotEntry(ev.Bot)})

	case model.RosterMessageDeleted:
		g.Broadcast(model.EventDeleteMessage, model.DeleteMessageEvent{MessageID: ev.MessageID})

	default:
		log.Warn("unknown roster event")
	}
}

func botEventName(t model.RosterEventType) string {
	switch t {
	case model.RosterBotCreated:
		return model.EventCreateBot
	case model.RosterBotUpdated:
		return model.EventUpdateBot
	default:
		return model.EventDeleteBot
	}
}

// updateSessions replaces the user snapshot held by every connection of u,
// so a ban takes effect on the next chat message.
func (g *Gateway) updateSessions(u model.User) {
	for _, s := range g.sessionsOf(u.ID) {
		u.ExternalUID = s.User().ExternalUID
		s.setUser(u)
	}
}

func (g *Gateway) refreshDirectory(ctx context.Context, log *logger.Logger) {
	if err := g.presence.Refresh(ctx); err != nil {
		log.Warn("directory refresh failed", zap.Error(err))
	}
}
