package gateway

import (
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/middleware"
	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

// Session is the state of one live connection. Sessions are owned by the
// Gateway and looked up by connection id; nothing is stored on the socket.
type Session struct {
	ID       string
	Identity *middleware.Identity

	conn *Conn
	log  *logger.Logger

	mu   sync.RWMutex
	user model.User
	room string
}

// User returns a copy of the session's user snapshot.
func (s *Session) User() model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// UserID returns the internal id of the connected user.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.ID
}

// Room returns the room of the last message sent on this connection.
func (s *Session) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Session) setUser(u model.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Session) setRoom(room string) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

func (s *Session) send(event string, data any) {
	if err := s.conn.Send(event, data); err != nil {
		s.log.Debug("send dropped", zap.String("event", event), zap.Error(err))
	}
}

func (s *Session) sendError(ev model.ErrorEvent) {
	s.send(model.EventError, ev)
}
