package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/capitalize-ai/botchat/internal/model"
)

const (
	sendBuffer   = 100
	writeTimeout = 5 * time.Second
	enqueueWait  = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 64 * 1024
)

var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendTimeout is returned when the send buffer stays full for enqueueWait.
	ErrSendTimeout = errors.New("send timed out")
	// ErrSendBufferFull is returned by trySend when the send buffer is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is a websocket with a single writer goroutine. Every frame, including
// pings, goes through writeLoop so writes never race.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// flush writes frames queued before Close.
func (c *Conn) flush() {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	for {
		select {
		case data := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send frames data as {"event": event, "data": data} and queues it.
func (c *Conn) Send(event string, data any) error {
	frame, err := encode(event, data)
	if err != nil {
		return err
	}
	return c.sendRaw(frame)
}

func (c *Conn) sendRaw(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-time.After(enqueueWait):
		return ErrSendTimeout
	}
}

// trySend queues frame without waiting.
func (c *Conn) trySend(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
// Safe to call repeatedly.
func (c *Conn) Close() {
	c.cancel()
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) readFrame() (model.Envelope, error) {
	var env model.Envelope
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, errMalformedFrame
	}
	return env, nil
}

var errMalformedFrame = errors.New("malformed frame")

func encode(event string, data any) ([]byte, error) {
	env := model.Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
