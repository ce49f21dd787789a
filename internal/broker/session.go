package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"syncservice/internal/engine"
	"syncservice/internal/model"
)

// ErrSessionClosed is returned when sending on a session that has ended.
var ErrSessionClosed = errors.New("session closed")

// ErrSendBufferFull is returned when a slow client has not drained its queue.
var ErrSendBufferFull = errors.New("send buffer full")

// SessionSettings controls websocket timeouts and buffering.
type SessionSettings struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	BufferSize   int
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 20 * time.Second,
		BufferSize:   64,
	}
}

// FrameHandler is called for every frame a client sends other than
// subscribe and unsubscribe.
type FrameHandler func(ctx context.Context, s *Session, f *Frame)

// Session is one websocket client. It is a Subscriber of the groups the
// client joins and leaves them all when the connection ends.
type Session struct {
	id       string
	conn     *websocket.Conn
	broker   *Broker
	settings *SessionSettings
	logger   engine.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession wraps an upgraded websocket connection.
func NewSession(id string, conn *websocket.Conn, broker *Broker, settings *SessionSettings, logger engine.Logger) *Session {
	if settings == nil {
		settings = DefaultSessionSettings()
	}
	return &Session{
		id:       id,
		conn:     conn,
		broker:   broker,
		settings: settings,
		logger:   logger,
		send:     make(chan []byte, settings.BufferSize),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Deliver queues a notification frame without blocking.
func (s *Session) Deliver(_ context.Context, n *model.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	return s.Send(&Frame{Type: FrameNotification, Payload: payload})
}

// Send queues a frame for the write loop without blocking.
func (s *Session) Send(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSendBufferFull
	}
}

// Run serves the session until the client disconnects or ctx ends.
// Requests are handled one at a time in arrival order.
func (s *Session) Run(ctx context.Context, handle FrameHandler) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.close()
		s.broker.UnsubscribeAll(s.id)
		s.logger.Debug("session ended", "session", s.id)
	}()

	go func() {
		defer cancel()
		s.writeLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		// Unblocks ReadMessage.
		s.conn.Close()
	}()

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	})

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				s.logger.Debug("session read failed", "session", s.id, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			s.Send(&Frame{Type: FrameResponse, Error: &FrameError{Category: "BadFrame", Message: err.Error()}})
			continue
		}

		switch f.Type {
		case FrameSubscribe:
			s.broker.Subscribe(f.Group, s)
		case FrameUnsubscribe:
			s.broker.Unsubscribe(f.Group, s.id)
		default:
			handle(ctx, s, &f)
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	ping := time.NewTicker(s.settings.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				// a websocket write deadline cannot be recovered
				s.logger.Debug("session write failed", "session", s.id, "error", err)
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Compile-time check that Session implements Subscriber
var _ Subscriber = (*Session)(nil)
