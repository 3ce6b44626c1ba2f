package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dm-service/internal/models"
)

type frame struct {
	Action  string `json:"action"`
	OtherID int    `json:"other_id"`
}

// Stream is a live event session. It satisfies reconcile.Subscriber.
type Stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan models.Envelope
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

// Dial opens the websocket session of the member owning token.
func Dial(ctx context.Context, baseURL, token string) (*Stream, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		return nil, err
	}

	s := &Stream{
		conn:   conn,
		events: make(chan models.Envelope, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events yields envelopes in arrival order. It is closed when the session ends.
func (s *Stream) Events() <-chan models.Envelope {
	return s.events
}

// Err reports why the session ended.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe binds the thread with otherID.
func (s *Stream) Subscribe(_ context.Context, otherID int) error {
	return s.send(frame{Action: "subscribe", OtherID: otherID})
}

// Unsubscribe releases the thread with otherID.
func (s *Stream) Unsubscribe(_ context.Context, otherID int) error {
	return s.send(frame{Action: "unsubscribe", OtherID: otherID})
}

// Close ends the session.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) send(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(f)
}

func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		var env models.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		select {
		case s.events <- env:
		case <-s.done:
			return
		}
	}
}
