package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens the underlying WebSocket connection.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (*websocket.Conn, error)
}

// websocketDialer authenticates with a bearer token on the upgrade request.
type websocketDialer struct {
	dialer *websocket.Dialer
}

func newWebsocketDialer(handshakeTimeout time.Duration) *websocketDialer {
	return &websocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

func (d *websocketDialer) Dial(ctx context.Context, url, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// session is one live connection. The control loop owns the session
// pointer. The reader and flusher goroutines share the conn through the
// methods below.
type session struct {
	gen          uint64
	conn         *websocket.Conn
	writeTimeout time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	writeMu      sync.Mutex
	lastActivity atomic.Int64 // unix nanos

	err       error         // set by the reader before done is closed
	done      chan struct{} // closed when the reader exits
	flushDone chan struct{} // closed when the flusher exits
	closeOnce sync.Once
}

func newSession(parent context.Context, gen uint64, conn *websocket.Conn, writeTimeout time.Duration, now func() time.Time) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{
		gen:          gen,
		conn:         conn,
		writeTimeout: writeTimeout,
		now:          now,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		flushDone:    make(chan struct{}),
	}
	s.touch()

	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		s.touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return s
}

func (s *session) touch() {
	s.lastActivity.Store(s.now().UnixNano())
}

func (s *session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActivity.Load()))
}

// write sends one text frame.
func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// ping sends an application ping frame and a protocol ping.
func (s *session) ping() error {
	if err := s.write(pingFrame); err != nil {
		return err
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// closeGracefully sends a close frame before closing.
func (s *session) closeGracefully() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
	s.close()
}

// close is safe to call more than once.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

var pingFrame = []byte(`{"type":"ping"}`)
