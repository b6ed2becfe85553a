package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/citysense/citysense/internal/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 32
)

var (
	// ErrSendBufferFull means the client's outbound buffer is saturated. The
	// caller treats this as a dead peer and evicts the connection.
	ErrSendBufferFull = errors.New("client send buffer full")
	// ErrClientClosed means the writer has already shut down.
	ErrClientClosed = errors.New("client closed")
)

// sender is the outbound half of a connection. Tests substitute a fake.
type sender interface {
	enqueue(msg []byte) error
	stop()
	stopGraceful(reason string)
}

// Client is one live duplex channel to an observer. It carries exactly one
// user id and one role for its whole lifetime. The registry owns membership;
// handlers only ever hold a reference.
type Client struct {
	UserID int
	Role   string

	id     uuid.UUID
	writer sender
}

// NewClient wraps an upgraded WebSocket connection. The returned client's
// writer goroutine is already running.
func NewClient(conn *websocket.Conn, userID int, role string, clock clockwork.Clock) *Client {
	return &Client{
		UserID: userID,
		Role:   role,
		id:     uuid.New(),
		writer: newClientWriter(conn, clock),
	}
}

// ID identifies the connection in logs. Distinct from the user id: one user
// may hold several connections.
func (c *Client) ID() string { return c.id.String() }

// Send enqueues a serialized event for delivery. It never blocks: a full
// buffer returns ErrSendBufferFull so one stalled peer cannot hold up a
// broadcast to the rest.
func (c *Client) Send(msg []byte) error { return c.writer.enqueue(msg) }

// Close tears the connection down immediately.
func (c *Client) Close() { c.writer.stop() }

// CloseGraceful sends a close frame with the given reason before closing.
func (c *Client) CloseGraceful(reason string) { c.writer.stopGraceful(reason) }

// clientWriter serializes all writes to one WebSocket connection through a
// single goroutine, enforcing write deadlines and ping/pong keepalive.
type clientWriter struct {
	conn        *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newClientWriter(conn *websocket.Conn, clock clockwork.Clock) *clientWriter {
	cw := &clientWriter{
		conn:        conn,
		clock:       clock,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	cw.configurePongHandler()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg, ok := <-cw.sendChannel:
			if !ok {
				return
			}
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			metrics.MessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.PingFailuresTotal.Inc()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

func (cw *clientWriter) enqueue(msg []byte) error {
	select {
	case <-cw.doneChannel:
		return ErrClientClosed
	default:
	}
	select {
	case cw.sendChannel <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}

// stopGraceful waits for the run goroutine to exit before writing the close
// frame, so there is never a concurrent write on the connection.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}

func (cw *clientWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.conn.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}

func (cw *clientWriter) updateReadDeadline() {
	_ = cw.conn.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}
