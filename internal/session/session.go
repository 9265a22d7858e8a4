// Package session carries framed scene-graph commands over a websocket.
//
// Inbound frames are decoded by a reader goroutine into an unbounded inbox;
// the owner drains it with Pump on its own goroutine, so handlers never run
// concurrently. The reader never waits on the owner, so a handler that sends
// for a long time cannot stall the socket. Outbound commands go through a
// bounded queue to a writer goroutine that is paced by a token bucket.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/InsulaLabs/meshsync/internal/wire"
)

const (
	DefaultPort      = 12345
	DefaultPath      = "/verse"
	DefaultQueueSize = 1024

	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
)

// ErrClosed is the cause recorded when the session is closed locally.
var ErrClosed = errors.New("session closed")

// ClosedError is returned once the connection is gone. Err is what ended it.
type ClosedError struct {
	Err error
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("connection lost: %v", e.Err)
}

func (e *ClosedError) Unwrap() error {
	return e.Err
}

type Config struct {
	Address    string
	Port       int
	Path       string
	Secure     bool
	SkipVerify bool

	// SendRate caps outbound frames per second. Zero means unlimited.
	SendRate  float64
	SendBurst int
	// QueueSize bounds the outbound queue. Send blocks while it is full.
	QueueSize int

	Logger *slog.Logger
}

// URL returns the websocket endpoint described by cfg.
func (cfg Config) URL() *url.URL {
	scheme := "ws"
	if cfg.Secure {
		scheme = "wss"
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(cfg.Address, strconv.Itoa(port)),
		Path:   path,
	}
}

// Handler consumes inbound commands. A non-nil error stops Pump and is
// returned to its caller.
type Handler interface {
	Handle(m wire.Message) error
}

type HandlerFunc func(m wire.Message) error

func (f HandlerFunc) Handle(m wire.Message) error {
	return f(m)
}

type Session struct {
	ID uuid.UUID

	conn    *websocket.Conn
	logger  *slog.Logger
	limiter *rate.Limiter

	out chan []byte

	inMu     sync.Mutex
	inbox    []wire.Message
	readDone bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu    sync.Mutex
	cause error

	closeOnce sync.Once
}

// Dial connects to the server and starts the reader and writer.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	u := cfg.URL()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipVerify,
		},
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status: %s): %w", u, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", u, err)
	}
	return newSession(conn, cfg, logger), nil
}

func newSession(conn *websocket.Conn, cfg Config, logger *slog.Logger) *Session {
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	s := &Session{
		ID:      id,
		conn:    conn,
		logger:  logger.WithGroup("session").With("id", id.String()),
		limiter: rate.NewLimiter(limit, burst),
		out:     make(chan []byte, queue),
		ctx:     gctx,
		cancel:  cancel,
		group:   g,
	}
	conn.SetPongHandler(func(string) error {
		s.logger.Debug("Received pong from server")
		return nil
	})
	g.Go(s.readPump)
	g.Go(s.writePump)
	s.logger.Info("Connected", "remote", conn.RemoteAddr().String())
	return s
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause == nil {
		s.cause = err
	}
}

// Err returns what ended the session, or nil while it is alive.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) closedError() error {
	err := s.Err()
	if err == nil {
		err = ErrClosed
	}
	return &ClosedError{Err: err}
}

// Done is closed when both pumps have stopped or are stopping.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Send frames m and queues it for the writer. It blocks while the queue is
// full and fails once the session has ended.
func (s *Session) Send(m wire.Message) error {
	frame, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	select {
	case <-s.ctx.Done():
		return s.closedError()
	default:
	}
	select {
	case s.out <- frame:
		return nil
	case <-s.ctx.Done():
		return s.closedError()
	}
}

// Terminate asks the server to end the session.
func (s *Session) Terminate() error {
	s.logger.Info("Sending terminate")
	return s.Send(&wire.ConnectTerminate{Reason: wire.TermClient})
}

// Pump hands every queued inbound command to h and returns without waiting
// for more. It returns h's first error, or a *ClosedError once the reader has
// stopped and the inbox is empty.
func (s *Session) Pump(h Handler) error {
	for {
		m, done := s.next()
		if m == nil {
			if done {
				return s.closedError()
			}
			return nil
		}
		if err := h.Handle(m); err != nil {
			return err
		}
	}
}

// Pending is the number of inbound commands waiting for Pump.
func (s *Session) Pending() int {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	return len(s.inbox)
}

func (s *Session) push(msgs []wire.Message) {
	s.inMu.Lock()
	s.inbox = append(s.inbox, msgs...)
	s.inMu.Unlock()
}

// next pops the oldest inbound command. done reports that the reader has
// stopped and nothing more will arrive.
func (s *Session) next() (m wire.Message, done bool) {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	if len(s.inbox) == 0 {
		s.inbox = nil
		return nil, s.readDone
	}
	m = s.inbox[0]
	s.inbox[0] = nil
	s.inbox = s.inbox[1:]
	return m, false
}

// Close stops both pumps and closes the connection. It is safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.fail(ErrClosed)
		s.cancel()
		if err := s.group.Wait(); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Debug("Pumps stopped", "error", err)
		}
	})
	return nil
}

func (s *Session) readPump() error {
	defer func() {
		s.inMu.Lock()
		s.readDone = true
		s.inMu.Unlock()
	}()
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Error("Error reading from websocket", "error", err)
			} else {
				s.logger.Info("Websocket closed", "error", err)
			}
			s.fail(err)
			return err
		}
		if messageType != websocket.BinaryMessage {
			s.logger.Warn("Ignoring non-binary message", "type", messageType)
			continue
		}
		msgs, err := wire.UnmarshalAll(data)
		s.push(msgs)
		if err != nil {
			err = fmt.Errorf("bad frame from server: %w", err)
			s.fail(err)
			return err
		}
	}
}

func (s *Session) writePump() error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case frame := <-s.out:
			if err := s.limiter.Wait(s.ctx); err != nil {
				return s.shutdown()
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.logger.Error("Error writing to websocket", "error", err)
				s.fail(err)
				return err
			}
		case <-ticker.C:
			s.logger.Debug("Sending ping to server")
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.fail(err)
				return err
			}
		case <-s.ctx.Done():
			return s.shutdown()
		}
	}
}

// shutdown says goodbye when the session was closed locally.
func (s *Session) shutdown() error {
	err := s.Err()
	if errors.Is(err, ErrClosed) {
		s.flush()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil {
			s.logger.Debug("Error sending close message", "error", werr)
		}
	}
	return err
}

// flush writes whatever is still queued, unpaced, so a terminate sent right
// before Close reaches the server.
func (s *Session) flush() {
	for {
		select {
		case frame := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.logger.Debug("Error flushing queued frame", "error", err)
				return
			}
		default:
			return
		}
	}
}
