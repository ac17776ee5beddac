package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	apperrors "callcore/pkg/errors"
	"callcore/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	messageBuffer  = 64
	outgoingBuffer = 64
	statusBuffer   = 16
)

type Config struct {
	URL               string
	Header            http.Header
	// UserID is stamped on heartbeats; other messages carry their own.
	UserID            domain.UserID
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	ReadLimit         int64
	// Reconnect.MaxAttempts bounds consecutive failed redials; zero means
	// retry forever.
	Reconnect retry.Config
}

func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadLimit:         64 * 1024,
		Reconnect: retry.Config{
			Enabled:      true,
			MaxAttempts:  10,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
	}
}

// Client is a reconnecting signaling connection. Frames are JSON objects
// with a "type" field; see Encode and Decode.
type Client struct {
	cfg       Config
	dialer    *websocket.Dialer
	logger    *zap.SugaredLogger
	heartbeat []byte

	messages chan domain.Inbound
	status   chan domain.SignalingStatus
	outgoing chan []byte
	closed   chan struct{}

	mu        sync.Mutex
	open      bool
	started   bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ ports.SignalingChannel = (*Client)(nil)

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 64 * 1024
	}
	heartbeat, err := Encode(domain.Envelope{UserID: cfg.UserID, Message: domain.Heartbeat{}})
	if err != nil {
		heartbeat = []byte(`{"type":"heartbeat"}`)
	}
	return &Client{
		cfg:       cfg,
		heartbeat: heartbeat,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.WriteTimeout,
		},
		logger:   logger.With("component", "signaling"),
		messages: make(chan domain.Inbound, messageBuffer),
		status:   make(chan domain.SignalingStatus, statusBuffer),
		outgoing: make(chan []byte, outgoingBuffer),
		closed:   make(chan struct{}),
	}
}

func (c *Client) Messages() <-chan domain.Inbound        { return c.messages }
func (c *Client) Status() <-chan domain.SignalingStatus { return c.status }

// Connect dials the endpoint once and, on success, keeps the connection
// alive in the background until Close.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("signaling client already connected")
	}
	c.started = true
	c.mu.Unlock()

	select {
	case <-c.closed:
		return domain.ErrSignalingClosed
	default:
	}

	c.emit(domain.SignalingStatus{State: domain.SignalingConnecting})
	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}

	c.wg.Add(1)
	go c.supervise(conn)
	return nil
}

// Send queues a message. It reports false, without error, when the
// connection is not open or the queue is full.
func (c *Client) Send(env domain.Envelope) bool {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		return false
	}

	frame, err := Encode(env)
	if err != nil {
		c.logger.Warnw("dropping unencodable message", "type", env.Message.Type(), "error", err)
		return false
	}
	select {
	case c.outgoing <- frame:
		return true
	default:
		c.logger.Warnw("outgoing queue full; dropping message", "type", env.Message.Type())
		return false
	}
}

// Close stops reconnecting and closes the connection. Messages is never
// closed; Status receives a final closed state.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wg.Wait()
		c.emit(domain.SignalingStatus{State: domain.SignalingClosed})
	})
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)
	return conn, nil
}

func (c *Client) emit(st domain.SignalingStatus) {
	select {
	case c.status <- st:
	default:
		c.logger.Debugw("status listener behind; dropping status", "state", st.State)
	}
}

// emitFinal waits for the listener so a terminal status is never dropped.
func (c *Client) emitFinal(st domain.SignalingStatus) {
	select {
	case c.status <- st:
	case <-c.closed:
	}
}

func (c *Client) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

// supervise serves conn and redials after every unexpected disconnect.
func (c *Client) supervise(conn *websocket.Conn) {
	defer c.wg.Done()
	for conn != nil {
		err := c.serve(conn)
		select {
		case <-c.closed:
			return
		default:
		}
		c.logger.Warnw("signaling connection lost", "error", err)
		conn = c.redial(err)
	}
}

func (c *Client) redial(cause error) *websocket.Conn {
	lastErr := cause
	for attempt := 1; ; attempt++ {
		if budget := c.cfg.Reconnect.MaxAttempts; budget > 0 && attempt > budget {
			c.logger.Errorw("signaling reconnect budget exhausted", "attempts", budget, "error", lastErr)
			c.emitFinal(domain.SignalingStatus{
				State:   domain.SignalingExhausted,
				Attempt: budget,
				Err:     fmt.Errorf("%w: %v", domain.ErrSignalingExhausted, lastErr),
			})
			return nil
		}

		c.emit(domain.SignalingStatus{State: domain.SignalingReconnecting, Attempt: attempt, Err: lastErr})
		timer := time.NewTimer(retry.Backoff(c.cfg.Reconnect, attempt))
		select {
		case <-c.closed:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.logger.Infow("signaling reconnected", "attempt", attempt)
			return conn
		}
		c.logger.Debugw("signaling redial failed", "attempt", attempt, "error", err)
		lastErr = err
	}
}

// serve pumps frames until the connection fails or the client closes.
// The retry counter restarts with every successful open.
func (c *Client) serve(conn *websocket.Conn) error {
	readTimeout := 2*c.cfg.HeartbeatInterval + c.cfg.WriteTimeout
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readErr <- c.readPump(conn, readTimeout)
	}()

	c.setOpen(true)
	c.emit(domain.SignalingStatus{State: domain.SignalingOpen})
	c.logger.Infow("signaling connection open", "url", c.cfg.URL)

	err := c.writePump(conn, readErr)

	c.setOpen(false)
	conn.Close()
	<-readDone
	c.drainOutgoing()
	return err
}

func (c *Client) readPump(conn *websocket.Conn, readTimeout time.Duration) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := Decode(data)
		if err != nil {
			kv := []interface{}{"error", err, "bytes", len(data)}
			if appErr := apperrors.GetAppError(err); appErr != nil {
				kv = append(kv, "code", appErr.Code, "context", appErr.Context)
			}
			c.logger.Warnw("discarding malformed signaling frame", kv...)
			continue
		}
		select {
		case c.messages <- msg:
		case <-c.closed:
			return nil
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, readErr <-chan error) error {
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	write := func(kind int, data []byte) error {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		return conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame := <-c.outgoing:
			if err := write(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-heartbeat.C:
			if err := write(websocket.TextMessage, c.heartbeat); err != nil {
				return err
			}
			if err := write(websocket.PingMessage, nil); err != nil {
				return err
			}
		case err := <-readErr:
			if err == nil {
				err = errors.New("reader stopped")
			}
			return err
		case <-c.closed:
			_ = write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

// drainOutgoing drops frames queued for a connection that is gone.
func (c *Client) drainOutgoing() {
	for {
		select {
		case <-c.outgoing:
		default:
			return
		}
	}
}
