// Package client is the TinyMQ broker client: one TCP connection, a
// single reader goroutine that dispatches inbound frames, a correlation
// table for request/response operations, the publish/subscribe surface,
// and the delegation subsystem.
//
// All exported methods are safe for concurrent use. Callbacks are
// delivered from the reader goroutine (directly or on short-lived
// goroutines) and must not block; they may call back into the client's
// non-blocking methods such as Publish.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinymq/tinymq-go/internal/config"
	"github.com/tinymq/tinymq-go/internal/events"
	"github.com/tinymq/tinymq-go/internal/wire"
)

const (
	// DefaultConnectTimeout bounds dial plus CONNACK wait.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultRequestTimeout bounds correlated request round trips.
	DefaultRequestTimeout = 5 * time.Second
)

// Identity supplies the client id stamped on CONN frames and effective
// topics. *store.Store satisfies it.
type Identity interface {
	GetClientID() (string, error)
}

// MessageHandler is called for each message received on a subscribed
// topic. The topic is the normalised form (any ["x"] wrapper removed).
type MessageHandler func(topic string, payload []byte)

// Client owns the broker connection. Create with New, then Connect.
type Client struct {
	identity       Identity
	logger         *slog.Logger
	bus            *events.Bus
	connectTimeout time.Duration
	requestTimeout time.Duration

	// mu guards the connection state below.
	mu        sync.Mutex
	conn      net.Conn
	connected bool
	clientID  string
	connackCh chan struct{}

	// writeMu serialises every outbound frame.
	writeMu sync.Mutex

	// corrMu guards the one-shot correlation table. Lock ordering:
	// never take mu while holding corrMu.
	corrMu sync.Mutex
	corr   map[wire.Type]*corrEntry

	handlerMu sync.Mutex
	handlers  map[string]MessageHandler

	stateMu sync.Mutex
	stateCb func(connected bool)

	cbMu           sync.Mutex
	adminNotifyCb  func(map[string]any)
	adminResultCb  func(map[string]any)
	sensorStatusCb func(SensorStatus)
	adminRequestCb AdminRequestCallback
	resubscribeCb  func()

	fetchingTopics      atomic.Bool
	fetchingAdminTopics atomic.Bool
}

// New creates a disconnected client.
func New(identity Identity, opts ...Option) *Client {
	c := &Client{
		identity:       identity,
		logger:         slog.Default(),
		connectTimeout: DefaultConnectTimeout,
		requestTimeout: DefaultRequestTimeout,
		corr:           make(map[wire.Type]*corrEntry),
		handlers:       make(map[string]MessageHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the identity used by the current or most recent
// connection, or "" before the first Connect.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// IsConnected reports whether a CONNACK-confirmed connection is live.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ObserveState registers the single connection-state observer. The
// callback fires on Connected and Disconnected transitions, from the
// reader goroutine; it must be short.
func (c *Client) ObserveState(fn func(connected bool)) {
	c.stateMu.Lock()
	c.stateCb = fn
	c.stateMu.Unlock()
}

// Connect dials the broker, sends CONN with the stored client id, and
// waits up to the connect timeout for CONNACK. On success the reader
// goroutine is running and the client is Connected.
func (c *Client) Connect(host string, port int) error {
	id, err := c.identity.GetClientID()
	if err != nil {
		return fmt.Errorf("load client id: %w", err)
	}
	if id == "" {
		return ErrNoIdentity
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, c.connectTimeout)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", addr, err)
	}

	ch := make(chan struct{})
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.clientID = id
	c.connackCh = ch
	c.mu.Unlock()

	if err := c.writeFrame(conn, wire.NewFrame(wire.TypeConn, []byte(id))); err != nil {
		c.mu.Lock()
		c.conn = nil
		c.connackCh = nil
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("send CONN: %w", ErrConnectionLost)
	}

	go c.readLoop(conn)

	select {
	case <-ch:
		// Woken by CONNACK or by teardown; the flag disambiguates.
		if c.IsConnected() {
			c.logger.Info("broker connected", "addr", addr, "client_id", id)
			return nil
		}
		return ErrConnectionLost
	case <-time.After(c.connectTimeout):
		conn.Close()
		return fmt.Errorf("waiting for CONNACK: %w", ErrTimeout)
	}
}

// Disconnect closes the connection. Safe from any goroutine, including
// from within a handler running on the reader: it only closes the
// socket and lets the reader observe the error and finish teardown, so
// there is no self-join.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Send serialises and writes one frame. A write failure closes the
// connection; the reader completes the transition to Disconnected.
func (c *Client) Send(f *wire.Frame) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	if err := c.writeFrame(conn, f); err != nil {
		conn.Close()
		return fmt.Errorf("send %v: %w", f.Type, ErrConnectionLost)
	}
	return nil
}

func (c *Client) writeFrame(conn net.Conn, f *wire.Frame) error {
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = conn.Write(buf)
	return err
}

// readLoop is the dedicated reader: it owns the inbound buffer, decodes
// complete frames in arrival order, and dispatches each one before
// reading more.
func (c *Client) readLoop(conn net.Conn) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		n, err := conn.Read(chunk)
		if err != nil {
			c.teardown(conn, err)
			return
		}
		buf = append(buf, chunk[:n]...)

		off := 0
		for {
			f, consumed, err := wire.Decode(buf[off:])
			if errors.Is(err, wire.ErrNeedMore) {
				break
			}
			off += consumed
			if err != nil {
				// Unknown type with a valid length: skip the frame,
				// keep the connection.
				c.logger.Debug("skipping unknown frame", "error", err)
				continue
			}
			c.logger.Log(context.Background(), config.LevelTrace,
				"frame received", "type", f.Type.String(), "flags", f.Flags, "len", len(f.Payload))
			c.dispatch(f)
		}
		buf = append(buf[:0], buf[off:]...)
	}
}

// teardown runs exactly once per connection, on the reader goroutine.
func (c *Client) teardown(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = nil
	wasConnected := c.connected
	c.connected = false
	ch := c.connackCh
	c.connackCh = nil
	c.mu.Unlock()

	conn.Close()
	if ch != nil {
		close(ch) // wake a Connect still waiting for CONNACK
	}
	c.releaseWaiters(ErrConnectionLost)

	if wasConnected {
		c.logger.Info("broker disconnected", "cause", cause)
		c.notifyState(false)
		c.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceBroker,
			Kind:      events.KindDisconnected,
		})
	}
}

func (c *Client) notifyState(connected bool) {
	c.stateMu.Lock()
	fn := c.stateCb
	c.stateMu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

// dispatch routes one inbound frame: a one-shot correlation handler
// wins, then the built-in routes, then log-and-drop.
func (c *Client) dispatch(f *wire.Frame) {
	if c.deliverCorrelated(f) {
		return
	}

	switch f.Type {
	case wire.TypeConnack:
		c.handleConnack()
	case wire.TypePub:
		c.handleInboundPub(f.Payload)
	case wire.TypeAdminNotify:
		c.handleAdminNotify(f.Payload)
	case wire.TypeAdminResult:
		c.handleAdminResult(f.Payload)
	case wire.TypeSensorStatusResp:
		c.handleSensorStatus(f.Payload)
	case wire.TypeAdminReqAck:
		c.handleAdminReqAck(f)
	case wire.TypePuback, wire.TypeSuback, wire.TypeUnsuback:
		c.logger.Debug("broker ack", "type", f.Type.String())
	default:
		c.logger.Debug("dropping unhandled frame", "type", f.Type.String())
	}
}

func (c *Client) handleConnack() {
	c.mu.Lock()
	already := c.connected
	c.connected = true
	ch := c.connackCh
	c.connackCh = nil
	c.mu.Unlock()

	if already {
		return
	}
	if ch != nil {
		close(ch)
	}
	c.notifyState(true)
	c.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceBroker,
		Kind:      events.KindConnected,
	})
}
