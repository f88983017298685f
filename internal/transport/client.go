package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected indicates an outbound send attempted without a live channel.
var ErrNotConnected = errors.New("interviewer transport is not connected")

// State is the connection lifecycle of the transport channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateErrored      State = "errored"
)

type EventKind string

const (
	EventOpened   EventKind = "connection_opened"
	EventClosed   EventKind = "connection_closed"
	EventError    EventKind = "connection_error"
	EventQuestion EventKind = "question"
	EventReport   EventKind = "report"
)

// Event is one inbound occurrence, delivered in server send order within a
// single connection epoch. A reconnect starts a fresh epoch; consumers drop
// events from stale epochs.
type Event struct {
	Kind     EventKind
	Epoch    uint64
	Question string
	Report   *ReportPayload
	Reason   string
}

// Snapshot is the read-only connection view exposed to the coordinator.
type Snapshot struct {
	State     State
	LastError string
}

// Client owns one logical WebSocket connection to the remote interviewer.
type Client struct {
	url          string
	dialer       *websocket.Dialer
	logger       *slog.Logger
	pingInterval time.Duration

	mu        sync.Mutex
	state     State
	lastErr   error
	conn      *websocket.Conn
	epoch     uint64
	sessionID string
	stopPing  chan struct{}

	// gorilla/websocket permits one concurrent writer; all outbound frames
	// (including pings) serialize through writeMu.
	writeMu sync.Mutex

	events chan Event
}

// NewClient constructs a disconnected transport for the given ws:// URL.
func NewClient(url string, logger *slog.Logger) *Client {
	return &Client{
		url:          url,
		dialer:       websocket.DefaultDialer,
		logger:       logger,
		pingInterval: 30 * time.Second,
		state:        StateDisconnected,
		events:       make(chan Event, 32),
	}
}

// Events returns the inbound event stream. The channel is never closed; it
// spans reconnects, with each connection tagged by epoch.
func (c *Client) Events() <-chan Event { return c.events }

// Snapshot returns the current connection state and last error text.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{State: c.state}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	return snap
}

// Epoch returns the identifier of the current connection attempt.
func (c *Client) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Connect starts an asynchronous dial. Calls while already connecting or
// connected are no-ops; the outcome arrives as an opened or error event.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	go c.dial(ctx, epoch)
}

// dial performs the handshake and starts the read/ping loops on success.
func (c *Client) dial(ctx context.Context, epoch uint64) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.state = StateErrored
		c.lastErr = err
		c.mu.Unlock()
		c.logWarn("interviewer dial failed", "url", c.url, "error", err.Error())
		c.emit(Event{Kind: EventError, Epoch: epoch, Reason: err.Error()})
		return
	}

	c.conn = conn
	c.state = StateConnected
	c.lastErr = nil
	stopPing := make(chan struct{})
	c.stopPing = stopPing
	c.mu.Unlock()

	c.emit(Event{Kind: EventOpened, Epoch: epoch})
	go c.readLoop(conn, epoch)
	go c.pingLoop(conn, epoch, stopPing)
}

// readLoop receives inbound frames until the connection dies. Events are
// dispatched in arrival order; the server guarantees no reordering within one
// connection.
func (c *Client) readLoop(conn *websocket.Conn, epoch uint64) {
	for {
		var msg InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.handleReadFailure(conn, epoch, err)
			return
		}

		switch msg.Type {
		case TypeQuestion:
			c.emit(Event{Kind: EventQuestion, Epoch: epoch, Question: msg.Text})
		case TypeReport:
			c.emit(Event{Kind: EventReport, Epoch: epoch, Report: &ReportPayload{
				Score:      msg.Score,
				Feedback:   msg.Feedback,
				Strengths:  msg.Strengths,
				Weaknesses: msg.Weaknesses,
				Transcript: msg.Transcript,
			}})
		case TypeError:
			c.emit(Event{Kind: EventError, Epoch: epoch, Reason: msg.Reason})
		default:
			c.logWarn("unknown inbound message type", "type", msg.Type)
		}
	}
}

// handleReadFailure tears down one dead connection and reports it.
func (c *Client) handleReadFailure(conn *websocket.Conn, epoch uint64, err error) {
	_ = conn.Close()

	c.mu.Lock()
	current := epoch == c.epoch
	if current {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.state = StateDisconnected
		} else {
			c.state = StateErrored
			c.lastErr = err
		}
		c.conn = nil
		if c.stopPing != nil {
			close(c.stopPing)
			c.stopPing = nil
		}
	}
	c.mu.Unlock()

	if !current {
		return
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.emit(Event{Kind: EventError, Epoch: epoch, Reason: err.Error()})
	}
	c.emit(Event{Kind: EventClosed, Epoch: epoch})
}

// pingLoop keeps the connection alive until stop or write failure.
func (c *Client) pingLoop(conn *websocket.Conn, epoch uint64, stop chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.logWarn("ping failed", "epoch", epoch, "error", err.Error())
				return
			}
		}
	}
}

// InitSession sends the session-initialization message. When disconnected the
// send is logged and dropped; callers gate on connection state first.
func (c *Client) InitSession(topic string, level string, durationMinutes int, userID string, sessionID string) error {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	return c.send(TypeInitSession, InitSessionMessage{
		BaseMessage:     c.base(TypeInitSession),
		Topic:           topic,
		Level:           level,
		DurationMinutes: durationMinutes,
		UserID:          userID,
	})
}

// SubmitAnswer sends one accumulated answer transcript.
func (c *Client) SubmitAnswer(text string) error {
	return c.send(TypeSubmitAnswer, SubmitAnswerMessage{
		BaseMessage: c.base(TypeSubmitAnswer),
		Text:        text,
	})
}

// EndSession signals the remote service to stop and produce a report.
func (c *Client) EndSession() error {
	return c.send(TypeEndSession, EndSessionMessage{BaseMessage: c.base(TypeEndSession)})
}

// base stamps common outbound fields.
func (c *Client) base(messageType string) BaseMessage {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	return BaseMessage{Type: messageType, Ts: time.Now().UnixMilli(), SessionID: sessionID}
}

// send serializes one outbound message onto the live connection.
func (c *Client) send(messageType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		c.logWarn("dropped outbound message while disconnected", "type", messageType, "state", string(state))
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(payload)
}

// Disconnect tears down the connection. Idempotent; advancing the epoch makes
// any in-flight events from the old connection stale.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

// Reset disconnects and clears cached error state back to initial values.
func (c *Client) Reset() {
	c.mu.Lock()
	c.disconnectLocked()
	c.lastErr = nil
	c.sessionID = ""
	c.mu.Unlock()

	// Drop any queued events from prior epochs.
	for {
		select {
		case <-c.events:
		default:
			return
		}
	}
}

func (c *Client) disconnectLocked() {
	c.epoch++
	c.state = StateDisconnected
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// emit queues an event, dropping with a log line if the consumer stalls.
func (c *Client) emit(event Event) {
	select {
	case c.events <- event:
	default:
		c.logWarn("transport event dropped, consumer stalled", "kind", string(event.Kind))
	}
}

func (c *Client) logWarn(message string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(message, args...)
}
