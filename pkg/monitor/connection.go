package monitor

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State is the connection lifecycle state. Exactly one value holds at a
// time per Connection; transitions are the only way it changes.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ErrInvalidWorkflowID is returned by Connect for identifiers that are not
// canonical UUIDs; no network operation is attempted for them.
var ErrInvalidWorkflowID = errors.New("invalid workflow identifier")

// Logger defines the logging interface for the monitor package.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(format string, args ...interface{})  {}
func (nopLogger) Errorf(format string, args ...interface{}) {}

// Config holds the tunables of a Connection. The zero value of every field
// is replaced by the documented default.
type Config struct {
	BaseURL   string // ws(s) endpoint, e.g. "wss://api.example.com/ws/workflows"
	SessionID string // optional caller session, appended as a query parameter

	Dialer Dialer
	Logger Logger

	HeartbeatInterval    time.Duration // ping cadence while connected, default 30s
	PongTimeout          time.Duration // watchdog armed per ping, default 10s
	MaxReconnectAttempts int           // reconnect budget, default 5
	ReconnectBaseDelay   time.Duration // first retry delay, default 1s
	ReconnectMaxDelay    time.Duration // backoff cap, default 30s
	DialTimeout          time.Duration // per-attempt dial bound, default 15s
}

func (c Config) withDefaults() Config {
	out := c
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	if out.Dialer == nil {
		out.Dialer = NewWebSocketDialer()
	}
	if out.Logger == nil {
		out.Logger = nopLogger{}
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 30 * time.Second
	}
	if out.PongTimeout <= 0 {
		out.PongTimeout = 10 * time.Second
	}
	if out.MaxReconnectAttempts <= 0 {
		out.MaxReconnectAttempts = 5
	}
	if out.ReconnectBaseDelay <= 0 {
		out.ReconnectBaseDelay = time.Second
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = 30 * time.Second
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 15 * time.Second
	}
	return out
}

type messageSub struct {
	id int
	fn func(Message)
}

type stateSub struct {
	id int
	fn func(old, next State)
}

// Connection owns one physical socket per active workflow. It drives the
// four-state lifecycle, the JSON ping/pong heartbeat and the capped
// exponential-backoff reconnection procedure, and fans validated messages
// out to subscribers in registration order.
//
// A Connection is an explicitly owned value: callers that need to monitor
// several workflows at once create several Connections.
type Connection struct {
	cfg Config

	mu              sync.Mutex
	state           State
	workflowID      string
	transport       Transport
	shouldReconnect bool
	attempts        int
	// gen is bumped on every Connect/Disconnect. Timers and read loops
	// capture the value they were started under and become no-ops once it
	// moves on, so nothing fires after teardown.
	gen uint64

	pingTimer      *time.Timer
	pongTimer      *time.Timer
	reconnectTimer *time.Timer

	subMu     sync.Mutex
	nextSubID int
	msgSubs   []messageSub
	stateSubs []stateSub
}

// NewConnection creates a Connection; no socket is opened until Connect.
func NewConnection(cfg Config) *Connection {
	return &Connection{
		cfg:   cfg.withDefaults(),
		state: StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WorkflowID returns the identifier of the workflow being monitored.
func (c *Connection) WorkflowID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workflowID
}

// Subscribe registers a handler for every validated inbound message.
// Handlers run synchronously in registration order; a panic in one handler
// does not prevent the others from being notified. The returned func
// cancels the subscription.
func (c *Connection) Subscribe(fn func(Message)) func() {
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.msgSubs = append(c.msgSubs, messageSub{id: id, fn: fn})
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.msgSubs {
			if s.id == id {
				c.msgSubs = append(c.msgSubs[:i], c.msgSubs[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers a handler for every state transition. Handlers
// run synchronously in registration order and receive the previous and new
// state. The returned func cancels the subscription.
func (c *Connection) OnStateChange(fn func(old, next State)) func() {
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.stateSubs = append(c.stateSubs, stateSub{id: id, fn: fn})
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.stateSubs {
			if s.id == id {
				c.stateSubs = append(c.stateSubs[:i], c.stateSubs[i+1:]...)
				return
			}
		}
	}
}

// Connect validates the workflow identifier and starts establishing the
// channel. Identifiers that are not canonical UUIDs are rejected before
// any network operation and move the state directly to StateError. Any
// previous connection owned by this instance is torn down first: at most
// one workflow is monitored per Connection.
func (c *Connection) Connect(workflowID string) error {
	if !validWorkflowID(workflowID) {
		c.mu.Lock()
		old := c.state
		c.state = StateError
		c.mu.Unlock()
		c.notifyState(old, StateError)
		return errors.Wrapf(ErrInvalidWorkflowID, "%q", workflowID)
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.stopTimersLocked()
	prev := c.transport
	c.transport = nil
	c.workflowID = workflowID
	c.shouldReconnect = true
	c.attempts = 0
	old := c.state
	c.state = StateConnecting
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	if old != StateConnecting {
		c.notifyState(old, StateConnecting)
	}
	go c.dial(gen)
	return nil
}

// Disconnect tears the connection down unconditionally: the reconnect flag
// is cleared, all pending timers are cancelled, the transport is closed
// and the state becomes StateDisconnected. Nothing scheduled before the
// call fires afterwards.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.shouldReconnect = false
	c.stopTimersLocked()
	t := c.transport
	c.transport = nil
	old := c.state
	c.state = StateDisconnected
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	if old != StateDisconnected {
		c.notifyState(old, StateDisconnected)
	}
}

// Send writes one outbound command if the connection is live. When not
// connected it is a silent no-op; callers that need delivery guarantees
// surface failure through their own API (see Monitor.CancelWorkflow).
func (c *Connection) Send(cmd Command) error {
	c.mu.Lock()
	if c.state != StateConnected || c.transport == nil {
		c.mu.Unlock()
		return nil
	}
	t := c.transport
	c.mu.Unlock()
	return t.WriteJSON(cmd)
}

func (c *Connection) dial(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.shouldReconnect {
		c.mu.Unlock()
		return
	}
	workflowID := c.workflowID
	c.mu.Unlock()

	url := c.endpoint(workflowID)
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	t, err := c.cfg.Dialer.Dial(ctx, url)
	cancel()
	if err != nil {
		c.cfg.Logger.Errorf("Failed to dial %s: %v", url, err)
		c.setState(gen, StateError)
		c.scheduleReconnect(gen)
		return
	}

	c.mu.Lock()
	if gen != c.gen || !c.shouldReconnect {
		c.mu.Unlock()
		_ = t.Close()
		return
	}
	c.transport = t
	c.attempts = 0
	c.mu.Unlock()

	c.cfg.Logger.Infof("Connected to workflow %s", workflowID)
	c.setState(gen, StateConnected)
	c.startHeartbeat(gen)
	go c.readLoop(gen, t)
}

func (c *Connection) readLoop(gen uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			c.handleClosed(gen, err)
			return
		}
		msg, perr := ParseMessage(data)
		if perr != nil {
			c.cfg.Logger.Infof("Dropping malformed frame: %v", perr)
			continue
		}
		msg = Sanitize(msg)
		if msg.Type == PongMessage {
			c.clearWatchdog(gen)
		}

		c.mu.Lock()
		current := gen == c.gen
		c.mu.Unlock()
		if !current {
			return
		}
		c.notifyMessage(msg)
	}
}

// handleClosed runs when the read loop observes a transport error or
// close. Caller-initiated teardown bumps gen first, so this only reacts to
// closures the caller did not ask for.
func (c *Connection) handleClosed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	c.transport = nil
	reconnect := c.shouldReconnect
	old := c.state
	c.state = StateDisconnected
	c.mu.Unlock()

	c.cfg.Logger.Infof("Connection closed: %v", err)
	if old != StateDisconnected {
		c.notifyState(old, StateDisconnected)
	}
	if reconnect {
		c.scheduleReconnect(gen)
	}
}

// scheduleReconnect increments the attempt counter and either schedules
// the next dial after min(base * 2^(attempt-1), cap) or, once the budget
// of MaxReconnectAttempts is spent, settles permanently in StateError
// until the caller invokes Connect again.
func (c *Connection) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.shouldReconnect {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.shouldReconnect = false
		old := c.state
		c.state = StateError
		c.mu.Unlock()
		c.cfg.Logger.Errorf("Reconnect budget exhausted after %d attempts", c.cfg.MaxReconnectAttempts)
		if old != StateError {
			c.notifyState(old, StateError)
		}
		return
	}
	attempt := c.attempts
	delay := reconnectDelay(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, attempt)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.setState(gen, StateConnecting)
		c.dial(gen)
	})
	c.mu.Unlock()
	c.cfg.Logger.Infof("Reconnect attempt %d/%d scheduled in %s", attempt, c.cfg.MaxReconnectAttempts, delay)
}

func reconnectDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// startHeartbeat begins the ping cycle for a freshly opened transport.
func (c *Connection) startHeartbeat(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.pingTimer = time.AfterFunc(c.cfg.HeartbeatInterval, func() { c.heartbeat(gen) })
}

// heartbeat sends one ping and arms the pong watchdog. A silently dead
// connection never answers, the watchdog force-closes the transport and
// the normal close path reconnects.
func (c *Connection) heartbeat(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.transport == nil {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.mu.Unlock()

	if err := t.WriteJSON(PingCommand()); err != nil {
		c.cfg.Logger.Errorf("Failed to send heartbeat ping: %v", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	// A watchdog from an earlier ping may still be pending when the pong
	// interval exceeds the heartbeat interval; re-arm instead of orphaning
	// it, otherwise clearWatchdog can no longer reach it.
	if c.pongTimer != nil {
		c.pongTimer.Stop()
	}
	c.pongTimer = time.AfterFunc(c.cfg.PongTimeout, func() { c.watchdogFired(gen) })
	c.pingTimer = time.AfterFunc(c.cfg.HeartbeatInterval, func() { c.heartbeat(gen) })
	c.mu.Unlock()
}

func (c *Connection) clearWatchdog(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

func (c *Connection) watchdogFired(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.transport == nil {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.mu.Unlock()

	c.cfg.Logger.Errorf("Heartbeat timeout: no pong within %s, closing connection", c.cfg.PongTimeout)
	// The read loop unblocks with an error and drives reconnection.
	_ = t.Close()
}

func (c *Connection) stopHeartbeatLocked() {
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

func (c *Connection) stopTimersLocked() {
	c.stopHeartbeatLocked()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// setState performs a transition and notifies subscribers, unless the
// generation has moved on or the state is unchanged.
func (c *Connection) setState(gen uint64, st State) {
	c.mu.Lock()
	if gen != c.gen || c.state == st {
		c.mu.Unlock()
		return
	}
	old := c.state
	c.state = st
	c.mu.Unlock()
	c.notifyState(old, st)
}

func (c *Connection) notifyState(old, next State) {
	c.subMu.Lock()
	subs := append([]stateSub(nil), c.stateSubs...)
	c.subMu.Unlock()
	for _, s := range subs {
		c.safeNotifyState(s, old, next)
	}
}

func (c *Connection) safeNotifyState(s stateSub, old, next State) {
	defer func() {
		if r := recover(); r != nil {
			c.cfg.Logger.Errorf("State subscriber panicked: %v", r)
		}
	}()
	s.fn(old, next)
}

func (c *Connection) notifyMessage(msg Message) {
	c.subMu.Lock()
	subs := append([]messageSub(nil), c.msgSubs...)
	c.subMu.Unlock()
	for _, s := range subs {
		c.safeNotifyMessage(s, msg)
	}
}

func (c *Connection) safeNotifyMessage(s messageSub, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.cfg.Logger.Errorf("Message subscriber panicked: %v", r)
		}
	}()
	s.fn(msg)
}

func (c *Connection) endpoint(workflowID string) string {
	u := c.cfg.BaseURL + "/" + workflowID
	if c.cfg.SessionID != "" {
		u += "?session_id=" + url.QueryEscape(c.cfg.SessionID)
	}
	return u
}

// validWorkflowID accepts only the canonical 36-character UUID textual
// form; everything else is rejected client-side.
func validWorkflowID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
