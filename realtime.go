package letly

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Protocol
// ============================================================================

// Socket event names. One JSON text frame per event, both directions.
const (
	EventAuthenticate   = "authenticate"
	EventMessage        = "message"
	EventToAdminMessage = "toAdminMessage"
	EventFetchChats     = "fetchChats"
	EventOnlineUsers    = "onlineUsers"
	EventUnreadMessages = "unReadMessages"
	EventMessageList    = "messageList"
	EventUserStatus     = "userStatus"
	EventError          = "error"
)

type authenticateFrame struct {
	Event string `json:"event"`
	Token string `json:"token"`
}

type messageFrame struct {
	Event      string   `json:"event"`
	ReceiverID string   `json:"receiverId,omitempty"`
	Message    string   `json:"message"`
	Images     []string `json:"images"`
}

type requestFrame struct {
	Event      string `json:"event"`
	ReceiverID string `json:"receiverId,omitempty"`
}

// inboundFrame is the inbound envelope. The payload field name varies by
// event: `data` for most, `message` for the ad hoc shapes.
type inboundFrame struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

func (f *inboundFrame) payload() json.RawMessage {
	if f.Data != nil {
		return f.Data
	}
	return f.Message
}

// unreadPayload is the dual-purpose unReadMessages payload: a counter and
// the unread batch itself.
type unreadPayload struct {
	Count    int       `json:"count"`
	Messages []Message `json:"messages"`
}

// ============================================================================
// Connection State
// ============================================================================

// SocketState is the connection state of a chat surface.
type SocketState string

const (
	StateDisconnected SocketState = "disconnected"
	StateConnecting   SocketState = "connecting"
	StateConnected    SocketState = "connected"
	StateError        SocketState = "error"
)

// SocketConfig configures a ChatSocket.
type SocketConfig struct {
	// Reconnect enables capped exponential-backoff reconnection after a
	// transport-initiated close. Off by default: the surface must be
	// reopened by the user, matching the production contract.
	Reconnect            bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func (c *SocketConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
}

// ============================================================================
// Event Dispatcher
// ============================================================================

// Handlers run synchronously on the read-loop goroutine, so events are
// applied in exact arrival order.
type socketDispatcher struct {
	mu            sync.RWMutex
	onMessage     []func(Message)
	onThread      []func([]Message)
	onPresence    []func([]PresenceEntry)
	onUnread      []func(count int, batch []Message)
	onInbox       []func([]ConversationSummary)
	onUserStatus  []func(PresenceEntry)
	onServerError []func(string)
	onState       []func(SocketState, error)
}

func (d *socketDispatcher) dispatch(frame inboundFrame) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	raw := frame.payload()
	switch frame.Event {
	case EventMessage, EventToAdminMessage:
		var m Message
		if json.Unmarshal(raw, &m) == nil {
			for _, h := range d.onMessage {
				h(m)
			}
		}
	case EventFetchChats:
		var msgs []Message
		if json.Unmarshal(raw, &msgs) == nil {
			for _, h := range d.onThread {
				h(msgs)
			}
		}
	case EventOnlineUsers:
		var entries []PresenceEntry
		if json.Unmarshal(raw, &entries) == nil {
			for _, h := range d.onPresence {
				h(entries)
			}
		}
	case EventUnreadMessages:
		var p unreadPayload
		if json.Unmarshal(raw, &p) == nil {
			for _, h := range d.onUnread {
				h(p.Count, p.Messages)
			}
		}
	case EventMessageList:
		var list []ConversationSummary
		if json.Unmarshal(raw, &list) == nil {
			for _, h := range d.onInbox {
				h(list)
			}
		}
	case EventUserStatus:
		var entry PresenceEntry
		if json.Unmarshal(raw, &entry) == nil {
			for _, h := range d.onUserStatus {
				h(entry)
			}
		}
	case EventError:
		var msg string
		if json.Unmarshal(raw, &msg) != nil {
			msg = string(raw)
		}
		for _, h := range d.onServerError {
			h(msg)
		}
	}
}

func (d *socketDispatcher) emitState(s SocketState, err error) {
	d.mu.RLock()
	handlers := append([]func(SocketState, error){}, d.onState...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(s, err)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *SocketConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// ChatSocket
// ============================================================================

// ChatSocket owns exactly one WebSocket per open chat surface: at most one
// authenticate handshake per connection, clean teardown on Close. There is
// no send queue: emitting while not connected drops the event and surfaces
// an error state.
type ChatSocket struct {
	client *Client
	config *SocketConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            SocketState
	lastErr          error
	token            string
	intentionalClose bool
	cancelFn         context.CancelFunc

	dispatcher *socketDispatcher
	recon      *reconnector
}

// NewChatSocket creates a disconnected ChatSocket. config may be nil.
func NewChatSocket(client *Client, config *SocketConfig) *ChatSocket {
	cfg := SocketConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &ChatSocket{
		client:     client,
		config:     &cfg,
		state:      StateDisconnected,
		dispatcher: &socketDispatcher{},
		recon:      newReconnector(&cfg),
	}
}

// OnMessage registers a handler for inbound message / toAdminMessage events.
func (cs *ChatSocket) OnMessage(h func(Message)) {
	cs.dispatcher.mu.Lock()
	cs.dispatcher.onMessage = append(cs.dispatcher.onMessage, h)
	cs.dispatcher.mu.Unlock()
}

// OnThread registers a handler for fetchChats results.
func (cs *ChatSocket) OnThread(h func([]Message)) {
	cs.dispatcher.mu.Lock()
	cs.dispatcher.onThread = append(cs.dispatcher.onThread, h)
	cs.dispatcher.mu.Unlock()
}

// OnPresenceList registers a handler for onlineUsers snapshots.
func (cs *ChatSocket) OnPresenceList(h func([]PresenceEntry)) {
	cs.dispatcher.mu.Lock()
	cs.dispatcher.onPresence = append(cs.dispatcher.onPresence, h)
	cs.dispatcher.mu.Unlock()
}

// OnUnread registers a handler for unReadMessages events. The single event
// carries both the unread counter and the unread message batch.
func (cs *ChatSocket) OnUnread(h func(count int, batch []Message)) {
	cs.dispatcher.mu.Lock()
	cs.dispatcher.onUnread = append(cs.dispatcher.onUnread, h)
	cs.dispatcher.mu.Unlock()
}

// OnInbox registers a handler for messageList snapshots.
func (cs *ChatSocket) OnInbox(h func([]ConversationSummary)) {
	cs.dispatcher.mu.Lock()
	cs.dispatcher.onInbox = append(cs.dispatcher.onInbox, h)
	cs.dispatcher.mu.Unlock()
}

// OnUserStatus registers a handler for single-user presence patches.
func (cs *ChatSocket) OnUserStatus(h func(PresenceEntry)) {
	cs.dispatcher.mu.Lock()
	cs.dispatcher.onUserStatus = append(cs.dispatcher.onUserStatus, h)
	cs.dispatcher.mu.Unlock()
}

// OnServerError registers a handler for server-pushed error events. These
// set the error state but do not close the connection.
func (cs *ChatSocket) OnServerError(h func(string)) {
	cs.dispatcher.mu.Lock()
	cs.dispatcher.onServerError = append(cs.dispatcher.onServerError, h)
	cs.dispatcher.mu.Unlock()
}

// OnStateChange registers a handler for connection state transitions. err is
// non-nil for transitions into StateError and for transport-initiated
// disconnects.
func (cs *ChatSocket) OnStateChange(h func(SocketState, error)) {
	cs.dispatcher.mu.Lock()
	cs.dispatcher.onState = append(cs.dispatcher.onState, h)
	cs.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (cs *ChatSocket) State() SocketState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// LastError returns the most recently surfaced error, if any.
func (cs *ChatSocket) LastError() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastErr
}

// Open dials the socket and performs the authenticate handshake. An empty
// token never dials: the auth-required error state is set synchronously.
func (cs *ChatSocket) Open(ctx context.Context, token string) error {
	if token == "" {
		err := fmt.Errorf("auth required: no token")
		cs.setState(StateError, err)
		return err
	}

	cs.mu.Lock()
	if cs.state == StateConnected || cs.state == StateConnecting {
		cs.mu.Unlock()
		return nil
	}
	cs.state = StateConnecting
	cs.lastErr = nil
	cs.token = token
	cs.intentionalClose = false
	cs.mu.Unlock()
	cs.dispatcher.emitState(StateConnecting, nil)

	conn, _, err := websocket.Dial(ctx, cs.client.SocketURL(), &websocket.DialOptions{
		HTTPClient: cs.client.httpClient,
	})
	if err != nil {
		err = fmt.Errorf("websocket dial: %w", err)
		cs.setState(StateError, err)
		return err
	}

	auth, _ := json.Marshal(authenticateFrame{Event: EventAuthenticate, Token: token})
	if err := conn.Write(ctx, websocket.MessageText, auth); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		err = fmt.Errorf("authenticate handshake: %w", err)
		cs.setState(StateError, err)
		return err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	cs.mu.Lock()
	// A reconnect re-enters here with the previous connection's cancel func
	// still set; release it before installing the new one.
	if cs.cancelFn != nil {
		cs.cancelFn()
	}
	cs.conn = conn
	cs.state = StateConnected
	cs.cancelFn = cancel
	cs.mu.Unlock()
	cs.recon.markConnected()
	cs.dispatcher.emitState(StateConnected, nil)

	go cs.readLoop(connCtx, conn)

	// The surface needs presence and the inbox immediately after the
	// handshake.
	cs.RequestOnlineUsers(ctx)
	cs.RequestInbox(ctx)

	return nil
}

// Close closes the underlying socket and transitions to disconnected.
// Calling Close on an already-closed socket is a no-op.
func (cs *ChatSocket) Close() error {
	cs.mu.Lock()
	cs.intentionalClose = true
	if cs.cancelFn != nil {
		cs.cancelFn()
		cs.cancelFn = nil
	}
	conn := cs.conn
	cs.conn = nil
	already := cs.state == StateDisconnected
	cs.state = StateDisconnected
	cs.lastErr = nil
	cs.mu.Unlock()

	if already && conn == nil {
		return nil
	}
	cs.dispatcher.emitState(StateDisconnected, nil)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "surface closed")
	}
	return nil
}

// EmitMessage sends a direct message to receiverID. The socket path is
// text-only, so the images array is always empty.
func (cs *ChatSocket) EmitMessage(ctx context.Context, receiverID, text string) error {
	return cs.send(ctx, messageFrame{
		Event:      EventMessage,
		ReceiverID: receiverID,
		Message:    text,
		Images:     []string{},
	})
}

// EmitToAdmin sends a message on the admin support channel.
func (cs *ChatSocket) EmitToAdmin(ctx context.Context, text string) error {
	return cs.send(ctx, messageFrame{
		Event:   EventToAdminMessage,
		Message: text,
		Images:  []string{},
	})
}

// RequestThread asks the server for the full thread with peerID; the reply
// arrives as a fetchChats event.
func (cs *ChatSocket) RequestThread(ctx context.Context, peerID string) error {
	return cs.send(ctx, requestFrame{Event: EventFetchChats, ReceiverID: peerID})
}

// RequestUnread asks for the unread counter and batch for peerID.
func (cs *ChatSocket) RequestUnread(ctx context.Context, peerID string) error {
	return cs.send(ctx, requestFrame{Event: EventUnreadMessages, ReceiverID: peerID})
}

// RequestOnlineUsers asks for a full presence snapshot.
func (cs *ChatSocket) RequestOnlineUsers(ctx context.Context) error {
	return cs.send(ctx, requestFrame{Event: EventOnlineUsers})
}

// RequestInbox asks for the conversation summary list.
func (cs *ChatSocket) RequestInbox(ctx context.Context) error {
	return cs.send(ctx, requestFrame{Event: EventMessageList})
}

// send transmits a typed event only while connected. Otherwise the event is
// dropped and the error state is set — no queue, no retry.
func (cs *ChatSocket) send(ctx context.Context, frame any) error {
	cs.mu.Lock()
	conn := cs.conn
	connected := cs.state == StateConnected
	cs.mu.Unlock()

	if !connected || conn == nil {
		err := fmt.Errorf("not connected")
		cs.setState(StateError, err)
		return err
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (cs *ChatSocket) setState(s SocketState, err error) {
	cs.mu.Lock()
	cs.state = s
	cs.lastErr = err
	cs.mu.Unlock()
	cs.dispatcher.emitState(s, err)
}

func (cs *ChatSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			cs.mu.Lock()
			intentional := cs.intentionalClose
			cs.mu.Unlock()
			if intentional {
				return
			}

			cs.mu.Lock()
			cs.state = StateDisconnected
			cs.conn = nil
			cs.lastErr = fmt.Errorf("connection lost: %w", err)
			lastErr := cs.lastErr
			cs.mu.Unlock()
			cs.dispatcher.emitState(StateDisconnected, lastErr)

			if cs.config.Reconnect && cs.recon.shouldReconnect() {
				cs.scheduleReconnect(ctx)
			}
			return
		}

		var frame inboundFrame
		if json.Unmarshal(data, &frame) != nil {
			continue
		}

		if frame.Event == EventError {
			var msg string
			if json.Unmarshal(frame.payload(), &msg) != nil {
				msg = string(frame.payload())
			}
			// Surfaced as a state, but the connection stays open.
			cs.mu.Lock()
			cs.state = StateError
			cs.lastErr = fmt.Errorf("%s", msg)
			lastErr := cs.lastErr
			cs.mu.Unlock()
			cs.dispatcher.emitState(StateError, lastErr)
		}

		cs.dispatcher.dispatch(frame)
	}
}

func (cs *ChatSocket) scheduleReconnect(ctx context.Context) {
	delay := cs.recon.nextDelay()

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	cs.mu.Lock()
	token := cs.token
	cs.mu.Unlock()

	if err := cs.Open(context.Background(), token); err != nil {
		if cs.config.Reconnect && cs.recon.shouldReconnect() {
			cs.scheduleReconnect(ctx)
		}
	}
}
