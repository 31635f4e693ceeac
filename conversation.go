package letly

import (
	"context"
	"strings"
	"sync"
)

// ============================================================================
// ConversationSource
// ============================================================================

// ConversationSource is the capability shared by the two transport variants.
// SocketSource and PolledSource share the message data model but never share
// runtime state, and no ordering holds across the two.
type ConversationSource interface {
	// Thread returns the currently loaded messages for the active
	// conversation.
	Thread() []Message
	// Send submits a text message to the active conversation. Sending
	// empty or whitespace-only text is a no-op, not an error.
	Send(ctx context.Context, text string) error
	// Close tears the source down and discards its local state.
	Close() error
}

// ============================================================================
// Display Grouping
// ============================================================================

// MessageGroup is one visual block: consecutive messages from one sender
// sharing a single sender/timestamp header.
type MessageGroup struct {
	Sender   UserSummary
	Messages []Message
}

// GroupBySender splits a thread into visual blocks using the adjacent-only
// rule: a message starts a new block iff its sender differs from the
// immediately preceding message. There is no time-window threshold and no
// global regrouping by sender.
func GroupBySender(msgs []Message) []MessageGroup {
	var groups []MessageGroup
	for _, m := range msgs {
		n := len(groups)
		if n > 0 && groups[n-1].Sender.ID == m.SenderID.ID {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, MessageGroup{
			Sender:   m.SenderID.Summary(),
			Messages: []Message{m},
		})
	}
	return groups
}

// ============================================================================
// SocketSource
// ============================================================================

// supportKey is the thread key for the admin support channel (no peer).
const supportKey = ""

// SocketSource is the push-based conversation view model. It owns a
// ChatSocket and maintains per-peer message lists, the inbox summary list,
// the unread counter and the presence set. Per-peer lists are retained when
// the selection switches; everything is dropped when the socket closes.
type SocketSource struct {
	sock  *ChatSocket
	store *conversationStore

	mu           sync.Mutex
	selectedPeer string
	hasSelection bool
}

// NewSocketSource wires a view model to a ChatSocket. The socket is not
// opened here; call Open on it (or on the source) when the surface mounts.
func NewSocketSource(sock *ChatSocket) *SocketSource {
	src := &SocketSource{
		sock:  sock,
		store: newConversationStore(),
	}

	sock.OnMessage(func(m Message) {
		src.store.appendMessages(src.activeKey(), m)
	})
	sock.OnThread(func(msgs []Message) {
		src.store.replaceThread(src.activeKey(), msgs)
	})
	sock.OnUnread(func(count int, batch []Message) {
		// One event, two effects: the counter and the batch.
		src.store.setUnread(count)
		src.store.appendMessages(src.activeKey(), batch...)
	})
	sock.OnInbox(func(list []ConversationSummary) {
		src.store.replaceInbox(list)
	})
	sock.OnPresenceList(func(entries []PresenceEntry) {
		src.store.replacePresence(entries)
	})
	sock.OnUserStatus(func(entry PresenceEntry) {
		src.store.patchPresence(entry)
	})
	sock.OnStateChange(func(s SocketState, err error) {
		if s == StateDisconnected {
			src.store.clear()
			src.mu.Lock()
			src.selectedPeer = ""
			src.hasSelection = false
			src.mu.Unlock()
		}
	})

	return src
}

// Open opens the underlying socket with the given token.
func (src *SocketSource) Open(ctx context.Context, token string) error {
	return src.sock.Open(ctx, token)
}

// Close closes the socket; the store is cleared on the resulting
// disconnected transition.
func (src *SocketSource) Close() error {
	return src.sock.Close()
}

// State reports the underlying connection state. The composer should be
// enabled only while connected.
func (src *SocketSource) State() SocketState {
	return src.sock.State()
}

// SelectConversation points the surface at peerID and requests its thread
// and unread batch. An empty peerID means the inbox view; when no prior
// selection exists it falls through to the first inbox entry, if any.
// Previously loaded threads for other peers are retained.
func (src *SocketSource) SelectConversation(ctx context.Context, peerID string) {
	src.mu.Lock()
	if peerID == "" && !src.hasSelection {
		if inbox := src.store.inboxList(); len(inbox) > 0 && inbox[0].Peer != nil {
			peerID = inbox[0].Peer.ID
		}
	}
	src.selectedPeer = peerID
	src.hasSelection = peerID != ""
	src.mu.Unlock()

	if peerID == "" {
		return
	}
	src.sock.RequestThread(ctx, peerID)
	src.sock.RequestUnread(ctx, peerID)
}

// Selected returns the current peer selection; ok is false in inbox view.
func (src *SocketSource) Selected() (peerID string, ok bool) {
	src.mu.Lock()
	defer src.mu.Unlock()
	return src.selectedPeer, src.hasSelection
}

// Send emits a text message for the active conversation: toAdminMessage
// when no peer is selected, message otherwise. Whitespace-only text is
// dropped without emitting anything. The socket path is text-only.
func (src *SocketSource) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	src.mu.Lock()
	peer, has := src.selectedPeer, src.hasSelection
	src.mu.Unlock()

	if !has {
		return src.sock.EmitToAdmin(ctx, text)
	}
	return src.sock.EmitMessage(ctx, peer, text)
}

// Thread returns the active conversation's messages in arrival order. The
// socket variant never re-sorts.
func (src *SocketSource) Thread() []Message {
	return src.store.thread(src.activeKey())
}

// ThreadFor returns the retained messages for a specific peer.
func (src *SocketSource) ThreadFor(peerID string) []Message {
	return src.store.thread(peerID)
}

// Inbox returns the conversation summary list.
func (src *SocketSource) Inbox() []ConversationSummary {
	return src.store.inboxList()
}

// Unread returns the unread counter for the active conversation.
func (src *SocketSource) Unread() int {
	return src.store.unreadCount()
}

// IsOnline reports the last known presence for a user.
func (src *SocketSource) IsOnline(userID string) bool {
	return src.store.isOnline(userID)
}

func (src *SocketSource) activeKey() string {
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.hasSelection {
		return src.selectedPeer
	}
	return supportKey
}
