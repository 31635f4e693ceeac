package letly

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

// pushFrame injects an inbound event directly into the dispatcher, as the
// read loop would after decoding a wire frame.
func pushFrame(t *testing.T, sock *ChatSocket, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	sock.dispatcher.dispatch(inboundFrame{Event: event, Data: raw})
}

func newTestSource(t *testing.T) (*SocketSource, *ChatSocket) {
	t.Helper()
	sock := NewChatSocket(NewClient("test-token"), nil)
	return NewSocketSource(sock), sock
}

func msgFrom(id, sender string) Message {
	return Message{ID: id, SenderID: UserRef{ID: sender}, Body: "msg " + id}
}

// ============================================================================
// GroupBySender
// ============================================================================

func TestGroupBySender(t *testing.T) {
	t.Run("consecutive same sender collapses", func(t *testing.T) {
		groups := GroupBySender([]Message{
			msgFrom("1", "a"),
			msgFrom("2", "a"),
			msgFrom("3", "b"),
		})
		if len(groups) != 2 {
			t.Fatalf("expected 2 groups, got %d", len(groups))
		}
		if len(groups[0].Messages) != 2 || groups[0].Sender.ID != "a" {
			t.Fatalf("unexpected first group: %+v", groups[0])
		}
	})

	t.Run("alternation never merges", func(t *testing.T) {
		groups := GroupBySender([]Message{
			msgFrom("1", "a"),
			msgFrom("2", "b"),
			msgFrom("3", "a"),
		})
		if len(groups) != 3 {
			t.Fatalf("a,b,a must produce 3 groups, got %d", len(groups))
		}
	})

	t.Run("large time gap does not split", func(t *testing.T) {
		m1 := msgFrom("1", "a")
		m1.CreatedAt = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		m2 := msgFrom("2", "a")
		m2.CreatedAt = m1.CreatedAt.Add(48 * time.Hour)

		groups := GroupBySender([]Message{m1, m2})
		if len(groups) != 1 {
			t.Fatalf("adjacency is the only rule; expected 1 group, got %d", len(groups))
		}
	})

	t.Run("empty thread", func(t *testing.T) {
		if groups := GroupBySender(nil); len(groups) != 0 {
			t.Fatalf("expected no groups, got %d", len(groups))
		}
	})

	t.Run("embedded sender header", func(t *testing.T) {
		m := msgFrom("1", "a")
		m.SenderID.User = &UserSummary{ID: "a", Name: "Ana"}
		groups := GroupBySender([]Message{m})
		if groups[0].Sender.Name != "Ana" {
			t.Fatalf("expected embedded sender in the header, got %+v", groups[0].Sender)
		}
	})
}

// ============================================================================
// SocketSource: selection
// ============================================================================

func TestSelectConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit peer", func(t *testing.T) {
		src, _ := newTestSource(t)
		src.SelectConversation(ctx, "u42")
		peer, ok := src.Selected()
		if !ok || peer != "u42" {
			t.Fatalf("expected selection u42, got %q ok=%v", peer, ok)
		}
	})

	t.Run("defaults to first inbox entry", func(t *testing.T) {
		src, sock := newTestSource(t)
		pushFrame(t, sock, EventMessageList, []ConversationSummary{
			{Peer: &UserSummary{ID: "u1", Name: "First"}},
			{Peer: &UserSummary{ID: "u2", Name: "Second"}},
		})

		src.SelectConversation(ctx, "")
		peer, ok := src.Selected()
		if !ok || peer != "u1" {
			t.Fatalf("expected default selection u1, got %q ok=%v", peer, ok)
		}
	})

	t.Run("empty inbox leaves no selection", func(t *testing.T) {
		src, _ := newTestSource(t)
		src.SelectConversation(ctx, "")
		if _, ok := src.Selected(); ok {
			t.Fatal("expected no selection with an empty inbox")
		}
	})

	t.Run("threads are retained across switches", func(t *testing.T) {
		src, sock := newTestSource(t)
		src.SelectConversation(ctx, "u1")
		pushFrame(t, sock, EventFetchChats, []Message{msgFrom("1", "u1")})

		src.SelectConversation(ctx, "u2")
		pushFrame(t, sock, EventFetchChats, []Message{msgFrom("2", "u2")})

		if got := src.ThreadFor("u1"); len(got) != 1 || got[0].ID != "1" {
			t.Fatalf("thread for u1 should be retained, got %+v", got)
		}
		if got := src.Thread(); len(got) != 1 || got[0].ID != "2" {
			t.Fatalf("active thread should be u2's, got %+v", got)
		}
	})
}

// ============================================================================
// SocketSource: event handling
// ============================================================================

func TestSocketSourceEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("incoming messages append in arrival order", func(t *testing.T) {
		src, sock := newTestSource(t)
		src.SelectConversation(ctx, "u1")

		pushFrame(t, sock, EventMessage, msgFrom("1", "u1"))
		pushFrame(t, sock, EventMessage, msgFrom("2", "me"))
		pushFrame(t, sock, EventMessage, msgFrom("3", "u1"))

		got := src.Thread()
		if len(got) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(got))
		}
		for i, want := range []string{"1", "2", "3"} {
			if got[i].ID != want {
				t.Fatalf("order broken at %d: got %q want %q", i, got[i].ID, want)
			}
		}
	})

	t.Run("thread replace then append", func(t *testing.T) {
		src, sock := newTestSource(t)
		src.SelectConversation(ctx, "u1")

		pushFrame(t, sock, EventFetchChats, []Message{msgFrom("1", "u1"), msgFrom("2", "me")})
		pushFrame(t, sock, EventMessage, msgFrom("3", "u1"))

		got := src.Thread()
		if len(got) != 3 || got[2].ID != "3" {
			t.Fatalf("unexpected thread: %+v", got)
		}
	})

	t.Run("unread sets counter and appends batch", func(t *testing.T) {
		src, sock := newTestSource(t)
		src.SelectConversation(ctx, "u1")

		pushFrame(t, sock, EventUnreadMessages, unreadPayload{
			Count:    2,
			Messages: []Message{msgFrom("1", "u1"), msgFrom("2", "u1")},
		})

		if src.Unread() != 2 {
			t.Fatalf("expected unread 2, got %d", src.Unread())
		}
		if got := src.Thread(); len(got) != 2 {
			t.Fatalf("batch should land in the thread, got %d messages", len(got))
		}
	})

	t.Run("presence snapshot then patch", func(t *testing.T) {
		src, sock := newTestSource(t)
		pushFrame(t, sock, EventOnlineUsers, []PresenceEntry{
			{UserID: "u1", IsOnline: true},
			{UserID: "u2", IsOnline: false},
		})
		if !src.IsOnline("u1") || src.IsOnline("u2") {
			t.Fatal("snapshot not applied")
		}

		pushFrame(t, sock, EventUserStatus, PresenceEntry{UserID: "u2", IsOnline: true})
		if !src.IsOnline("u2") {
			t.Fatal("patch not applied")
		}

		// A later snapshot replaces wholesale, dropping absent users.
		pushFrame(t, sock, EventOnlineUsers, []PresenceEntry{{UserID: "u3", IsOnline: true}})
		if src.IsOnline("u1") {
			t.Fatal("stale presence survived the snapshot")
		}
	})

	t.Run("inbox snapshot", func(t *testing.T) {
		src, sock := newTestSource(t)
		pushFrame(t, sock, EventMessageList, []ConversationSummary{
			{Peer: &UserSummary{ID: "u1"}, LastMessage: &Message{ID: "m1", Body: "hey"}},
			{Peer: nil},
		})
		inbox := src.Inbox()
		if len(inbox) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(inbox))
		}
		if inbox[1].Peer != nil {
			t.Fatal("support row should have no peer")
		}
	})

	t.Run("disconnect drops all state", func(t *testing.T) {
		src, sock := newTestSource(t)
		src.SelectConversation(ctx, "u1")
		pushFrame(t, sock, EventMessage, msgFrom("1", "u1"))
		pushFrame(t, sock, EventOnlineUsers, []PresenceEntry{{UserID: "u1", IsOnline: true}})
		pushFrame(t, sock, EventUnreadMessages, unreadPayload{Count: 3})

		sock.dispatcher.emitState(StateDisconnected, nil)

		if got := src.ThreadFor("u1"); len(got) != 0 {
			t.Fatalf("thread should be dropped, got %+v", got)
		}
		if src.IsOnline("u1") {
			t.Fatal("presence should be dropped")
		}
		if src.Unread() != 0 {
			t.Fatalf("unread should reset, got %d", src.Unread())
		}
		if _, ok := src.Selected(); ok {
			t.Fatal("selection should reset")
		}
	})
}

// ============================================================================
// SocketSource: send routing
// ============================================================================

func TestSocketSourceSend(t *testing.T) {
	ctx := context.Background()

	t.Run("whitespace only is a no-op", func(t *testing.T) {
		src, sock := newTestSource(t)
		if err := src.Send(ctx, "   \n\t"); err != nil {
			t.Fatalf("whitespace send must be a silent no-op, got %v", err)
		}
		// Nothing was emitted, so the socket state is untouched.
		if sock.State() != StateDisconnected {
			t.Fatalf("unexpected state: %s", sock.State())
		}
	})

	t.Run("send without connection drops", func(t *testing.T) {
		src, _ := newTestSource(t)
		src.SelectConversation(ctx, "u1")
		if err := src.Send(ctx, "hello"); err == nil {
			t.Fatal("expected error while disconnected")
		}
	})
}
