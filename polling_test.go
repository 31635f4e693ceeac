package letly

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// Fetch
// ============================================================================

func TestPolledFetch(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	t.Run("thread sorted ascending by createdAt", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeResult(w, []Message{
				testMessage("m3", "u1", base.Add(2*time.Minute)),
				testMessage("m1", "u1", base),
				testMessage("m2", "me", base.Add(time.Minute)),
			})
		})

		ps := NewPolledSource(client, "u1", "prop-7", 0)
		defer ps.Close()
		ps.Refetch(ctx)

		got := ps.Thread()
		if len(got) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(got))
		}
		for i, want := range []string{"m1", "m2", "m3"} {
			if got[i].ID != want {
				t.Fatalf("order broken at %d: got %q want %q", i, got[i].ID, want)
			}
		}
	})

	t.Run("query carries the thread key", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("receiverId") != "u1" || q.Get("propertyId") != "prop-7" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			writeResult(w, []Message{})
		})

		ps := NewPolledSource(client, "u1", "prop-7", 0)
		defer ps.Close()
		ps.Refetch(ctx)
	})

	t.Run("fetch error keeps the last thread", func(t *testing.T) {
		var fail atomic.Bool
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if fail.Load() {
				writeError(w, "INTERNAL", "boom")
				return
			}
			writeResult(w, []Message{testMessage("m1", "u1", base)})
		})

		ps := NewPolledSource(client, "u1", "prop-7", 0)
		defer ps.Close()
		ps.Refetch(ctx)
		if len(ps.Thread()) != 1 {
			t.Fatal("expected initial thread")
		}

		fail.Store(true)
		ps.Refetch(ctx)
		if len(ps.Thread()) != 1 {
			t.Fatal("a failed poll must not drop the loaded thread")
		}
		if ps.LastError() == nil {
			t.Fatal("expected LastError after a failed poll")
		}

		fail.Store(false)
		ps.Refetch(ctx)
		if ps.LastError() != nil {
			t.Fatalf("LastError should clear on success, got %v", ps.LastError())
		}
	})

	t.Run("polling loop fetches repeatedly", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeResult(w, []Message{})
		})

		ps := NewPolledSource(client, "u1", "prop-7", 20*time.Millisecond)
		ps.Start(context.Background())
		defer ps.Close()

		deadline := time.Now().Add(2 * time.Second)
		for calls.Load() < 3 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if calls.Load() < 3 {
			t.Fatalf("expected at least 3 polls, got %d", calls.Load())
		}
	})
}

// ============================================================================
// Re-keying
// ============================================================================

func TestPolledSetThread(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	t.Run("switching the key drops the thread", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeResult(w, []Message{testMessage("m1", "u1", base)})
		})

		ps := NewPolledSource(client, "u1", "prop-7", 0)
		defer ps.Close()
		ps.Refetch(ctx)
		if len(ps.Thread()) != 1 {
			t.Fatal("expected loaded thread")
		}

		ps.SetThread("u1", "prop-8")
		if len(ps.Thread()) != 0 {
			t.Fatal("re-keying must drop the previous thread")
		}
	})

	t.Run("stale response for the old key is discarded", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("propertyId") == "prop-7" {
				close(started)
				<-release
				writeResult(w, []Message{testMessage("old", "u1", base)})
				return
			}
			writeResult(w, []Message{})
		})

		ps := NewPolledSource(client, "u1", "prop-7", 0)
		defer ps.Close()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			ps.Refetch(ctx)
		}()

		// Re-key only after the fetch for the old key is in flight.
		<-started
		ps.SetThread("u1", "prop-8")
		close(release)
		wg.Wait()

		if got := ps.Thread(); len(got) != 0 {
			t.Fatalf("late reply for the old key must not land, got %+v", got)
		}
	})
}

// ============================================================================
// Send
// ============================================================================

func TestPolledSend(t *testing.T) {
	ctx := context.Background()

	t.Run("whitespace only is a no-op", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		})

		ps := NewPolledSource(client, "u1", "prop-7", 0)
		defer ps.Close()
		if err := ps.Send(ctx, "  \t "); err != nil {
			t.Fatalf("whitespace send must be a silent no-op, got %v", err)
		}
		if calls.Load() != 0 {
			t.Fatal("no request should be made for an empty send")
		}
	})

	t.Run("server echo appends", func(t *testing.T) {
		base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeResult(w, testMessage("echo-1", "me", base))
		})

		ps := NewPolledSource(client, "u1", "prop-7", 0)
		defer ps.Close()
		if err := ps.Send(ctx, "hello"); err != nil {
			t.Fatalf("Send error: %v", err)
		}
		got := ps.Thread()
		if len(got) != 1 || got[0].ID != "echo-1" {
			t.Fatalf("expected the server echo in the thread, got %+v", got)
		}
	})

	t.Run("failed upload aborts the whole send", func(t *testing.T) {
		var msgPosts atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/uploads":
				writeError(w, "UPLOAD_FAILED", "storage unavailable")
			case "/api/chat/messages":
				msgPosts.Add(1)
			}
		})

		ps := NewPolledSource(client, "u1", "prop-7", 0)
		defer ps.Close()
		err := ps.SendWithImage(ctx, "look at this", UploadFile{Name: "a.jpg", Data: []byte("x")})
		if err == nil {
			t.Fatal("expected error when the upload fails")
		}
		if msgPosts.Load() != 0 {
			t.Fatal("no message must be created after a failed upload")
		}
		if len(ps.Thread()) != 0 {
			t.Fatal("no partial message may land in the thread")
		}
	})

	t.Run("image upload feeds the message", func(t *testing.T) {
		base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/uploads":
				writeResult(w, []string{"https://cdn.letly.app/a.jpg"})
			case "/api/chat/messages":
				m := testMessage("m1", "me", base)
				m.AttachmentURL = "https://cdn.letly.app/a.jpg"
				writeResult(w, m)
			}
		})

		ps := NewPolledSource(client, "u1", "prop-7", 0)
		defer ps.Close()
		if err := ps.SendWithImage(ctx, "", UploadFile{Name: "a.jpg", Data: []byte("x")}); err != nil {
			t.Fatalf("SendWithImage error: %v", err)
		}
		got := ps.Thread()
		if len(got) != 1 || got[0].AttachmentURL == "" {
			t.Fatalf("expected the attachment on the echoed message, got %+v", got)
		}
	})
}
