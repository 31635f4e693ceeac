package letly

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fixed poll intervals. No backoff, no jitter, no pause on an idle surface.
const (
	// DefaultThreadPollInterval drives the tenant-landlord property chat.
	DefaultThreadPollInterval = 3 * time.Second
	// SupportPollInterval drives the support-ticket thread.
	SupportPollInterval = 30 * time.Second
)

// PolledSource is the pull-based conversation view model used by the
// property-detail chat panel. The unit of thread identity is the
// (peer, property) pair: two users can hold independent threads per
// property, and switching the property context re-keys the thread.
//
// It maintains state independently of any SocketSource; the two are never
// reconciled.
type PolledSource struct {
	client   *Client
	interval time.Duration

	mu         sync.Mutex
	peerID     string
	propertyID string
	msgs       []Message
	lastErr    error
	seq        uint64
	cancel     context.CancelFunc
}

// NewPolledSource creates a polled thread for (peerID, propertyID). An
// interval of zero selects DefaultThreadPollInterval.
func NewPolledSource(client *Client, peerID, propertyID string, interval time.Duration) *PolledSource {
	if interval <= 0 {
		interval = DefaultThreadPollInterval
	}
	return &PolledSource{
		client:     client,
		interval:   interval,
		peerID:     peerID,
		propertyID: propertyID,
	}
}

// Start begins polling: one immediate fetch, then one fetch per tick until
// the context is cancelled or Close is called.
func (ps *PolledSource) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	ps.mu.Lock()
	if ps.cancel != nil {
		ps.cancel()
	}
	ps.cancel = cancel
	ps.mu.Unlock()

	go func() {
		ps.fetchOnce(ctx)
		ticker := time.NewTicker(ps.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ps.fetchOnce(ctx)
			}
		}
	}()
}

// Close stops polling and discards the loaded thread.
func (ps *PolledSource) Close() error {
	ps.mu.Lock()
	if ps.cancel != nil {
		ps.cancel()
		ps.cancel = nil
	}
	ps.msgs = nil
	ps.lastErr = nil
	ps.mu.Unlock()
	return nil
}

// SetThread re-keys the source to a different (peer, property) pair. The
// previous thread is dropped and the next fetch loads the new one; a fetch
// still in flight for the old key is discarded when it lands.
func (ps *PolledSource) SetThread(peerID, propertyID string) {
	ps.mu.Lock()
	ps.peerID = peerID
	ps.propertyID = propertyID
	ps.msgs = nil
	ps.seq++
	ps.mu.Unlock()
}

// Refetch forces an immediate fetch outside the tick schedule.
func (ps *PolledSource) Refetch(ctx context.Context) {
	ps.fetchOnce(ctx)
}

// Thread returns the loaded messages in ascending createdAt order. An empty
// thread is an empty slice, never an error.
func (ps *PolledSource) Thread() []Message {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]Message(nil), ps.msgs...)
}

// LastError returns the most recent fetch failure, cleared by the next
// successful poll.
func (ps *PolledSource) LastError() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.lastErr
}

// Send submits a text-only message for the current thread. Whitespace-only
// text is a no-op.
func (ps *PolledSource) Send(ctx context.Context, text string) error {
	return ps.sendWith(ctx, text, "")
}

// SendWithImage uploads one image and then submits the message carrying its
// URL. If the upload fails the whole send fails: no partial message without
// its image is ever created.
func (ps *PolledSource) SendWithImage(ctx context.Context, text string, image UploadFile) error {
	urls, err := ps.client.Uploads.Upload(ctx, image)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return &APIError{Code: "UPLOAD_FAILED", Message: "upload returned no URL"}
	}
	return ps.sendWith(ctx, text, urls[0])
}

func (ps *PolledSource) sendWith(ctx context.Context, text, imageURL string) error {
	if strings.TrimSpace(text) == "" && imageURL == "" {
		return nil
	}

	ps.mu.Lock()
	peer, property, seq := ps.peerID, ps.propertyID, ps.seq
	ps.mu.Unlock()

	var opts *SendOptions
	if imageURL != "" {
		opts = &SendOptions{ImageURL: imageURL}
	}
	msg, err := ps.client.Messages.Create(ctx, peer, property, text, opts)
	if err != nil {
		return err
	}

	// The server echo is the authoritative record; append it unless the
	// thread was re-keyed while the request was in flight.
	ps.mu.Lock()
	if ps.seq == seq {
		ps.msgs = append(ps.msgs, *msg)
	}
	ps.mu.Unlock()
	return nil
}

func (ps *PolledSource) fetchOnce(ctx context.Context) {
	ps.mu.Lock()
	peer, property, seq := ps.peerID, ps.propertyID, ps.seq
	ps.mu.Unlock()

	msgs, err := ps.client.Messages.Get(ctx, peer, property, nil)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.seq != seq {
		// Late response for a previous (peer, property) key.
		return
	}
	if err != nil {
		ps.lastErr = err
		return
	}
	sortByCreatedAt(msgs)
	ps.msgs = msgs
	ps.lastErr = nil
}

// sortByCreatedAt orders a REST thread for rendering. Stable so that
// messages sharing a timestamp keep the server's order.
func sortByCreatedAt(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
