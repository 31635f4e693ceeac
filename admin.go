package letly

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DebounceInterval is how long a search list waits after the last keystroke
// before filtering.
const DebounceInterval = 300 * time.Millisecond

// debouncer coalesces rapid triggers into one callback after a quiet period.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{delay: delay}
}

func (d *debouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// ============================================================================
// AdminViewer
// ============================================================================

// AdminViewer lets an admin pick an arbitrary (tenant, landlord, property)
// triple and watch the resulting REST thread read-only; there is no composer
// on this surface. The three selections are independent, debounced,
// client-filtered search lists; the thread query is gated on all three being
// set and is never fired with partial parameters.
type AdminViewer struct {
	client   *Client
	interval time.Duration

	mu         sync.Mutex
	tenants    []UserSummary
	landlords  []UserSummary
	properties []PropertySummary

	tenantID   string
	landlordID string
	propertyID string

	msgs    []Message
	lastErr error
	seq     uint64
	cancel  context.CancelFunc

	tenantSearch   *debouncer
	landlordSearch *debouncer
	propertySearch *debouncer
}

// NewAdminViewer creates a viewer polling at the given interval; zero
// selects DefaultThreadPollInterval.
func NewAdminViewer(client *Client, interval time.Duration) *AdminViewer {
	if interval <= 0 {
		interval = DefaultThreadPollInterval
	}
	return &AdminViewer{
		client:         client,
		interval:       interval,
		tenantSearch:   newDebouncer(DebounceInterval),
		landlordSearch: newDebouncer(DebounceInterval),
		propertySearch: newDebouncer(DebounceInterval),
	}
}

// Load fetches the three selection lists. Filtering afterwards is purely
// client-side.
func (av *AdminViewer) Load(ctx context.Context) error {
	tenants, err := av.client.Admin.Users(ctx, "tenant")
	if err != nil {
		return err
	}
	landlords, err := av.client.Admin.Users(ctx, "landlord")
	if err != nil {
		return err
	}
	properties, err := av.client.Admin.Properties(ctx)
	if err != nil {
		return err
	}

	av.mu.Lock()
	av.tenants = tenants
	av.landlords = landlords
	av.properties = properties
	av.mu.Unlock()
	return nil
}

// SearchTenants filters the tenant list by name/email substring, delivering
// the result after the debounce window. A newer query cancels a pending one.
func (av *AdminViewer) SearchTenants(query string, deliver func([]UserSummary)) {
	av.tenantSearch.trigger(func() {
		av.mu.Lock()
		list := av.tenants
		av.mu.Unlock()
		deliver(filterUsers(list, query))
	})
}

// SearchLandlords filters the landlord list; same debounce contract.
func (av *AdminViewer) SearchLandlords(query string, deliver func([]UserSummary)) {
	av.landlordSearch.trigger(func() {
		av.mu.Lock()
		list := av.landlords
		av.mu.Unlock()
		deliver(filterUsers(list, query))
	})
}

// SearchProperties filters the property list by title/city substring.
func (av *AdminViewer) SearchProperties(query string, deliver func([]PropertySummary)) {
	av.propertySearch.trigger(func() {
		av.mu.Lock()
		list := av.properties
		av.mu.Unlock()
		deliver(filterProperties(list, query))
	})
}

// SelectTenant sets (or, with "", clears) the tenant selection. Any change
// drops the loaded thread; the next fetch decides whether the gate is open.
func (av *AdminViewer) SelectTenant(id string)   { av.setSelection(&av.tenantID, id) }
func (av *AdminViewer) SelectLandlord(id string) { av.setSelection(&av.landlordID, id) }
func (av *AdminViewer) SelectProperty(id string) { av.setSelection(&av.propertyID, id) }

func (av *AdminViewer) setSelection(field *string, id string) {
	av.mu.Lock()
	*field = id
	av.msgs = nil
	av.seq++
	av.mu.Unlock()
}

// Ready reports whether all three selections are present.
func (av *AdminViewer) Ready() bool {
	av.mu.Lock()
	defer av.mu.Unlock()
	return av.tenantID != "" && av.landlordID != "" && av.propertyID != ""
}

// FetchThread runs one gated query. It returns false without touching the
// network while any selection is missing.
func (av *AdminViewer) FetchThread(ctx context.Context) bool {
	av.mu.Lock()
	tenant, landlord, property := av.tenantID, av.landlordID, av.propertyID
	seq := av.seq
	av.mu.Unlock()

	if tenant == "" || landlord == "" || property == "" {
		return false
	}

	msgs, err := av.client.Admin.AllMessages(ctx, tenant, landlord, property, nil)

	av.mu.Lock()
	defer av.mu.Unlock()
	if av.seq != seq {
		return true
	}
	if err != nil {
		av.lastErr = err
		return true
	}
	sortByCreatedAt(msgs)
	av.msgs = msgs
	av.lastErr = nil
	return true
}

// Start polls the gated query on the fixed interval. Ticks while the gate
// is closed skip the network entirely.
func (av *AdminViewer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	av.mu.Lock()
	if av.cancel != nil {
		av.cancel()
	}
	av.cancel = cancel
	av.mu.Unlock()

	go func() {
		av.FetchThread(ctx)
		ticker := time.NewTicker(av.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				av.FetchThread(ctx)
			}
		}
	}()
}

// Close stops polling and pending searches and drops the loaded thread.
func (av *AdminViewer) Close() error {
	av.mu.Lock()
	if av.cancel != nil {
		av.cancel()
		av.cancel = nil
	}
	av.msgs = nil
	av.lastErr = nil
	av.mu.Unlock()
	av.tenantSearch.stop()
	av.landlordSearch.stop()
	av.propertySearch.stop()
	return nil
}

// Thread returns the loaded thread in ascending createdAt order.
func (av *AdminViewer) Thread() []Message {
	av.mu.Lock()
	defer av.mu.Unlock()
	return append([]Message(nil), av.msgs...)
}

// LastError returns the most recent gated-query failure.
func (av *AdminViewer) LastError() error {
	av.mu.Lock()
	defer av.mu.Unlock()
	return av.lastErr
}

func filterUsers(list []UserSummary, query string) []UserSummary {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return append([]UserSummary(nil), list...)
	}
	var out []UserSummary
	for _, u := range list {
		if strings.Contains(strings.ToLower(u.Name), query) ||
			strings.Contains(strings.ToLower(u.Email), query) {
			out = append(out, u)
		}
	}
	return out
}

func filterProperties(list []PropertySummary, query string) []PropertySummary {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return append([]PropertySummary(nil), list...)
	}
	var out []PropertySummary
	for _, p := range list {
		if strings.Contains(strings.ToLower(p.Title), query) ||
			strings.Contains(strings.ToLower(p.City), query) {
			out = append(out, p)
		}
	}
	return out
}
