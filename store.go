package letly

import "sync"

// conversationStore is the goroutine-safe in-memory state behind a chat
// surface: per-peer message lists, the inbox summary list, the presence set
// and the unread counter. Nothing here persists; the whole store is dropped
// when the surface closes.
type conversationStore struct {
	mu       sync.RWMutex
	threads  map[string][]Message
	inbox    []ConversationSummary
	presence map[string]bool
	unread   int
}

func newConversationStore() *conversationStore {
	return &conversationStore{
		threads:  make(map[string][]Message),
		presence: make(map[string]bool),
	}
}

// appendMessages adds to the end of one thread, preserving arrival order.
func (s *conversationStore) appendMessages(key string, msgs ...Message) {
	s.mu.Lock()
	s.threads[key] = append(s.threads[key], msgs...)
	s.mu.Unlock()
}

// replaceThread swaps one thread wholesale.
func (s *conversationStore) replaceThread(key string, msgs []Message) {
	s.mu.Lock()
	s.threads[key] = append([]Message(nil), msgs...)
	s.mu.Unlock()
}

// thread returns a copy of one thread's messages.
func (s *conversationStore) thread(key string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.threads[key]...)
}

func (s *conversationStore) replaceInbox(list []ConversationSummary) {
	s.mu.Lock()
	s.inbox = append([]ConversationSummary(nil), list...)
	s.mu.Unlock()
}

func (s *conversationStore) inboxList() []ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ConversationSummary(nil), s.inbox...)
}

// replacePresence swaps the presence set wholesale.
func (s *conversationStore) replacePresence(entries []PresenceEntry) {
	s.mu.Lock()
	s.presence = make(map[string]bool, len(entries))
	for _, e := range entries {
		s.presence[e.UserID] = e.IsOnline
	}
	s.mu.Unlock()
}

// patchPresence updates a single user's status.
func (s *conversationStore) patchPresence(entry PresenceEntry) {
	s.mu.Lock()
	s.presence[entry.UserID] = entry.IsOnline
	s.mu.Unlock()
}

func (s *conversationStore) isOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence[userID]
}

func (s *conversationStore) setUnread(n int) {
	s.mu.Lock()
	s.unread = n
	s.mu.Unlock()
}

func (s *conversationStore) unreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// clear drops everything; used on surface teardown and transport loss.
func (s *conversationStore) clear() {
	s.mu.Lock()
	s.threads = make(map[string][]Message)
	s.inbox = nil
	s.presence = make(map[string]bool)
	s.unread = 0
	s.mu.Unlock()
}
