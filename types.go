package letly

import (
	"bytes"
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic REST API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Identity Types
// ============================================================================

// UserSummary is the embedded participant shape used by the REST transport.
type UserSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// UserRef is a participant reference that the wire encodes either as a raw
// user-id string (socket transport) or as an embedded UserSummary object
// (REST transport). Both decode to a stable identity for grouping.
type UserRef struct {
	ID   string
	User *UserSummary
}

// UnmarshalJSON accepts `"u42"` or `{"id":"u42","name":...}`.
func (r *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = UserRef{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = UserRef{ID: id}
		return nil
	}
	var u UserSummary
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*r = UserRef{ID: u.ID, User: &u}
	return nil
}

// MarshalJSON preserves the representation the reference was built with.
func (r UserRef) MarshalJSON() ([]byte, error) {
	if r.User != nil {
		return json.Marshal(r.User)
	}
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

// Summary returns the embedded user summary, synthesizing one from the raw
// id when the wire carried only a string.
func (r UserRef) Summary() UserSummary {
	if r.User != nil {
		return *r.User
	}
	return UserSummary{ID: r.ID}
}

// ============================================================================
// Message
// ============================================================================

// Message is a single chat message, shared by both transports.
type Message struct {
	ID            string    `json:"id"`
	SenderID      UserRef   `json:"senderId"`
	ReceiverID    UserRef   `json:"receiverId"`
	PropertyID    string    `json:"propertyId,omitempty"`
	Body          string    `json:"body"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	IsRead        bool      `json:"isRead"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AttachmentPlaceholder is rendered in place of an empty message body.
const AttachmentPlaceholder = "Image"

// DisplayBody returns the text to render for the message. Messages carrying
// only an image (or nothing at all) fall back to a placeholder label.
func (m *Message) DisplayBody() string {
	if m.Body != "" {
		return m.Body
	}
	return AttachmentPlaceholder
}

// ============================================================================
// Conversation / Presence
// ============================================================================

// ConversationSummary is one row in a user's inbox list. A nil Peer denotes
// the admin support channel on the socket transport; a nil LastMessage means
// no messages exist yet.
type ConversationSummary struct {
	Peer        *UserSummary `json:"peer"`
	LastMessage *Message     `json:"lastMessage"`
}

// PresenceEntry is a user's online/offline status as last reported by the
// server. It exists only while a socket is open.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// PropertySummary identifies a property in admin search lists.
type PropertySummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	City  string `json:"city,omitempty"`
}

// ============================================================================
// REST Options
// ============================================================================

// PaginationOptions limits REST message fetches.
type PaginationOptions struct {
	Limit  int
	Offset int
}

// SendOptions configures a REST message create.
type SendOptions struct {
	// ImageURL attaches an already-uploaded image to the message.
	ImageURL string
}
