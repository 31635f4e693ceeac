// Package letly provides the Go client SDK for the Letly rental-marketplace
// chat service.
//
// It covers both chat transports: the push-based WebSocket channel used by
// the inbox/support surfaces (ChatSocket + SocketSource) and the polled REST
// channel used by the property-detail panel and the admin viewer
// (PolledSource, AdminViewer).
//
// Example:
//
//	client := letly.NewClient(token)
//
//	// REST thread, scoped to (peer, property)
//	msgs, _ := client.Messages.Get(ctx, "u42", "prop-7", nil)
//
//	// Socket surface
//	sock := letly.NewChatSocket(client, nil)
//	src := letly.NewSocketSource(sock)
//	sock.Open(ctx, token)
package letly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL = "https://api.letly.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client for the chat backend. The backend itself is an
// external collaborator; this layer only speaks its contract shape.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client

	Messages *MessagesClient
	Admin    *AdminClient
	Uploads  *UploadsClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new Letly client. token is the bearer token issued by
// the auth collaborator; pass "" for endpoints that allow anonymous access.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Messages = &MessagesClient{client: c}
	c.Admin = &AdminClient{client: c}
	c.Uploads = &UploadsClient{client: c}
	return c
}

// SetToken sets or updates the bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the configured bearer token.
func (c *Client) Token() string {
	return c.token
}

// SocketURL returns the WebSocket endpoint derived from the base URL. The
// token travels in the authenticate frame, not the URL.
func (c *Client) SocketURL() string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/ws"
}

// Health checks chat service health.
func (c *Client) Health(ctx context.Context) (*Result, error) {
	data, err := c.doRequest(ctx, "GET", "/api/health", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

// Me returns the identity encoded in the configured bearer token. It fails
// when no token is set or the token is not a well-formed JWT.
func (c *Client) Me() (*TokenClaims, error) {
	return ParseToken(c.token)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string, headers map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string, headers map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query, headers)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func paginationQuery(base map[string]string, opts *PaginationOptions) map[string]string {
	if opts == nil {
		return base
	}
	if base == nil {
		base = map[string]string{}
	}
	if opts.Limit > 0 {
		base["limit"] = fmt.Sprintf("%d", opts.Limit)
	}
	if opts.Offset > 0 {
		base["offset"] = fmt.Sprintf("%d", opts.Offset)
	}
	return base
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles the property-scoped REST chat contract.
type MessagesClient struct{ client *Client }

// Get fetches the messages between the authenticated user and peerID, scoped
// to a property. An empty result is an empty thread, not an error.
func (m *MessagesClient) Get(ctx context.Context, peerID, propertyID string, opts *PaginationOptions) ([]Message, error) {
	query := paginationQuery(map[string]string{
		"receiverId": peerID,
		"propertyId": propertyID,
	}, opts)

	res, err := m.client.do(ctx, "GET", "/api/chat/messages", nil, query, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, restError(res, "get messages failed")
	}

	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}

// Create submits one message (receiver, property, text, optional image URL).
// Each call carries a fresh idempotency key so a retried HTTP request cannot
// create the message twice.
func (m *MessagesClient) Create(ctx context.Context, receiverID, propertyID, body string, opts *SendOptions) (*Message, error) {
	payload := map[string]interface{}{
		"receiverId": receiverID,
		"propertyId": propertyID,
		"body":       body,
	}
	if opts != nil && opts.ImageURL != "" {
		payload["attachmentUrl"] = opts.ImageURL
	}

	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	res, err := m.client.do(ctx, "POST", "/api/chat/messages", payload, nil, headers)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, restError(res, "send message failed")
	}

	var msg Message
	if err := res.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

// ============================================================================
// Admin
// ============================================================================

// AdminClient handles the admin-only cross-user chat contract.
type AdminClient struct{ client *Client }

// AllMessages fetches the thread between two arbitrary users scoped to a
// property. Admin-only on the server side.
func (a *AdminClient) AllMessages(ctx context.Context, tenantID, landlordID, propertyID string, opts *PaginationOptions) ([]Message, error) {
	query := paginationQuery(map[string]string{
		"tenantId":   tenantID,
		"landlordId": landlordID,
		"propertyId": propertyID,
	}, opts)

	res, err := a.client.do(ctx, "GET", "/api/admin/chat/messages", nil, query, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, restError(res, "get admin messages failed")
	}

	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}

// Users lists users filtered by role ("tenant" or "landlord"), used to feed
// the admin viewer's search lists.
func (a *AdminClient) Users(ctx context.Context, role string) ([]UserSummary, error) {
	var query map[string]string
	if role != "" {
		query = map[string]string{"role": role}
	}
	res, err := a.client.do(ctx, "GET", "/api/admin/users", nil, query, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, restError(res, "list users failed")
	}

	var users []UserSummary
	if err := res.Decode(&users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// Properties lists properties for the admin viewer's property search list.
func (a *AdminClient) Properties(ctx context.Context) ([]PropertySummary, error) {
	res, err := a.client.do(ctx, "GET", "/api/admin/properties", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, restError(res, "list properties failed")
	}

	var props []PropertySummary
	if err := res.Decode(&props); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	return props, nil
}

// ============================================================================
// Uploads
// ============================================================================

// UploadsClient handles the external file-upload collaborator.
type UploadsClient struct{ client *Client }

// UploadFile is one file to upload.
type UploadFile struct {
	Name string
	Data []byte
}

// Upload sends one or more files as a multipart form and returns the stored
// URLs in the same order.
func (u *UploadsClient) Upload(ctx context.Context, files ...UploadFile) ([]string, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to upload")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write file data: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.client.baseURL+"/api/uploads", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if u.client.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.client.token)
	}

	resp, err := u.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	res, err := decodeJSON[Result](data)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, restError(res, "upload rejected")
	}

	var urls []string
	if err := res.Decode(&urls); err != nil {
		return nil, fmt.Errorf("failed to decode upload URLs: %w", err)
	}
	return urls, nil
}

// UploadPath uploads a single local file and returns its stored URL.
func (u *UploadsClient) UploadPath(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	urls, err := u.Upload(ctx, UploadFile{Name: filepath.Base(path), Data: data})
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", fmt.Errorf("upload returned no URL")
	}
	return urls[0], nil
}

func restError(res *Result, fallback string) error {
	if res.Error != nil {
		return res.Error
	}
	return fmt.Errorf("%s", fallback)
}
