package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"inbox/cmd/internal/auth"
	"inbox/cmd/internal/thread"

	"github.com/go-resty/resty/v2"
)

const defaultClientTimeout = 10 * time.Second

type clientSettings struct {
	token      string
	devUser    string
	lang       string
	timeout    time.Duration
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*clientSettings)

// WithToken authenticates requests with a bearer token.
func WithToken(token string) ClientOption {
	return func(s *clientSettings) { s.token = strings.TrimSpace(token) }
}

// WithDevUser authenticates requests with the dev-insecure user header.
func WithDevUser(userID string) ClientOption {
	return func(s *clientSettings) { s.devUser = strings.TrimSpace(userID) }
}

// WithLanguage sets Accept-Language so error messages come back localized.
func WithLanguage(lang string) ClientOption {
	return func(s *clientSettings) { s.lang = strings.TrimSpace(lang) }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(s *clientSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(s *clientSettings) { s.httpClient = hc }
}

// Client talks to the HTTP Conversation API. It implements thread.Store, so a
// thread.Resolver can run client-side against a remote server.
type Client struct {
	http *resty.Client
}

var (
	_ thread.Store         = (*Client)(nil)
	_ thread.DirectCreator = (*Client)(nil)
)

// NewClient constructs a Client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: invalid base url %q", baseURL)
	}

	s := clientSettings{timeout: defaultClientTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	hc := resty.New()
	if s.httpClient != nil {
		hc = resty.NewWithClient(s.httpClient)
	}
	hc.SetBaseURL(baseURL).
		SetHeader("User-Agent", "inboxctl").
		SetTimeout(s.timeout)
	if s.token != "" {
		hc.SetAuthToken(s.token)
	}
	if s.devUser != "" {
		hc.SetHeader(auth.DevUserHeader, s.devUser)
	}
	if s.lang != "" {
		hc.SetHeader("Accept-Language", s.lang)
	}
	return &Client{http: hc}, nil
}

// Me is the caller identity as seen by the server.
type Me struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Me returns the authenticated caller.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var out meResponse
	if _, err := c.do(ctx, "api.Client.Me", "", http.MethodGet, "/api/me", nil, &out); err != nil {
		return Me{}, err
	}
	me := Me{UserID: out.UserID, SessionID: out.SessionID}
	if out.ExpiresAt != nil {
		me.ExpiresAt = *out.ExpiresAt
	}
	return me, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (thread.Conversation, error) {
	var out conversationResponse
	path := "/api/conversations/" + url.PathEscape(id)
	if _, err := c.do(ctx, "api.Client.GetConversation", id, http.MethodGet, path, nil, &out); err != nil {
		return thread.Conversation{}, err
	}
	return out.toConversation(), nil
}

// ListConversations lists the caller's conversations. The server answers for the
// authenticated caller, so userID must match it.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]thread.Conversation, error) {
	var out conversationListResponse
	if _, err := c.do(ctx, "api.Client.ListConversations", userID, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	convs := make([]thread.Conversation, 0, len(out.Conversations))
	for _, cr := range out.Conversations {
		convs = append(convs, cr.toConversation())
	}
	return convs, nil
}

func (c *Client) CreateConversation(ctx context.Context, participantIDs []string) (thread.Conversation, error) {
	conv, _, err := c.CreateDirect(ctx, participantIDs)
	return conv, err
}

// CreateDirect creates the direct conversation of a pair. The server answers 201
// for a new conversation and 200 for an existing one.
func (c *Client) CreateDirect(ctx context.Context, participantIDs []string) (thread.Conversation, bool, error) {
	var out conversationResponse
	body := createConversationRequest{ParticipantIDs: participantIDs}
	status, err := c.do(ctx, "api.Client.CreateConversation", "", http.MethodPost, "/api/conversations", body, &out)
	if err != nil {
		return thread.Conversation{}, false, err
	}
	return out.toConversation(), status == http.StatusCreated, nil
}

// Resolution is a server-side resolution result.
type Resolution struct {
	Conversation thread.Conversation
	Requested    string
	Kind         string
	Path         string
	Created      bool
}

// Resolve asks the server to resolve identifier for the caller.
func (c *Client) Resolve(ctx context.Context, identifier string) (Resolution, error) {
	var out resolveResponse
	body := resolveRequest{Identifier: identifier}
	if _, err := c.do(ctx, "api.Client.Resolve", identifier, http.MethodPost, "/api/threads/resolve", body, &out); err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Conversation: out.Conversation.toConversation(),
		Requested:    out.Requested,
		Kind:         out.Kind,
		Path:         out.Path,
		Created:      out.Created,
	}, nil
}

func (c *Client) do(ctx context.Context, op, id, method, path string, body, result any) (int, error) {
	var apiErr errorResponse
	req := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return 0, &thread.OpError{Op: op, Kind: thread.ErrTransient, ID: id, Err: err}
	}
	if resp.IsError() {
		return resp.StatusCode(), statusError(op, id, resp.StatusCode(), apiErr.Error)
	}
	return resp.StatusCode(), nil
}

// ErrUnauthorized is returned when the server rejects the client's credentials.
var ErrUnauthorized = errors.New("api: unauthorized")

func statusError(op, id string, status int, e apiError) error {
	var cause error
	if e.Message != "" {
		cause = errors.New(e.Message)
	}
	kind := thread.ErrTransient
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case http.StatusNotFound:
		kind = thread.ErrNotFound
	case http.StatusBadRequest:
		kind = thread.ErrInvalidInput
	case http.StatusForbidden:
		if e.Code == thread.ErrSelfConversation.Error() {
			kind = thread.ErrSelfConversation
		} else {
			// A caller-not-participant rejection.
			kind = thread.ErrInvalidInput
		}
	}
	return &thread.OpError{Op: op, Kind: kind, ID: id, Err: cause}
}
