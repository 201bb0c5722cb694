package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"inbox/cmd/internal/auth"
	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/surface"
	"inbox/cmd/internal/thread"
)

const defaultMaxBodyBytes int64 = 16 << 10

// Config holds HTTP Conversation API limits.
type Config struct {
	MaxBodyBytes int64
}

// Deps are the collaborators of a Handler. Registry is optional.
type Deps struct {
	Log      *slog.Logger
	Store    thread.Store
	Resolver surface.Resolver
	Auth     *auth.Authenticator
	Registry *broadcast.Registry
}

// Handler serves the HTTP Conversation API.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	store    thread.Store
	resolver surface.Resolver
	auth     *auth.Authenticator
	registry *broadcast.Registry
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, deps Deps) (*Handler, error) {
	if deps.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("api: resolver is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("api: authenticator is required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		log:      deps.Log,
		cfg:      cfg,
		store:    deps.Store,
		resolver: deps.Resolver,
		auth:     deps.Auth,
		registry: deps.Registry,
	}, nil
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	protect := h.auth.Middleware(rejectUnauthorized)

	mux.Handle("/api/me", protect(http.HandlerFunc(h.handleMe)))
	mux.Handle("/api/conversations", protect(http.HandlerFunc(h.handleConversations)))
	mux.Handle("/api/conversations/", protect(http.HandlerFunc(h.handleConversation)))
	mux.Handle("/api/threads/resolve", protect(http.HandlerFunc(h.handleResolve)))
}

func rejectUnauthorized(w http.ResponseWriter, _ *http.Request, err error) {
	code := "invalid_token"
	if errors.Is(err, auth.ErrMissingToken) {
		code = "missing_token"
	}
	writeError(w, http.StatusUnauthorized, code, "authentication required")
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	c, _ := auth.ClaimsFrom(r.Context())

	resp := meResponse{UserID: c.UserID, SessionID: c.SessionID}
	if !c.ExpiresAt.IsZero() {
		exp := c.ExpiresAt
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listConversations(w, r)
	case http.MethodPost:
		h.createConversation(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	c, _ := auth.ClaimsFrom(r.Context())

	convs, err := h.store.ListConversations(r.Context(), c.UserID)
	if err != nil {
		err = thread.WrapTransient("api.ListConversations", err)
		h.log.Warn("api.conversations.list.failed", "user_id", c.UserID, "err", err)
		writeThreadError(w, r, err)
		return
	}
	thread.SortByActivity(convs)

	out := conversationListResponse{Conversations: make([]conversationResponse, 0, len(convs))}
	for _, conv := range convs {
		out.Conversations = append(out.Conversations, toConversationResponse(conv))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	c, _ := auth.ClaimsFrom(r.Context())

	var req createConversationRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	participants, err := thread.NormalizeParticipants(req.ParticipantIDs)
	if err != nil {
		writeThreadError(w, r, err)
		return
	}
	if !containsString(participants, c.UserID) {
		writeError(w, http.StatusForbidden, "forbidden", "caller must be a participant")
		return
	}

	conv, inserted, err := h.create(r, participants)
	if err != nil {
		err = thread.WrapTransient("api.CreateConversation", err)
		h.log.Warn("api.conversations.create.failed", "user_id", c.UserID, "err", err)
		writeThreadError(w, r, err)
		return
	}
	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, toConversationResponse(conv))
}

// create answers 201 only for a new conversation; stores that cannot tell are
// reported as 200.
func (h *Handler) create(r *http.Request, participants []string) (thread.Conversation, bool, error) {
	if dc, ok := h.store.(thread.DirectCreator); ok {
		return dc.CreateDirect(r.Context(), participants)
	}
	conv, err := h.store.CreateConversation(r.Context(), participants)
	return conv, false, err
}

func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	c, _ := auth.ClaimsFrom(r.Context())

	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		writeThreadError(w, r, thread.WrapTransient("api.GetConversation", err))
		return
	}
	// Non-participants cannot distinguish a foreign conversation from a missing one.
	if !conv.HasParticipant(c.UserID) {
		writeThreadError(w, r, thread.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	c, _ := auth.ClaimsFrom(r.Context())

	var req resolveRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		writeThreadError(w, r, thread.ErrInvalidInput)
		return
	}

	res, err := h.resolver.Resolve(r.Context(), identifier, c.UserID)
	if err != nil {
		h.log.Info("api.resolve.failed", "user_id", c.UserID, "identifier", identifier, "code", thread.Code(err))
		writeThreadError(w, r, err)
		return
	}
	h.announce(c.UserID, identifier, res)

	writeJSON(w, http.StatusOK, resolveResponse{
		Conversation: toConversationResponse(res.Conversation),
		Requested:    res.Requested,
		Kind:         res.Kind.String(),
		Path:         string(res.Path),
		Created:      res.Created,
	})
}

// announce publishes the resolution outcome to the caller's other surfaces and,
// for a newly created conversation, to the counterpart.
func (h *Handler) announce(me, requested string, res thread.Resolution) {
	if h.registry == nil {
		return
	}
	surface.NewSynchronizer(nil, userPublisher{h.registry, me}, h.log).
		NotifyCounterpart(h.registry, me).
		Resolved(requested, res)
}

// userPublisher publishes to a user's bus without creating one for a user nobody listens as.
type userPublisher struct {
	registry *broadcast.Registry
	userID   string
}

func (p userPublisher) Publish(e broadcast.Event) { p.registry.Publish(p.userID, e) }

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
