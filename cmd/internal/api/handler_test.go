package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"inbox/cmd/internal/auth"
	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/thread"
)

type testEnv struct {
	srv      *httptest.Server
	store    *thread.InMemoryStore
	registry *broadcast.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := thread.NewInMemoryStore()
	resolver, err := thread.NewResolver(store, thread.WithRetryDelay(time.Millisecond), thread.WithLogger(log))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	registry := broadcast.NewRegistry(log)

	h, err := NewHandler(Config{}, Deps{
		Log:      log,
		Store:    store,
		Resolver: resolver,
		Auth:     auth.NewAuthenticator(nil, true),
		Registry: registry,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any, header map[string]string) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if user != "" {
		req.Header.Set(auth.DevUserHeader, user)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func decodeError(t *testing.T, raw []byte) apiError {
	t.Helper()
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		t.Fatalf("decode error body %q: %v", raw, err)
	}
	return er.Error
}

func TestHandler_RequiresAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, path := range []string{"/api/me", "/api/conversations", "/api/conversations/x"} {
		resp, raw := env.do(t, http.MethodGet, path, "", nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
		if got := decodeError(t, raw).Code; got != "missing_token" {
			t.Fatalf("%s: expected missing_token, got %q", path, got)
		}
	}
}

func TestHandler_Me(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodGet, "/api/me", "alice", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("expected no-store, got %q", cc)
	}
	var me meResponse
	if err := json.Unmarshal(raw, &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.UserID != "alice" {
		t.Fatalf("expected alice, got %q", me.UserID)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/me", "alice", nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHandler_ResolveFirstContactAndRevisit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	mine := env.registry.Subscribe("alice", 8)
	defer mine.Unsubscribe()
	theirs := env.registry.Subscribe("bob", 8)
	defer theirs.Unsubscribe()

	resp, raw := env.do(t, http.MethodPost, "/api/threads/resolve", "alice", resolveRequest{Identifier: "bob"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var first resolveResponse
	if err := json.Unmarshal(raw, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !first.Created || first.Path != string(thread.PathDirect) || first.Kind != thread.KindPerson.String() {
		t.Fatalf("unexpected first resolution: %+v", first)
	}
	convID := first.Conversation.ID

	gotCreated, gotChanged := false, false
	for !gotCreated || !gotChanged {
		select {
		case e := <-mine.Events():
			switch ev := e.(type) {
			case broadcast.ThreadCreated:
				gotCreated = ev.ConversationID == convID && ev.RequestedID == "bob"
			case broadcast.ThreadIDChanged:
				gotChanged = ev.OldID == "bob" && ev.NewID == convID
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for own events (created=%v changed=%v)", gotCreated, gotChanged)
		}
	}

	select {
	case e := <-theirs.Events():
		ev, ok := e.(broadcast.ThreadCreated)
		if !ok || ev.ConversationID != convID || ev.RequestedID != "alice" {
			t.Fatalf("unexpected counterpart event: %#v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for counterpart event")
	}

	resp, raw = env.do(t, http.MethodPost, "/api/threads/resolve", "alice", resolveRequest{Identifier: convID}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var again resolveResponse
	if err := json.Unmarshal(raw, &again); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if again.Created || again.Conversation.ID != convID || again.Path != string(thread.PathConversation) {
		t.Fatalf("unexpected revisit: %+v", again)
	}
}

func TestHandler_ResolveErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	foreign, err := env.store.CreateConversation(t.Context(), []string{"bob", "carol"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	theirs := env.registry.Subscribe("bob", 8)
	defer theirs.Unsubscribe()

	tests := []struct {
		name       string
		identifier string
		lang       string
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"self english", "alice", "", http.StatusForbidden, "self_conversation_forbidden", "yourself"},
		{"self german", "alice", "de-DE,de;q=0.9", http.StatusForbidden, "self_conversation_forbidden", "mit sich selbst"},
		{"foreign conversation", foreign.ID, "fr", http.StatusNotFound, "not_found", "introuvable"},
		{"blank", "   ", "", http.StatusBadRequest, "invalid_input", "invalid"},
	}

	for _, tt := range tests {
		resp, raw := env.do(t, http.MethodPost, "/api/threads/resolve", "alice",
			resolveRequest{Identifier: tt.identifier}, map[string]string{"Accept-Language": tt.lang})
		if resp.StatusCode != tt.wantStatus {
			t.Fatalf("%s: expected %d, got %d: %s", tt.name, tt.wantStatus, resp.StatusCode, raw)
		}
		e := decodeError(t, raw)
		if e.Code != tt.wantCode {
			t.Fatalf("%s: expected code %q, got %q", tt.name, tt.wantCode, e.Code)
		}
		if !strings.Contains(e.Message, tt.wantMsg) {
			t.Fatalf("%s: expected message containing %q, got %q", tt.name, tt.wantMsg, e.Message)
		}
	}

	convs, err := env.store.ListConversations(t.Context(), "alice")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("expected no conversations to be created, got %d", len(convs))
	}
	select {
	case e := <-theirs.Events():
		t.Fatalf("unexpected event for a participant of the foreign conversation: %#v", e)
	default:
	}
}

func TestHandler_ConversationAccess(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodPost, "/api/conversations", "alice",
		createConversationRequest{ParticipantIDs: []string{"bob", "alice"}}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var conv conversationResponse
	if err := json.Unmarshal(raw, &conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conv.Kind != thread.KindDirect || len(conv.ParticipantIDs) != 2 || conv.ParticipantIDs[0] != "alice" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/conversations", "alice",
		createConversationRequest{ParticipantIDs: []string{"alice", "bob"}}, nil)
	var dup conversationResponse
	if err := json.Unmarshal(raw, &dup); err != nil || resp.StatusCode != http.StatusOK || dup.ID != conv.ID {
		t.Fatalf("expected idempotent create, got %d %s", resp.StatusCode, raw)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/conversations", "mallory",
		createConversationRequest{ParticipantIDs: []string{"alice", "bob"}}, nil)
	if resp.StatusCode != http.StatusForbidden || decodeError(t, raw).Code != "forbidden" {
		t.Fatalf("expected 403 forbidden, got %d %s", resp.StatusCode, raw)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID, "bob", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("participant get: expected 200, got %d", resp.StatusCode)
	}
	resp, raw = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID, "mallory", nil, nil)
	if resp.StatusCode != http.StatusNotFound || decodeError(t, raw).Code != "not_found" {
		t.Fatalf("non-participant get: expected 404, got %d %s", resp.StatusCode, raw)
	}

	resp, raw = env.do(t, http.MethodGet, "/api/conversations", "bob", nil, nil)
	var list conversationListResponse
	if err := json.Unmarshal(raw, &list); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, raw)
	}
	if len(list.Conversations) != 1 || list.Conversations[0].ID != conv.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestHandler_RejectsBadBodies(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"unknown field", `{"identifier":"bob","extra":1}`},
		{"trailing data", `{"identifier":"bob"}{}`},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/threads/resolve", strings.NewReader(tt.body))
		req.Header.Set(auth.DevUserHeader, "alice")
		resp, err := env.srv.Client().Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tt.name, resp.StatusCode)
		}
	}
}
