package cli

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

	"inbox/cmd/internal/api"
	"inbox/cmd/internal/auth"
	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/realtime"
	"inbox/cmd/internal/thread"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func newServer(t *testing.T) string {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := thread.NewInMemoryStore()
	resolver, err := thread.NewResolver(store, thread.WithRetryDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	authn := auth.NewAuthenticator(nil, true)
	registry := broadcast.NewRegistry(log)

	h, err := api.NewHandler(api.Config{}, api.Deps{
		Log:      log,
		Store:    store,
		Resolver: resolver,
		Auth:     authn,
		Registry: registry,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	gw, err := realtime.NewWSGateway(realtime.DefaultGatewayConfig(), realtime.GatewayDeps{
		Log:           log,
		Auth:          authn,
		Resolver:      resolver,
		Conversations: store,
		LastMessages:  store,
		Registry:      registry,
	})
	if err != nil {
		t.Fatalf("NewWSGateway: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("/ws", gw)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestKeygen(t *testing.T) {
	t.Parallel()

	out, err := run(t, "keygen", "--json")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var keys map[string]string
	if err := json.Unmarshal([]byte(out), &keys); err != nil {
		t.Fatalf("decode: %v (%q)", err, out)
	}
	if len(keys["secret_key_hex"]) != 128 || len(keys["public_key_hex"]) != 64 {
		t.Fatalf("unexpected key lengths: %v", keys)
	}
}

func TestToken_IssuesVerifiableToken(t *testing.T) {
	secret := auth.GenerateSecretKeyHex()
	t.Setenv("INBOX_PASETO_V4_SECRET_KEY_HEX", secret)
	t.Setenv("INBOX_AUTH_DEV_INSECURE", "")

	if _, err := run(t, "token"); err == nil {
		t.Fatalf("expected error without --for")
	}

	out, err := run(t, "token", "--for", "alice", "--session", "s1", "--ttl", "5m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	cfg := auth.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = secret
	tm, err := auth.NewTokenManager(cfg)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	claims, err := tm.Verify(strings.TrimSpace(out), time.Now().UTC())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "alice" || claims.SessionID != "s1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestServerCommands(t *testing.T) {
	t.Parallel()
	url := newServer(t)

	out, err := run(t, "--server", url, "--user", "alice", "whoami")
	if err != nil || !strings.Contains(out, "You are alice") {
		t.Fatalf("whoami: %q %v", out, err)
	}

	out, err = run(t, "--server", url, "--user", "alice", "conversations")
	if err != nil || !strings.Contains(out, "No conversations.") {
		t.Fatalf("empty conversations: %q %v", out, err)
	}

	out, err = run(t, "--server", url, "--user", "alice", "--json", "resolve", "bob")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var created resolveOutput
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode: %v (%q)", err, out)
	}
	if !created.Created || created.Mode != "server" || created.HistoryPath != "/messages/"+created.ConversationID {
		t.Fatalf("unexpected resolution: %+v", created)
	}

	out, err = run(t, "--server", url, "--user", "bob", "--json", "resolve", "--local", "--retry-delay", "1ms", "alice")
	if err != nil {
		t.Fatalf("local resolve: %v", err)
	}
	var local resolveOutput
	if err := json.Unmarshal([]byte(out), &local); err != nil {
		t.Fatalf("decode: %v (%q)", err, out)
	}
	if local.Created || local.ConversationID != created.ConversationID || local.Mode != "local" {
		t.Fatalf("expected existing conversation, got %+v", local)
	}
	if local.HistoryPath != "/messages/"+created.ConversationID {
		t.Fatalf("expected canonical history path, got %q", local.HistoryPath)
	}

	out, err = run(t, "--server", url, "--user", "alice", "conversations")
	if err != nil || !strings.Contains(out, created.ConversationID) || !strings.Contains(out, "bob") {
		t.Fatalf("conversations: %q %v", out, err)
	}

	if _, err := run(t, "--server", url, "--user", "alice", "resolve", "alice"); !thread.IsSelfConversation(err) {
		t.Fatalf("expected self conversation error, got %v", err)
	}
}

func TestSmoke(t *testing.T) {
	t.Parallel()
	url := newServer(t)

	out, err := run(t, "--server", url, "smoke", "--as", "alice", "--with", "bob", "--step-timeout", "3s")
	if err != nil {
		t.Fatalf("smoke: %v", err)
	}
	if !strings.HasPrefix(out, "OK: A=alice B=bob") {
		t.Fatalf("unexpected summary: %q", out)
	}

	if _, err := run(t, "--server", url, "smoke", "--as", "alice"); err == nil {
		t.Fatalf("expected error without credentials for session B")
	}
}

func TestWSURLFromServer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/ws"},
		{in: "https://inbox.example.com/", want: "wss://inbox.example.com/ws"},
		{in: "ws://127.0.0.1:8080", want: "ws://127.0.0.1:8080/ws"},
		{in: "ftp://x", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tc := range cases {
		got, err := wsURLFromServer(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("wsURLFromServer(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("wsURLFromServer(%q)=%q, %v want %q", tc.in, got, err, tc.want)
		}
	}
}
