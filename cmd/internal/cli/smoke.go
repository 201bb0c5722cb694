package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"inbox/cmd/internal/auth"
	"inbox/cmd/internal/thread"
	v1 "inbox/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
)

const smokeReadLimit = 1 << 20

type smokeOptions struct {
	origin    string
	as        string
	asToken   string
	with      string
	withToken string
	text      string
	step      time.Duration
}

// runSmoke drives two realtime sessions through first contact, send, fanout,
// history and dedupe. It returns a one-line summary.
func runSmoke(ctx context.Context, wsURL string, o smokeOptions) (string, error) {
	a, err := smokeConnect(ctx, "A", wsURL, o.origin, o.as, o.asToken, o.step)
	if err != nil {
		return "", err
	}
	defer a.close()

	b, err := smokeConnect(ctx, "B", wsURL, o.origin, o.with, o.withToken, o.step)
	if err != nil {
		return "", err
	}
	defer b.close()

	// A opens B by person id; the resolver creates or finds the direct conversation.
	if err := a.write(ctx, v1.TypeThreadOpen, v1.ThreadOpenPayload{Identifier: b.userID}, o.step); err != nil {
		return "", err
	}
	st, err := a.waitState(ctx, "", o.step)
	if err != nil {
		return "", err
	}
	convID := st.ConversationID
	if st.Path != "/messages/"+convID {
		return "", fmt.Errorf("A: history path %q does not address %s", st.Path, convID)
	}

	if err := b.write(ctx, v1.TypeThreadSelect, v1.ThreadSelectPayload{ConversationID: convID}, o.step); err != nil {
		return "", err
	}
	if _, err := b.waitState(ctx, convID, o.step); err != nil {
		return "", err
	}

	clientMsgID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	ack, err := a.send(ctx, convID, clientMsgID, o.text, o.step)
	if err != nil {
		return "", err
	}

	var got v1.MessageNewPayload
	if err := b.readPayload(ctx, v1.TypeMessageNew, &got, o.step); err != nil {
		return "", err
	}
	if got.ServerMsgID != ack.ServerMsgID || got.Seq != ack.Seq || got.SenderID != a.userID || got.Text != o.text {
		return "", fmt.Errorf("B: message_new mismatch: %+v", got)
	}

	if err := b.write(ctx, v1.TypeHistoryFetch, v1.HistoryFetchPayload{ConversationID: convID, Limit: 50}, o.step); err != nil {
		return "", err
	}
	var chunk v1.HistoryChunkPayload
	if err := b.readPayload(ctx, v1.TypeHistoryChunk, &chunk, o.step); err != nil {
		return "", err
	}
	found := false
	for _, m := range chunk.Messages {
		if m.ServerMsgID == ack.ServerMsgID && m.ClientMsgID == clientMsgID {
			found = true
			break
		}
	}
	if !found {
		return "", errors.New("B: history_chunk is missing the sent message")
	}

	dup, err := a.send(ctx, convID, clientMsgID, o.text, o.step)
	if err != nil {
		return "", err
	}
	if !dup.Duplicated || dup.Seq != ack.Seq || dup.ServerMsgID != ack.ServerMsgID {
		return "", fmt.Errorf("A: resend was not deduplicated: %+v", dup)
	}

	return fmt.Sprintf("OK: A=%s B=%s conversation_id=%s seq=%d server_msg_id=%s",
		a.userID, b.userID, convID, ack.Seq, ack.ServerMsgID), nil
}

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	userID    string
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func smokeConnect(ctx context.Context, name, wsURL, origin, devUser, token string, step time.Duration) (*smokeClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, step)
	defer cancel()

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	if devUser != "" {
		h.Set(auth.DevUserHeader, devUser)
	}

	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol")
		return nil, fmt.Errorf("connect %s: subprotocol %q, want %q", name, got, v1.Subprotocol)
	}
	conn.SetReadLimit(smokeReadLimit)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 256),
		errCh: make(chan error, 1),
	}
	go c.readLoop(ctx)

	if err := c.write(ctx, v1.TypeHello, v1.HelloPayload{Token: token}, step); err != nil {
		c.close()
		return nil, err
	}
	var ack v1.HelloAckPayload
	if err := c.readPayload(ctx, v1.TypeHelloAck, &ack, step); err != nil {
		c.close()
		return nil, err
	}
	if ack.UserID == "" || ack.SessionID == "" {
		c.close()
		return nil, fmt.Errorf("%s: incomplete hello_ack: %+v", name, ack)
	}
	c.userID, c.sessionID = ack.UserID, ack.SessionID
	return c, nil
}

func (c *smokeClient) readLoop(ctx context.Context) {
	defer close(c.inbox)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.fail(err)
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.fail(fmt.Errorf("bad json: %w", err))
			return
		}
		if err := env.Validate(); err != nil {
			c.fail(fmt.Errorf("bad envelope: %w", err))
			return
		}
		select {
		case c.inbox <- env:
		default:
			c.fail(errors.New("inbox overflow: consumer too slow"))
			return
		}
	}
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *smokeClient) write(ctx context.Context, typ string, payload any, step time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: raw,
	})
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, step)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("%s: write %s: %w", c.name, typ, err)
	}
	return nil
}

// next returns the next envelope of type want, skipping pushes of other types.
// Server errors end the wait.
func (c *smokeClient) next(ctx context.Context, want string, step time.Duration) (v1.Envelope, error) {
	rctx, cancel := context.WithTimeout(ctx, step)
	defer cancel()

	for {
		select {
		case <-rctx.Done():
			return v1.Envelope{}, fmt.Errorf("%s: timeout waiting for %s", c.name, want)
		case err := <-c.errCh:
			return v1.Envelope{}, fmt.Errorf("%s: connection failed waiting for %s: %w", c.name, want, err)
		case env, ok := <-c.inbox:
			if !ok {
				return v1.Envelope{}, fmt.Errorf("%s: connection closed waiting for %s", c.name, want)
			}
			if env.Type == want {
				return env, nil
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				return v1.Envelope{}, fmt.Errorf("%s: server error code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
		}
	}
}

func (c *smokeClient) readPayload(ctx context.Context, want string, dst any, step time.Duration) error {
	env, err := c.next(ctx, want, step)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%s: decode %s: %w", c.name, want, err)
	}
	return nil
}

// waitState waits for a settled thread_state, optionally for a specific conversation.
func (c *smokeClient) waitState(ctx context.Context, convID string, step time.Duration) (v1.ThreadStatePayload, error) {
	deadline := time.Now().Add(step)
	for {
		var st v1.ThreadStatePayload
		if err := c.readPayload(ctx, v1.TypeThreadState, &st, time.Until(deadline)); err != nil {
			return st, err
		}
		switch st.Status {
		case string(thread.StatusResolved):
			if convID == "" || st.ConversationID == convID {
				return st, nil
			}
		case string(thread.StatusFailed):
			msg := "unknown"
			if st.Error != nil {
				msg = st.Error.Code + ": " + st.Error.Message
			}
			return st, fmt.Errorf("%s: resolution of %q failed: %s", c.name, st.Requested, msg)
		}
	}
}

func (c *smokeClient) send(ctx context.Context, convID, clientMsgID, text string, step time.Duration) (v1.MessageAckPayload, error) {
	var ack v1.MessageAckPayload
	err := c.write(ctx, v1.TypeMessageSend, v1.MessageSendPayload{
		ConversationID: convID,
		ClientMsgID:    clientMsgID,
		Text:           text,
	}, step)
	if err != nil {
		return ack, err
	}
	if err := c.readPayload(ctx, v1.TypeMessageAck, &ack, step); err != nil {
		return ack, err
	}
	if ack.ConversationID != convID || ack.ClientMsgID != clientMsgID || ack.ServerMsgID == "" || ack.Seq <= 0 {
		return ack, fmt.Errorf("%s: bad message_ack: %+v", c.name, ack)
	}
	return ack, nil
}

// wsURLFromServer derives the /ws endpoint from an http(s) base URL.
func wsURLFromServer(server string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(server))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func newSmokeCmd(opts *globalOptions) *cobra.Command {
	o := smokeOptions{}

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run a realtime smoke test with two sessions against /ws",
		Long: "smoke connects as two users, resolves their direct conversation by person id,\n" +
			"sends a message and checks fanout, history and client_msg_id dedupe.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.as == "" {
				o.as = opts.user
			}
			if o.asToken == "" {
				o.asToken = opts.token
			}
			if (o.as == "" && o.asToken == "") || (o.with == "" && o.withToken == "") {
				return errors.New("both sessions need credentials: --as/--as-token and --with/--with-token")
			}
			wsURL, err := wsURLFromServer(opts.server)
			if err != nil {
				return fmt.Errorf("invalid --server: %w", err)
			}

			summary, err := runSmoke(cmd.Context(), wsURL, o)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", summary)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.origin, "origin", "http://localhost", "Origin header for the websocket handshake")
	f.StringVar(&o.as, "as", "", "user id of session A (dev-insecure; default --user)")
	f.StringVar(&o.asToken, "as-token", "", "access token of session A (default --token)")
	f.StringVar(&o.with, "with", "", "user id of session B (dev-insecure)")
	f.StringVar(&o.withToken, "with-token", "", "access token of session B")
	f.StringVar(&o.text, "text", "hello from inboxctl", "message text")
	f.DurationVar(&o.step, "step-timeout", 7*time.Second, "timeout per protocol step")
	return cmd
}
