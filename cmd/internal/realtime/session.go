package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"inbox/cmd/internal/auth"
	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/metrics"
	"inbox/cmd/internal/surface"
	"inbox/cmd/internal/thread"
	v1 "inbox/shared/contracts/realtime/v1"

	"golang.org/x/text/language"
)

// session is the per-connection state: the authenticated user and their two surfaces.
// dispatch runs on the read loop; view callbacks run on resolver goroutines.
type session struct {
	ctx    context.Context
	g      *WSGateway
	client *Client
	log    *slog.Logger

	mu     sync.Mutex
	lang   language.Tag
	userID string
	room   string
	active *surface.ActiveView
	list   *surface.ListView
	subs   []*broadcast.Subscription
	closed bool

	// acquired is set once the session holds a registry reference and counts as active.
	acquired bool
}

// wireError is a handler failure with an explicit protocol code.
type wireError struct {
	code string
	msg  string
}

func (e *wireError) Error() string { return e.code + ": " + e.msg }

func errWire(code, format string, args ...any) error {
	return &wireError{code: code, msg: fmt.Sprintf(format, args...)}
}

func newSession(ctx context.Context, g *WSGateway, client *Client, lang language.Tag) *session {
	return &session{
		ctx:    ctx,
		g:      g,
		client: client,
		log:    g.log.With("session_id", client.SessionID),
		lang:   lang,
	}
}

func (s *session) authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID != ""
}

// authenticate binds the session to claims and starts its surfaces.
// A session closed while the surfaces were being built tears them down again.
func (s *session) authenticate(claims auth.Claims) error {
	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		return auth.ErrInvalidToken
	}

	s.mu.Lock()
	if s.userID != "" || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.userID = userID
	s.client.UserID = userID
	s.log = s.log.With("user_id", userID)
	log := s.log
	s.mu.Unlock()

	bus := s.g.registry.Acquire(userID)

	list, err := surface.NewListView(surface.ListConfig{
		UserID:   userID,
		Store:    s.g.conversations,
		Log:      log,
		OnChange: s.pushList,
		OnSelect: func(id string) { s.activeView().Select(id) },
	})
	if err != nil {
		s.g.registry.Release(userID)
		return err
	}

	active, err := surface.NewActiveView(s.ctx, surface.ActiveConfig{
		UserID:       userID,
		Resolver:     s.g.resolver,
		Bus:          bus,
		Counterparts: s.g.registry,
		Log:          log,
		OnChange:     s.pushState,
		OnBackToList: func() { s.pushList(list.Items()) },
		EventBuffer:  s.g.cfg.EventBuffer,
	})
	if err != nil {
		s.g.registry.Release(userID)
		return err
	}

	listSub := bus.Subscribe(s.g.cfg.EventBuffer)
	relaySub := bus.Subscribe(s.g.cfg.EventBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		active.Close()
		listSub.Unsubscribe()
		relaySub.Unsubscribe()
		s.g.registry.Release(userID)
		return nil
	}
	s.active = active
	s.list = list
	s.subs = append(s.subs, listSub, relaySub)
	s.acquired = true
	metrics.ActiveSessions.Inc()
	s.mu.Unlock()

	go list.Run(s.ctx, listSub)
	go s.relay(relaySub)

	log.Info("ws.session.start")
	return nil
}

func (s *session) activeView() *surface.ActiveView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *session) listView() *surface.ListView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list
}

func (s *session) user() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *session) language() language.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// close tears down the surfaces; resolutions in flight finish without effects.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	active, subs, userID, room, acquired := s.active, s.subs, s.userID, s.room, s.acquired
	s.room = ""
	s.mu.Unlock()

	if active != nil {
		active.Close()
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if room != "" {
		s.g.hub.Leave(room, s.client.SessionID)
	}
	if acquired {
		s.g.registry.Release(userID)
		metrics.ActiveSessions.Dec()
		s.log.Info("ws.session.end")
	}
}

// ---- outbound ----

func (s *session) send(typ string, payload any) bool {
	env, err := newEnvelope(typ, payload, s.g.now())
	if err != nil {
		s.log.Error("ws.envelope.fail", "type", typ, "err", err)
		return false
	}
	if !s.client.Offer(env) {
		s.log.Warn("ws.send.dropped", "type", typ)
		return false
	}
	return true
}

func (s *session) sendError(code, msg string) {
	_ = s.send(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

// fail reports err to the client, using fallback as the code for unclassified errors.
func (s *session) fail(err error, fallback string) {
	var we *wireError
	switch {
	case errors.As(err, &we):
		s.sendError(we.code, we.msg)
	case thread.IsTerminal(err) || thread.IsTransient(err):
		s.sendError(thread.Code(err), thread.UserMessage(s.language(), err))
	default:
		s.log.Warn("ws.handler.fail", "code", fallback, "err", err)
		s.sendError(fallback, err.Error())
	}
}

// pushState runs under the view's guard lock; it must stay non-blocking.
func (s *session) pushState(st surface.ViewState) {
	switch {
	case st.Status == thread.StatusResolved && st.ConversationID != "":
		// Only participants receive the room's live messages.
		if st.Conversation != nil && st.Conversation.HasParticipant(s.user()) {
			s.joinRoom(st.ConversationID)
		} else {
			s.joinRoom("")
		}
	case st.Status == thread.StatusIdle || st.Status == thread.StatusFailed:
		s.joinRoom("")
	}

	p := v1.ThreadStatePayload{
		Requested:      st.Requested,
		ConversationID: st.ConversationID,
		Status:         string(st.Status),
		Busy:           st.Busy,
		Path:           st.Path,
	}
	if st.Conversation != nil {
		c := toWireConversation(*st.Conversation)
		p.Conversation = &c
	}
	if st.Err != nil {
		p.Error = &v1.ErrorPayload{
			Code:    thread.Code(st.Err),
			Message: thread.UserMessage(s.language(), st.Err),
		}
	}
	_ = s.send(v1.TypeThreadState, p)
}

func (s *session) pushList(items []thread.Conversation) {
	out := make([]v1.Conversation, 0, len(items))
	for _, c := range items {
		out = append(out, toWireConversation(c))
	}
	_ = s.send(v1.TypeThreadListResult, v1.ThreadListResultPayload{Conversations: out})
}

// joinRoom moves the session into the room of conversationID ("" leaves any room).
func (s *session) joinRoom(conversationID string) {
	s.mu.Lock()
	prev := s.room
	if prev == conversationID || s.closed {
		s.mu.Unlock()
		return
	}
	s.room = conversationID
	s.mu.Unlock()

	if prev != "" {
		s.g.hub.Leave(prev, s.client.SessionID)
	}
	if conversationID != "" {
		s.g.hub.Join(conversationID, s.client)
	}
}

func (s *session) relay(sub *broadcast.Subscription) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-sub.Done():
			return
		case e := <-sub.Events():
			_ = s.send(v1.TypeThreadEvent, toWireEvent(e))
		}
	}
}

// ---- inbound ----

func (s *session) onHello(env v1.Envelope) error {
	var p v1.HelloPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}
	if p.Lang != "" {
		tag := thread.MatchLanguage(p.Lang)
		s.mu.Lock()
		s.lang = tag
		s.mu.Unlock()
	}

	if !s.authenticated() {
		claims, err := s.g.auth.Authenticate(p.Token, "")
		if err != nil {
			return err
		}
		if err := s.authenticate(claims); err != nil {
			return err
		}
	}

	if !s.send(v1.TypeHelloAck, v1.HelloAckPayload{SessionID: s.client.SessionID, UserID: s.user()}) {
		return errors.New("backpressure: hello_ack")
	}

	list := s.listView()
	if err := list.Refresh(s.ctx); err != nil {
		s.fail(thread.WrapTransient("realtime.hello", err), v1.CodeBadPayload)
	}
	return nil
}

func (s *session) dispatch(env v1.Envelope, now time.Time) {
	var err error
	fallback := v1.CodeBadPayload

	switch env.Type {
	case v1.TypeThreadOpen:
		err = s.onThreadOpen(env)
	case v1.TypeThreadSelect:
		err = s.onThreadSelect(env)
	case v1.TypeThreadBackToList:
		s.activeView().BackToList()
	case v1.TypeNavigate:
		err = s.onNavigate(env)
	case v1.TypeThreadRetry:
		if v := s.activeView(); !v.Retry() {
			s.pushState(v.State())
		}
	case v1.TypeThreadList:
		if rerr := s.listView().Refresh(s.ctx); rerr != nil {
			err = thread.WrapTransient("realtime.thread_list", rerr)
		}
	case v1.TypeMessageSend:
		fallback = v1.CodeSendFailed
		err = s.onMessageSend(env, now)
	case v1.TypeHistoryFetch:
		fallback = v1.CodeHistory
		err = s.onHistoryFetch(env)
	default:
		err = errWire(v1.CodeUnsupported, "unsupported type: %s", env.Type)
	}

	if err != nil {
		s.fail(err, fallback)
	}
}

func decodePayload(env v1.Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return errWire(v1.CodeBadPayload, "missing payload")
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return errWire(v1.CodeBadPayload, "invalid payload: %v", err)
	}
	return nil
}

// onThreadOpen starts resolving an identifier. A request the guard drops (busy, repeat)
// is answered with the current state so the client never waits on nothing.
func (s *session) onThreadOpen(env v1.Envelope) error {
	var p v1.ThreadOpenPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	id := strings.TrimSpace(p.Identifier)
	if id == "" {
		return errWire(v1.CodeBadPayload, "missing identifier")
	}
	v := s.activeView()
	if !v.Open(id) {
		s.pushState(v.State())
	}
	return nil
}

func (s *session) onThreadSelect(env v1.Envelope) error {
	var p v1.ThreadSelectPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	id := strings.TrimSpace(p.ConversationID)
	if id == "" {
		return errWire(v1.CodeBadPayload, "missing conversation_id")
	}
	v := s.activeView()
	if s.listView().Select(id) {
		return nil
	}
	// Not listed yet (the list may lag behind a fresh creation): select directly.
	if !v.Select(id) {
		s.pushState(v.State())
	}
	return nil
}

func (s *session) onNavigate(env v1.Envelope) error {
	var p v1.NavigatePayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	v := s.activeView()

	var moved bool
	switch p.Direction {
	case v1.DirectionBack:
		moved = v.Back()
	case v1.DirectionForward:
		moved = v.Forward()
	case "":
		path := strings.TrimSpace(p.Path)
		if id, ok := surface.IdentifierFromPath(path); ok {
			moved = v.Open(id)
		} else if strings.TrimRight(path, "/") == surface.ListPath {
			v.BackToList()
			return nil
		} else {
			return errWire(v1.CodeBadPayload, "unknown path: %q", path)
		}
	default:
		return errWire(v1.CodeBadPayload, "unknown direction: %q", p.Direction)
	}
	if !moved {
		s.pushState(v.State())
	}
	return nil
}

func (s *session) onMessageSend(env v1.Envelope, now time.Time) error {
	var p v1.MessageSendPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	convID := strings.TrimSpace(p.ConversationID)
	clientMsgID := strings.TrimSpace(p.ClientMsgID)
	text := strings.TrimSpace(p.Text)
	switch {
	case convID == "":
		return errWire(v1.CodeBadPayload, "missing conversation_id")
	case clientMsgID == "":
		return errWire(v1.CodeBadPayload, "missing client_msg_id")
	case text == "":
		return errWire(v1.CodeBadPayload, "empty text")
	case len([]rune(text)) > maxMessageChars:
		return errWire(v1.CodeBadPayload, "message too long: max=%d chars", maxMessageChars)
	}

	userID := s.user()
	if !s.g.sendLimiter.Allow(userID, now) {
		metrics.RecordMessage("rejected")
		return errWire(v1.CodeRateLimited, "too many messages")
	}

	ok, err := s.g.membership.IsMember(s.ctx, userID, convID)
	if err != nil {
		metrics.RecordMessage("error")
		return fmt.Errorf("membership: %w", err)
	}
	if !ok {
		metrics.RecordMessage("rejected")
		return errWire(v1.CodeForbidden, "not a member of conversation")
	}

	res, err := s.g.messages.AppendMessage(s.ctx, AppendMessageInput{
		ConversationID: convID,
		ClientMsgID:    clientMsgID,
		SenderID:       userID,
		Text:           text,
		Now:            now,
	})
	if err != nil {
		metrics.RecordMessage("error")
		return fmt.Errorf("store append: %w", err)
	}
	stored := res.Stored

	_ = s.send(v1.TypeMessageAck, v1.MessageAckPayload{
		ConversationID: stored.ConversationID,
		ClientMsgID:    stored.ClientMsgID,
		ServerMsgID:    stored.ServerMsgID,
		Seq:            stored.Seq,
		Duplicated:     res.Duplicated,
	})

	if res.Duplicated {
		metrics.RecordMessage("duplicate")
		return nil
	}
	metrics.RecordMessage("stored")

	if room := s.g.hub.Room(convID); room != nil {
		if env, err := newEnvelope(v1.TypeMessageNew, toWireMessage(stored), now); err == nil {
			room.Broadcast(env)
		}
	}

	s.announceLastMessage(stored)
	return nil
}

// announceLastMessage updates the cached summary and tells every participant's surfaces.
func (s *session) announceLastMessage(m StoredMessage) {
	summary := thread.MessageSummary{Text: m.Text, SenderID: m.SenderID, At: m.CreatedAt}

	if s.g.lastMessages != nil {
		if err := s.g.lastMessages.SetLastMessage(s.ctx, m.ConversationID, summary); err != nil {
			s.log.Warn("ws.last_message.fail", "conversation_id", m.ConversationID, "err", err)
		}
	}

	conv, err := s.g.conversations.GetConversation(s.ctx, m.ConversationID)
	if err != nil {
		s.log.Warn("ws.last_message.participants_fail", "conversation_id", m.ConversationID, "err", err)
		return
	}
	ev := broadcast.LastMessageUpdated{ConversationID: m.ConversationID, Summary: summary}
	for _, p := range conv.ParticipantIDs {
		s.g.registry.Publish(p, ev)
	}
}

func (s *session) onHistoryFetch(env v1.Envelope) error {
	var p v1.HistoryFetchPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		return errWire(v1.CodeBadPayload, "missing conversation_id")
	}

	ok, err := s.g.membership.IsMember(s.ctx, s.user(), convID)
	if err != nil {
		return fmt.Errorf("membership: %w", err)
	}
	if !ok {
		return errWire(v1.CodeForbidden, "not a member of conversation")
	}

	out, err := s.g.messages.FetchHistory(s.ctx, FetchHistoryInput{
		ConversationID: convID,
		AfterSeq:       p.AfterSeq,
		Limit:          p.Limit,
	})
	if err != nil {
		return err
	}

	msgs := make([]v1.MessageNewPayload, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, toWireMessage(m))
	}
	if !s.send(v1.TypeHistoryChunk, v1.HistoryChunkPayload{
		ConversationID: convID,
		Messages:       msgs,
		HasMore:        out.HasMore,
	}) {
		return errors.New("backpressure: history chunk")
	}
	return nil
}

// ---- wire mapping ----

func toWireConversation(c thread.Conversation) v1.Conversation {
	out := v1.Conversation{
		ID:             c.ID,
		Kind:           c.Kind,
		ParticipantIDs: append([]string(nil), c.ParticipantIDs...),
		CreatedAt:      c.CreatedAt,
	}
	if c.LastMessage != nil {
		out.LastMessage = toWireSummary(*c.LastMessage)
	}
	return out
}

func toWireSummary(m thread.MessageSummary) *v1.LastMessage {
	return &v1.LastMessage{Text: m.Text, SenderID: m.SenderID, At: m.At}
}

func toWireMessage(m StoredMessage) v1.MessageNewPayload {
	return v1.MessageNewPayload{
		ConversationID: m.ConversationID,
		ClientMsgID:    m.ClientMsgID,
		ServerMsgID:    m.ServerMsgID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
	}
}

func toWireEvent(e broadcast.Event) v1.ThreadEventPayload {
	p := v1.ThreadEventPayload{Kind: string(e.Kind())}
	switch ev := e.(type) {
	case broadcast.ThreadCreated:
		p.ConversationID = ev.ConversationID
		p.RequestedID = ev.RequestedID
	case broadcast.ThreadIDChanged:
		p.OldID = ev.OldID
		p.NewID = ev.NewID
	case broadcast.LastMessageUpdated:
		p.ConversationID = ev.ConversationID
		p.LastMessage = toWireSummary(ev.Summary)
	}
	return p
}
