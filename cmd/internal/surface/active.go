package surface

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/thread"
)

// Resolver is the part of thread.Resolver a view needs.
type Resolver interface {
	Resolve(ctx context.Context, identifier, currentUserID string) (thread.Resolution, error)
}

// ViewState is what the active conversation view currently shows.
type ViewState struct {
	Requested      string
	ConversationID string
	Status         thread.Status
	Busy           bool
	Conversation   *thread.Conversation
	Err            error
	Path           string
}

// ActiveConfig configures an ActiveView.
//
// OnChange runs while the view's guard is locked: it must not block and must not
// call back into the view.
type ActiveConfig struct {
	UserID   string
	Resolver Resolver
	Bus      *broadcast.Bus
	History  *History
	Log      *slog.Logger

	// Counterparts, when set, receives ThreadCreated for the other participant of
	// conversations this view creates.
	Counterparts broadcast.UserPublisher

	OnChange     func(ViewState)
	OnSelect     func(conversationID string)
	OnBackToList func()

	EventBuffer int
}

// ActiveView is the conversation currently open on one surface.
//
// Resolution runs in the background on a context detached from the caller's
// cancellation; Close suppresses the effects of attempts still in flight instead
// of aborting them.
type ActiveView struct {
	userID   string
	resolver Resolver
	guard    *thread.Guard
	sync     *Synchronizer
	history  *History
	log      *slog.Logger

	onChange func(ViewState)
	onSelect func(string)
	onBack   func()

	ctx      context.Context
	sub      *broadcast.Subscription
	inflight sync.WaitGroup

	mu     sync.Mutex
	conv   *thread.Conversation
	closed bool
}

// NewActiveView constructs a view for cfg.UserID and starts listening on cfg.Bus.
func NewActiveView(base context.Context, cfg ActiveConfig) (*ActiveView, error) {
	userID := strings.TrimSpace(cfg.UserID)
	if userID == "" {
		return nil, errors.New("surface: missing user id")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("surface: nil resolver")
	}
	if base == nil {
		base = context.Background()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	history := cfg.History
	if history == nil {
		history = NewHistory(ListPath)
	}

	var pub broadcast.Publisher
	if cfg.Bus != nil {
		pub = cfg.Bus
	}
	syncer := NewSynchronizer(history, pub, log)
	if cfg.Counterparts != nil {
		syncer.NotifyCounterpart(cfg.Counterparts, userID)
	}

	v := &ActiveView{
		userID:   userID,
		resolver: cfg.Resolver,
		guard:    thread.NewGuard(),
		sync:     syncer,
		history:  history,
		log:      log,
		onChange: cfg.OnChange,
		onSelect: cfg.OnSelect,
		onBack:   cfg.OnBackToList,
		ctx:      context.WithoutCancel(base),
	}

	if cfg.Bus != nil {
		v.sub = cfg.Bus.Subscribe(cfg.EventBuffer)
		go v.listen()
	}
	return v, nil
}

// Open starts resolving identifier, pushing its path onto the history.
// It reports whether an attempt was started.
func (v *ActiveView) Open(identifier string) bool {
	id := strings.TrimSpace(identifier)
	if id == "" || v.guard.Closed() {
		return false
	}
	v.history.Push(ConversationPath(id))
	return v.start(id)
}

// Select opens a conversation picked from the list and notifies the host.
func (v *ActiveView) Select(conversationID string) bool {
	started := v.Open(conversationID)
	if v.onSelect != nil && !v.guard.Closed() {
		v.onSelect(strings.TrimSpace(conversationID))
	}
	return started
}

// BackToList leaves the conversation and returns to the list.
func (v *ActiveView) BackToList() {
	if v.guard.Closed() {
		return
	}
	v.history.Push(ListPath)
	v.leave()
	if v.onBack != nil {
		v.onBack()
	}
}

// Navigate follows a history path without pushing a new entry.
func (v *ActiveView) Navigate(path string) bool {
	if v.guard.Closed() {
		return false
	}
	if id, ok := IdentifierFromPath(path); ok {
		return v.start(id)
	}
	if strings.TrimRight(strings.TrimSpace(path), "/") == ListPath {
		v.leave()
		return true
	}
	return false
}

// Back moves back in history and follows the entry.
func (v *ActiveView) Back() bool {
	p, ok := v.history.Back()
	if !ok {
		return false
	}
	return v.Navigate(p)
}

// Forward moves forward in history and follows the entry.
func (v *ActiveView) Forward() bool {
	p, ok := v.history.Forward()
	if !ok {
		return false
	}
	return v.Navigate(p)
}

// Retry re-attempts a failed identifier.
func (v *ActiveView) Retry() bool {
	st := v.guard.Snapshot()
	if st.Status != thread.StatusFailed || st.Requested == "" {
		return false
	}
	v.guard.Reset()
	return v.start(st.Requested)
}

// State returns the current view state.
func (v *ActiveView) State() ViewState {
	st := v.guard.Snapshot()

	v.mu.Lock()
	conv := v.conv
	v.mu.Unlock()

	out := ViewState{
		Requested:      st.Requested,
		ConversationID: st.ResolvedID,
		Status:         st.Status,
		Busy:           st.Busy,
		Err:            st.Err,
		Path:           v.history.Current(),
	}
	if conv != nil {
		c := *conv
		out.Conversation = &c
	}
	return out
}

// History returns the navigation history of the view.
func (v *ActiveView) History() *History { return v.history }

// Close tears the view down. Attempts in flight finish without effects.
func (v *ActiveView) Close() {
	v.guard.Close()

	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	if v.sub != nil {
		v.sub.Unsubscribe()
	}
}

// Wait blocks until attempts started so far have finished.
func (v *ActiveView) Wait() {
	v.inflight.Wait()
}

func (v *ActiveView) start(id string) bool {
	t, ok := v.guard.Begin(id)
	if !ok {
		return false
	}
	v.emit(ViewState{Requested: id, Status: thread.StatusResolving, Busy: true})

	v.inflight.Add(1)
	go v.run(t)
	return true
}

func (v *ActiveView) run(t thread.Ticket) {
	defer v.inflight.Done()

	res, err := v.resolver.Resolve(v.ctx, t.Identifier, v.userID)

	var out thread.Outcome
	if err != nil {
		out = v.guard.Fail(t, err, func() {
			v.setConversation(nil)
			v.emit(ViewState{Requested: t.Identifier, Status: thread.StatusFailed, Err: err})
		})
	} else {
		conv := res.Conversation
		out = v.guard.Succeed(t, res.ID, func() {
			v.setConversation(&conv)
			v.sync.Resolved(t.Identifier, res)
			c := conv
			v.emit(ViewState{
				Requested:      res.ID,
				ConversationID: res.ID,
				Status:         thread.StatusResolved,
				Conversation:   &c,
			})
		})
	}

	switch out {
	case thread.OutcomeStale:
		if latest := v.guard.Snapshot().Requested; latest != "" {
			v.start(latest)
		}
	case thread.OutcomeDiscarded:
		v.log.Debug("surface.active.discarded", "identifier", t.Identifier, "user_id", v.userID)
	}
}

func (v *ActiveView) leave() {
	v.guard.Clear()
	v.setConversation(nil)
	v.emit(ViewState{Status: thread.StatusIdle})
}

func (v *ActiveView) listen() {
	for {
		select {
		case <-v.sub.Done():
			return
		case e := <-v.sub.Events():
			v.handle(e)
		}
	}
}

func (v *ActiveView) handle(e broadcast.Event) {
	switch ev := e.(type) {
	case broadcast.ThreadIDChanged:
		v.adopt(ev.OldID, ev.NewID)
	case broadcast.ThreadCreated:
		if ev.RequestedID != "" {
			v.adopt(ev.RequestedID, ev.ConversationID)
		}
	}
}

// adopt switches to newID when a sibling surface resolved what this view shows.
func (v *ActiveView) adopt(oldID, newID string) {
	ok := v.guard.Adopt(oldID, newID, func() {
		v.history.ReplaceIf(ConversationPath(oldID), ConversationPath(newID))
	})
	if !ok {
		return
	}
	v.log.Debug("surface.active.adopt", "old_id", oldID, "new_id", newID, "user_id", v.userID)
	if !v.guard.Snapshot().Busy {
		v.start(newID)
	}
}

func (v *ActiveView) setConversation(c *thread.Conversation) {
	v.mu.Lock()
	v.conv = c
	v.mu.Unlock()
}

func (v *ActiveView) emit(st ViewState) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed || v.onChange == nil {
		return
	}
	st.Path = v.history.Current()
	v.onChange(st)
}
