package thread

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"inbox/cmd/internal/metrics"
)

// DefaultRetryDelay is the bounded wait before the single retry of a conversation fetch.
const DefaultRetryDelay = 200 * time.Millisecond

// Path records which branch produced a Resolution.
type Path string

const (
	PathConversation Path = "conversation"
	PathDirect       Path = "direct"
	PathFallback     Path = "fallback"
)

// Resolution is the canonical conversation an identifier resolved to.
type Resolution struct {
	Conversation

	Requested string
	Kind      Kind
	Path      Path
	Created   bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRetryDelay overrides DefaultRetryDelay. Non-positive values disable the wait, not the retry.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Resolver) {
		if d < 0 {
			d = 0
		}
		r.retryDelay = d
	}
}

// WithPairCache enables the pair -> conversation id cache on the direct path.
func WithPairCache(c PairCache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithLogger sets the logger used for resolution outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// Resolver turns raw identifiers into canonical conversations.
// It is safe for concurrent use; direct-path work is shared per participant pair.
type Resolver struct {
	store      Store
	cache      PairCache
	log        *slog.Logger
	retryDelay time.Duration

	flights singleflight.Group
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewResolver constructs a Resolver over store.
func NewResolver(store Store, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("thread: nil store")
	}
	r := &Resolver{
		store:      store,
		log:        slog.Default(),
		retryDelay: DefaultRetryDelay,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve maps identifier to exactly one canonical conversation of currentUserID.
//
// A conversation id is fetched (with one bounded retry); a person id is resolved
// to the direct conversation between the two users, creating it when missing.
func (r *Resolver) Resolve(ctx context.Context, identifier, currentUserID string) (Resolution, error) {
	started := time.Now()
	me := strings.TrimSpace(currentUserID)
	if me == "" {
		return Resolution{}, opErr("thread.Resolve", ErrInvalidInput, "", errors.New("missing current user"))
	}
	ref := Classify(identifier)
	if ref.ID == "" {
		return Resolution{}, opErr("thread.Resolve", ErrInvalidInput, "", errors.New("empty identifier"))
	}

	var (
		res Resolution
		err error
	)
	switch ref.Kind {
	case KindConversation:
		res, err = r.resolveConversation(ctx, ref.ID, me)
	default:
		res, err = r.resolveDirect(ctx, ref.ID, me, PathDirect)
	}
	res.Requested = identifier
	res.Kind = ref.Kind

	path := string(res.Path)
	if path == "" {
		path = string(pathFor(ref.Kind))
	}
	outcome := "ok"
	if err != nil {
		outcome = Code(err)
	}
	metrics.RecordResolution(path, outcome, time.Since(started))

	if err != nil {
		r.log.Warn("thread.resolve.failed",
			"identifier", ref.ID,
			"kind", ref.Kind.String(),
			"user_id", me,
			"code", outcome,
			"err", err,
		)
		return Resolution{Requested: identifier, Kind: ref.Kind}, err
	}
	r.log.Debug("thread.resolve.ok",
		"identifier", ref.ID,
		"conversation_id", res.ID,
		"path", path,
		"created", res.Created,
		"user_id", me,
	)
	return res, nil
}

// errNotParticipant marks a conversation that exists but does not include the caller.
var errNotParticipant = errors.New("not a participant")

func (r *Resolver) resolveConversation(ctx context.Context, id, me string) (Resolution, error) {
	c, err := r.store.GetConversation(ctx, id)
	if err == nil {
		return r.own(c, id, me)
	}
	if !retryable(err) {
		return Resolution{}, opErr("thread.Resolve", ErrTransient, id, err)
	}

	metrics.ResolutionRetries.Inc()
	if werr := r.sleep(ctx, r.retryDelay); werr != nil {
		return Resolution{}, opErr("thread.Resolve", ErrTransient, id, werr)
	}

	c, err = r.store.GetConversation(ctx, id)
	switch {
	case err == nil:
		return r.own(c, id, me)
	case IsNotFound(err):
		// Some callers still pass person ids shaped like UUIDs.
		if strings.EqualFold(id, me) {
			return Resolution{}, opErr("thread.Resolve", ErrNotFound, id, err)
		}
		res, ferr := r.resolveDirect(ctx, id, me, PathFallback)
		if ferr != nil {
			return Resolution{}, opErr("thread.Resolve", ErrNotFound, id, ferr)
		}
		return res, nil
	default:
		return Resolution{}, opErr("thread.Resolve", ErrTransient, id, err)
	}
}

// own admits c only when me participates in it. A foreign conversation reads as
// missing and is never reinterpreted through the direct path.
func (r *Resolver) own(c Conversation, id, me string) (Resolution, error) {
	if !c.HasParticipant(me) {
		return Resolution{Path: PathConversation}, opErr("thread.Resolve", ErrNotFound, id, errNotParticipant)
	}
	return Resolution{Conversation: c, Path: PathConversation}, nil
}

type flightResult struct {
	conv    Conversation
	created bool
}

func (r *Resolver) resolveDirect(ctx context.Context, person, me string, path Path) (Resolution, error) {
	if person == me {
		return Resolution{Path: path}, opErr("thread.Resolve", ErrSelfConversation, person, nil)
	}
	key := PairKey(me, person)

	// The flight outlives any single caller; callers stop waiting on their own ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(key, func() (any, error) {
		return r.findOrCreate(flightCtx, key, me, person, path)
	})

	select {
	case <-ctx.Done():
		return Resolution{Path: path}, opErr("thread.Resolve", ErrTransient, person, ctx.Err())
	case out := <-ch:
		if out.Err != nil {
			return Resolution{Path: path}, out.Err
		}
		fr := out.Val.(flightResult)
		return Resolution{Conversation: cloneConversation(fr.conv), Path: path, Created: fr.created}, nil
	}
}

func (r *Resolver) findOrCreate(ctx context.Context, key, me, person string, path Path) (flightResult, error) {
	if c, ok := r.cached(ctx, key, me, person); ok {
		return flightResult{conv: c}, nil
	}

	list, err := r.store.ListConversations(ctx, me)
	if err != nil {
		if IsInvalidInput(err) {
			return flightResult{}, err
		}
		return flightResult{}, opErr("thread.ListConversations", ErrTransient, me, err)
	}
	for _, c := range list {
		if c.IsDirectBetween(me, person) {
			r.remember(ctx, key, c.ID)
			return flightResult{conv: c}, nil
		}
	}

	c, inserted, err := r.create(ctx, me, person)
	if err != nil {
		if IsInvalidInput(err) || IsSelfConversation(err) {
			return flightResult{}, err
		}
		return flightResult{}, opErr("thread.CreateConversation", ErrTransient, person, err)
	}
	r.remember(ctx, key, c.ID)
	if !inserted {
		// Another writer created the pair between our list and create.
		r.log.Info("thread.conversation.existing",
			"conversation_id", c.ID,
			"user_id", me,
			"counterpart_id", person,
			"path", string(path),
		)
		return flightResult{conv: c}, nil
	}
	metrics.RecordCreate(string(path))
	r.log.Info("thread.conversation.created",
		"conversation_id", c.ID,
		"user_id", me,
		"counterpart_id", person,
		"path", string(path),
	)
	return flightResult{conv: c, created: true}, nil
}

// create creates the direct conversation of the pair. Stores that cannot tell an
// insert from a lookup are taken at their word that they created it.
func (r *Resolver) create(ctx context.Context, me, person string) (Conversation, bool, error) {
	if dc, ok := r.store.(DirectCreator); ok {
		return dc.CreateDirect(ctx, []string{me, person})
	}
	c, err := r.store.CreateConversation(ctx, []string{me, person})
	return c, err == nil, err
}

func (r *Resolver) cached(ctx context.Context, key, me, person string) (Conversation, bool) {
	if r.cache == nil {
		return Conversation{}, false
	}
	id, err := r.cache.Lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.log.Warn("thread.paircache.lookup_failed", "err", err)
		}
		return Conversation{}, false
	}
	c, err := r.store.GetConversation(ctx, id)
	if err != nil || !c.IsDirectBetween(me, person) {
		if ferr := r.cache.Forget(ctx, key); ferr != nil {
			r.log.Warn("thread.paircache.forget_failed", "conversation_id", id, "err", ferr)
		}
		return Conversation{}, false
	}
	return c, true
}

func (r *Resolver) remember(ctx context.Context, key, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Remember(ctx, key, id); err != nil {
		r.log.Warn("thread.paircache.store_failed", "conversation_id", id, "err", err)
	}
}

// retryable reports whether a first fetch failure earns the bounded retry.
func retryable(err error) bool {
	if IsNotFound(err) {
		return true
	}
	return !IsInvalidInput(err) && !IsSelfConversation(err)
}

func pathFor(k Kind) Path {
	if k == KindConversation {
		return PathConversation
	}
	return PathDirect
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
