package thread

import (
	"context"
	"errors"
	"sync"
)

// countingStore wraps InMemoryStore with call counters and scripted failures.
type countingStore struct {
	*InMemoryStore

	mu      sync.Mutex
	gets    int
	lists   int
	creates int

	// getErrs is consumed one per GetConversation call before delegating.
	getErrs    []error
	listErr    error
	// hideLists makes ListConversations report nothing, as when another writer
	// creates the pair between list and create.
	hideLists  bool
	createErr  error
	createGate chan struct{}
}

func newCountingStore() *countingStore {
	return &countingStore{InMemoryStore: NewInMemoryStore()}
}

func (s *countingStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	s.gets++
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return Conversation{}, err
	}
	return s.InMemoryStore.GetConversation(ctx, id)
}

func (s *countingStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	s.mu.Lock()
	s.lists++
	err, hide := s.listErr, s.hideLists
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hide {
		return nil, nil
	}
	return s.InMemoryStore.ListConversations(ctx, userID)
}

func (s *countingStore) CreateConversation(ctx context.Context, participantIDs []string) (Conversation, error) {
	c, _, err := s.CreateDirect(ctx, participantIDs)
	return c, err
}

func (s *countingStore) CreateDirect(ctx context.Context, participantIDs []string) (Conversation, bool, error) {
	s.mu.Lock()
	s.creates++
	err := s.createErr
	gate := s.createGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return Conversation{}, false, err
	}
	return s.InMemoryStore.CreateDirect(ctx, participantIDs)
}

func (s *countingStore) counts() (gets, lists, creates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.lists, s.creates
}

var errBoom = errors.New("connection reset")

func notFoundErr(id string) error {
	return opErr("fake.GetConversation", ErrNotFound, id, nil)
}

// mapCache is an in-memory PairCache.
type mapCache struct {
	mu        sync.Mutex
	m         map[string]string
	forgetErr error
}

func newMapCache() *mapCache { return &mapCache{m: make(map[string]string)} }

func (c *mapCache) Lookup(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.m[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return id, nil
}

func (c *mapCache) Remember(_ context.Context, key, id string) error {
	c.mu.Lock()
	c.m[key] = id
	c.mu.Unlock()
	return nil
}

func (c *mapCache) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forgetErr != nil {
		return c.forgetErr
	}
	delete(c.m, key)
	return nil
}
