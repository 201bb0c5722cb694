// Package surface hosts the stateful views a signed-in user interacts with: the active
// conversation view, the conversation list and the navigation history they share.
package surface

import (
	"strings"
	"sync"
)

// ListPath is the history entry of the conversation list.
const ListPath = "/messages"

const pathPrefix = ListPath + "/"

// ConversationPath returns the history path that addresses identifier.
func ConversationPath(identifier string) string {
	return pathPrefix + strings.TrimSpace(identifier)
}

// IdentifierFromPath extracts the identifier of a /messages/{id} path.
func IdentifierFromPath(path string) (string, bool) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, pathPrefix) {
		return "", false
	}
	id := strings.Trim(strings.TrimPrefix(path, pathPrefix), "/")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// History is an in-memory back/forward stack of paths.
type History struct {
	mu      sync.Mutex
	entries []string
	idx     int
}

// NewHistory returns a history positioned on initial (ListPath when empty).
func NewHistory(initial string) *History {
	if initial == "" {
		initial = ListPath
	}
	return &History{entries: []string{initial}}
}

// Push appends path after the current entry, discarding forward entries.
// Pushing the current path is a no-op.
func (h *History) Push(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.entries[h.idx] == path {
		return
	}
	h.entries = append(h.entries[:h.idx+1], path)
	h.idx++
}

// Replace rewrites the current entry in place.
func (h *History) Replace(path string) {
	h.mu.Lock()
	h.entries[h.idx] = path
	h.mu.Unlock()
}

// ReplaceIf rewrites the current entry only when it equals old.
func (h *History) ReplaceIf(old, path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.entries[h.idx] != old {
		return false
	}
	h.entries[h.idx] = path
	return true
}

// Back moves one entry back.
func (h *History) Back() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.idx == 0 {
		return h.entries[0], false
	}
	h.idx--
	return h.entries[h.idx], true
}

// Forward moves one entry forward.
func (h *History) Forward() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.idx+1 >= len(h.entries) {
		return h.entries[h.idx], false
	}
	h.idx++
	return h.entries[h.idx], true
}

// Current returns the current entry.
func (h *History) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.idx]
}

// Entries returns a copy of the stack and the current index.
func (h *History) Entries() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.entries...), h.idx
}
