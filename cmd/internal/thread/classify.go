package thread

import (
	"strings"

	"inbox/cmd/internal/ids"
)

// Kind is the classification of a raw identifier.
type Kind uint8

const (
	// KindPerson is any identifier that is not shaped like a conversation id.
	KindPerson Kind = iota
	// KindConversation is a canonical 8-4-4-4-12 conversation id.
	KindConversation
)

func (k Kind) String() string {
	if k == KindConversation {
		return "conversation"
	}
	return "person"
}

// Ref is a classified identifier.
type Ref struct {
	Kind Kind
	ID   string
}

// Classify decides whether identifier is a conversation id or a person id.
// It is total: anything that is not a canonical UUID is a person id.
func Classify(identifier string) Ref {
	id := strings.TrimSpace(identifier)
	if ids.IsCanonicalUUID(id) {
		return Ref{Kind: KindConversation, ID: strings.ToLower(id)}
	}
	return Ref{Kind: KindPerson, ID: id}
}
