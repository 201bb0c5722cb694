// Package thread implements conversation-thread resolution for direct messaging.
//
// An opaque identifier coming from a deep link, a list selection or browser history is either a
// conversation id or the id of the person to talk to. Classify tells the two apart by shape,
// Resolver turns either into exactly one persisted direct conversation, and Guard serializes
// resolution attempts for a single surface so a surface never resolves twice at once and never
// applies results after it has been closed.
package thread
