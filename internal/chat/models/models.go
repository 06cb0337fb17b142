// Package models defines the persisted chat entities: sessions
// keyed by participant-set hash, their participant snapshots, ordered
// messages, and per-participant read receipts.
package models

import "time"

// Session is a persistent conversation identified by the exact set of its
// members; (tenant, participant_hash) is unique forever.
type Session struct {
	ID              string
	TenantID        string
	ParticipantHash string
	CreatedAt       time.Time
}

// Participant snapshots an agent's alias as of the last time it was
// observed sending or joining, so messages never trust a client-supplied
// alias.
type Participant struct {
	SessionID     string
	AgentID       string
	SnapshotAlias string
}

// Message is a single chat message within a session, in strict insertion
// order.
type Message struct {
	ID             string
	SessionID      string
	SenderAgentID  string
	CanonicalAlias string
	Body           string
	SenderLeaving  bool
	HangOn         bool
	FromDID        *string
	ToDID          *string
	Signature      *string
	SigningKeyID   *string
	CreatedAt      time.Time
}

// ReadReceipt is the single per-(session, agent) read marker; it must
// never regress in message time.
type ReadReceipt struct {
	SessionID         string
	AgentID           string
	LastReadMessageID *string
	LastReadAt        time.Time
}
