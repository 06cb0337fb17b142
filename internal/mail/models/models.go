// Package models defines the persisted mail entity: a mail
// message carries an alias snapshot (spoof defense), optional identity
// fields, and an independent read-ack marker.
package models

import "time"

// Priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Message is a single piece of mail, addressed agent-to-agent within a
// tenant (or cross-tenant once the contact gate allows it).
type Message struct {
	ID               string
	TenantID         string
	SenderAgentID    string
	SenderAlias      string
	RecipientAgentID string
	Subject          string
	Body             string
	Priority         string
	ThreadID         *string
	FromDID          *string
	ToDID            *string
	Signature        *string
	SigningKeyID     *string
	CreatedAt        time.Time
	ReadAt           *time.Time
}
