// Package models defines the persisted entities owned by the identity
// lifecycle: agents, API keys, the append-only agent log, and rotation
// announcements/acks.
package models

import "time"

// Custody modes.
const (
	CustodySelf      = "self"
	CustodyCustodial = "custodial"
)

// Lifetimes.
const (
	LifetimePersistent = "persistent"
	LifetimeEphemeral  = "ephemeral"
)

// Agent statuses.
const (
	StatusActive       = "active"
	StatusRetired      = "retired"
	StatusDeregistered = "deregistered"
)

// Access policies.
const (
	AccessOpen         = "open"
	AccessContactsOnly = "contacts_only"
)

// Agent log operations.
const (
	OpCreate     = "create"
	OpRotate     = "rotate"
	OpRetire     = "retire"
	OpDeregister = "deregister"
)

// Agent is the tenant-scoped identity row every other component addresses.
type Agent struct {
	ID               string
	TenantID         string
	Alias            string
	DisplayName      string
	Kind             string
	AccessPolicy     string
	DID              *string
	PublicKey        []byte
	Custody          *string
	EncryptedSeed    []byte
	Lifetime         string
	Status           string
	SuccessorAgentID *string
	CreatedAt        time.Time
	DeletedAt        *time.Time
}

// APIKey binds a plaintext-hashed credential to a tenant and optionally an agent.
type APIKey struct {
	ID            string
	TenantID      string
	AgentID       *string
	KeyHash       string
	DisplayPrefix string
	Active        bool
	LastUsedAt    *time.Time
	CreatedAt     time.Time
}

// AgentLogEntry is an append-only audit record of identity transitions.
type AgentLogEntry struct {
	ID             string
	AgentID        string
	TenantID       string
	Operation      string
	PriorDID       *string
	NewDID         *string
	SignerDID      *string
	EntrySignature *string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// RotationAnnouncement records a completed key rotation so peers can verify
// the chain and receive it attached to their next inbound mail.
type RotationAnnouncement struct {
	ID        string
	AgentID   string
	PriorDID  string
	NewDID    string
	RotatedAt time.Time
	Signature string
	CreatedAt time.Time
}

// RotationPeerAck records that a peer has acknowledged (by replying after)
// a given rotation announcement.
type RotationPeerAck struct {
	AnnouncementID string
	PeerAgentID    string
	AcknowledgedAt time.Time
}
