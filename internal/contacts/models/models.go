// Package models defines the Contact entity: an allow-list
// entry granting a sender address or sender org access to a tenant's agents.
package models

import "time"

// Contact is a per-tenant allow-list entry. Address is either a full
// "org_slug/alias" sender address (exact match) or a bare org slug
// (organization-level match) — see Service.CheckAccess.
type Contact struct {
	ID        string
	TenantID  string
	Address   string
	Label     string
	CreatedAt time.Time
}
