// Package models defines the persisted tenant entity and the tables it
// shares no ownership with but gates access to (agents live elsewhere, but
// alias allocation is tenant-scoped logic that belongs here).
package models

import "time"

// Tenant is a project: the unit of isolation for every other entity.
type Tenant struct {
	ID          string     `json:"id" db:"id"`
	Slug        string     `json:"slug" db:"slug"`
	DisplayName string     `json:"display_name" db:"display_name"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}
