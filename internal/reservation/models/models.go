// Package models defines the Reservation entity: a time-bounded,
// mutually-exclusive lock on a named resource within a tenant.
package models

import (
	"time"

	"github.com/awebhq/aweb/internal/common/constants"
)

// Reservation is a (tenant, resource_key) exclusive lock. A row is
// logically absent once ExpiresAt <= now, even if still physically present.
type Reservation struct {
	TenantID      string
	ResourceKey   string
	HolderAgentID string
	HolderAlias   string
	AcquiredAt    time.Time
	ExpiresAt     time.Time
	Metadata      map[string]any
}

func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// MinTTLSeconds and MaxTTLSeconds bound every requested TTL.
const (
	MinTTLSeconds = int(constants.ReservationTTLMin / time.Second)
	MaxTTLSeconds = int(constants.ReservationTTLMax / time.Second)
)

// ClampTTL clamps a requested TTL in seconds to [MinTTLSeconds, MaxTTLSeconds].
func ClampTTL(seconds int) int {
	if seconds < MinTTLSeconds {
		return MinTTLSeconds
	}
	if seconds > MaxTTLSeconds {
		return MaxTTLSeconds
	}
	return seconds
}
