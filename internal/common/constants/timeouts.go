// Package constants provides application-wide constants and timeouts.
package constants

import "time"

const (
	// PresenceTTL is how long an agent presence hash survives without a heartbeat.
	PresenceTTL = 1800 * time.Second

	// PresenceIndexTTLMultiplier sizes the per-tenant presence index TTL relative to PresenceTTL.
	PresenceIndexTTLMultiplier = 2

	// WaitingWindow is how recently a chat waiting registration must have
	// refreshed for the agent to be considered "waiting" on a session.
	WaitingWindow = 90 * time.Second

	// WaitingRefreshInterval is how often an open SSE stream refreshes its
	// waiting registration.
	WaitingRefreshInterval = 30 * time.Second

	// ReceiptPollInterval is the SSE live-phase poll cadence; each tick
	// fetches both new messages and new read receipts.
	ReceiptPollInterval = 100 * time.Millisecond

	// MessagePollInterval is the SSE live-phase waiter cadence; each tick
	// checks the stream deadline and refreshes the waiting registration.
	MessagePollInterval = 500 * time.Millisecond

	// HangOnExtension is how long a hang_on message may extend a waiter's deadline.
	HangOnExtension = 300 * time.Second

	// HangOnExtensionCap is the absolute ceiling on an extended wait.
	HangOnExtensionCap = 600 * time.Second

	// RotationAnnouncementWindow bounds how long a rotation announcement
	// remains eligible for attachment to outbound mail.
	RotationAnnouncementWindow = 24 * time.Hour

	// ReservationTTLMin and ReservationTTLMax clamp requested reservation TTLs.
	ReservationTTLMin = 60 * time.Second
	ReservationTTLMax = 3600 * time.Second

	// ReplayLimit bounds the number of messages returned by an SSE replay phase.
	ReplayLimit = 50

	// LivePollLimit bounds the number of messages fetched per live-phase tick.
	LivePollLimit = 200
)
