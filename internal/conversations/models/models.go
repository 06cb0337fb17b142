// Package models defines the merged mail+chat conversation view: each
// entry is a thread (mail) or session (chat) the querying agent belongs
// to, reduced to its most recent activity for list rendering.
package models

import "time"

const (
	KindMail = "mail"
	KindChat = "chat"
)

// Conversation is one row of GET /v1/conversations, merging a mail thread
// or a chat session into a single shape ordered by recency.
type Conversation struct {
	Kind               string
	ConversationID     string
	Participants       []string
	Subject            string
	LastMessageAt      time.Time
	LastMessageFrom    string
	LastMessagePreview string
	UnreadCount        int
}

// Page is one page of conversations plus the cursor to request the next.
type Page struct {
	Conversations []Conversation
	NextCursor    string
}
