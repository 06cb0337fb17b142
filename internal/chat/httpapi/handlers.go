// Package httpapi exposes the Chat Engine service as the /v1/chat Gin
// routes, including the SSE session stream.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awebhq/aweb/internal/auth"
	"github.com/awebhq/aweb/internal/chat/models"
	"github.com/awebhq/aweb/internal/chat/service"
	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/constants"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/identity/repository"
	"github.com/awebhq/aweb/internal/presence"
)

const (
	receiptPollInterval = constants.ReceiptPollInterval
	waiterPollInterval  = constants.MessagePollInterval
	waiterRefreshEvery  = constants.WaitingRefreshInterval
	defaultStreamWindow = 30 * time.Second
)

// Handlers binds the chat service to gin routes.
type Handlers struct {
	svc      *service.Service
	identity repository.Repository
	waiting  *presence.Index
	log      *logger.Logger
}

func NewHandlers(svc *service.Service, identity repository.Repository, waiting *presence.Index, log *logger.Logger) *Handlers {
	return &Handlers{svc: svc, identity: identity, waiting: waiting, log: log.WithFields()}
}

func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.POST("/chat/sessions", h.createOrSend)
	rg.GET("/chat/sessions", h.list)
	rg.GET("/chat/pending", h.pending)
	rg.GET("/chat/sessions/:id/messages", h.history)
	rg.POST("/chat/sessions/:id/read", h.markRead)
	rg.POST("/chat/sessions/:id/messages", h.send)
	rg.GET("/chat/sessions/:id/stream", h.stream)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if appErr, ok := err.(*apperr.AppError); ok {
		c.AbortWithStatusJSON(status, appErr.Body())
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func messageJSON(m *models.Message) gin.H {
	row := gin.H{
		"id":             m.ID,
		"session_id":     m.SessionID,
		"from_alias":     m.CanonicalAlias,
		"body":           m.Body,
		"sender_leaving": m.SenderLeaving,
		"hang_on":        m.HangOn,
		"created_at":     m.CreatedAt.UTC().Format(time.RFC3339),
	}
	if m.FromDID != nil {
		row["from_did"] = *m.FromDID
	}
	if m.Signature != nil {
		row["signature"] = *m.Signature
	}
	if m.SigningKeyID != nil {
		row["signing_key_id"] = *m.SigningKeyID
	}
	return row
}

func (h *Handlers) resolveAliases(c *gin.Context, tenantID string, aliases []string) ([]string, error) {
	ids := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		agent, err := h.identity.GetAgentByAlias(c.Request.Context(), tenantID, alias)
		if err != nil {
			return nil, err
		}
		ids = append(ids, agent.ID)
	}
	return ids, nil
}

func (h *Handlers) createOrSend(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}

	var req struct {
		ToAliases []string `json:"to_aliases" binding:"required"`
		Message   string   `json:"message"`
		HangOn    bool     `json:"hang_on"`
		Signature string   `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}

	peerIDs, err := h.resolveAliases(c, tenantID, req.ToAliases)
	if err != nil {
		writeError(c, err)
		return
	}
	agentIDs := append([]string{actorID}, peerIDs...)

	session, err := h.svc.EnsureSession(c.Request.Context(), tenantID, agentIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"session_id": session.ID}
	if req.Message != "" {
		msg, err := h.svc.Send(c.Request.Context(), tenantID, session.ID, service.SendInput{
			ActorAgentID: actorID, Body: req.Message, HangOn: req.HangOn, Signature: req.Signature,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		resp["message_id"] = msg.ID
	}
	c.JSON(http.StatusCreated, resp)
}

func pendingEntryJSON(e service.PendingEntry) gin.H {
	aliases := make([]string, len(e.Participants))
	for i, p := range e.Participants {
		aliases[i] = p.SnapshotAlias
	}
	row := gin.H{
		"session_id":     e.Session.ID,
		"participants":   aliases,
		"unread_count":   e.UnreadCount,
		"sender_waiting": e.SenderWaiting,
		"targets_left":   e.TargetsLeft,
	}
	if e.LastMessage != nil {
		row["last_message"] = messageJSON(e.LastMessage)
	}
	return row
}

func (h *Handlers) list(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	entries, err := h.svc.List(c.Request.Context(), tenantID, actorID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, len(entries))
	for i, e := range entries {
		out[i] = pendingEntryJSON(e)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h *Handlers) pending(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	entries, err := h.svc.Pending(c.Request.Context(), tenantID, actorID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, len(entries))
	for i, e := range entries {
		out[i] = pendingEntryJSON(e)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func parseAfter(c *gin.Context) time.Time {
	raw := c.Query("after")
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (h *Handlers) history(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	messages, err := h.svc.History(c.Request.Context(), tenantID, c.Param("id"), actorID, parseAfter(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, len(messages))
	for i, m := range messages {
		out[i] = messageJSON(m)
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func (h *Handlers) markRead(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	var req struct {
		UpToMessageID string `json:"up_to_message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	pendingBefore, err := h.svc.MarkRead(c.Request.Context(), tenantID, c.Param("id"), actorID, req.UpToMessageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending_before": pendingBefore})
}

func (h *Handlers) send(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	var req struct {
		Body      string `json:"body" binding:"required"`
		Leaving   bool   `json:"sender_leaving"`
		HangOn    bool   `json:"hang_on"`
		Signature string `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	msg, err := h.svc.Send(c.Request.Context(), tenantID, c.Param("id"), service.SendInput{
		ActorAgentID: actorID, Body: req.Body, Leaving: req.Leaving, HangOn: req.HangOn, Signature: req.Signature,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, messageJSON(msg))
}

// stream implements GET /v1/chat/sessions/{id}/stream: an immediate
// keep-alive, an optional replay phase, then a live poll loop until the
// deadline, the client disconnects, or the process shuts down.
func (h *Handlers) stream(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	sessionID := c.Param("id")

	deadline := time.Now().UTC().Add(defaultStreamWindow)
	if raw := c.Query("deadline"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			deadline = t
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, apperr.Internal("streaming unsupported by this response writer", nil))
		return
	}

	if _, _, err := h.svc.VerifyParticipant(c.Request.Context(), tenantID, sessionID, actorID); err != nil {
		writeError(c, err)
		return
	}

	fmt.Fprint(c.Writer, ": keep-alive\n\n")
	flusher.Flush()

	// Without an `after` cursor there is no replay phase and the live
	// poll starts from now; a zero cursor would dump the session's
	// entire history as live events.
	lastMessageAt := time.Now().UTC()
	if after := parseAfter(c); !after.IsZero() {
		lastMessageAt = after
		replay, err := h.svc.Replay(c.Request.Context(), tenantID, sessionID, actorID, lastMessageAt)
		if err != nil {
			writeError(c, err)
			return
		}
		waitingBySender := h.senderWaiting(c.Request.Context(), tenantID, sessionID, actorID, replay)
		for _, m := range replay {
			row := messageJSON(m)
			row["sender_waiting"] = waitingBySender[m.SenderAgentID]
			writeSSE(c.Writer, "message", row)
			lastMessageAt = m.CreatedAt
		}
		flusher.Flush()
	}

	if h.waiting != nil {
		if err := h.waiting.RegisterWaiting(c.Request.Context(), sessionID, actorID); err != nil {
			h.log.WithError(err).WithSessionID(sessionID).Warn("register waiting index")
		}
		defer func() {
			if err := h.waiting.UnregisterWaiting(context.Background(), sessionID, actorID); err != nil {
				h.log.WithError(err).WithSessionID(sessionID).Warn("unregister waiting index")
			}
		}()
	}

	// Receipts older than the stream's start were already delivered (or
	// never wanted); only receipts recorded from here on are events.
	lastReceiptAt := time.Now().UTC()
	lastWaiterRefresh := time.Now()
	receiptTicker := time.NewTicker(receiptPollInterval)
	waiterTicker := time.NewTicker(waiterPollInterval)
	defer receiptTicker.Stop()
	defer waiterTicker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-waiterTicker.C:
			if time.Now().After(deadline) {
				return
			}
			if time.Since(lastWaiterRefresh) >= waiterRefreshEvery {
				lastWaiterRefresh = time.Now()
				if h.waiting != nil {
					if err := h.waiting.RegisterWaiting(ctx, sessionID, actorID); err != nil {
						h.log.WithError(err).WithSessionID(sessionID).Warn("refresh waiting index")
					}
				}
			}
		case <-receiptTicker.C:
			if time.Now().After(deadline) {
				return
			}
			messages, receipts, newLastMessageAt, newLastReceiptAt, err := h.svc.PollTick(ctx, tenantID, sessionID, actorID, lastMessageAt, lastReceiptAt)
			if err != nil {
				return
			}
			for _, m := range messages {
				writeSSE(c.Writer, "message", messageJSON(m))
			}
			for _, r := range receipts {
				writeSSE(c.Writer, "read_receipt", gin.H{
					"reader_alias":         r.ReaderAlias,
					"up_to_message_id":     valOrEmpty(r.Receipt.LastReadMessageID),
					"timestamp":            r.Receipt.LastReadAt.UTC().Format(time.RFC3339),
					"extends_wait_seconds": r.ExtendsWaitSeconds,
				})
			}
			lastMessageAt = newLastMessageAt
			lastReceiptAt = newLastReceiptAt
			flusher.Flush()
		}
	}
}

// senderWaiting looks up waiting-index membership once per distinct sender
// in msgs (other than the streaming actor) so replayed message events can
// carry sender_waiting without one round trip per message.
func (h *Handlers) senderWaiting(ctx context.Context, tenantID, sessionID, actorID string, msgs []*models.Message) map[string]bool {
	out := make(map[string]bool)
	if h.waiting == nil {
		return out
	}
	for _, m := range msgs {
		if m.SenderAgentID == actorID {
			continue
		}
		if _, seen := out[m.SenderAgentID]; seen {
			continue
		}
		w, err := h.waiting.IsWaiting(ctx, tenantID, sessionID, m.SenderAgentID)
		if err != nil {
			h.log.WithError(err).WithSessionID(sessionID).Warn("check waiting index for replay")
			continue
		}
		out[m.SenderAgentID] = w
	}
	return out
}

func valOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func writeSSE(w http.ResponseWriter, event string, data gin.H) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
