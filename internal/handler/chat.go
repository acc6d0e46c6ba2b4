package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mtchat/mtchat/internal/apperr"
	"github.com/mtchat/mtchat/internal/middleware"
	"github.com/mtchat/mtchat/internal/model"
	"github.com/mtchat/mtchat/internal/pkg/response"
	"github.com/mtchat/mtchat/internal/presence"
	"github.com/mtchat/mtchat/internal/queue"
	"github.com/mtchat/mtchat/internal/repository"
	"github.com/mtchat/mtchat/internal/scope"
	"github.com/mtchat/mtchat/internal/webhook"
	"github.com/mtchat/mtchat/internal/ws"
)

// ChatHandler implements the Chat API: scoped dialog listing, dialog
// lifecycle, and message send/edit/delete/list.
type ChatHandler struct {
	dialogs   *repository.DialogRepo
	messages  *repository.MessageRepo
	hub       *ws.Hub
	presence  *presence.Service
	queue     *queue.Queue
	webhooks  *webhook.Dispatcher
}

func NewChatHandler(
	dialogs *repository.DialogRepo,
	messages *repository.MessageRepo,
	hub *ws.Hub,
	pres *presence.Service,
	q *queue.Queue,
	webhooks *webhook.Dispatcher,
) *ChatHandler {
	return &ChatHandler{dialogs: dialogs, messages: messages, hub: hub, presence: pres, queue: q, webhooks: webhooks}
}

// requireParticipant 403s unless the caller is a participant of the
// dialog, per spec: potential participants cannot read or send before
// joining.
func (h *ChatHandler) requireParticipant(c *gin.Context, dialogID string) *model.DialogParticipant {
	userID := middleware.GetUserID(c)
	p, err := h.dialogs.Participant(dialogID, userID)
	if err != nil {
		response.Error(c, err)
		return nil
	}
	if p == nil {
		response.Error(c, apperr.Forbidden("join required"))
		return nil
	}
	return p
}

// ─── Dialog listing ────────────────────────────────────

// List handles GET /dialogs?type=participating|available&search=&archived=
func (h *ChatHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	cfg := middleware.GetScopeConfig(c)
	search := c.Query("search")

	switch c.Query("type") {
	case "available":
		list, err := h.dialogs.ListAvailable(cfg, userID, search)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"dialogs": list})
	case "participating", "":
		archived := c.Query("archived") == "true"
		list, err := h.dialogs.ListParticipating(userID, archived, search)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"dialogs": list})
	default:
		response.Error(c, apperr.Validation("type must be participating or available"))
	}
}

// ByObject handles GET /dialogs/by-object/{type}/{id} — the single
// most recent dialog for the object, or null.
func (h *ChatHandler) ByObject(c *gin.Context) {
	objectType, objectID := c.Param("type"), c.Param("oid")
	dialog, err := h.dialogs.LookupByObject(objectType, objectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if dialog == nil {
		c.JSON(http.StatusOK, nil)
		return
	}

	cfg := middleware.GetScopeConfig(c)
	userID := middleware.GetUserID(c)
	resp := h.describeRelation(dialog, cfg, userID)
	c.JSON(http.StatusOK, resp)
}

// ByObjectAll handles GET /dialogs/by-object/{type}/{id}/all — every
// dialog bound to the object, newest first. Additive endpoint
// resolving the "list all dialogs for an object" design question.
func (h *ChatHandler) ByObjectAll(c *gin.Context) {
	objectType, objectID := c.Param("type"), c.Param("oid")
	cfg := middleware.GetScopeConfig(c)
	userID := middleware.GetUserID(c)

	list, err := h.dialogs.LookupAllByObject(objectType, objectID, cfg, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dialogs": list})
}

func (h *ChatHandler) describeRelation(dialog *model.Dialog, cfg scope.Config, userID string) model.DialogResponse {
	p, err := h.dialogs.Participant(dialog.ID, userID)
	if err == nil && p != nil {
		return dialog.ToResponse(0, string(scope.RelationParticipant), false)
	}
	scopes, err := h.dialogs.AccessScopes(dialog.ID)
	if err != nil {
		return dialog.ToResponse(0, string(scope.RelationNone), false)
	}
	rows := make([]scope.AccessRow, len(scopes))
	for i, s := range scopes {
		rows[i] = scope.AccessRow{TenantUID: s.TenantUID, ScopeLevel1: s.ScopeLevel1, ScopeLevel2: s.ScopeLevel2}
	}
	relation, canJoin := scope.Resolve(cfg, rows, false)
	return dialog.ToResponse(0, string(relation), canJoin)
}

// Get handles GET /dialogs/{id}
func (h *ChatHandler) Get(c *gin.Context) {
	dialogID := c.Param("id")
	dialog, err := h.dialogs.GetByID(dialogID)
	if err != nil {
		response.Error(c, err)
		return
	}
	cfg := middleware.GetScopeConfig(c)
	userID := middleware.GetUserID(c)
	c.JSON(http.StatusOK, h.describeRelation(dialog, cfg, userID))
}

// ─── Dialog lifecycle ──────────────────────────────────

type joinRequest struct {
	DisplayName string  `json:"display_name" binding:"required"`
	Company     *string `json:"company"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
}

// Join handles POST /dialogs/{id}/join
func (h *ChatHandler) Join(c *gin.Context) {
	dialogID := c.Param("id")
	userID := middleware.GetUserID(c)
	cfg := middleware.GetScopeConfig(c)

	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}

	profile := model.DialogParticipant{
		UserID:               userID,
		DisplayName:          req.DisplayName,
		Company:              req.Company,
		Email:                req.Email,
		Phone:                req.Phone,
		NotificationsEnabled: true,
	}

	participant, created, err := h.dialogs.Join(dialogID, cfg, profile)
	if err != nil {
		response.Error(c, err)
		return
	}

	if created {
		h.hub.Publish(dialogID, ws.Event{Type: "participant.joined", DialogID: dialogID, UserID: participant.UserID})
		h.webhooks.Dispatch("participant.joined", map[string]string{"dialog_id": dialogID, "user_id": participant.UserID})
	}

	c.JSON(http.StatusOK, participant.ToResponse())
}

// Leave handles POST /dialogs/{id}/leave
func (h *ChatHandler) Leave(c *gin.Context) {
	dialogID := c.Param("id")
	userID := middleware.GetUserID(c)

	left, err := h.dialogs.Leave(dialogID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	if left {
		h.hub.Publish(dialogID, ws.Event{Type: "participant.left", DialogID: dialogID, UserID: userID})
		h.webhooks.Dispatch("participant.left", map[string]string{"dialog_id": dialogID, "user_id": userID})
	}
	c.Status(http.StatusNoContent)
}

// flagOp handles the archive/unarchive/pin/unpin family: each flips
// exactly one boolean on the caller's own participant row and is
// fanned out only to the same user's other connected devices.
func (h *ChatHandler) flagOp(field string, value bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		dialogID := c.Param("id")
		userID := middleware.GetUserID(c)

		p, err := h.dialogs.SetFlags(dialogID, userID, map[string]interface{}{field: value})
		if err != nil {
			response.Error(c, err)
			return
		}

		h.hub.PublishToUser(userID, ws.Event{Type: "dialog." + flagEventSuffix(field, value), DialogID: dialogID, UserID: userID})
		c.JSON(http.StatusOK, p.ToResponse())
	}
}

func flagEventSuffix(field string, value bool) string {
	switch field {
	case "is_archived":
		if value {
			return "archived"
		}
		return "unarchived"
	case "is_pinned":
		if value {
			return "pinned"
		}
		return "unpinned"
	default:
		return "updated"
	}
}

func (h *ChatHandler) Archive(c *gin.Context)   { h.flagOp("is_archived", true)(c) }
func (h *ChatHandler) Unarchive(c *gin.Context) { h.flagOp("is_archived", false)(c) }
func (h *ChatHandler) Pin(c *gin.Context)       { h.flagOp("is_pinned", true)(c) }
func (h *ChatHandler) Unpin(c *gin.Context)     { h.flagOp("is_pinned", false)(c) }

type notificationsRequest struct {
	Enabled bool `json:"enabled"`
}

// SetNotifications handles POST /dialogs/{id}/notifications {enabled}
func (h *ChatHandler) SetNotifications(c *gin.Context) {
	dialogID := c.Param("id")
	userID := middleware.GetUserID(c)

	var req notificationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}

	p, err := h.dialogs.SetFlags(dialogID, userID, map[string]interface{}{"notifications_enabled": req.Enabled})
	if err != nil {
		response.Error(c, err)
		return
	}
	h.hub.PublishToUser(userID, ws.Event{Type: "dialog.notifications_updated", DialogID: dialogID, UserID: userID})
	c.JSON(http.StatusOK, p.ToResponse())
}

type readRequest struct {
	LastReadMessageID string `json:"last_read_message_id" binding:"required"`
}

// Read handles POST /dialogs/{id}/read {last_read_message_id}
func (h *ChatHandler) Read(c *gin.Context) {
	dialogID := c.Param("id")
	userID := middleware.GetUserID(c)

	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}

	p, err := h.dialogs.MarkRead(dialogID, userID, req.LastReadMessageID)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.hub.Publish(dialogID, ws.Event{
		Type:              "message.read",
		DialogID:          dialogID,
		UserID:            userID,
		LastReadMessageID: &req.LastReadMessageID,
	})
	c.JSON(http.StatusOK, p.ToResponse())
}

// ─── Messages ──────────────────────────────────────────

const maxPageLimit = 200

func parseLimit(c *gin.Context) int {
	v := c.Query("limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	if n > maxPageLimit {
		return maxPageLimit
	}
	return n
}

// ListMessages handles GET /dialogs/{id}/messages?before=|after=|around=&limit=
func (h *ChatHandler) ListMessages(c *gin.Context) {
	dialogID := c.Param("id")
	participant := h.requireParticipant(c, dialogID)
	if participant == nil {
		return
	}

	limit := parseLimit(c)
	before, after, around := c.Query("before"), c.Query("after"), c.Query("around")

	var (
		page *repository.ListPage
		err  error
	)
	switch {
	case around != "":
		page, err = h.messages.ListAround(dialogID, around, limit)
	case after != "":
		page, err = h.messages.ListAfter(dialogID, after, limit)
	case before != "":
		page, err = h.messages.ListBefore(dialogID, before, limit)
	default:
		page, err = h.messages.ListLatest(dialogID, limit, participant)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]model.MessageResponse, len(page.Messages))
	for i, m := range page.Messages {
		items[i] = m.ToResponse()
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":                 items,
		"has_more_before":          page.HasMoreBefore,
		"has_more_after":           page.HasMoreAfter,
		"first_unread_message_id": page.FirstUnreadMessageID,
	})
}

const maxAttachmentsPerMessage = 10

type attachmentInputRequest struct {
	S3Key       string `json:"s3_key" binding:"required"`
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	Size        int64  `json:"size"`
	Width       *int   `json:"width"`
	Height      *int   `json:"height"`
}

type sendMessageRequest struct {
	Content     string                   `json:"content" binding:"required"`
	ReplyTo     *string                  `json:"reply_to"`
	Attachments []attachmentInputRequest `json:"attachments"`
}

// SendMessage handles POST /dialogs/{id}/messages
func (h *ChatHandler) SendMessage(c *gin.Context) {
	dialogID := c.Param("id")
	sender := h.requireParticipant(c, dialogID)
	if sender == nil {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}
	if len(req.Attachments) > maxAttachmentsPerMessage {
		response.Error(c, apperr.Validation("at most 10 attachments per message"))
		return
	}

	attachments := make([]model.Attachment, len(req.Attachments))
	for i, a := range req.Attachments {
		attachments[i] = model.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			S3Key:       a.S3Key,
			Size:        a.Size,
			Width:       a.Width,
			Height:      a.Height,
		}
	}

	msg, err := h.messages.Send(repository.SendInput{
		DialogID:    dialogID,
		SenderID:    sender.UserID,
		Content:     req.Content,
		ReplyToID:   req.ReplyTo,
		Attachments: attachments,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.dialogs.IncrementUnread(dialogID, sender.UserID); err != nil {
		response.Error(c, err)
		return
	}

	h.hub.Publish(dialogID, ws.Event{Type: "message.new", DialogID: dialogID, MessageID: msg.ID, UserID: sender.UserID})
	h.webhooks.Dispatch("message.new", map[string]string{"dialog_id": dialogID, "message_id": msg.ID, "sender_id": sender.UserID})
	h.enqueueNotifications(dialogID, msg.ID, sender.UserID)

	c.JSON(http.StatusCreated, msg.ToResponse())
}

// enqueueNotifications schedules a debounced notification.pending job
// for every other participant with notifications enabled; best-effort, a queue failure never
// fails the send.
func (h *ChatHandler) enqueueNotifications(dialogID, messageID, senderID string) {
	if h.queue == nil {
		return
	}
	// The participant set is small (a chat's membership), so this is
	// one additional query per send, not per recipient.
	participants, err := h.dialogs.ParticipantsExcept(dialogID, senderID)
	if err != nil {
		return
	}
	for _, p := range participants {
		_ = h.queue.Enqueue(context.Background(), dialogID, p.UserID, messageID)
	}
}

// GetMessage handles GET /dialogs/{id}/messages/{mid}
func (h *ChatHandler) GetMessage(c *gin.Context) {
	dialogID, messageID := c.Param("id"), c.Param("mid")
	if h.requireParticipant(c, dialogID) == nil {
		return
	}
	msg, err := h.messages.GetOne(dialogID, messageID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, msg.ToResponse())
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage handles PUT /dialogs/{id}/messages/{mid}
func (h *ChatHandler) EditMessage(c *gin.Context) {
	dialogID, messageID := c.Param("id"), c.Param("mid")
	editor := h.requireParticipant(c, dialogID)
	if editor == nil {
		return
	}

	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}

	msg, err := h.messages.Edit(dialogID, messageID, editor.UserID, req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.hub.Publish(dialogID, ws.Event{Type: "message.edited", DialogID: dialogID, MessageID: msg.ID})
	c.JSON(http.StatusOK, msg.ToResponse())
}

// DeleteMessage handles DELETE /dialogs/{id}/messages/{mid}
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	dialogID, messageID := c.Param("id"), c.Param("mid")
	requester := h.requireParticipant(c, dialogID)
	if requester == nil {
		return
	}

	if err := h.messages.Delete(dialogID, messageID, requester.UserID); err != nil {
		response.Error(c, err)
		return
	}
	h.hub.Publish(dialogID, ws.Event{Type: "message.deleted", DialogID: dialogID, MessageID: messageID})
	c.Status(http.StatusNoContent)
}
