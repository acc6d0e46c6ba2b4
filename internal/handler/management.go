// Package handler wires HTTP requests to the repository, hub, queue,
// and webhook layers. Handlers hold no business logic beyond request
// parsing, authorization checks already done by middleware, and
// translating repository responses into the documented JSON shapes.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mtchat/mtchat/internal/apperr"
	"github.com/mtchat/mtchat/internal/model"
	"github.com/mtchat/mtchat/internal/pkg/response"
	"github.com/mtchat/mtchat/internal/repository"
	"github.com/mtchat/mtchat/internal/webhook"
	"github.com/mtchat/mtchat/internal/ws"
)

// ManagementHandler implements the admin-token-gated Management API:
// creating dialogs, inviting participants, deleting dialogs.
type ManagementHandler struct {
	dialogs  *repository.DialogRepo
	hub      *ws.Hub
	webhooks *webhook.Dispatcher
}

func NewManagementHandler(dialogs *repository.DialogRepo, hub *ws.Hub, webhooks *webhook.Dispatcher) *ManagementHandler {
	return &ManagementHandler{dialogs: dialogs, hub: hub, webhooks: webhooks}
}

type scopeRowRequest struct {
	TenantUID   string   `json:"tenant_uid" binding:"required"`
	ScopeLevel1 []string `json:"scope_level1"`
	ScopeLevel2 []string `json:"scope_level2"`
}

type participantInputRequest struct {
	UserID      string  `json:"user_id" binding:"required"`
	DisplayName string  `json:"display_name" binding:"required"`
	Company     *string `json:"company"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
}

type createDialogRequest struct {
	ObjectID     string                    `json:"object_id" binding:"required"`
	ObjectType   string                    `json:"object_type" binding:"required"`
	Title        *string                   `json:"title"`
	ObjectURL    *string                   `json:"object_url"`
	CreatedBy    string                    `json:"created_by" binding:"required"`
	Participants []participantInputRequest `json:"participants"`
	AccessScopes []scopeRowRequest         `json:"access_scopes"`
}

// Create handles POST /management/dialogs
func (h *ManagementHandler) Create(c *gin.Context) {
	var req createDialogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}

	scopes := make([]model.DialogAccessScope, len(req.AccessScopes))
	for i, s := range req.AccessScopes {
		scopes[i] = model.DialogAccessScope{
			TenantUID:   s.TenantUID,
			ScopeLevel1: s.ScopeLevel1,
			ScopeLevel2: s.ScopeLevel2,
		}
	}

	participants := make([]model.DialogParticipant, len(req.Participants))
	for i, p := range req.Participants {
		participants[i] = model.DialogParticipant{
			UserID:               p.UserID,
			DisplayName:          p.DisplayName,
			Company:              p.Company,
			Email:                p.Email,
			Phone:                p.Phone,
			NotificationsEnabled: true,
			JoinedAs:             model.JoinedAsDirect,
		}
	}

	dialog, err := h.dialogs.Create(repository.CreateInput{
		ObjectType:   req.ObjectType,
		ObjectID:     req.ObjectID,
		Title:        req.Title,
		ObjectURL:    req.ObjectURL,
		CreatedBy:    req.CreatedBy,
		Scopes:       scopes,
		Participants: participants,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, dialog.ToResponse(int64(len(participants)), "participant", false))
}

// AddParticipant handles POST /management/dialogs/{id}/participants
func (h *ManagementHandler) AddParticipant(c *gin.Context) {
	dialogID := c.Param("id")

	var req participantInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}

	if _, err := h.dialogs.GetByID(dialogID); err != nil {
		response.Error(c, err)
		return
	}

	profile := model.DialogParticipant{
		DialogID:             dialogID,
		UserID:               req.UserID,
		DisplayName:          req.DisplayName,
		Company:              req.Company,
		Email:                req.Email,
		Phone:                req.Phone,
		NotificationsEnabled: true,
	}

	participant, created, err := h.dialogs.AddDirect(profile)
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

// Delete handles DELETE /management/dialogs/{id}
func (h *ManagementHandler) Delete(c *gin.Context) {
	dialogID := c.Param("id")
	if err := h.dialogs.Delete(dialogID); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
