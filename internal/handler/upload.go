package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mtchat/mtchat/internal/apperr"
	"github.com/mtchat/mtchat/internal/middleware"
	"github.com/mtchat/mtchat/internal/pkg/response"
	"github.com/mtchat/mtchat/internal/repository"
	"github.com/mtchat/mtchat/internal/storage"
)

// maxAttachmentSize is the 100 MiB cap on a single attachment.
const maxAttachmentSize = 100 << 20

// UploadHandler issues presigned URLs for attachment upload and
// download, keeping binary payloads off the API server.
type UploadHandler struct {
	dialogs   *repository.DialogRepo
	messages  *repository.MessageRepo
	presigner *storage.Presigner
}

func NewUploadHandler(dialogs *repository.DialogRepo, messages *repository.MessageRepo, presigner *storage.Presigner) *UploadHandler {
	return &UploadHandler{dialogs: dialogs, messages: messages, presigner: presigner}
}

type presignRequest struct {
	DialogID    string `json:"dialog_id" binding:"required"`
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	Size        int64  `json:"size" binding:"required"`
}

// Presign handles POST /uploads/presign
func (h *UploadHandler) Presign(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}
	if req.Size > maxAttachmentSize {
		response.Error(c, apperr.Validation("attachment exceeds 100 MiB limit"))
		return
	}

	userID := middleware.GetUserID(c)
	p, err := h.dialogs.Participant(req.DialogID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if p == nil {
		response.Error(c, apperr.Forbidden("join required"))
		return
	}

	key := req.DialogID + "/" + uuid.New().String() + "-" + req.Filename
	url, err := h.presigner.PresignUpload(c.Request.Context(), key, req.ContentType)
	if err != nil {
		response.Error(c, apperr.Internal("presign upload", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_url": url,
		"s3_key":     key,
		"expires_in": 900,
	})
}

// DownloadURL handles GET /attachments/{id}/url
func (h *UploadHandler) DownloadURL(c *gin.Context) {
	attachmentID := c.Param("id")

	attachment, dialogID, err := h.messages.GetAttachment(attachmentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	userID := middleware.GetUserID(c)
	p, err := h.dialogs.Participant(dialogID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if p == nil {
		response.Error(c, apperr.Forbidden("join required"))
		return
	}

	url, err := h.presigner.PresignDownload(c.Request.Context(), attachment.S3Key)
	if err != nil {
		response.Error(c, apperr.Internal("presign download", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"download_url": url,
		"expires_in":   3600,
	})
}
