// Package ingest exposes the message submission endpoint used by lab
// systems and transport gateways.
package ingest

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/befundwerk/ingest-api/internal/handler"
	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/service/intake"
	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
)

type Handler struct {
	intake *intake.Service
}

func NewHandler(intake *intake.Service) *Handler {
	return &Handler{intake: intake}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/messages", h.SubmitMessage)
}

type submitRequest struct {
	SourceID          string        `json:"source_id" binding:"required"`
	ContentType       string        `json:"content_type" binding:"required"`
	Payload           string        `json:"payload" binding:"required"`
	ExternalMessageID *string       `json:"external_message_id,omitempty"`
	Metadata          model.JSONMap `json:"metadata,omitempty"`
}

// SubmitMessage accepts one raw result message. Payloads are base64 so HL7
// and LDT byte sequences survive JSON transport. New messages answer 201;
// duplicates answer 200 with the original's reference.
func (h *Handler) SubmitMessage(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("payload must be base64 encoded"))
		return
	}

	outcome, err := h.intake.Ingest(c.Request.Context(), &intake.IngestRequest{
		SourceID:          req.SourceID,
		ContentType:       model.ContentType(req.ContentType),
		Payload:           payload,
		ExternalMessageID: req.ExternalMessageID,
		Metadata:          req.Metadata,
	})
	if err != nil {
		msg := "failed to ingest message"
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(msg))
		return
	}

	status := http.StatusCreated
	if outcome.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, handler.NewSuccessResponse(outcome))
}
