// Package admin exposes the remediation and oversight surface: pending
// mappings, dead letters, retractions and the audit trail. Every route is
// role-gated and access-audited.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/befundwerk/ingest-api/internal/handler"
	"github.com/befundwerk/ingest-api/internal/middleware"
	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/repository"
	auditsvc "github.com/befundwerk/ingest-api/internal/service/audit"
	"github.com/befundwerk/ingest-api/internal/service/mapper"
	resultsvc "github.com/befundwerk/ingest-api/internal/service/result"
	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
)

// Reprocessor requeues terminal raw messages; the pipeline orchestrator
// implements it.
type Reprocessor interface {
	Reprocess(ctx context.Context, actor model.Actor, id uuid.UUID) error
}

type Handler struct {
	raw         repository.RawMessageRepository
	results     *resultsvc.Service
	audit       *auditsvc.Service
	mapper      *mapper.Service
	reprocessor Reprocessor
	auditMW     *middleware.AuditMiddleware
}

func NewHandler(
	raw repository.RawMessageRepository,
	results *resultsvc.Service,
	audit *auditsvc.Service,
	mapper *mapper.Service,
	reprocessor Reprocessor,
	auditMW *middleware.AuditMiddleware,
) *Handler {
	return &Handler{
		raw:         raw,
		results:     results,
		audit:       audit,
		mapper:      mapper,
		reprocessor: reprocessor,
		auditMW:     auditMW,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	raw := r.Group("/raw-messages", h.auditMW.AuditAccess(model.AuditEntityRawMessage))
	{
		raw.GET("", h.ListRawMessages)
		raw.GET("/:id", h.GetRawMessage)
		raw.POST("/:id/reprocess", h.ReprocessRawMessage)
	}

	results := r.Group("/results", h.auditMW.AuditAccess(model.AuditEntityResult))
	{
		results.GET("", h.ListResults)
		results.GET("/:id", h.GetResult)
		results.POST("/:id/assign", h.AssignResult)
		results.POST("/:id/retract", h.RetractResult)
		results.POST("/:id/supersede", h.SupersedeResult)
		results.GET("/:id/report", h.DownloadReport)
	}

	r.GET("/audit-logs", h.ListAuditLogs)
}

func (h *Handler) ListRawMessages(c *gin.Context) {
	status := model.RawMessageStatus(c.DefaultQuery("status", string(model.RawStatusDLQ)))
	limit, offset := pagination(c)

	msgs, err := h.raw.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to list raw messages"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(msgs))
}

func (h *Handler) GetRawMessage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	msg, err := h.raw.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("raw message not found"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(msg))
}

// ReprocessRawMessage moves a VALIDATION_FAILED or DLQ message back into
// the pipeline with a fresh attempt budget.
func (h *Handler) ReprocessRawMessage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor, _ := middleware.ActorFrom(c)

	if err := h.reprocessor.Reprocess(c.Request.Context(), actor, id); err != nil {
		c.JSON(http.StatusConflict, handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"raw_message_id": id}))
}

func (h *Handler) ListResults(c *gin.Context) {
	status := model.ResultStatus(c.DefaultQuery("status", string(model.ResultStatusPendingMapping)))
	limit, offset := pagination(c)

	results, err := h.results.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to list results"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(results))
}

func (h *Handler) GetResult(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	res, err := h.results.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(res))
}

type assignRequest struct {
	PatientID  string  `json:"patient_id" binding:"required"`
	DoctorID   string  `json:"doctor_id" binding:"required"`
	PracticeID *string `json:"practice_id,omitempty"`
}

// AssignResult confirms a manual mapping for a pending result.
func (h *Handler) AssignResult(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient id"))
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid doctor id"))
		return
	}
	var practiceID *uuid.UUID
	if req.PracticeID != nil {
		pid, err := uuid.Parse(*req.PracticeID)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid practice id"))
			return
		}
		practiceID = &pid
	}

	actor, _ := middleware.ActorFrom(c)
	res, err := h.results.Assign(c.Request.Context(), actor, id, patientID, doctorID, practiceID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// the manual correction usually means reference data changed
	h.mapper.Invalidate(res.OrderingLANR, "")

	c.JSON(http.StatusOK, handler.NewSuccessResponse(res))
}

type retractRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) RetractResult(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req retractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("a retraction reason is required"))
		return
	}

	actor, _ := middleware.ActorFrom(c)
	res, err := h.results.Retract(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(res))
}

type supersedeRequest struct {
	SuccessorID string `json:"successor_id" binding:"required"`
}

func (h *Handler) SupersedeResult(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req supersedeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("a successor id is required"))
		return
	}
	successorID, err := uuid.Parse(req.SuccessorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid successor id"))
		return
	}

	actor, _ := middleware.ActorFrom(c)
	res, err := h.results.Supersede(c.Request.Context(), actor, id, successorID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(res))
}

func (h *Handler) DownloadReport(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor, _ := middleware.ActorFrom(c)

	data, err := h.results.DownloadReport(c.Request.Context(), actor, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (h *Handler) ListAuditLogs(c *gin.Context) {
	filter := &model.AuditFilter{
		ActorID:    c.Query("actor_id"),
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
	}
	filter.Limit, filter.Offset = pagination(c)

	if raw := c.Query("entity_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid entity id"))
			return
		}
		filter.EntityID = &id
	}
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid since timestamp"))
			return
		}
		filter.Since = &t
	}

	logs, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to list audit logs"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(logs))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func respondServiceError(c *gin.Context, err error) {
	msg := "internal server error"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	c.JSON(handler.HTTPStatus(err), handler.NewErrorResponse(msg))
}
