package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fixly/ticket-service/internal/errs"
	"github.com/fixly/ticket-service/internal/middleware"
	"github.com/fixly/ticket-service/internal/model"
	"github.com/fixly/ticket-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

type TicketHandler struct {
	svc service.TicketServicer
}

func NewTicketHandler(svc service.TicketServicer) *TicketHandler {
	return &TicketHandler{svc: svc}
}

type createTicketRequest struct {
	CustomerID          uuid.UUID      `json:"customer_id"`
	DeviceID            uuid.UUID      `json:"device_id"`
	AssignedToID        *uuid.UUID     `json:"assigned_to_id"`
	Priority            model.Priority `json:"priority"`
	Channel             model.Channel  `json:"channel"`
	IssueDescription    string         `json:"issue_description"`
	EstimatedCompletion *time.Time     `json:"estimated_completion"`
	Tags                []string       `json:"tags"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	var in service.CreateTicketInput
	if err := copier.Copy(&in, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t, err := h.svc.Create(c.Request.Context(), actor, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

type listTicketsQuery struct {
	Status       string `form:"status"`
	Priority     string `form:"priority"`
	AssignedToID string `form:"assigned_to_id"`
	CustomerID   string `form:"customer_id"`
	Search       string `form:"search"`
	SortBy       string `form:"sort_by"`
	SortOrder    string `form:"sort_order"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
}

func (h *TicketHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var q listTicketsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	filter := service.ListFilter{
		Search:    q.Search,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
		Page:      q.Page,
		PageSize:  q.PageSize,
	}
	if q.Status != "" {
		st := model.Status(q.Status)
		filter.Status = &st
	}
	if q.Priority != "" {
		p := model.Priority(q.Priority)
		filter.Priority = &p
	}
	var err error
	if filter.AssignedToID, err = optionalUUID(q.AssignedToID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assigned_to_id"})
		return
	}
	if filter.CustomerID, err = optionalUUID(q.CustomerID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer_id"})
		return
	}

	res, err := h.svc.List(c.Request.Context(), actor, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *TicketHandler) Get(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	t, err := h.svc.Get(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type updateTicketRequest struct {
	Priority                 *model.Priority  `json:"priority"`
	IssueDescription         *string          `json:"issue_description"`
	AIDiagnosis              *model.Diagnosis `json:"ai_diagnosis"`
	EstimatedCost            *decimal.Decimal `json:"estimated_cost"`
	ApprovedCost             *decimal.Decimal `json:"approved_cost"`
	ActualCost               *decimal.Decimal `json:"actual_cost"`
	EstimatedCompletion      *time.Time       `json:"estimated_completion"`
	ClearEstimatedCompletion bool             `json:"clear_estimated_completion"`
	Tags                     *[]string        `json:"tags"`
}

func (h *TicketHandler) Update(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	var req updateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t, err := h.svc.Update(c.Request.Context(), actor, id, service.UpdateTicketInput(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type changeStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *TicketHandler) ChangeStatus(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t, err := h.svc.ChangeStatus(c.Request.Context(), actor, id, service.ChangeStatusInput(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type assignRequest struct {
	AssignedToID *uuid.UUID `json:"assigned_to_id"`
}

func (h *TicketHandler) Assign(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t, err := h.svc.Assign(c.Request.Context(), actor, id, req.AssignedToID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type addNoteRequest struct {
	Content       string `json:"content"`
	IsAIGenerated bool   `json:"is_ai_generated"`
}

func (h *TicketHandler) AddNote(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	note, err := h.svc.AddNote(c.Request.Context(), actor, id, service.AddNoteInput(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *TicketHandler) History(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	logs, err := h.svc.History(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if logs == nil {
		logs = []model.TicketStatusLog{}
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// QR renders the claim tag handed to the customer: a PNG encoding the ticket code.
func (h *TicketHandler) QR(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	size := 256
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 64 || n > 1024 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size must be between 64 and 1024"})
			return
		}
		size = n
	}
	t, err := h.svc.Find(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	png, err := qrcode.Encode(t.Code, qrcode.Medium, size)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+t.Code+`.png"`)
	c.Data(http.StatusOK, "image/png", png)
}

func requireActor(c *gin.Context) (service.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return actor, ok
}

func actorAndID(c *gin.Context) (service.Actor, uuid.UUID, bool) {
	actor, ok := requireActor(c)
	if !ok {
		return actor, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return actor, uuid.Nil, false
	}
	return actor, id, true
}

func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// writeError maps error kinds to status codes. Unclassified errors are
// recorded on the context for the request logger and hidden from the client.
func writeError(c *gin.Context, err error) {
	switch errs.Kind(err) {
	case errs.ErrNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errs.ErrValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errs.ErrConflict:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
