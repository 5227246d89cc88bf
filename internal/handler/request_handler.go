package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/service"
	"github.com/noah-isme/substitute-api/pkg/response"
)

type teachingRequestService interface {
	Create(ctx context.Context, actor service.Actor, criteria service.CreateRequestCriteria) (*models.TeachingRequest, error)
	Get(ctx context.Context, actor service.Actor, id string) (*models.TeachingRequest, error)
	List(ctx context.Context, actor service.Actor, filter models.TeachingRequestFilter) ([]models.TeachingRequest, *models.Pagination, error)
	Accept(ctx context.Context, actor service.Actor, id string) (*models.TeachingRequest, error)
	Reject(ctx context.Context, actor service.Actor, id string, body service.RejectRequest) (*models.TeachingRequest, error)
	Cancel(ctx context.Context, actor service.Actor, id string, body service.CancelRequest) (*models.TeachingRequest, error)
}

// RequestHandler exposes substitute requests and the party actions on them.
type RequestHandler struct {
	requests teachingRequestService
}

// NewRequestHandler constructs a RequestHandler.
func NewRequestHandler(requests teachingRequestService) *RequestHandler {
	return &RequestHandler{requests: requests}
}

// CreateAuto godoc
// @Summary Create a request with automatic matching
// @Description Ranks eligible teachers, assigns the best one and queues up to two fallbacks.
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body service.CreateRequestCriteria true "Request criteria"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope "No eligible teacher"
// @Router /requests/auto [post]
func (h *RequestHandler) CreateAuto(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var criteria service.CreateRequestCriteria
	if !bindJSON(c, &criteria, "invalid request payload") {
		return
	}
	req, err := h.requests.Create(c.Request.Context(), actor, criteria)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// List godoc
// @Summary List requests visible to the caller
// @Tags Requests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	filter := models.TeachingRequestFilter{}
	filter.Page, filter.PageSize = pageParams(c)
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Status = append(filter.Status, models.RequestStatus(strings.ToLower(part)))
			}
		}
	}
	items, pagination, err := h.requests.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	req, err := h.requests.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Accept godoc
// @Summary Accept an assigned request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Request changed concurrently"
// @Router /requests/{id}/accept [post]
func (h *RequestHandler) Accept(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	req, err := h.requests.Accept(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Reject godoc
// @Summary Reject an assigned request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.RejectRequest false "Optional reason"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/reject [post]
func (h *RequestHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var body service.RejectRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &body, "invalid reject payload") {
		return
	}
	req, err := h.requests.Reject(c.Request.Context(), actor, c.Param("id"), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Cancel godoc
// @Summary Cancel a request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.CancelRequest true "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/cancel [post]
func (h *RequestHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var body service.CancelRequest
	if !bindJSON(c, &body, "invalid cancel payload") {
		return
	}
	req, err := h.requests.Cancel(c.Request.Context(), actor, c.Param("id"), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}
