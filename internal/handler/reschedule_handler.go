package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/service"
	"github.com/noah-isme/substitute-api/pkg/response"
)

type rescheduleService interface {
	Propose(ctx context.Context, actor service.Actor, requestID string, body service.ProposeRescheduleRequest) (*models.RescheduleRequest, error)
	Respond(ctx context.Context, actor service.Actor, rescheduleID string, body service.RespondRescheduleRequest) (*models.RescheduleRequest, error)
	List(ctx context.Context, actor service.Actor, requestID string) ([]models.RescheduleRequest, error)
}

// RescheduleHandler handles slot change proposals between the two parties.
type RescheduleHandler struct {
	reschedules rescheduleService
}

func NewRescheduleHandler(reschedules rescheduleService) *RescheduleHandler {
	return &RescheduleHandler{reschedules: reschedules}
}

// Propose godoc
// @Summary Propose a new slot
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.ProposeRescheduleRequest true "Proposed slot"
// @Success 201 {object} response.Envelope
// @Router /requests/{id}/reschedules [post]
func (h *RescheduleHandler) Propose(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var body service.ProposeRescheduleRequest
	if !bindJSON(c, &body, "invalid reschedule payload") {
		return
	}
	proposal, err := h.reschedules.Propose(c.Request.Context(), actor, c.Param("id"), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, proposal)
}

// List godoc
// @Summary List slot proposals of a request
// @Tags Reschedules
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/reschedules [get]
func (h *RescheduleHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	items, err := h.reschedules.List(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Respond godoc
// @Summary Accept or reject a slot proposal
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param id path string true "Reschedule ID"
// @Param payload body service.RespondRescheduleRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /reschedules/{id}/respond [post]
func (h *RescheduleHandler) Respond(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var body service.RespondRescheduleRequest
	if !bindJSON(c, &body, "invalid reschedule response") {
		return
	}
	proposal, err := h.reschedules.Respond(c.Request.Context(), actor, c.Param("id"), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, proposal, nil)
}
