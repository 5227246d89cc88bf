package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/substitute-api/internal/service"
	"github.com/noah-isme/substitute-api/pkg/response"
)

type sweepRunner interface {
	RunOnce(ctx context.Context) (*service.SweepResult, error)
}

// SweepHandler lets an external scheduler trigger the timeout sweep.
type SweepHandler struct {
	sweeper sweepRunner
}

func NewSweepHandler(sweeper sweepRunner) *SweepHandler {
	return &SweepHandler{sweeper: sweeper}
}

// Run godoc
// @Summary Escalate lapsed requests
// @Description Processes one batch of pending requests whose response window has lapsed.
// @Tags Internal
// @Produce json
// @Param X-Cron-Secret header string true "Scheduler secret"
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope "Sweep finished with errors"
// @Router /internal/sweep [post]
func (h *SweepHandler) Run(c *gin.Context) {
	result, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		if result == nil {
			response.Error(c, err)
			return
		}
		response.Partial(c, result, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
