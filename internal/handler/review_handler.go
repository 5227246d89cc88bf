package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/service"
	"github.com/noah-isme/substitute-api/pkg/response"
)

type reviewService interface {
	Create(ctx context.Context, actor service.Actor, requestID string, body service.CreateReviewRequest) (*models.Review, error)
	ListForTeacher(ctx context.Context, teacherID string, page, size int) ([]models.Review, *models.Pagination, error)
}

// ReviewHandler exposes school reviews of completed substitutions.
type ReviewHandler struct {
	reviews reviewService
}

func NewReviewHandler(reviews reviewService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

// Create godoc
// @Summary Review the teacher of an accepted request
// @Tags Reviews
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.CreateReviewRequest true "Review"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Already reviewed"
// @Router /requests/{id}/review [post]
func (h *ReviewHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var body service.CreateReviewRequest
	if !bindJSON(c, &body, "invalid review payload") {
		return
	}
	review, err := h.reviews.Create(c.Request.Context(), actor, c.Param("id"), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, review)
}

// ListForTeacher godoc
// @Summary List reviews of a teacher
// @Tags Reviews
// @Produce json
// @Param id path string true "Teacher ID"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/reviews [get]
func (h *ReviewHandler) ListForTeacher(c *gin.Context) {
	page, size := pageParams(c)
	reviews, pagination, err := h.reviews.ListForTeacher(c.Request.Context(), c.Param("id"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reviews, pagination)
}
