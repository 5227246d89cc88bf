package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/service"
	appErrors "github.com/noah-isme/substitute-api/pkg/errors"
	"github.com/noah-isme/substitute-api/pkg/response"
)

type teacherDirectory interface {
	Search(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Teacher, error)
	UpdateProfile(ctx context.Context, actor service.Actor, id string, req service.UpdateTeacherProfileRequest) (*models.Teacher, error)
}

// TeacherHandler wires the teacher directory to HTTP routes.
type TeacherHandler struct {
	teachers teacherDirectory
}

// NewTeacherHandler constructs a new TeacherHandler.
func NewTeacherHandler(teachers teacherDirectory) *TeacherHandler {
	return &TeacherHandler{teachers: teachers}
}

// List godoc
// @Summary Search teachers
// @Tags Teachers
// @Produce json
// @Param subject query string false "Subject taught"
// @Param grade query int false "Grade the teacher can cover"
// @Param min_rating query number false "Minimum average rating"
// @Param search query string false "Search by name or bio"
// @Param active query bool false "Filter by active status"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /teachers [get]
func (h *TeacherHandler) List(c *gin.Context) {
	filter := models.TeacherFilter{
		Subject: strings.TrimSpace(c.Query("subject")),
		Search:  strings.TrimSpace(c.Query("search")),
	}
	if raw := c.Query("grade"); raw != "" {
		grade, err := strconv.Atoi(raw)
		if err != nil || grade < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "grade must be a positive integer"))
			return
		}
		filter.Grade = grade
	}
	if raw := c.Query("min_rating"); raw != "" {
		rating, err := strconv.ParseFloat(raw, 64)
		if err != nil || rating < 0 || rating > 5 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "min_rating must be between 0 and 5"))
			return
		}
		filter.MinRating = &rating
	}
	if active := c.Query("active"); active != "" {
		switch strings.ToLower(active) {
		case "true":
			val := true
			filter.Active = &val
		case "false":
			val := false
			filter.Active = &val
		}
	}
	filter.Page, filter.PageSize = pageParams(c)

	teachers, pagination, err := h.teachers.Search(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teachers, pagination)
}

// Get godoc
// @Summary Get teacher detail
// @Tags Teachers
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id} [get]
func (h *TeacherHandler) Get(c *gin.Context) {
	teacher, err := h.teachers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teacher, nil)
}

// Update godoc
// @Summary Update a teacher profile
// @Tags Teachers
// @Accept json
// @Produce json
// @Param id path string true "Teacher ID"
// @Param payload body service.UpdateTeacherProfileRequest true "Profile fields"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id} [put]
func (h *TeacherHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var body service.UpdateTeacherProfileRequest
	if !bindJSON(c, &body, "invalid teacher payload") {
		return
	}
	teacher, err := h.teachers.UpdateProfile(c.Request.Context(), actor, c.Param("id"), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teacher, nil)
}
