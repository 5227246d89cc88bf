package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/substitute-api/internal/models"
	appErrors "github.com/noah-isme/substitute-api/pkg/errors"
	"github.com/noah-isme/substitute-api/pkg/middleware/requestid"
)

// Envelope is the body of every API response. Data and Error may both be set
// when an operation such as a sweep finished only part of its work.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// JSON sends a success response with optional pagination and meta.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	envelope := Envelope{Data: data, Pagination: pagination}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	write(c, status, envelope)
}

// Created responds with 201.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Error converts err to the API error shape. Unknown errors become 500s.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	write(c, appErr.Status, Envelope{Error: appErr})
}

// Partial reports err with the status it maps to while still returning data.
func Partial(c *gin.Context, data interface{}, err error) {
	appErr := appErrors.FromError(err)
	write(c, appErr.Status, Envelope{Data: data, Error: appErr})
}

func write(c *gin.Context, status int, envelope Envelope) {
	c.Header("Cache-Control", "no-store")
	if envelope.Error != nil {
		if id := requestid.Value(c); id != "" {
			if envelope.Meta == nil {
				envelope.Meta = map[string]interface{}{}
			}
			envelope.Meta["request_id"] = id
		}
	}
	c.JSON(status, envelope)
}
