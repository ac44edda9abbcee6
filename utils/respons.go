package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/settlement-engine/models"
)

type JSONResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, err error) {
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Data:    nil,
	})
}

// RespondDomainError picks the status code from the error taxonomy.
func RespondDomainError(c *gin.Context, err error) {
	RespondError(c, StatusForError(err), err)
}

func StatusForError(err error) int {
	switch {
	case models.IsNotFound(err):
		return http.StatusNotFound
	case models.IsIllegalTransition(err):
		return http.StatusConflict
	case models.IsInvariantViolation(err):
		return http.StatusUnprocessableEntity
	case models.IsExternalCallFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
