package server

import (
	"errors"
	"log/slog"
	"net/http"

	"workpulse/internal/apierr"

	"github.com/gin-gonic/gin"
)

// errorBody is the wire shape of every failure.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func render(c *gin.Context, err error) (int, errorBody) {
	var e *apierr.Error
	if !errors.As(err, &e) {
		e = apierr.Wrap(apierr.CodeInternal, "internal error", err)
	}
	status := apierr.HTTPStatus(e.Code)
	msg := e.Message
	if status >= http.StatusInternalServerError {
		// Causes stay in the log.
		slog.Default().ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		msg = "internal server error"
	}
	return status, errorBody{Success: false, Error: msg, Code: string(e.Code)}
}

func respondError(c *gin.Context, err error) {
	status, body := render(c, err)
	c.JSON(status, body)
}

func abortWithError(c *gin.Context, err error) {
	status, body := render(c, err)
	c.AbortWithStatusJSON(status, body)
}
