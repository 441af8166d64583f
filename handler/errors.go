package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"persona-chat/internal/usecase"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUnauthenticated:
		return http.StatusUnauthorized
	case usecase.ErrorForbidden:
		return http.StatusForbidden
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage picks the text for the error body. Server errors surface the
// underlying cause.
func errorMessage(err error, code usecase.ErrorCode, status int) string {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		if ucErr.Message != "" {
			return ucErr.Message
		}
		if status >= http.StatusInternalServerError && ucErr.Err != nil {
			return ucErr.Err.Error()
		}
		if code == usecase.ErrorInvalidInput && ucErr.Reason != "" {
			return strings.ReplaceAll(ucErr.Reason, "_", " ")
		}
	} else if status >= http.StatusInternalServerError {
		return err.Error()
	}

	switch code {
	case usecase.ErrorUnauthenticated:
		return "authentication required"
	case usecase.ErrorForbidden:
		return "not allowed"
	case usecase.ErrorNotFound:
		return "not found"
	case usecase.ErrorConflict:
		return "conflict"
	case usecase.ErrorRateLimited:
		return "too many requests"
	case usecase.ErrorInvalidInput:
		return "invalid request"
	default:
		return "internal error"
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	code := usecase.CodeOf(err)
	status := statusFor(code)

	var ucErr *usecase.Error
	reason := ""
	if errors.As(err, &ucErr) {
		reason = ucErr.Reason
	}
	kv := []any{"code", code, "reason", reason, "status", status, "correlation_id", correlationID(c)}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", append(kv, "error", err)...)
	} else {
		h.log.Warn("request rejected", kv...)
	}

	c.AbortWithStatusJSON(status, errorResponse{Error: errorMessage(err, code, status), Code: string(code)})
}

func (h *Handler) respondBindError(c *gin.Context, err error) {
	h.respondError(c, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err, Message: "invalid request body"})
}
