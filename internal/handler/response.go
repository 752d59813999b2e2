package handler

import (
	"errors"
	"net/http"

	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// HTTPStatus maps service errors to response codes.
func HTTPStatus(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrNotFound:
			return http.StatusNotFound
		case apperrors.ErrBadRequest:
			return http.StatusBadRequest
		case apperrors.ErrUnauthorized:
			return http.StatusUnauthorized
		case apperrors.ErrForbidden:
			return http.StatusForbidden
		case apperrors.ErrConflict:
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}
