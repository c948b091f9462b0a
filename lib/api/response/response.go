package response

import (
	"errors"
	"net/http"
	"picklepot/entity"
	"picklepot/lib/clock"
)

type Response struct {
	Data          interface{} `json:"data,omitempty"`
	Success       bool        `json:"success" validate:"required"`
	StatusMessage string      `json:"status_message"`
	Reason        entity.Kind `json:"reason,omitempty"`
	Timestamp     string      `json:"timestamp"`
}

func Ok(data interface{}) Response {
	return Response{
		Data:          data,
		Success:       true,
		StatusMessage: "Success",
		Timestamp:     clock.Now(),
	}
}

func Error(message string) Response {
	return Response{
		Success:       false,
		StatusMessage: message,
		Timestamp:     clock.Now(),
	}
}

// FromError builds the envelope for a categorized engine error.
func FromError(err error) Response {
	res := Error(err.Error())
	res.Reason = entity.KindOf(err)
	var e *entity.Error
	if errors.As(err, &e) {
		res.StatusMessage = e.Reason
	}
	return res
}

// Status maps an error kind to the HTTP status returned by synchronous endpoints.
func Status(err error) int {
	switch entity.KindOf(err) {
	case entity.KindValidation:
		return http.StatusBadRequest
	case entity.KindAuthorization:
		return http.StatusUnauthorized
	case entity.KindConflict:
		return http.StatusConflict
	case entity.KindNotFound:
		return http.StatusNotFound
	case entity.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
