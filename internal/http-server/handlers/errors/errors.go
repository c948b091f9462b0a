// Package errors answers requests that match no route.
package errors

import (
	"log/slog"
	"net/http"
	"picklepot/entity"
	"picklepot/lib/api/response"
	"picklepot/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

func NotFound(log *slog.Logger) http.HandlerFunc {
	return unmatched(log, http.StatusNotFound, entity.KindNotFound, "requested resource not found")
}

func NotAllowed(log *slog.Logger) http.HandlerFunc {
	return unmatched(log, http.StatusMethodNotAllowed, entity.KindValidation, "method not allowed")
}

func unmatched(log *slog.Logger, status int, kind entity.Kind, message string) http.HandlerFunc {
	logger := log.With(sl.Module("http.handlers.errors"))
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug(message,
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
		res := response.Error(message)
		res.Reason = kind
		render.Status(r, status)
		render.JSON(w, r, res)
	}
}
