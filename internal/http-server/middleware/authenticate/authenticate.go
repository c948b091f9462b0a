// Package authenticate resolves organizer API users from bearer tokens.
// Request logging is left to the logging middleware in front of it.
package authenticate

import (
	"fmt"
	"log/slog"
	"net/http"
	"picklepot/entity"
	"picklepot/lib/api/cont"
	"picklepot/lib/api/response"
	"picklepot/lib/sl"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Authenticate interface {
	AuthenticateByToken(token string) (*entity.User, error)
}

func New(log *slog.Logger, auth Authenticate) func(next http.Handler) http.Handler {
	mod := sl.Module("middleware.authenticate")
	log.With(mod).Info("authenticate middleware initialized")

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			id := middleware.GetReqID(r.Context())
			logger := log.With(
				mod,
				slog.String("path", r.URL.Path),
				slog.String("request_id", id),
			)

			token, err := bearerToken(r)
			if err != nil {
				logger.Debug("request rejected", sl.Err(err))
				authFailed(w, r, err.Error())
				return
			}
			if auth == nil {
				authFailed(w, r, "authentication not enabled")
				return
			}

			user, err := auth.AuthenticateByToken(token)
			if err != nil {
				logger.With(sl.Secret("token", token)).Warn("unknown bearer token", sl.Err(err))
				authFailed(w, r, "token not recognized")
				return
			}

			w.Header().Set("X-Request-ID", id)
			w.Header().Set("X-User", user.Username)
			next.ServeHTTP(w, r.WithContext(cont.PutUser(r.Context(), user)))
		}
		return http.HandlerFunc(fn)
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("authorization header not found")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", fmt.Errorf("bearer token not found")
	}
	return token, nil
}

func authFailed(w http.ResponseWriter, r *http.Request, message string) {
	res := response.FromError(entity.ErrUnauthorized)
	res.StatusMessage = message
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, res)
}
