// Package owner verifies pot owner credentials on admin routes and stores
// the resulting authorization in the request context.
package owner

import (
	"context"
	"log/slog"
	"net/http"
	"picklepot/entity"
	"picklepot/lib/api/cont"
	"picklepot/lib/api/response"
	"picklepot/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const (
	HeaderCode  = "X-Owner-Code"
	HeaderToken = "X-Owner-Token"
)

type Verifier interface {
	VerifyOwner(ctx context.Context, potId string, proof entity.OwnerProof) (*entity.OwnerAuth, error)
}

func New(log *slog.Logger, verifier Verifier) func(next http.Handler) http.Handler {
	mod := sl.Module("middleware.owner")

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			potId := chi.URLParam(r, "id")
			logger := log.With(
				mod,
				sl.Pot(potId),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			proof := entity.OwnerProof{
				Code:  r.Header.Get(HeaderCode),
				Token: r.Header.Get(HeaderToken),
			}
			if proof.Token == "" {
				proof.Token = r.URL.Query().Get("token")
			}
			if proof.Code == "" && proof.Token == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.FromError(entity.ErrUnauthorized))
				return
			}

			auth, err := verifier.VerifyOwner(r.Context(), potId, proof)
			if err != nil {
				logger.Warn("owner verification failed", sl.Err(err))
				render.Status(r, response.Status(err))
				render.JSON(w, r, response.FromError(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(cont.PutOwner(r.Context(), auth)))
		}
		return http.HandlerFunc(fn)
	}
}
