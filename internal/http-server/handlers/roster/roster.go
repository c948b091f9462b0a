package roster

import (
	"context"
	"fmt"
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

type Core interface {
	ResolveRoster(ctx context.Context, potId string) (*entity.Roster, error)
	OrgRoster(ctx context.Context, orgId string) ([]string, error)
	SaveOrgRoster(ctx context.Context, orgId string, emails []string) ([]string, error)
}

type orgRoster struct {
	OrgId  string   `json:"org_id"`
	Emails []string `json:"emails"`
}

func Resolve(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		potId := chi.URLParam(r, "id")

		roster, err := handler.ResolveRoster(r.Context(), potId)
		if err != nil {
			log.With(sl.Module("http.handlers.roster"), sl.Pot(potId)).Error("resolve roster", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.JSON(w, r, response.Ok(roster))
	}
}

func GetOrg(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgId := chi.URLParam(r, "org")
		user := cont.GetUser(r.Context())
		if !user.ManagesOrg(orgId) {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.Error("Organisation not managed by user"))
			return
		}

		emails, err := handler.OrgRoster(r.Context(), orgId)
		if err != nil {
			log.With(sl.Module("http.handlers.roster"), slog.String("org_id", orgId)).Error("get org roster", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.JSON(w, r, response.Ok(orgRoster{OrgId: orgId, Emails: emails}))
	}
}

func PutOrg(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgId := chi.URLParam(r, "org")
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.roster"),
			slog.String("org_id", orgId),
			slog.String("user", user.Username),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
		if !user.ManagesOrg(orgId) {
			logger.Warn("org roster update denied")
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.Error("Organisation not managed by user"))
			return
		}

		var update entity.RosterUpdate
		if err := render.Bind(r, &update); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		emails, err := handler.SaveOrgRoster(r.Context(), orgId, update.Emails)
		if err != nil {
			logger.Error("save org roster", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}
		logger.Info("org roster saved", slog.Int("emails", len(emails)))

		render.JSON(w, r, response.Ok(orgRoster{OrgId: orgId, Emails: emails}))
	}
}
