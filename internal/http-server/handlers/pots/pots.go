package pots

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"picklepot/entity"
	potsvc "picklepot/impl/pots"
	"picklepot/lib/api/cont"
	"picklepot/lib/api/response"
	"picklepot/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	CreatePot(ctx context.Context, draft *entity.PotDraft) (*potsvc.Created, error)
	BeginPotCheckout(ctx context.Context, req *entity.PotCheckout) (*potsvc.PendingPot, error)
	CancelPotCheckout(ctx context.Context, draftId string) error
	GetPot(ctx context.Context, potId string) (*entity.Pot, error)
	CreateOwnedPot(ctx context.Context, uid string, draft *entity.PotDraft) (*potsvc.Created, error)
	Redirector
}

// Redirector approves browser redirect targets.
type Redirector interface {
	AllowRedirect(u *url.URL) bool
}

func Create(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.pots"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var draft entity.PotDraft
		if err := render.Bind(r, &draft); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		created, err := handler.CreatePot(r.Context(), &draft)
		if err != nil {
			logger.Error("create pot", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(created))
	}
}

// CreateOwned opens a pot for the authenticated organizer under their plan.
func CreateOwned(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.pots"),
			slog.String("user", user.Username),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var draft entity.PotDraft
		if err := render.Bind(r, &draft); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		created, err := handler.CreateOwnedPot(r.Context(), user.Username, &draft)
		if err != nil {
			logger.Warn("create owned pot", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(created))
	}
}

func Checkout(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.pots"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req entity.PotCheckout
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		pending, err := handler.BeginPotCheckout(r.Context(), &req)
		if err != nil {
			logger.Error("begin pot checkout", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.JSON(w, r, response.Ok(pending))
	}
}

// CancelCreate is the gateway cancel target of a pot checkout.
func CancelCreate(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		draftId := r.URL.Query().Get("draft")
		logger := log.With(
			sl.Module("http.handlers.pots"),
			slog.String("draft_id", draftId),
		)
		if draftId == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Missing draft id"))
			return
		}

		if err := handler.CancelPotCheckout(r.Context(), draftId); err != nil {
			logger.Error("cancel pot checkout", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		if Redirect(w, r, handler) {
			return
		}
		render.JSON(w, r, response.Ok(nil))
	}
}

func Get(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		potId := chi.URLParam(r, "id")

		pot, err := handler.GetPot(r.Context(), potId)
		if err != nil {
			log.With(sl.Module("http.handlers.pots"), sl.Pot(potId)).Debug("get pot", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.JSON(w, r, response.Ok(pot))
	}
}

// Redirect sends the caller to the URL in the "redirect" query parameter
// when it is an absolute http(s) URL on an allowed origin.
func Redirect(w http.ResponseWriter, r *http.Request, allow Redirector) bool {
	target := r.URL.Query().Get("redirect")
	if target == "" {
		return false
	}
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.User != nil {
		return false
	}
	if !allow.AllowRedirect(u) {
		return false
	}
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
	return true
}
