package entries

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"picklepot/entity"
	"picklepot/internal/http-server/handlers/pots"
	"picklepot/lib/api/response"
	"picklepot/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	Admit(ctx context.Context, potId string, draft *entity.EntryDraft) (*entity.Entry, error)
	BeginPayment(ctx context.Context, potId, entryId string, targets entity.RedirectTargets) (*entity.CheckoutSession, error)
	CancelJoin(ctx context.Context, potId, entryId, sessionId string) (bool, error)
	pots.Redirector
}

type admitted struct {
	EntryId string        `json:"entry_id"`
	BuyIn   entity.Amount `json:"buyin"`
	Method  entity.Method `json:"method"`
}

func Admit(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		potId := chi.URLParam(r, "id")
		logger := log.With(
			sl.Module("http.handlers.entries"),
			sl.Pot(potId),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var draft entity.EntryDraft
		if err := render.Bind(r, &draft); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		entry, err := handler.Admit(r.Context(), potId, &draft)
		if err != nil {
			logger.Info("admission rejected", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(admitted{EntryId: entry.Id, BuyIn: entry.BuyIn, Method: entry.Method}))
	}
}

func Checkout(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		potId := chi.URLParam(r, "id")
		entryId := chi.URLParam(r, "entry")
		logger := log.With(
			sl.Module("http.handlers.entries"),
			sl.Pot(potId),
			sl.Entry(entryId),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var targets entity.RedirectTargets
		if err := render.Bind(r, &targets); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		sess, err := handler.BeginPayment(r.Context(), potId, entryId, targets)
		if err != nil {
			logger.Error("begin payment", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.JSON(w, r, response.Ok(sess))
	}
}

// Cancel is the gateway cancel target of a join checkout. The caller proves
// it started the checkout with the session_id returned by Checkout.
func Cancel(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		potId := chi.URLParam(r, "id")
		entryId := chi.URLParam(r, "entry")
		sessionId := r.URL.Query().Get("session_id")

		removed, err := handler.CancelJoin(r.Context(), potId, entryId, sessionId)
		if err != nil {
			log.With(sl.Module("http.handlers.entries"), sl.Pot(potId), sl.Entry(entryId)).Error("cancel join", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		if pots.Redirect(w, r, handler) {
			return
		}
		render.JSON(w, r, response.Ok(map[string]bool{"removed": removed}))
	}
}
