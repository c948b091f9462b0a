package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"picklepot/entity"
	"picklepot/lib/api/cont"
	"picklepot/lib/api/response"
	"picklepot/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	SubscriptionPlans() []entity.Plan
	BeginSubscription(ctx context.Context, req *entity.SubscriptionCheckout) (*entity.SubscriptionSession, error)
	ActivateSubscription(ctx context.Context, uid, email string) (*entity.OrganizerSub, error)
	AccountPlan(ctx context.Context, uid string) (*entity.OrganizerSub, error)
}

type activated struct {
	Ok           bool                 `json:"ok"`
	AttachedTo   string               `json:"attached_to_uid"`
	Subscription *entity.OrganizerSub `json:"subscription"`
}

func Plans(_ *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, response.Ok(handler.SubscriptionPlans()))
	}
}

func Checkout(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.subscriptions"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req entity.SubscriptionCheckout
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		sess, err := handler.BeginSubscription(r.Context(), &req)
		if err != nil {
			logger.Error("begin subscription", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.JSON(w, r, response.Ok(sess))
	}
}

// Activate attaches a subscription bought with the given email to the
// authenticated account.
func Activate(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		logger := log.With(
			sl.Module("http.handlers.subscriptions"),
			slog.String("user", user.Username),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req entity.ActivateRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		sub, err := handler.ActivateSubscription(r.Context(), user.Username, req.Email)
		if err != nil {
			logger.Warn("activate subscription", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.JSON(w, r, response.Ok(activated{Ok: true, AttachedTo: user.Username, Subscription: sub}))
	}
}

func Current(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())

		sub, err := handler.AccountPlan(r.Context(), user.Username)
		if err != nil {
			log.With(sl.Module("http.handlers.subscriptions"), slog.String("user", user.Username)).Debug("account plan", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.JSON(w, r, response.Ok(sub))
	}
}
