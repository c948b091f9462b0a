// Package admin holds the owner-gated pot routes. Every handler expects the
// owner middleware to have put a verified authorization into the context.
package admin

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
	VerifyOwner(ctx context.Context, potId string, proof entity.OwnerProof) (*entity.OwnerAuth, error)
	EditPot(ctx context.Context, auth *entity.OwnerAuth, potId string, draft *entity.PotDraft) (*entity.Pot, error)
	SetPotStatus(ctx context.Context, auth *entity.OwnerAuth, potId string, status entity.PotStatus) error
	DeletePot(ctx context.Context, auth *entity.OwnerAuth, potId string) error
	ListEntries(ctx context.Context, auth *entity.OwnerAuth, potId string) ([]*entity.Entry, error)
	SetEntryStatus(ctx context.Context, auth *entity.OwnerAuth, potId, entryId string, status entity.EntryStatus) error
	SetEntryPaid(ctx context.Context, auth *entity.OwnerAuth, potId, entryId string, paid bool) error
	RemoveEntry(ctx context.Context, auth *entity.OwnerAuth, potId, entryId string) error
	MoveEntry(ctx context.Context, auth *entity.OwnerAuth, potId, entryId, toPotId string) (*entity.Entry, error)
	RotateCode(ctx context.Context, auth *entity.OwnerAuth, potId string) (*entity.OwnerGrant, error)
	RotateLink(ctx context.Context, auth *entity.OwnerAuth, potId string) (*entity.OwnerGrant, error)
	RevokeAll(ctx context.Context, auth *entity.OwnerAuth, potId string) (*entity.OwnerGrant, error)
	BindRoster(ctx context.Context, auth *entity.OwnerAuth, potId, orgId string) error
	SetInlineRoster(ctx context.Context, auth *entity.OwnerAuth, potId string, emails []string) ([]string, error)
}

type request struct {
	potId   string
	entryId string
	auth    *entity.OwnerAuth
	log     *slog.Logger
}

func newRequest(log *slog.Logger, r *http.Request) request {
	potId := chi.URLParam(r, "id")
	entryId := chi.URLParam(r, "entry")
	logger := log.With(
		sl.Module("http.handlers.admin"),
		sl.Pot(potId),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	if entryId != "" {
		logger = logger.With(sl.Entry(entryId))
	}
	return request{
		potId:   potId,
		entryId: entryId,
		auth:    cont.GetOwner(r.Context()),
		log:     logger,
	}
}

func (q request) bind(w http.ResponseWriter, r *http.Request, v render.Binder) bool {
	if err := render.Bind(r, v); err != nil {
		q.log.Error("bind request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
		return false
	}
	return true
}

func (q request) done(w http.ResponseWriter, r *http.Request, op string, data interface{}, err error) {
	if err != nil {
		q.log.Error(op, sl.Err(err))
		render.Status(r, response.Status(err))
		render.JSON(w, r, response.FromError(err))
		return
	}
	render.JSON(w, r, response.Ok(data))
}

// Auth checks a code or token without a mutation; it answers with the claim.
func Auth(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		var proof entity.OwnerProof
		if !q.bind(w, r, &proof) {
			return
		}
		auth, err := handler.VerifyOwner(r.Context(), q.potId, proof)
		q.done(w, r, "verify owner", auth, err)
	}
}

func Entries(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		list, err := handler.ListEntries(r.Context(), q.auth, q.potId)
		q.done(w, r, "list entries", list, err)
	}
}

func Edit(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		var draft entity.PotDraft
		if !q.bind(w, r, &draft) {
			return
		}
		pot, err := handler.EditPot(r.Context(), q.auth, q.potId, &draft)
		q.done(w, r, "edit pot", pot, err)
	}
}

func Status(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		var change entity.StatusChange
		if !q.bind(w, r, &change) {
			return
		}
		err := handler.SetPotStatus(r.Context(), q.auth, q.potId, change.Status)
		q.done(w, r, "set pot status", change, err)
	}
}

func Delete(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		err := handler.DeletePot(r.Context(), q.auth, q.potId)
		q.done(w, r, "delete pot", nil, err)
	}
}

func EntryStatus(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		var change entity.EntryStatusChange
		if !q.bind(w, r, &change) {
			return
		}
		err := handler.SetEntryStatus(r.Context(), q.auth, q.potId, q.entryId, change.Status)
		q.done(w, r, "set entry status", change, err)
	}
}

func EntryPaid(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		var override entity.PaidOverride
		if !q.bind(w, r, &override) {
			return
		}
		err := handler.SetEntryPaid(r.Context(), q.auth, q.potId, q.entryId, override.Paid)
		q.done(w, r, "set entry paid", override, err)
	}
}

func RemoveEntry(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		err := handler.RemoveEntry(r.Context(), q.auth, q.potId, q.entryId)
		q.done(w, r, "remove entry", nil, err)
	}
}

func Move(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		var move entity.MoveRequest
		if !q.bind(w, r, &move) {
			return
		}
		entry, err := handler.MoveEntry(r.Context(), q.auth, q.potId, q.entryId, move.ToPotId)
		q.done(w, r, "move entry", entry, err)
	}
}

func RotateCode(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		grant, err := handler.RotateCode(r.Context(), q.auth, q.potId)
		q.done(w, r, "rotate code", grant, err)
	}
}

func RotateLink(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		grant, err := handler.RotateLink(r.Context(), q.auth, q.potId)
		q.done(w, r, "rotate link", grant, err)
	}
}

func Revoke(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		grant, err := handler.RevokeAll(r.Context(), q.auth, q.potId)
		q.done(w, r, "revoke credentials", grant, err)
	}
}

func RosterBinding(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		var binding entity.RosterBinding
		if !q.bind(w, r, &binding) {
			return
		}
		err := handler.BindRoster(r.Context(), q.auth, q.potId, binding.OrgId)
		q.done(w, r, "bind roster", binding, err)
	}
}

func RosterInline(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := newRequest(log, r)
		var update entity.RosterUpdate
		if !q.bind(w, r, &update) {
			return
		}
		emails, err := handler.SetInlineRoster(r.Context(), q.auth, q.potId, update.Emails)
		q.done(w, r, "set inline roster", emails, err)
	}
}
