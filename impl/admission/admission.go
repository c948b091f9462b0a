// Package admission validates and commits new pot entries.
//
// The duplicate check runs twice: a read before the write gives a precise
// rejection, and the store's identity guard (a unique index on the
// normalized name and email in MongoDB) rejects the loser of two concurrent
// admissions that both passed the read.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"picklepot/entity"
	"picklepot/lib/clock"
	"picklepot/lib/sl"
	"time"

	"github.com/google/uuid"
)

type Database interface {
	GetPot(ctx context.Context, id string) (*entity.Pot, error)
	FindIdentity(ctx context.Context, potId, nameKey, emailKey string) (*entity.Entry, error)
	InsertEntry(ctx context.Context, entry *entity.Entry) error
	CountEntries(ctx context.Context, potId string) (int64, error)
}

type RosterResolver interface {
	Resolve(ctx context.Context, potId string) (*entity.Roster, error)
}

type Gate struct {
	db     Database
	roster RosterResolver
	now    clock.Clock
	log    *slog.Logger
}

func New(db Database, roster RosterResolver, log *slog.Logger) *Gate {
	return &Gate{
		db:     db,
		roster: roster,
		now:    clock.System,
		log:    log.With(sl.Module("admission")),
	}
}

func (g *Gate) SetClock(c clock.Clock) {
	g.now = c
}

// Admit validates the draft against the pot and writes a pending entry.
// It never starts a payment.
func (g *Gate) Admit(ctx context.Context, potId string, draft *entity.EntryDraft) (*entity.Entry, error) {
	pot, err := g.db.GetPot(ctx, potId)
	if err != nil {
		return nil, err
	}
	now := g.now()
	if err = pot.CheckOpen(now); err != nil {
		return nil, err
	}
	if err = g.CheckCapacity(ctx, pot); err != nil {
		return nil, err
	}

	entry, err := g.prepare(pot, draft, now)
	if err != nil {
		return nil, err
	}
	if err = g.checkRoster(ctx, pot.Id, entry); err != nil {
		return nil, err
	}
	if err = g.CheckDuplicate(ctx, pot.Id, entry.NameKey, entry.EmailKey); err != nil {
		return nil, err
	}
	if err = g.db.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}

	g.log.With(
		sl.Pot(pot.Id),
		sl.Entry(entry.Id),
		slog.String("class", string(entry.Class)),
		slog.String("method", string(entry.Method)),
		slog.String("buyin", entry.BuyIn.String()),
	).Info("entry admitted")
	return entry, nil
}

func (g *Gate) prepare(pot *entity.Pot, draft *entity.EntryDraft, now time.Time) (*entity.Entry, error) {
	if draft == nil {
		return nil, entity.Validation("missing entry")
	}
	nameKey := entity.NormalizeKey(draft.Name)
	if nameKey == "" {
		return nil, entity.Validation("name is required")
	}
	buyIn, ok := pot.BuyIn.For(draft.Class)
	if !ok {
		return nil, entity.Validation("unknown participant class %q", draft.Class)
	}
	method, ok := entity.ParseMethod(draft.Method)
	if !ok {
		return nil, entity.Validation("unknown payment method %q", draft.Method)
	}
	if !pot.Methods.Allows(method) {
		return nil, entity.ErrMethodDisabled
	}
	tier, ok := entity.ParseTier(draft.Skill)
	if !ok {
		return nil, entity.Validation("unknown skill %q", draft.Skill)
	}
	if !pot.Tier.Admits(tier) {
		return nil, entity.ErrIneligible
	}

	entry := &entity.Entry{
		Id:       uuid.NewString(),
		PotId:    pot.Id,
		Name:     draft.Name,
		NameKey:  nameKey,
		Email:    draft.Email,
		EmailKey: entity.NormalizeKey(draft.Email),
		Class:    draft.Class,
		Tier:     tier,
		Method:   method,
		BuyIn:    buyIn,
		Created:  now,
	}
	entry.SetStatus(entity.EntryActive)
	return entry, nil
}

// checkRoster requires members of a rostered pot to appear on the roster.
func (g *Gate) checkRoster(ctx context.Context, potId string, entry *entity.Entry) error {
	if g.roster == nil || entry.Class != entity.ClassMember {
		return nil
	}
	r, err := g.roster.Resolve(ctx, potId)
	if err != nil {
		return fmt.Errorf("resolve roster: %w", err)
	}
	if len(r.Emails) == 0 {
		return nil
	}
	if entry.EmailKey == "" || !r.Contains(entry.EmailKey) {
		return entity.ErrNotOnRoster
	}
	return nil
}

// CheckCapacity rejects a new entry when the pot is capped by its organizer's
// plan and already full.
func (g *Gate) CheckCapacity(ctx context.Context, pot *entity.Pot) error {
	if pot.MaxEntries <= 0 {
		return nil
	}
	held, err := g.db.CountEntries(ctx, pot.Id)
	if err != nil {
		return fmt.Errorf("count entries: %w", err)
	}
	return pot.CheckCapacity(held)
}

// CheckDuplicate rejects an identity already held by an entry of the pot.
// Relocation reuses it against the target pot.
func (g *Gate) CheckDuplicate(ctx context.Context, potId, nameKey, emailKey string) error {
	existing, err := g.db.FindIdentity(ctx, potId, nameKey, emailKey)
	if err != nil {
		return fmt.Errorf("find identity: %w", err)
	}
	if existing == nil {
		return nil
	}
	if emailKey != "" && existing.EmailKey == emailKey {
		return entity.ErrDuplicateEmail
	}
	return entity.ErrDuplicateName
}
