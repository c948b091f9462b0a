// Package pots covers the pot lifecycle and the owner-gated overrides on
// individual entries.
package pots

import (
	"context"
	"errors"
	"log/slog"
	"picklepot/entity"
	"picklepot/lib/clock"
	"picklepot/lib/sl"
	"time"
)

type Database interface {
	CreatePot(ctx context.Context, pot *entity.Pot) error
	GetPot(ctx context.Context, id string) (*entity.Pot, error)
	UpdatePot(ctx context.Context, pot *entity.Pot) error
	SetPotStatus(ctx context.Context, id string, status entity.PotStatus) error
	DeletePot(ctx context.Context, id string) error
	CountPotsSince(ctx context.Context, ownerUid string, since time.Time) (int64, error)
	SaveDraft(ctx context.Context, draft *entity.Pot) error
	GetDraft(ctx context.Context, id string) (*entity.Pot, error)
	DeleteDraft(ctx context.Context, id string) error
	GetEntry(ctx context.Context, potId, entryId string) (*entity.Entry, error)
	ListEntries(ctx context.Context, potId string) ([]*entity.Entry, error)
	SetEntryStatus(ctx context.Context, potId, entryId string, status entity.EntryStatus) error
	SetEntryPaid(ctx context.Context, potId, entryId string, paid bool, at time.Time) error
	DeleteEntry(ctx context.Context, potId, entryId string) error
	DeleteUnpaidEntry(ctx context.Context, potId, entryId string) (bool, error)
	GetJoinSession(ctx context.Context, sessionId string) (*entity.JoinSession, error)
	DeleteJoinSession(ctx context.Context, sessionId string) error
}

type CredentialIssuer interface {
	IssueInitial(potId string) (entity.Credential, *entity.OwnerGrant, error)
}

type Checkout interface {
	BeginPotCheckout(ctx context.Context, draft *entity.Pot, price entity.Amount, email string, targets entity.RedirectTargets) (*entity.CheckoutSession, error)
}

// Plans resolves the subscription limits of an organizer account.
type Plans interface {
	AccountPlan(ctx context.Context, uid string) (*entity.OrganizerSub, error)
}

type Created struct {
	Pot   *entity.Pot        `json:"pot"`
	Grant *entity.OwnerGrant `json:"owner"`
}

type PendingPot struct {
	DraftId string                  `json:"draft_id"`
	Session *entity.CheckoutSession `json:"session"`
	Grant   *entity.OwnerGrant      `json:"owner"`
}

type Service struct {
	db       Database
	cred     CredentialIssuer
	checkout Checkout
	plans    Plans
	duration time.Duration
	price    entity.Amount
	now      clock.Clock
	newId    func() string
	log      *slog.Logger
}

func New(db Database, cred CredentialIssuer, checkout Checkout, duration time.Duration, price entity.Amount, newId func() string, log *slog.Logger) *Service {
	return &Service{
		db:       db,
		cred:     cred,
		checkout: checkout,
		duration: duration,
		price:    price,
		now:      clock.System,
		newId:    newId,
		log:      log.With(sl.Module("pots")),
	}
}

func (s *Service) SetClock(c clock.Clock) {
	s.now = c
}

func (s *Service) SetPlans(plans Plans) {
	s.plans = plans
}

func (s *Service) build(draft *entity.PotDraft) (*entity.Pot, *entity.OwnerGrant, error) {
	pot, err := draft.NewPot(s.newId(), s.now(), s.duration)
	if err != nil {
		return nil, nil, err
	}
	cred, grant, err := s.cred.IssueInitial(pot.Id)
	if err != nil {
		return nil, nil, entity.Internal(err)
	}
	pot.Owner = cred
	return pot, grant, nil
}

// Create opens a pot without payment. The grant is the only time the
// plaintext owner code leaves the engine.
func (s *Service) Create(ctx context.Context, draft *entity.PotDraft) (*Created, error) {
	pot, grant, err := s.build(draft)
	if err != nil {
		return nil, err
	}
	if err = s.db.CreatePot(ctx, pot); err != nil {
		return nil, err
	}
	s.log.With(sl.Pot(pot.Id), slog.String("name", pot.Name)).Info("pot created")
	return &Created{Pot: pot, Grant: grant}, nil
}

// CreateOwned opens a pot for a subscribed organizer account. The plan caps
// the pots opened per calendar month (UTC) and the entries of each pot.
func (s *Service) CreateOwned(ctx context.Context, uid string, draft *entity.PotDraft) (*Created, error) {
	if s.plans == nil {
		return nil, entity.ErrInactivePlan
	}
	sub, err := s.plans.AccountPlan(ctx, uid)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if sub.PotsPerMonth > 0 {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		opened, err := s.db.CountPotsSince(ctx, uid, monthStart)
		if err != nil {
			return nil, err
		}
		if opened >= int64(sub.PotsPerMonth) {
			s.log.With(slog.String("uid", uid), slog.Int64("opened", opened)).Info("monthly pot allowance used")
			return nil, entity.ErrPotQuota
		}
	}

	pot, grant, err := s.build(draft)
	if err != nil {
		return nil, err
	}
	pot.OwnerUid = uid
	pot.MaxEntries = sub.MaxUsersPerEvent
	if err = s.db.CreatePot(ctx, pot); err != nil {
		return nil, err
	}
	s.log.With(
		sl.Pot(pot.Id),
		slog.String("uid", uid),
		slog.String("plan", sub.Plan),
		slog.Int("max_entries", pot.MaxEntries),
	).Info("pot created")
	return &Created{Pot: pot, Grant: grant}, nil
}

// BeginCheckout stores a pot draft and starts the organizer's payment. The
// pot opens when the payment is reconciled.
func (s *Service) BeginCheckout(ctx context.Context, req *entity.PotCheckout) (*PendingPot, error) {
	pot, grant, err := s.build(req.Draft)
	if err != nil {
		return nil, err
	}
	pot.Status = entity.PotHold
	pot.Source = entity.SourceCheckout
	if err = s.db.SaveDraft(ctx, pot); err != nil {
		return nil, err
	}
	sess, err := s.checkout.BeginPotCheckout(ctx, pot, s.price, req.Email, req.RedirectTargets)
	if err != nil {
		if derr := s.db.DeleteDraft(ctx, pot.Id); derr != nil {
			s.log.With(sl.Err(derr)).Warn("drop draft after failed checkout")
		}
		return nil, err
	}
	return &PendingPot{DraftId: pot.Id, Session: sess, Grant: grant}, nil
}

// CancelCheckout drops a draft whose payment was abandoned. A draft that was
// already turned into a pot is left alone.
func (s *Service) CancelCheckout(ctx context.Context, draftId string) error {
	if _, err := s.db.GetPot(ctx, draftId); err == nil {
		return nil
	}
	err := s.db.DeleteDraft(ctx, draftId)
	if err != nil && !errors.Is(err, entity.ErrDraftNotFound) {
		return err
	}
	return nil
}

func (s *Service) Get(ctx context.Context, potId string) (*entity.Pot, error) {
	return s.db.GetPot(ctx, potId)
}

func (s *Service) Entries(ctx context.Context, auth *entity.OwnerAuth, potId string) ([]*entity.Entry, error) {
	if err := auth.Require(potId); err != nil {
		return nil, err
	}
	return s.db.ListEntries(ctx, potId)
}

// Edit replaces the editable settings of a pot with the draft. Status,
// credentials and origin stay as they are.
func (s *Service) Edit(ctx context.Context, auth *entity.OwnerAuth, potId string, draft *entity.PotDraft) (*entity.Pot, error) {
	if err := auth.Require(potId); err != nil {
		return nil, err
	}
	pot, err := s.db.GetPot(ctx, potId)
	if err != nil {
		return nil, err
	}
	if err = draft.Apply(pot); err != nil {
		return nil, err
	}
	if err = pot.Normalize(s.duration); err != nil {
		return nil, err
	}
	if err = s.db.UpdatePot(ctx, pot); err != nil {
		return nil, err
	}
	s.log.With(sl.Pot(potId)).Info("pot edited")
	return pot, nil
}

func (s *Service) SetStatus(ctx context.Context, auth *entity.OwnerAuth, potId string, status entity.PotStatus) error {
	if err := auth.Require(potId); err != nil {
		return err
	}
	if !status.Valid() {
		return entity.Validation("unknown pot status %q", status)
	}
	if err := s.db.SetPotStatus(ctx, potId, status); err != nil {
		return err
	}
	s.log.With(sl.Pot(potId), slog.String("status", string(status))).Info("pot status changed")
	return nil
}

func (s *Service) Delete(ctx context.Context, auth *entity.OwnerAuth, potId string) error {
	if err := auth.Require(potId); err != nil {
		return err
	}
	if err := s.db.DeletePot(ctx, potId); err != nil {
		return err
	}
	s.log.With(sl.Pot(potId), sl.Topic(entity.TopicLedger)).Info("pot deleted")
	return nil
}

func (s *Service) SetEntryStatus(ctx context.Context, auth *entity.OwnerAuth, potId, entryId string, status entity.EntryStatus) error {
	if err := auth.Require(potId); err != nil {
		return err
	}
	if status != entity.EntryActive && status != entity.EntryHold {
		return entity.Validation("unknown entry status %q", status)
	}
	if err := s.db.SetEntryStatus(ctx, potId, entryId, status); err != nil {
		return err
	}
	s.log.With(sl.Pot(potId), sl.Entry(entryId), slog.String("status", string(status))).Info("entry status changed")
	return nil
}

// SetEntryPaid is the manual override for offline payments and refunds. It
// is the only path that may clear the paid flag.
func (s *Service) SetEntryPaid(ctx context.Context, auth *entity.OwnerAuth, potId, entryId string, paid bool) error {
	if err := auth.Require(potId); err != nil {
		return err
	}
	if err := s.db.SetEntryPaid(ctx, potId, entryId, paid, s.now()); err != nil {
		return err
	}
	s.log.With(
		sl.Pot(potId),
		sl.Entry(entryId),
		slog.Bool("paid", paid),
		sl.Topic(entity.TopicLedger),
	).Info("entry paid flag overridden")
	return nil
}

func (s *Service) RemoveEntry(ctx context.Context, auth *entity.OwnerAuth, potId, entryId string) error {
	if err := auth.Require(potId); err != nil {
		return err
	}
	if err := s.db.DeleteEntry(ctx, potId, entryId); err != nil {
		return err
	}
	s.log.With(sl.Pot(potId), sl.Entry(entryId)).Info("entry removed")
	return nil
}

// CancelJoin removes an entry whose gateway checkout was abandoned. The
// caller must present the session id recorded when the checkout began, and
// only unpaid card entries are removed; offline entries never went through
// the gateway. The result reports whether anything was deleted.
func (s *Service) CancelJoin(ctx context.Context, potId, entryId, sessionId string) (bool, error) {
	if sessionId == "" {
		return false, entity.Validation("missing session id")
	}
	log := s.log.With(sl.Pot(potId), sl.Entry(entryId), slog.String("session_id", sessionId))
	js, err := s.db.GetJoinSession(ctx, sessionId)
	if errors.Is(err, entity.ErrSessionNotFound) {
		log.Debug("cancel for unknown session")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if js.PotId != potId || js.EntryId != entryId {
		log.With(sl.Topic(entity.TopicSecurity)).Warn("cancel with a session of another entry")
		return false, nil
	}

	entry, err := s.db.GetEntry(ctx, potId, entryId)
	if errors.Is(err, entity.ErrEntryNotFound) {
		return false, s.db.DeleteJoinSession(ctx, sessionId)
	}
	if err != nil {
		return false, err
	}
	if entry.Method != entity.MethodStripe {
		return false, nil
	}
	removed, err := s.db.DeleteUnpaidEntry(ctx, potId, entryId)
	if err != nil && !errors.Is(err, entity.ErrEntryNotFound) {
		return false, err
	}
	if err = s.db.DeleteJoinSession(ctx, sessionId); err != nil {
		log.With(sl.Err(err)).Warn("delete join session")
	}
	if removed {
		log.Info("abandoned entry removed")
	}
	return removed, nil
}
