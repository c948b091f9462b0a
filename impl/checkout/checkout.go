package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"picklepot/entity"
	"picklepot/lib/clock"
	"picklepot/lib/sl"
)

// Gateway is the external checkout capability.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req *entity.CheckoutRequest) (*entity.CheckoutSession, error)
	MinimumAmount() entity.Amount
}

// Sessions records which entry a join session belongs to.
type Sessions interface {
	SaveJoinSession(ctx context.Context, js *entity.JoinSession) error
}

type Orchestrator struct {
	gw       Gateway
	sessions Sessions
	now      clock.Clock
	log      *slog.Logger
}

func New(gw Gateway, sessions Sessions, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		gw:       gw,
		sessions: sessions,
		now:      clock.System,
		log:      log.With(sl.Module("checkout")),
	}
}

func (o *Orchestrator) SetClock(c clock.Clock) {
	o.now = c
}

// BeginPayment opens a gateway session for an unpaid entry and returns the
// redirect target. The entry stays unpaid until reconciliation; nothing is
// retried here. The session to entry mapping is stored apart from the entry so
// the cancel path can prove the caller came back from this session.
func (o *Orchestrator) BeginPayment(ctx context.Context, pot *entity.Pot, entry *entity.Entry, targets entity.RedirectTargets) (*entity.CheckoutSession, error) {
	if pot == nil || entry == nil || entry.PotId != pot.Id {
		return nil, entity.ErrEntryNotFound
	}
	if entry.Method != entity.MethodStripe || !pot.Methods.Allows(entity.MethodStripe) {
		return nil, entity.ErrMethodDisabled
	}
	if entry.Paid {
		return nil, entity.ErrAlreadyPaid
	}
	if err := o.checkAmount(entry.BuyIn); err != nil {
		return nil, err
	}

	req := &entity.CheckoutRequest{
		Flow:            entity.FlowJoin,
		PotId:           pot.Id,
		EntryId:         entry.Id,
		Amount:          entry.BuyIn,
		Description:     fmt.Sprintf("Join %s - %s", potLabel(pot), entry.Name),
		Email:           entry.Email,
		RedirectTargets: targets,
	}
	sess, err := o.gw.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, err
	}
	log := o.log.With(
		sl.Pot(pot.Id),
		sl.Entry(entry.Id),
		slog.String("session_id", sess.Id),
	)
	if o.sessions != nil {
		js := &entity.JoinSession{SessionId: sess.Id, PotId: pot.Id, EntryId: entry.Id, Created: o.now()}
		if err = o.sessions.SaveJoinSession(ctx, js); err != nil {
			// payment still works; only the cancel shortcut is lost
			log.With(sl.Err(err)).Warn("record join session")
		}
	}
	log.With(slog.String("amount", entry.BuyIn.String())).Info("payment started")
	return sess, nil
}

// BeginPotCheckout charges the organizer for creating a pot from a stored draft.
func (o *Orchestrator) BeginPotCheckout(ctx context.Context, draft *entity.Pot, price entity.Amount, email string, targets entity.RedirectTargets) (*entity.CheckoutSession, error) {
	if err := o.checkAmount(price); err != nil {
		return nil, err
	}
	req := &entity.CheckoutRequest{
		Flow:            entity.FlowCreate,
		DraftId:         draft.Id,
		Amount:          price,
		Description:     fmt.Sprintf("Create pot - %s", potLabel(draft)),
		Email:           email,
		RedirectTargets: targets,
	}
	sess, err := o.gw.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, err
	}
	o.log.With(
		slog.String("draft_id", draft.Id),
		slog.String("session_id", sess.Id),
	).Info("pot checkout started")
	return sess, nil
}

// checkAmount rejects amounts below the gateway floor without calling it.
func (o *Orchestrator) checkAmount(amount entity.Amount) error {
	if amount <= 0 || amount < o.gw.MinimumAmount() {
		return entity.ErrAmountTooSmall
	}
	return nil
}

func potLabel(p *entity.Pot) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Id
}
