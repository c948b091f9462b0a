// Package reconcile applies gateway payment confirmations to pot entries.
//
// Delivery is at-least-once. The paid transition is guarded by a "not yet
// paid" precondition in the store, so a redelivered or reordered event is a
// no-op and no deduplication table is kept.
//
// Once an event is authenticated the gateway is acknowledged even when the
// local write fails: the failure is logged for operators instead. This
// avoids retry storms that look like duplicate charges, at the cost of
// relying on an operator to repair the entry. Setting strict mode reports
// write failures so the gateway redelivers; the paid guard keeps that safe.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"picklepot/entity"
	"picklepot/lib/clock"
	"picklepot/lib/sl"
)

type Verifier interface {
	ParseEvent(payload []byte, header string) (*entity.GatewayEvent, error)
}

type Database interface {
	MarkPaid(ctx context.Context, potId, entryId string, rec entity.PaymentRecord) (bool, error)
	GetEntry(ctx context.Context, potId, entryId string) (*entity.Entry, error)
	FindRelocated(ctx context.Context, potId, entryId string) (*entity.Entry, error)
	GetPot(ctx context.Context, id string) (*entity.Pot, error)
	CreatePot(ctx context.Context, pot *entity.Pot) error
	GetDraft(ctx context.Context, id string) (*entity.Pot, error)
	DeleteDraft(ctx context.Context, id string) error
}

type Subscriptions interface {
	Apply(ctx context.Context, c *entity.SubscriptionChange) (*entity.OrganizerSub, error)
}

type Notifier interface {
	Enqueue(ctx context.Context, n *entity.Notification) error
}

type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeCreated      Outcome = "created"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeUncorrelated Outcome = "uncorrelated"
	OutcomePending      Outcome = "pending"
	OutcomeFailed       Outcome = "failed"
	OutcomeRetry        Outcome = "retry"
	OutcomeSubscription Outcome = "subscription"
)

type Result struct {
	EventId string  `json:"event_id"`
	Type    string  `json:"type"`
	Outcome Outcome `json:"outcome"`
	PotId   string  `json:"pot_id,omitempty"`
	EntryId string  `json:"entry_id,omitempty"`
}

type Processor struct {
	gw     Verifier
	db     Database
	notify Notifier
	subs   Subscriptions
	strict bool
	now    clock.Clock
	newId  func() string
	log    *slog.Logger
}

func New(gw Verifier, db Database, notify Notifier, strict bool, newId func() string, log *slog.Logger) *Processor {
	return &Processor{
		gw:     gw,
		db:     db,
		notify: notify,
		strict: strict,
		now:    clock.System,
		newId:  newId,
		log:    log.With(sl.Module("reconcile")),
	}
}

func (p *Processor) SetClock(c clock.Clock) {
	p.now = c
}

func (p *Processor) SetSubscriptions(subs Subscriptions) {
	p.subs = subs
}

// HandleGatewayEvent authenticates and applies one callback. A returned
// error means the event was not accepted (bad signature or payload, an entry
// caught mid-relocation, or a write failure in strict mode); otherwise the
// caller acknowledges.
func (p *Processor) HandleGatewayEvent(ctx context.Context, payload []byte, signature string) (*Result, error) {
	evt, err := p.gw.ParseEvent(payload, signature)
	if err != nil {
		return nil, err
	}
	res := &Result{EventId: evt.Id, Type: evt.Type}
	log := p.log.With(
		slog.String("event_id", evt.Id),
		slog.String("type", evt.Type),
	)

	if evt.Subscription != nil && p.subs != nil {
		return res, p.applySubscription(ctx, evt.Subscription, res, log)
	}

	c := evt.Completion
	if c == nil {
		res.Outcome = OutcomeIgnored
		log.Debug("ignored event")
		return res, nil
	}
	log = log.With(slog.String("session_id", c.SessionId))

	if c.Flow == entity.FlowCreate {
		err = p.materialize(ctx, c, res, log)
	} else {
		err = p.applyJoin(ctx, c, res, log)
	}
	if errors.Is(err, entity.ErrRelocating) {
		res.Outcome = OutcomeRetry
		log.With(sl.Pot(res.PotId), sl.Entry(res.EntryId)).Warn("entry is being relocated, asking for redelivery")
		return res, err
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		log.With(
			sl.Err(err),
			sl.Pot(res.PotId),
			sl.Entry(res.EntryId),
			slog.String("amount", c.Amount.String()),
			sl.Topic(entity.TopicPayment),
		).Error("payment confirmed by gateway but not stored; needs operator follow-up")
		if p.strict {
			return res, entity.Internal(err)
		}
	}
	return res, nil
}

func (p *Processor) applyJoin(ctx context.Context, c *entity.Completion, res *Result, log *slog.Logger) error {
	res.PotId, res.EntryId = c.PotId, c.EntryId
	if c.PotId == "" || c.EntryId == "" {
		res.Outcome = OutcomeUncorrelated
		log.Warn("completion without pot or entry reference")
		return nil
	}
	if !c.Paid {
		res.Outcome = OutcomePending
		log.Info("checkout completed, payment still pending")
		return nil
	}

	rec := entity.PaymentRecord{
		Amount:          c.Amount,
		At:              p.now(),
		SessionId:       c.SessionId,
		PaymentIntentId: c.PaymentIntentId,
	}
	applied, err := p.db.MarkPaid(ctx, c.PotId, c.EntryId, rec)
	if errors.Is(err, entity.ErrEntryNotFound) || errors.Is(err, entity.ErrRelocating) {
		moved, ferr := p.db.FindRelocated(ctx, c.PotId, c.EntryId)
		if ferr != nil {
			if errors.Is(ferr, entity.ErrEntryNotFound) && errors.Is(err, entity.ErrRelocating) {
				// the copy is not written yet; a redelivery will find it
				return err
			}
			if errors.Is(ferr, entity.ErrEntryNotFound) {
				res.Outcome = OutcomeUncorrelated
				log.With(
					sl.Pot(c.PotId),
					sl.Entry(c.EntryId),
					sl.Topic(entity.TopicPayment),
				).Error("payment for unknown entry")
				return nil
			}
			return ferr
		}
		res.PotId, res.EntryId = moved.PotId, moved.Id
		applied, err = p.db.MarkPaid(ctx, moved.PotId, moved.Id, rec)
	}
	if err != nil {
		return err
	}
	if !applied {
		res.Outcome = OutcomeDuplicate
		log.With(sl.Pot(res.PotId), sl.Entry(res.EntryId)).Info("entry already paid")
		return nil
	}

	res.Outcome = OutcomeApplied
	log.With(
		sl.Pot(res.PotId),
		sl.Entry(res.EntryId),
		slog.String("amount", c.Amount.String()),
		sl.Topic(entity.TopicPayment),
	).Info("entry paid")
	p.enqueuePaid(ctx, res.PotId, res.EntryId, c.Amount, log)
	return nil
}

// applySubscription records an organizer plan change. Failures follow the
// same acknowledgement policy as entry payments.
func (p *Processor) applySubscription(ctx context.Context, c *entity.SubscriptionChange, res *Result, log *slog.Logger) error {
	log = log.With(slog.String("subscription_id", c.SubscriptionId))
	sub, err := p.subs.Apply(ctx, c)
	if err != nil {
		res.Outcome = OutcomeFailed
		log.With(sl.Err(err), sl.Topic(entity.TopicPayment)).Error("subscription change not stored")
		if p.strict {
			return entity.Internal(err)
		}
		return nil
	}
	if sub == nil {
		res.Outcome = OutcomeUncorrelated
		return nil
	}
	res.Outcome = OutcomeSubscription
	return nil
}

func (p *Processor) enqueuePaid(ctx context.Context, potId, entryId string, amount entity.Amount, log *slog.Logger) {
	if p.notify == nil {
		return
	}
	entry, err := p.db.GetEntry(ctx, potId, entryId)
	if err != nil || entry.Email == "" {
		return
	}
	n := &entity.Notification{
		Id:      p.newId(),
		Kind:    entity.NotifyPaymentReceived,
		PotId:   potId,
		EntryId: entryId,
		To:      entry.Email,
		Data:    map[string]string{"name": entry.Name, "amount": amount.String()},
		Status:  "queued",
		Created: p.now(),
	}
	if err = p.notify.Enqueue(ctx, n); err != nil {
		log.With(sl.Err(err)).Warn("enqueue payment notification")
	}
}

// materialize turns a paid pot draft into an open pot. The pot keeps the
// draft id, so a redelivered event finds it and stops.
func (p *Processor) materialize(ctx context.Context, c *entity.Completion, res *Result, log *slog.Logger) error {
	res.PotId = c.DraftId
	if c.DraftId == "" {
		res.Outcome = OutcomeUncorrelated
		log.Warn("pot checkout without draft reference")
		return nil
	}
	if !c.Paid {
		res.Outcome = OutcomePending
		return nil
	}
	if _, err := p.db.GetPot(ctx, c.DraftId); err == nil {
		res.Outcome = OutcomeDuplicate
		return nil
	} else if !errors.Is(err, entity.ErrPotNotFound) {
		return err
	}

	draft, err := p.db.GetDraft(ctx, c.DraftId)
	if errors.Is(err, entity.ErrDraftNotFound) {
		res.Outcome = OutcomeUncorrelated
		log.With(
			slog.String("draft_id", c.DraftId),
			sl.Topic(entity.TopicPayment),
		).Error("paid pot creation for unknown draft")
		return nil
	}
	if err != nil {
		return err
	}

	draft.Status = entity.PotOpen
	draft.Source = entity.SourceCheckout
	draft.StripeSessionId = c.SessionId
	draft.Created = p.now()
	if err = p.db.CreatePot(ctx, draft); err != nil {
		if errors.Is(err, entity.ErrPotExists) {
			res.Outcome = OutcomeDuplicate
			return nil
		}
		return err
	}
	if err = p.db.DeleteDraft(ctx, draft.Id); err != nil {
		log.With(sl.Err(err)).Warn("delete materialized draft")
	}
	res.Outcome = OutcomeCreated
	log.With(sl.Pot(draft.Id), sl.Topic(entity.TopicPayment)).Info("pot created from paid draft")
	return nil
}
