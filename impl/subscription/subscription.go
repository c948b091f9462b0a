// Package subscription keeps organizer plan subscriptions in step with the
// payment gateway and hands their limits to pot creation.
//
// Subscriptions are bought anonymously and recorded under the lowercased
// customer email. An organizer account claims one by activating it with
// that email; later lifecycle events refresh both records.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"picklepot/entity"
	"picklepot/lib/clock"
	"picklepot/lib/sl"
	"sort"
	"strings"
)

// statusDetached marks an account record whose subscription was claimed by
// another account.
const statusDetached = "detached"

type Gateway interface {
	CreateSubscriptionSession(ctx context.Context, req *entity.SubscriptionCheckout) (*entity.SubscriptionSession, error)
	RetrieveSubscription(ctx context.Context, id string) (*entity.SubscriptionState, error)
	CustomerEmail(ctx context.Context, customerId string) (string, error)
}

type Database interface {
	SaveOrganizerSub(ctx context.Context, sub *entity.OrganizerSub) error
	GetOrganizerSub(ctx context.Context, email string) (*entity.OrganizerSub, error)
	SaveAccountSub(ctx context.Context, sub *entity.OrganizerSub) error
	GetAccountSub(ctx context.Context, uid string) (*entity.OrganizerSub, error)
}

type Service struct {
	gw    Gateway
	db    Database
	plans entity.PlanCatalog
	now   clock.Clock
	log   *slog.Logger
}

func New(gw Gateway, db Database, plans entity.PlanCatalog, log *slog.Logger) *Service {
	return &Service{
		gw:    gw,
		db:    db,
		plans: plans,
		now:   clock.System,
		log:   log.With(sl.Module("subscription")),
	}
}

func (s *Service) SetClock(c clock.Clock) {
	s.now = c
}

// Plans lists the offered plans.
func (s *Service) Plans() []entity.Plan {
	out := make([]entity.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Interval < out[j].Interval
	})
	return out
}

// BeginCheckout starts a plan purchase. Only catalog prices are accepted.
func (s *Service) BeginCheckout(ctx context.Context, req *entity.SubscriptionCheckout) (*entity.SubscriptionSession, error) {
	if _, ok := s.plans.Lookup(req.PriceId); !ok {
		s.log.With(slog.String("price_id", req.PriceId)).Warn("checkout for unknown plan")
		return nil, entity.ErrUnknownPlan
	}
	return s.gw.CreateSubscriptionSession(ctx, req)
}

// Apply records a subscription lifecycle event. Missing subscription state
// and customer email are fetched from the gateway. It returns nil without
// error when the event cannot be tied to an email.
func (s *Service) Apply(ctx context.Context, c *entity.SubscriptionChange) (*entity.OrganizerSub, error) {
	log := s.log.With(slog.String("subscription_id", c.SubscriptionId))
	if c.SubscriptionId == "" {
		log.Warn("subscription event without subscription id")
		return nil, nil
	}

	state := c.State
	if state == nil {
		var err error
		state, err = s.gw.RetrieveSubscription(ctx, c.SubscriptionId)
		if err != nil {
			return nil, fmt.Errorf("retrieve subscription: %w", err)
		}
	}
	customerId := c.CustomerId
	if customerId == "" {
		customerId = state.CustomerId
	}
	email := c.Email
	if email == "" && customerId != "" {
		var err error
		email, err = s.gw.CustomerEmail(ctx, customerId)
		if err != nil {
			return nil, fmt.Errorf("customer email: %w", err)
		}
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		log.With(slog.String("customer_id", customerId)).Warn("subscription event without customer email")
		return nil, nil
	}

	sub, err := s.db.GetOrganizerSub(ctx, email)
	if errors.Is(err, entity.ErrNoSubscription) {
		sub = &entity.OrganizerSub{Email: email}
	} else if err != nil {
		return nil, err
	}
	sub.Apply(state, s.plans)
	if sub.CustomerId == "" {
		sub.CustomerId = customerId
	}
	sub.Updated = s.now()
	if err = s.db.SaveOrganizerSub(ctx, sub); err != nil {
		return nil, err
	}
	if sub.Uid != "" {
		if err = s.db.SaveAccountSub(ctx, sub); err != nil {
			return nil, err
		}
	}

	log.With(
		slog.String("status", sub.Status),
		slog.String("plan", sub.Plan),
		slog.String("uid", sub.Uid),
		sl.Topic(entity.TopicPayment),
	).Info("organizer subscription updated")
	return sub, nil
}

// Activate attaches the subscription bought with email to the account uid.
// Only an active, trialing or past-due subscription can be attached.
func (s *Service) Activate(ctx context.Context, uid, email string) (*entity.OrganizerSub, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if uid == "" || email == "" {
		return nil, entity.Validation("missing uid or email")
	}
	log := s.log.With(slog.String("uid", uid))

	sub, err := s.db.GetOrganizerSub(ctx, email)
	if err != nil {
		return nil, err
	}
	if !sub.Active() {
		return nil, entity.ErrInactivePlan.Wrap(fmt.Errorf("status=%s", sub.Status))
	}
	if sub.Uid != "" && sub.Uid != uid {
		previous := *sub
		previous.Status = statusDetached
		previous.Updated = s.now()
		if err = s.db.SaveAccountSub(ctx, &previous); err != nil {
			return nil, err
		}
		log.With(slog.String("previous_uid", sub.Uid), sl.Topic(entity.TopicSecurity)).Warn("subscription moved to another account")
	}
	sub.Uid = uid
	sub.Updated = s.now()
	if err = s.db.SaveOrganizerSub(ctx, sub); err != nil {
		return nil, err
	}
	if err = s.db.SaveAccountSub(ctx, sub); err != nil {
		return nil, err
	}
	log.With(slog.String("plan", sub.Plan)).Info("subscription attached to account")
	return sub, nil
}

// AccountPlan returns the subscription of an account while it grants limits.
func (s *Service) AccountPlan(ctx context.Context, uid string) (*entity.OrganizerSub, error) {
	sub, err := s.db.GetAccountSub(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !sub.Active() {
		return nil, entity.ErrInactivePlan.Wrap(fmt.Errorf("status=%s", sub.Status))
	}
	return sub, nil
}
