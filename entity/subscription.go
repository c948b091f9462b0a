package entity

import (
	"net/http"
	"picklepot/lib/validate"
	"strings"
	"time"
)

const (
	PlanIndividual = "individual"
	PlanClub       = "club"
)

// Plan is a subscription price offered to organizers and the limits it buys.
type Plan struct {
	PriceId          string `json:"price_id"`
	Name             string `json:"plan"`
	Interval         string `json:"interval"`
	PotsPerMonth     int    `json:"pots_per_month"`
	MaxUsersPerEvent int    `json:"max_users_per_event"`
}

// NewPlan returns the plan with the limits of its tier.
func NewPlan(priceId, name, interval string) Plan {
	p := Plan{PriceId: priceId, Name: name, Interval: interval}
	switch name {
	case PlanIndividual:
		p.PotsPerMonth, p.MaxUsersPerEvent = 2, 12
	case PlanClub:
		p.PotsPerMonth, p.MaxUsersPerEvent = 10, 64
	}
	return p
}

// PlanCatalog holds the allowed subscription prices keyed by price id.
type PlanCatalog map[string]Plan

// Add registers p; plans without a price id are not offered.
func (c PlanCatalog) Add(p Plan) {
	if p.PriceId != "" {
		c[p.PriceId] = p
	}
}

func (c PlanCatalog) Lookup(priceId string) (Plan, bool) {
	p, ok := c[priceId]
	return p, ok
}

// SubscriptionState is what the gateway reports about an organizer
// subscription.
type SubscriptionState struct {
	Id               string
	CustomerId       string
	Status           string
	CurrentPeriodEnd time.Time
	PriceId          string
	Interval         string
	Amount           Amount
	Currency         string
}

// SubscriptionChange is a subscription lifecycle event. State is nil when
// the event only references the subscription, and Email is empty when the
// event does not carry the customer email.
type SubscriptionChange struct {
	SubscriptionId string
	CustomerId     string
	Email          string
	State          *SubscriptionState
}

// OrganizerSub is the stored subscription of an organizer, kept by email and,
// once activated, by account.
type OrganizerSub struct {
	Email            string    `json:"email" bson:"email"`
	Uid              string    `json:"uid,omitempty" bson:"uid,omitempty"`
	Status           string    `json:"status" bson:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end" bson:"current_period_end"`
	CustomerId       string    `json:"stripe_customer_id" bson:"stripe_customer_id"`
	SubscriptionId   string    `json:"stripe_subscription_id" bson:"stripe_subscription_id"`
	PriceId          string    `json:"price_id" bson:"price_id"`
	Interval         string    `json:"interval" bson:"interval"`
	Amount           Amount    `json:"amount_cents" bson:"amount_cents"`
	Currency         string    `json:"currency" bson:"currency"`
	Plan             string    `json:"plan,omitempty" bson:"plan,omitempty"`
	PotsPerMonth     int       `json:"pots_per_month,omitempty" bson:"pots_per_month,omitempty"`
	MaxUsersPerEvent int       `json:"max_users_per_event,omitempty" bson:"max_users_per_event,omitempty"`
	Updated          time.Time `json:"updated_at" bson:"updated_at"`
}

// Active reports whether the subscription still grants its plan limits.
// Past-due subscriptions keep their limits while the gateway retries.
func (s *OrganizerSub) Active() bool {
	switch s.Status {
	case "active", "trialing", "past_due":
		return true
	}
	return false
}

// Apply copies the gateway state onto s, taking plan limits from the catalog.
func (s *OrganizerSub) Apply(st *SubscriptionState, plans PlanCatalog) {
	s.Status = st.Status
	s.CurrentPeriodEnd = st.CurrentPeriodEnd
	if st.CustomerId != "" {
		s.CustomerId = st.CustomerId
	}
	s.SubscriptionId = st.Id
	s.PriceId = st.PriceId
	s.Interval = st.Interval
	s.Amount = st.Amount
	s.Currency = st.Currency
	s.Plan, s.PotsPerMonth, s.MaxUsersPerEvent = "", 0, 0
	if plan, ok := plans.Lookup(st.PriceId); ok {
		if s.Interval == "" {
			s.Interval = plan.Interval
		}
		s.Plan = plan.Name
		s.PotsPerMonth = plan.PotsPerMonth
		s.MaxUsersPerEvent = plan.MaxUsersPerEvent
	}
}

// SubscriptionCheckout is the organizer's request to subscribe to a plan.
type SubscriptionCheckout struct {
	PriceId string `json:"price_id" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	RedirectTargets
}

func (c *SubscriptionCheckout) Bind(_ *http.Request) error {
	c.PriceId = strings.TrimSpace(c.PriceId)
	c.Email = strings.TrimSpace(c.Email)
	return validate.Struct(c)
}

// SubscriptionSession is the gateway session for a plan purchase.
type SubscriptionSession struct {
	Id      string `json:"id"`
	Url     string `json:"url"`
	PriceId string `json:"price_id"`
}

// ActivateRequest attaches the subscription bought with Email to the
// calling account.
type ActivateRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (a *ActivateRequest) Bind(_ *http.Request) error {
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	return validate.Struct(a)
}
