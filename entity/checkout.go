package entity

import (
	"net/http"
	"picklepot/lib/validate"
	"time"
)

// Checkout flows carried in gateway session metadata.
const (
	FlowJoin   = "join"
	FlowCreate = "create"
)

// RedirectTargets are the participant-facing URLs after checkout.
type RedirectTargets struct {
	SuccessUrl string `json:"success_url" validate:"required,url"`
	CancelUrl  string `json:"cancel_url" validate:"required,url"`
}

func (t *RedirectTargets) Bind(_ *http.Request) error {
	return validate.Struct(t)
}

// CheckoutRequest is what the engine asks of the payment gateway.
type CheckoutRequest struct {
	Flow        string
	PotId       string
	EntryId     string
	DraftId     string
	Amount      Amount
	Description string
	Email       string
	RedirectTargets
}

// Reference is the single-string correlation id, duplicated in metadata.
func (c *CheckoutRequest) Reference() string {
	if c.Flow == FlowCreate {
		return FlowCreate + ":" + c.DraftId
	}
	return c.PotId + ":" + c.EntryId
}

type CheckoutSession struct {
	Id      string `json:"id"`
	Url     string `json:"url"`
	Amount  Amount `json:"amount"`
	PotId   string `json:"pot_id,omitempty"`
	EntryId string `json:"entry_id,omitempty"`
	DraftId string `json:"draft_id,omitempty"`
}

// JoinSession maps a join checkout session to its entry. It is kept apart
// from the entry so opening a session never writes to the entry itself, and
// only a holder of the session id can cancel the join.
type JoinSession struct {
	SessionId string    `json:"session_id" bson:"_id"`
	PotId     string    `json:"pot_id" bson:"pot_id"`
	EntryId   string    `json:"entry_id" bson:"entry_id"`
	Created   time.Time `json:"created" bson:"created"`
}

// GatewayEvent is an authenticated gateway callback. Completion is set only
// for event kinds that represent a finished payment, Subscription only for
// organizer subscription lifecycle events.
type GatewayEvent struct {
	Id           string
	Type         string
	Completion   *Completion
	Subscription *SubscriptionChange
}

type Completion struct {
	SessionId       string
	PaymentIntentId string
	Flow            string
	PotId           string
	EntryId         string
	DraftId         string
	Amount          Amount
	Paid            bool
}

// PotCheckout is the organizer's paid pot-creation request.
type PotCheckout struct {
	Draft *PotDraft `json:"draft" validate:"required"`
	Email string    `json:"email" validate:"omitempty,email"`
	RedirectTargets
}

func (p *PotCheckout) Bind(r *http.Request) error {
	if p.Draft == nil {
		return Validation("missing draft")
	}
	if err := p.Draft.Bind(r); err != nil {
		return err
	}
	if p.Email != "" && !validate.Email(p.Email) {
		return Validation("invalid email")
	}
	return validate.Struct(&p.RedirectTargets)
}
