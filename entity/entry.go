package entity

import (
	"net/http"
	"picklepot/lib/validate"
	"strings"
	"time"
)

type EntryStatus string

const (
	EntryActive  EntryStatus = "active"
	EntryHold    EntryStatus = "hold"
	EntryRemoved EntryStatus = "removed-pending-relocation"
)

type Entry struct {
	Id              string           `json:"id" bson:"_id"`
	PotId           string           `json:"pot_id" bson:"pot_id"`
	Name            string           `json:"name" bson:"name"`
	NameKey         string           `json:"-" bson:"name_key"`
	Email           string           `json:"email,omitempty" bson:"email"`
	EmailKey        string           `json:"-" bson:"email_key"`
	Class           ParticipantClass `json:"class" bson:"class"`
	Tier            Tier             `json:"tier" bson:"tier"`
	Method          Method           `json:"method" bson:"method"`
	BuyIn           Amount           `json:"applied_buyin" bson:"applied_buyin"`
	Paid            bool             `json:"paid" bson:"paid"`
	PaidAmount      Amount           `json:"paid_amount,omitempty" bson:"paid_amount,omitempty"`
	PaidAt          *time.Time       `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	SessionId       string           `json:"-" bson:"stripe_session_id,omitempty"`
	PaymentIntentId string           `json:"-" bson:"stripe_payment_intent_id,omitempty"`
	Status          EntryStatus      `json:"status" bson:"status"`
	// Dedupe marks entries that take part in identity uniqueness; it is kept
	// equal to HoldsIdentity() so the store can index on it.
	Dedupe    bool      `json:"-" bson:"dedupe"`
	Created   time.Time `json:"created" bson:"created"`
	MovedFrom string    `json:"moved_from,omitempty" bson:"moved_from,omitempty"`
	// OriginEntryId is the id the entry had in MovedFrom, so a late payment
	// confirmation for the old id can still be matched.
	OriginEntryId string     `json:"-" bson:"origin_entry_id,omitempty"`
	MovedAt       *time.Time `json:"moved_at,omitempty" bson:"moved_at,omitempty"`
}

// HoldsIdentity reports whether the entry reserves its normalized name and
// email within the pot.
func (e *Entry) HoldsIdentity() bool {
	return e.Status != EntryRemoved
}

// Counts reports whether the entry belongs to the live ledger set.
func (e *Entry) Counts() bool {
	return e.Status == EntryActive
}

func (e *Entry) SetStatus(status EntryStatus) {
	e.Status = status
	e.Dedupe = e.HoldsIdentity()
}

// PaymentRecord is the settlement data carried by a payment confirmation.
type PaymentRecord struct {
	Amount          Amount    `bson:"paid_amount"`
	At              time.Time `bson:"paid_at"`
	SessionId       string    `bson:"stripe_session_id"`
	PaymentIntentId string    `bson:"stripe_payment_intent_id"`
}

// ApplyPayment transitions the entry to paid. It is a no-op returning false
// when the entry is already paid, which makes redelivered confirmations safe.
func (e *Entry) ApplyPayment(rec PaymentRecord) bool {
	if e.Paid {
		return false
	}
	at := rec.At
	e.Paid = true
	e.PaidAmount = rec.Amount
	e.PaidAt = &at
	e.SessionId = rec.SessionId
	e.PaymentIntentId = rec.PaymentIntentId
	return true
}

// CarryPayment copies the payment state of from onto e. Stores call it with
// the origin as read inside the move so a confirmation that landed after the
// caller's read is not lost.
func (e *Entry) CarryPayment(from *Entry) {
	e.Paid = from.Paid
	e.PaidAmount = from.PaidAmount
	e.PaidAt = from.PaidAt
	e.SessionId = from.SessionId
	e.PaymentIntentId = from.PaymentIntentId
}

// Relocated copies the entry into another pot with a fresh id and creation
// instant, preserving payment state and amount.
func (e *Entry) Relocated(id, toPot string, now time.Time) *Entry {
	moved := *e
	moved.Id = id
	moved.PotId = toPot
	moved.Created = now
	moved.MovedFrom = e.PotId
	moved.OriginEntryId = e.Id
	moved.MovedAt = &now
	if moved.Status == EntryRemoved {
		moved.Status = EntryActive
	}
	moved.Dedupe = moved.HoldsIdentity()
	return &moved
}

// NormalizeKey lowercases and collapses whitespace for identity comparison.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

type EntryDraft struct {
	Name   string           `json:"name" validate:"required,max=80"`
	Email  string           `json:"email" validate:"omitempty,email"`
	Class  ParticipantClass `json:"class" validate:"required"`
	Skill  string           `json:"skill"`
	Method string           `json:"method" validate:"required"`
}

func (d *EntryDraft) Bind(_ *http.Request) error {
	d.Name = strings.TrimSpace(d.Name)
	d.Email = strings.TrimSpace(d.Email)
	return validate.Struct(d)
}

type EntryStatusChange struct {
	Status EntryStatus `json:"status" validate:"required,oneof=active hold"`
}

func (s *EntryStatusChange) Bind(_ *http.Request) error {
	return validate.Struct(s)
}

type PaidOverride struct {
	Paid bool `json:"paid"`
}

func (p *PaidOverride) Bind(_ *http.Request) error {
	return nil
}

type MoveRequest struct {
	ToPotId string `json:"to_pot_id" validate:"required"`
}

func (m *MoveRequest) Bind(_ *http.Request) error {
	return validate.Struct(m)
}
