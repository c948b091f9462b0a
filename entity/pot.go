package entity

import (
	"net/http"
	"picklepot/lib/validate"
	"strings"
	"time"
)

type PotStatus string

const (
	PotOpen   PotStatus = "open"
	PotHold   PotStatus = "hold"
	PotClosed PotStatus = "closed"
)

func (s PotStatus) Valid() bool {
	return s == PotOpen || s == PotHold || s == PotClosed
}

// DefaultSharePct applies to stored pots that never had a share configured;
// pots created through the engine default to CreationSharePct instead.
const (
	DefaultSharePct  = 50
	CreationSharePct = 100
)

type ParticipantClass string

const (
	ClassMember ParticipantClass = "member"
	ClassGuest  ParticipantClass = "guest"
)

type BuyIn struct {
	Member Amount `json:"member" bson:"member"`
	Guest  Amount `json:"guest" bson:"guest"`
}

func (b BuyIn) For(class ParticipantClass) (Amount, bool) {
	switch class {
	case ClassMember:
		return b.Member, true
	case ClassGuest:
		return b.Guest, true
	}
	return 0, false
}

type Pot struct {
	Id              string     `json:"id" bson:"_id"`
	Name            string     `json:"name" bson:"name"`
	Organizer       string     `json:"organizer,omitempty" bson:"organizer"`
	OwnerUid        string     `json:"owner_uid,omitempty" bson:"owner_uid,omitempty"`
	MaxEntries      int        `json:"max_entries,omitempty" bson:"max_entries,omitempty"`
	Status          PotStatus  `json:"status" bson:"status"`
	BuyIn           BuyIn      `json:"buyin" bson:"buyin"`
	Tier            Tier       `json:"tier" bson:"tier"`
	Start           time.Time  `json:"start" bson:"start"`
	End             time.Time  `json:"end" bson:"end"`
	SharePct        *int       `json:"share_pct,omitempty" bson:"share_pct,omitempty"`
	Methods         MethodSet  `json:"methods" bson:"methods"`
	Venue           *Venue     `json:"venue,omitempty" bson:"venue,omitempty"`
	Owner           Credential `json:"-" bson:"owner"`
	Source          Source     `json:"source,omitempty" bson:"source"`
	StripeSessionId string     `json:"-" bson:"stripe_session_id,omitempty"`
	Created         time.Time  `json:"created" bson:"created"`
}

// EffectiveShare is the clamped revenue-share percentage used for totals.
func (p *Pot) EffectiveShare() int {
	if p.SharePct == nil {
		return DefaultSharePct
	}
	return ClampShare(*p.SharePct)
}

// CheckOpen rejects admissions into pots that are held, closed or past their end.
func (p *Pot) CheckOpen(now time.Time) error {
	if p.Status != PotOpen {
		return ErrPotClosed
	}
	if !p.End.IsZero() && now.After(p.End) {
		return ErrPotEnded
	}
	return nil
}

// CheckCapacity rejects an admission once the pot holds max entries. Zero
// means the pot is not capped.
func (p *Pot) CheckCapacity(held int64) error {
	if p.MaxEntries > 0 && held >= int64(p.MaxEntries) {
		return ErrPotFull
	}
	return nil
}

// Normalize enforces the time and share invariants of a pot.
func (p *Pot) Normalize(defaultDuration time.Duration) error {
	if p.Start.IsZero() {
		return Validation("start is required")
	}
	if p.End.IsZero() {
		p.End = p.Start.Add(defaultDuration)
	}
	if p.End.Before(p.Start) {
		return Validation("end precedes start")
	}
	if p.SharePct != nil {
		v := ClampShare(*p.SharePct)
		p.SharePct = &v
	}
	if !p.Tier.Valid() {
		return Validation("unknown skill tier")
	}
	if p.BuyIn.Member < 0 || p.BuyIn.Guest < 0 {
		return Validation("buy-in must not be negative")
	}
	return nil
}

type Source string

const (
	SourceApi      Source = "api"
	SourceCheckout Source = "checkout"
)

// PotDraft is the organizer's request to open or edit a pot.
type PotDraft struct {
	Name        string     `json:"name" validate:"required,max=120"`
	Organizer   string     `json:"organizer" validate:"omitempty,max=120"`
	BuyInMember Amount     `json:"buyin_member" validate:"min=0"`
	BuyInGuest  Amount     `json:"buyin_guest" validate:"min=0"`
	Skill       string     `json:"skill"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	SharePct    *int       `json:"share_pct,omitempty"`
	Venue       *Venue     `json:"venue,omitempty"`
	LegacyMethods
}

func (d *PotDraft) Bind(_ *http.Request) error {
	d.Name = strings.TrimSpace(d.Name)
	return validate.Struct(d)
}

// Apply copies the draft onto p and computes the capability set.
func (d *PotDraft) Apply(p *Pot) error {
	tier, ok := ParseTier(d.Skill)
	if !ok {
		return Validation("unknown skill tier %q", d.Skill)
	}
	p.Name = d.Name
	p.Organizer = d.Organizer
	p.BuyIn = BuyIn{Member: d.BuyInMember, Guest: d.BuyInGuest}
	p.Tier = tier
	p.Start = d.Start
	p.End = time.Time{}
	if d.End != nil {
		p.End = *d.End
	}
	if d.SharePct != nil {
		v := *d.SharePct
		p.SharePct = &v
	}
	p.Methods = d.LegacyMethods.Capabilities()
	p.Venue = d.Venue
	return nil
}

// NewPot builds an open pot from the draft using creation-time defaults.
func (d *PotDraft) NewPot(id string, now time.Time, defaultDuration time.Duration) (*Pot, error) {
	p := &Pot{
		Id:      id,
		Status:  PotOpen,
		Source:  SourceApi,
		Created: now,
	}
	if err := d.Apply(p); err != nil {
		return nil, err
	}
	if p.SharePct == nil {
		v := CreationSharePct
		p.SharePct = &v
	}
	if err := p.Normalize(defaultDuration); err != nil {
		return nil, err
	}
	return p, nil
}

type StatusChange struct {
	Status PotStatus `json:"status" validate:"required,oneof=open hold closed"`
}

func (s *StatusChange) Bind(_ *http.Request) error {
	return validate.Struct(s)
}
