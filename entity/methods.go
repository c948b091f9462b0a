package entity

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Method string

const (
	MethodStripe  Method = "stripe"
	MethodZelle   Method = "zelle"
	MethodCashApp Method = "cashapp"
	MethodOnsite  Method = "onsite"
)

var allMethods = []Method{MethodStripe, MethodZelle, MethodCashApp, MethodOnsite}

func ParseMethod(s string) (Method, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "cash_app", "cash-app":
		s = string(MethodCashApp)
	case "cash", "on-site", "on_site":
		s = string(MethodOnsite)
	case "card", "online":
		s = string(MethodStripe)
	}
	for _, m := range allMethods {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// MethodSet is the tagged capability set of payment methods a pot accepts.
type MethodSet uint8

func (m Method) bit() MethodSet {
	for i, v := range allMethods {
		if v == m {
			return 1 << i
		}
	}
	return 0
}

func NewMethodSet(methods ...Method) MethodSet {
	var s MethodSet
	for _, m := range methods {
		s |= m.bit()
	}
	return s
}

func (s MethodSet) Allows(m Method) bool {
	b := m.bit()
	return b != 0 && s&b != 0
}

func (s MethodSet) Methods() []Method {
	out := make([]Method, 0, len(allMethods))
	for _, m := range allMethods {
		if s.Allows(m) {
			out = append(out, m)
		}
	}
	return out
}

func (s MethodSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Methods())
}

func (s *MethodSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var set MethodSet
	for _, n := range names {
		m, ok := ParseMethod(n)
		if !ok {
			return fmt.Errorf("unknown payment method %q", n)
		}
		set |= m.bit()
	}
	*s = set
	return nil
}

// LegacyMethods collects the payment flags older clients send for a pot. The
// capability set is computed from them once, when the pot enters the engine.
type LegacyMethods struct {
	PaymentMethods map[string]bool `json:"payment_methods,omitempty"`
	AllowStripe    *bool           `json:"allow_stripe,omitempty"`
	StripeEnabled  *bool           `json:"stripe_enabled,omitempty"`
	ZelleHandle    string          `json:"zelle_handle,omitempty"`
	CashAppHandle  string          `json:"cashapp_handle,omitempty"`
	AllowOnsite    *bool           `json:"allow_onsite,omitempty"`
	Methods        []string        `json:"methods,omitempty"`
}

// Capabilities merges every legacy field. Explicit false in payment_methods
// wins over a handle being present.
func (l LegacyMethods) Capabilities() MethodSet {
	var s MethodSet
	for _, n := range l.Methods {
		if m, ok := ParseMethod(n); ok {
			s |= m.bit()
		}
	}
	if l.ZelleHandle != "" {
		s |= MethodZelle.bit()
	}
	if l.CashAppHandle != "" {
		s |= MethodCashApp.bit()
	}
	for _, flag := range []*bool{l.AllowStripe, l.StripeEnabled} {
		if flag != nil && *flag {
			s |= MethodStripe.bit()
		}
	}
	if l.AllowOnsite != nil && *l.AllowOnsite {
		s |= MethodOnsite.bit()
	}
	for n, on := range l.PaymentMethods {
		m, ok := ParseMethod(n)
		if !ok {
			continue
		}
		if on {
			s |= m.bit()
		} else {
			s &^= m.bit()
		}
	}
	return s
}
