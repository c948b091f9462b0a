package entity

import (
	"strconv"
	"strings"
)

// Tier is an ordinal skill bracket. TierAny is the minimum and, as a pot
// setting, admits every declared tier.
type Tier int

const (
	TierAny Tier = iota
	TierMid
	TierHigh
)

var tierLabels = []string{"Any", "2.5-3.0", "3.25+"}

func (t Tier) Valid() bool {
	return t >= TierAny && int(t) < len(tierLabels)
}

func (t Tier) String() string {
	if !t.Valid() {
		return "tier(" + strconv.Itoa(int(t)) + ")"
	}
	return tierLabels[t]
}

// Admits reports whether a participant declaring the given tier may join a
// pot configured at t.
func (t Tier) Admits(declared Tier) bool {
	if t == TierAny {
		return true
	}
	return declared <= t
}

// ParseTier accepts a label ("Any", "2.5-3.0", "3.25+"), its en-dash variant
// or the ordinal number. Empty input means TierAny.
func ParseTier(s string) (Tier, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TierAny, true
	}
	s = strings.ReplaceAll(s, "–", "-")
	for i, label := range tierLabels {
		if strings.EqualFold(s, label) {
			return Tier(i), true
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Tier(n).Valid() {
		return Tier(n), true
	}
	return TierAny, false
}
