package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
		ok   bool
	}{
		{"", TierAny, true},
		{"any", TierAny, true},
		{"2.5-3.0", TierMid, true},
		{"2.5–3.0", TierMid, true},
		{"3.25+", TierHigh, true},
		{"2", TierHigh, true},
		{"5.0", TierAny, false},
		{"7", TierAny, false},
	}
	for _, tt := range tests {
		got, ok := ParseTier(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestTier_Admits(t *testing.T) {
	assert.True(t, TierAny.Admits(TierHigh))
	assert.True(t, TierMid.Admits(TierAny))
	assert.True(t, TierMid.Admits(TierMid))
	assert.False(t, TierMid.Admits(TierHigh))
	assert.True(t, TierHigh.Admits(TierHigh))
}
