package bot

import (
	"log/slog"
	"picklepot/entity"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, `pot\-1 paid 10\.00 \(stripe\)`, Sanitize("pot-1 paid 10.00 (stripe)"))
	assert.Equal(t, "plain", Sanitize("plain"))
}

func TestSplitMessage_PrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)

	parts := splitMessage(text, 10)
	assert.Equal(t, []string{"aaaaaa\n", "bbbbbb"}, parts)
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestSplitMessage_HardCut(t *testing.T) {
	parts := splitMessage(strings.Repeat("x", 25), 10)
	assert.Len(t, parts, 3)
	assert.Len(t, parts[2], 5)
}

func TestSplitMessage_Short(t *testing.T) {
	assert.Equal(t, []string{"hi"}, splitMessage("hi", 10))
}

func TestParseAlerts(t *testing.T) {
	current := alertFilter{level: slog.LevelInfo}

	next, err := parseAlerts(current, []string{"warn", "-ledger"})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, next.level)
	assert.NotContains(t, next.topics, entity.TopicLedger)
	assert.Contains(t, next.topics, entity.TopicPayment)

	next, err = parseAlerts(next, []string{"+ledger"})
	require.NoError(t, err)
	assert.Nil(t, next.topics, "every topic selected again")

	next, err = parseAlerts(next, []string{"none", "+payment"})
	require.NoError(t, err)
	assert.Equal(t, []string{entity.TopicPayment}, next.topics)

	_, err = parseAlerts(current, []string{"+weather"})
	assert.Error(t, err)
	_, err = parseAlerts(current, []string{"loud"})
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	role, ok := parseRole("Admin")
	assert.True(t, ok)
	assert.Equal(t, entity.RoleAdmin, role)

	role, ok = parseRole("revoke")
	assert.True(t, ok)
	assert.Equal(t, entity.RoleNone, role)

	_, ok = parseRole("owner")
	assert.False(t, ok)
}
