package logger

import (
	"io"
	"log/slog"
	"picklepot/lib/sl"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	msg   string
	level slog.Level
	topic string
}

type recorder struct {
	messages []sent
}

func (r *recorder) SendMessageWithLevel(msg string, level slog.Level) {
	r.messages = append(r.messages, sent{msg: msg, level: level})
}

func (r *recorder) SendMessageWithTopic(msg string, level slog.Level, topic string) {
	r.messages = append(r.messages, sent{msg: msg, level: level, topic: topic})
}

func newLogger(rec *recorder) *slog.Logger {
	base := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewTelegramHandler(base, rec, func(s string) string { return s }, slog.LevelWarn))
}

func TestTelegramHandler_LevelThreshold(t *testing.T) {
	rec := &recorder{}
	log := newLogger(rec)

	log.Info("quiet")
	log.Warn("loud", slog.String("pot_id", "p1"))

	require.Len(t, rec.messages, 1)
	assert.Equal(t, slog.LevelWarn, rec.messages[0].level)
	assert.Contains(t, rec.messages[0].msg, "loud")
	assert.Contains(t, rec.messages[0].msg, "pot_id: p1")
	assert.Empty(t, rec.messages[0].topic)
}

func TestTelegramHandler_TopicForwardsInfo(t *testing.T) {
	rec := &recorder{}
	log := newLogger(rec).With(sl.Module("reconcile"))

	log.With(sl.Topic("payment")).Info("entry paid")
	log.With(sl.Topic("payment")).Debug("too low")

	require.Len(t, rec.messages, 1)
	m := rec.messages[0]
	assert.Equal(t, "payment", m.topic)
	assert.Contains(t, m.msg, "mod: reconcile")
	assert.NotContains(t, m.msg, sl.TopicKey)
}

func TestTelegramHandler_GroupPrefix(t *testing.T) {
	rec := &recorder{}
	log := newLogger(rec).WithGroup("api")

	log.Error("failed")

	require.Len(t, rec.messages, 1)
	assert.Contains(t, rec.messages[0].msg, "`api.failed`")
}
