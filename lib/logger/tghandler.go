package logger

import (
	"context"
	"fmt"
	"log/slog"
	"picklepot/lib/sl"
	"strings"
	"sync"
)

// Sender delivers a formatted record to operators. Implemented by bot.TgBot.
type Sender interface {
	SendMessageWithLevel(msg string, level slog.Level)
	SendMessageWithTopic(msg string, level slog.Level, topic string)
}

// TelegramHandler forwards records to Telegram on top of a regular handler.
// Records at or above minLevel are always forwarded; records tagged with a
// topic (sl.Topic) are forwarded from Info up so payment and ledger events
// reach operators subscribed to them.
type TelegramHandler struct {
	handler  slog.Handler
	sender   Sender
	escape   func(string) string
	minLevel slog.Level
	mu       *sync.Mutex
	attrs    []slog.Attr
	group    string
}

func NewTelegramHandler(handler slog.Handler, sender Sender, escape func(string) string, minLevel slog.Level) *TelegramHandler {
	return &TelegramHandler{
		handler:  handler,
		sender:   sender,
		escape:   escape,
		minLevel: minLevel,
		mu:       &sync.Mutex{},
	}
}

func (h *TelegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *TelegramHandler) Handle(ctx context.Context, record slog.Record) error {
	if err := h.handler.Handle(ctx, record); err != nil {
		return err
	}
	if h.sender == nil {
		return nil
	}

	topic := ""
	var lines []string
	collect := func(attr slog.Attr) bool {
		if attr.Key == sl.TopicKey {
			topic = attr.Value.String()
			return true
		}
		if attr.Key == "error" {
			lines = append(lines, fmt.Sprintf("\n%s: ```error %v ```", attr.Key, attr.Value))
		} else {
			lines = append(lines, h.escape(fmt.Sprintf("\n%s: %v", attr.Key, attr.Value)))
		}
		return true
	}
	for _, attr := range h.attrs {
		collect(attr)
	}
	record.Attrs(collect)

	forward := record.Level >= h.minLevel || (topic != "" && record.Level >= slog.LevelInfo)
	if !forward {
		return nil
	}

	name := record.Message
	if h.group != "" {
		name = h.group + "." + name
	}
	msg := fmt.Sprintf("*%s* `%s`", record.Level.String(), name) + strings.Join(lines, "")

	h.mu.Lock()
	defer h.mu.Unlock()
	if topic != "" {
		h.sender.SendMessageWithTopic(msg, record.Level, topic)
	} else {
		h.sender.SendMessageWithLevel(msg, record.Level)
	}
	return nil
}

func (h *TelegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	c := *h
	c.handler = h.handler.WithAttrs(attrs)
	c.attrs = newAttrs
	return &c
}

func (h *TelegramHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.handler = h.handler.WithGroup(name)
	if h.group != "" {
		c.group = h.group + "." + name
	} else {
		c.group = name
	}
	return &c
}
