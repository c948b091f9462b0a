package sl

import (
	"fmt"
	"log/slog"
)

// TopicKey tags a record for operator routing in the Telegram handler.
const TopicKey = "tg_topic"

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Secret keeps the first 4 characters of a credential so log lines can be
// correlated without exposing the value
func Secret(key, value string) slog.Attr {
	r := "***"
	if len(value) > 4 {
		r = fmt.Sprintf("%s***", value[0:4])
	}
	if value == "" {
		r = "?"
	}
	return slog.Attr{
		Key:   key,
		Value: slog.StringValue(r),
	}
}

func Module(mod string) slog.Attr {
	return slog.Attr{
		Key:   "mod",
		Value: slog.StringValue(mod),
	}
}

func Topic(topic string) slog.Attr {
	return slog.String(TopicKey, topic)
}

func Pot(id string) slog.Attr {
	return slog.String("pot_id", id)
}

func Entry(id string) slog.Attr {
	return slog.String("entry_id", id)
}
