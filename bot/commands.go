package bot

import (
	"context"
	"fmt"
	"log/slog"
	"picklepot/entity"
	"strings"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// defaultTopics are given to operators on approval.
var defaultTopics = []string{entity.TopicPayment, entity.TopicError}

func (t *TgBot) start(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	user := t.findUser(chatId)

	switch {
	case user != nil && user.IsApproved():
		if err := t.db.SetTelegramEnabled(chatId, true, user.LogLevel); err != nil {
			t.reportError(chatId, "/start", err)
			return nil
		}
		t.plainResponse(chatId, "Alerts enabled\\. See `/alerts` for your filters\\.")
	case user != nil && user.IsPending():
		t.plainResponse(chatId, "Your registration is awaiting admin approval\\.")
		return nil
	default:
		username := ctx.EffectiveUser.Username
		if err := t.db.RegisterTelegramUser(chatId, username); err != nil {
			t.reportError(chatId, "/start", err)
			return nil
		}
		who := fmt.Sprintf("@%s \\(%d\\)", Sanitize(username), chatId)
		if t.config.RequireApproval {
			t.plainResponse(chatId, "Registration received\\. An admin will review it\\.")
			t.notifyAdmins(fmt.Sprintf("Pending operator %s\\. Approve with `/role %d user`", who, chatId))
			break
		}
		if err := t.db.SetTelegramRole(chatId, entity.RoleUser); err != nil {
			t.reportError(chatId, "/start", err)
			return nil
		}
		_ = t.db.SetTelegramTopics(chatId, defaultTopics)
		t.plainResponse(chatId, "Welcome\\! You will receive payment and error alerts\\.")
		t.notifyAdmins("New operator " + who)
	}
	t.loadUsers()
	return nil
}

func (t *TgBot) stop(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	user := t.approvedUser(chatId)
	if user == nil || t.db == nil {
		return nil
	}
	if err := t.db.SetTelegramEnabled(chatId, false, user.LogLevel); err != nil {
		t.reportError(chatId, "/stop", err)
		return nil
	}
	t.plainResponse(chatId, "Alerts disabled")
	t.loadUsers()
	return nil
}

// alertFilter is an operator's level threshold and topic list. An empty
// topic list means every topic; "none" mutes them all.
type alertFilter struct {
	level  slog.Level
	topics []string
}

// parseAlerts applies "/alerts" arguments to the current filter. Accepted
// forms: a level name, "all", "none", and topics prefixed with + or -.
func parseAlerts(current alertFilter, args []string) (alertFilter, error) {
	next := alertFilter{level: current.level, topics: append([]string(nil), current.topics...)}
	for _, arg := range args {
		arg = strings.ToLower(arg)
		switch {
		case arg == "all":
			next.topics = nil
		case arg == "none":
			next.topics = []string{"none"}
		case strings.HasPrefix(arg, "+"), strings.HasPrefix(arg, "-"):
			topic := arg[1:]
			if !entity.IsValidTopic(topic) {
				return current, fmt.Errorf("unknown topic %q", topic)
			}
			next.topics = toggleTopic(next.topics, topic, arg[0] == '+')
		default:
			var level slog.Level
			if err := level.UnmarshalText([]byte(arg)); err != nil {
				return current, fmt.Errorf("unknown level or topic %q", arg)
			}
			next.level = level
		}
	}
	return next, nil
}

func toggleTopic(topics []string, topic string, on bool) []string {
	if !on && len(topics) == 0 {
		topics = entity.AllTopics()
	}
	out := make([]string, 0, len(topics)+1)
	for _, t := range topics {
		if t != topic && t != "none" {
			out = append(out, t)
		}
	}
	if on {
		out = append(out, topic)
	}
	if len(out) == 0 {
		return []string{"none"}
	}
	if len(out) == len(entity.AllTopics()) {
		return nil
	}
	return out
}

func (f alertFilter) describe() string {
	topics := "all"
	if len(f.topics) > 0 {
		topics = strings.Join(f.topics, ", ")
	}
	return fmt.Sprintf("Level: `%s`\nTopics: `%s`", Sanitize(f.level.String()), Sanitize(topics))
}

// alerts shows or changes the caller's alert filter.
func (t *TgBot) alerts(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	user := t.approvedUser(chatId)
	if user == nil || t.db == nil {
		return nil
	}
	current := alertFilter{level: slog.Level(user.LogLevel), topics: user.TelegramTopics}

	args := strings.Fields(ctx.EffectiveMessage.Text)[1:]
	if len(args) == 0 {
		enabled := "on"
		if !user.TelegramEnabled {
			enabled = "off"
		}
		t.plainResponse(chatId, fmt.Sprintf("*Alerts %s*\n%s\n\nTopics: %s\nExample: `/alerts warn \\+ledger \\-error`",
			enabled, current.describe(), Sanitize(strings.Join(entity.AllTopics(), ", "))))
		return nil
	}

	next, err := parseAlerts(current, args)
	if err != nil {
		t.plainResponse(chatId, Sanitize(err.Error()))
		return nil
	}
	if err = t.db.SetTelegramEnabled(chatId, user.TelegramEnabled, int(next.level)); err != nil {
		t.reportError(chatId, "/alerts", err)
		return nil
	}
	if err = t.db.SetTelegramTopics(chatId, next.topics); err != nil {
		t.reportError(chatId, "/alerts", err)
		return nil
	}
	t.plainResponse(chatId, "Updated\n"+next.describe())
	t.loadUsers()
	return nil
}

// pot prints the live totals of one pot.
func (t *TgBot) pot(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if t.approvedUser(chatId) == nil || t.ledger == nil {
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/pot <pot id>`")
		return nil
	}
	potId := args[1]

	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := t.ledger.GetPot(c, potId)
	if err != nil {
		t.plainResponse(chatId, "Pot not found: `"+Sanitize(potId)+"`")
		return nil
	}
	s, err := t.ledger.LedgerSnapshot(c, potId)
	if err != nil {
		t.reportError(chatId, "/pot", err)
		return nil
	}

	t.plainResponse(chatId, fmt.Sprintf(
		"*%s*\n"+
			"Status: `%s`\n"+
			"Entries: `%d` \\(paid `%d`\\)\n"+
			"Total: `%s` \\(paid `%s`\\)\n"+
			"Share %d%%: `%s` \\(paid `%s`\\)",
		Sanitize(p.Name),
		Sanitize(string(p.Status)),
		s.CountAll, s.CountPaid,
		Sanitize(s.TotalAll.String()), Sanitize(s.TotalPaid.String()),
		s.SharePct,
		Sanitize(s.ShareAll.String()), Sanitize(s.SharePaid.String()),
	))
	return nil
}

func (t *TgBot) help(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id

	lines := []string{
		"`/start` \\- register or enable alerts",
		"`/help` \\- this list",
	}
	if t.requireApproved(chatId) {
		lines = append(lines,
			"`/stop` \\- disable alerts",
			"`/alerts [level] [\\+topic] [\\-topic] [all|none]` \\- show or change filters",
			"`/pot <id>` \\- pot totals",
		)
	}
	if t.requireAdmin(chatId) {
		lines = append(lines,
			"`/users` \\- list operators",
			"`/role <id|@user> <user|admin|none>` \\- set an operator role",
		)
	}
	t.plainResponse(chatId, "*Commands*\n"+strings.Join(lines, "\n"))
	return nil
}
