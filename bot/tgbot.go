// Package bot is the operator side of PicklePot on Telegram.
//
// Operators register with /start and, once approved, receive log records
// routed by the slog Telegram handler: a level filter, then a topic filter
// (payment, ledger, error, system, security) set with /alerts. Approved
// operators can also look up a pot's live totals with /pot.
//
// The users map and adminIds are guarded by mu; loadUsers rebuilds both
// after every state change.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"picklepot/entity"
	"picklepot/impl/ledger"
	"picklepot/lib/sl"
	"sync"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
)

const maxTelegramMessageLen = 4000

type BotConfig struct {
	RequireApproval bool
}

// Database is implemented by internal/database/mongo.go.
type Database interface {
	GetAllTelegramUsers() ([]*entity.User, error)
	SetTelegramEnabled(id int64, isActive bool, logLevel int) error
	RegisterTelegramUser(telegramId int64, username string) error
	SetTelegramRole(telegramId int64, role entity.TelegramRole) error
	SetTelegramTopics(telegramId int64, topics []string) error
}

type Ledger interface {
	GetPot(ctx context.Context, potId string) (*entity.Pot, error)
	LedgerSnapshot(ctx context.Context, potId string) (*ledger.Summary, error)
}

type TgBot struct {
	log      *slog.Logger
	api      *tgbotapi.Bot
	db       Database
	ledger   Ledger
	mu       sync.RWMutex
	users    map[int64]*entity.User // telegram_id → User
	adminIds []int64
	updater  *ext.Updater
	config   BotConfig
}

func NewTgBot(apiKey string, db Database, log *slog.Logger, cfg BotConfig) (*TgBot, error) {
	tgBot := &TgBot{
		log:    log.With(sl.Module("tgbot")),
		db:     db,
		users:  make(map[int64]*entity.User),
		config: cfg,
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

func (t *TgBot) SetLedger(l Ledger) {
	t.ledger = l
}

func (t *TgBot) Start() error {
	t.loadUsers()

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update:", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	t.updater = ext.NewUpdater(dispatcher, nil)

	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("stop", t.stop))
	dispatcher.AddHandler(handlers.NewCommand("alerts", t.alerts))
	dispatcher.AddHandler(handlers.NewCommand("pot", t.pot))
	dispatcher.AddHandler(handlers.NewCommand("help", t.help))

	dispatcher.AddHandler(handlers.NewCommand("users", t.usersCmd))
	dispatcher.AddHandler(handlers.NewCommand("role", t.role))

	t.setDefaultCommands()

	err := t.updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	if t.updater != nil {
		t.log.Info("stopping telegram bot")
		t.updater.Stop()
	}
}

func (t *TgBot) setDefaultCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Register or enable alerts"},
		{Command: "stop", Description: "Disable alerts"},
		{Command: "alerts", Description: "Show or change alert filters"},
		{Command: "pot", Description: "Show pot totals"},
		{Command: "help", Description: "Show help"},
	}
	_, err := t.api.SetMyCommands(commands, &tgbotapi.SetMyCommandsOpts{
		Scope: tgbotapi.BotCommandScopeDefault{},
	})
	if err != nil {
		t.log.Warn("setting bot commands", sl.Err(err))
	}
}

// loadUsers refreshes the in-memory user cache from the database.
func (t *TgBot) loadUsers() {
	if t.db == nil {
		return
	}
	users, err := t.db.GetAllTelegramUsers()
	if err != nil {
		t.log.Error("loading users", sl.Err(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.users = make(map[int64]*entity.User)
	t.adminIds = nil
	active := 0
	for _, user := range users {
		t.users[user.TelegramId] = user
		if user.TelegramEnabled {
			active++
		}
		if user.IsAdmin() {
			t.adminIds = append(t.adminIds, user.TelegramId)
		}
	}
	t.log.With(
		slog.Int("count", len(t.users)),
		slog.Int("active", active),
		slog.Int("admins", len(t.adminIds)),
	).Debug("loaded users")
}

func (t *TgBot) findUser(id int64) *entity.User {
	t.mu.RLock()
	defer t.mu.RUnlock()
	user, ok := t.users[id]
	if ok {
		return user
	}
	return nil
}
