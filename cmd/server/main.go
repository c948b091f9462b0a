package main

import (
	"flag"
	"log/slog"
	"picklepot/bot"
	"picklepot/entity"
	"picklepot/impl/admission"
	"picklepot/impl/auth"
	"picklepot/impl/checkout"
	"picklepot/impl/core"
	"picklepot/impl/credential"
	"picklepot/impl/ledger"
	"picklepot/impl/pots"
	"picklepot/impl/reconcile"
	"picklepot/impl/relocation"
	"picklepot/impl/roster"
	"picklepot/impl/subscription"
	"picklepot/internal/config"
	"picklepot/internal/database"
	"picklepot/internal/http-server/api"
	"picklepot/internal/stripeclient"
	"picklepot/lib/logger"
	"picklepot/lib/sl"

	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "", "path to log file, overrides config")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	if *logPath != "" {
		conf.LogPath = *logPath
	}
	log := logger.SetupLogger(conf.Env, conf.LogPath)
	log.Info("starting picklepot", slog.String("config", *configPath), slog.String("env", conf.Env))

	var store database.Store
	mongo, err := database.NewMongoClient(conf)
	if err != nil {
		log.Error("mongo client", sl.Err(err))
		return
	}
	if mongo != nil {
		defer mongo.Close()
		store = mongo
		log.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("database", conf.Mongo.Database),
			slog.Bool("transactions", conf.Mongo.Transactions),
		).Info("mongo client initialized")
	} else {
		store = database.NewMemoryStore()
		log.Warn("mongo disabled, using in-memory store")
	}

	var tgBot *bot.TgBot
	if conf.Telegram.Enabled && mongo == nil {
		log.Warn("telegram bot needs mongo; not started")
	} else if conf.Telegram.Enabled {
		tgBot, err = bot.NewTgBot(conf.Telegram.ApiKey, mongo, log, bot.BotConfig{
			RequireApproval: conf.Telegram.RequireApproval,
		})
		if err != nil {
			log.Error("telegram bot", sl.Err(err))
			return
		}
		log = slog.New(logger.NewTelegramHandler(log.Handler(), tgBot, bot.Sanitize, slog.Level(conf.Telegram.MinLevel)))
		log.Info("telegram bot initialized")
	}

	handler := build(conf, store, log)

	if tgBot != nil {
		tgBot.SetLedger(handler)
		go func() {
			if err := tgBot.Start(); err != nil {
				log.Error("telegram bot", sl.Err(err))
			}
		}()
		defer tgBot.Stop()
	}

	if err = api.New(conf, log, handler); err != nil {
		log.Error("server start", sl.Err(err))
	}
}

func build(conf *config.Config, store database.Store, log *slog.Logger) *core.Core {
	sc := stripeclient.New(conf, log)
	newId := uuid.NewString

	rosters := roster.New(store, log)
	credentials := credential.New(store, conf.Pot.CodeLength, conf.Pot.BcryptCost, log)
	gate := admission.New(store, rosters, log)
	orchestrator := checkout.New(sc, store, log)
	plans := subscription.New(sc, store, planCatalog(conf.Stripe.Prices), log)

	processor := reconcile.New(sc, store, store, conf.Stripe.RetryOnWriteFailure, newId, log)
	processor.SetSubscriptions(plans)
	potService := pots.New(store, credentials, orchestrator, conf.Pot.DefaultDuration,
		entity.Amount(conf.Stripe.PotCreatePrice), newId, log)
	potService.SetPlans(plans)

	handler := core.New(store, core.Components{
		Credentials: credentials,
		Admission:   gate,
		Checkout:    orchestrator,
		Reconcile:   processor,
		Ledger:      ledger.New(store, log),
		Relocation:  relocation.New(store, gate, store, newId, log),
		Pots:        potService,
		Roster:      rosters,
		Plans:       plans,
	}, log)
	handler.SetAuthService(auth.New(store))
	handler.SetRedirectOrigins(conf.Listen.RedirectOrigins)
	if len(conf.Listen.RedirectOrigins) == 0 {
		log.Warn("no redirect origins configured; cancel links will answer with json")
	}
	return handler
}

func planCatalog(p config.PlanPrices) entity.PlanCatalog {
	plans := entity.PlanCatalog{}
	plans.Add(entity.NewPlan(p.IndividualMonthly, entity.PlanIndividual, "month"))
	plans.Add(entity.NewPlan(p.IndividualYearly, entity.PlanIndividual, "year"))
	plans.Add(entity.NewPlan(p.ClubMonthly, entity.PlanClub, "month"))
	plans.Add(entity.NewPlan(p.ClubYearly, entity.PlanClub, "year"))
	return plans
}
