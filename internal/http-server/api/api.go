package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"picklepot/internal/config"
	"picklepot/internal/http-server/handlers/admin"
	"picklepot/internal/http-server/handlers/entries"
	"picklepot/internal/http-server/handlers/errors"
	"picklepot/internal/http-server/handlers/event"
	"picklepot/internal/http-server/handlers/ledger"
	"picklepot/internal/http-server/handlers/pots"
	"picklepot/internal/http-server/handlers/roster"
	"picklepot/internal/http-server/handlers/subscriptions"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"picklepot/internal/http-server/middleware/authenticate"
	"picklepot/internal/http-server/middleware/logging"
	"picklepot/internal/http-server/middleware/owner"
	"picklepot/internal/http-server/middleware/timeout"
	"picklepot/lib/sl"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	pots.Core
	entries.Core
	ledger.Core
	roster.Core
	admin.Core
	event.Core
	subscriptions.Core
}

// NewRouter builds the routing tree; New serves it.
func NewRouter(log *slog.Logger, handler Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/v1", func(rootApi chi.Router) {
		// the ledger stream stays open for as long as the client listens
		rootApi.With(logging.New(log)).Get("/pots/{id}/ledger/stream", ledger.Stream(log, handler))

		rootApi.Group(func(public chi.Router) {
			public.Use(timeout.Timeout(5))
			public.Use(logging.New(log))
			public.Use(render.SetContentType(render.ContentTypeJSON))

			public.Post("/pots", pots.Create(log, handler))
			public.Post("/pots/checkout", pots.Checkout(log, handler))
			public.Get("/pots/cancel-create", pots.CancelCreate(log, handler))
			public.Get("/subscriptions/plans", subscriptions.Plans(log, handler))
			public.Post("/subscriptions/checkout", subscriptions.Checkout(log, handler))

			public.Route("/pots/{id}", func(pot chi.Router) {
				pot.Get("/", pots.Get(log, handler))
				pot.Get("/ledger", ledger.Get(log, handler))
				pot.Get("/roster", roster.Resolve(log, handler))
				pot.Post("/auth", admin.Auth(log, handler))
				pot.Post("/entries", entries.Admit(log, handler))
				pot.Post("/entries/{entry}/checkout", entries.Checkout(log, handler))
				pot.Get("/entries/{entry}/cancel", entries.Cancel(log, handler))

				pot.Route("/admin", func(adm chi.Router) {
					adm.Use(owner.New(log, handler))
					adm.Get("/entries", admin.Entries(log, handler))
					adm.Put("/", admin.Edit(log, handler))
					adm.Put("/status", admin.Status(log, handler))
					adm.Delete("/", admin.Delete(log, handler))
					adm.Put("/entries/{entry}/status", admin.EntryStatus(log, handler))
					adm.Put("/entries/{entry}/paid", admin.EntryPaid(log, handler))
					adm.Delete("/entries/{entry}", admin.RemoveEntry(log, handler))
					adm.Post("/entries/{entry}/move", admin.Move(log, handler))
					adm.Post("/rotate-code", admin.RotateCode(log, handler))
					adm.Post("/rotate-link", admin.RotateLink(log, handler))
					adm.Post("/revoke", admin.Revoke(log, handler))
					adm.Put("/roster/binding", admin.RosterBinding(log, handler))
					adm.Put("/roster/inline", admin.RosterInline(log, handler))
				})
			})
		})

		rootApi.Group(func(org chi.Router) {
			org.Use(timeout.Timeout(5))
			org.Use(logging.New(log))
			org.Use(authenticate.New(log, handler))
			org.Use(render.SetContentType(render.ContentTypeJSON))
			org.Get("/org/rosters/{org}", roster.GetOrg(log, handler))
			org.Put("/org/rosters/{org}", roster.PutOrg(log, handler))
			org.Post("/org/pots", pots.CreateOwned(log, handler))
			org.Get("/org/subscription", subscriptions.Current(log, handler))
			org.Post("/org/subscription/activate", subscriptions.Activate(log, handler))
		})
	})
	router.Route("/webhook", func(rootWH chi.Router) {
		rootWH.Use(timeout.Timeout(10))
		rootWH.Post("/event", event.Event(log, handler))
	})
	return router
}

func New(conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:     NewRouter(log, handler),
		ErrorLog:    httpLog,
		ReadTimeout: 5 * time.Second,
		// no WriteTimeout: it would cut the ledger stream
		IdleTimeout: 60 * time.Second,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIp, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
