package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	agg "picklepot/impl/ledger"
	"picklepot/lib/api/response"
	"picklepot/lib/sl"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const keepAlive = 25 * time.Second

type Core interface {
	LedgerSnapshot(ctx context.Context, potId string) (*agg.Summary, error)
	SubscribeLedger(ctx context.Context, key, potId string, fn func(*agg.Summary)) (*agg.Subscription, error)
}

func Get(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		potId := chi.URLParam(r, "id")

		summary, err := handler.LedgerSnapshot(r.Context(), potId)
		if err != nil {
			log.With(sl.Module("http.handlers.ledger"), sl.Pot(potId)).Debug("ledger snapshot", sl.Err(err))
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}

		render.JSON(w, r, response.Ok(summary))
	}
}

// observerKey scopes the caller-chosen observer name to the client address
// and pot, so one client cannot take over another client's stream.
func observerKey(r *http.Request, potId string) string {
	name := r.URL.Query().Get("observer")
	if name == "" {
		return middleware.GetReqID(r.Context())
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host + "/" + potId + "/" + name
}

// Stream pushes the pot summary as server-sent events after every change.
// The "observer" query parameter names the subscription; reconnecting with
// the same name from the same client replaces the old stream. The stream
// ends when the pot is deleted or the subscription is replaced.
func Stream(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		potId := chi.URLParam(r, "id")
		key := observerKey(r, potId)
		logger := log.With(
			sl.Module("http.handlers.ledger"),
			sl.Pot(potId),
			slog.String("observer", key),
		)

		flusher, ok := w.(http.Flusher)
		if !ok {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Streaming not supported"))
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// latest value wins; the writer never blocks the aggregator
		updates := make(chan *agg.Summary, 1)
		sub, err := handler.SubscribeLedger(ctx, key, potId, func(s *agg.Summary) {
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- s:
			default:
			}
		})
		if err != nil {
			render.Status(r, response.Status(err))
			render.JSON(w, r, response.FromError(err))
			return
		}
		defer sub.Stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		logger.Debug("ledger stream opened")

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Debug("ledger stream closed")
				return
			case <-sub.Done():
				// flush what the feed delivered before it ended
				select {
				case s := <-updates:
					if writeSummary(w, s) != nil {
						return
					}
				default:
				}
				_, _ = fmt.Fprint(w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				logger.Debug("ledger feed ended")
				return
			case <-ticker.C:
				if _, err = fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case s := <-updates:
				if err = writeSummary(w, s); err != nil {
					logger.Debug("write summary", sl.Err(err))
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeSummary(w http.ResponseWriter, s *agg.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: ledger\ndata: %s\n\n", data)
	return err
}
