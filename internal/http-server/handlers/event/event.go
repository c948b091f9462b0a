package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"picklepot/entity"
	"picklepot/impl/reconcile"
	"picklepot/lib/sl"
)

// maxBodyBytes bounds a gateway callback body; subscription events carry
// their line items, so this leaves room above the usual few kilobytes.
const maxBodyBytes = 1 << 18

type Core interface {
	HandleGatewayEvent(ctx context.Context, payload []byte, signature string) (*reconcile.Result, error)
}

// Event receives gateway callbacks. Anything that cannot be authenticated
// gets 400; an accepted event gets 200 even when storing it failed, unless
// the processor runs in strict mode and asks for a redelivery with 500.
func Event(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.With(
			sl.Module("http.handlers.event"),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.With(slog.Int64("limit", tooLarge.Limit), sl.Topic(entity.TopicSecurity)).Warn("webhook body too large")
				http.Error(w, "too large", http.StatusRequestEntityTooLarge)
				return
			}
			log.With(sl.Err(err)).Error("read request body")
			http.Error(w, "read", http.StatusBadRequest)
			return
		}

		sig := r.Header.Get("Stripe-Signature")
		// processing must not be cut short by the client hanging up
		ctx := context.WithoutCancel(r.Context())
		res, err := handler.HandleGatewayEvent(ctx, payload, sig)
		if err != nil {
			switch {
			case errors.Is(err, entity.ErrInvalidSignature):
				log.With(sl.Err(err), sl.Topic(entity.TopicSecurity)).Warn("invalid webhook signature")
				http.Error(w, "signature", http.StatusBadRequest)
			case errors.Is(err, entity.ErrMalformedEvent):
				log.With(sl.Err(err)).Error("malformed event")
				http.Error(w, "json", http.StatusBadRequest)
			default:
				log.With(sl.Err(err)).Error("event not stored, requesting redelivery")
				http.Error(w, "retry", http.StatusInternalServerError)
			}
			return
		}

		log.With(
			slog.String("event_id", res.EventId),
			slog.String("type", res.Type),
			slog.String("outcome", string(res.Outcome)),
		).Debug("event handled")
		w.WriteHeader(http.StatusOK)
	}
}
