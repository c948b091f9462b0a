package stripeclient

import (
	"errors"
	"net/http"
	"picklepot/entity"

	"github.com/stripe/stripe-go/v76"
)

// parseErr sorts gateway failures into the engine's error kinds.
func (s *StripeClient) parseErr(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return entity.ErrGatewayUnavailable.Wrap(err)
	}
	if se.Code == stripe.ErrorCodeAmountTooSmall {
		return entity.ErrAmountTooSmall.Wrap(se)
	}
	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized,
		se.HTTPStatusCode == http.StatusForbidden,
		se.Type == stripe.ErrorTypeInvalidRequest:
		return entity.ErrGatewayConfig.Wrap(se)
	case se.HTTPStatusCode >= http.StatusInternalServerError,
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode == 0:
		return entity.ErrGatewayUnavailable.Wrap(se)
	}
	return entity.ErrGatewayRejected.Wrap(se)
}
