package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"picklepot/entity"
	"picklepot/internal/config"
	"picklepot/lib/sl"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	metaFlow    = "flow"
	metaPotId   = "pot_id"
	metaEntryId = "entry_id"
	metaDraftId = "draft_id"
)

// StripeClient is the payment gateway capability: it creates checkout
// sessions and authenticates webhook events.
type StripeClient struct {
	sc            *client.API
	apiKey        string
	webhookSecret string
	currency      string
	minimum       entity.Amount
	tolerance     time.Duration
	log           *slog.Logger
}

func New(conf *config.Config, logger *slog.Logger) *StripeClient {
	stripeKey, webhookSecret := conf.StripeKeys()
	log := logger.With(sl.Module("stripe"))
	if conf.Stripe.TestMode {
		log.With(
			sl.Secret("api_key", stripeKey),
			sl.Secret("webhook_secret", webhookSecret),
		).Info("using test mode for stripe")
	}
	sc := &client.API{}
	sc.Init(stripeKey, nil)
	return NewWithAPI(sc, stripeKey, webhookSecret, conf.Stripe, log)
}

// NewWithAPI wires an already initialized stripe client; tests pass one
// pointed at a local backend.
func NewWithAPI(sc *client.API, apiKey, webhookSecret string, conf config.StripeConfig, log *slog.Logger) *StripeClient {
	currency := strings.ToLower(conf.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	tolerance := conf.Tolerance
	if tolerance == 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeClient{
		sc:            sc,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		currency:      currency,
		minimum:       entity.Amount(conf.MinimumAmount),
		tolerance:     tolerance,
		log:           log,
	}
}

func (s *StripeClient) MinimumAmount() entity.Amount {
	return s.minimum
}

// CreateCheckoutSession opens a one-off payment session. The correlation ids
// travel both as metadata and as the client reference.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, req *entity.CheckoutRequest) (*entity.CheckoutSession, error) {
	if s.apiKey == "" {
		return nil, entity.ErrGatewayConfig.Wrap(fmt.Errorf("missing api key"))
	}
	log := s.log.With(
		slog.String("flow", req.Flow),
		sl.Pot(req.PotId),
		sl.Entry(req.EntryId),
		slog.String("amount", req.Amount.String()),
	)

	metadata := map[string]string{metaFlow: req.Flow}
	if req.PotId != "" {
		metadata[metaPotId] = req.PotId
	}
	if req.EntryId != "" {
		metadata[metaEntryId] = req.EntryId
	}
	if req.DraftId != "" {
		metadata[metaDraftId] = req.DraftId
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(s.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(int64(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata:          metadata,
		ClientReferenceID: stripe.String(req.Reference()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
		SuccessURL: stripe.String(req.SuccessUrl),
		CancelURL:  stripe.String(req.CancelUrl),
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Context = ctx

	cs, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		err = s.parseErr(err)
		log.With(sl.Err(err)).Error("create checkout session")
		return nil, err
	}
	log.With(slog.String("session_id", cs.ID)).Info("checkout session created")

	return &entity.CheckoutSession{
		Id:      cs.ID,
		Url:     cs.URL,
		Amount:  req.Amount,
		PotId:   req.PotId,
		EntryId: req.EntryId,
		DraftId: req.DraftId,
	}, nil
}

// CreateSubscriptionSession opens a recurring checkout for an organizer plan.
// The caller checks the price against the allowed catalog.
func (s *StripeClient) CreateSubscriptionSession(ctx context.Context, req *entity.SubscriptionCheckout) (*entity.SubscriptionSession, error) {
	if s.apiKey == "" {
		return nil, entity.ErrGatewayConfig.Wrap(fmt.Errorf("missing api key"))
	}
	log := s.log.With(slog.String("price_id", req.PriceId))

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceId),
				Quantity: stripe.Int64(1),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(req.SuccessUrl),
		CancelURL:           stripe.String(req.CancelUrl),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	cs, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		err = s.parseErr(err)
		log.With(sl.Err(err)).Error("create subscription session")
		return nil, err
	}
	log.With(slog.String("session_id", cs.ID)).Info("subscription session created")
	return &entity.SubscriptionSession{Id: cs.ID, Url: cs.URL, PriceId: req.PriceId}, nil
}

// RetrieveSubscription reads the current state of a subscription.
func (s *StripeClient) RetrieveSubscription(ctx context.Context, id string) (*entity.SubscriptionState, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.sc.Subscriptions.Get(id, params)
	if err != nil {
		return nil, s.parseErr(err)
	}
	return subscriptionState(sub), nil
}

// CustomerEmail returns the email on file for a gateway customer.
func (s *StripeClient) CustomerEmail(ctx context.Context, customerId string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := s.sc.Customers.Get(customerId, params)
	if err != nil {
		return "", s.parseErr(err)
	}
	return cust.Email, nil
}

// ParseEvent authenticates a webhook payload against the signing secret and
// extracts payment completion data when the event represents one.
func (s *StripeClient) ParseEvent(payload []byte, header string) (*entity.GatewayEvent, error) {
	if s.webhookSecret == "" {
		return nil, entity.ErrGatewayConfig.Wrap(fmt.Errorf("missing webhook secret"))
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, s.webhookSecret, s.tolerance); err != nil {
		s.log.With(sl.Err(err), sl.Topic(entity.TopicSecurity)).Warn("webhook signature rejected")
		return nil, entity.ErrInvalidSignature.Wrap(err)
	}

	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, entity.ErrMalformedEvent.Wrap(err)
	}
	out := &entity.GatewayEvent{Id: evt.ID, Type: string(evt.Type)}

	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		if evt.Data == nil {
			return nil, entity.ErrMalformedEvent.Wrap(fmt.Errorf("event without data"))
		}
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
			return nil, entity.ErrMalformedEvent.Wrap(err)
		}
		switch sess.Mode {
		case stripe.CheckoutSessionModeSubscription:
			out.Subscription = changeFromSession(&sess)
		case "", stripe.CheckoutSessionModePayment:
			out.Completion = completionFromSession(&sess)
		}

	case stripe.EventTypeInvoicePaymentSucceeded:
		if evt.Data == nil {
			return nil, entity.ErrMalformedEvent.Wrap(fmt.Errorf("event without data"))
		}
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, entity.ErrMalformedEvent.Wrap(err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return out, nil
		}
		out.Subscription = &entity.SubscriptionChange{
			SubscriptionId: inv.Subscription.ID,
			Email:          strings.ToLower(inv.CustomerEmail),
		}
		if inv.Customer != nil {
			out.Subscription.CustomerId = inv.Customer.ID
		}

	case stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		stripe.EventTypeCustomerSubscriptionPaused:
		if evt.Data == nil {
			return nil, entity.ErrMalformedEvent.Wrap(fmt.Errorf("event without data"))
		}
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, entity.ErrMalformedEvent.Wrap(err)
		}
		state := subscriptionState(&sub)
		out.Subscription = &entity.SubscriptionChange{
			SubscriptionId: sub.ID,
			CustomerId:     state.CustomerId,
			State:          state,
		}
	}
	return out, nil
}

func changeFromSession(sess *stripe.CheckoutSession) *entity.SubscriptionChange {
	c := &entity.SubscriptionChange{}
	if sess.Subscription != nil {
		c.SubscriptionId = sess.Subscription.ID
	}
	if sess.Customer != nil {
		c.CustomerId = sess.Customer.ID
	}
	email := sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email = sess.CustomerDetails.Email
	}
	c.Email = strings.ToLower(strings.TrimSpace(email))
	return c
}

func subscriptionState(sub *stripe.Subscription) *entity.SubscriptionState {
	st := &entity.SubscriptionState{
		Id:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.CurrentPeriodEnd > 0 {
		st.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Customer != nil {
		st.CustomerId = sub.Customer.ID
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return st
	}
	price := sub.Items.Data[0].Price
	st.PriceId = price.ID
	st.Amount = entity.Amount(price.UnitAmount)
	st.Currency = string(price.Currency)
	if price.Recurring != nil {
		st.Interval = string(price.Recurring.Interval)
	}
	return st
}

func completionFromSession(sess *stripe.CheckoutSession) *entity.Completion {
	c := &entity.Completion{
		SessionId: sess.ID,
		Amount:    entity.Amount(sess.AmountTotal),
		Paid:      sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusUnpaid,
	}
	if sess.PaymentIntent != nil {
		c.PaymentIntentId = sess.PaymentIntent.ID
	}
	if sess.Metadata != nil {
		c.Flow = sess.Metadata[metaFlow]
		c.PotId = sess.Metadata[metaPotId]
		c.EntryId = sess.Metadata[metaEntryId]
		c.DraftId = sess.Metadata[metaDraftId]
	}
	// metadata can be stripped; fall back to the client reference
	if ref := sess.ClientReferenceID; ref != "" {
		head, tail, ok := strings.Cut(ref, ":")
		if ok && head == entity.FlowCreate {
			if c.DraftId == "" {
				c.DraftId = tail
			}
			if c.Flow == "" {
				c.Flow = entity.FlowCreate
			}
		} else if ok {
			if c.PotId == "" {
				c.PotId = head
			}
			if c.EntryId == "" {
				c.EntryId = tail
			}
		}
	}
	if c.Flow == "" && c.PotId != "" {
		c.Flow = entity.FlowJoin
	}
	return c
}
