package stripeclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"picklepot/entity"
	"picklepot/internal/config"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const secret = "whsec_test"

func newClient(apiKey, webhookSecret string) *StripeClient {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWithAPI(nil, apiKey, webhookSecret, config.StripeConfig{MinimumAmount: 50}, log)
}

func sign(payload []byte, key string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(fmt.Sprintf("%d.%s", at.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

const completedEvent = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": "cs_1",
      "object": "checkout.session",
      "mode": "payment",
      "payment_status": "paid",
      "amount_total": 2000,
      "payment_intent": "pi_1",
      "client_reference_id": "pot-1:e1",
      "metadata": {"flow": "join", "pot_id": "pot-1", "entry_id": "e1"}
    }
  }
}`

func TestParseEvent_Completed(t *testing.T) {
	s := newClient("sk", secret)
	payload := []byte(completedEvent)

	evt, err := s.ParseEvent(payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.Id)
	require.NotNil(t, evt.Completion)
	c := evt.Completion
	assert.Equal(t, "cs_1", c.SessionId)
	assert.Equal(t, "pi_1", c.PaymentIntentId)
	assert.Equal(t, entity.FlowJoin, c.Flow)
	assert.Equal(t, "pot-1", c.PotId)
	assert.Equal(t, "e1", c.EntryId)
	assert.Equal(t, entity.Amount(2000), c.Amount)
	assert.True(t, c.Paid)
}

func TestParseEvent_InvalidSignature(t *testing.T) {
	s := newClient("sk", secret)
	payload := []byte(completedEvent)

	_, err := s.ParseEvent(payload, sign(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, entity.ErrInvalidSignature)

	_, err = s.ParseEvent(payload, "")
	assert.ErrorIs(t, err, entity.ErrInvalidSignature)
}

func TestParseEvent_StaleTimestamp(t *testing.T) {
	s := newClient("sk", secret)
	payload := []byte(completedEvent)

	_, err := s.ParseEvent(payload, sign(payload, secret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, entity.ErrInvalidSignature)
}

func TestParseEvent_MissingSecret(t *testing.T) {
	s := newClient("sk", "")
	payload := []byte(completedEvent)

	_, err := s.ParseEvent(payload, sign(payload, secret, time.Now()))
	assert.ErrorIs(t, err, entity.ErrGatewayConfig)
}

func TestParseEvent_OtherTypeHasNoCompletion(t *testing.T) {
	s := newClient("sk", secret)
	payload := []byte(`{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)

	evt, err := s.ParseEvent(payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "charge.refunded", evt.Type)
	assert.Nil(t, evt.Completion)
}

func TestCompletionFromSession_ClientReferenceFallback(t *testing.T) {
	c := completionFromSession(&stripe.CheckoutSession{ID: "cs_1", ClientReferenceID: "pot-1:e1", PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid})
	assert.Equal(t, entity.FlowJoin, c.Flow)
	assert.Equal(t, "pot-1", c.PotId)
	assert.Equal(t, "e1", c.EntryId)

	c = completionFromSession(&stripe.CheckoutSession{ID: "cs_2", ClientReferenceID: "create:draft-1"})
	assert.Equal(t, entity.FlowCreate, c.Flow)
	assert.Equal(t, "draft-1", c.DraftId)
	assert.Empty(t, c.PotId)
}

func TestCompletionFromSession_Unpaid(t *testing.T) {
	c := completionFromSession(&stripe.CheckoutSession{ID: "cs_1", PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid})
	assert.False(t, c.Paid)
	assert.Empty(t, c.Flow)
}

func TestParseErr(t *testing.T) {
	s := newClient("sk", secret)

	assert.ErrorIs(t, s.parseErr(errors.New("dial tcp: refused")), entity.ErrGatewayUnavailable)
	assert.ErrorIs(t, s.parseErr(&stripe.Error{Code: stripe.ErrorCodeAmountTooSmall, HTTPStatusCode: 400}), entity.ErrAmountTooSmall)
	assert.ErrorIs(t, s.parseErr(&stripe.Error{HTTPStatusCode: 401}), entity.ErrGatewayConfig)
	assert.ErrorIs(t, s.parseErr(&stripe.Error{HTTPStatusCode: 503}), entity.ErrGatewayUnavailable)
	assert.ErrorIs(t, s.parseErr(&stripe.Error{HTTPStatusCode: 402, Type: stripe.ErrorTypeCard}), entity.ErrGatewayRejected)
}

func TestCreateCheckoutSession_MissingKey(t *testing.T) {
	s := newClient("", secret)

	_, err := s.CreateCheckoutSession(context.Background(), &entity.CheckoutRequest{Flow: entity.FlowJoin, PotId: "pot-1", EntryId: "e1", Amount: 2000})
	assert.ErrorIs(t, err, entity.ErrGatewayConfig)
}

// recorded is what the local gateway backend received.
type recorded struct {
	method string
	path   string
	auth   string
	form   url.Values
}

// newBackendClient points a client at a local server answering every call
// with body.
func newBackendClient(t *testing.T, body string, rec *recorded) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		rec.method, rec.path, rec.auth = r.Method, r.URL.Path, r.Header.Get("Authorization")
		rec.form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	sc := &client.API{}
	sc.Init("sk_test", &stripe.Backends{API: b, Connect: b, Uploads: b})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWithAPI(sc, "sk_test", secret, config.StripeConfig{Currency: "USD", MinimumAmount: 50}, log)
}

const sessionBody = `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.example/cs_test_1"}`

func TestCreateCheckoutSession_SendsCorrelation(t *testing.T) {
	var rec recorded
	s := newBackendClient(t, sessionBody, &rec)

	sess, err := s.CreateCheckoutSession(context.Background(), &entity.CheckoutRequest{
		Flow:        entity.FlowJoin,
		PotId:       "pot-1",
		EntryId:     "e1",
		Amount:      2500,
		Description: "Pot join: Ann",
		Email:       " ann@example.com ",
		RedirectTargets: entity.RedirectTargets{
			SuccessUrl: "https://app.example/ok",
			CancelUrl:  "https://app.example/cancel",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.Id)
	assert.Equal(t, "https://checkout.example/cs_test_1", sess.Url)
	assert.Equal(t, entity.Amount(2500), sess.Amount)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/v1/checkout/sessions", rec.path)
	assert.Equal(t, "Bearer sk_test", rec.auth)
	f := rec.form
	assert.Equal(t, "payment", f.Get("mode"))
	assert.Equal(t, "join", f.Get("metadata[flow]"))
	assert.Equal(t, "pot-1", f.Get("metadata[pot_id]"))
	assert.Equal(t, "e1", f.Get("metadata[entry_id]"))
	assert.Empty(t, f.Get("metadata[draft_id]"))
	assert.Equal(t, "pot-1:e1", f.Get("client_reference_id"))
	assert.Equal(t, "pot-1", f.Get("payment_intent_data[metadata][pot_id]"))
	assert.Equal(t, "e1", f.Get("payment_intent_data[metadata][entry_id]"))
	assert.Equal(t, "usd", f.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "2500", f.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "Pot join: Ann", f.Get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "1", f.Get("line_items[0][quantity]"))
	assert.Equal(t, "ann@example.com", f.Get("customer_email"))
	assert.Equal(t, "https://app.example/ok", f.Get("success_url"))
	assert.Equal(t, "https://app.example/cancel", f.Get("cancel_url"))
}

func TestCreateCheckoutSession_CreateFlowReference(t *testing.T) {
	var rec recorded
	s := newBackendClient(t, sessionBody, &rec)

	_, err := s.CreateCheckoutSession(context.Background(), &entity.CheckoutRequest{
		Flow:    entity.FlowCreate,
		DraftId: "draft-1",
		Amount:  1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "create:draft-1", rec.form.Get("client_reference_id"))
	assert.Equal(t, "draft-1", rec.form.Get("metadata[draft_id]"))
	assert.Equal(t, "create", rec.form.Get("payment_intent_data[metadata][flow]"))
	assert.Empty(t, rec.form.Get("metadata[pot_id]"))
	assert.Empty(t, rec.form.Get("customer_email"))
}

func TestCreateSubscriptionSession_SendsPlanPrice(t *testing.T) {
	var rec recorded
	s := newBackendClient(t, sessionBody, &rec)

	sess, err := s.CreateSubscriptionSession(context.Background(), &entity.SubscriptionCheckout{
		PriceId: "price_club_m",
		Email:   "org@example.com",
		RedirectTargets: entity.RedirectTargets{
			SuccessUrl: "https://app.example/ok",
			CancelUrl:  "https://app.example/cancel",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.Id)
	assert.Equal(t, "price_club_m", sess.PriceId)

	f := rec.form
	assert.Equal(t, "/v1/checkout/sessions", rec.path)
	assert.Equal(t, "subscription", f.Get("mode"))
	assert.Equal(t, "price_club_m", f.Get("line_items[0][price]"))
	assert.Equal(t, "1", f.Get("line_items[0][quantity]"))
	assert.Equal(t, "true", f.Get("allow_promotion_codes"))
	assert.Equal(t, "card", f.Get("payment_method_types[0]"))
	assert.Equal(t, "org@example.com", f.Get("customer_email"))
	assert.Empty(t, f.Get("line_items[0][price_data][currency]"))
}

func TestRetrieveSubscription(t *testing.T) {
	var rec recorded
	body := `{
	  "id": "sub_1",
	  "object": "subscription",
	  "status": "active",
	  "customer": "cus_1",
	  "current_period_end": 1790000000,
	  "items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item",
	    "price": {"id": "price_ind_m", "object": "price", "unit_amount": 900, "currency": "usd",
	      "recurring": {"interval": "month"}}}]}
	}`
	s := newBackendClient(t, body, &rec)

	st, err := s.RetrieveSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/v1/subscriptions/sub_1", rec.path)
	assert.Equal(t, "sub_1", st.Id)
	assert.Equal(t, "active", st.Status)
	assert.Equal(t, "cus_1", st.CustomerId)
	assert.Equal(t, "price_ind_m", st.PriceId)
	assert.Equal(t, "month", st.Interval)
	assert.Equal(t, entity.Amount(900), st.Amount)
	assert.Equal(t, "usd", st.Currency)
	assert.Equal(t, time.Unix(1790000000, 0).UTC(), st.CurrentPeriodEnd)
}

func TestCustomerEmail(t *testing.T) {
	var rec recorded
	s := newBackendClient(t, `{"id":"cus_1","object":"customer","email":"Org@Example.com"}`, &rec)

	email, err := s.CustomerEmail(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "/v1/customers/cus_1", rec.path)
	assert.Equal(t, "Org@Example.com", email)
}

func TestParseEvent_SubscriptionCheckout(t *testing.T) {
	s := newClient("sk", secret)
	payload := []byte(`{
	  "id": "evt_3",
	  "object": "event",
	  "type": "checkout.session.completed",
	  "data": {"object": {"id": "cs_9", "object": "checkout.session", "mode": "subscription",
	    "customer": "cus_1", "subscription": "sub_1",
	    "customer_details": {"email": "Org@Example.com"}}}
	}`)

	evt, err := s.ParseEvent(payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	assert.Nil(t, evt.Completion)
	require.NotNil(t, evt.Subscription)
	assert.Equal(t, "sub_1", evt.Subscription.SubscriptionId)
	assert.Equal(t, "cus_1", evt.Subscription.CustomerId)
	assert.Equal(t, "org@example.com", evt.Subscription.Email)
	assert.Nil(t, evt.Subscription.State)
}

func TestParseEvent_SubscriptionLifecycle(t *testing.T) {
	s := newClient("sk", secret)
	payload := []byte(`{
	  "id": "evt_4",
	  "object": "event",
	  "type": "customer.subscription.deleted",
	  "data": {"object": {"id": "sub_1", "object": "subscription", "status": "canceled",
	    "customer": "cus_1", "current_period_end": 1790000000,
	    "items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item",
	      "price": {"id": "price_club_y", "object": "price", "unit_amount": 9900, "currency": "usd",
	        "recurring": {"interval": "year"}}}]}}}
	}`)

	evt, err := s.ParseEvent(payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, evt.Subscription)
	require.NotNil(t, evt.Subscription.State)
	st := evt.Subscription.State
	assert.Equal(t, "canceled", st.Status)
	assert.Equal(t, "price_club_y", st.PriceId)
	assert.Equal(t, "year", st.Interval)
	assert.Equal(t, "cus_1", evt.Subscription.CustomerId)
}

func TestParseEvent_InvoicePaid(t *testing.T) {
	s := newClient("sk", secret)
	payload := []byte(`{
	  "id": "evt_5",
	  "object": "event",
	  "type": "invoice.payment_succeeded",
	  "data": {"object": {"id": "in_1", "object": "invoice", "customer": "cus_1",
	    "customer_email": "org@example.com", "subscription": "sub_1"}}
	}`)

	evt, err := s.ParseEvent(payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, evt.Subscription)
	assert.Equal(t, "sub_1", evt.Subscription.SubscriptionId)
	assert.Equal(t, "cus_1", evt.Subscription.CustomerId)
	assert.Equal(t, "org@example.com", evt.Subscription.Email)
	assert.Nil(t, evt.Subscription.State)
}
