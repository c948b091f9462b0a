package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
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
	"picklepot/internal/database"
	"picklepot/internal/http-server/middleware/owner"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeGateway struct{}

func (fakeGateway) CreateCheckoutSession(_ context.Context, req *entity.CheckoutRequest) (*entity.CheckoutSession, error) {
	return &entity.CheckoutSession{Id: "cs_" + req.EntryId, Url: "https://pay.example/" + req.EntryId, Amount: req.Amount, PotId: req.PotId, EntryId: req.EntryId}, nil
}

func (fakeGateway) MinimumAmount() entity.Amount {
	return 50
}

func (fakeGateway) CreateSubscriptionSession(_ context.Context, req *entity.SubscriptionCheckout) (*entity.SubscriptionSession, error) {
	return &entity.SubscriptionSession{Id: "cs_sub", Url: "https://pay.example/sub", PriceId: req.PriceId}, nil
}

func (fakeGateway) RetrieveSubscription(_ context.Context, id string) (*entity.SubscriptionState, error) {
	return &entity.SubscriptionState{Id: id, CustomerId: "cus_1", Status: "active", PriceId: "price_ind_m", Amount: 900, Currency: "usd"}, nil
}

func (fakeGateway) CustomerEmail(context.Context, string) (string, error) {
	return "org@example.com", nil
}

// signedVerifier treats the signature header "ok" as authentic and the
// payload as either a completion or a subscription change.
type signedVerifier struct{}

func (signedVerifier) ParseEvent(payload []byte, header string) (*entity.GatewayEvent, error) {
	if header != "ok" {
		return nil, entity.ErrInvalidSignature
	}
	var body struct {
		entity.Completion
		Subscription *entity.SubscriptionChange
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, entity.ErrMalformedEvent.Wrap(err)
	}
	if body.Subscription != nil {
		return &entity.GatewayEvent{Id: "evt_" + body.Subscription.SubscriptionId, Type: "customer.subscription.updated", Subscription: body.Subscription}, nil
	}
	c := body.Completion
	return &entity.GatewayEvent{Id: "evt_" + c.EntryId, Type: "checkout.session.completed", Completion: &c}, nil
}

type testServer struct {
	*httptest.Server
	store *database.MemoryStore
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewMemoryStore()
	store.AddUser(&entity.User{Username: "club", Token: "club-token", Orgs: []string{"org-1"}})

	rosters := roster.New(store, log)
	credentials := credential.New(store, 8, bcrypt.MinCost, log)
	gate := admission.New(store, rosters, log)
	orchestrator := checkout.New(fakeGateway{}, store, log)
	plans := entity.PlanCatalog{}
	plans.Add(entity.NewPlan("price_ind_m", entity.PlanIndividual, "month"))
	subs := subscription.New(fakeGateway{}, store, plans, log)
	processor := reconcile.New(signedVerifier{}, store, store, false, uuid.NewString, log)
	processor.SetSubscriptions(subs)
	potService := pots.New(store, credentials, orchestrator, 3*time.Hour, 1000, uuid.NewString, log)
	potService.SetPlans(subs)
	handler := core.New(store, core.Components{
		Credentials: credentials,
		Admission:   gate,
		Checkout:    orchestrator,
		Reconcile:   processor,
		Ledger:      ledger.New(store, log),
		Relocation:  relocation.New(store, gate, store, uuid.NewString, log),
		Pots:        potService,
		Roster:      rosters,
		Plans:       subs,
	}, log)
	handler.SetAuthService(auth.New(store))
	handler.SetRedirectOrigins([]string{"https://app.example"})

	srv := httptest.NewServer(NewRouter(log, handler))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

type envelope struct {
	Data          json.RawMessage `json:"data"`
	Success       bool            `json:"success"`
	StatusMessage string          `json:"status_message"`
	Reason        entity.Kind     `json:"reason"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, header map[string]string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return res.StatusCode, env
}

type createdPot struct {
	Pot   entity.Pot        `json:"pot"`
	Owner entity.OwnerGrant `json:"owner"`
}

func (s *testServer) createPot(t *testing.T) createdPot {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/v1/pots", map[string]any{
		"name":         "Friday",
		"buyin_member": 1000,
		"buyin_guest":  1500,
		"start":        time.Now().UTC().Add(-time.Hour),
		"methods":      []string{"stripe", "zelle"},
		"share_pct":    50,
	}, nil)
	require.Equal(t, http.StatusCreated, status, env.StatusMessage)
	var out createdPot
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.NotEmpty(t, out.Owner.Code)
	return out
}

func (s *testServer) admit(t *testing.T, potId string, body map[string]any) (int, envelope) {
	t.Helper()
	return s.do(t, http.MethodPost, "/v1/pots/"+potId+"/entries", body, nil)
}

func TestAdmit_CreatedThenConflict(t *testing.T) {
	s := newServer(t)
	pot := s.createPot(t)

	status, env := s.admit(t, pot.Pot.Id, map[string]any{"name": "Ana", "email": "ana@example.com", "class": "guest", "method": "zelle"})
	require.Equal(t, http.StatusCreated, status, env.StatusMessage)
	var admitted struct {
		EntryId string        `json:"entry_id"`
		BuyIn   entity.Amount `json:"buyin"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &admitted))
	assert.NotEmpty(t, admitted.EntryId)
	assert.Equal(t, entity.Amount(1500), admitted.BuyIn)

	status, env = s.admit(t, pot.Pot.Id, map[string]any{"name": "Bea", "email": "ANA@example.com", "class": "guest", "method": "zelle"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, entity.KindConflict, env.Reason)
	assert.Equal(t, "duplicate email", env.StatusMessage)
}

func TestAdmit_ValidationErrors(t *testing.T) {
	s := newServer(t)
	pot := s.createPot(t)

	status, _ := s.admit(t, pot.Pot.Id, map[string]any{"name": "", "class": "guest", "method": "zelle"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env := s.admit(t, pot.Pot.Id, map[string]any{"name": "Ana", "class": "guest", "method": "cashapp"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, entity.KindValidation, env.Reason)

	status, _ = s.admit(t, "missing", map[string]any{"name": "Ana", "class": "guest", "method": "zelle"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdmin_RequiresOwnerCredential(t *testing.T) {
	s := newServer(t)
	pot := s.createPot(t)
	path := "/v1/pots/" + pot.Pot.Id + "/admin/entries"

	status, _ := s.do(t, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, path, nil, map[string]string{owner.HeaderCode: "WRONG123"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, path, nil, map[string]string{owner.HeaderCode: pot.Owner.Code})
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, path+"?token="+pot.Owner.Token, nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAdmin_RotateLinkRevokesOldToken(t *testing.T) {
	s := newServer(t)
	pot := s.createPot(t)
	base := "/v1/pots/" + pot.Pot.Id + "/admin"
	byCode := map[string]string{owner.HeaderCode: pot.Owner.Code}

	status, env := s.do(t, http.MethodPost, base+"/rotate-link", nil, byCode)
	require.Equal(t, http.StatusOK, status, env.StatusMessage)

	status, _ = s.do(t, http.MethodGet, base+"/entries", nil, map[string]string{owner.HeaderToken: pot.Owner.Token})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = s.do(t, http.MethodGet, base+"/entries", nil, byCode)
	assert.Equal(t, http.StatusOK, status)
}

func TestWebhook_PaysEntryAndUpdatesLedger(t *testing.T) {
	s := newServer(t)
	pot := s.createPot(t)

	_, env := s.admit(t, pot.Pot.Id, map[string]any{"name": "Ana", "class": "member", "method": "stripe"})
	var admitted struct {
		EntryId string `json:"entry_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &admitted))

	completion := entity.Completion{SessionId: "cs_1", Flow: entity.FlowJoin, PotId: pot.Pot.Id, EntryId: admitted.EntryId, Amount: 1000, Paid: true}

	status, _ := s.do(t, http.MethodPost, "/webhook/event", completion, map[string]string{"Stripe-Signature": "forged"})
	assert.Equal(t, http.StatusBadRequest, status)

	for i := 0; i < 2; i++ {
		status, _ = s.do(t, http.MethodPost, "/webhook/event", completion, map[string]string{"Stripe-Signature": "ok"})
		assert.Equal(t, http.StatusOK, status)
	}

	status, env = s.do(t, http.MethodGet, "/v1/pots/"+pot.Pot.Id+"/ledger", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var summary ledger.Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, entity.Amount(1000), summary.TotalPaid)
	assert.Equal(t, entity.Amount(500), summary.SharePaid)
	assert.Equal(t, 1, summary.CountPaid)
}

func TestEntryCheckout_RejectsPaidEntry(t *testing.T) {
	s := newServer(t)
	pot := s.createPot(t)
	_, env := s.admit(t, pot.Pot.Id, map[string]any{"name": "Ana", "class": "member", "method": "stripe"})
	var admitted struct {
		EntryId string `json:"entry_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &admitted))
	path := "/v1/pots/" + pot.Pot.Id + "/entries/" + admitted.EntryId + "/checkout"
	targets := map[string]string{"success_url": "https://app.example/ok", "cancel_url": "https://app.example/no"}

	status, env := s.do(t, http.MethodPost, path, targets, nil)
	require.Equal(t, http.StatusOK, status, env.StatusMessage)

	_, err := s.store.MarkPaid(context.Background(), pot.Pot.Id, admitted.EntryId, entity.PaymentRecord{Amount: 1000, At: time.Now()})
	require.NoError(t, err)

	status, env = s.do(t, http.MethodPost, path, targets, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "entry already paid", env.StatusMessage)
}

func TestOrgRoster_BearerAndScope(t *testing.T) {
	s := newServer(t)
	bearer := map[string]string{"Authorization": "Bearer club-token"}

	status, _ := s.do(t, http.MethodGet, "/v1/org/rosters/org-1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := s.do(t, http.MethodPut, "/v1/org/rosters/org-1", map[string]any{"emails": []string{"B@x.com", "a@x.com"}}, bearer)
	require.Equal(t, http.StatusOK, status, env.StatusMessage)

	status, env = s.do(t, http.MethodGet, "/v1/org/rosters/org-1", nil, bearer)
	require.Equal(t, http.StatusOK, status)
	var out struct {
		Emails []string `json:"emails"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, out.Emails)

	status, _ = s.do(t, http.MethodGet, "/v1/org/rosters/org-2", nil, bearer)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestLedgerStream_EndsWhenPotDeleted(t *testing.T) {
	s := newServer(t)
	pot := s.createPot(t)

	res, err := http.Get(s.URL + "/v1/pots/" + pot.Pot.Id + "/ledger/stream?observer=tab-1")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	reader := bufio.NewReader(res.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ledger\n", line)

	status, env := s.do(t, http.MethodDelete, "/v1/pots/"+pot.Pot.Id+"/admin", nil, map[string]string{owner.HeaderCode: pot.Owner.Code})
	require.Equal(t, http.StatusOK, status, env.StatusMessage)

	rest := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(reader)
		rest <- string(b)
	}()
	select {
	case tail := <-rest:
		assert.Contains(t, tail, "event: end")
	case <-time.After(3 * time.Second):
		t.Fatal("ledger stream still open after the pot was deleted")
	}
}

func (s *testServer) admitStripe(t *testing.T, potId, name string) string {
	t.Helper()
	status, env := s.admit(t, potId, map[string]any{"name": name, "class": "member", "method": "stripe"})
	require.Equal(t, http.StatusCreated, status, env.StatusMessage)
	var admitted struct {
		EntryId string `json:"entry_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &admitted))
	return admitted.EntryId
}

// getNoFollow issues a GET without following redirects.
func (s *testServer) getNoFollow(t *testing.T, path string) *http.Response {
	t.Helper()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	res, err := client.Get(s.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestCancelJoin_NeedsCheckoutSession(t *testing.T) {
	s := newServer(t)
	pot := s.createPot(t)
	ctx := context.Background()
	entryId := s.admitStripe(t, pot.Pot.Id, "Ana")
	base := "/v1/pots/" + pot.Pot.Id + "/entries/" + entryId

	status, _ := s.do(t, http.MethodGet, base+"/cancel", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env := s.do(t, http.MethodGet, base+"/cancel?session_id=cs_guess", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"removed":false}`, string(env.Data))
	_, err := s.store.GetEntry(ctx, pot.Pot.Id, entryId)
	require.NoError(t, err)

	targets := map[string]string{"success_url": "https://app.example/ok", "cancel_url": "https://app.example/no"}
	status, env = s.do(t, http.MethodPost, base+"/checkout", targets, nil)
	require.Equal(t, http.StatusOK, status, env.StatusMessage)
	var sess entity.CheckoutSession
	require.NoError(t, json.Unmarshal(env.Data, &sess))

	status, env = s.do(t, http.MethodGet, base+"/cancel?session_id="+sess.Id, nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"removed":true}`, string(env.Data))
	_, err = s.store.GetEntry(ctx, pot.Pot.Id, entryId)
	assert.ErrorIs(t, err, entity.ErrEntryNotFound)
}

func TestCancelJoin_KeepsOfflineEntry(t *testing.T) {
	s := newServer(t)
	pot := s.createPot(t)
	status, env := s.admit(t, pot.Pot.Id, map[string]any{"name": "Bo", "class": "guest", "method": "zelle"})
	require.Equal(t, http.StatusCreated, status, env.StatusMessage)
	var admitted struct {
		EntryId string `json:"entry_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &admitted))

	status, env = s.do(t, http.MethodGet, "/v1/pots/"+pot.Pot.Id+"/entries/"+admitted.EntryId+"/cancel?session_id=cs_any", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"removed":false}`, string(env.Data))
	_, err := s.store.GetEntry(context.Background(), pot.Pot.Id, admitted.EntryId)
	assert.NoError(t, err)
}

func TestCancelCreate_RedirectsOnlyToAllowedOrigins(t *testing.T) {
	s := newServer(t)
	base := "/v1/pots/cancel-create?draft=d-1&redirect="

	res := s.getNoFollow(t, base+url.QueryEscape("https://evil.example/phish"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Header.Get("Location"))

	res = s.getNoFollow(t, base+url.QueryEscape("https://app.example.evil.example/x"))
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = s.getNoFollow(t, base+url.QueryEscape("https://user@app.example/x"))
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = s.getNoFollow(t, base+url.QueryEscape("https://APP.example/pots/new"))
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "https://APP.example/pots/new", res.Header.Get("Location"))
}

func TestWebhook_RejectsOversizedBody(t *testing.T) {
	s := newServer(t)

	body := bytes.Repeat([]byte("a"), 1<<18+1)
	req, err := http.NewRequest(http.MethodPost, s.URL+"/webhook/event", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", "ok")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
}

func TestSubscription_CheckoutActivateAndCreate(t *testing.T) {
	s := newServer(t)
	bearer := map[string]string{"Authorization": "Bearer club-token"}
	targets := map[string]string{"success_url": "https://app.example/ok", "cancel_url": "https://app.example/no"}

	status, env := s.do(t, http.MethodPost, "/v1/subscriptions/checkout", map[string]any{"price_id": "price_other", "success_url": targets["success_url"], "cancel_url": targets["cancel_url"]}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid price_id", env.StatusMessage)

	status, env = s.do(t, http.MethodPost, "/v1/subscriptions/checkout", map[string]any{"price_id": "price_ind_m", "success_url": targets["success_url"], "cancel_url": targets["cancel_url"]}, nil)
	require.Equal(t, http.StatusOK, status, env.StatusMessage)

	status, env = s.do(t, http.MethodPost, "/v1/org/subscription/activate", map[string]string{"email": "org@example.com"}, bearer)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "no subscription found for that email", env.StatusMessage)

	change := map[string]any{"Subscription": entity.SubscriptionChange{SubscriptionId: "sub_1", CustomerId: "cus_1", Email: "org@example.com"}}
	status, _ = s.do(t, http.MethodPost, "/webhook/event", change, map[string]string{"Stripe-Signature": "ok"})
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodPost, "/v1/org/subscription/activate", map[string]string{"email": "ORG@example.com"}, bearer)
	require.Equal(t, http.StatusOK, status, env.StatusMessage)

	draft := map[string]any{
		"name":         "Club night",
		"buyin_member": 1000,
		"buyin_guest":  1500,
		"start":        time.Now().UTC().Add(-time.Hour),
		"methods":      []string{"stripe"},
	}
	for i := 0; i < 2; i++ {
		status, env = s.do(t, http.MethodPost, "/v1/org/pots", draft, bearer)
		require.Equal(t, http.StatusCreated, status, env.StatusMessage)
	}
	var created createdPot
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, 12, created.Pot.MaxEntries)
	assert.Equal(t, "club", created.Pot.OwnerUid)

	status, env = s.do(t, http.MethodPost, "/v1/org/pots", draft, bearer)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "monthly pot allowance used", env.StatusMessage)
}
