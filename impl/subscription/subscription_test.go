package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"picklepot/entity"
	"picklepot/internal/database"
	"picklepot/lib/clock"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	subs      map[string]*entity.SubscriptionState
	emails    map[string]string
	sessions  []*entity.SubscriptionCheckout
	lookupErr error
}

func (f *fakeGateway) CreateSubscriptionSession(_ context.Context, req *entity.SubscriptionCheckout) (*entity.SubscriptionSession, error) {
	f.sessions = append(f.sessions, req)
	return &entity.SubscriptionSession{Id: "cs_sub", Url: "https://pay.example/cs_sub", PriceId: req.PriceId}, nil
}

func (f *fakeGateway) RetrieveSubscription(_ context.Context, id string) (*entity.SubscriptionState, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	st, ok := f.subs[id]
	if !ok {
		return nil, entity.ErrGatewayRejected
	}
	c := *st
	return &c, nil
}

func (f *fakeGateway) CustomerEmail(_ context.Context, customerId string) (string, error) {
	return f.emails[customerId], nil
}

func catalog() entity.PlanCatalog {
	plans := entity.PlanCatalog{}
	plans.Add(entity.NewPlan("price_ind_m", entity.PlanIndividual, "month"))
	plans.Add(entity.NewPlan("price_club_y", entity.PlanClub, "year"))
	plans.Add(entity.NewPlan("", entity.PlanClub, "month"))
	return plans
}

func newService(t *testing.T) (*Service, *database.MemoryStore, *fakeGateway) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := database.NewMemoryStore()
	gw := &fakeGateway{
		subs: map[string]*entity.SubscriptionState{
			"sub_1": {Id: "sub_1", CustomerId: "cus_1", Status: "active", PriceId: "price_club_y", Amount: 9900, Currency: "usd"},
		},
		emails: map[string]string{"cus_1": "Org@Example.com"},
	}
	s := New(gw, db, catalog(), log)
	s.SetClock(clock.Fixed(now))
	return s, db, gw
}

func TestBeginCheckout_OnlyCatalogPrices(t *testing.T) {
	s, _, gw := newService(t)
	ctx := context.Background()

	_, err := s.BeginCheckout(ctx, &entity.SubscriptionCheckout{PriceId: "price_other"})
	assert.ErrorIs(t, err, entity.ErrUnknownPlan)
	assert.Empty(t, gw.sessions)

	sess, err := s.BeginCheckout(ctx, &entity.SubscriptionCheckout{PriceId: "price_ind_m"})
	require.NoError(t, err)
	assert.Equal(t, "price_ind_m", sess.PriceId)
	assert.Len(t, gw.sessions, 1)
}

func TestPlans_SkipsUnpricedAndSorts(t *testing.T) {
	s, _, _ := newService(t)

	plans := s.Plans()
	require.Len(t, plans, 2)
	assert.Equal(t, entity.PlanClub, plans[0].Name)
	assert.Equal(t, 10, plans[0].PotsPerMonth)
	assert.Equal(t, 64, plans[0].MaxUsersPerEvent)
	assert.Equal(t, entity.PlanIndividual, plans[1].Name)
	assert.Equal(t, 2, plans[1].PotsPerMonth)
	assert.Equal(t, 12, plans[1].MaxUsersPerEvent)
}

func TestApply_CheckoutFetchesSubscription(t *testing.T) {
	s, db, _ := newService(t)
	ctx := context.Background()

	sub, err := s.Apply(ctx, &entity.SubscriptionChange{SubscriptionId: "sub_1", CustomerId: "cus_1", Email: "org@example.com"})
	require.NoError(t, err)
	require.NotNil(t, sub)

	stored, err := db.GetOrganizerSub(ctx, "org@example.com")
	require.NoError(t, err)
	assert.Equal(t, "active", stored.Status)
	assert.Equal(t, "cus_1", stored.CustomerId)
	assert.Equal(t, "sub_1", stored.SubscriptionId)
	assert.Equal(t, entity.PlanClub, stored.Plan)
	assert.Equal(t, "year", stored.Interval)
	assert.Equal(t, 10, stored.PotsPerMonth)
	assert.Equal(t, 64, stored.MaxUsersPerEvent)
	assert.Equal(t, entity.Amount(9900), stored.Amount)
	assert.Equal(t, now, stored.Updated)
}

func TestApply_LooksUpCustomerEmail(t *testing.T) {
	s, db, _ := newService(t)
	ctx := context.Background()

	state := &entity.SubscriptionState{Id: "sub_1", CustomerId: "cus_1", Status: "past_due", PriceId: "price_ind_m"}
	_, err := s.Apply(ctx, &entity.SubscriptionChange{SubscriptionId: "sub_1", State: state})
	require.NoError(t, err)

	stored, err := db.GetOrganizerSub(ctx, "org@example.com")
	require.NoError(t, err)
	assert.Equal(t, "past_due", stored.Status)
	assert.Equal(t, entity.PlanIndividual, stored.Plan)
	assert.True(t, stored.Active())
}

func TestApply_WithoutEmailIsSkipped(t *testing.T) {
	s, _, _ := newService(t)

	state := &entity.SubscriptionState{Id: "sub_2", Status: "active"}
	sub, err := s.Apply(context.Background(), &entity.SubscriptionChange{SubscriptionId: "sub_2", State: state})
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestApply_GatewayFailure(t *testing.T) {
	s, _, gw := newService(t)
	gw.lookupErr = errors.New("timeout")

	_, err := s.Apply(context.Background(), &entity.SubscriptionChange{SubscriptionId: "sub_1", Email: "org@example.com"})
	assert.Error(t, err)
}

func TestActivate(t *testing.T) {
	s, db, _ := newService(t)
	ctx := context.Background()

	_, err := s.Activate(ctx, "alice", "nobody@example.com")
	assert.ErrorIs(t, err, entity.ErrNoSubscription)
	assert.Equal(t, entity.KindNotFound, entity.KindOf(err))

	_, err = s.Apply(ctx, &entity.SubscriptionChange{SubscriptionId: "sub_1", Email: "org@example.com"})
	require.NoError(t, err)

	sub, err := s.Activate(ctx, "alice", " ORG@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "alice", sub.Uid)

	plan, err := s.AccountPlan(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 64, plan.MaxUsersPerEvent)

	byEmail, err := db.GetOrganizerSub(ctx, "org@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", byEmail.Uid)
}

func TestActivate_RejectsInactive(t *testing.T) {
	s, db, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, db.SaveOrganizerSub(ctx, &entity.OrganizerSub{Email: "org@example.com", Status: "canceled"}))

	_, err := s.Activate(ctx, "alice", "org@example.com")
	assert.ErrorIs(t, err, entity.ErrInactivePlan)
	assert.Equal(t, entity.KindValidation, entity.KindOf(err))

	_, err = db.GetAccountSub(ctx, "alice")
	assert.ErrorIs(t, err, entity.ErrNoSubscription)
}

func TestApply_CancellationReachesAccount(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.Apply(ctx, &entity.SubscriptionChange{SubscriptionId: "sub_1", Email: "org@example.com"})
	require.NoError(t, err)
	_, err = s.Activate(ctx, "alice", "org@example.com")
	require.NoError(t, err)

	state := &entity.SubscriptionState{Id: "sub_1", CustomerId: "cus_1", Status: "canceled", PriceId: "price_club_y"}
	_, err = s.Apply(ctx, &entity.SubscriptionChange{SubscriptionId: "sub_1", State: state})
	require.NoError(t, err)

	_, err = s.AccountPlan(ctx, "alice")
	assert.ErrorIs(t, err, entity.ErrInactivePlan)
}

func TestActivate_MovesBetweenAccounts(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.Apply(ctx, &entity.SubscriptionChange{SubscriptionId: "sub_1", Email: "org@example.com"})
	require.NoError(t, err)
	_, err = s.Activate(ctx, "alice", "org@example.com")
	require.NoError(t, err)
	_, err = s.Activate(ctx, "bob", "org@example.com")
	require.NoError(t, err)

	_, err = s.AccountPlan(ctx, "alice")
	assert.ErrorIs(t, err, entity.ErrInactivePlan)
	_, err = s.AccountPlan(ctx, "bob")
	assert.NoError(t, err)
}
