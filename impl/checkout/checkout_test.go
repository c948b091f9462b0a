package checkout

import (
	"context"
	"io"
	"log/slog"
	"picklepot/entity"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	minimum entity.Amount
	calls   []*entity.CheckoutRequest
	err     error
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, req *entity.CheckoutRequest) (*entity.CheckoutSession, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &entity.CheckoutSession{Id: "cs_1", Url: "https://pay.example/cs_1", Amount: req.Amount, PotId: req.PotId, EntryId: req.EntryId}, nil
}

func (f *fakeGateway) MinimumAmount() entity.Amount {
	return f.minimum
}

func newOrchestrator() (*Orchestrator, *fakeGateway) {
	gw := &fakeGateway{minimum: 50}
	return New(gw, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), gw
}

var targets = entity.RedirectTargets{SuccessUrl: "https://app.example/ok", CancelUrl: "https://app.example/cancel"}

func stripePot() *entity.Pot {
	return &entity.Pot{Id: "pot-1", Name: "Friday", Methods: entity.NewMethodSet(entity.MethodStripe)}
}

func TestBeginPayment_CorrelatesEntry(t *testing.T) {
	o, gw := newOrchestrator()
	entry := &entity.Entry{Id: "e1", PotId: "pot-1", Name: "Ana", Email: "ana@example.com", Method: entity.MethodStripe, BuyIn: 2000}

	sess, err := o.BeginPayment(context.Background(), stripePot(), entry, targets)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.Id)

	require.Len(t, gw.calls, 1)
	req := gw.calls[0]
	assert.Equal(t, entity.FlowJoin, req.Flow)
	assert.Equal(t, "pot-1:e1", req.Reference())
	assert.Equal(t, entity.Amount(2000), req.Amount)
	assert.Equal(t, "ana@example.com", req.Email)
	assert.Equal(t, targets, req.RedirectTargets)
}

func TestBeginPayment_BelowMinimumSkipsGateway(t *testing.T) {
	o, gw := newOrchestrator()
	entry := &entity.Entry{Id: "e1", PotId: "pot-1", Method: entity.MethodStripe, BuyIn: 30}

	_, err := o.BeginPayment(context.Background(), stripePot(), entry, targets)
	assert.ErrorIs(t, err, entity.ErrAmountTooSmall)
	assert.Empty(t, gw.calls)
}

func TestBeginPayment_FreeEntry(t *testing.T) {
	o, gw := newOrchestrator()
	entry := &entity.Entry{Id: "e1", PotId: "pot-1", Method: entity.MethodStripe, BuyIn: 0}

	_, err := o.BeginPayment(context.Background(), stripePot(), entry, targets)
	assert.ErrorIs(t, err, entity.ErrAmountTooSmall)
	assert.Empty(t, gw.calls)
}

func TestBeginPayment_MethodDisabled(t *testing.T) {
	o, gw := newOrchestrator()
	pot := stripePot()
	pot.Methods = entity.NewMethodSet(entity.MethodZelle)
	entry := &entity.Entry{Id: "e1", PotId: "pot-1", Method: entity.MethodStripe, BuyIn: 2000}

	_, err := o.BeginPayment(context.Background(), pot, entry, targets)
	assert.ErrorIs(t, err, entity.ErrMethodDisabled)

	entry.Method = entity.MethodZelle
	_, err = o.BeginPayment(context.Background(), stripePot(), entry, targets)
	assert.ErrorIs(t, err, entity.ErrMethodDisabled)
	assert.Empty(t, gw.calls)
}

func TestBeginPayment_AlreadyPaid(t *testing.T) {
	o, gw := newOrchestrator()
	entry := &entity.Entry{Id: "e1", PotId: "pot-1", Method: entity.MethodStripe, BuyIn: 2000, Paid: true}

	_, err := o.BeginPayment(context.Background(), stripePot(), entry, targets)
	assert.ErrorIs(t, err, entity.ErrAlreadyPaid)
	assert.Empty(t, gw.calls)
}

func TestBeginPayment_GatewayFailurePropagates(t *testing.T) {
	o, gw := newOrchestrator()
	gw.err = entity.ErrGatewayUnavailable
	entry := &entity.Entry{Id: "e1", PotId: "pot-1", Method: entity.MethodStripe, BuyIn: 2000}

	_, err := o.BeginPayment(context.Background(), stripePot(), entry, targets)
	assert.ErrorIs(t, err, entity.ErrGatewayUnavailable)
	assert.Len(t, gw.calls, 1)
}

func TestBeginPotCheckout_UsesDraftReference(t *testing.T) {
	o, gw := newOrchestrator()

	_, err := o.BeginPotCheckout(context.Background(), &entity.Pot{Id: "draft-1", Name: "Sunday"}, 1000, "org@example.com", targets)
	require.NoError(t, err)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, entity.FlowCreate, gw.calls[0].Flow)
	assert.Equal(t, "create:draft-1", gw.calls[0].Reference())
}

type recordedSessions map[string]*entity.JoinSession

func (r recordedSessions) SaveJoinSession(_ context.Context, js *entity.JoinSession) error {
	r[js.SessionId] = js
	return nil
}

func TestBeginPayment_RecordsJoinSession(t *testing.T) {
	gw := &fakeGateway{minimum: 50}
	sessions := recordedSessions{}
	o := New(gw, sessions, slog.New(slog.NewTextHandler(io.Discard, nil)))
	entry := &entity.Entry{Id: "e1", PotId: "pot-1", Name: "Ana", Method: entity.MethodStripe, BuyIn: 2000}

	_, err := o.BeginPayment(context.Background(), stripePot(), entry, targets)
	require.NoError(t, err)
	require.Contains(t, sessions, "cs_1")
	assert.Equal(t, "pot-1", sessions["cs_1"].PotId)
	assert.Equal(t, "e1", sessions["cs_1"].EntryId)
	assert.False(t, entry.Paid)
}
