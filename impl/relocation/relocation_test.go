package relocation

import (
	"context"
	"io"
	"log/slog"
	"picklepot/entity"
	"picklepot/impl/admission"
	"picklepot/impl/ledger"
	"picklepot/internal/database"
	"picklepot/lib/clock"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *database.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := database.NewMemoryStore()
	require.NoError(t, db.CreatePot(ctx, &entity.Pot{Id: "pot-1", Status: entity.PotOpen}))
	require.NoError(t, db.CreatePot(ctx, &entity.Pot{Id: "pot-2", Status: entity.PotOpen}))

	paidAt := now.Add(-time.Hour)
	e := &entity.Entry{
		Id: "e1", PotId: "pot-1", Name: "Ana", NameKey: "ana", Email: "ana@example.com", EmailKey: "ana@example.com",
		BuyIn: 2000, Paid: true, PaidAmount: 2000, PaidAt: &paidAt, Created: paidAt,
	}
	e.SetStatus(entity.EntryActive)
	require.NoError(t, db.InsertEntry(ctx, e))

	s := New(db, admission.New(db, nil, log), db, func() string { return "e-new" }, log)
	s.SetClock(clock.Fixed(now))
	return s, db
}

var owner = &entity.OwnerAuth{PotId: "pot-1", Via: entity.ViaCode}

func TestMoveEntry_PreservesPayment(t *testing.T) {
	s, db := setup(t)
	ctx := context.Background()

	moved, err := s.MoveEntry(ctx, owner, "e1", "pot-1", "pot-2")
	require.NoError(t, err)
	assert.Equal(t, "pot-2", moved.PotId)
	assert.Equal(t, "pot-1", moved.MovedFrom)
	assert.Equal(t, now, moved.Created)

	_, err = db.GetEntry(ctx, "pot-1", "e1")
	assert.ErrorIs(t, err, entity.ErrEntryNotFound)

	stored, err := db.GetEntry(ctx, "pot-2", moved.Id)
	require.NoError(t, err)
	assert.True(t, stored.Paid)
	assert.Equal(t, entity.Amount(2000), stored.PaidAmount)
	assert.Equal(t, entity.Amount(2000), stored.BuyIn)

	notes := db.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, entity.NotifyEntryMoved, notes[0].Kind)
}

func TestMoveEntry_LedgerTotalsFollow(t *testing.T) {
	s, db := setup(t)
	ctx := context.Background()
	agg := ledger.New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))

	before, err := agg.Snapshot(ctx, "pot-1")
	require.NoError(t, err)
	assert.Equal(t, entity.Amount(2000), before.TotalPaid)

	_, err = s.MoveEntry(ctx, owner, "e1", "pot-1", "pot-2")
	require.NoError(t, err)

	from, err := agg.Snapshot(ctx, "pot-1")
	require.NoError(t, err)
	to, err := agg.Snapshot(ctx, "pot-2")
	require.NoError(t, err)
	assert.Zero(t, from.TotalPaid)
	assert.Equal(t, entity.Amount(2000), to.TotalPaid)
}

func TestMoveEntry_DuplicateInTarget(t *testing.T) {
	s, db := setup(t)
	ctx := context.Background()
	clash := &entity.Entry{Id: "x1", PotId: "pot-2", Name: "Other", NameKey: "other", Email: "ana@example.com", EmailKey: "ana@example.com"}
	clash.SetStatus(entity.EntryActive)
	require.NoError(t, db.InsertEntry(ctx, clash))

	_, err := s.MoveEntry(ctx, owner, "e1", "pot-1", "pot-2")
	assert.ErrorIs(t, err, entity.ErrDuplicateEmail)

	origin, err := db.GetEntry(ctx, "pot-1", "e1")
	require.NoError(t, err)
	assert.True(t, origin.Paid)
	assert.Empty(t, db.Notifications())
}

func TestMoveEntry_Rejections(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	_, err := s.MoveEntry(ctx, &entity.OwnerAuth{PotId: "pot-2"}, "e1", "pot-1", "pot-2")
	assert.ErrorIs(t, err, entity.ErrUnauthorized)

	_, err = s.MoveEntry(ctx, owner, "e1", "pot-1", "pot-1")
	assert.Equal(t, entity.KindValidation, entity.KindOf(err))

	_, err = s.MoveEntry(ctx, owner, "e1", "pot-1", "pot-9")
	assert.ErrorIs(t, err, entity.ErrPotNotFound)

	_, err = s.MoveEntry(ctx, owner, "e9", "pot-1", "pot-2")
	assert.ErrorIs(t, err, entity.ErrEntryNotFound)
}

// payingStore confirms the payment of an entry right after it is read, the
// way a gateway callback can land between the read and the move.
type payingStore struct {
	*database.MemoryStore
}

func (p *payingStore) GetEntry(ctx context.Context, potId, entryId string) (*entity.Entry, error) {
	e, err := p.MemoryStore.GetEntry(ctx, potId, entryId)
	if err != nil {
		return nil, err
	}
	if _, err = p.MemoryStore.MarkPaid(ctx, potId, entryId, entity.PaymentRecord{Amount: e.BuyIn, At: now, SessionId: "cs_late"}); err != nil {
		return nil, err
	}
	return e, nil
}

func TestMoveEntry_KeepsPaymentConfirmedDuringMove(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := database.NewMemoryStore()
	require.NoError(t, db.CreatePot(ctx, &entity.Pot{Id: "pot-1", Status: entity.PotOpen}))
	require.NoError(t, db.CreatePot(ctx, &entity.Pot{Id: "pot-2", Status: entity.PotOpen}))
	e := &entity.Entry{Id: "e1", PotId: "pot-1", Name: "Bo", NameKey: "bo", BuyIn: 1500, Method: entity.MethodStripe}
	e.SetStatus(entity.EntryActive)
	require.NoError(t, db.InsertEntry(ctx, e))

	store := &payingStore{MemoryStore: db}
	s := New(store, admission.New(db, nil, log), db, func() string { return "e-new" }, log)
	s.SetClock(clock.Fixed(now))

	moved, err := s.MoveEntry(ctx, owner, "e1", "pot-1", "pot-2")
	require.NoError(t, err)
	assert.True(t, moved.Paid)

	stored, err := db.GetEntry(ctx, "pot-2", moved.Id)
	require.NoError(t, err)
	assert.True(t, stored.Paid)
	assert.Equal(t, entity.Amount(1500), stored.PaidAmount)
	assert.Equal(t, "cs_late", stored.SessionId)
}

func TestMoveEntry_TargetAtCapacity(t *testing.T) {
	s, db := setup(t)
	ctx := context.Background()
	require.NoError(t, db.CreatePot(ctx, &entity.Pot{Id: "pot-full", Status: entity.PotOpen, MaxEntries: 1}))
	other := &entity.Entry{Id: "x1", PotId: "pot-full", Name: "Bo", NameKey: "bo"}
	other.SetStatus(entity.EntryActive)
	require.NoError(t, db.InsertEntry(ctx, other))

	_, err := s.MoveEntry(ctx, owner, "e1", "pot-1", "pot-full")
	assert.ErrorIs(t, err, entity.ErrPotFull)

	_, err = db.GetEntry(ctx, "pot-1", "e1")
	assert.NoError(t, err)
}
