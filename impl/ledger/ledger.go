// Package ledger derives fund totals of a pot from its live entry set.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"picklepot/entity"
	"picklepot/lib/clock"
	"picklepot/lib/sl"
	"sync"
	"time"
)

type Database interface {
	GetPot(ctx context.Context, id string) (*entity.Pot, error)
	ListEntries(ctx context.Context, potId string) ([]*entity.Entry, error)
	WatchEntries(ctx context.Context, potId string) (<-chan entity.EntryChange, error)
}

type Summary struct {
	PotId     string        `json:"pot_id"`
	SharePct  int           `json:"share_pct"`
	TotalAll  entity.Amount `json:"total_all"`
	TotalPaid entity.Amount `json:"total_paid"`
	CountAll  int           `json:"count_all"`
	CountPaid int           `json:"count_paid"`
	ShareAll  entity.Amount `json:"share_all"`
	SharePaid entity.Amount `json:"share_paid"`
	Computed  time.Time     `json:"computed"`
}

// Fold computes a summary from a snapshot of entries. Held and relocated
// entries are skipped; only positive buy-ins add to the totals.
func Fold(potId string, entries []*entity.Entry, sharePct int) *Summary {
	s := &Summary{PotId: potId}
	for _, e := range entries {
		if !e.Counts() {
			continue
		}
		if e.BuyIn > 0 {
			s.TotalAll += e.BuyIn
			s.CountAll++
		}
		if e.Paid {
			s.TotalPaid += e.BuyIn
			s.CountPaid++
		}
	}
	s.ShareAll, s.SharePaid = s.Share(sharePct)
	s.SharePct = entity.ClampShare(sharePct)
	return s
}

// Share returns both totals scaled by pct percent.
func (s *Summary) Share(pct int) (all, paid entity.Amount) {
	return s.TotalAll.Share(pct), s.TotalPaid.Share(pct)
}

type Aggregator struct {
	db   Database
	now  clock.Clock
	log  *slog.Logger
	mu   sync.Mutex
	subs map[string]*Subscription
}

// Subscription is one observer's live feed of a pot summary.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop ends the feed and waits until fn is no longer called.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed when the feed ends: on Stop, when ctx ends, when the pot is
// deleted or when another subscription takes over the same key.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func New(db Database, log *slog.Logger) *Aggregator {
	return &Aggregator{
		db:   db,
		now:  clock.System,
		log:  log.With(sl.Module("ledger")),
		subs: make(map[string]*Subscription),
	}
}

func (a *Aggregator) SetClock(c clock.Clock) {
	a.now = c
}

// Snapshot reads the pot and its entries and folds them.
func (a *Aggregator) Snapshot(ctx context.Context, potId string) (*Summary, error) {
	pot, err := a.db.GetPot(ctx, potId)
	if err != nil {
		return nil, err
	}
	entries, err := a.db.ListEntries(ctx, potId)
	if err != nil {
		return nil, err
	}
	s := Fold(potId, entries, pot.EffectiveShare())
	s.Computed = a.now()
	return s, nil
}

// Subscribe pushes a fresh summary to fn now and after every change of the
// pot until the subscription ends. A key identifies the observer:
// subscribing again with the same key stops the previous subscription
// before the new one starts. Only the registry swap happens under the lock.
func (a *Aggregator) Subscribe(ctx context.Context, key, potId string, fn func(*Summary)) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	a.mu.Lock()
	prev := a.subs[key]
	a.subs[key] = sub
	a.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	changes, err := a.db.WatchEntries(subCtx, potId)
	if err != nil {
		a.abort(key, sub)
		return nil, err
	}
	first, err := a.Snapshot(subCtx, potId)
	if err != nil {
		a.abort(key, sub)
		return nil, err
	}

	go a.run(subCtx, key, sub, potId, changes, first, fn)
	return sub, nil
}

// abort ends a subscription that never started running.
func (a *Aggregator) abort(key string, sub *Subscription) {
	sub.cancel()
	a.release(key, sub)
	close(sub.done)
}

func (a *Aggregator) release(key string, sub *Subscription) {
	a.mu.Lock()
	if a.subs[key] == sub {
		delete(a.subs, key)
	}
	a.mu.Unlock()
}

func (a *Aggregator) run(ctx context.Context, key string, sub *Subscription, potId string, changes <-chan entity.EntryChange, first *Summary, fn func(*Summary)) {
	defer func() {
		sub.cancel()
		a.release(key, sub)
		close(sub.done)
	}()
	log := a.log.With(sl.Pot(potId), slog.String("observer", key))
	if ctx.Err() != nil {
		return
	}
	fn(first)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			s, err := a.Snapshot(ctx, potId)
			if err != nil {
				if errors.Is(err, entity.ErrPotNotFound) {
					log.Info("pot deleted, stopping updates")
					return
				}
				if ctx.Err() == nil {
					log.With(sl.Err(err)).Warn("recompute ledger")
				}
				continue
			}
			fn(s)
		}
	}
}

// Active returns the number of live subscriptions.
func (a *Aggregator) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}
