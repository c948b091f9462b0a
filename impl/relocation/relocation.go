// Package relocation moves entries between pots.
package relocation

import (
	"context"
	"errors"
	"log/slog"
	"picklepot/entity"
	"picklepot/lib/clock"
	"picklepot/lib/sl"
)

type Database interface {
	GetPot(ctx context.Context, id string) (*entity.Pot, error)
	GetEntry(ctx context.Context, potId, entryId string) (*entity.Entry, error)
	MoveEntry(ctx context.Context, from *entity.Entry, moved *entity.Entry) error
}

// TargetChecker applies the admission rules of the target pot.
type TargetChecker interface {
	CheckCapacity(ctx context.Context, pot *entity.Pot) error
	CheckDuplicate(ctx context.Context, potId, nameKey, emailKey string) error
}

type Notifier interface {
	Enqueue(ctx context.Context, n *entity.Notification) error
}

type Service struct {
	db     Database
	target TargetChecker
	notify Notifier
	now    clock.Clock
	newId  func() string
	log    *slog.Logger
}

func New(db Database, target TargetChecker, notify Notifier, newId func() string, log *slog.Logger) *Service {
	return &Service{
		db:     db,
		target: target,
		notify: notify,
		now:    clock.System,
		newId:  newId,
		log:    log.With(sl.Module("relocation")),
	}
}

func (s *Service) SetClock(c clock.Clock) {
	s.now = c
}

// MoveEntry relocates an entry from one pot to another, keeping its payment
// state and amount. The caller must hold owner authorization for the origin.
func (s *Service) MoveEntry(ctx context.Context, auth *entity.OwnerAuth, entryId, fromPotId, toPotId string) (*entity.Entry, error) {
	if err := auth.Require(fromPotId); err != nil {
		return nil, err
	}
	if toPotId == "" || toPotId == fromPotId {
		return nil, entity.Validation("target pot must differ from origin")
	}
	target, err := s.db.GetPot(ctx, toPotId)
	if err != nil {
		return nil, err
	}
	entry, err := s.db.GetEntry(ctx, fromPotId, entryId)
	if err != nil {
		return nil, err
	}
	if entry.Status == entity.EntryRemoved {
		return nil, entity.ErrRelocating
	}
	if err = s.target.CheckCapacity(ctx, target); err != nil {
		return nil, err
	}
	if err = s.target.CheckDuplicate(ctx, toPotId, entry.NameKey, entry.EmailKey); err != nil {
		return nil, err
	}

	moved := entry.Relocated(s.newId(), toPotId, s.now())
	log := s.log.With(
		sl.Entry(entry.Id),
		slog.String("from", fromPotId),
		slog.String("to", toPotId),
	)
	if err = s.db.MoveEntry(ctx, entry, moved); err != nil {
		if errors.Is(err, entity.ErrPartialMove) {
			// the copy is live in the target; the parked origin no longer
			// counts but must be removed by hand
			log.With(sl.Err(err), sl.Topic(entity.TopicLedger)).Error("relocation left origin entry behind")
			return moved, nil
		}
		return nil, err
	}
	log.With(slog.String("new_id", moved.Id), slog.Bool("paid", moved.Paid)).Info("entry relocated")
	s.enqueueMoved(ctx, moved, log)
	return moved, nil
}

func (s *Service) enqueueMoved(ctx context.Context, moved *entity.Entry, log *slog.Logger) {
	if s.notify == nil || moved.Email == "" {
		return
	}
	n := &entity.Notification{
		Id:      s.newId(),
		Kind:    entity.NotifyEntryMoved,
		PotId:   moved.PotId,
		EntryId: moved.Id,
		To:      moved.Email,
		Data:    map[string]string{"name": moved.Name, "from": moved.MovedFrom},
		Status:  "queued",
		Created: s.now(),
	}
	if err := s.notify.Enqueue(ctx, n); err != nil {
		log.With(sl.Err(err)).Warn("enqueue move notification")
	}
}
