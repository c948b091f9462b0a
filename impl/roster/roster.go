package roster

import (
	"context"
	"fmt"
	"log/slog"
	"picklepot/entity"
	"picklepot/lib/sl"
)

type Database interface {
	GetPot(ctx context.Context, id string) (*entity.Pot, error)
	GetOrgRoster(ctx context.Context, orgId string) ([]string, error)
	SaveOrgRoster(ctx context.Context, orgId string, emails []string) error
	GetRosterBinding(ctx context.Context, potId string) (string, error)
	SetRosterBinding(ctx context.Context, potId, orgId string) error
	GetInlineRoster(ctx context.Context, potId string) ([]string, error)
	SetInlineRoster(ctx context.Context, potId string, emails []string) error
}

type Service struct {
	db  Database
	log *slog.Logger
}

func New(db Database, log *slog.Logger) *Service {
	return &Service{
		db:  db,
		log: log.With(sl.Module("roster")),
	}
}

// Resolve returns the pot's member list: an inline roster wins over an
// organisation binding. It is a public read.
func (s *Service) Resolve(ctx context.Context, potId string) (*entity.Roster, error) {
	inline, err := s.db.GetInlineRoster(ctx, potId)
	if err != nil {
		return nil, fmt.Errorf("inline roster: %w", err)
	}
	if len(inline) > 0 {
		return &entity.Roster{PotId: potId, Source: entity.RosterInline, Emails: entity.NormalizeEmails(inline)}, nil
	}
	orgId, err := s.db.GetRosterBinding(ctx, potId)
	if err != nil {
		return nil, fmt.Errorf("roster binding: %w", err)
	}
	if orgId != "" {
		emails, err := s.db.GetOrgRoster(ctx, orgId)
		if err != nil {
			return nil, fmt.Errorf("org roster: %w", err)
		}
		return &entity.Roster{PotId: potId, Source: entity.RosterOrg, OrgId: orgId, Emails: entity.NormalizeEmails(emails)}, nil
	}
	return &entity.Roster{PotId: potId, Source: entity.RosterNone, Emails: []string{}}, nil
}

func (s *Service) OrgRoster(ctx context.Context, orgId string) ([]string, error) {
	emails, err := s.db.GetOrgRoster(ctx, orgId)
	if err != nil {
		return nil, err
	}
	if emails == nil {
		emails = []string{}
	}
	return emails, nil
}

func (s *Service) SaveOrgRoster(ctx context.Context, orgId string, emails []string) ([]string, error) {
	if orgId == "" {
		return nil, entity.Validation("org id is required")
	}
	emails = entity.NormalizeEmails(emails)
	if err := s.db.SaveOrgRoster(ctx, orgId, emails); err != nil {
		return nil, err
	}
	s.log.With(slog.String("org_id", orgId), slog.Int("count", len(emails))).Info("org roster saved")
	return emails, nil
}

// Bind attaches the pot to an organisation roster; an empty org id unbinds.
func (s *Service) Bind(ctx context.Context, auth *entity.OwnerAuth, potId, orgId string) error {
	if err := auth.Require(potId); err != nil {
		return err
	}
	if _, err := s.db.GetPot(ctx, potId); err != nil {
		return err
	}
	return s.db.SetRosterBinding(ctx, potId, orgId)
}

// SetInline replaces the pot's inline roster; an empty list removes it.
func (s *Service) SetInline(ctx context.Context, auth *entity.OwnerAuth, potId string, emails []string) ([]string, error) {
	if err := auth.Require(potId); err != nil {
		return nil, err
	}
	if _, err := s.db.GetPot(ctx, potId); err != nil {
		return nil, err
	}
	emails = entity.NormalizeEmails(emails)
	if err := s.db.SetInlineRoster(ctx, potId, emails); err != nil {
		return nil, err
	}
	return emails, nil
}
