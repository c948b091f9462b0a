package database

import (
	"context"
	"picklepot/entity"
	"time"
)

// Store is everything the engine needs from persistence. MongoDB is the
// production implementation; MemoryStore backs tests and local runs.
type Store interface {
	CreatePot(ctx context.Context, pot *entity.Pot) error
	GetPot(ctx context.Context, id string) (*entity.Pot, error)
	UpdatePot(ctx context.Context, pot *entity.Pot) error
	SetPotStatus(ctx context.Context, id string, status entity.PotStatus) error
	DeletePot(ctx context.Context, id string) error
	CountPotsSince(ctx context.Context, ownerUid string, since time.Time) (int64, error)

	GetCredential(ctx context.Context, potId string) (*entity.Credential, error)
	SetCodeHash(ctx context.Context, potId, hash string) error
	SetSalt(ctx context.Context, potId, salt string) error
	SetCredential(ctx context.Context, potId string, cred entity.Credential) error

	SaveDraft(ctx context.Context, draft *entity.Pot) error
	GetDraft(ctx context.Context, id string) (*entity.Pot, error)
	DeleteDraft(ctx context.Context, id string) error

	SaveJoinSession(ctx context.Context, js *entity.JoinSession) error
	GetJoinSession(ctx context.Context, sessionId string) (*entity.JoinSession, error)
	DeleteJoinSession(ctx context.Context, sessionId string) error

	SaveOrganizerSub(ctx context.Context, sub *entity.OrganizerSub) error
	GetOrganizerSub(ctx context.Context, email string) (*entity.OrganizerSub, error)
	SaveAccountSub(ctx context.Context, sub *entity.OrganizerSub) error
	GetAccountSub(ctx context.Context, uid string) (*entity.OrganizerSub, error)

	FindIdentity(ctx context.Context, potId, nameKey, emailKey string) (*entity.Entry, error)
	InsertEntry(ctx context.Context, entry *entity.Entry) error
	GetEntry(ctx context.Context, potId, entryId string) (*entity.Entry, error)
	ListEntries(ctx context.Context, potId string) ([]*entity.Entry, error)
	CountEntries(ctx context.Context, potId string) (int64, error)
	MarkPaid(ctx context.Context, potId, entryId string, rec entity.PaymentRecord) (bool, error)
	FindRelocated(ctx context.Context, potId, entryId string) (*entity.Entry, error)
	SetEntryPaid(ctx context.Context, potId, entryId string, paid bool, at time.Time) error
	SetEntryStatus(ctx context.Context, potId, entryId string, status entity.EntryStatus) error
	DeleteEntry(ctx context.Context, potId, entryId string) error
	DeleteUnpaidEntry(ctx context.Context, potId, entryId string) (bool, error)
	MoveEntry(ctx context.Context, from *entity.Entry, moved *entity.Entry) error
	WatchEntries(ctx context.Context, potId string) (<-chan entity.EntryChange, error)

	GetOrgRoster(ctx context.Context, orgId string) ([]string, error)
	SaveOrgRoster(ctx context.Context, orgId string, emails []string) error
	GetRosterBinding(ctx context.Context, potId string) (string, error)
	SetRosterBinding(ctx context.Context, potId, orgId string) error
	GetInlineRoster(ctx context.Context, potId string) ([]string, error)
	SetInlineRoster(ctx context.Context, potId string, emails []string) error

	Enqueue(ctx context.Context, n *entity.Notification) error
	GetUser(token string) (*entity.User, error)
}

var (
	_ Store = (*MongoDB)(nil)
	_ Store = (*MemoryStore)(nil)
)
