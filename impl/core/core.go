package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"picklepot/entity"
	"picklepot/impl/admission"
	"picklepot/impl/checkout"
	"picklepot/impl/credential"
	"picklepot/impl/ledger"
	"picklepot/impl/pots"
	"picklepot/impl/reconcile"
	"picklepot/impl/relocation"
	"picklepot/impl/roster"
	"picklepot/impl/subscription"
	"picklepot/lib/sl"
	"strings"
)

type AuthService interface {
	UserByToken(token string) (*entity.User, error)
}

type Database interface {
	GetPot(ctx context.Context, id string) (*entity.Pot, error)
	GetEntry(ctx context.Context, potId, entryId string) (*entity.Entry, error)
}

// Components are the engine parts the core dispatches to.
type Components struct {
	Credentials *credential.Authority
	Admission   *admission.Gate
	Checkout    *checkout.Orchestrator
	Reconcile   *reconcile.Processor
	Ledger      *ledger.Aggregator
	Relocation  *relocation.Service
	Pots        *pots.Service
	Roster      *roster.Service
	Plans       *subscription.Service
}

type Core struct {
	db      Database
	c       Components
	auth    AuthService
	origins map[string]bool
	log     *slog.Logger
}

func New(db Database, c Components, log *slog.Logger) *Core {
	if db == nil {
		panic("database is nil")
	}
	return &Core{
		db:  db,
		c:   c,
		log: log.With(sl.Module("core")),
	}
}

func (c *Core) SetAuthService(auth AuthService) {
	c.auth = auth
}

// SetRedirectOrigins lists the origins a cancel link may send the browser
// back to, as scheme://host[:port].
func (c *Core) SetRedirectOrigins(origins []string) {
	c.origins = make(map[string]bool, len(origins))
	for _, o := range origins {
		u, err := url.Parse(strings.TrimSpace(o))
		if err != nil || u.Host == "" {
			c.log.With(slog.String("origin", o)).Warn("ignoring malformed redirect origin")
			continue
		}
		c.origins[originOf(u)] = true
	}
}

// AllowRedirect reports whether u points at a configured origin.
func (c *Core) AllowRedirect(u *url.URL) bool {
	return c.origins[originOf(u)]
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func (c *Core) AuthenticateByToken(token string) (*entity.User, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("auth service not connected")
	}
	return c.auth.UserByToken(token)
}

func (c *Core) VerifyOwner(ctx context.Context, potId string, proof entity.OwnerProof) (*entity.OwnerAuth, error) {
	return c.c.Credentials.Verify(ctx, potId, proof)
}

func (c *Core) RotateCode(ctx context.Context, auth *entity.OwnerAuth, potId string) (*entity.OwnerGrant, error) {
	return c.c.Credentials.RotateCode(ctx, auth, potId)
}

func (c *Core) RotateLink(ctx context.Context, auth *entity.OwnerAuth, potId string) (*entity.OwnerGrant, error) {
	return c.c.Credentials.RotateLink(ctx, auth, potId)
}

func (c *Core) RevokeAll(ctx context.Context, auth *entity.OwnerAuth, potId string) (*entity.OwnerGrant, error) {
	return c.c.Credentials.RevokeAll(ctx, auth, potId)
}

func (c *Core) CreatePot(ctx context.Context, draft *entity.PotDraft) (*pots.Created, error) {
	return c.c.Pots.Create(ctx, draft)
}

func (c *Core) CreateOwnedPot(ctx context.Context, uid string, draft *entity.PotDraft) (*pots.Created, error) {
	return c.c.Pots.CreateOwned(ctx, uid, draft)
}

func (c *Core) BeginPotCheckout(ctx context.Context, req *entity.PotCheckout) (*pots.PendingPot, error) {
	return c.c.Pots.BeginCheckout(ctx, req)
}

func (c *Core) CancelPotCheckout(ctx context.Context, draftId string) error {
	return c.c.Pots.CancelCheckout(ctx, draftId)
}

func (c *Core) GetPot(ctx context.Context, potId string) (*entity.Pot, error) {
	return c.c.Pots.Get(ctx, potId)
}

func (c *Core) EditPot(ctx context.Context, auth *entity.OwnerAuth, potId string, draft *entity.PotDraft) (*entity.Pot, error) {
	return c.c.Pots.Edit(ctx, auth, potId, draft)
}

func (c *Core) SetPotStatus(ctx context.Context, auth *entity.OwnerAuth, potId string, status entity.PotStatus) error {
	return c.c.Pots.SetStatus(ctx, auth, potId, status)
}

func (c *Core) DeletePot(ctx context.Context, auth *entity.OwnerAuth, potId string) error {
	return c.c.Pots.Delete(ctx, auth, potId)
}

func (c *Core) ListEntries(ctx context.Context, auth *entity.OwnerAuth, potId string) ([]*entity.Entry, error) {
	return c.c.Pots.Entries(ctx, auth, potId)
}

func (c *Core) SetEntryStatus(ctx context.Context, auth *entity.OwnerAuth, potId, entryId string, status entity.EntryStatus) error {
	return c.c.Pots.SetEntryStatus(ctx, auth, potId, entryId, status)
}

func (c *Core) SetEntryPaid(ctx context.Context, auth *entity.OwnerAuth, potId, entryId string, paid bool) error {
	return c.c.Pots.SetEntryPaid(ctx, auth, potId, entryId, paid)
}

func (c *Core) RemoveEntry(ctx context.Context, auth *entity.OwnerAuth, potId, entryId string) error {
	return c.c.Pots.RemoveEntry(ctx, auth, potId, entryId)
}

func (c *Core) MoveEntry(ctx context.Context, auth *entity.OwnerAuth, potId, entryId, toPotId string) (*entity.Entry, error) {
	return c.c.Relocation.MoveEntry(ctx, auth, entryId, potId, toPotId)
}

func (c *Core) Admit(ctx context.Context, potId string, draft *entity.EntryDraft) (*entity.Entry, error) {
	return c.c.Admission.Admit(ctx, potId, draft)
}

// BeginPayment loads the entry and its pot and starts a gateway checkout.
func (c *Core) BeginPayment(ctx context.Context, potId, entryId string, targets entity.RedirectTargets) (*entity.CheckoutSession, error) {
	pot, err := c.db.GetPot(ctx, potId)
	if err != nil {
		return nil, err
	}
	entry, err := c.db.GetEntry(ctx, potId, entryId)
	if err != nil {
		return nil, err
	}
	return c.c.Checkout.BeginPayment(ctx, pot, entry, targets)
}

func (c *Core) CancelJoin(ctx context.Context, potId, entryId, sessionId string) (bool, error) {
	return c.c.Pots.CancelJoin(ctx, potId, entryId, sessionId)
}

func (c *Core) HandleGatewayEvent(ctx context.Context, payload []byte, signature string) (*reconcile.Result, error) {
	return c.c.Reconcile.HandleGatewayEvent(ctx, payload, signature)
}

func (c *Core) LedgerSnapshot(ctx context.Context, potId string) (*ledger.Summary, error) {
	return c.c.Ledger.Snapshot(ctx, potId)
}

func (c *Core) SubscribeLedger(ctx context.Context, key, potId string, fn func(*ledger.Summary)) (*ledger.Subscription, error) {
	return c.c.Ledger.Subscribe(ctx, key, potId, fn)
}

func (c *Core) ResolveRoster(ctx context.Context, potId string) (*entity.Roster, error) {
	return c.c.Roster.Resolve(ctx, potId)
}

func (c *Core) BindRoster(ctx context.Context, auth *entity.OwnerAuth, potId, orgId string) error {
	return c.c.Roster.Bind(ctx, auth, potId, orgId)
}

func (c *Core) SetInlineRoster(ctx context.Context, auth *entity.OwnerAuth, potId string, emails []string) ([]string, error) {
	return c.c.Roster.SetInline(ctx, auth, potId, emails)
}

func (c *Core) OrgRoster(ctx context.Context, orgId string) ([]string, error) {
	return c.c.Roster.OrgRoster(ctx, orgId)
}

func (c *Core) SaveOrgRoster(ctx context.Context, orgId string, emails []string) ([]string, error) {
	return c.c.Roster.SaveOrgRoster(ctx, orgId, emails)
}

func (c *Core) SubscriptionPlans() []entity.Plan {
	return c.c.Plans.Plans()
}

func (c *Core) BeginSubscription(ctx context.Context, req *entity.SubscriptionCheckout) (*entity.SubscriptionSession, error) {
	return c.c.Plans.BeginCheckout(ctx, req)
}

func (c *Core) ActivateSubscription(ctx context.Context, uid, email string) (*entity.OrganizerSub, error) {
	return c.c.Plans.Activate(ctx, uid, email)
}

func (c *Core) AccountPlan(ctx context.Context, uid string) (*entity.OrganizerSub, error) {
	return c.c.Plans.AccountPlan(ctx, uid)
}
