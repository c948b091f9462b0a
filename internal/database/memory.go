package database

import (
	"context"
	"picklepot/entity"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps every collection in process. It backs tests and the local
// environment when MongoDB is disabled, and enforces the same identity and
// paid-transition guards as the MongoDB store.
type MemoryStore struct {
	mu            sync.RWMutex
	pots          map[string]*entity.Pot
	drafts        map[string]*entity.Pot
	joinSessions  map[string]*entity.JoinSession
	subsByEmail   map[string]*entity.OrganizerSub
	subsByUid     map[string]*entity.OrganizerSub
	entries       map[string]map[string]*entity.Entry
	orgRosters    map[string][]string
	bindings      map[string]string
	inlineRosters map[string][]string
	notifications []*entity.Notification
	users         map[string]*entity.User
	watchers      map[string]map[chan entity.EntryChange]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pots:          make(map[string]*entity.Pot),
		drafts:        make(map[string]*entity.Pot),
		joinSessions:  make(map[string]*entity.JoinSession),
		subsByEmail:   make(map[string]*entity.OrganizerSub),
		subsByUid:     make(map[string]*entity.OrganizerSub),
		entries:       make(map[string]map[string]*entity.Entry),
		orgRosters:    make(map[string][]string),
		bindings:      make(map[string]string),
		inlineRosters: make(map[string][]string),
		users:         make(map[string]*entity.User),
		watchers:      make(map[string]map[chan entity.EntryChange]struct{}),
	}
}

func copyPot(p *entity.Pot) *entity.Pot {
	c := *p
	if p.SharePct != nil {
		v := *p.SharePct
		c.SharePct = &v
	}
	if p.Venue != nil {
		v := *p.Venue
		c.Venue = &v
	}
	return &c
}

func copyEntry(e *entity.Entry) *entity.Entry {
	c := *e
	return &c
}

// notify must be called with mu held.
func (m *MemoryStore) notify(potId, entryId string, op entity.ChangeOp) {
	change := entity.EntryChange{PotId: potId, EntryId: entryId, Op: op}
	for ch := range m.watchers[potId] {
		// a pending notification already triggers a full recompute
		select {
		case ch <- change:
		default:
		}
	}
}

func (m *MemoryStore) CreatePot(_ context.Context, pot *entity.Pot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pots[pot.Id]; ok {
		return entity.ErrPotExists
	}
	m.pots[pot.Id] = copyPot(pot)
	return nil
}

func (m *MemoryStore) GetPot(_ context.Context, id string) (*entity.Pot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pots[id]
	if !ok {
		return nil, entity.ErrPotNotFound
	}
	return copyPot(p), nil
}

func (m *MemoryStore) UpdatePot(_ context.Context, pot *entity.Pot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pots[pot.Id]
	if !ok {
		return entity.ErrPotNotFound
	}
	updated := copyPot(pot)
	updated.Owner = p.Owner
	updated.Created = p.Created
	updated.Source = p.Source
	updated.StripeSessionId = p.StripeSessionId
	updated.OwnerUid = p.OwnerUid
	updated.MaxEntries = p.MaxEntries
	m.pots[pot.Id] = updated
	m.notify(pot.Id, "", entity.ChangePot)
	return nil
}

func (m *MemoryStore) SetPotStatus(_ context.Context, id string, status entity.PotStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pots[id]
	if !ok {
		return entity.ErrPotNotFound
	}
	p.Status = status
	m.notify(id, "", entity.ChangePot)
	return nil
}

func (m *MemoryStore) DeletePot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pots[id]; !ok {
		return entity.ErrPotNotFound
	}
	delete(m.pots, id)
	delete(m.entries, id)
	delete(m.bindings, id)
	delete(m.inlineRosters, id)
	m.notify(id, "", entity.ChangePot)
	return nil
}

func (m *MemoryStore) CountPotsSince(_ context.Context, ownerUid string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, p := range m.pots {
		if p.OwnerUid == ownerUid && !p.Created.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetCredential(_ context.Context, potId string) (*entity.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pots[potId]
	if !ok {
		return nil, entity.ErrPotNotFound
	}
	cred := p.Owner
	return &cred, nil
}

func (m *MemoryStore) SetCodeHash(_ context.Context, potId, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pots[potId]
	if !ok {
		return entity.ErrPotNotFound
	}
	p.Owner.CodeHash = hash
	p.Owner.Rotated = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetSalt(_ context.Context, potId, salt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pots[potId]
	if !ok {
		return entity.ErrPotNotFound
	}
	p.Owner.Salt = salt
	p.Owner.Rotated = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetCredential(_ context.Context, potId string, cred entity.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pots[potId]
	if !ok {
		return entity.ErrPotNotFound
	}
	p.Owner = cred
	return nil
}

func (m *MemoryStore) SaveDraft(_ context.Context, draft *entity.Pot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[draft.Id] = copyPot(draft)
	return nil
}

func (m *MemoryStore) GetDraft(_ context.Context, id string) (*entity.Pot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, entity.ErrDraftNotFound
	}
	return copyPot(d), nil
}

func (m *MemoryStore) DeleteDraft(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, id)
	return nil
}

func (m *MemoryStore) SaveJoinSession(_ context.Context, js *entity.JoinSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *js
	m.joinSessions[js.SessionId] = &c
	return nil
}

func (m *MemoryStore) GetJoinSession(_ context.Context, sessionId string) (*entity.JoinSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	js, ok := m.joinSessions[sessionId]
	if !ok {
		return nil, entity.ErrSessionNotFound
	}
	c := *js
	return &c, nil
}

func (m *MemoryStore) DeleteJoinSession(_ context.Context, sessionId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.joinSessions, sessionId)
	return nil
}

// identityClash must be called with mu held.
func (m *MemoryStore) SaveOrganizerSub(_ context.Context, sub *entity.OrganizerSub) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *sub
	m.subsByEmail[sub.Email] = &c
	return nil
}

func (m *MemoryStore) GetOrganizerSub(_ context.Context, email string) (*entity.OrganizerSub, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subsByEmail[email]
	if !ok {
		return nil, entity.ErrNoSubscription
	}
	c := *sub
	return &c, nil
}

func (m *MemoryStore) SaveAccountSub(_ context.Context, sub *entity.OrganizerSub) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *sub
	m.subsByUid[sub.Uid] = &c
	return nil
}

func (m *MemoryStore) GetAccountSub(_ context.Context, uid string) (*entity.OrganizerSub, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subsByUid[uid]
	if !ok {
		return nil, entity.ErrNoSubscription
	}
	c := *sub
	return &c, nil
}

func (m *MemoryStore) identityClash(potId, nameKey, emailKey, exceptId string) (*entity.Entry, error) {
	for _, e := range m.entries[potId] {
		if e.Id == exceptId || !e.HoldsIdentity() {
			continue
		}
		if nameKey != "" && e.NameKey == nameKey {
			return e, entity.ErrDuplicateName
		}
		if emailKey != "" && e.EmailKey == emailKey {
			return e, entity.ErrDuplicateEmail
		}
	}
	return nil, nil
}

func (m *MemoryStore) FindIdentity(_ context.Context, potId, nameKey, emailKey string) (*entity.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, _ := m.identityClash(potId, nameKey, emailKey, "")
	if e == nil {
		return nil, nil
	}
	return copyEntry(e), nil
}

func (m *MemoryStore) InsertEntry(_ context.Context, entry *entity.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEntry(entry)
}

func (m *MemoryStore) insertEntry(entry *entity.Entry) error {
	if _, ok := m.pots[entry.PotId]; !ok {
		return entity.ErrPotNotFound
	}
	if entry.HoldsIdentity() {
		if _, err := m.identityClash(entry.PotId, entry.NameKey, entry.EmailKey, entry.Id); err != nil {
			return err
		}
	}
	set, ok := m.entries[entry.PotId]
	if !ok {
		set = make(map[string]*entity.Entry)
		m.entries[entry.PotId] = set
	}
	if _, exists := set[entry.Id]; exists {
		return entity.Conflict("entry %s already exists", entry.Id)
	}
	c := copyEntry(entry)
	c.Dedupe = c.HoldsIdentity()
	set[entry.Id] = c
	m.notify(entry.PotId, entry.Id, entity.ChangeInsert)
	return nil
}

func (m *MemoryStore) entry(potId, entryId string) (*entity.Entry, error) {
	e, ok := m.entries[potId][entryId]
	if !ok {
		return nil, entity.ErrEntryNotFound
	}
	return e, nil
}

func (m *MemoryStore) GetEntry(_ context.Context, potId, entryId string) (*entity.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.entry(potId, entryId)
	if err != nil {
		return nil, err
	}
	return copyEntry(e), nil
}

func (m *MemoryStore) ListEntries(_ context.Context, potId string) ([]*entity.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entity.Entry, 0, len(m.entries[potId]))
	for _, e := range m.entries[potId] {
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].Id < out[j].Id
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

// CountEntries counts the entries that hold a place in the pot.
func (m *MemoryStore) CountEntries(_ context.Context, potId string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, e := range m.entries[potId] {
		if e.HoldsIdentity() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) MarkPaid(_ context.Context, potId, entryId string, rec entity.PaymentRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(potId, entryId)
	if err != nil {
		return false, err
	}
	if e.Status == entity.EntryRemoved {
		return false, entity.ErrRelocating
	}
	if !e.ApplyPayment(rec) {
		return false, nil
	}
	m.notify(potId, entryId, entity.ChangeUpdate)
	return true, nil
}

// FindRelocated returns the entry that was moved out of potId under entryId.
func (m *MemoryStore) FindRelocated(_ context.Context, potId, entryId string) (*entity.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, set := range m.entries {
		for _, e := range set {
			if e.MovedFrom == potId && e.OriginEntryId == entryId {
				return copyEntry(e), nil
			}
		}
	}
	return nil, entity.ErrEntryNotFound
}

func (m *MemoryStore) SetEntryPaid(_ context.Context, potId, entryId string, paid bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(potId, entryId)
	if err != nil {
		return err
	}
	e.Paid = paid
	if paid {
		e.PaidAmount = e.BuyIn
		e.PaidAt = &at
	} else {
		e.PaidAmount = 0
		e.PaidAt = nil
	}
	m.notify(potId, entryId, entity.ChangeUpdate)
	return nil
}

func (m *MemoryStore) SetEntryStatus(_ context.Context, potId, entryId string, status entity.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(potId, entryId)
	if err != nil {
		return err
	}
	if status != entity.EntryRemoved && !e.HoldsIdentity() {
		if _, err = m.identityClash(potId, e.NameKey, e.EmailKey, e.Id); err != nil {
			return err
		}
	}
	e.SetStatus(status)
	m.notify(potId, entryId, entity.ChangeUpdate)
	return nil
}

func (m *MemoryStore) DeleteEntry(_ context.Context, potId, entryId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.entry(potId, entryId); err != nil {
		return err
	}
	delete(m.entries[potId], entryId)
	m.notify(potId, entryId, entity.ChangeDelete)
	return nil
}

func (m *MemoryStore) DeleteUnpaidEntry(_ context.Context, potId, entryId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(potId, entryId)
	if err != nil {
		return false, err
	}
	if e.Paid {
		return false, nil
	}
	delete(m.entries[potId], entryId)
	m.notify(potId, entryId, entity.ChangeDelete)
	return true, nil
}

// MoveEntry inserts moved and deletes the origin under one lock. The payment
// state of moved is taken from the origin as it is now.
func (m *MemoryStore) MoveEntry(_ context.Context, from *entity.Entry, moved *entity.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	origin, err := m.entry(from.PotId, from.Id)
	if err != nil {
		return err
	}
	if origin.Status == entity.EntryRemoved {
		return entity.ErrRelocating
	}
	moved.CarryPayment(origin)
	if err = m.insertEntry(moved); err != nil {
		return err
	}
	delete(m.entries[from.PotId], from.Id)
	m.notify(from.PotId, from.Id, entity.ChangeDelete)
	return nil
}

// WatchEntries streams changes of one pot until ctx is done.
func (m *MemoryStore) WatchEntries(ctx context.Context, potId string) (<-chan entity.EntryChange, error) {
	ch := make(chan entity.EntryChange, 1)
	m.mu.Lock()
	set, ok := m.watchers[potId]
	if !ok {
		set = make(map[chan entity.EntryChange]struct{})
		m.watchers[potId] = set
	}
	set[ch] = struct{}{}
	m.mu.Unlock()

	out := make(chan entity.EntryChange)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.watchers[potId], ch)
			if len(m.watchers[potId]) == 0 {
				delete(m.watchers, potId)
			}
			m.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-ch:
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *MemoryStore) GetOrgRoster(_ context.Context, orgId string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.orgRosters[orgId]...), nil
}

func (m *MemoryStore) SaveOrgRoster(_ context.Context, orgId string, emails []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgRosters[orgId] = append([]string(nil), emails...)
	return nil
}

func (m *MemoryStore) GetRosterBinding(_ context.Context, potId string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bindings[potId], nil
}

func (m *MemoryStore) SetRosterBinding(_ context.Context, potId, orgId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if orgId == "" {
		delete(m.bindings, potId)
		return nil
	}
	m.bindings[potId] = orgId
	return nil
}

func (m *MemoryStore) GetInlineRoster(_ context.Context, potId string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.inlineRosters[potId]...), nil
}

func (m *MemoryStore) SetInlineRoster(_ context.Context, potId string, emails []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(emails) == 0 {
		delete(m.inlineRosters, potId)
		return nil
	}
	m.inlineRosters[potId] = append([]string(nil), emails...)
	return nil
}

func (m *MemoryStore) Enqueue(_ context.Context, n *entity.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *n
	m.notifications = append(m.notifications, &c)
	return nil
}

// Notifications returns a copy of the outbox.
func (m *MemoryStore) Notifications() []*entity.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*entity.Notification(nil), m.notifications...)
}

// AddUser registers an API user; used by tests and local bootstrap.
func (m *MemoryStore) AddUser(user *entity.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *user
	m.users[user.Token] = &c
}

func (m *MemoryStore) GetUser(token string) (*entity.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[token]
	if !ok {
		return nil, entity.ErrUnauthorized
	}
	c := *u
	return &c, nil
}
