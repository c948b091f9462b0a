package entity

import (
	"net/http"
	"picklepot/lib/validate"
	"sort"
	"strings"
)

const (
	RosterInline = "inline"
	RosterOrg    = "org"
	RosterNone   = "none"
)

// Roster is the resolved member list of a pot.
type Roster struct {
	PotId  string   `json:"pot_id"`
	Source string   `json:"source"`
	OrgId  string   `json:"org_id,omitempty"`
	Emails []string `json:"emails"`
}

func (r *Roster) Contains(email string) bool {
	key := NormalizeKey(email)
	i := sort.SearchStrings(r.Emails, key)
	return i < len(r.Emails) && r.Emails[i] == key
}

// NormalizeEmails lowercases, trims, dedupes and sorts a list of addresses.
func NormalizeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		key := NormalizeKey(e)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

type RosterUpdate struct {
	Emails []string `json:"emails"`
}

func (u *RosterUpdate) Bind(_ *http.Request) error {
	for _, e := range u.Emails {
		if strings.TrimSpace(e) == "" {
			continue
		}
		if !validate.Email(strings.TrimSpace(e)) {
			return Validation("invalid email %q", e)
		}
	}
	u.Emails = NormalizeEmails(u.Emails)
	return nil
}

type RosterBinding struct {
	OrgId string `json:"org_id"`
}

func (b *RosterBinding) Bind(_ *http.Request) error {
	b.OrgId = strings.TrimSpace(b.OrgId)
	return nil
}
