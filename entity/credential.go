package entity

import (
	"net/http"
	"time"
)

// Credential is the stored owner secret material of a pot. The plaintext code
// is never persisted.
type Credential struct {
	CodeHash string    `bson:"code_hash"`
	Salt     string    `bson:"salt"`
	Rotated  time.Time `bson:"rotated"`
}

// OwnerGrant is freshly issued credential material handed to the organizer.
type OwnerGrant struct {
	PotId string `json:"pot_id"`
	Code  string `json:"code,omitempty"`
	Token string `json:"token,omitempty"`
}

// OwnerProof is what a caller presents to claim owner rights.
type OwnerProof struct {
	Code  string `json:"code,omitempty"`
	Token string `json:"token,omitempty"`
}

func (p *OwnerProof) Bind(_ *http.Request) error {
	if p.Code == "" && p.Token == "" {
		return Validation("code or token is required")
	}
	return nil
}

const (
	ViaCode  = "code"
	ViaToken = "token"
)

// OwnerAuth is the authorization context produced by a successful verify. It
// is passed explicitly to every admin operation.
type OwnerAuth struct {
	PotId      string    `json:"pot_id"`
	Via        string    `json:"via"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Require fails unless the authorization was issued for potId.
func (a *OwnerAuth) Require(potId string) error {
	if a == nil || a.PotId == "" || a.PotId != potId {
		return ErrUnauthorized
	}
	return nil
}
