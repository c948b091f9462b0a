// Package credential issues, verifies and rotates pot owner credentials.
//
// A pot owns two secrets: an access code, stored only as a bcrypt hash, and a
// random salt. Magic-link tokens are HMAC(salt, potId), so they stay valid
// across code rotations and die with the salt. Replacing both values at once
// revokes every code and link previously handed out.
package credential

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"picklepot/entity"
	"picklepot/lib/clock"
	"picklepot/lib/sl"

	"golang.org/x/crypto/bcrypt"
)

// codeAlphabet omits characters that are easy to misread.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type Database interface {
	GetCredential(ctx context.Context, potId string) (*entity.Credential, error)
	SetCodeHash(ctx context.Context, potId, hash string) error
	SetSalt(ctx context.Context, potId, salt string) error
	SetCredential(ctx context.Context, potId string, cred entity.Credential) error
}

type Authority struct {
	db         Database
	codeLength int
	cost       int
	now        clock.Clock
	log        *slog.Logger
}

func New(db Database, codeLength, cost int, log *slog.Logger) *Authority {
	if codeLength < 6 {
		codeLength = 6
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Authority{
		db:         db,
		codeLength: codeLength,
		cost:       cost,
		now:        clock.System,
		log:        log.With(sl.Module("credential")),
	}
}

func (a *Authority) SetClock(c clock.Clock) {
	a.now = c
}

// IssueInitial creates the credential for a new pot. The returned Credential
// is persisted with the pot; the grant is shown to the organizer once.
func (a *Authority) IssueInitial(potId string) (entity.Credential, *entity.OwnerGrant, error) {
	code, hash, err := a.newCode()
	if err != nil {
		return entity.Credential{}, nil, err
	}
	salt, err := newSalt()
	if err != nil {
		return entity.Credential{}, nil, err
	}
	cred := entity.Credential{CodeHash: hash, Salt: salt, Rotated: a.now()}
	grant := &entity.OwnerGrant{PotId: potId, Code: code, Token: LinkToken(potId, salt)}
	return cred, grant, nil
}

// Verify checks a presented code or link token against the current material.
// A mismatch is reported as entity.ErrUnauthorized.
func (a *Authority) Verify(ctx context.Context, potId string, proof entity.OwnerProof) (*entity.OwnerAuth, error) {
	if potId == "" || (proof.Code == "" && proof.Token == "") {
		return nil, entity.ErrUnauthorized
	}
	cred, err := a.db.GetCredential(ctx, potId)
	if err != nil {
		if errors.Is(err, entity.ErrPotNotFound) {
			return nil, entity.ErrUnauthorized
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	log := a.log.With(sl.Pot(potId))

	if proof.Token != "" && cred.Salt != "" {
		expected := LinkToken(potId, cred.Salt)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(proof.Token)) == 1 {
			return &entity.OwnerAuth{PotId: potId, Via: entity.ViaToken, VerifiedAt: a.now()}, nil
		}
	}
	if proof.Code != "" && cred.CodeHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(cred.CodeHash), []byte(normalizeCode(proof.Code))) == nil {
			return &entity.OwnerAuth{PotId: potId, Via: entity.ViaCode, VerifiedAt: a.now()}, nil
		}
	}
	log.With(
		slog.Bool("code", proof.Code != ""),
		slog.Bool("token", proof.Token != ""),
		sl.Topic(entity.TopicSecurity),
	).Warn("owner credential rejected")
	return nil, entity.ErrUnauthorized
}

// RotateCode replaces the access code. Links keep working.
func (a *Authority) RotateCode(ctx context.Context, auth *entity.OwnerAuth, potId string) (*entity.OwnerGrant, error) {
	if err := auth.Require(potId); err != nil {
		return nil, err
	}
	cred, err := a.db.GetCredential(ctx, potId)
	if err != nil {
		return nil, err
	}
	code, hash, err := a.newCode()
	if err != nil {
		return nil, err
	}
	if err = a.db.SetCodeHash(ctx, potId, hash); err != nil {
		return nil, fmt.Errorf("store code hash: %w", err)
	}
	a.log.With(sl.Pot(potId), sl.Topic(entity.TopicSecurity)).Info("owner code rotated")
	return &entity.OwnerGrant{PotId: potId, Code: code, Token: LinkToken(potId, cred.Salt)}, nil
}

// RotateLink replaces the salt, invalidating every link built on the old one.
// The access code is untouched.
func (a *Authority) RotateLink(ctx context.Context, auth *entity.OwnerAuth, potId string) (*entity.OwnerGrant, error) {
	if err := auth.Require(potId); err != nil {
		return nil, err
	}
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	if err = a.db.SetSalt(ctx, potId, salt); err != nil {
		return nil, fmt.Errorf("store salt: %w", err)
	}
	a.log.With(sl.Pot(potId), sl.Topic(entity.TopicSecurity)).Info("owner link rotated")
	return &entity.OwnerGrant{PotId: potId, Token: LinkToken(potId, salt)}, nil
}

// RevokeAll replaces code hash and salt in one write.
func (a *Authority) RevokeAll(ctx context.Context, auth *entity.OwnerAuth, potId string) (*entity.OwnerGrant, error) {
	if err := auth.Require(potId); err != nil {
		return nil, err
	}
	cred, grant, err := a.IssueInitial(potId)
	if err != nil {
		return nil, err
	}
	if err = a.db.SetCredential(ctx, potId, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	a.log.With(sl.Pot(potId), sl.Topic(entity.TopicSecurity)).Warn("owner credentials revoked")
	return grant, nil
}

// LinkToken derives the magic-link token of a pot from its salt.
func LinkToken(potId, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(potId))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (a *Authority) newCode() (string, string, error) {
	code, err := randomCode(a.codeLength)
	if err != nil {
		return "", "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), a.cost)
	if err != nil {
		return "", "", fmt.Errorf("hash code: %w", err)
	}
	return code, string(hash), nil
}

func randomCode(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		out[i] = codeAlphabet[v.Int64()]
	}
	return string(out), nil
}

func newSalt() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// normalizeCode lets organizers type codes in any case.
func normalizeCode(code string) string {
	out := make([]byte, 0, len(code))
	for i := 0; i < len(code); i++ {
		c := code[i]
		if c == ' ' || c == '-' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
