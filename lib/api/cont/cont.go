package cont

import (
	"context"
	"picklepot/entity"
)

type ctxKey string

const (
	UserDataKey  ctxKey = "userData"
	OwnerAuthKey ctxKey = "ownerAuth"
)

func PutUser(c context.Context, user *entity.User) context.Context {
	return context.WithValue(c, UserDataKey, *user)
}

func GetUser(c context.Context) *entity.User {
	user, ok := c.Value(UserDataKey).(entity.User)
	if !ok {
		return &entity.User{}
	}
	return &user
}

// PutOwner stores the authorization produced by a successful credential check.
func PutOwner(c context.Context, auth *entity.OwnerAuth) context.Context {
	return context.WithValue(c, OwnerAuthKey, auth)
}

// GetOwner returns nil when the request carried no verified owner credential.
func GetOwner(c context.Context) *entity.OwnerAuth {
	auth, ok := c.Value(OwnerAuthKey).(*entity.OwnerAuth)
	if !ok {
		return nil
	}
	return auth
}
