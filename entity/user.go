package entity

import (
	"net/http"
	"picklepot/lib/validate"
	"time"
)

// TelegramRole controls what an operator sees from the bot.
// Role hierarchy: RoleNone < RolePending < RoleUser < RoleAdmin.
type TelegramRole string

const (
	RoleNone    TelegramRole = ""
	RolePending TelegramRole = "pending"
	RoleUser    TelegramRole = "user"
	RoleAdmin   TelegramRole = "admin"
)

// User is an organizer API account (bearer token, org roster access) and,
// optionally, a Telegram operator receiving alerts.
type User struct {
	Username         string       `json:"username" bson:"username" validate:"required"`
	Name             string       `json:"name" bson:"name" validate:"omitempty"`
	Email            string       `json:"email" bson:"email" validate:"omitempty"`
	Token            string       `json:"token" bson:"token" validate:"required,min=1"`
	Orgs             []string     `json:"orgs" bson:"orgs"`
	TelegramId       int64        `json:"telegram_id" bson:"telegram_id" validate:"omitempty"`
	LogLevel         int          `json:"log_level" bson:"log_level" validate:"omitempty"`
	TelegramEnabled  bool         `json:"telegram_enabled" bson:"telegram_enabled" validate:"omitempty"`
	TelegramUsername string       `json:"telegram_username" bson:"telegram_username"`
	TelegramRole     TelegramRole `json:"telegram_role" bson:"telegram_role"`
	TelegramTopics   []string     `json:"telegram_topics" bson:"telegram_topics"`
	RegisteredAt     time.Time    `json:"registered_at" bson:"registered_at"`
}

func (u *User) Bind(_ *http.Request) error {
	return validate.Struct(u)
}

func (u *User) IsAdmin() bool {
	return u.TelegramRole == RoleAdmin
}

func (u *User) IsPending() bool {
	return u.TelegramRole == RolePending
}

func (u *User) IsApproved() bool {
	return u.TelegramRole == RoleUser || u.TelegramRole == RoleAdmin
}

// ManagesOrg reports whether the API user may edit an organisation roster.
// An empty Orgs list grants access to every organisation.
func (u *User) ManagesOrg(orgId string) bool {
	if len(u.Orgs) == 0 {
		return true
	}
	for _, o := range u.Orgs {
		if o == orgId {
			return true
		}
	}
	return false
}

// HasTopic checks if the user is subscribed to a given notification topic.
// Empty TelegramTopics means subscribed to all.
func (u *User) HasTopic(topic string) bool {
	if len(u.TelegramTopics) == 0 {
		return true
	}
	for _, t := range u.TelegramTopics {
		if t == "none" {
			return false
		}
		if t == topic {
			return true
		}
	}
	return false
}
