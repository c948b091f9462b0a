package bot

import (
	"fmt"
	"picklepot/entity"
	"sort"
	"strings"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

var roleOrder = []entity.TelegramRole{entity.RoleAdmin, entity.RoleUser, entity.RolePending, entity.RoleNone}

func roleName(role entity.TelegramRole) string {
	if role == entity.RoleNone {
		return "none"
	}
	return string(role)
}

// parseRole accepts the roles an admin may assign.
func parseRole(s string) (entity.TelegramRole, bool) {
	switch strings.ToLower(s) {
	case "user", "approve":
		return entity.RoleUser, true
	case "admin":
		return entity.RoleAdmin, true
	case "none", "revoke":
		return entity.RoleNone, true
	}
	return entity.RoleNone, false
}

// usersCmd lists registered operators grouped by role.
func (t *TgBot) usersCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.requireAdmin(chatId) {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	t.mu.RLock()
	byRole := make(map[entity.TelegramRole][]string)
	for _, u := range t.users {
		state := "off"
		if u.TelegramEnabled {
			state = "on"
		}
		byRole[u.TelegramRole] = append(byRole[u.TelegramRole], fmt.Sprintf("%s %s", userDisplayName(u), state))
	}
	total := len(t.users)
	t.mu.RUnlock()

	if total == 0 {
		t.plainResponse(chatId, "No operators registered\\.")
		return nil
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Operators* \\(%d\\)\n", total))
	for _, role := range roleOrder {
		names := byRole[role]
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)
		sb.WriteString(fmt.Sprintf("\n*%s*\n", Sanitize(roleName(role))))
		for _, n := range names {
			sb.WriteString("  " + Sanitize(n) + "\n")
		}
	}
	for _, part := range splitMessage(sb.String(), maxTelegramMessageLen) {
		t.plainResponse(chatId, part)
	}
	return nil
}

// role changes an operator's role: /role <id|@user> <user|admin|none>.
func (t *TgBot) role(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.requireAdmin(chatId) || t.db == nil {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 3 {
		t.plainResponse(chatId, "Usage: `/role <id|@user> <user|admin|none>`")
		return nil
	}
	target := t.resolveUser(args[1])
	if target == nil {
		t.plainResponse(chatId, "User not found: "+Sanitize(args[1]))
		return nil
	}
	role, ok := parseRole(args[2])
	if !ok {
		t.plainResponse(chatId, "Unknown role: "+Sanitize(args[2]))
		return nil
	}
	if role == entity.RoleAdmin && !target.IsApproved() {
		t.plainResponse(chatId, "Approve the user first\\.")
		return nil
	}

	if err := t.db.SetTelegramRole(target.TelegramId, role); err != nil {
		t.reportError(chatId, "/role", err)
		return nil
	}
	if role == entity.RoleUser && len(target.TelegramTopics) == 0 {
		_ = t.db.SetTelegramTopics(target.TelegramId, defaultTopics)
	}
	t.plainResponse(chatId, Sanitize(userDisplayName(target))+" is now "+Sanitize(roleName(role))+"\\.")
	t.plainResponse(target.TelegramId, "Your operator role is now "+Sanitize(roleName(role))+"\\.")
	t.loadUsers()
	return nil
}
