package validator

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"echocommand/internal/domain/model"
	"echocommand/internal/usecase"
)

const (
	settingsMaxKeys   = 100
	settingsKeyMaxLen = 64
	settingsMaxBytes  = 16 * 1024
	eventsMaxLimit    = 100
)

type userValidator struct{}

func NewUserValidator() usecase.UserValidator {
	return &userValidator{}
}

func (v *userValidator) ValidateProfile(ctx context.Context, in usecase.UpdateProfileInput) error {
	var fe usecase.FieldErrors
	if in.Email != nil {
		checkEmail(&fe, strings.TrimSpace(*in.Email))
	}
	if in.DisplayName != nil && utf8.RuneCountInString(*in.DisplayName) > displayNameMaxLen {
		fe.Add("displayName", "must be at most 100 characters")
	}
	return fe.Err()
}

// マージ後の設定を検証
func (v *userValidator) ValidateSettings(ctx context.Context, merged map[string]any) error {
	var fe usecase.FieldErrors
	if len(merged) > settingsMaxKeys {
		fe.Add("settings", "must have at most 100 keys")
	}
	for k := range merged {
		if strings.TrimSpace(k) == "" {
			fe.Add("settings", "keys must not be blank")
			break
		}
		if utf8.RuneCountInString(k) > settingsKeyMaxLen {
			fe.Add("settings."+string([]rune(k)[:settingsKeyMaxLen]), "key must be at most 64 characters")
			break
		}
	}
	if len(fe) == 0 {
		b, err := json.Marshal(merged)
		if err != nil {
			fe.Add("settings", "must be JSON encodable")
		} else if len(b) > settingsMaxBytes {
			fe.Add("settings", "must be at most 16KB when encoded")
		}
	}
	return fe.Err()
}

func (v *userValidator) ValidatePasswordChange(ctx context.Context, currentPassword string, newPassword string) error {
	var fe usecase.FieldErrors
	if currentPassword == "" {
		fe.Add("currentPassword", "is required")
	}
	checkPassword(&fe, "newPassword", newPassword)
	if newPassword != "" && newPassword == currentPassword {
		fe.Add("newPassword", "must differ from the current password")
	}
	return fe.Err()
}

func (v *userValidator) ValidateEventQuery(ctx context.Context, in usecase.EventQueryInput) error {
	var fe usecase.FieldErrors
	if in.Limit < 1 || in.Limit > eventsMaxLimit {
		fe.Add("limit", "must be between 1 and 100")
	}
	if in.Offset < 0 {
		fe.Add("offset", "must not be negative")
	}
	for _, a := range in.Actions {
		if !model.AuditAction(a).Valid() {
			fe.Add("action", "unknown action: "+a)
			break
		}
	}
	if in.From != nil && in.To != nil && !in.From.Before(*in.To) {
		fe.Add("to", "must be after from")
	}
	return fe.Err()
}
