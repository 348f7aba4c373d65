package usecase

import "context"

// usecaseがValidatorInterfaceに依存する約束
type AuthValidator interface {
	ValidateRegister(ctx context.Context, in RegisterInput) error
	ValidateLogin(ctx context.Context, username string, password string) error
	ValidateRefresh(ctx context.Context, refreshToken string) error
	ValidateLogout(ctx context.Context, refreshToken string) error
}

type CommandValidator interface {
	ValidateCreate(ctx context.Context, in CommandInput) error
	ValidateUpdate(ctx context.Context, in CommandInput) error
	ValidatePage(ctx context.Context, in PageInput) error
}

type UserValidator interface {
	ValidateProfile(ctx context.Context, in UpdateProfileInput) error
	ValidateSettings(ctx context.Context, merged map[string]any) error
	ValidatePasswordChange(ctx context.Context, currentPassword string, newPassword string) error
	ValidateEventQuery(ctx context.Context, in EventQueryInput) error
}
