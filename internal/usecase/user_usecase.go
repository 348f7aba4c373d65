package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"echocommand/internal/domain/model"
	"echocommand/internal/repository"
	auth "echocommand/internal/usecase/auth_usecase"

	"github.com/sirupsen/logrus"
)

const defaultEventLimit = 20

type ProfileDTO struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Role        string     `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
}

// nilの項目は変更しない
type UpdateProfileInput struct {
	Email       *string
	DisplayName *string
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// Actions・From・Toは省略可。From <= createdAt < To
type EventQueryInput struct {
	Limit   int
	Offset  int
	Actions []string
	From    *time.Time
	To      *time.Time
}

type SecurityEventDTO struct {
	ID           int64     `json:"id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type UserUsecase struct {
	users     repository.UserRepository
	audit     repository.AuditLogRepository
	tm        repository.TransactionManager
	validator UserValidator
	hasher    auth.PasswordHasher
	verifier  auth.PasswordVerifier
	clock     auth.Clock

	log *logrus.Logger
}

func NewUserUsecase(
	users repository.UserRepository,
	audit repository.AuditLogRepository,
	tm repository.TransactionManager,
	validator UserValidator,
	hasher auth.PasswordHasher,
	verifier auth.PasswordVerifier,
	clock auth.Clock,
) *UserUsecase {
	return &UserUsecase{
		users:     users,
		audit:     audit,
		tm:        tm,
		validator: validator,
		hasher:    hasher,
		verifier:  verifier,
		clock:     clock,
		log:       logrus.StandardLogger(),
	}
}

func (u *UserUsecase) WithLogger(l *logrus.Logger) *UserUsecase {
	u.log = l
	return u
}

func (u *UserUsecase) GetUserProfile(ctx context.Context, username string) (ProfileDTO, error) {
	user, err := u.findUser(ctx, u.users, username)
	if err != nil {
		return ProfileDTO{}, err
	}
	return toProfileDTO(user), nil
}

func (u *UserUsecase) UpdateUserProfile(ctx context.Context, username string, in UpdateProfileInput) (ProfileDTO, error) {
	in = trimProfileInput(in)
	if err := u.validator.ValidateProfile(ctx, in); err != nil {
		return ProfileDTO{}, err
	}

	user, err := u.findUser(ctx, u.users, username)
	if err != nil {
		return ProfileDTO{}, err
	}

	if in.Email != nil && !strings.EqualFold(*in.Email, user.Email) {
		//他人が使っているメールは不可
		other, err := u.users.FindByEmail(ctx, *in.Email)
		if err == nil && other.ID != user.ID {
			return ProfileDTO{}, NewConflictError("email already exists")
		}
		if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return ProfileDTO{}, NewInternalError(err)
		}
	}
	//指定された項目だけ書く（同時のログインでlast_login_atを戻さない）
	err = u.users.UpdateProfile(ctx, user.ID, repository.ProfileUpdate{
		Email:       in.Email,
		DisplayName: in.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return ProfileDTO{}, NewConflictError("email already exists")
		case errors.Is(err, repository.ErrUserNotFound):
			return ProfileDTO{}, NewNotFoundError("user not found")
		}
		return ProfileDTO{}, NewInternalError(err)
	}

	//updated_atを取り直す
	return u.GetUserProfile(ctx, username)
}

func (u *UserUsecase) GetUserSettings(ctx context.Context, username string) (map[string]any, error) {
	user, err := u.findUser(ctx, u.users, username)
	if err != nil {
		return nil, err
	}
	settings, err := decodeSettings(user.Settings)
	if err != nil {
		return nil, NewInternalError(err)
	}
	return settings, nil
}

// 既存の設定にpatchをマージ。nullのキーは削除。
// 同時更新で片方の変更が消えないよう行ロックを取ってから読む
func (u *UserUsecase) UpdateUserSettings(ctx context.Context, username string, patch map[string]any) (map[string]any, error) {
	var merged map[string]any
	err := u.tm.WithinTx(ctx, func(r repository.TxRepos) error {
		user, err := r.Users().FindByUsernameForUpdate(ctx, username)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return NewNotFoundError("user not found")
			}
			return NewInternalError(err)
		}

		current, err := decodeSettings(user.Settings)
		if err != nil {
			return NewInternalError(err)
		}
		merged = MergeSettings(current, patch)

		if err := u.validator.ValidateSettings(ctx, merged); err != nil {
			return err
		}

		b, err := json.Marshal(merged)
		if err != nil {
			return NewInternalError(err)
		}
		if err := r.Users().UpdateSettings(ctx, user.ID, string(b)); err != nil {
			return NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// パスワード変更。既存のaccess tokenはtoken_versionで、refresh tokenは全失効で無効にする
func (u *UserUsecase) ChangePassword(ctx context.Context, username string, in ChangePasswordInput) error {
	if err := u.validator.ValidatePasswordChange(ctx, in.CurrentPassword, in.NewPassword); err != nil {
		return err
	}

	user, err := u.findUser(ctx, u.users, username)
	if err != nil {
		return err
	}
	if !u.verifier.Verify(in.CurrentPassword, user.PasswordHash) {
		return NewUnauthorizedError("current password is incorrect")
	}

	pwHash, err := u.hasher.Hash(in.NewPassword)
	if err != nil {
		return NewInternalError(err)
	}

	now := u.clock.Now()
	return u.tm.WithinTx(ctx, func(r repository.TxRepos) error {
		if err := r.Users().UpdatePasswordHash(ctx, user.ID, pwHash); err != nil {
			return u.mapUserWriteErr(err)
		}
		if err := r.Users().IncrementTokenVersion(ctx, user.ID); err != nil {
			return u.mapUserWriteErr(err)
		}
		if err := r.RefreshTokens().RevokeAllByUserID(ctx, user.ID, now); err != nil {
			return NewInternalError(err)
		}
		return u.writeAudit(ctx, r.AuditLogs(), user.ID, model.AuditActionChangePassword, "")
	})
}

// アカウント削除。トークン・コマンド・ユーザーを1トランザクションで消す
func (u *UserUsecase) DeleteUser(ctx context.Context, username string) error {
	return u.tm.WithinTx(ctx, func(r repository.TxRepos) error {
		user, err := u.findUser(ctx, r.Users(), username)
		if err != nil {
			return err
		}

		if err := r.RefreshTokens().DeleteAllByUserID(ctx, user.ID); err != nil {
			return NewInternalError(err)
		}
		removed, err := r.Commands().DeleteAllByUserID(ctx, user.ID)
		if err != nil {
			return NewInternalError(err)
		}
		if err := r.Users().Delete(ctx, user.ID); err != nil {
			return u.mapUserWriteErr(err)
		}

		detail := "commands_removed=" + strconv.FormatInt(removed, 10)
		return u.writeAudit(ctx, r.AuditLogs(), user.ID, model.AuditActionDeleteAccount, detail)
	})
}

// 自分のアカウントに関する監査ログ（新しい順）
func (u *UserUsecase) GetSecurityEvents(ctx context.Context, username string, in EventQueryInput) ([]SecurityEventDTO, error) {
	if in.Limit == 0 {
		in.Limit = defaultEventLimit
	}
	if err := u.validator.ValidateEventQuery(ctx, in); err != nil {
		return nil, err
	}

	user, err := u.findUser(ctx, u.users, username)
	if err != nil {
		return nil, err
	}

	filter := repository.AuditLogFilter{
		ActorUserID: &user.ID,
		Since:       in.From,
		Until:       in.To,
		Limit:       in.Limit,
		Offset:      in.Offset,
	}
	for _, a := range in.Actions {
		filter.Actions = append(filter.Actions, model.AuditAction(a))
	}

	logs, err := u.audit.List(ctx, filter)
	if err != nil {
		return nil, NewInternalError(err)
	}

	out := make([]SecurityEventDTO, 0, len(logs))
	for _, l := range logs {
		out = append(out, SecurityEventDTO{
			ID:           l.ID,
			Action:       string(l.Action),
			ResourceType: string(l.ResourceType),
			ResourceID:   l.ResourceID,
			Detail:       l.Detail,
			CreatedAt:    l.CreatedAt,
		})
	}
	return out, nil
}

// MergeSettingsはpatchのキーでcurrentを上書きした新しいmapを返す。
// 値がnilのキーは削除する。
func MergeSettings(current, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

func (u *UserUsecase) findUser(ctx context.Context, users repository.UserRepository, username string) (*model.User, error) {
	user, err := users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, NewNotFoundError("user not found")
		}
		return nil, NewInternalError(err)
	}
	return user, nil
}

func (u *UserUsecase) mapUserWriteErr(err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return NewNotFoundError("user not found")
	}
	return NewInternalError(err)
}

// トランザクション内の監査ログは失敗したら全体を戻す
func (u *UserUsecase) writeAudit(ctx context.Context, audit repository.AuditLogRepository, userID int64, action model.AuditAction, detail string) error {
	err := audit.Create(ctx, model.AuditLog{
		ActorUserID:  userID,
		Action:       action,
		ResourceType: model.AuditResourceUser,
		ResourceID:   strconv.FormatInt(userID, 10),
		Detail:       detail,
		CreatedAt:    u.clock.Now(),
	})
	if err != nil {
		u.log.WithError(err).WithField("action", action).Error("audit log write failed")
		return NewInternalError(err)
	}
	return nil
}

func decodeSettings(raw string) (map[string]any, error) {
	settings := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return settings, nil
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, err
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return settings, nil
}

func toProfileDTO(u *model.User) ProfileDTO {
	return ProfileDTO{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func trimProfileInput(in UpdateProfileInput) UpdateProfileInput {
	if in.Email != nil {
		e := strings.TrimSpace(*in.Email)
		in.Email = &e
	}
	if in.DisplayName != nil {
		d := strings.TrimSpace(*in.DisplayName)
		in.DisplayName = &d
	}
	return in
}
