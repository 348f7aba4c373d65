package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"echocommand/internal/domain/model"
	"echocommand/internal/repository"
	"echocommand/internal/usecase"
	"echocommand/internal/validator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type userFixture struct {
	users    *MockUserRepository
	tokens   *MockRefreshTokenRepository
	commands *MockCommandRepository
	audit    *MockAuditLogRepository
	now      time.Time
	uc       *usecase.UserUsecase
}

func newUserFixture() *userFixture {
	f := &userFixture{
		users:    new(MockUserRepository),
		tokens:   new(MockRefreshTokenRepository),
		commands: new(MockCommandRepository),
		audit:    new(MockAuditLogRepository),
		now:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	tm := &fakeTxManager{users: f.users, tokens: f.tokens, commands: f.commands, audit: f.audit}
	f.uc = usecase.NewUserUsecase(f.users, f.audit, tm, validator.NewUserValidator(), plainHasher{}, plainVerifier{}, fixedClock{now: f.now})
	return f
}

func TestMergeSettings(t *testing.T) {
	current := map[string]any{"theme": "dark", "lang": "en"}
	merged := usecase.MergeSettings(current, map[string]any{"lang": "ja", "volume": 0.5, "theme": nil})

	assert.Equal(t, map[string]any{"lang": "ja", "volume": 0.5}, merged)
	// 元のmapは変更しない
	assert.Equal(t, "dark", current["theme"])
}

func TestUpdateUserSettings_MergesWithStored(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	f.users.On("FindByUsernameForUpdate", ctx, "alice").
		Return(&model.User{ID: 1, Username: "alice", Settings: `{"theme":"dark","lang":"en"}`}, nil)

	var saved string
	f.users.On("UpdateSettings", ctx, int64(1), mock.Anything).Run(func(args mock.Arguments) {
		saved = args.String(2)
	}).Return(nil)

	merged, err := f.uc.UpdateUserSettings(ctx, "alice", map[string]any{"lang": "ja"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark", "lang": "ja"}, merged)

	var stored map[string]any
	require.NoError(t, json.Unmarshal([]byte(saved), &stored))
	assert.Equal(t, merged, stored)
}

func TestUpdateUserSettings_UnknownUser(t *testing.T) {
	f := newUserFixture()
	f.users.On("FindByUsernameForUpdate", mock.Anything, "ghost").Return(nil, repository.ErrUserNotFound)

	_, err := f.uc.UpdateUserSettings(context.Background(), "ghost", map[string]any{"a": 1})
	assert.True(t, errors.Is(err, usecase.ErrNotFound))
}

func TestGetUserSettings_EmptyDefault(t *testing.T) {
	f := newUserFixture()
	f.users.On("FindByUsername", mock.Anything, "alice").Return(&model.User{ID: 1, Settings: ""}, nil)

	settings, err := f.uc.GetUserSettings(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, settings)
	assert.NotNil(t, settings)
}

func TestUpdateUserProfile_EmailConflict(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	f.users.On("FindByUsername", ctx, "alice").Return(&model.User{ID: 1, Email: "alice@example.com"}, nil)
	f.users.On("FindByEmail", ctx, "bob@example.com").Return(&model.User{ID: 2, Email: "bob@example.com"}, nil)

	email := "bob@example.com"
	_, err := f.uc.UpdateUserProfile(ctx, "alice", usecase.UpdateProfileInput{Email: &email})
	assert.True(t, errors.Is(err, usecase.ErrConflict))
	f.users.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateUserProfile_DisplayNameOnly(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	f.users.On("FindByUsername", ctx, "alice").Return(&model.User{ID: 1, Email: "alice@example.com"}, nil)
	f.users.On("UpdateProfile", ctx, int64(1), mock.MatchedBy(func(p repository.ProfileUpdate) bool {
		return p.Email == nil && p.DisplayName != nil && *p.DisplayName == "Alice"
	})).Return(nil)

	name := " Alice "
	_, err := f.uc.UpdateUserProfile(ctx, "alice", usecase.UpdateProfileInput{DisplayName: &name})
	require.NoError(t, err)
	f.users.AssertExpectations(t)
}

func TestChangePassword(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	f.users.On("FindByUsername", ctx, "alice").Return(&model.User{ID: 1, PasswordHash: "hashed:old-pass-1"}, nil)
	f.users.On("UpdatePasswordHash", ctx, int64(1), "hashed:new-pass-2").Return(nil)
	f.users.On("IncrementTokenVersion", ctx, int64(1)).Return(nil)
	f.tokens.On("RevokeAllByUserID", ctx, int64(1), f.now).Return(nil)
	f.audit.On("Create", ctx, mock.MatchedBy(func(l model.AuditLog) bool {
		return l.Action == model.AuditActionChangePassword
	})).Return(nil)

	err := f.uc.ChangePassword(ctx, "alice", usecase.ChangePasswordInput{CurrentPassword: "old-pass-1", NewPassword: "new-pass-2"})
	require.NoError(t, err)
	f.users.AssertExpectations(t)
	f.tokens.AssertExpectations(t)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	f := newUserFixture()
	f.users.On("FindByUsername", mock.Anything, "alice").Return(&model.User{ID: 1, PasswordHash: "hashed:old-pass-1"}, nil)

	err := f.uc.ChangePassword(context.Background(), "alice", usecase.ChangePasswordInput{CurrentPassword: "nope-nope", NewPassword: "new-pass-2"})
	assert.True(t, errors.Is(err, usecase.ErrUnauthorized))
	f.users.AssertNotCalled(t, "UpdatePasswordHash", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteUser_RemovesEverything(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	f.users.On("FindByUsername", ctx, "alice").Return(&model.User{ID: 1}, nil)
	f.tokens.On("DeleteAllByUserID", ctx, int64(1)).Return(nil)
	f.commands.On("DeleteAllByUserID", ctx, int64(1)).Return(int64(3), nil)
	f.users.On("Delete", ctx, int64(1)).Return(nil)
	f.audit.On("Create", ctx, mock.MatchedBy(func(l model.AuditLog) bool {
		return l.Action == model.AuditActionDeleteAccount && l.Detail == "commands_removed=3"
	})).Return(nil)

	require.NoError(t, f.uc.DeleteUser(ctx, "alice"))
	f.tokens.AssertExpectations(t)
	f.commands.AssertExpectations(t)
	f.users.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

func TestDeleteUser_FailureIsInternal(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	f.users.On("FindByUsername", ctx, "alice").Return(&model.User{ID: 1}, nil)
	f.tokens.On("DeleteAllByUserID", ctx, int64(1)).Return(nil)
	f.commands.On("DeleteAllByUserID", ctx, int64(1)).Return(int64(0), errors.New("disk full"))

	err := f.uc.DeleteUser(ctx, "alice")
	assert.True(t, errors.Is(err, usecase.ErrInternal))
	f.users.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestGetSecurityEvents(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	f.users.On("FindByUsername", ctx, "alice").Return(&model.User{ID: 1}, nil)
	f.audit.On("List", ctx, mock.MatchedBy(func(filter repository.AuditLogFilter) bool {
		return filter.ActorUserID != nil && *filter.ActorUserID == 1 && filter.Limit == 20
	})).Return([]model.AuditLog{{ID: 3, Action: model.AuditActionLogin, ResourceType: model.AuditResourceUser, ResourceID: "1"}}, nil)

	events, err := f.uc.GetSecurityEvents(ctx, "alice", usecase.EventQueryInput{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "LOGIN", events[0].Action)

	_, err = f.uc.GetSecurityEvents(ctx, "alice", usecase.EventQueryInput{Limit: 500})
	assert.True(t, errors.Is(err, usecase.ErrValidation))
}

func TestGetSecurityEvents_Filters(t *testing.T) {
	f := newUserFixture()
	ctx := context.Background()

	from := f.now.Add(-time.Hour)
	to := f.now
	f.users.On("FindByUsername", ctx, "alice").Return(&model.User{ID: 1}, nil)
	f.audit.On("List", ctx, mock.MatchedBy(func(filter repository.AuditLogFilter) bool {
		return len(filter.Actions) == 2 &&
			filter.Actions[0] == model.AuditActionLogin &&
			filter.Actions[1] == model.AuditActionRefreshReuse &&
			filter.Since != nil && filter.Since.Equal(from) &&
			filter.Until != nil && filter.Until.Equal(to)
	})).Return([]model.AuditLog{}, nil)

	events, err := f.uc.GetSecurityEvents(ctx, "alice", usecase.EventQueryInput{
		Actions: []string{"LOGIN", "REFRESH_REUSE"}, From: &from, To: &to,
	})
	require.NoError(t, err)
	assert.Empty(t, events)
	f.audit.AssertExpectations(t)

	_, err = f.uc.GetSecurityEvents(ctx, "alice", usecase.EventQueryInput{Actions: []string{"PURCHASE"}})
	assert.True(t, errors.Is(err, usecase.ErrValidation))

	_, err = f.uc.GetSecurityEvents(ctx, "alice", usecase.EventQueryInput{From: &to, To: &from})
	assert.True(t, errors.Is(err, usecase.ErrValidation))
}
