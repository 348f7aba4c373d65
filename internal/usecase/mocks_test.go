package usecase_test

import (
	"context"
	"time"

	"echocommand/internal/domain/model"
	"echocommand/internal/repository"

	"github.com/stretchr/testify/mock"
)

// =====================
// Mock: UserRepository
// =====================

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *MockUserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	args := m.Called(ctx, username)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *MockUserRepository) FindByUsernameForUpdate(ctx context.Context, username string) (*model.User, error) {
	args := m.Called(ctx, username)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *MockUserRepository) UpdateProfile(ctx context.Context, id int64, p repository.ProfileUpdate) error {
	args := m.Called(ctx, id, p)
	return args.Error(0)
}

func (m *MockUserRepository) UpdateLastLoginAt(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockUserRepository) UpdateSettings(ctx context.Context, id int64, settingsJSON string) error {
	args := m.Called(ctx, id, settingsJSON)
	return args.Error(0)
}

func (m *MockUserRepository) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

func (m *MockUserRepository) IncrementTokenVersion(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUserRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// =====================
// Mock: RefreshTokenRepository
// =====================

type MockRefreshTokenRepository struct {
	mock.Mock
}

func (m *MockRefreshTokenRepository) Create(ctx context.Context, token *model.RefreshToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockRefreshTokenRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	args := m.Called(ctx, tokenHash)
	rt, _ := args.Get(0).(*model.RefreshToken)
	return rt, args.Error(1)
}

func (m *MockRefreshTokenRepository) MarkUsed(ctx context.Context, tokenID string, usedAt time.Time) error {
	args := m.Called(ctx, tokenID, usedAt)
	return args.Error(0)
}

func (m *MockRefreshTokenRepository) Revoke(ctx context.Context, tokenID string, revokedAt time.Time) error {
	args := m.Called(ctx, tokenID, revokedAt)
	return args.Error(0)
}

func (m *MockRefreshTokenRepository) RevokeAllByUserID(ctx context.Context, userID int64, revokedAt time.Time) error {
	args := m.Called(ctx, userID, revokedAt)
	return args.Error(0)
}

func (m *MockRefreshTokenRepository) DeleteAllByUserID(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// =====================
// Mock: CommandRepository
// =====================

type MockCommandRepository struct {
	mock.Mock
}

func (m *MockCommandRepository) ListByUserID(ctx context.Context, userID int64, q repository.PageQuery) ([]model.CustomCommand, int64, error) {
	args := m.Called(ctx, userID, q)
	items, _ := args.Get(0).([]model.CustomCommand)
	return items, args.Get(1).(int64), args.Error(2)
}

func (m *MockCommandRepository) ListPublic(ctx context.Context, q repository.PageQuery) ([]model.CustomCommand, int64, error) {
	args := m.Called(ctx, q)
	items, _ := args.Get(0).([]model.CustomCommand)
	return items, args.Get(1).(int64), args.Error(2)
}

func (m *MockCommandRepository) FindByID(ctx context.Context, id int64) (model.CustomCommand, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.CustomCommand), args.Error(1)
}

func (m *MockCommandRepository) Create(ctx context.Context, c model.CustomCommand) (model.CustomCommand, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(model.CustomCommand), args.Error(1)
}

func (m *MockCommandRepository) Update(ctx context.Context, c model.CustomCommand) (model.CustomCommand, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(model.CustomCommand), args.Error(1)
}

func (m *MockCommandRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCommandRepository) IncrementUsage(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCommandRepository) DeleteAllByUserID(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// =====================
// Mock: AuditLogRepository
// =====================

type MockAuditLogRepository struct {
	mock.Mock
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log model.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockAuditLogRepository) List(ctx context.Context, filter repository.AuditLogFilter) ([]model.AuditLog, error) {
	args := m.Called(ctx, filter)
	logs, _ := args.Get(0).([]model.AuditLog)
	return logs, args.Error(1)
}

// =====================
// Fake: TransactionManager
// =====================

// 同じmockをtx内のrepoとして渡すだけ
type fakeTxManager struct {
	users    *MockUserRepository
	tokens   *MockRefreshTokenRepository
	commands *MockCommandRepository
	audit    *MockAuditLogRepository
}

func (f *fakeTxManager) WithinTx(ctx context.Context, fn func(r repository.TxRepos) error) error {
	return fn(f)
}

func (f *fakeTxManager) Users() repository.UserRepository                 { return f.users }
func (f *fakeTxManager) RefreshTokens() repository.RefreshTokenRepository { return f.tokens }
func (f *fakeTxManager) Commands() repository.CommandRepository           { return f.commands }
func (f *fakeTxManager) AuditLogs() repository.AuditLogRepository         { return f.audit }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() string {
	g.n++
	return "rt-" + string(rune('0'+g.n))
}

// bcryptを使わない照合（テストを速くする）
type plainHasher struct{}

func (plainHasher) Hash(plain string) (string, error) { return "hashed:" + plain, nil }

type plainVerifier struct{}

func (plainVerifier) Verify(plain, hashed string) bool { return hashed == "hashed:"+plain }
