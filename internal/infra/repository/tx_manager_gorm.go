package repository

import (
	"context"

	repo "echocommand/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	users         repo.UserRepository
	refreshTokens repo.RefreshTokenRepository
	commands      repo.CommandRepository
	auditLogs     repo.AuditLogRepository
}

func (r *txReposGorm) Users() repo.UserRepository                 { return r.users }
func (r *txReposGorm) RefreshTokens() repo.RefreshTokenRepository { return r.refreshTokens }
func (r *txReposGorm) Commands() repo.CommandRepository           { return r.commands }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository         { return r.auditLogs }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

// fnがerrorを返したらrollback
func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		r := &txReposGorm{
			users:         NewUserGormRepository(tx),
			refreshTokens: NewRefreshTokenRepository(tx),
			commands:      NewCommandGormRepository(tx),
			auditLogs:     NewAuditLogGormRepository(tx),
		}
		return fn(r)
	})
}
