package repository

import (
	"context"

	"echocommand/internal/domain/model"
	repo "echocommand/internal/repository"

	"gorm.io/gorm"
)

// Limit未指定時の件数
const defaultAuditListLimit = 20

type auditLogGormRepository struct {
	db *gorm.DB
}

func NewAuditLogGormRepository(db *gorm.DB) repo.AuditLogRepository {
	return &auditLogGormRepository{db: db}
}

// 追記のみ。監査ログは更新・削除しない
func (r *auditLogGormRepository) Create(ctx context.Context, entry model.AuditLog) error {
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *auditLogGormRepository) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditListLimit
	}
	offset := max(filter.Offset, 0)

	logs := []model.AuditLog{}
	err := r.db.WithContext(ctx).
		Scopes(auditLogsMatching(filter)).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// 絞り込み条件をWHEREにする
func auditLogsMatching(f repo.AuditLogFilter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if f.ActorUserID != nil {
			q = q.Where("actor_user_id = ?", *f.ActorUserID)
		}
		if len(f.Actions) > 0 {
			q = q.Where("action IN ?", f.Actions)
		}
		if f.Since != nil {
			q = q.Where("created_at >= ?", *f.Since)
		}
		if f.Until != nil {
			q = q.Where("created_at < ?", *f.Until)
		}
		return q
	}
}
