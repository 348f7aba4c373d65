package repository

import (
	"context"
	"time"

	"echocommand/internal/domain/model"
)

// 監査ログの絞り込み条件。ゼロ値の項目は条件にしない
type AuditLogFilter struct {
	ActorUserID *int64
	// いずれかに一致
	Actions []model.AuditAction
	// Since <= created_at < Until
	Since *time.Time
	Until *time.Time

	Limit  int
	Offset int
}

// 監査ログの保存・一覧取得の約束。
type AuditLogRepository interface {
	//監査ログを1件保存
	Create(ctx context.Context, log model.AuditLog) error

	//条件に合う監査ログを新しい順で取得
	List(ctx context.Context, filter AuditLogFilter) ([]model.AuditLog, error)
}
