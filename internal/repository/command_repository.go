package repository

import (
	"context"
	"errors"

	"echocommand/internal/domain/model"
)

var ErrNotFound = errors.New("not found")

// 一覧のページング（pageは0始まり）
type PageQuery struct {
	Page int
	Size int
}

func (q PageQuery) Offset() int {
	return q.Page * q.Size
}

// カスタムコマンドの永続化を約束。
type CommandRepository interface {
	// 所有者のコマンド（id昇順）
	ListByUserID(ctx context.Context, userID int64, q PageQuery) ([]model.CustomCommand, int64, error)
	// 公開かつDEPRECATEDでないコマンド（id昇順）
	ListPublic(ctx context.Context, q PageQuery) ([]model.CustomCommand, int64, error)
	FindByID(ctx context.Context, id int64) (model.CustomCommand, error)

	Create(ctx context.Context, c model.CustomCommand) (model.CustomCommand, error)
	Update(ctx context.Context, c model.CustomCommand) (model.CustomCommand, error)
	Delete(ctx context.Context, id int64) error
	// usage_count を+1して新しい値を返す
	IncrementUsage(ctx context.Context, id int64) (int64, error)
	DeleteAllByUserID(ctx context.Context, userID int64) (int64, error)
}
