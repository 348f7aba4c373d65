package repository

import (
	"context"
	"errors"
	"time"

	"echocommand/internal/domain/model"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// リフレッシュトークンの保存・取得・更新・削除
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	// 未失効のものだけ used_at / revoked_at をセット。0件ならErrRefreshTokenNotFound
	MarkUsed(ctx context.Context, tokenID string, usedAt time.Time) error
	// 未失効のものだけ revoked_at をセット。0件ならErrRefreshTokenNotFound
	Revoke(ctx context.Context, tokenID string, revokedAt time.Time) error
	RevokeAllByUserID(ctx context.Context, userID int64, revokedAt time.Time) error
	DeleteAllByUserID(ctx context.Context, userID int64) error
}
