package repository

import (
	"context"
	"errors"
	"time"

	"echocommand/internal/domain/model"
)

// ユーザーが見つかりませんを統一
var ErrUserNotFound = errors.New("user not found")

// username / email の一意制約違反
var ErrDuplicate = errors.New("duplicate key")

// プロフィール更新の項目。nilの項目は書き込まない
type ProfileUpdate struct {
	Email       *string
	DisplayName *string
}

// 保存・取得を約束
type UserRepository interface {
	//新規ユーザー作成（重複はErrDuplicate）
	Create(ctx context.Context, user *model.User) error
	// IDからユーザーを1件取得する。
	FindByID(ctx context.Context, userID int64) (*model.User, error)
	// usernameからユーザーを1件取得する。
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	// 行ロック付きで取得（設定のマージ用）
	FindByUsernameForUpdate(ctx context.Context, username string) (*model.User, error)
	//メールからユーザーを一件取得する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// 指定された項目だけ更新（email重複はErrDuplicate）
	UpdateProfile(ctx context.Context, userID int64, p ProfileUpdate) error
	// 最終ログイン日時だけ更新
	UpdateLastLoginAt(ctx context.Context, userID int64, at time.Time) error
	// 設定JSONだけを更新
	UpdateSettings(ctx context.Context, userID int64, settingsJSON string) error
	// パスワード変更
	UpdatePasswordHash(ctx context.Context, userID int64, passwordHash string) error
	//トークンのバージョンを＋１
	IncrementTokenVersion(ctx context.Context, userID int64) error
	// ユーザー行を削除
	Delete(ctx context.Context, userID int64) error
}
