package repository

import (
	"context"
	"time"

	"echocommand/internal/domain/model"
	domainrepo "echocommand/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userGormRepository struct {
	db *gorm.DB
}

// DI
// main.goでこれをnewしてusecaseに注入します。
func NewUserGormRepository(db *gorm.DB) domainrepo.UserRepository {
	return &userGormRepository{db: db}
}

// Create はユーザーを新規作成
func (r *userGormRepository) Create(ctx context.Context, user *model.User) error {
	if user.Settings == "" {
		user.Settings = "{}"
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return domainrepo.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *userGormRepository) findOne(q *gorm.DB) (*model.User, error) {
	var u model.User
	if err := q.First(&u).Error; err != nil {
		if isNotFound(err) {
			return nil, domainrepo.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// IDでユーザーを1件取得
func (r *userGormRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return r.findOne(r.db.WithContext(ctx).Where("id = ?", id))
}

// usernameでユーザーを1件取得
func (r *userGormRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(r.db.WithContext(ctx).Where("username = ?", username))
}

// SELECT ... FOR UPDATE（SQLiteでは無視される）
func (r *userGormRepository) FindByUsernameForUpdate(ctx context.Context, username string) (*model.User, error) {
	q := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("username = ?", username)
	return r.findOne(q)
}

// emailでユーザーを1件取得
func (r *userGormRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(r.db.WithContext(ctx).Where("email = ?", email))
}

// 渡された項目だけを書く
func (r *userGormRepository) UpdateProfile(ctx context.Context, id int64, p domainrepo.ProfileUpdate) error {
	cols := map[string]interface{}{}
	if p.Email != nil {
		cols["email"] = *p.Email
	}
	if p.DisplayName != nil {
		cols["display_name"] = *p.DisplayName
	}
	if len(cols) == 0 {
		// 変更なしでも存在確認はする
		_, err := r.FindByID(ctx, id)
		return err
	}

	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Updates(cols)
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return domainrepo.ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainrepo.ErrUserNotFound
	}
	return nil
}

func (r *userGormRepository) UpdateLastLoginAt(ctx context.Context, id int64, at time.Time) error {
	return r.updateColumn(ctx, id, "last_login_at", at)
}

func (r *userGormRepository) UpdateSettings(ctx context.Context, id int64, settingsJSON string) error {
	return r.updateColumn(ctx, id, "settings", settingsJSON)
}

func (r *userGormRepository) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	return r.updateColumn(ctx, id, "password_hash", passwordHash)
}

// token_versionを+1 します。
func (r *userGormRepository) IncrementTokenVersion(ctx context.Context, id int64) error {
	return r.updateColumn(ctx, id, "token_version", gorm.Expr("token_version + ?", 1))
}

func (r *userGormRepository) updateColumn(ctx context.Context, id int64, column string, value interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{column: value})

	if res.Error != nil {
		return res.Error
	}
	// 0件更新は「対象がない」
	if res.RowsAffected == 0 {
		return domainrepo.ErrUserNotFound
	}
	return nil
}

func (r *userGormRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&model.User{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainrepo.ErrUserNotFound
	}
	return nil
}
