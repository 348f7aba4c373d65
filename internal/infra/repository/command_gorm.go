package repository

import (
	"context"

	"echocommand/internal/domain/model"
	repo "echocommand/internal/repository"

	"gorm.io/gorm"
)

type CommandGormRepository struct {
	db *gorm.DB
}

// DI
func NewCommandGormRepository(db *gorm.DB) *CommandGormRepository {
	return &CommandGormRepository{db: db}
}

// 所有者のコマンドをid昇順で返す。
func (r *CommandGormRepository) ListByUserID(ctx context.Context, userID int64, q repo.PageQuery) ([]model.CustomCommand, int64, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.CustomCommand{}).
		Where("user_id = ?", userID)
	return r.page(tx, q)
}

// 公開かつDEPRECATEDでないものだけ
func (r *CommandGormRepository) ListPublic(ctx context.Context, q repo.PageQuery) ([]model.CustomCommand, int64, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.CustomCommand{}).
		Where("is_public = ? AND status <> ?", true, model.CommandStatusDeprecated)
	return r.page(tx, q)
}

func (r *CommandGormRepository) page(tx *gorm.DB, q repo.PageQuery) ([]model.CustomCommand, int64, error) {
	// Count と Find で条件を使い回す
	tx = tx.Session(&gorm.Session{})

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return []model.CustomCommand{}, 0, err
	}

	// ページングを安定させるためid昇順
	items := []model.CustomCommand{}
	if err := tx.Order("id asc").Offset(q.Offset()).Limit(q.Size).Find(&items).Error; err != nil {
		return []model.CustomCommand{}, 0, err
	}
	return items, total, nil
}

// IDでコマンドを取得
func (r *CommandGormRepository) FindByID(ctx context.Context, id int64) (model.CustomCommand, error) {
	var c model.CustomCommand
	err := r.db.WithContext(ctx).First(&c, id).Error
	if isNotFound(err) {
		return model.CustomCommand{}, repo.ErrNotFound
	}
	if err != nil {
		return model.CustomCommand{}, err
	}
	return c, nil
}

// コマンドの作成
func (r *CommandGormRepository) Create(ctx context.Context, c model.CustomCommand) (model.CustomCommand, error) {
	if err := r.db.WithContext(ctx).Omit("User").Create(&c).Error; err != nil {
		if isForeignKeyViolation(err) {
			return model.CustomCommand{}, repo.ErrUserNotFound
		}
		return model.CustomCommand{}, err
	}
	return c, nil
}

// 内容の更新。usage_count・所有者は変えない
func (r *CommandGormRepository) Update(ctx context.Context, c model.CustomCommand) (model.CustomCommand, error) {
	res := r.db.WithContext(ctx).Model(&model.CustomCommand{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
		"name":           c.Name,
		"description":    c.Description,
		"trigger_phrase": c.TriggerPhrase,
		"command_script": c.CommandScript,
		"command_type":   c.CommandType,
		"status":         c.Status,
		"is_public":      c.IsPublic,
	})
	if res.Error != nil {
		return model.CustomCommand{}, res.Error
	}
	if res.RowsAffected == 0 {
		return model.CustomCommand{}, repo.ErrNotFound
	}
	return r.FindByID(ctx, c.ID)
}

// コマンド削除
func (r *CommandGormRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&model.CustomCommand{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 使用回数を+1（読み込み→書き込みにしないので取りこぼさない）
func (r *CommandGormRepository) IncrementUsage(ctx context.Context, id int64) (int64, error) {
	var counts []int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.CustomCommand{}).
			Where("id = ?", id).
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repo.ErrNotFound
		}
		return tx.Model(&model.CustomCommand{}).
			Where("id = ?", id).
			Pluck("usage_count", &counts).Error
	})
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return 0, repo.ErrNotFound
	}
	return counts[0], nil
}

// 指定ユーザーのコマンドを全削除（アカウント削除用）
func (r *CommandGormRepository) DeleteAllByUserID(ctx context.Context, userID int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&model.CustomCommand{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
