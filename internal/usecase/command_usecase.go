package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"echocommand/internal/domain/model"
	"echocommand/internal/metrics"
	repo "echocommand/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// 一覧の入力（pageは0始まり）
type PageInput struct {
	Page int
	Size int
}

// 作成・更新の入力。空のCommandType/Status、nilのIsPublicは「指定なし」
type CommandInput struct {
	Name          string
	Description   string
	TriggerPhrase string
	CommandScript string
	CommandType   string
	Status        string
	IsPublic      *bool
}

type CommandDTO struct {
	ID            int64     `json:"id"`
	OwnerID       int64     `json:"ownerId"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	TriggerPhrase string    `json:"triggerPhrase"`
	CommandScript string    `json:"commandScript"`
	CommandType   string    `json:"commandType"`
	Status        string    `json:"status"`
	IsPublic      bool      `json:"isPublic"`
	UsageCount    int64     `json:"usageCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type CommandPage struct {
	Items      []CommandDTO `json:"items"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	Size       int          `json:"size"`
	TotalPages int          `json:"totalPages"`
}

type UseCommandResult struct {
	ID         int64 `json:"id"`
	UsageCount int64 `json:"usageCount"`
}

type CommandUsecase struct {
	users     repo.UserRepository
	commands  repo.CommandRepository
	validator CommandValidator
	metrics   *metrics.Metrics
}

// DI
func NewCommandUsecase(users repo.UserRepository, commands repo.CommandRepository, validator CommandValidator) *CommandUsecase {
	return &CommandUsecase{
		users:     users,
		commands:  commands,
		validator: validator,
	}
}

func (u *CommandUsecase) WithMetrics(m *metrics.Metrics) *CommandUsecase {
	u.metrics = m
	return u
}

// 自分のコマンド一覧
func (u *CommandUsecase) GetUserCommands(ctx context.Context, username string, in PageInput) (CommandPage, error) {
	in = normalizePage(in)
	if err := u.validator.ValidatePage(ctx, in); err != nil {
		return CommandPage{}, err
	}

	user, err := u.currentUser(ctx, username)
	if err != nil {
		return CommandPage{}, err
	}

	items, total, err := u.commands.ListByUserID(ctx, user.ID, repo.PageQuery{Page: in.Page, Size: in.Size})
	if err != nil {
		return CommandPage{}, NewInternalError(err)
	}
	return toCommandPage(items, total, in), nil
}

// 公開コマンド一覧（DEPRECATEDは除外）
func (u *CommandUsecase) GetPublicCommands(ctx context.Context, in PageInput) (CommandPage, error) {
	in = normalizePage(in)
	if err := u.validator.ValidatePage(ctx, in); err != nil {
		return CommandPage{}, err
	}

	items, total, err := u.commands.ListPublic(ctx, repo.PageQuery{Page: in.Page, Size: in.Size})
	if err != nil {
		return CommandPage{}, NewInternalError(err)
	}
	return toCommandPage(items, total, in), nil
}

func (u *CommandUsecase) CreateCommand(ctx context.Context, username string, in CommandInput) (CommandDTO, error) {
	in = trimCommandInput(in)
	if err := u.validator.ValidateCreate(ctx, in); err != nil {
		return CommandDTO{}, err
	}

	user, err := u.currentUser(ctx, username)
	if err != nil {
		return CommandDTO{}, err
	}

	c := model.CustomCommand{
		UserID:        user.ID,
		Name:          in.Name,
		Description:   in.Description,
		TriggerPhrase: in.TriggerPhrase,
		CommandScript: in.CommandScript,
		CommandType:   model.CommandTypeSystemControl,
		Status:        model.CommandStatusActive,
	}
	if in.CommandType != "" {
		c.CommandType = model.CommandType(in.CommandType)
	}
	if in.Status != "" {
		c.Status = model.CommandStatus(in.Status)
	}
	if in.IsPublic != nil {
		c.IsPublic = *in.IsPublic
	}

	created, err := u.commands.Create(ctx, c)
	if err != nil {
		//同時に退会された
		if errors.Is(err, repo.ErrUserNotFound) {
			return CommandDTO{}, NewNotFoundError("user not found")
		}
		return CommandDTO{}, NewInternalError(err)
	}
	return toCommandDTO(created), nil
}

// 所有者か公開なら見られる
func (u *CommandUsecase) GetCommand(ctx context.Context, username string, id int64) (CommandDTO, error) {
	c, _, err := u.loadVisible(ctx, username, id)
	if err != nil {
		return CommandDTO{}, err
	}
	return toCommandDTO(c), nil
}

// 更新は所有者のみ（公開でも他人は不可）
func (u *CommandUsecase) UpdateCommand(ctx context.Context, username string, id int64, in CommandInput) (CommandDTO, error) {
	in = trimCommandInput(in)
	if err := u.validator.ValidateUpdate(ctx, in); err != nil {
		return CommandDTO{}, err
	}

	c, err := u.loadOwned(ctx, username, id)
	if err != nil {
		return CommandDTO{}, err
	}

	c.Name = in.Name
	c.Description = in.Description
	c.TriggerPhrase = in.TriggerPhrase
	c.CommandScript = in.CommandScript
	if in.CommandType != "" {
		c.CommandType = model.CommandType(in.CommandType)
	}
	if in.Status != "" {
		c.Status = model.CommandStatus(in.Status)
	}
	if in.IsPublic != nil {
		c.IsPublic = *in.IsPublic
	}

	updated, err := u.commands.Update(ctx, c)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CommandDTO{}, NewNotFoundError("command not found")
		}
		return CommandDTO{}, NewInternalError(err)
	}
	return toCommandDTO(updated), nil
}

func (u *CommandUsecase) DeleteCommand(ctx context.Context, username string, id int64) error {
	if _, err := u.loadOwned(ctx, username, id); err != nil {
		return err
	}

	if err := u.commands.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("command not found")
		}
		return NewInternalError(err)
	}
	return nil
}

// 使用回数を+1。見られるコマンドなら使える
func (u *CommandUsecase) UseCommand(ctx context.Context, username string, id int64) (UseCommandResult, error) {
	if _, _, err := u.loadVisible(ctx, username, id); err != nil {
		return UseCommandResult{}, err
	}

	count, err := u.commands.IncrementUsage(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return UseCommandResult{}, NewNotFoundError("command not found")
		}
		return UseCommandResult{}, NewInternalError(err)
	}

	u.metrics.RecordCommandUse()
	return UseCommandResult{ID: id, UsageCount: count}, nil
}

func (u *CommandUsecase) currentUser(ctx context.Context, username string) (*model.User, error) {
	user, err := u.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, NewNotFoundError("user not found")
		}
		return nil, NewInternalError(err)
	}
	return user, nil
}

func (u *CommandUsecase) find(ctx context.Context, id int64) (model.CustomCommand, error) {
	if id <= 0 {
		return model.CustomCommand{}, NewNotFoundError("command not found")
	}
	c, err := u.commands.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.CustomCommand{}, NewNotFoundError("command not found")
		}
		return model.CustomCommand{}, NewInternalError(err)
	}
	return c, nil
}

// 404 → 403 の順で判定
func (u *CommandUsecase) loadVisible(ctx context.Context, username string, id int64) (model.CustomCommand, *model.User, error) {
	c, err := u.find(ctx, id)
	if err != nil {
		return model.CustomCommand{}, nil, err
	}
	user, err := u.currentUser(ctx, username)
	if err != nil {
		return model.CustomCommand{}, nil, err
	}
	if c.UserID != user.ID && !c.IsPublic {
		return model.CustomCommand{}, nil, NewForbiddenError("no access to this command")
	}
	return c, user, nil
}

func (u *CommandUsecase) loadOwned(ctx context.Context, username string, id int64) (model.CustomCommand, error) {
	c, err := u.find(ctx, id)
	if err != nil {
		return model.CustomCommand{}, err
	}
	user, err := u.currentUser(ctx, username)
	if err != nil {
		return model.CustomCommand{}, err
	}
	if c.UserID != user.ID {
		return model.CustomCommand{}, NewForbiddenError("only the owner can modify this command")
	}
	return c, nil
}

func normalizePage(in PageInput) PageInput {
	if in.Size == 0 {
		in.Size = defaultPageSize
	}
	return in
}

func trimCommandInput(in CommandInput) CommandInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.TriggerPhrase = strings.TrimSpace(in.TriggerPhrase)
	in.CommandType = strings.ToUpper(strings.TrimSpace(in.CommandType))
	in.Status = strings.ToUpper(strings.TrimSpace(in.Status))
	return in
}

func toCommandDTO(c model.CustomCommand) CommandDTO {
	return CommandDTO{
		ID:            c.ID,
		OwnerID:       c.UserID,
		Name:          c.Name,
		Description:   c.Description,
		TriggerPhrase: c.TriggerPhrase,
		CommandScript: c.CommandScript,
		CommandType:   string(c.CommandType),
		Status:        string(c.Status),
		IsPublic:      c.IsPublic,
		UsageCount:    c.UsageCount,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func toCommandPage(items []model.CustomCommand, total int64, in PageInput) CommandPage {
	dtos := make([]CommandDTO, 0, len(items))
	for _, c := range items {
		dtos = append(dtos, toCommandDTO(c))
	}

	totalPages := 0
	if in.Size > 0 {
		totalPages = int((total + int64(in.Size) - 1) / int64(in.Size))
	}

	return CommandPage{
		Items:      dtos,
		Total:      total,
		Page:       in.Page,
		Size:       in.Size,
		TotalPages: totalPages,
	}
}
