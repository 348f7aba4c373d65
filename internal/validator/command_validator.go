package validator

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"echocommand/internal/domain/model"
	"echocommand/internal/usecase"
)

const (
	commandNameMaxLen        = 100
	commandDescriptionMaxLen = 500
	triggerPhraseMaxLen      = 500
	commandScriptMaxLen      = 10000
	maxPageSize              = 100

	// page*sizeがoffsetとして溢れない上限
	maxPage = math.MaxInt32 / maxPageSize
)

type commandValidator struct{}

func NewCommandValidator() usecase.CommandValidator {
	return &commandValidator{}
}

func (v *commandValidator) ValidateCreate(ctx context.Context, in usecase.CommandInput) error {
	return validateCommand(in)
}

// 更新も全項目を送る（部分更新はtype/status/isPublicのみ）
func (v *commandValidator) ValidateUpdate(ctx context.Context, in usecase.CommandInput) error {
	return validateCommand(in)
}

func (v *commandValidator) ValidatePage(ctx context.Context, in usecase.PageInput) error {
	var fe usecase.FieldErrors
	switch {
	case in.Page < 0:
		fe.Add("page", "must not be negative")
	case in.Page > maxPage:
		fe.Add("page", "is too large")
	}
	if in.Size < 1 || in.Size > maxPageSize {
		fe.Add("size", "must be between 1 and 100")
	}
	return fe.Err()
}

func validateCommand(in usecase.CommandInput) error {
	var fe usecase.FieldErrors

	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		fe.Add("name", "is required")
	case utf8.RuneCountInString(name) > commandNameMaxLen:
		fe.Add("name", "must be at most 100 characters")
	}

	if utf8.RuneCountInString(in.Description) > commandDescriptionMaxLen {
		fe.Add("description", "must be at most 500 characters")
	}

	switch {
	case strings.TrimSpace(in.TriggerPhrase) == "":
		fe.Add("triggerPhrase", "is required")
	case utf8.RuneCountInString(in.TriggerPhrase) > triggerPhraseMaxLen:
		fe.Add("triggerPhrase", "must be at most 500 characters")
	}

	switch {
	case strings.TrimSpace(in.CommandScript) == "":
		fe.Add("commandScript", "is required")
	case utf8.RuneCountInString(in.CommandScript) > commandScriptMaxLen:
		fe.Add("commandScript", "must be at most 10000 characters")
	}

	if in.CommandType != "" && !model.CommandType(in.CommandType).Valid() {
		fe.Add("commandType", "is not a supported command type")
	}
	if in.Status != "" && !model.CommandStatus(in.Status).Valid() {
		fe.Add("status", "must be one of ACTIVE, INACTIVE, DEPRECATED")
	}

	return fe.Err()
}
