package usecase

import (
	"errors"
	"strings"
)

var (
	//400 入力不足
	ErrValidation = errors.New("validation error")
	//401 認証失敗・トークン無効
	ErrUnauthorized = errors.New("unauthorized")
	//403 権限
	ErrForbidden = errors.New("forbidden")
	//404
	ErrNotFound = errors.New("not found")
	//409 競合
	ErrConflict = errors.New("conflict")
	//500
	ErrInternal = errors.New("internal error")
)

// 項目ごとの入力エラー
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppErrorは種類（Kind）とユーザー向けメッセージを持つ。
// errors.Is(err, ErrNotFound) のように種類で判定できる。
type AppError struct {
	Kind    error
	Message string
	Fields  []FieldError
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Kind
}

func newError(kind error, message string) error {
	return &AppError{Kind: kind, Message: message}
}

func NewValidationError(fields ...FieldError) error {
	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, f.Field+" "+f.Message)
	}
	return &AppError{Kind: ErrValidation, Message: strings.Join(msgs, "; "), Fields: fields}
}

func NewUnauthorizedError(message string) error { return newError(ErrUnauthorized, message) }
func NewForbiddenError(message string) error    { return newError(ErrForbidden, message) }
func NewNotFoundError(message string) error     { return newError(ErrNotFound, message) }
func NewConflictError(message string) error     { return newError(ErrConflict, message) }

// 想定外のエラー。原因はcauseに残すがメッセージには出さない
func NewInternalError(cause error) error {
	return &internalError{cause: cause}
}

type internalError struct {
	cause error
}

func (e *internalError) Error() string {
	return "internal error: " + e.cause.Error()
}

func (e *internalError) Unwrap() []error {
	return []error{ErrInternal, e.cause}
}

func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	ok := errors.As(err, &ae)
	return ae, ok
}

// 入力エラーを溜めていくためのヘルパ
type FieldErrors []FieldError

func (fe *FieldErrors) Add(field, message string) {
	*fe = append(*fe, FieldError{Field: field, Message: message})
}

// 1件でもあればValidationErrorにする
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	return NewValidationError(fe...)
}
