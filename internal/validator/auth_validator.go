package validator

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"echocommand/internal/usecase"
)

const (
	usernameMinLen    = 3
	usernameMaxLen    = 50
	emailMaxLen       = 255
	passwordMinLen    = 8
	passwordMaxLen    = 72 // bcryptが見るのは72バイトまで
	displayNameMaxLen = 100
	refreshTokenMax   = 512
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// よくある弱いパスワード
var weakPasswords = map[string]struct{}{
	"password":  {},
	"password1": {},
	"12345678":  {},
	"123456789": {},
	"qwertyui":  {},
	"qwerty123": {},
	"11111111":  {},
	"abc12345":  {},
	"iloveyou":  {},
	"letmein1":  {},
}

type authValidator struct{}

// Usecaseは interface を依存注入
func NewAuthValidator() usecase.AuthValidator {
	return &authValidator{}
}

// サインアップの入力を検証
func (v *authValidator) ValidateRegister(ctx context.Context, in usecase.RegisterInput) error {
	var fe usecase.FieldErrors
	checkUsername(&fe, strings.TrimSpace(in.Username))
	checkEmail(&fe, strings.TrimSpace(in.Email))
	checkPassword(&fe, "password", in.Password)
	if utf8.RuneCountInString(strings.TrimSpace(in.DisplayName)) > displayNameMaxLen {
		fe.Add("displayName", "must be at most 100 characters")
	}
	return fe.Err()
}

// ログインの入力を検証（形式までは見ない）
func (v *authValidator) ValidateLogin(ctx context.Context, username string, password string) error {
	var fe usecase.FieldErrors
	if strings.TrimSpace(username) == "" {
		fe.Add("username", "is required")
	}
	if password == "" {
		fe.Add("password", "is required")
	}
	return fe.Err()
}

// refresh 入力を検証
func (v *authValidator) ValidateRefresh(ctx context.Context, refreshToken string) error {
	return checkRefreshToken(refreshToken)
}

// logout 入力を検証
func (v *authValidator) ValidateLogout(ctx context.Context, refreshToken string) error {
	return checkRefreshToken(refreshToken)
}

func checkRefreshToken(token string) error {
	var fe usecase.FieldErrors
	switch {
	case strings.TrimSpace(token) == "":
		fe.Add("refreshToken", "is required")
	case len(token) > refreshTokenMax:
		fe.Add("refreshToken", "is too long")
	}
	return fe.Err()
}

func checkUsername(fe *usecase.FieldErrors, username string) {
	n := utf8.RuneCountInString(username)
	switch {
	case username == "":
		fe.Add("username", "is required")
	case n < usernameMinLen || n > usernameMaxLen:
		fe.Add("username", "must be between 3 and 50 characters")
	case !usernamePattern.MatchString(username):
		fe.Add("username", "may only contain letters, digits, '_', '.' and '-'")
	}
}

func checkEmail(fe *usecase.FieldErrors, email string) {
	switch {
	case email == "":
		fe.Add("email", "is required")
	case len(email) > emailMaxLen:
		fe.Add("email", "must be at most 255 characters")
	case !isEmailLike(email):
		fe.Add("email", "must be a valid email address")
	}
}

func checkPassword(fe *usecase.FieldErrors, field, password string) {
	switch {
	case password == "":
		fe.Add(field, "is required")
	case len(password) < passwordMinLen:
		fe.Add(field, "must be at least 8 characters")
	case len(password) > passwordMaxLen:
		fe.Add(field, "must be at most 72 bytes")
	case isWeakPassword(password):
		fe.Add(field, "is too common")
	}
}

func isWeakPassword(password string) bool {
	_, ok := weakPasswords[strings.ToLower(password)]
	return ok
}

// 簡易メール形式をチェック
func isEmailLike(s string) bool {
	return emailPattern.MatchString(s)
}
