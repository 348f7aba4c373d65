package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"echocommand/internal/domain/model"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidAccessToken = errors.New("invalid access token")

// アクセストークンのclaims。subはusername
type AccessClaims struct {
	UserID       int64  `json:"uid"`
	Role         string `json:"role"`
	TokenVersion int    `json:"tv"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) Username() string {
	return c.Subject
}

// JWTを発行する約束
type AccessTokenIssuer interface {
	Issue(user *model.User, now time.Time) (token string, expiresAt time.Time, err error)
}

// JWTを検証する約束（middleware用）
type AccessTokenParser interface {
	Parse(token string) (*AccessClaims, error)
}

// HS256で署名するJWT issuer
type JWTIssuer struct {
	secret    []byte
	accessTTL time.Duration
}

func NewJWTIssuer(secret string, accessTTL time.Duration) *JWTIssuer {
	return &JWTIssuer{
		secret:    []byte(secret),
		accessTTL: accessTTL,
	}
}

func (i *JWTIssuer) Issue(user *model.User, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(i.accessTTL)

	claims := AccessClaims{
		UserID:       user.ID,
		Role:         string(user.Role),
		TokenVersion: user.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// 署名・期限を検証してclaimsを返す
func (i *JWTIssuer) Parse(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, ErrInvalidAccessToken
	}
	if claims.Subject == "" || claims.UserID <= 0 {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// refresh token生成（平文 + DB保存hash）
func NewRefreshToken() (plain string, hash string, err error) {
	plain, err = generateSecureToken(32)
	if err != nil {
		return "", "", err
	}
	return plain, HashToken(plain), nil
}

// DBには平文を置かない
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func generateSecureToken(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		return "", fmt.Errorf("bytesLen must be positive")
	}

	// ランダムなバイト列を作る（OSが持つ安全な乱数）
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
