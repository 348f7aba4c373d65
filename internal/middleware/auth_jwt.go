package middleware

import (
	"net/http"
	"strings"

	auth "echocommand/internal/usecase/auth_usecase"

	"github.com/labstack/echo/v4"
)

const (
	CtxUsernameKey     = "username"      // string
	CtxUserIDKey       = "user_id"       // int64
	CtxTokenVersionKey = "token_version" // int
)

// bearerAuth用のJWT検証ミドルウェア。
func AuthJWT(parser auth.AccessTokenParser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			//Authorizationヘッダを取得
			authz := c.Request().Header.Get(echo.HeaderAuthorization)
			if authz == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("missing bearer token"))
			}

			//Bearer形式か確認してtokenを抜く
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return c.JSON(http.StatusUnauthorized, errorJSON("missing bearer token"))
			}
			rawToken := strings.TrimSpace(parts[1])
			if rawToken == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("missing bearer token"))
			}

			//署名・期限を検証
			claims, err := parser.Parse(rawToken)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("invalid or expired token"))
			}
			if claims.TokenVersion < 0 {
				return c.JSON(http.StatusUnauthorized, errorJSON("invalid or expired token"))
			}

			//contextへ保存
			c.Set(CtxUsernameKey, claims.Username())
			c.Set(CtxUserIDKey, claims.UserID)
			c.Set(CtxTokenVersionKey, claims.TokenVersion)

			return next(c)
		}
	}
}

// AuthJWTが入れたusername
func Username(c echo.Context) string {
	s, _ := c.Get(CtxUsernameKey).(string)
	return s
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}
