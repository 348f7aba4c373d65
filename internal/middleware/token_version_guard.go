package middleware

import (
	"errors"
	"net/http"

	"echocommand/internal/logging"
	"echocommand/internal/repository"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// JWTのtvとDBのtoken_versionの一致するか確認。
// 削除済みユーザーやパスワード変更前のトークンはここで弾く
func TokenVersionGuard(userRepo repository.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			//AuthJWTが入れたuser_id を取得する
			userID, ok := c.Get(CtxUserIDKey).(int64)
			if !ok || userID <= 0 {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//AuthJWTが入れたtoken_version(tv)を取得する
			tv, ok := c.Get(CtxTokenVersionKey).(int)
			if !ok || tv < 0 {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//DBから最新のuserを取得する
			user, err := userRepo.FindByID(c.Request().Context(), userID)
			if err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
				}
				//DB障害は認証失敗ではない
				logging.FromContext(c.Request().Context(), logrus.StandardLogger()).
					WithError(err).Error("token version lookup failed")
				return c.JSON(http.StatusInternalServerError, errorJSON("internal error"))
			}
			if user == nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//同じIDで作り直されたユーザーにも通さない
			if user.Username != Username(c) {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//token_version が一致しなければ強制ログアウト扱い（401）
			if user.TokenVersion != tv {
				return c.JSON(http.StatusUnauthorized, errorJSON("token has been revoked"))
			}

			return next(c)
		}
	}
}
