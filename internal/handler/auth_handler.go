package handler

import (
	"net/http"

	"echocommand/internal/middleware"
	"echocommand/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type AuthHandler struct {
	uc  *usecase.AuthUsecase
	log *logrus.Logger
}

// DIコンストラクタ
func NewAuthHandler(uc *usecase.AuthUsecase, log *logrus.Logger) *AuthHandler {
	return &AuthHandler{uc: uc, log: log}
}

// /api/auth/register のリクエストボディ。
type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// /api/auth/login のリクエストボディ。
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		return writeError(c, h.log, err)
	}

	out, err := h.uc.Register(c.Request().Context(), usecase.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		UserAgent:   c.Request().UserAgent(),
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		return writeError(c, h.log, err)
	}

	// User-Agentを取得（refreshtokenに紐付ける）
	out, err := h.uc.Login(c.Request().Context(), usecase.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// POST /api/auth/refresh?refreshToken=...
func (h *AuthHandler) Refresh(c echo.Context) error {
	out, err := h.uc.Refresh(c.Request().Context(), refreshTokenFrom(c), c.Request().UserAgent())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// POST /api/auth/logout?refreshToken=...
func (h *AuthHandler) Logout(c echo.Context) error {
	if err := h.uc.Logout(c.Request().Context(), refreshTokenFrom(c)); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusOK)
}

// GET /api/auth/me
func (h *AuthHandler) Me(c echo.Context) error {
	out, err := h.uc.Me(c.Request().Context(), middleware.Username(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// クエリを優先し、なければJSONボディから
func refreshTokenFrom(c echo.Context) string {
	if t := c.QueryParam("refreshToken"); t != "" {
		return t
	}
	var req refreshRequest
	if c.Request().ContentLength != 0 {
		_ = bindJSON(c, &req)
	}
	return req.RefreshToken
}
