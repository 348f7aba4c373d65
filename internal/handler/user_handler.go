package handler

import (
	"net/http"

	"echocommand/internal/middleware"
	"echocommand/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// /api/users
type UserHandler struct {
	uc  *usecase.UserUsecase
	log *logrus.Logger
}

func NewUserHandler(uc *usecase.UserUsecase, log *logrus.Logger) *UserHandler {
	return &UserHandler{uc: uc, log: log}
}

type profileRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// GET /api/users/profile
func (h *UserHandler) GetProfile(c echo.Context) error {
	out, err := h.uc.GetUserProfile(c.Request().Context(), middleware.Username(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// PUT /api/users/profile
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	var req profileRequest
	if err := bindJSON(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.uc.UpdateUserProfile(c.Request().Context(), middleware.Username(c), usecase.UpdateProfileInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// GET /api/users/settings
func (h *UserHandler) GetSettings(c echo.Context) error {
	out, err := h.uc.GetUserSettings(c.Request().Context(), middleware.Username(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// PUT /api/users/settings（マージ。nullはキー削除）
func (h *UserHandler) UpdateSettings(c echo.Context) error {
	patch := map[string]any{}
	if err := bindJSON(c, &patch); err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.uc.UpdateUserSettings(c.Request().Context(), middleware.Username(c), patch)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// PUT /api/users/password
func (h *UserHandler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := bindJSON(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	err := h.uc.ChangePassword(c.Request().Context(), middleware.Username(c), usecase.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusOK)
}

// DELETE /api/users/account
func (h *UserHandler) DeleteAccount(c echo.Context) error {
	if err := h.uc.DeleteUser(c.Request().Context(), middleware.Username(c)); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusOK)
}

// GET /api/users/security-events?limit=&offset=&action=&from=&to=
func (h *UserHandler) SecurityEvents(c echo.Context) error {
	var fe usecase.FieldErrors
	in := usecase.EventQueryInput{
		Limit:   queryInt(c, "limit", 0, &fe),
		Offset:  queryInt(c, "offset", 0, &fe),
		Actions: queryList(c, "action"),
		From:    queryTime(c, "from", &fe),
		To:      queryTime(c, "to", &fe),
	}
	if err := fe.Err(); err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.uc.GetSecurityEvents(c.Request().Context(), middleware.Username(c), in)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}
