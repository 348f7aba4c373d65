package handler

import (
	"net/http"

	"echocommand/internal/middleware"
	"echocommand/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// /api/commands
type CommandHandler struct {
	uc  *usecase.CommandUsecase
	log *logrus.Logger
}

// DI
func NewCommandHandler(uc *usecase.CommandUsecase, log *logrus.Logger) *CommandHandler {
	return &CommandHandler{uc: uc, log: log}
}

type commandRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	TriggerPhrase string `json:"triggerPhrase"`
	CommandScript string `json:"commandScript"`
	CommandType   string `json:"commandType"`
	Status        string `json:"status"`
	IsPublic      *bool  `json:"isPublic"`
}

func (r commandRequest) toInput() usecase.CommandInput {
	return usecase.CommandInput{
		Name:          r.Name,
		Description:   r.Description,
		TriggerPhrase: r.TriggerPhrase,
		CommandScript: r.CommandScript,
		CommandType:   r.CommandType,
		Status:        r.Status,
		IsPublic:      r.IsPublic,
	}
}

// GET /api/commands
func (h *CommandHandler) List(c echo.Context) error {
	page, err := pageInput(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.uc.GetUserCommands(c.Request().Context(), middleware.Username(c), page)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// GET /api/commands/public（認証不要）
func (h *CommandHandler) ListPublic(c echo.Context) error {
	page, err := pageInput(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.uc.GetPublicCommands(c.Request().Context(), page)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// POST /api/commands
func (h *CommandHandler) Create(c echo.Context) error {
	var req commandRequest
	if err := bindJSON(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.uc.CreateCommand(c.Request().Context(), middleware.Username(c), req.toInput())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// GET /api/commands/:id
func (h *CommandHandler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.uc.GetCommand(c.Request().Context(), middleware.Username(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// PUT /api/commands/:id
func (h *CommandHandler) Update(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	var req commandRequest
	if err := bindJSON(c, &req); err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.uc.UpdateCommand(c.Request().Context(), middleware.Username(c), id, req.toInput())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// DELETE /api/commands/:id
func (h *CommandHandler) Delete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if err := h.uc.DeleteCommand(c.Request().Context(), middleware.Username(c), id); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusOK)
}

// POST /api/commands/:id/use
func (h *CommandHandler) Use(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.uc.UseCommand(c.Request().Context(), middleware.Username(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// page（default 0） / size（default 20）
func pageInput(c echo.Context) (usecase.PageInput, error) {
	var fe usecase.FieldErrors
	in := usecase.PageInput{
		Page: queryInt(c, "page", 0, &fe),
		Size: queryInt(c, "size", 20, &fe),
	}
	// 明示的な0はデフォルト扱いにしない
	if c.QueryParam("size") != "" && in.Size < 1 {
		fe.Add("size", "must be between 1 and 100")
	}
	return in, fe.Err()
}
