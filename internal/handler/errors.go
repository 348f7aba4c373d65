package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"echocommand/internal/logging"
	"echocommand/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Error  string               `json:"error"`
	Fields []usecase.FieldError `json:"fields,omitempty"`
}

// エラーの種類 → ステータス
func statusOf(err error) int {
	switch {
	case errors.Is(err, usecase.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, usecase.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, usecase.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, log *logrus.Logger, err error) error {
	if err == nil {
		return nil
	}

	status := statusOf(err)
	if status == http.StatusInternalServerError {
		//原因はログにだけ出す
		logging.FromContext(c.Request().Context(), log).WithError(err).Error("unexpected error")
		return c.JSON(status, ErrorResponse{Error: "internal error"})
	}

	if ae, ok := usecase.AsAppError(err); ok {
		msg := ae.Message
		if msg == "" {
			msg = ae.Kind.Error()
		}
		return c.JSON(status, ErrorResponse{Error: msg, Fields: ae.Fields})
	}
	return c.JSON(status, ErrorResponse{Error: err.Error()})
}

// JSONボディを読む。壊れていれば400
func bindJSON(c echo.Context, dst any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return usecase.NewValidationError(usecase.FieldError{Field: "body", Message: "must be a valid JSON object"})
	}
	return nil
}

// :id を正の整数として読む
func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, usecase.NewValidationError(usecase.FieldError{Field: "id", Message: "must be a positive integer"})
	}
	return id, nil
}

// 数値クエリ。なければdef
func queryInt(c echo.Context, name string, def int, fe *usecase.FieldErrors) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fe.Add(name, "must be an integer")
		return def
	}
	return n
}

// RFC3339の時刻クエリ。なければnil
func queryTime(c echo.Context, name string, fe *usecase.FieldErrors) *time.Time {
	v := c.QueryParam(name)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		fe.Add(name, "must be an RFC3339 timestamp")
		return nil
	}
	return &t
}

// ?action=A&action=B と ?action=A,B の両方を受ける
func queryList(c echo.Context, name string) []string {
	var out []string
	for _, v := range c.QueryParams()[name] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
