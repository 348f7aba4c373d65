package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// LOG_LEVEL / LOG_FORMAT からロガーを作る
func New(level string, format string) *logrus.Logger {
	return NewWithOutput(level, format, os.Stdout)
}

func NewWithOutput(level string, format string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)

	lv, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lv = logrus.InfoLevel
	}
	l.SetLevel(lv)

	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// テストなど出力不要な場面用
func Discard() *logrus.Logger {
	return NewWithOutput("panic", "json", io.Discard)
}

// リクエスト単位のEntryをcontextに載せる
func WithEntry(ctx context.Context, e *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, e)
}

// contextのEntry。なければfallbackから作る
func FromContext(ctx context.Context, fallback *logrus.Logger) *logrus.Entry {
	if e, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok && e != nil {
		return e
	}
	return logrus.NewEntry(fallback)
}
