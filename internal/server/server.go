package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"echocommand/internal/config"
	"echocommand/internal/handler"
	"echocommand/internal/infra/repository"
	"echocommand/internal/metrics"
	"echocommand/internal/middleware"
	"echocommand/internal/usecase"
	auth "echocommand/internal/usecase/auth_usecase"
	"echocommand/internal/validator"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Newは依存を組み立ててechoを返す。rdbがnilならプロセス内の制限を使う
func New(cfg config.Config, gdb *gorm.DB, log *logrus.Logger, m *metrics.Metrics, rdb *redis.Client) (*echo.Echo, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	//Repository（GORM実装）生成
	userRepo := repository.NewUserGormRepository(gdb)
	rtRepo := repository.NewRefreshTokenRepository(gdb)
	commandRepo := repository.NewCommandGormRepository(gdb)
	auditRepo := repository.NewAuditLogGormRepository(gdb)
	tm := repository.NewTxManagerGorm(gdb)

	//usecaseに渡す部品
	hasher := auth.NewBcryptPasswordHasher(cfg.BcryptCost)
	verifier := auth.NewBcryptPasswordVerifier()
	issuer := auth.NewJWTIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)
	clock := auth.SystemClock{}

	//Usecase生成
	authUC := usecase.NewAuthUsecase(
		userRepo, rtRepo, auditRepo, tm,
		validator.NewAuthValidator(),
		hasher, verifier, issuer,
		auth.UUIDGenerator{}, clock,
		cfg.RefreshTokenTTL,
	).WithMetrics(m).WithLogger(log)
	commandUC := usecase.NewCommandUsecase(userRepo, commandRepo, validator.NewCommandValidator()).
		WithMetrics(m)
	userUC := usecase.NewUserUsecase(
		userRepo, auditRepo, tm,
		validator.NewUserValidator(),
		hasher, verifier, clock,
	).WithLogger(log)

	//Handler生成
	h := Handlers{
		Auth:    handler.NewAuthHandler(authUC, log),
		Command: handler.NewCommandHandler(commandUC, log),
		User:    handler.NewUserHandler(userUC, log),
		Health:  handler.NewHealthHandler(sqlDB, log),
	}

	var limiter middleware.RateLimiter
	if cfg.RateLimitEnabled {
		if rdb != nil {
			limiter = middleware.NewRedisRateLimiter(rdb, "echocommand:ratelimit:", cfg.RateLimitBurst, cfg.RateLimitEvery)
		} else {
			limiter = middleware.NewMemoryRateLimiter(cfg.RateLimitBurst, cfg.RateLimitEvery)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	e.Use(echomw.RequestID())
	e.Use(middleware.Metrics(m))
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("1M"))
	if cfg.FEURL != "" {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: []string{cfg.FEURL},
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
		}))
	}

	RegisterRoutes(e, h, RouteDeps{
		Parser:      issuer,
		Users:       userRepo,
		RateLimiter: limiter,
		Metrics:     m,
		Log:         log,
	})
	return e, nil
}

// Startはctxがキャンセルされるまで待ち、その後graceful shutdownする
func Start(ctx context.Context, e *echo.Echo, addr string, log *logrus.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("server started")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return e.Shutdown(shutdownCtx)
}
