package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echocommand/internal/config"
	"echocommand/internal/infra/db"
	"echocommand/internal/logging"
	"echocommand/internal/metrics"
	"echocommand/internal/server"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	//設定（.envはあれば読む）
	cfg, err := config.Load(".env", "../.env")
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		log.WithError(err).Fatal("database connect")
	}
	if err := db.Migrate(gormDB); err != nil {
		log.WithError(err).Fatal("database migrate")
	}

	rdb := connectRedis(cfg, log)

	e, err := server.New(cfg, gormDB, log, metrics.New(), rdb)
	if err != nil {
		log.WithError(err).Fatal("server init")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//Server起動
	addr := cfg.Port
	if addr != "" && addr[0] != ':' {
		addr = ":" + addr
	}
	if err := server.Start(ctx, e, addr, log); err != nil {
		log.WithError(err).Fatal("server")
	}

	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// REDIS_ADDRがあって疎通できればRedis、なければnil（プロセス内の制限になる）
func connectRedis(cfg config.Config, log *logrus.Logger) *redis.Client {
	if cfg.RedisAddr == "" || !cfg.RateLimitEnabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis unavailable, using in-process rate limiter")
		_ = client.Close()
		return nil
	}
	return client
}
