// Package main provides the chessd binary: a WebSocket server that pairs
// players into chess games and referees them.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chessd/internal/config"
	"github.com/cory-johannsen/chessd/internal/game/match"
	"github.com/cory-johannsen/chessd/internal/game/rules"
	"github.com/cory-johannsen/chessd/internal/game/session"
	"github.com/cory-johannsen/chessd/internal/gameserver"
	"github.com/cory-johannsen/chessd/internal/observability"
	"github.com/cory-johannsen/chessd/internal/server"
	"github.com/cory-johannsen/chessd/internal/transport"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting chessd",
		zap.String("addr", cfg.Server.Addr()),
		zap.Duration("grace_period", cfg.Game.GracePeriod),
	)

	params := session.Params{
		ChatLogCapacity: cfg.Game.ChatLogCapacity,
		ChatMaxLength:   cfg.Game.ChatMaxLength,
		PendingBuffer:   cfg.Game.PendingBuffer,
	}
	registry := transport.NewRegistry(logger)
	matchmaker := match.New(rules.NewStandard(), params, logger)
	router := gameserver.NewRouter(cfg.Game, registry, matchmaker, logger)
	acceptor := transport.NewAcceptor(cfg.Server, router, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("router", &server.FuncService{
		StartFn: func() error { return nil },
		StopFn:  router.Stop,
	})
	lifecycle.Add("acceptor", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	logger.Info("chessd ready", zap.Duration("startup", time.Since(start)))
	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
