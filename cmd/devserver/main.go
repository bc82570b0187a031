package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DoyleJ11/spark-client/internal/config"
	"github.com/DoyleJ11/spark-client/internal/devserver"
	"github.com/DoyleJ11/spark-client/internal/logging"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "devserver:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadDevServer()
	if err != nil {
		return err
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flag.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "postgres DSN; empty keeps everything in memory")
	flag.IntVar(&cfg.TimeoutSeconds, "timeout", cfg.TimeoutSeconds, "seconds before a searching user becomes a host")
	flag.IntVar(&cfg.PollIntervalSeconds, "poll-interval", cfg.PollIntervalSeconds, "poll interval advertised to clients")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, error")
	flag.BoolVar(&cfg.Dev, "dev", cfg.Dev, "console logs and the dev token endpoint")
	flag.Parse()

	log, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := devserver.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	log.Info("dev backend ready",
		zap.Int("timeout_seconds", cfg.TimeoutSeconds),
		zap.Bool("dev_tokens", cfg.Dev),
		zap.Bool("postgres", cfg.DatabaseURL != ""))
	return srv.Run(ctx)
}
