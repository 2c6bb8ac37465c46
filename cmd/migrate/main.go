// Command migrate applies the chat schema: migrate [-config file] up|down|status
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/zoravur/realtime-chat/internal/config"
	"github.com/zoravur/realtime-chat/internal/logutil"
	"github.com/zoravur/realtime-chat/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHAT_CONFIG"), "path to a YAML config file")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(2)
	}
	logger, err := logutil.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := postgres.Migrate(context.Background(), cfg.DatabaseURL, command, logger); err != nil {
		logger.Fatal("migrate failed", zap.String("command", command), zap.Error(err))
	}
}
