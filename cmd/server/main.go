package main

import (
	"flag"

	"github.com/slavaboiko/smsgate/internal/config"
	"github.com/slavaboiko/smsgate/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to JSON configuration file")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			panic(err)
		}
		cfg = loaded
	}

	if err := logger.Init(cfg.Logging.Path, cfg.Logging.Level); err != nil {
		panic(err)
	}
	defer logger.Info("Gateway shutting down")

	srv, err := SetupServer(cfg)
	if err != nil {
		logger.Fatal("Failed to setup server", zap.Error(err))
	}

	if err := StartServer(cfg, srv); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}
