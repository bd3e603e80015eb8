package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slavaboiko/smsgate/internal/config"
	"github.com/slavaboiko/smsgate/internal/db"
	"github.com/slavaboiko/smsgate/internal/handlers"
	"github.com/slavaboiko/smsgate/internal/metrics"
	"github.com/slavaboiko/smsgate/internal/modem"
	"github.com/slavaboiko/smsgate/internal/services"
	"github.com/slavaboiko/smsgate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupServer wires the database, the modem pool and the RPC surface into
// a configured HTTP server.
func SetupServer(cfg *config.Config) (*http.Server, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if cfg.Server.Port <= 0 {
		return nil, errors.New("invalid server port")
	}

	database, err := db.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	eventRepo := db.NewEventRepository(database.GetDB())
	stateRepo := db.NewModemStateRepository(database.GetDB())
	financialRepo := db.NewFinancialRepository(database.GetDB())

	pool := modem.NewPool()
	gateway := services.NewGateway(pool, eventRepo, stateRepo, financialRepo)

	metrics.Register()

	router := gin.Default()
	setupRoutes(router, cfg, gateway, pool)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: send_ussd blocks for the length of the
		// carrier exchange.
	}

	return srv, nil
}

// setupRoutes configures all the HTTP routes.
func setupRoutes(router *gin.Engine, cfg *config.Config, gateway *services.Gateway, pool *modem.Pool) {
	rpcHandler := handlers.NewRPCHandler(cfg, gateway, pool.Stats, pool.HealthState)
	rpcHandler.RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.API.EnableSendSMS {
		logger.Warn("Allowing others to send SMS means to allow others to book expensive options " +
			"and to commit fraud by sending messages to expensive service numbers.")
	}
}

// StartServer starts the server, over TLS when a certificate is
// configured, and handles graceful shutdown on SIGINT/SIGTERM.
func StartServer(cfg *config.Config, srv *http.Server) error {
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		var err error
		if cfg.Server.Certificate != "" && cfg.Server.Key != "" {
			err = srv.ListenAndServeTLS(cfg.Server.Certificate, cfg.Server.Key)
		} else {
			logger.Warn("No certificate configured, serving without TLS")
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
