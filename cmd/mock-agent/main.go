// Package main implements a mock agent server that speaks the goosed HTTP
// and event-stream protocol. It streams canned replies so the bridge can be
// developed and exercised without a real model provider.
//
// Usage: mock-agent agent
//
// The port and secret are read from GOOSE_PORT and GOOSE_SERVER__SECRET_KEY,
// the same variables the supervisor sets for a real agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/agent/supervisor"
	"github.com/cloud-on-prem/goose/internal/common/logger"
)

const defaultPort = 3000

func main() {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      envOr("MOCK_AGENT_LOG_LEVEL", "info"),
		Format:     "json",
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	port, err := parsePort(os.Getenv(supervisor.EnvPort))
	if err != nil {
		log.Fatal("invalid port", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	srv := newServer(os.Getenv(supervisor.EnvSecretKey), log)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("mock agent listening", zap.String("address", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mock agent")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("error shutting down HTTP server", zap.Error(err))
	}
}

func parsePort(v string) (int, error) {
	if v == "" {
		return defaultPort, nil
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%s=%q is not a valid port", supervisor.EnvPort, v)
	}
	return port, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
