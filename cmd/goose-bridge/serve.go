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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloud-on-prem/goose/internal/agent/supervisor"
	"github.com/cloud-on-prem/goose/internal/agent/tracing"
	"github.com/cloud-on-prem/goose/internal/bridge"
	"github.com/cloud-on-prem/goose/internal/chat/engine"
	"github.com/cloud-on-prem/goose/internal/chat/sessions"
	"github.com/cloud-on-prem/goose/internal/common/config"
	"github.com/cloud-on-prem/goose/internal/common/constants"
	"github.com/cloud-on-prem/goose/internal/common/httpmw"
	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/internal/events"
	gateway "github.com/cloud-on-prem/goose/internal/gateway/websocket"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent server and the webview gateway",
		Long: `Start goosed for the workspace and serve the webview protocol over
WebSocket on /ws. The gateway comes up even when the agent cannot be
started; the webview sees the error status and may ask for a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cmd.Flags().Changed("host") {
				cfg.Gateway.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Gateway.Port = port
			}
			return runServe(cmd.Context(), cfg, log)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Gateway listen host")
	cmd.Flags().IntVarP(&port, "port", "p", 7331, "Gateway listen port")
	return cmd
}

// services is the chat stack shared by every command: the event hub, the
// supervised agent server, the chat engine and the session registry.
type services struct {
	hub        *events.Hub
	supervisor *supervisor.Supervisor
	engine     *engine.Engine
	sessions   *sessions.Registry
}

func newServices(cfg *config.Config, log *logger.Logger) (*services, error) {
	fallback, err := sessions.EmbeddedFallback()
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback sessions: %w", err)
	}

	hub := events.NewHub(log)
	sup := supervisor.New(supervisor.ConfigFrom(cfg.Agent), hub, log)
	return &services{
		hub:        hub,
		supervisor: sup,
		engine:     engine.New(sup, hub, log),
		sessions:   sessions.New(sup, sup.IsReady, fallback, log),
	}, nil
}

// close aborts any running turn, stops the agent server and drains the hub.
func (s *services) close() {
	s.engine.StopGeneration()

	ctx, cancel := context.WithTimeout(context.Background(), constants.AgentStopGracePeriod+time.Second)
	defer cancel()
	_ = s.supervisor.Stop(ctx)
	_ = s.hub.Flush(ctx)
	s.hub.Close()
}

func runServe(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer shutdownTracing(log)

	svc, err := newServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	provided, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeBus() }()
	mirror := events.Mirror(svc.hub, provided.Bus, cfg.NATS.SubjectPrefix, log)
	defer mirror.Unsubscribe()
	if provided.NATS != nil {
		log.Info("mirroring chat events to NATS", zap.String("prefix", cfg.NATS.SubjectPrefix))
	}

	ctrl := bridge.NewController(svc.supervisor, svc.engine, svc.sessions, log)
	gw := gateway.NewGateway(cfg.Gateway, log)
	bridge.RegisterHandlers(gw.Dispatcher, ctrl, log)
	notifier := bridge.RegisterNotifications(svc.hub, gw.Hub, log)
	defer notifier.Close()
	gw.Hub.OnConnect(func(c *gateway.Client) {
		for _, msg := range ctrl.Snapshot() {
			c.Send(msg)
		}
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.OtelTracing("goose-bridge"))
	router.Use(httpmw.RequestLogger(log, "gateway"))
	gw.SetupRoutes(router)
	tap := gw.SetupEventTap(router, provided.Bus, cfg.NATS.SubjectPrefix)

	server := &http.Server{
		Addr:              cfg.Gateway.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.RegisterOnShutdown(tap.Close)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		gw.Hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("webview gateway listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := svc.supervisor.Up(gctx); err != nil {
			log.Error("agent server unavailable", zap.Error(err))
			return nil
		}
		log.Info("agent server ready",
			zap.String("endpoint", svc.supervisor.Endpoint()),
			zap.String("working_dir", svc.supervisor.WorkingDir()))
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GatewayShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("gateway shutdown", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func shutdownTracing(log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.GatewayShutdownTimeout)
	defer cancel()
	if err := tracing.Shutdown(ctx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
