package cmd

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

	"github.com/28Pollux28/zync/internal/auth"
	"github.com/28Pollux28/zync/internal/poller"
	server "github.com/28Pollux28/zync/pkg"
	"github.com/28Pollux28/zync/pkg/api"
	"github.com/28Pollux28/zync/pkg/config"
	"github.com/28Pollux28/zync/pkg/metrics"
	"github.com/28Pollux28/zync/pkg/notify"
	"github.com/28Pollux28/zync/pkg/scheduler"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo-contrib/echoprometheus"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

var serveCmd = &cobra.Command{
	Use:   "serve [port]",
	Short: "Start the zync gateway",
	Long:  "Starts the player facing gateway: challenge listing with per team access, start/reset with background polling and session history.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		portStr := args[0]
		if !validatePort(portStr) {
			fmt.Fprintf(os.Stderr, "Invalid port: %s\n", portStr)
			os.Exit(1)
		}

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true

		// 1. Middleware
		skipper := func(c echo.Context) bool {
			// Skip health check endpoint
			return c.Request().URL.Path == "/health"
		}
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogStatus:   true,
			LogMethod:   true,
			LogRemoteIP: true,
			LogURI:      true,
			Skipper:     skipper,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				zap.S().Infof("| %v | %v | %v | %v", v.RemoteIP, v.Method, v.URI, v.Status)
				return nil
			},
		}))
		e.Use(middleware.Recover())
		e.Use(middleware.CORS())

		// 2. Prometheus
		e.Use(echoprometheus.NewMiddleware("zync")) // register middleware to gather metrics from requests
		e.GET("/metrics", echoprometheus.NewHandler())
		cfg := config.Get()

		// JWT secret strictly from env when set
		jwtSecret := os.Getenv("JWT_SECRET")
		if jwtSecret == "" {
			jwtSecret = cfg.Auth.JWTSecret
		}
		if jwtSecret == "" {
			zap.S().Fatal("JWT_SECRET (or auth.jwt_secret) is required")
		}

		// 3. Auth
		jwtConfig := echojwt.Config{
			NewClaimsFunc: func(c echo.Context) jwt.Claims {
				return new(auth.Claims)
			},
			SigningKey: []byte(jwtSecret),
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/health" || c.Path() == "/metrics"
			},
		}
		e.Use(echojwt.WithConfig(jwtConfig))

		// 4. Dependencies
		orch, closeOrch, err := newOrchestrator(cfg)
		if err != nil {
			zap.S().Fatalf("Failed to set up orchestrator: %v", err)
		}
		defer closeOrch()

		db, err := server.InitDB(cfg.Gateway.DBPath)
		if err != nil {
			zap.S().Fatalf("Failed to open session database: %v", err)
		}

		var (
			observers poller.Observers
			history   server.AccessHistory
		)
		if cfg.Redis.Addr != "" {
			notifier, err := notify.New(notify.Config{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Prefix:   cfg.Redis.ChannelPrefix,
				TTL:      cfg.Redis.TTL,
			}, zap.S())
			if err != nil {
				zap.S().Fatalf("Failed to set up notifications: %v", err)
			}
			defer notifier.Close()
			observers = append(observers, notifier)
			history = notifier
		}

		// 5. Server Init
		srv := server.NewServerWithOpts(server.ServerOpts{
			DB:             db,
			Orchestrator:   orch,
			ConfigProvider: config.GlobalProvider{},
			Observers:      observers,
			History:        history,
		})
		api.RegisterHandlers(e, srv)
		prometheus.MustRegister(metrics.NewSessionCollector(db), metrics.NewRegistryCollector(srv))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		janitor := scheduler.NewSessionJanitor(db, config.GlobalProvider{}, clock.RealClock{}, zap.S())
		srv.StartScheduler(ctx, janitor)

		go func() {
			zap.S().Infof("Starting server on port %s", portStr)
			if err := e.Start(":" + portStr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.S().Fatalf("shutting down the server: %v", err)
			}
		}()
		// Wait for interrupt signal to gracefully shut down the server
		<-ctx.Done()
		zap.S().Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			zap.S().Fatalf("Failed to shutdown server: %v", err)
		}
		if err := srv.Close(shutdownCtx); err != nil {
			zap.S().Errorf("Failed to stop polling sessions: %v", err)
		}
		if err := srv.Wait(shutdownCtx); err != nil {
			zap.S().Fatalf("Failed to wait for server shutdown: %v", err)
		}
	},
}

func validatePort(port string) bool {
	if port == "" {
		return false
	}
	portInt, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	if portInt < 1 || portInt > 65535 {
		return false
	}
	return true
}
