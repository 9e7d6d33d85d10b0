package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/tokenlife"
	"github.com/MrEthical07/tokenlife/internal/httpapi"
	"github.com/MrEthical07/tokenlife/internal/logx"
	promexport "github.com/MrEthical07/tokenlife/metrics/export/prometheus"
	"github.com/MrEthical07/tokenlife/password"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const shutdownGracePeriod = 15 * time.Second

type options struct {
	configPath  string
	usersPath   string
	addr        string
	metricsAddr string
	envPrefix   string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML config file; environment variables override it")
	flag.StringVar(&opts.usersPath, "users", "", "YAML users file seeding the directory")
	flag.StringVar(&opts.addr, "addr", ":8080", "API listen address")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "metrics listen address; empty serves /metrics on the API address")
	flag.StringVar(&opts.envPrefix, "env-prefix", tokenlife.DefaultEnvPrefix, "environment variable prefix")
	flag.Parse()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (tokenlife.Config, error) {
	if opts.configPath != "" {
		return tokenlife.LoadConfigFile(opts.configPath, opts.envPrefix)
	}
	return tokenlife.LoadConfig(opts.envPrefix)
}

func run(ctx context.Context, cfg tokenlife.Config, opts options) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	service := cfg.Log.Service
	if service == "" {
		service = "tokenlife"
	}
	logger := logx.New(logx.Config{
		Service: service,
		Env:     cfg.Log.Env,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
	})
	slog.SetDefault(logger)

	// ----- Directory and credentials ----- //

	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return err
	}
	creds, err := password.NewCredentials(hasher)
	if err != nil {
		return err
	}
	var accounts []tokenlife.Account
	if opts.usersPath != "" {
		accounts, err = loadUsers(opts.usersPath, creds)
		if err != nil {
			return err
		}
	}
	logger.Info("directory loaded", slog.Int("accounts", len(accounts)))

	// ----- Engine ----- //

	builder := tokenlife.New().
		WithConfig(cfg).
		WithDirectory(tokenlife.NewStaticDirectory(accounts...)).
		WithLogger(logger)
	if cfg.Audit.Enabled {
		builder = builder.WithAuditSink(tokenlife.NewSlogSink(logger.With(slog.String("component", "audit"))))
	}
	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = engine.Ping(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("store backend: %w", err)
	}

	// ----- HTTP ----- //

	exporter := promexport.NewExporter(engine)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = httpapi.NewValidator()
	e.HTTPErrorHandler = httpapi.ErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return uuid.NewString()
		},
	}))
	e.Use(middleware.BodyLimit("64KB"))
	e.Use(httpapi.ContextLogger(logger))
	e.Use(httpapi.RequestLogger())

	e.GET("/healthz", func(c echo.Context) error {
		if err := engine.Ping(c.Request().Context()); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})

	httpapi.NewAuthHandler(engine, creds).RegisterRoutes(e.Group("/api/v1"))

	servers := []*http.Server{{Addr: opts.addr, Handler: e}}
	if opts.metricsAddr == "" {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	} else {
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		servers = append(servers, &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}
	servers[0].ReadHeaderTimeout = 5 * time.Second

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("graceful shutdown failed", slog.String("addr", srv.Addr), slog.Any("error", err))
				errs = append(errs, srv.Close())
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped", slog.Uint64("audit_dropped", engine.AuditDropped()))
	return nil
}
