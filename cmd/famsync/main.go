package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/famkit/famsync/internal/config"
	"github.com/famkit/famsync/internal/domain"
	"github.com/famkit/famsync/internal/infrastructure/providers"
	"github.com/famkit/famsync/internal/mediator"
	"github.com/famkit/famsync/internal/present/rest"
	"github.com/famkit/famsync/internal/store"
	"github.com/famkit/famsync/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error(
			"Failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
			slog.String("module", "main"),
		)
		os.Exit(1)
	}

	ctx := context.Background()

	if conf.Server.EnableTrace {
		shutdown, err := telemetry.Setup(ctx, "famsync", conf.Server.TraceEndpoint)
		if err != nil {
			slog.Error(
				"Failed to set up tracing",
				slog.String("error", err.Error()),
				slog.String("module", "main"),
			)
			os.Exit(1)
		}
		defer shutdown(ctx)
	}

	db, err := providers.NewDatabase(conf.Server)
	if err != nil {
		slog.Error(
			"Failed to connect database",
			slog.String("error", err.Error()),
			slog.String("module", "main"),
		)
		os.Exit(1)
	}
	if err := providers.MigrateDatabase(db); err != nil {
		slog.Error(
			"Failed to migrate database",
			slog.String("error", err.Error()),
			slog.String("module", "main"),
		)
		os.Exit(1)
	}

	rdb := providers.NewRedis(conf.Server)
	mc := providers.NewMemcache(conf.Server)
	repo := providers.NewRepository(db, rdb, mc)

	st := store.New(domain.ReduceFamily)
	med := mediator.New(repo, st.State, st.Dispatch, mediator.Options{
		Resubscribe: conf.Sync.Resubscribe,
	})
	st.Use(med)

	if err := med.Attach(ctx); err != nil {
		slog.Error(
			"Failed to attach mediator",
			slog.String("error", err.Error()),
			slog.String("module", "main"),
		)
		os.Exit(1)
	}
	defer med.Detach()

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("famsync"))
	}

	handler := rest.NewHandler(st, repo)
	handler.RegisterRoutes(e)

	e.Logger.Fatal(e.Start(conf.Server.Listen))
}
