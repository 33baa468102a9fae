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

	"github.com/joho/godotenv"

	"github.com/rloza/tramite/internal/actions"
	"github.com/rloza/tramite/internal/alerting"
	"github.com/rloza/tramite/internal/api"
	"github.com/rloza/tramite/internal/capability"
	"github.com/rloza/tramite/internal/engine"
	"github.com/rloza/tramite/internal/expressions"
	"github.com/rloza/tramite/internal/logging"
	"github.com/rloza/tramite/internal/scheduler"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/internal/streaming"
	"github.com/rloza/tramite/internal/validation"
	"github.com/rloza/tramite/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tramite:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("init CEL engine: %w", err)
	}
	exprEngine := expressions.NewExprEngine()
	jqEngine := expressions.NewGoJQEngine()

	hub := streaming.NewMemoryHub()
	registry := actions.NewRegistry()

	machine := engine.NewMachine(engine.Config{
		Store:             st,
		Registry:          registry,
		Router:            engine.NewRouter(celEngine),
		Hub:               hub,
		Logger:            logger,
		IntegrationTokens: cfg.integrationTokens(),
	})

	parser := capability.NewHTTPDocumentParser(cfg.ParserBaseURL, cfg.ParserAPIKey)
	docgen := capability.NewHTTPDocumentGenerator(cfg.DocgenBaseURL, cfg.DocgenAPIKey)
	mailer := capability.NewHTTPMailer(cfg.MailerBaseURL, cfg.MailerAPIKey, cfg.MailerFrom)
	sheets := capability.NewGoogleSheets(cfg.GoogleClientID, cfg.GoogleClientSecret, "", "")

	executors := []actions.Executor{
		actions.NewAIParseExecutor(parser, jqEngine),
		actions.NewDBInsertExecutor(st, machine),
		actions.NewGenerateDocExecutor(docgen),
		actions.NewSendEmailExecutor(mailer),
		actions.NewGoogleSheetExecutor(sheets),
		actions.NewHTTPCallExecutor(actions.HTTPConfig{}, jqEngine),
		actions.NewComputeExecutor(exprEngine),
		actions.NewCompareExecutor(),
		actions.NewValidateExecutor(),
		actions.NewGatewayExecutor(celEngine),
	}
	for _, e := range executors {
		if err := registry.Register(e); err != nil {
			return fmt.Errorf("register executor %s: %w", e.Name(), err)
		}
	}

	validator, err := validation.NewProcedureValidator()
	if err != nil {
		return fmt.Errorf("compile procedure schema: %w", err)
	}

	subscriber := alerting.NewSubscriber(st, hub, logger)
	if err := subscriber.Start(ctx); err != nil {
		return fmt.Errorf("start alerting subscriber: %w", err)
	}
	defer subscriber.Stop()

	sched := scheduler.New(st, machine, logger)
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.MCP {
		logger.Info("serving MCP over stdio")
		srv := mcp.NewTramiteServer(mcp.TramiteServerDeps{
			Machine:   machine,
			Store:     st,
			Validator: validator,
			Logger:    logger,
		})
		return srv.Serve(ctx)
	}

	server := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewServer(api.Deps{
			Store:     st,
			Machine:   machine,
			Validator: validator,
			Hub:       hub,
			Scheduler: sched,
			Logger:    logger,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
