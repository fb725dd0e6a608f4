package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/doctorfy/doctorfy/internal/artifact"
	"github.com/doctorfy/doctorfy/internal/common"
	"github.com/doctorfy/doctorfy/internal/export"
	"github.com/doctorfy/doctorfy/internal/extract"
	"github.com/doctorfy/doctorfy/internal/imaging"
	"github.com/doctorfy/doctorfy/internal/llm"
	"github.com/doctorfy/doctorfy/internal/pipeline"
	"github.com/doctorfy/doctorfy/internal/repository"
	"github.com/doctorfy/doctorfy/internal/server"
)

func main() {
	_ = godotenv.Load()

	logger := newLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.HealthCheck(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Error("migrating database", "error", err)
		os.Exit(1)
	}

	store, err := artifact.NewStore(cfg.Artifact.Root, cfg.Artifact.MaxUploadBytes, logger)
	if err != nil {
		logger.Error("preparing artifact store", "error", err)
		os.Exit(1)
	}

	studies := repository.NewStudyRepository(db, logger)
	users := repository.NewUserRepository(db, logger)
	ledger := repository.NewLedgerRepository(db, logger)

	extractor := extract.NewExtractor(extract.Config{
		Pdftotext: cfg.Extract.Pdftotext,
		Pdfimages: cfg.Extract.Pdfimages,
		MaxImages: cfg.Extract.PDFMaxImages,
	}, logger)
	normalizer := imaging.NewNormalizer(imaging.DefaultMaxBytes, logger)
	model := llm.NewClient(llm.Config{
		APIKey:          cfg.LMM.APIKey,
		BaseURL:         cfg.LMM.BaseURL,
		Model:           cfg.LMM.Model,
		MaxImages:       cfg.LMM.MaxImages,
		MaxOutputTokens: cfg.LMM.MaxOutputTokens,
		Timeout:         cfg.LMM.Timeout,
	}, logger)

	pipeCfg := pipeline.Config{
		StudyAnalysisCost:       cfg.Credits.StudyAnalysisCost,
		IntegratedDiagnosisCost: cfg.Credits.IntegratedDiagnosisCost,
		MaxImages:               cfg.LMM.MaxImages,
		Timeout:                 cfg.LMM.Timeout,
	}
	orchestrator := pipeline.NewOrchestrator(logger, pipeCfg, studies, ledger, store, extractor, normalizer, model)
	composer := pipeline.NewComposer(logger, pipeCfg, studies, users, ledger, model)
	exporter := export.NewService(ledger, logger)

	handler := server.NewHandler(logger, studies, ledger, store, orchestrator, composer, exporter, cfg.Artifact.MaxUploadBytes)
	router := server.NewRouter(handler, server.AuthConfig{JWTSecret: cfg.Server.JWTSecret})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
