// Package server exposes the pipeline over HTTP: study upload, listing,
// analysis, download, integrated diagnosis, and the credit ledger.
package server

import (
	"log/slog"

	"github.com/doctorfy/doctorfy/internal/artifact"
	"github.com/doctorfy/doctorfy/internal/export"
	"github.com/doctorfy/doctorfy/internal/pipeline"
	"github.com/doctorfy/doctorfy/internal/repository"
)

// maxUploadFiles bounds the number of artifacts per study upload.
const maxUploadFiles = 4

type Handler struct {
	logger       *slog.Logger
	studies      repository.StudyRepository
	ledger       repository.LedgerRepository
	store        *artifact.Store
	orchestrator *pipeline.Orchestrator
	composer     *pipeline.Composer
	exporter     *export.Service

	maxUploadBytes int64
}

func NewHandler(
	logger *slog.Logger,
	studies repository.StudyRepository,
	ledger repository.LedgerRepository,
	store *artifact.Store,
	orchestrator *pipeline.Orchestrator,
	composer *pipeline.Composer,
	exporter *export.Service,
	maxUploadBytes int64,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 16 << 20
	}
	return &Handler{
		logger:         logger,
		studies:        studies,
		ledger:         ledger,
		store:          store,
		orchestrator:   orchestrator,
		composer:       composer,
		exporter:       exporter,
		maxUploadBytes: maxUploadBytes,
	}
}
