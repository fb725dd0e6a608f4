package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the full HTTP surface. /health and /metrics are public;
// everything else requires a bearer token.
func NewRouter(h *Handler, auth AuthConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(auth))

		r.Route("/medical-studies", func(r chi.Router) {
			r.Post("/upload", h.UploadStudy)
			r.Get("/studies", h.ListStudies)
			r.Route("/studies/{id}", func(r chi.Router) {
				r.Get("/", h.GetStudy)
				r.Post("/analyze", h.AnalyzeStudy)
				r.Post("/rename", h.RenameStudy)
				r.Get("/download", h.DownloadStudy)
				r.Get("/interpretation/download", h.DownloadInterpretation)
			})
		})

		r.Post("/diagnosis/generate", h.GenerateDiagnosis)

		r.Route("/credits", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.ListTransactions)
			r.Get("/transactions/export", h.ExportTransactions)
		})
	})

	return r
}
