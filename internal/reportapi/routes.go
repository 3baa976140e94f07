// Package reportapi serves validation reports and import batches over HTTP.
// Every route is read-only.
package reportapi

import (
	"net/http"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/metrics"
	"github.com/austarch/austarch-db/internal/middleware"
	"github.com/austarch/austarch-db/internal/validation"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Options struct {
	AllowedOrigins []string
	// Registry, when set, is served on /metrics.
	Registry *prometheus.Registry
	Log      *zap.Logger
}

type Server struct {
	engine  *validation.Engine
	batches archive.BatchReader
	opts    Options
	log     *zap.Logger
}

func New(engine *validation.Engine, batches archive.BatchReader, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: engine, batches: batches, opts: opts, log: log.Named("reportapi")}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.log))
	r.Use(middleware.CORS(s.opts.AllowedOrigins))

	r.Get("/health", s.health)

	r.Route("/reports", func(r chi.Router) {
		r.Get("/", s.report)
		r.Get("/text", s.reportText)
		r.Get("/integrity", s.integrity)
		r.Get("/duplicates", s.duplicates)
		r.Get("/counts", s.counts)
	})

	r.Get("/batches", s.listBatches)
	r.Get("/batches/{id}", s.getBatch)

	if s.opts.Registry != nil {
		r.Handle("/metrics", metrics.Handler(s.opts.Registry))
	}
	return r
}
