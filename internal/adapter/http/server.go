package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/catalog"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultSRS is assumed for query-string boxes that do not name one.
const DefaultSRS = "EPSG:4326"

// Runner plans and executes feature retrievals.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) ([]string, error)
	Plan(req pipeline.Request) (pipeline.TilePlan, error)
}

// TileIndex finds enriched tile files by area.
type TileIndex interface {
	Query(box domain.BoundingBox) []catalog.Entry
	All() []catalog.Entry
}

// Options tunes the API routes.
type Options struct {
	RateLimit int // requests per minute per client IP on /v1, 0 disables limiting
}

// Server exposes the retrieval API alongside health, readiness, and metrics.
type Server struct {
	httpServer *http.Server
	runner     Runner
	tiles      TileIndex
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /v1 retrieval routes.
func NewServer(addr string, runner Runner, tiles TileIndex, ready sharedobs.ReadinessChecker, opts Options, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     r,
			ReadTimeout: 10 * time.Second,
			// Runs stream whole tile sets before answering.
			WriteTimeout: 15 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		runner: runner,
		tiles:  tiles,
		logger: logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
		}
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Post("/mapunits", s.handleRun)
		r.Get("/plan", s.handlePlan)
		r.Get("/tiles", s.handleTiles)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type runResponse struct {
	Files []string `json:"files"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	files, err := s.runner.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	render.JSON(w, r, runResponse{Files: files})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromQuery(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	plan, err := s.runner.Plan(req)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	render.JSON(w, r, catalog.PlanCollection(plan.FeatureType, plan.Tiles))
}

func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	var entries []catalog.Entry
	if r.URL.Query().Get("bbox") == "" {
		entries = s.tiles.All()
	} else {
		box, err := boxFromQuery(r)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		entries = s.tiles.Query(box)
	}
	render.JSON(w, r, catalog.FeatureCollection(entries))
}

func requestFromQuery(r *http.Request) (pipeline.Request, error) {
	box, err := boxFromQuery(r)
	if err != nil {
		return pipeline.Request{}, err
	}
	extended, err := boolParam(r, "extended")
	if err != nil {
		return pipeline.Request{}, err
	}
	tile, err := boolParam(r, "tile")
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{Box: box, Extended: extended, Tile: tile}, nil
}

func boxFromQuery(r *http.Request) (domain.BoundingBox, error) {
	q := r.URL.Query()
	srs := q.Get("srs")
	if srs == "" {
		srs = DefaultSRS
	}
	return domain.ParseBoundingBox(q.Get("bbox"), srs)
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(name + " must be true or false")
	}
	return b, nil
}

// statusFor maps pipeline errors to response codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidBoundingBox), errors.Is(err, domain.ErrExtentTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrService), errors.Is(err, domain.ErrParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}
