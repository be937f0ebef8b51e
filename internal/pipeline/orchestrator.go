package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/gml"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// partialSuffix marks a joined file that has not been renamed into place yet.
const partialSuffix = ".part"

// publishTimeout bounds event publishing, which runs detached from the
// request context so failure events still go out after cancellation.
const publishTimeout = 5 * time.Second

// FeatureFetcher retrieves the raw feature payload for one tile.
type FeatureFetcher interface {
	Fetch(ctx context.Context, box domain.BoundingBox, ft domain.FeatureType) (io.ReadCloser, error)
}

// AttributeFetcher retrieves component attributes for a set of mapunits.
// Every requested key must appear in the result.
type AttributeFetcher interface {
	FetchComponentAttributes(ctx context.Context, keys domain.KeySet) (map[domain.MapunitKey][]domain.ComponentAttributeRecord, error)
}

// EventPublisher announces tile outcomes to other services.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.TileEvent) error
}

// TileRecorder is told about every output file a run produces or reuses.
type TileRecorder interface {
	Record(ft domain.FeatureType, box domain.BoundingBox, file string)
}

// Request describes one feature retrieval.
type Request struct {
	Box      domain.BoundingBox `json:"bbox"`
	Extended bool               `json:"extended"`
	Tile     bool               `json:"tile"`
}

// Config holds the orchestrator settings.
type Config struct {
	OutputDir string
	MaxExtent float64 // maximum area per request, square metres for geographic boxes
	Workers   int     // tiles processed concurrently, at least 1
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sends a TileEvent for every terminal or failed tile.
func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithRecorder registers produced files with r.
func WithRecorder(r TileRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithClock replaces the real clock used for event times and durations.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// Orchestrator runs the per-tile fetch, key, attribute, aggregate and join
// steps and writes one enriched feature file per tile.
type Orchestrator struct {
	features   FeatureFetcher
	attributes AttributeFetcher
	publisher  EventPublisher
	recorder   TileRecorder
	cfg        Config
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
	locks      tileLocks
}

// New creates an Orchestrator with the given sources and observability.
func New(features FeatureFetcher, attributes AttributeFetcher, cfg Config, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	o := &Orchestrator{
		features:   features,
		attributes: attributes,
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		logger:     logger,
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TilePlan is the work a Request maps to, computed without touching the
// network or the output directory.
type TilePlan struct {
	FeatureType domain.FeatureType `json:"featureType"`
	Tiles       []domain.Tile      `json:"tiles"`
	Files       []string           `json:"files"`
}

// Plan validates req and returns its tiles and output file names.
func (o *Orchestrator) Plan(req Request) (TilePlan, error) {
	ft := domain.FeatureTypeFor(req.Extended)
	tiles, err := domain.Plan(req.Box, o.cfg.MaxExtent, req.Tile)
	if err != nil {
		return TilePlan{}, err
	}
	files := make([]string, len(tiles))
	for i, t := range tiles {
		files[i] = domain.OutputFilename(ft, t.BoundingBox)
	}
	return TilePlan{FeatureType: ft, Tiles: tiles, Files: files}, nil
}

// Run fetches and enriches every tile of req. It returns the output file
// names, relative to the output directory, in tile order. Tiles whose output
// already exists are not fetched again. The first failing tile aborts the
// run; files already written by other tiles are kept.
func (o *Orchestrator) Run(ctx context.Context, req Request) ([]string, error) {
	if err := checkOutputDir(o.cfg.OutputDir); err != nil {
		return nil, err
	}
	plan, err := o.Plan(req)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := o.logger.With("run_id", runID, "feature_type", plan.FeatureType)
	log.Info("run started", "bbox", req.Box.String(), "tiles", len(plan.Tiles), "workers", o.cfg.Workers)
	o.metrics.TilesPlanned.Add(float64(len(plan.Tiles)))
	o.metrics.PipelineRunning.Inc()
	defer o.metrics.PipelineRunning.Dec()

	files := make([]string, len(plan.Tiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, tile := range plan.Tiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name, err := o.processTile(gctx, log, runID, plan.FeatureType, tile)
			if err != nil {
				return err
			}
			files[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("run failed", "error", err)
		return nil, err
	}

	log.Info("run complete", "files", len(files))
	return files, nil
}

// CheckReadiness reports whether the output directory is usable.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	return checkOutputDir(o.cfg.OutputDir)
}

// tileRun carries the bookkeeping of one tile through its states.
type tileRun struct {
	runID string
	ft    domain.FeatureType
	tile  domain.Tile
	name  string
	start time.Time
	log   *slog.Logger

	mapunits int
	joined   int
}

func (o *Orchestrator) processTile(ctx context.Context, log *slog.Logger, runID string, ft domain.FeatureType, tile domain.Tile) (string, error) {
	name := domain.OutputFilename(ft, tile.BoundingBox)
	tr := &tileRun{
		runID: runID,
		ft:    ft,
		tile:  tile,
		name:  name,
		start: o.clock.Now(),
		log:   log.With("tile", tile.Label(), "row", tile.Row, "col", tile.Col),
	}

	tr.enter(domain.TileStatePending)

	unlock := o.locks.lock(name)
	defer unlock()

	out := filepath.Join(o.cfg.OutputDir, name)
	switch _, err := os.Stat(out); {
	case err == nil:
		o.finish(ctx, tr, domain.TileStateSkipped, nil)
		return name, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", o.fail(ctx, tr, fmt.Errorf("stat %s: %w", name, err))
	}

	if err := o.produce(ctx, tr, out); err != nil {
		return "", o.fail(ctx, tr, err)
	}
	o.finish(ctx, tr, domain.TileStateWritten, nil)
	return name, nil
}

// produce runs FETCHED through JOINED and renames the joined file into
// place. Intermediate and partial files never outlive a failure.
func (o *Orchestrator) produce(ctx context.Context, tr *tileRun, out string) (err error) {
	intermediate := filepath.Join(o.cfg.OutputDir, domain.IntermediateFilename(tr.ft, tr.tile.BoundingBox))
	partial := out + partialSuffix
	defer func() {
		removeIfExists(intermediate, tr.log)
		if err != nil {
			removeIfExists(partial, tr.log)
		}
	}()

	if err := o.fetch(ctx, tr, intermediate); err != nil {
		return err
	}
	tr.enter(domain.TileStateFetched)

	keys, err := extractKeys(intermediate, tr.ft)
	if err != nil {
		return fmt.Errorf("extract keys for %s: %w", tr.tile.Label(), err)
	}
	tr.mapunits = len(keys)
	tr.enter(domain.TileStateKeyed)

	attrs := map[domain.MapunitKey][]domain.ComponentAttributeRecord{}
	if len(keys) > 0 {
		attrs, err = o.attributes.FetchComponentAttributes(ctx, keys)
		if err != nil {
			return fmt.Errorf("fetch attributes for %s: %w", tr.tile.Label(), err)
		}
		o.metrics.MapunitsFetched.Add(float64(len(keys)))
	}
	tr.enter(domain.TileStateAttributed)

	aggs := domain.Aggregate(attrs)
	tr.enter(domain.TileStateAggregated)

	stats, err := joinFile(intermediate, partial, tr.ft, aggs)
	if err != nil {
		return fmt.Errorf("join attributes for %s: %w", tr.tile.Label(), err)
	}
	tr.joined = stats.Joined
	o.metrics.FeaturesJoined.Add(float64(stats.Joined))
	tr.enter(domain.TileStateJoined)

	if err := os.Rename(partial, out); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(partial), err)
	}
	return nil
}

// fetch spools the feature payload to path. An empty payload is a service
// failure: the service answers an empty area with an empty collection, never
// with nothing.
func (o *Orchestrator) fetch(ctx context.Context, tr *tileRun, path string) error {
	body, err := o.features.Fetch(ctx, tr.tile.BoundingBox, tr.ft)
	if err != nil {
		return fmt.Errorf("fetch features for %s: %w", tr.tile.Label(), err)
	}
	defer body.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	n, err := copyBody(f, body)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("write %s: %w", filepath.Base(path), cerr)
	}
	if err != nil {
		return fmt.Errorf("fetch features for %s: %w", tr.tile.Label(), err)
	}
	if n == 0 {
		return fmt.Errorf("fetch features for %s: %w", tr.tile.Label(),
			&domain.ServiceError{Service: "wfs", Message: "empty response body"})
	}
	return nil
}

// copyBody spools a response body to dst. A failed read is the feature
// service's fault and comes back as a ServiceError; a failed write is a local
// disk error and is returned as such.
func copyBody(dst io.Writer, body io.Reader) (int64, error) {
	src := &bodyReader{r: body}
	n, err := io.Copy(dst, src)
	switch {
	case src.err != nil:
		return n, &domain.ServiceError{Service: "wfs", Message: "reading response: " + src.err.Error(), Err: src.err}
	case err != nil:
		return n, fmt.Errorf("write intermediate file: %w", err)
	}
	return n, nil
}

// bodyReader records the first non-EOF read error.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF && b.err == nil {
		b.err = err
	}
	return n, err
}

func extractKeys(path string, ft domain.FeatureType) (domain.KeySet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return gml.ExtractKeys(f, ft, domain.KeyField)
}

func joinFile(src, dst string, ft domain.FeatureType, aggs map[domain.MapunitKey]domain.AggregatedAttributeRecord) (gml.JoinStats, error) {
	in, err := os.Open(src)
	if err != nil {
		return gml.JoinStats{}, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return gml.JoinStats{}, err
	}
	stats, err := gml.Join(out, in, ft, domain.KeyField, aggs)
	if err != nil {
		out.Close()
		return stats, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return stats, err
	}
	return stats, out.Close()
}

func (tr *tileRun) enter(state domain.TileState) {
	tr.log.Debug("tile state", "state", state)
}

func (o *Orchestrator) finish(ctx context.Context, tr *tileRun, state domain.TileState, err error) {
	elapsed := o.clock.Since(tr.start)
	event := domain.TileEvent{
		RunID:          tr.runID,
		FeatureType:    tr.ft,
		Tile:           tr.tile,
		State:          state,
		Mapunits:       tr.mapunits,
		FeaturesJoined: tr.joined,
		Duration:       elapsed,
		OccurredAt:     o.clock.Now().UTC(),
	}

	switch state {
	case domain.TileStateSkipped:
		o.metrics.TilesSkipped.Inc()
	case domain.TileStateWritten:
		o.metrics.TilesWritten.Inc()
		o.metrics.TileDuration.Observe(elapsed.Seconds())
	case domain.TileStateFailed:
		o.metrics.TilesFailed.Inc()
	}

	if state.Terminal() {
		event.File = tr.name
		tr.log.Info("tile "+string(state), "state", state, "file", tr.name,
			"mapunits", tr.mapunits, "features_joined", tr.joined, "duration", elapsed)
		if o.recorder != nil {
			o.recorder.Record(tr.ft, tr.tile.BoundingBox, tr.name)
		}
	} else {
		event.Error = err.Error()
		tr.log.Error("tile failed", "state", state, "error", err)
	}
	o.publish(ctx, tr.log, event)
}

func (o *Orchestrator) fail(ctx context.Context, tr *tileRun, err error) error {
	o.finish(ctx, tr, domain.TileStateFailed, err)
	return err
}

func (o *Orchestrator) publish(ctx context.Context, log *slog.Logger, event domain.TileEvent) {
	if o.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.publisher.Publish(pctx, event); err != nil {
		log.Warn("publish tile event failed", "state", event.State, "error", err)
	}
}

// checkOutputDir verifies dir exists, is a directory, and accepts new files.
func checkOutputDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: output directory %s: %v", domain.ErrConfiguration, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: output directory %s is not a directory", domain.ErrConfiguration, dir)
	}
	check, err := os.CreateTemp(dir, ".ssurgo-write-check-*")
	if err != nil {
		return fmt.Errorf("%w: output directory %s is not writable: %v", domain.ErrConfiguration, dir, err)
	}
	check.Close()
	os.Remove(check.Name())
	return nil
}

func removeIfExists(path string, log *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("remove temporary file failed", "path", path, "error", err)
	}
}

// tileLocks serializes work on the same output file across concurrent runs.
type tileLocks struct {
	mu   sync.Mutex
	held map[string]*tileLock
}

type tileLock struct {
	mu   sync.Mutex
	refs int
}

func (l *tileLocks) lock(name string) (unlock func()) {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]*tileLock)
	}
	tl, ok := l.held[name]
	if !ok {
		tl = &tileLock{}
		l.held[name] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.held, name)
		}
		l.mu.Unlock()
	}
}
