// Command ssurgo-fetch retrieves SSURGO mapunit polygons for a bounding box,
// joins aggregated component attributes onto each feature, and writes one
// enriched GML file per tile to the output directory.
//
// Usage:
//
//	go run ./cmd/ssurgo-fetch \
//	  -bbox -90.1,35.0,-90.0,35.1 \
//	  -srs EPSG:4326 \
//	  -tile \
//	  -out data/ssurgo
//
// Services, caching and events are configured from the environment as for the
// server. With -plan the tile layout is written as GeoJSON and nothing is fetched.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/app"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/catalog"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/config"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/observability"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

func main() {
	bbox := flag.String("bbox", "", "bounding box as minX,minY,maxX,maxY (required)")
	srs := flag.String("srs", app.CatalogSRS, "reference system of -bbox")
	extended := flag.Bool("extended", false, "request the extended mapunit polygon schema")
	tile := flag.Bool("tile", false, "split boxes larger than MAX_EXTENT_SQ_METERS into tiles")
	out := flag.String("out", "", "output directory (overrides OUTPUT_DIR)")
	plan := flag.String("plan", "", "write the tile plan as GeoJSON to this file and exit")
	flag.Parse()

	if *bbox == "" {
		fmt.Fprintln(os.Stderr, "error: -bbox is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *out != "" {
		cfg.OutputDir = *out
	}
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	box, err := domain.ParseBoundingBox(*bbox, *srs)
	if err != nil {
		logger.Error("invalid bounding box", "error", err)
		os.Exit(2)
	}
	req := pipeline.Request{Box: box, Extended: *extended, Tile: *tile}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, observability.NewMetrics(), logger)
	if err != nil {
		logger.Error("failed to assemble pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *plan != "" {
		if err := writePlan(a.Orchestrator, req, *plan); err != nil {
			logger.Error("plan failed", "error", err)
			a.Close()
			os.Exit(1)
		}
		return
	}

	files, err := a.Orchestrator.Run(ctx, req)
	if err != nil {
		logger.Error("retrieval failed", "error", err)
		a.Close()
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Println(f)
	}
}

func writePlan(o *pipeline.Orchestrator, req pipeline.Request, path string) error {
	p, err := o.Plan(req)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(catalog.PlanCollection(p.FeatureType, p.Tiles), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
