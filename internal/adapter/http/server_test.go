package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	httpadapter "github.com/couchcryptid/ssurgo-feature-etl/internal/adapter/http"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/catalog"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockRunner struct {
	files   []string
	err     error
	planErr error
	got     pipeline.Request
}

func (m *mockRunner) Run(_ context.Context, req pipeline.Request) ([]string, error) {
	m.got = req
	return m.files, m.err
}

func (m *mockRunner) Plan(req pipeline.Request) (pipeline.TilePlan, error) {
	m.got = req
	if m.planErr != nil {
		return pipeline.TilePlan{}, m.planErr
	}
	tiles, err := domain.Plan(req.Box, 1e6, req.Tile)
	if err != nil {
		return pipeline.TilePlan{}, err
	}
	return pipeline.TilePlan{FeatureType: domain.FeatureTypeFor(req.Extended), Tiles: tiles}, nil
}

type mockIndex struct {
	entries []catalog.Entry
	queried *domain.BoundingBox
}

func (m *mockIndex) Query(box domain.BoundingBox) []catalog.Entry {
	m.queried = &box
	return m.entries
}

func (m *mockIndex) All() []catalog.Entry { return m.entries }

func newTestServer(runner *mockRunner, index *mockIndex, readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", runner, index, &mockReadiness{err: readyErr}, httpadapter.Options{}, slog.Default())
}

func do(srv http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := do(newTestServer(&mockRunner{}, &mockIndex{}, nil), http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := do(newTestServer(&mockRunner{}, &mockIndex{}, nil), http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := do(newTestServer(&mockRunner{}, &mockIndex{}, fmt.Errorf("output directory missing")), http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "output directory missing", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(newTestServer(&mockRunner{}, &mockIndex{}, nil), http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunReturnsFiles(t *testing.T) {
	runner := &mockRunner{files: []string{"MapunitPoly_bbox_0_0_1_1-attr.gml"}}
	srv := newTestServer(runner, &mockIndex{}, nil)

	rec := do(srv, http.MethodPost, "/v1/mapunits",
		`{"bbox":{"minX":-90,"minY":35,"maxX":-89.9,"maxY":35.1,"srs":"EPSG:4326"},"tile":true}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Files []string `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, runner.files, body.Files)
	assert.Equal(t, pipeline.Request{
		Box:  domain.BoundingBox{MinX: -90, MinY: 35, MaxX: -89.9, MaxY: 35.1, SRS: "EPSG:4326"},
		Tile: true,
	}, runner.got)
}

func TestRunErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid bbox", fmt.Errorf("plan: %w", domain.ErrInvalidBoundingBox), http.StatusBadRequest},
		{"extent too large", domain.ErrExtentTooLarge, http.StatusBadRequest},
		{"service", fmt.Errorf("fetch: %w", &domain.ServiceError{Service: "wfs", StatusCode: 503}), http.StatusBadGateway},
		{"parse", domain.ErrParse, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"configuration", domain.ErrConfiguration, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&mockRunner{err: tt.err}, &mockIndex{}, nil)

			rec := do(srv, http.MethodPost, "/v1/mapunits", `{"bbox":{"minX":0,"minY":0,"maxX":1,"maxY":1,"srs":"EPSG:4326"}}`)

			assert.Equal(t, tt.want, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestRunRejectsMalformedJSON(t *testing.T) {
	rec := do(newTestServer(&mockRunner{}, &mockIndex{}, nil), http.MethodPost, "/v1/mapunits", `{"bbox":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanReturnsGeoJSON(t *testing.T) {
	runner := &mockRunner{}
	srv := newTestServer(runner, &mockIndex{}, nil)

	rec := do(srv, http.MethodGet, "/v1/plan?bbox=0,0,2000,1000&srs=EPSG:26917&tile=true&extended=1", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "MapunitPolyExtended_bbox_0.0_0.0_1000.0_1000.0-attr.gml", fc.Features[0].Properties["file"])
	assert.True(t, runner.got.Extended)
	assert.Equal(t, "EPSG:26917", runner.got.Box.SRS)
}

func TestPlanBadQuery(t *testing.T) {
	srv := newTestServer(&mockRunner{}, &mockIndex{}, nil)

	for _, target := range []string{
		"/v1/plan",
		"/v1/plan?bbox=1,2,3",
		"/v1/plan?bbox=0,0,1,1&tile=maybe",
		"/v1/plan?bbox=0,0,5,5", // too large untiled
	} {
		t.Run(target, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodGet, target, "").Code)
		})
	}
}

func TestTilesQueriesIndex(t *testing.T) {
	index := &mockIndex{entries: []catalog.Entry{{
		FeatureType: domain.MapunitPoly,
		Box:         domain.BoundingBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1, SRS: "EPSG:4326"},
		File:        "MapunitPoly_bbox_0_0_1_1-attr.gml",
	}}}
	srv := newTestServer(&mockRunner{}, index, nil)

	rec := do(srv, http.MethodGet, "/v1/tiles?bbox=0.5,0.5,2,2", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, index.queried)
	assert.Equal(t, "EPSG:4326", index.queried.SRS)
	assert.Contains(t, rec.Body.String(), "MapunitPoly_bbox_0_0_1_1-attr.gml")
}

func TestTilesWithoutBBoxListsAll(t *testing.T) {
	index := &mockIndex{}
	rec := do(newTestServer(&mockRunner{}, index, nil), http.MethodGet, "/v1/tiles", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, index.queried)
	assert.Contains(t, rec.Body.String(), `"FeatureCollection"`)
}

func TestRateLimit(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockRunner{}, &mockIndex{}, &mockReadiness{}, httpadapter.Options{RateLimit: 2}, slog.Default())

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(srv, http.MethodGet, "/v1/tiles", "").Code
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/healthz", "").Code, "health checks are not limited")
}
