// Package sda fetches SSURGO component attributes from the Soil Data Access
// tabular service.
package sda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/observability"
)

const serviceName = "sda"

// DefaultBatchSize keeps generated IN lists well inside SDA's query limits.
const DefaultBatchSize = 250

// Client implements the attribute fetcher against the SDA post.rest endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	batchSize  int
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an SDA client. A batchSize below 1 uses DefaultBatchSize.
func NewClient(baseURL string, timeout time.Duration, batchSize int, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   baseURL,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// FetchComponentAttributes returns the surface-horizon attributes of every
// component of each key. Every requested key is present in the result; keys
// without components map to an empty slice.
func (c *Client) FetchComponentAttributes(ctx context.Context, keys domain.KeySet) (map[domain.MapunitKey][]domain.ComponentAttributeRecord, error) {
	out := make(map[domain.MapunitKey][]domain.ComponentAttributeRecord, len(keys))
	sorted := keys.Sorted()
	for _, k := range sorted {
		out[k] = []domain.ComponentAttributeRecord{}
	}

	for start := 0; start < len(sorted); start += c.batchSize {
		batch := sorted[start:min(start+c.batchSize, len(sorted))]
		records, err := c.query(ctx, ComponentQuery(batch))
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if _, ok := out[r.MapunitKey]; ok {
				out[r.MapunitKey] = append(out[r.MapunitKey], r)
			}
		}
		c.logger.Debug("sda batch fetched", "mapunits", len(batch), "components", len(records))
	}
	return out, nil
}

func (c *Client) query(ctx context.Context, sql string) ([]domain.ComponentAttributeRecord, error) {
	payload, err := json.Marshal(request{Query: sql, Format: "JSON+COLUMNNAME"})
	if err != nil {
		return nil, fmt.Errorf("encode sda request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(start, "error")
		return nil, fmt.Errorf("sda query: %w", &domain.ServiceError{Service: serviceName, Message: err.Error(), Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(start, "error")
		return nil, fmt.Errorf("sda query: %w", &domain.ServiceError{Service: serviceName, Message: err.Error(), Err: err})
	}
	if resp.StatusCode != http.StatusOK {
		c.observe(start, "error")
		return nil, &domain.ServiceError{Service: serviceName, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	c.observe(start, "success")

	return parseTable(body)
}

func (c *Client) observe(start time.Time, outcome string) {
	c.metrics.ServiceDuration.WithLabelValues(serviceName).Observe(time.Since(start).Seconds())
	c.metrics.ServiceRequests.WithLabelValues(serviceName, outcome).Inc()
}

// parseTable decodes a JSON+COLUMNNAME result: the first row holds column
// names, the rest hold values as strings or nulls. A body without a Table
// means the query matched nothing.
func parseTable(body []byte) ([]domain.ComponentAttributeRecord, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var res response
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, unusable("decode response: %v", err)
	}
	if len(res.Table) == 0 {
		return nil, nil
	}

	cols := make(map[string]int, len(res.Table[0]))
	for i, name := range res.Table[0] {
		if name != nil {
			cols[strings.ToLower(*name)] = i
		}
	}
	for _, required := range Columns {
		if _, ok := cols[required]; !ok {
			return nil, unusable("response lacks column %q", required)
		}
	}

	records := make([]domain.ComponentAttributeRecord, 0, len(res.Table)-1)
	for n, row := range res.Table[1:] {
		rec, err := decodeRow(row, cols)
		if err != nil {
			return nil, unusable("row %d: %v", n+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRow(row []*string, cols map[string]int) (domain.ComponentAttributeRecord, error) {
	cell := func(name string) *string {
		i := cols[name]
		if i >= len(row) {
			return nil
		}
		return row[i]
	}

	var rec domain.ComponentAttributeRecord
	mukey := cell("mukey")
	if mukey == nil || strings.TrimSpace(*mukey) == "" {
		return rec, fmt.Errorf("missing mukey")
	}
	rec.MapunitKey = domain.MapunitKey(strings.TrimSpace(*mukey))
	if cokey := cell("cokey"); cokey != nil {
		rec.ComponentKey = strings.TrimSpace(*cokey)
	}
	if tex := cell("texdesc"); tex != nil {
		rec.TextureClass = strings.TrimSpace(*tex)
	}

	pct, err := number(cell("comppct_r"))
	if err != nil {
		return rec, fmt.Errorf("comppct_r: %w", err)
	}
	if pct != nil {
		rec.ComponentPercent = *pct
	}

	for _, f := range []struct {
		col string
		dst **float64
	}{
		{"ksat_r", &rec.Ksat},
		{"claytotal_r", &rec.PctClay},
		{"silttotal_r", &rec.PctSilt},
		{"sandtotal_r", &rec.PctSand},
	} {
		v, err := number(cell(f.col))
		if err != nil {
			return rec, fmt.Errorf("%s: %w", f.col, err)
		}
		*f.dst = v
	}
	return rec, nil
}

func number(s *string) (*float64, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func unusable(format string, args ...any) error {
	return &domain.ServiceError{Service: serviceName, Message: fmt.Sprintf(format, args...)}
}

// SDA wire types.

type request struct {
	Query  string `json:"query"`
	Format string `json:"format"`
}

type response struct {
	Table [][]*string `json:"Table"`
}
