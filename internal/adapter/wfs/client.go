// Package wfs fetches SSURGO mapunit features from an OGC Web Feature Service.
package wfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/observability"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const serviceName = "wfs"

// maxErrorBody bounds how much of a failed response is kept for the error message.
const maxErrorBody = 4 << 10

// Options tune the HTTP behaviour of a Client.
type Options struct {
	Timeout    time.Duration
	MaxRetries int     // 0 means a single attempt
	RateLimit  float64 // requests per second, 0 for unlimited
}

// Client issues WFS 1.0.0 GetFeature requests with a BBOX filter.
type Client struct {
	httpClient *retryablehttp.Client
	limiter    *rate.Limiter
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a feature service client for the endpoint at baseURL.
func NewClient(baseURL string, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = opts.MaxRetries
	httpClient.HTTPClient.Timeout = opts.Timeout
	httpClient.Logger = logger
	// Hand the final response back instead of a generic "giving up" error.
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		baseURL:    baseURL,
		metrics:    metrics,
		logger:     logger,
	}
}

// Fetch requests every ft feature intersecting box and returns the raw
// response body. The caller must close it. Non-2xx responses are returned as
// *domain.ServiceError.
func (c *Client) Fetch(ctx context.Context, box domain.BoundingBox, ft domain.FeatureType) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wfs rate limit: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(box, ft), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ServiceDuration.WithLabelValues(serviceName).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.ServiceRequests.WithLabelValues(serviceName, "error").Inc()
		return nil, fmt.Errorf("wfs getfeature %s: %w", box, &domain.ServiceError{Service: serviceName, Message: err.Error(), Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.metrics.ServiceRequests.WithLabelValues(serviceName, "error").Inc()
		return nil, &domain.ServiceError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	c.metrics.ServiceRequests.WithLabelValues(serviceName, "success").Inc()
	c.logger.Debug("wfs getfeature", "bbox", box.String(), "feature_type", ft, "status", resp.StatusCode)
	return resp.Body, nil
}

func (c *Client) requestURL(box domain.BoundingBox, ft domain.FeatureType) string {
	params := url.Values{
		"SERVICE":  {"WFS"},
		"VERSION":  {"1.0.0"},
		"REQUEST":  {"GetFeature"},
		"TYPENAME": {string(ft)},
		"FILTER":   {BBoxFilter(box)},
	}
	sep := "?"
	if strings.Contains(c.baseURL, "?") {
		sep = "&"
	}
	return c.baseURL + sep + params.Encode()
}

// BBoxFilter renders the OGC filter selecting features whose Geometry
// intersects box.
func BBoxFilter(box domain.BoundingBox) string {
	return fmt.Sprintf(
		"<Filter><BBOX><PropertyName>Geometry</PropertyName><Box srsName='%s'><coordinates>%s,%s %s,%s</coordinates></Box></BBOX></Filter>",
		box.SRS, coord(box.MinX), coord(box.MinY), coord(box.MaxX), coord(box.MaxY),
	)
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
