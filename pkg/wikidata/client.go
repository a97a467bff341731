// Package wikidata reads paged church records from a SPARQL endpoint.
package wikidata

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/lily/pkg/canonical"
	syncerrors "github.com/Ramsey-B/lily/pkg/errors"
	"github.com/Ramsey-B/lily/pkg/httpclient"
	"github.com/Ramsey-B/lily/pkg/metrics"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const entityPrefix = "http://www.wikidata.org/entity/"

// Limits bounds the page size a caller may ask for.
type Limits struct {
	Default int
	Min     int
	Max     int
}

// Clamp applies the default and bounds to limit and floors offset at zero.
func (l Limits) Clamp(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = l.Default
	}
	if limit < l.Min {
		limit = l.Min
	}
	if l.Max > 0 && limit > l.Max {
		limit = l.Max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type Config struct {
	Endpoint      string
	Timeout       time.Duration
	LabelLanguage string
	Limits        Limits
}

// Page is one fetched and deduplicated page. RawCount is the number of rows
// the endpoint returned before filtering, which drives pagination.
type Page struct {
	Records  []models.SourceRecord
	RawCount int
}

type Client struct {
	http      *httpclient.Client
	cfg       Config
	logger    ectologger.Logger
	limiter   Limiter
	rateLimit RateLimit
}

func NewClient(http *httpclient.Client, cfg Config, logger ectologger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 70 * time.Second
	}
	return &Client{http: http, cfg: cfg, logger: logger}
}

func (c *Client) Limits() Limits {
	return c.cfg.Limits
}

type sparqlValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]sparqlValue `json:"bindings"`
	} `json:"results"`
}

// FetchPage runs one LIMIT/OFFSET query. Any transport failure, timeout or
// non-200 answer is a RemoteFetchFailed error.
func (c *Client) FetchPage(ctx context.Context, limit, offset int) (*Page, error) {
	ctx, span := tracing.StartSpan(ctx, "wikidata.FetchPage")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit), attribute.Int("offset", offset))

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"limit":  limit,
		"offset": offset,
	})

	if wait := c.admit(ctx); wait > 0 {
		metrics.SourceThrottledTotal.Inc()
		log.Warnf("source query budget spent, retry in %s", wait)
		return nil, syncerrors.RemoteFetchFailed(http.StatusTooManyRequests, nil, "source query budget spent, retry in %s", wait.Round(time.Second))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("query", BuildQuery(c.cfg.LabelLanguage, limit, offset))
	params.Set("format", "json")

	start := time.Now()
	resp, err := c.http.Get(ctx, c.cfg.Endpoint+"?"+params.Encode(), map[string]string{
		"Accept": "application/sparql-results+json",
	})
	metrics.RecordSourceFetch(time.Since(start), err == nil && resp != nil && resp.StatusCode == http.StatusOK)
	if err != nil {
		span.RecordError(err)
		if isTimeout(ctx, err) {
			log.Warnf("source fetch timed out after %s", c.cfg.Timeout)
			return nil, syncerrors.RemoteFetchFailed(http.StatusGatewayTimeout, err, "source fetch timed out after %s", c.cfg.Timeout)
		}
		log.WithError(err).Error("source fetch failed")
		return nil, syncerrors.RemoteFetchFailed(0, err, "source endpoint unreachable")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.backOff(ctx, resp.Headers)
	}
	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).Warnf("source endpoint returned %d", resp.StatusCode)
		return nil, syncerrors.RemoteFetchFailed(resp.StatusCode, nil, "source endpoint returned %d: %s", resp.StatusCode, httpclient.Snippet(resp, 200))
	}

	var body sparqlResponse
	if err := httpclient.DecodeJSON(resp, &body); err != nil {
		log.WithError(err).Error("failed to decode source response")
		return nil, syncerrors.RemoteFetchFailed(resp.StatusCode, err, "source response is not valid SPARQL JSON")
	}

	page := &Page{
		Records:  Dedupe(parseBindings(body.Results.Bindings)),
		RawCount: len(body.Results.Bindings),
	}
	span.SetAttributes(attribute.Int("raw_count", page.RawCount), attribute.Int("record_count", len(page.Records)))
	log.Infof("fetched %d source rows, %d records after dedupe", page.RawCount, len(page.Records))

	return page, nil
}

// parseBindings drops rows without a usable id, name or diocese name.
func parseBindings(bindings []map[string]sparqlValue) []models.SourceRecord {
	records := make([]models.SourceRecord, 0, len(bindings))
	for _, b := range bindings {
		id := strings.TrimPrefix(strings.TrimSpace(b["church"].Value), entityPrefix)
		name := strings.TrimSpace(b["churchLabel"].Value)
		diocese := strings.TrimSpace(b["dioceseLabel"].Value)
		if id == "" || name == "" || diocese == "" {
			continue
		}

		iso := strings.ToUpper(strings.TrimSpace(b["iso"].Value))
		if len(iso) != 2 {
			iso = ""
		}

		record := models.SourceRecord{
			SourceID:       id,
			Name:           name,
			DioceseName:    diocese,
			CountryISOCode: iso,
		}
		if coord, ok := b["coord"]; ok {
			record.Latitude, record.Longitude = ParsePoint(coord.Value)
		}
		records = append(records, record)
	}
	return records
}

// Dedupe keeps one record per source id, the one whose name scores higher.
// Ties keep the earlier row. Output order follows first appearance.
func Dedupe(records []models.SourceRecord) []models.SourceRecord {
	index := make(map[string]int, len(records))
	out := make([]models.SourceRecord, 0, len(records))
	for _, r := range records {
		i, seen := index[r.SourceID]
		if !seen {
			index[r.SourceID] = len(out)
			out = append(out, r)
			continue
		}
		if canonical.NameQuality(r.Name) > canonical.NameQuality(out[i].Name) {
			out[i] = r
		}
	}
	return out
}

// ParsePoint reads WKT "Point(<lon> <lat>)". Anything malformed yields nils.
func ParsePoint(wkt string) (lat, lon *float64) {
	s := strings.TrimSpace(wkt)
	// literals may carry a CRS IRI before the geometry
	if i := strings.Index(s, "> "); strings.HasPrefix(s, "<") && i > 0 {
		s = strings.TrimSpace(s[i+2:])
	}
	if len(s) < len("Point()") || !strings.EqualFold(s[:6], "Point(") || !strings.HasSuffix(s, ")") {
		return nil, nil
	}

	parts := strings.Fields(s[6 : len(s)-1])
	if len(parts) != 2 {
		return nil, nil
	}
	lonVal, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, nil
	}
	latVal, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, nil
	}
	if latVal < -90 || latVal > 90 || lonVal < -180 || lonVal > 180 {
		return nil, nil
	}
	return &latVal, &lonVal
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
