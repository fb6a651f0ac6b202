package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultPrometheusQuery selects the completed-cycle count of the GC pause
// summary, which client_golang's default Go collector always exports.
const DefaultPrometheusQuery = `go_gc_duration_seconds_count`

// PrometheusRuntime watches a remote Go process. Counters come from an
// instant query against a Prometheus server (one counter per returned
// series) and collections are requested through the target's pprof heap
// endpoint, which runs a GC before writing the profile.
type PrometheusRuntime struct {
	BaseURL   string       // Prometheus server, e.g. "http://localhost:9090"
	Query     string       // PromQL expression returning counter series
	PprofURL  string       // target's debug server, e.g. "http://bench:6060"
	HTTP      *http.Client // injected for testability (nil -> 10s client)
	Log       *zap.Logger
	UserAgent string
}

// prometheusAPIResponse is the subset of /api/v1/query we need.
type prometheusAPIResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string             `json:"resultType"` // we expect "vector"
		Result     []prometheusSample `json:"result"`
	} `json:"data"`
}

// prometheusSample is one series of an instant vector.
type prometheusSample struct {
	Metric map[string]string `json:"metric"`
	Value  []interface{}     `json:"value"` // [ <timestamp>, "<value>" ]
}

// NewPrometheusRuntime returns a ready-to-use remote runtime.
func NewPrometheusRuntime(baseURL, query, pprofURL string, log *zap.Logger) *PrometheusRuntime {
	if query == "" {
		query = DefaultPrometheusQuery
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PrometheusRuntime{
		BaseURL:   baseURL,
		Query:     query,
		PprofURL:  pprofURL,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
		Log:       log,
		UserAgent: "gcconfirm/0.1",
	}
}

func (p *PrometheusRuntime) client() *http.Client {
	if p.HTTP != nil {
		return p.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// ListCounters implements Runtime. Series whose value is not a finite,
// non-negative number are reported untracked.
func (p *PrometheusRuntime) ListCounters(ctx context.Context) ([]Counter, error) {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid prometheus base url: %w", err)
	}
	u.Path = "/api/v1/query"
	q := u.Query()
	q.Set("query", p.Query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("prometheus returned %d: %s", resp.StatusCode, string(b))
	}

	var apiResp prometheusAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode prometheus response: %w", err)
	}
	if apiResp.Status != "success" {
		return nil, fmt.Errorf("prometheus query not successful: %s", apiResp.Status)
	}
	if apiResp.Data.ResultType != "vector" {
		return nil, fmt.Errorf("prometheus query returned %q, want vector", apiResp.Data.ResultType)
	}

	if len(apiResp.Data.Result) == 0 {
		p.Log.Warn("prometheus query matched no series", zap.String("query", p.Query))
	}

	out := make([]Counter, 0, len(apiResp.Data.Result))
	for _, s := range apiResp.Data.Result {
		c := Counter{ID: seriesID(s.Metric)}
		if v, ok := sampleValue(s.Value); ok {
			c.Count = uint64(math.Round(v))
			c.Tracked = true
		} else {
			p.Log.Debug("skipping unusable gc counter series", zap.String("series", c.ID))
		}
		out = append(out, c)
	}
	return out, nil
}

// RequestCollection implements Runtime. Failures are logged; the
// confirmation will then report that no collection was detected.
func (p *PrometheusRuntime) RequestCollection(ctx context.Context) {
	if p.PprofURL == "" {
		p.Log.Warn("no pprof url configured, cannot request a remote collection")
		return
	}
	target := strings.TrimRight(p.PprofURL, "/") + "/debug/pprof/heap?gc=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		p.Log.Warn("building pprof request failed", zap.Error(err))
		return
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	resp, err := p.client().Do(req)
	if err != nil {
		p.Log.Warn("remote collection request failed", zap.String("url", target), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		p.Log.Warn("remote collection request rejected",
			zap.String("url", target), zap.Int("status", resp.StatusCode))
	}
}

// RequestFinalization implements Runtime. Finalizers of a remote process
// cannot be driven from here.
func (p *PrometheusRuntime) RequestFinalization(context.Context) {}

// seriesID renders a label set as name{k="v",...} with sorted keys.
func seriesID(labels map[string]string) string {
	name := labels["__name__"]
	keys := make([]string, 0, len(labels))
	for k := range labels {
		if k != "__name__" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return name
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

// sampleValue parses the value of one instant sample. Values that do not
// fit a uint64 count (NaN, negative, infinite or >= 2^64) are rejected.
func sampleValue(v []interface{}) (float64, bool) {
	if len(v) != 2 {
		return 0, false
	}
	s, ok := v[1].(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f >= math.MaxUint64 {
		return 0, false
	}
	return f, true
}
