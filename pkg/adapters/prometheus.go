package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/HatiCode/moodcast/pkg/series"
)

// DefaultLookback is the history requested from remote sources when none is
// configured.
const DefaultLookback = 365 * 24 * time.Hour

// PrometheusAdapter fetches a daily series from the Prometheus HTTP API. It
// issues a /api/v1/query_range call at a one-day step, starting at midnight
// UTC Lookback ago.
//
// If multiple series are returned, values with the same timestamp are SUMMED.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate.
	Query string
	// SeriesName names the resulting series. Defaults to "prometheus".
	SeriesName string
	// Lookback is the history to request (defaults to DefaultLookback if <= 0).
	Lookback time.Duration
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Collect implements Adapter.
func (p *PrometheusAdapter) Collect(ctx context.Context) (series.Series, error) {
	if p.ServerURL == "" || p.Query == "" {
		return series.Series{}, errors.New("prometheus adapter: ServerURL and Query are required")
	}
	name := p.SeriesName
	if name == "" {
		name = "prometheus"
	}
	pts, err := queryRange(ctx, p.HTTPClient, p.ServerURL, p.Query, p.Lookback, "prometheus")
	if err != nil {
		return series.Series{}, err
	}
	return toDaily(name, pts, true)
}

// queryRange runs a Prometheus-compatible range query at a one-day step and
// returns every sample of every result series.
func queryRange(ctx context.Context, cli *http.Client, serverURL, query string, lookback time.Duration, system string) ([]point, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	now := time.Now().UTC().Truncate(time.Second)
	start := series.Truncate(now.Add(-lookback))

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query_range"

	q := u.Query()
	q.Set("query", query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(now.Unix(), 10))
	q.Set("step", strconv.Itoa(int(series.Day/time.Second)))
	u.RawQuery = q.Encode()

	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", system, resp.StatusCode)
	}

	var pr PrometheusRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", system, err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("%s status: %s", system, pr.Status)
	}

	return AggregateRangeResult(pr.Data.Result)
}

// PrometheusRangeResponse represents the response from Prometheus (and compatible systems).
type PrometheusRangeResponse struct {
	Status string              `json:"status"`
	Data   PrometheusRangeData `json:"data"`
}

// PrometheusRangeData contains the result data from a range query.
type PrometheusRangeData struct {
	ResultType string                 `json:"resultType"`
	Result     []PrometheusRangeSerie `json:"result"`
}

// PrometheusRangeSerie represents a single time series in the result.
type PrometheusRangeSerie struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

// AggregateRangeResult flattens multiple series into points, summing values
// at the same timestamp.
func AggregateRangeResult(result []PrometheusRangeSerie) ([]point, error) {
	acc := make(map[int64]float64)
	for _, s := range result {
		for _, pair := range s.Values {
			if len(pair) != 2 {
				return nil, fmt.Errorf("invalid value pair length: %d", len(pair))
			}

			var tsSec int64
			switch v := pair[0].(type) {
			case float64:
				tsSec = int64(v)
			case json.Number:
				f, _ := v.Float64()
				tsSec = int64(f)
			default:
				return nil, fmt.Errorf("unexpected timestamp type %T", v)
			}

			var val float64
			switch vv := pair[1].(type) {
			case string:
				f, err := strconv.ParseFloat(vv, 64)
				if err != nil {
					return nil, fmt.Errorf("parse value: %w", err)
				}
				val = f
			case float64:
				val = vv
			case json.Number:
				f, _ := vv.Float64()
				val = f
			default:
				return nil, fmt.Errorf("unexpected value type %T", vv)
			}
			acc[tsSec] += val
		}
	}

	pts := make([]point, 0, len(acc))
	for ts, v := range acc {
		pts = append(pts, point{ts: time.Unix(ts, 0).UTC(), value: v})
	}
	return pts, nil
}
