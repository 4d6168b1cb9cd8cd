package adapters

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/HatiCode/moodcast/pkg/series"
)

// New creates an adapter based on kind and generic configuration map.
// This is the central extension point for adding new adapter types.
//
// Supported kinds:
//   - "csv": CSV file adapter
//   - "prometheus": Prometheus adapter
//   - "victoriametrics": VictoriaMetrics adapter
//   - "http": Generic HTTP adapter
//
// Every kind accepts "name" (series name) and the remote kinds accept
// "lookbackDays". Returns error if kind is unknown or required fields are
// missing.
func New(kind string, config map[string]string) (Adapter, error) {
	switch kind {
	case "csv":
		return newCSV(config)
	case "prometheus":
		return newPrometheus(config)
	case "victoriametrics":
		return newVictoriaMetrics(config)
	case "http":
		return newHTTP(config)
	default:
		return nil, fmt.Errorf("unknown adapter kind: %s (must be csv, prometheus, victoriametrics, or http)", kind)
	}
}

func lookback(config map[string]string) (time.Duration, error) {
	raw := config["lookbackDays"]
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("invalid 'lookbackDays' %q: must be a positive integer", raw)
	}
	return time.Duration(days) * series.Day, nil
}

// newCSV creates a CSV adapter from generic config.
func newCSV(config map[string]string) (Adapter, error) {
	path := config["path"]
	if path == "" {
		return nil, fmt.Errorf("csv adapter requires 'path' config")
	}

	var comma rune
	if c := config["comma"]; c != "" {
		if utf8.RuneCountInString(c) != 1 {
			return nil, fmt.Errorf("invalid 'comma' %q: must be a single character", c)
		}
		comma, _ = utf8.DecodeRuneInString(c)
	}

	return &CSVAdapter{
		Path:        path,
		SeriesName:  config["name"],
		DateColumn:  config["dateColumn"],
		ValueColumn: config["valueColumn"],
		DateLayout:  config["dateLayout"],
		Comma:       comma,
	}, nil
}

// newPrometheus creates a Prometheus adapter from generic config.
func newPrometheus(config map[string]string) (Adapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("prometheus adapter requires 'query' config")
	}

	url := config["url"]
	if url == "" {
		url = "http://localhost:9090"
	}

	lb, err := lookback(config)
	if err != nil {
		return nil, err
	}

	return &PrometheusAdapter{
		ServerURL:  url,
		Query:      query,
		SeriesName: config["name"],
		Lookback:   lb,
	}, nil
}

// newVictoriaMetrics creates a VictoriaMetrics adapter from generic config.
func newVictoriaMetrics(config map[string]string) (Adapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("victoriametrics adapter requires 'query' config")
	}

	url := config["url"]
	if url == "" {
		url = "http://localhost:8428"
	}

	lb, err := lookback(config)
	if err != nil {
		return nil, err
	}

	return &VictoriaMetricsAdapter{
		ServerURL:  url,
		Query:      query,
		SeriesName: config["name"],
		Lookback:   lb,
	}, nil
}

// newHTTP creates a generic HTTP adapter from generic config.
func newHTTP(config map[string]string) (Adapter, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http adapter requires 'url' config")
	}

	valuePath := config["valuePath"]
	timestampPath := config["timestampPath"]
	if valuePath == "" || timestampPath == "" {
		return nil, fmt.Errorf("http adapter requires 'valuePath' and 'timestampPath' config")
	}

	method := config["method"]
	if method == "" {
		method = "GET"
	}

	timestampFormat := config["timestampFormat"]
	if timestampFormat == "" {
		timestampFormat = "rfc3339"
	}

	var headers map[string]string
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}

	var templateVars map[string]string
	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &templateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	lb, err := lookback(config)
	if err != nil {
		return nil, err
	}

	adapter := &HTTPAdapter{
		URL:             url,
		Method:          method,
		Headers:         headers,
		Body:            config["body"],
		ValuePath:       valuePath,
		TimestampPath:   timestampPath,
		TimestampFormat: timestampFormat,
		SeriesName:      config["name"],
		Lookback:        lb,
		TemplateVars:    templateVars,
	}
	if err := adapter.ValidateConfig(); err != nil {
		return nil, err
	}
	return adapter, nil
}
