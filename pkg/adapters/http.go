package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/HatiCode/moodcast/pkg/series"
	"github.com/tidwall/gjson"
)

// HTTPAdapter is a generic HTTP adapter that can call any REST API endpoint
// and extract a daily series using JSON path expressions.
//
// It supports:
//   - Configurable HTTP method (GET, POST, etc.)
//   - Template-based request body with variables: {{.WindowSeconds}}, {{.Start}}, {{.End}}, {{.Step}}
//   - Custom headers including authentication (Bearer tokens, API keys, etc.)
//   - JSON path extraction for timestamps and values using gjson syntax
//   - Flexible timestamp parsing (dates, RFC3339, Unix seconds, Unix milliseconds)
//
// Example configuration for a journaling API:
//
//	adapter := &HTTPAdapter{
//	    URL: "https://api.example.com/journal",
//	    Method: "POST",
//	    Headers: map[string]string{
//	        "Authorization": "Bearer {{.Token}}",
//	        "Content-Type": "application/json",
//	    },
//	    Body: `{"from": "{{.StartDate}}", "to": "{{.EndDate}}"}`,
//	    ValuePath: "entries.#.score",
//	    TimestampPath: "entries.#.day",
//	    TimestampFormat: "date",
//	}
type HTTPAdapter struct {
	// URL is the endpoint to call (required)
	URL string

	// Method is the HTTP method (GET, POST, etc.). Defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers to include in the request.
	// Values can use template variables like {{.Token}}.
	Headers map[string]string

	// Body is the request body template (for POST/PUT). Supports variables:
	//   {{.WindowSeconds}} - the lookback in seconds
	//   {{.Start}}         - start time as Unix timestamp
	//   {{.End}}           - end time as Unix timestamp
	//   {{.Step}}          - step size in seconds (always one day)
	//   {{.StartRFC3339}}  - start time as RFC3339 string
	//   {{.EndRFC3339}}    - end time as RFC3339 string
	//   {{.StartDate}}     - start day as 2006-01-02
	//   {{.EndDate}}       - end day as 2006-01-02
	Body string

	// ValuePath is the gjson path to extract values from the response.
	// Use "#" for arrays, e.g. "data.#.value" extracts all values from data array.
	ValuePath string

	// TimestampPath is the gjson path to extract timestamps from the response.
	// Must return the same number of elements as ValuePath.
	TimestampPath string

	// TimestampFormat specifies how to parse timestamps:
	//   "rfc3339"    - RFC3339 strings (default)
	//   "date"       - 2006-01-02 strings
	//   "unix"       - Unix seconds (float or int)
	//   "unix_milli" - Unix milliseconds (float or int)
	TimestampFormat string

	// SeriesName names the resulting series. Defaults to "http".
	SeriesName string

	// Lookback is the history to request (defaults to DefaultLookback if <= 0).
	Lookback time.Duration

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in Body and Headers templates.
	// Use this to pass tokens, API keys, etc.
	TemplateVars map[string]string
}

func (h *HTTPAdapter) Name() string { return "http" }

// Collect implements Adapter. It calls the configured HTTP endpoint and extracts
// the series using the configured JSON paths. Two observations on the same day
// are an error.
func (h *HTTPAdapter) Collect(ctx context.Context) (series.Series, error) {
	if err := h.ValidateConfig(); err != nil {
		return series.Series{}, fmt.Errorf("http adapter: %w", err)
	}

	lookback := h.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	now := time.Now().UTC().Truncate(time.Second)
	start := series.Truncate(now.Add(-lookback))

	templateData := map[string]any{
		"WindowSeconds": int64(lookback / time.Second),
		"Start":         start.Unix(),
		"End":           now.Unix(),
		"Step":          int64(series.Day / time.Second),
		"StartRFC3339":  start.Format(time.RFC3339),
		"EndRFC3339":    now.Format(time.RFC3339),
		"StartDate":     start.Format(time.DateOnly),
		"EndDate":       now.Format(time.DateOnly),
	}

	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		renderedBody, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return series.Series{}, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(renderedBody)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return series.Series{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return series.Series{}, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return series.Series{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return series.Series{}, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return series.Series{}, fmt.Errorf("read response: %w", err)
	}

	values := gjson.GetBytes(respBody, h.ValuePath)
	timestamps := gjson.GetBytes(respBody, h.TimestampPath)

	if !values.Exists() {
		return series.Series{}, fmt.Errorf("value path %q not found in response", h.ValuePath)
	}
	if !timestamps.Exists() {
		return series.Series{}, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
	}

	valArray := values.Array()
	tsArray := timestamps.Array()

	if len(valArray) != len(tsArray) {
		return series.Series{}, fmt.Errorf("value count (%d) != timestamp count (%d)", len(valArray), len(tsArray))
	}

	pts := make([]point, 0, len(valArray))
	for i := range valArray {
		if valArray[i].Type == gjson.Null {
			continue
		}
		ts, err := h.parseTimestamp(tsArray[i])
		if err != nil {
			return series.Series{}, fmt.Errorf("parse timestamp[%d]: %w", i, err)
		}
		pts = append(pts, point{ts: ts, value: valArray[i].Float()})
	}

	name := h.SeriesName
	if name == "" {
		name = "http"
	}
	return toDaily(name, pts, false)
}

// parseTimestamp parses a timestamp according to the configured format
func (h *HTTPAdapter) parseTimestamp(value gjson.Result) (time.Time, error) {
	format := h.TimestampFormat
	if format == "" {
		format = "rfc3339"
	}

	switch format {
	case "rfc3339":
		return time.Parse(time.RFC3339, value.String())

	case "date":
		return time.Parse(time.DateOnly, value.String())

	case "unix":
		// Unix seconds (supports both int and float)
		sec := value.Float()
		return time.Unix(int64(sec), 0).UTC(), nil

	case "unix_milli":
		ms := value.Float()
		return time.UnixMilli(int64(ms)).UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", format)
	}
}

// renderTemplate renders a text template with the given data
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ParseHTTPAdapterConfig creates an HTTPAdapter from a generic config map.
// This is useful for dynamic configuration from YAML/JSON.
//
// Example config:
//
//	{
//	  "url": "https://api.example.com/metrics",
//	  "method": "POST",
//	  "headers": {"Authorization": "Bearer token123"},
//	  "body": "{\"window\": \"{{.WindowSeconds}}s\"}",
//	  "valuePath": "data.#.value",
//	  "timestampPath": "data.#.ts",
//	  "timestampFormat": "rfc3339",
//	  "lookbackDays": 365
//	}
func ParseHTTPAdapterConfig(config map[string]any) (*HTTPAdapter, error) {
	adapter := &HTTPAdapter{
		TemplateVars: make(map[string]string),
	}

	if v, ok := config["url"].(string); ok {
		adapter.URL = v
	}
	if v, ok := config["method"].(string); ok {
		adapter.Method = v
	}
	if v, ok := config["body"].(string); ok {
		adapter.Body = v
	}
	if v, ok := config["valuePath"].(string); ok {
		adapter.ValuePath = v
	}
	if v, ok := config["timestampPath"].(string); ok {
		adapter.TimestampPath = v
	}
	if v, ok := config["timestampFormat"].(string); ok {
		adapter.TimestampFormat = v
	}
	if v, ok := config["seriesName"].(string); ok {
		adapter.SeriesName = v
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		adapter.Headers = make(map[string]string)
		for k, v := range headers {
			if str, ok := v.(string); ok {
				adapter.Headers[k] = str
			}
		}
	}

	if v, ok := config["lookbackDays"]; ok {
		var days int
		switch val := v.(type) {
		case int:
			days = val
		case float64:
			days = int(val)
		case string:
			d, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("invalid lookbackDays: %w", err)
			}
			days = d
		default:
			return nil, fmt.Errorf("invalid lookbackDays type %T", v)
		}
		adapter.Lookback = time.Duration(days) * series.Day
	}

	if vars, ok := config["templateVars"].(map[string]any); ok {
		for k, v := range vars {
			if str, ok := v.(string); ok {
				adapter.TemplateVars[k] = str
			}
		}
	}

	return adapter, nil
}

// MustParseHTTPAdapterConfig is like ParseHTTPAdapterConfig but panics on error.
// Useful for static configurations where errors indicate programmer bugs.
func MustParseHTTPAdapterConfig(config map[string]any) *HTTPAdapter {
	adapter, err := ParseHTTPAdapterConfig(config)
	if err != nil {
		panic(fmt.Sprintf("parse http adapter config: %v", err))
	}
	return adapter
}

// ValidateConfig checks if the adapter configuration is valid
func (h *HTTPAdapter) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ValuePath == "" {
		return errors.New("valuePath is required")
	}
	if h.TimestampPath == "" {
		return errors.New("timestampPath is required")
	}

	validFormats := map[string]bool{
		"":           true,
		"rfc3339":    true,
		"date":       true,
		"unix":       true,
		"unix_milli": true,
	}
	if !validFormats[h.TimestampFormat] {
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, date, unix, or unix_milli)", h.TimestampFormat)
	}

	return nil
}
