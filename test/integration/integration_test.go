//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/HatiCode/moodcast/cmd/forecaster/router"
	"github.com/HatiCode/moodcast/pkg/accuracy"
	"github.com/HatiCode/moodcast/pkg/adapters"
	"github.com/HatiCode/moodcast/pkg/hybrid"
	"github.com/HatiCode/moodcast/pkg/nn"
	"github.com/HatiCode/moodcast/pkg/series"
	"github.com/HatiCode/moodcast/pkg/storage"
	"github.com/HatiCode/moodcast/pkg/train"
)

const days = 60

// promServer mimics the Prometheus range query API with one daily sample per
// day ending today.
func promServer(t *testing.T, value func(i int) float64) *httptest.Server {
	t.Helper()
	today := series.Truncate(time.Now())
	var samples []string
	for i := range days {
		ts := today.AddDate(0, 0, i-days+1).Unix()
		samples = append(samples, fmt.Sprintf(`[%d,"%g"]`, ts, value(i)))
	}
	body := `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{},"values":[` +
		strings.Join(samples, ",") + `]}]}}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query_range" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startRedis(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start redis: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get redis endpoint: %v", err)
	}
	return endpoint
}

// TestForecastPipelineE2E collects two series from a Prometheus-compatible
// API, runs the hybrid pipeline, stores the snapshot in a real Redis and
// reads it back through the HTTP API.
func TestForecastPipelineE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mood := promServer(t, func(i int) float64 {
		return math.Round(6 + 2*math.Sin(2*math.Pi*float64(i)/7))
	})
	temp := promServer(t, func(i int) float64 {
		return 15 + 5*math.Cos(2*math.Pi*float64(i)/30)
	})

	lookback := (days - 1) * series.Day
	target, err := (&adapters.PrometheusAdapter{ServerURL: mood.URL, Query: "mood", SeriesName: "mood", Lookback: lookback}).Collect(ctx)
	if err != nil {
		t.Fatalf("collect target: %v", err)
	}
	exog, err := (&adapters.VictoriaMetricsAdapter{ServerURL: temp.URL, Query: "temp", SeriesName: "temperature", Lookback: lookback}).Collect(ctx)
	if err != nil {
		t.Fatalf("collect exog: %v", err)
	}
	if target.Len() != days || exog.Len() != days {
		t.Fatalf("collected %d/%d days, want %d", target.Len(), exog.Len(), days)
	}

	tc := train.DefaultConfig()
	tc.Epochs = 10
	tc.Workers = 2
	res, err := hybrid.GenerateForecast(ctx, target, map[string]series.Series{"temperature": exog}, 7,
		hybrid.WithLogger(logger),
		hybrid.WithNetwork(nn.Config{Input: 1, Hidden: 8, Heads: 2, Dropout: 0.2, Momentum: 0.1, Eps: 1e-5}),
		hybrid.WithTrainConfig(tc),
	)
	if err != nil {
		t.Fatalf("GenerateForecast() error = %v", err)
	}
	if len(res.Future) != 7 {
		t.Fatalf("len(Future) = %d, want 7", len(res.Future))
	}
	t.Logf("✓ Pipeline finished in stage %s with order %s", res.Stage, res.SeasonalOrder)

	snap := storage.Snapshot{
		Series:      "mood",
		GeneratedAt: time.Now().UTC(),
		Stage:       res.Stage.String(),
		Order:       res.SeasonalOrder,
		BestEpoch:   res.BestEpoch,
		TrainLosses: res.TrainLosses,
		ValLosses:   res.ValLosses,
	}
	for _, row := range res.Future {
		snap.Future = append(snap.Future, storage.ForecastPoint{Date: row.Date, Forecast: row.Forecast, Seasonal: row.SeasonalForecast})
	}
	if cmp, err := accuracy.Compare(res.History); err == nil && cmp.Finite() {
		snap.Accuracy = &cmp
	}

	store, err := storage.NewRedisStore(startRedis(t, ctx), "", 0, time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Put(ctx, snap); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	t.Log("✓ Snapshot stored in redis")

	api := httptest.NewServer(router.SetupRoutes(store, 48*time.Hour, nil, logger))
	defer api.Close()

	resp, err := http.Get(api.URL + "/forecast/current?series=mood")
	if err != nil {
		t.Fatalf("GET /forecast/current: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var got storage.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.Stage != snap.Stage || len(got.Future) != 7 {
		t.Errorf("got stage %q with %d forecast days", got.Stage, len(got.Future))
	}
	wantFirst := target.Dates[target.Len()-1].AddDate(0, 0, 1)
	if !got.Future[0].Date.Equal(wantFirst) {
		t.Errorf("first forecast date = %v, want %v", got.Future[0].Date, wantFirst)
	}
	t.Logf("✓ Next-day forecast %.1f served over HTTP", got.Future[0].Forecast)
}
