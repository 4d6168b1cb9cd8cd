// Package storage keeps the latest forecast snapshot per series so that the
// HTTP surface can serve it between pipeline runs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HatiCode/moodcast/pkg/accuracy"
)

// ErrSeriesRequired is returned when a snapshot or lookup has no series name.
var ErrSeriesRequired = errors.New("series name required")

// HistoryPoint is one in-sample day.
type HistoryPoint struct {
	Date     time.Time `json:"date"`
	Actual   float64   `json:"actual"`
	Seasonal float64   `json:"seasonal"`
	Hybrid   float64   `json:"hybrid"`
}

// ForecastPoint is one forecast day.
type ForecastPoint struct {
	Date     time.Time `json:"date"`
	Forecast float64   `json:"forecast"`
	Seasonal float64   `json:"seasonal"`
}

// Snapshot is the stored outcome of one pipeline run.
type Snapshot struct {
	Series      string    `json:"series"`
	GeneratedAt time.Time `json:"generated_at"`
	// Stage is the terminal pipeline stage, e.g. "done" or "naive_fallback".
	Stage string `json:"stage"`
	// Cause describes the recovered failure behind a fallback.
	Cause string `json:"cause,omitempty"`
	Order string `json:"order,omitempty"`

	History     []HistoryPoint  `json:"history,omitempty"`
	Future      []ForecastPoint `json:"future"`
	TrainLosses []float64       `json:"train_losses,omitempty"`
	ValLosses   []float64       `json:"val_losses,omitempty"`
	BestEpoch   int             `json:"best_epoch"`

	// Accuracy is nil when no history was produced or its measures are undefined.
	Accuracy *accuracy.Comparison `json:"accuracy,omitempty"`
}

type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, series string) (Snapshot, bool, error)
}

// validName restricts series names to characters safe in keys and URLs.
func validName(name string) error {
	if name == "" {
		return ErrSeriesRequired
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid series name %q: only alphanumeric, hyphens, and underscores allowed", name)
		}
	}
	return nil
}
