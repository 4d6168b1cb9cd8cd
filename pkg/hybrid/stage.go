package hybrid

import (
	"errors"
	"fmt"
)

// Stage is a state of the forecasting pipeline.
type Stage int

const (
	StageSeasonalFit Stage = iota
	StageResidualCompute
	StageFeatureBuild
	StageTrain
	StageRecombine
	StageDone
	StageNaiveFallback
	StageSeasonalOnlyFallback
)

var stageNames = map[Stage]string{
	StageSeasonalFit:          "seasonal_fit",
	StageResidualCompute:      "residual_compute",
	StageFeatureBuild:         "feature_build",
	StageTrain:                "train",
	StageRecombine:            "recombine",
	StageDone:                 "done",
	StageNaiveFallback:        "naive_fallback",
	StageSeasonalOnlyFallback: "seasonal_only_fallback",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage returns the stage with the given name.
func ParseStage(name string) (Stage, error) {
	for s, n := range stageNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// Fallback reports whether s is a degraded terminal stage.
func (s Stage) Fallback() bool {
	return s == StageNaiveFallback || s == StageSeasonalOnlyFallback
}

// ErrDatasetTooSmall is returned when the chronological split leaves no
// training or no validation samples.
var ErrDatasetTooSmall = errors.New("dataset too small for train/validation split")

// SeasonalFitError reports a failure to fit the seasonal model. The pipeline
// recovers from it with a naive forecast.
type SeasonalFitError struct {
	Err error
}

func (e *SeasonalFitError) Error() string { return "seasonal fit: " + e.Err.Error() }
func (e *SeasonalFitError) Unwrap() error { return e.Err }

// FeatureBuildError reports a failure to build training samples from the
// residuals. The pipeline recovers from it with the seasonal forecast alone.
type FeatureBuildError struct {
	Err error
}

func (e *FeatureBuildError) Error() string { return "feature build: " + e.Err.Error() }
func (e *FeatureBuildError) Unwrap() error { return e.Err }
