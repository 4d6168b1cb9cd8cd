package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/moodcast/pkg/features"
	"github.com/HatiCode/moodcast/pkg/hybrid"
	"github.com/HatiCode/moodcast/pkg/models"
	"github.com/HatiCode/moodcast/pkg/nn"
	"github.com/HatiCode/moodcast/pkg/train"
)

// Pipeline holds the hyperparameters of the hybrid forecaster as they appear
// in the YAML config file:
//
//	trainFraction: 0.8
//	search:
//	  maxP: 3
//	  seasonalPeriod: 7
//	features:
//	  seqLen: 14
//	  exogLags: [1, 3, 7, 14]
//	network:
//	  hidden: 64
//	train:
//	  epochs: 100
//	  learningRate: 0.001
//
// Fields missing from the file keep their defaults.
type Pipeline struct {
	TrainFraction float64         `yaml:"trainFraction"`
	Search        SearchSection   `yaml:"search"`
	Features      FeaturesSection `yaml:"features"`
	Network       NetworkSection  `yaml:"network"`
	Train         TrainSection    `yaml:"train"`

	// Seed is set from -seed, never from the file.
	Seed uint64 `yaml:"-"`
}

// SearchSection bounds the stepwise seasonal order search.
type SearchSection struct {
	MaxP           int    `yaml:"maxP"`
	MaxD           int    `yaml:"maxD"`
	MaxQ           int    `yaml:"maxQ"`
	MaxSP          int    `yaml:"maxSeasonalP"`
	MaxSD          int    `yaml:"maxSeasonalD"`
	MaxSQ          int    `yaml:"maxSeasonalQ"`
	SeasonalPeriod int    `yaml:"seasonalPeriod"`
	Criterion      string `yaml:"criterion"`
}

// FeaturesSection configures residual feature engineering and windowing.
type FeaturesSection struct {
	SeqLen         int     `yaml:"seqLen"`
	ExogLags       []int   `yaml:"exogLags"`
	RollingWindows []int   `yaml:"rollingWindows"`
	CorrThreshold  float64 `yaml:"corrThreshold"`
}

// NetworkSection sizes the LSTM attention network.
type NetworkSection struct {
	Hidden   int     `yaml:"hidden"`
	Heads    int     `yaml:"heads"`
	Dropout  float64 `yaml:"dropout"`
	Momentum float64 `yaml:"momentum"`
	Eps      float64 `yaml:"eps"`
}

// TrainSection holds optimiser, scheduler and early stopping settings.
type TrainSection struct {
	Epochs            int     `yaml:"epochs"`
	BatchSize         int     `yaml:"batchSize"`
	LearningRate      float64 `yaml:"learningRate"`
	Beta1             float64 `yaml:"beta1"`
	Beta2             float64 `yaml:"beta2"`
	AdamEps           float64 `yaml:"adamEps"`
	PlateauPatience   int     `yaml:"plateauPatience"`
	PlateauFactor     float64 `yaml:"plateauFactor"`
	PlateauThreshold  float64 `yaml:"plateauThreshold"`
	MinLR             float64 `yaml:"minLR"`
	EarlyStopPatience int     `yaml:"earlyStopPatience"`
	Device            string  `yaml:"device"`

	// Workers is set from -workers.
	Workers int `yaml:"-"`
}

// DefaultPipeline mirrors the library defaults.
func DefaultPipeline() Pipeline {
	s := models.DefaultSearchConfig()
	f := features.DefaultConfig()
	n := nn.DefaultConfig(1)
	t := train.DefaultConfig()

	return Pipeline{
		TrainFraction: 0.8,
		Search: SearchSection{
			MaxP: s.MaxP, MaxD: s.MaxD, MaxQ: s.MaxQ,
			MaxSP: s.MaxSP, MaxSD: s.MaxSD, MaxSQ: s.MaxSQ,
			SeasonalPeriod: s.M,
			Criterion:      s.Criterion,
		},
		Features: FeaturesSection{
			SeqLen:         f.SeqLen,
			ExogLags:       f.ExogLags,
			RollingWindows: f.RollingWindows,
			CorrThreshold:  f.CorrThreshold,
		},
		Network: NetworkSection{
			Hidden:   n.Hidden,
			Heads:    n.Heads,
			Dropout:  n.Dropout,
			Momentum: n.Momentum,
			Eps:      n.Eps,
		},
		Train: TrainSection{
			Epochs:            t.Epochs,
			BatchSize:         t.BatchSize,
			LearningRate:      t.LearningRate,
			Beta1:             t.Beta1,
			Beta2:             t.Beta2,
			AdamEps:           t.AdamEps,
			PlateauPatience:   t.PlateauPatience,
			PlateauFactor:     t.PlateauFactor,
			PlateauThreshold:  t.PlateauThreshold,
			MinLR:             t.MinLR,
			EarlyStopPatience: t.EarlyStopPatience,
			Device:            t.Device,
			Workers:           t.Workers,
		},
		Seed: 42,
	}
}

// LoadPipeline reads a YAML pipeline file on top of the defaults.
func LoadPipeline(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config file: %w", err)
	}
	p, err := ParsePipeline(data)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return p, nil
}

// ParsePipeline decodes YAML on top of the defaults. Unknown keys are
// rejected. An empty document yields the defaults.
func ParsePipeline(data []byte) (Pipeline, error) {
	p := DefaultPipeline()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Pipeline{}, fmt.Errorf("parse yaml: %w", err)
	}
	return p, nil
}

// SearchConfig returns the order search settings.
func (p Pipeline) SearchConfig() models.SearchConfig {
	return models.SearchConfig{
		MaxP: p.Search.MaxP, MaxD: p.Search.MaxD, MaxQ: p.Search.MaxQ,
		MaxSP: p.Search.MaxSP, MaxSD: p.Search.MaxSD, MaxSQ: p.Search.MaxSQ,
		M:         p.Search.SeasonalPeriod,
		Criterion: p.Search.Criterion,
	}
}

// FeatureConfig returns a copy of the feature builder settings.
func (p Pipeline) FeatureConfig() features.Config {
	return features.Config{
		SeqLen:         p.Features.SeqLen,
		ExogLags:       append([]int(nil), p.Features.ExogLags...),
		RollingWindows: append([]int(nil), p.Features.RollingWindows...),
		CorrThreshold:  p.Features.CorrThreshold,
	}
}

// NetworkConfig returns the architecture. The input width is filled in by
// the pipeline from the feature matrix.
func (p Pipeline) NetworkConfig() nn.Config {
	return nn.Config{
		Input:    1,
		Hidden:   p.Network.Hidden,
		Heads:    p.Network.Heads,
		Dropout:  p.Network.Dropout,
		Momentum: p.Network.Momentum,
		Eps:      p.Network.Eps,
	}
}

// TrainConfig returns the trainer settings, including -workers.
func (p Pipeline) TrainConfig() train.Config {
	return train.Config{
		Epochs:            p.Train.Epochs,
		BatchSize:         p.Train.BatchSize,
		LearningRate:      p.Train.LearningRate,
		Beta1:             p.Train.Beta1,
		Beta2:             p.Train.Beta2,
		AdamEps:           p.Train.AdamEps,
		PlateauPatience:   p.Train.PlateauPatience,
		PlateauFactor:     p.Train.PlateauFactor,
		PlateauThreshold:  p.Train.PlateauThreshold,
		MinLR:             p.Train.MinLR,
		EarlyStopPatience: p.Train.EarlyStopPatience,
		Device:            p.Train.Device,
		Workers:           p.Train.Workers,
	}
}

// Options converts the pipeline settings into hybrid forecaster options.
func (p Pipeline) Options(logger *slog.Logger) []hybrid.Option {
	return []hybrid.Option{
		hybrid.WithSeed(p.Seed),
		hybrid.WithLogger(logger),
		hybrid.WithSearchConfig(p.SearchConfig()),
		hybrid.WithFeatureConfig(p.FeatureConfig()),
		hybrid.WithNetwork(p.NetworkConfig()),
		hybrid.WithTrainConfig(p.TrainConfig()),
		hybrid.WithTrainFraction(p.TrainFraction),
	}
}
