package main

import (
	"fmt"

	"github.com/HatiCode/moodcast/cmd/forecaster/config"
	"github.com/HatiCode/moodcast/pkg/adapters"
)

// buildAdapters creates the target adapter and, when configured, the
// exogenous one. exog is nil without -exog-adapter.
func buildAdapters(cfg *config.Config) (target, exog adapters.Adapter, err error) {
	target, err = adapters.New(cfg.Adapter, cfg.TargetConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("target adapter: %w", err)
	}
	if cfg.ExogAdapter == "" {
		return target, nil, nil
	}
	exog, err = adapters.New(cfg.ExogAdapter, cfg.ExogAdapterConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("exog adapter: %w", err)
	}
	return target, exog, nil
}
