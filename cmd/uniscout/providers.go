package main

import (
	"fmt"
	"log/slog"

	"github.com/unicro/uniscout/internal/config"
	"github.com/unicro/uniscout/internal/radio"
	"github.com/unicro/uniscout/internal/radio/mdns"
	"github.com/unicro/uniscout/internal/radio/sim"
	"github.com/unicro/uniscout/internal/scan"
)

// newProviderFactory builds providers from the providers section: simulated
// radios for every technology, with Wi-Fi optionally browsing mDNS.
func newProviderFactory(cfg config.ProvidersConfig, logger *slog.Logger) (scan.ProviderFactory, error) {
	states := make(map[radio.Technology]sim.HardwareState, len(cfg.Hardware))
	for name, value := range cfg.Hardware {
		tech, err := radio.ParseTechnology(name)
		if err != nil {
			return nil, fmt.Errorf("providers.hardware: %w", err)
		}
		state, err := sim.ParseHardwareState(value)
		if err != nil {
			return nil, fmt.Errorf("providers.hardware.%s: %w", name, err)
		}
		states[tech] = state
	}

	return func(t radio.Technology) (radio.Provider, error) {
		if t == radio.WiFi && cfg.WiFi == "mdns" {
			return mdns.NewProvider(cfg.MDNSService, logger.With("technology", t)), nil
		}

		opts := []sim.Option{}
		if cfg.SimInterval > 0 {
			opts = append(opts, sim.WithInterval(cfg.SimInterval))
		}
		if state, ok := states[t]; ok {
			opts = append(opts, sim.WithHardwareState(state))
		}
		return sim.New(t, opts...), nil
	}, nil
}
