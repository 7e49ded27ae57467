// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

package gpuapi

import (
	"log/slog"

	"github.com/NordicHPC/sonar/internal/config"
)

// FromConfig builds one backend per real vendor from the configuration.
// Disabled vendors degrade to the Unsupported backend so callers can still
// iterate over the full vendor set unconditionally. Vendor packages must be
// imported (possibly blank) so their factories are registered.
func FromConfig(cfg *config.Config, logger *slog.Logger) []Backend {
	if logger == nil {
		logger = slog.Default()
	}

	sections := []struct {
		vendor  Vendor
		section config.VendorGPU
	}{
		{VendorNVIDIA, cfg.GPU.NVIDIA},
		{VendorAMD, cfg.GPU.AMD},
		{VendorHabana, cfg.GPU.Habana},
		{VendorXPU, cfg.GPU.XPU},
	}

	backends := make([]Backend, 0, len(sections))
	for _, s := range sections {
		if !s.section.Enabled {
			logger.Debug("GPU vendor disabled by configuration", "vendor", s.vendor)
			backends = append(backends, Unsupported(s.vendor))
			continue
		}
		backends = append(backends, New(s.vendor, logger, Options{Library: s.section.Library}))
	}
	return backends
}
