// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build !linux

// Package habana degrades to the uniform unsupported backend on platforms
// without runtime library loading support.
package habana

import (
	"log/slog"

	"github.com/NordicHPC/sonar/gpuapi"
)

func init() {
	gpuapi.Register(gpuapi.VendorHabana, func(logger *slog.Logger, opts gpuapi.Options) gpuapi.Backend {
		return gpuapi.Unsupported(gpuapi.VendorHabana)
	})
}
