// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build !linux

package xpu

import (
	"log/slog"

	"github.com/NordicHPC/sonar/gpuapi"
)

func init() {
	gpuapi.Register(gpuapi.VendorXPU, func(logger *slog.Logger, opts gpuapi.Options) gpuapi.Backend {
		return gpuapi.Unsupported(gpuapi.VendorXPU)
	})
}
