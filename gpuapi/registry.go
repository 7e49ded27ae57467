// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

package gpuapi

import (
	"log/slog"
	"sort"
	"sync"
)

// Options carries per-backend construction settings.
type Options struct {
	// Library, when set, is an explicit shared-library path that takes
	// precedence over the backend's built-in candidate paths.
	Library string
}

// Factory is a function that creates a Backend for a specific vendor.
// Construction never performs I/O; the library load happens lazily on the
// first operation.
type Factory func(logger *slog.Logger, opts Options) Backend

var (
	registry   = make(map[Vendor]Factory)
	registryMu sync.RWMutex
)

// Register adds a backend factory for the given vendor. Vendor packages
// call this from their init functions.
func Register(vendor Vendor, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[vendor] = factory
}

// New builds the backend for a specific vendor, or an Unsupported backend
// if the vendor is not registered.
func New(vendor Vendor, logger *slog.Logger, opts Options) Backend {
	registryMu.RLock()
	factory, ok := registry[vendor]
	registryMu.RUnlock()

	if !ok {
		logger.Debug("GPU vendor not registered", "vendor", vendor)
		return Unsupported(vendor)
	}
	return factory(logger, opts)
}

// Available probes every registered vendor and returns backends that report
// at least one device. Vendors whose library is absent, fails to load, or
// has no devices are silently skipped.
//
// Returns an empty slice if no GPUs are found.
func Available(logger *slog.Logger) []Backend {
	var backends []Backend
	for _, vendor := range RegisteredVendors() {
		b := New(vendor, logger, Options{})
		count, err := b.DeviceCount()
		if err != nil {
			logger.Debug("GPU vendor unavailable", "vendor", vendor, "error", err)
			continue
		}
		if count == 0 {
			logger.Debug("GPU vendor has no devices", "vendor", vendor)
			continue
		}
		backends = append(backends, b)
	}
	return backends
}

// RegisteredVendors returns all registered GPU vendors in stable order.
func RegisteredVendors() []Vendor {
	registryMu.RLock()
	defer registryMu.RUnlock()

	vendors := make([]Vendor, 0, len(registry))
	for vendor := range registry {
		vendors = append(vendors, vendor)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i] < vendors[j] })
	return vendors
}

// ClearRegistry removes all registered vendors.
// This is primarily useful for testing.
func ClearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[Vendor]Factory)
}
