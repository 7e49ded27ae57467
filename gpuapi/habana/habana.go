// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

// Package habana implements the device contract on top of the Habana HLML
// library, loaded at runtime. The library exposes no per-process
// accounting, so a process probe yields an empty snapshot while keeping
// the full probe/free lifecycle.
package habana

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/NordicHPC/sonar/gpuapi"
)

func init() {
	gpuapi.Register(gpuapi.VendorHabana, func(logger *slog.Logger, opts gpuapi.Options) gpuapi.Backend {
		return newBackend(logger, newRealHlml(opts.Library))
	})
}

type habanaBackend struct {
	logger *slog.Logger
	hlml   hlmlLib

	mu       sync.Mutex
	loaded   bool
	loadErr  error
	devices  []hlmlDevice
	snapshot []gpuapi.GpuProcess

	// sysfsFirmware reads the firmware version from sysfs when the
	// library reports none. Swapped out in tests.
	sysfsFirmware func(index int) (string, bool)
}

func newBackend(logger *slog.Logger, hlml hlmlLib) *habanaBackend {
	return &habanaBackend{
		logger:        logger.With("backend", gpuapi.VendorHabana),
		hlml:          hlml,
		sysfsFirmware: sysfsFirmware,
	}
}

func (b *habanaBackend) Vendor() gpuapi.Vendor { return gpuapi.VendorHabana }

// ensure loads the library and builds the device handle table. A handle
// failure for any device fails the whole load; partial tables would make
// the dense index contract a lie.
func (b *habanaBackend) ensure() error {
	if b.loaded {
		return b.loadErr
	}
	b.loaded = true

	if err := b.hlml.Load(); err != nil {
		b.logger.Debug("HLML load failed", "error", err)
		b.loadErr = err
		return err
	}
	count, err := b.hlml.DeviceCount()
	if err != nil {
		b.logger.Debug("HLML device count failed", "error", err)
		b.loadErr = err
		return err
	}
	devices := make([]hlmlDevice, count)
	for i := uint32(0); i < count; i++ {
		dev, err := b.hlml.DeviceByIndex(i)
		if err != nil {
			b.logger.Debug("HLML device handle failed", "index", i, "error", err)
			b.loadErr = err
			return err
		}
		devices[i] = dev
	}
	b.devices = devices
	b.logger.Debug("HLML loaded", "devices", len(b.devices))
	return nil
}

func (b *habanaBackend) device(index int) (hlmlDevice, error) {
	if err := b.ensure(); err != nil {
		return 0, err
	}
	if index < 0 || index >= len(b.devices) {
		return 0, gpuapi.ErrDeviceNotFound{Index: index, Count: len(b.devices)}
	}
	return b.devices[index], nil
}

func (b *habanaBackend) DeviceCount() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensure(); err != nil {
		return 0, err
	}
	return len(b.devices), nil
}

func (b *habanaBackend) CardInfo(index int) (gpuapi.CardInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, err := b.device(index)
	if err != nil {
		return gpuapi.CardInfo{}, err
	}

	var info gpuapi.CardInfo
	if addr, ok := b.hlml.BusAddr(dev); ok {
		info.BusAddr = addr
	}
	if name, ok := b.hlml.Name(dev); ok {
		info.Model = name
	}
	if mhz, ok := b.hlml.MaxClock(dev, hlmlClockSOC); ok {
		info.MaxCEClockMHz = mhz
	}
	if mem, ok := b.hlml.MemoryInfo(dev); ok {
		info.TotalMemBytes = mem.Total
	}
	if uuid, ok := b.hlml.UUID(dev); ok {
		info.UUID = uuid
	}
	if v, ok := b.hlml.DriverVersion(); ok {
		info.Driver = v
	}
	fw, ok := b.hlml.FirmwareVersion(dev)
	if !ok || fw == "N/A" {
		// Some driver versions report the firmware only through sysfs.
		if v, sok := b.sysfsFirmware(index); sok {
			fw = v
		} else if !ok {
			fw = ""
		}
	}
	info.Firmware = fw
	if mw, ok := b.hlml.PowerLimit(dev); ok {
		info.MaxPowerLimitWatt = mw / 1000
	}
	return info, nil
}

func (b *habanaBackend) CardState(index int) (gpuapi.CardState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, err := b.device(index)
	if err != nil {
		return gpuapi.CardState{}, err
	}

	var state gpuapi.CardState
	if c, ok := b.hlml.Temperature(dev); ok {
		state.TempC = c
	}
	if mem, ok := b.hlml.MemoryInfo(dev); ok && mem.Total > 0 {
		state.MemUsedBytes = mem.Used
		state.MemUtilPct = float32(mem.Used * 100 / mem.Total)
	}
	if util, ok := b.hlml.AipUtilization(dev); ok {
		state.GPUUtilPct = float32(util)
	}
	if mhz, ok := b.hlml.Clock(dev, hlmlClockSOC); ok {
		state.CEClockMHz = mhz
	}
	if mw, ok := b.hlml.PowerUsage(dev); ok {
		state.PowerWatt = mw / 1000
	}
	if ps, ok := b.hlml.PerformanceState(dev); ok {
		if ps == hlmlPstateUnknown {
			state.PerfState = gpuapi.PerfStateUnknown
		} else {
			state.PerfState = int(ps)
		}
	}
	return state, nil
}

func (b *habanaBackend) ProbeProcesses(index int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.snapshot != nil {
		return 0, gpuapi.ErrSnapshotLive{}
	}
	if _, err := b.device(index); err != nil {
		return 0, err
	}
	b.snapshot = []gpuapi.GpuProcess{}
	return 0, nil
}

func (b *habanaBackend) Process(row int) (gpuapi.GpuProcess, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.snapshot == nil {
		return gpuapi.GpuProcess{}, gpuapi.ErrNoSnapshot{}
	}
	return gpuapi.GpuProcess{}, gpuapi.ErrRowNotFound{Row: row, Rows: len(b.snapshot)}
}

func (b *habanaBackend) FreeProcesses() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = nil
}

// sysfsFirmware reads the boot firmware version the accel driver publishes.
func sysfsFirmware(index int) (string, bool) {
	path := fmt.Sprintf("/sys/class/accel/accel%d/device/armcp_ver", index)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSuffix(string(data), "\n"), true
}
