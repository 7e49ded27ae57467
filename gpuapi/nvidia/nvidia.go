// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

// Package nvidia implements the device and process contract on top of the
// NVML management library, loaded at runtime. NVML entry points come in
// several revisions; the highest one present is selected once at load time.
package nvidia

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NordicHPC/sonar/gpuapi"
)

func init() {
	gpuapi.Register(gpuapi.VendorNVIDIA, func(logger *slog.Logger, opts gpuapi.Options) gpuapi.Backend {
		return newBackend(logger, newRealNvml(opts.Library))
	})
}

// probeWindow bounds the process-utilization query to a short trailing
// window. The caller is a sampler; old samples would only skew the figures.
const probeWindow = 5 * time.Second

// archNames maps the NVML architecture enum to generation names. The
// numbering follows the CUDA 12.3.0 headers.
var archNames = []string{
	"(unknown)",
	"(unknown)",
	"Kepler",
	"Maxwell",
	"Pascal",
	"Volta",
	"Turing",
	"Ampere",
	"Ada",
	"Hopper",
	"Blackwell",
}

type nvidiaBackend struct {
	logger *slog.Logger
	nvml   nvmlLib

	mu       sync.Mutex
	loaded   bool
	loadErr  error
	count    int
	snapshot []gpuapi.GpuProcess

	now func() time.Time
}

func newBackend(logger *slog.Logger, nvml nvmlLib) *nvidiaBackend {
	return &nvidiaBackend{
		logger: logger.With("backend", gpuapi.VendorNVIDIA),
		nvml:   nvml,
		now:    time.Now,
	}
}

func (b *nvidiaBackend) Vendor() gpuapi.Vendor { return gpuapi.VendorNVIDIA }

// ensure performs the one-shot lazy load: open the library, resolve
// symbols, init, read the device count. Success and failure are both
// cached for the process lifetime. Callers hold b.mu.
func (b *nvidiaBackend) ensure() error {
	if b.loaded {
		return b.loadErr
	}
	b.loaded = true

	if err := b.nvml.Load(); err != nil {
		b.logger.Debug("NVML load failed", "error", err)
		b.loadErr = err
		return err
	}
	count, err := b.nvml.DeviceCount()
	if err != nil {
		b.logger.Debug("NVML device count failed", "error", err)
		b.loadErr = err
		return err
	}
	b.count = int(count)
	b.logger.Debug("NVML loaded", "devices", b.count)
	return nil
}

func (b *nvidiaBackend) device(index int) (nvmlDevice, error) {
	if err := b.ensure(); err != nil {
		return 0, err
	}
	if index < 0 || index >= b.count {
		return 0, gpuapi.ErrDeviceNotFound{Index: index, Count: b.count}
	}
	return b.nvml.DeviceByIndex(uint32(index))
}

func (b *nvidiaBackend) DeviceCount() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensure(); err != nil {
		return 0, err
	}
	return b.count, nil
}

func (b *nvidiaBackend) CardInfo(index int) (gpuapi.CardInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, err := b.device(index)
	if err != nil {
		return gpuapi.CardInfo{}, err
	}

	var info gpuapi.CardInfo
	if v, ok := b.nvml.Name(dev); ok {
		info.Model = v
	}
	if v, ok := b.nvml.UUID(dev); ok {
		info.UUID = v
	}
	if v, ok := b.nvml.DriverVersion(); ok {
		info.Driver = v
	}
	if cuda, ok := b.nvml.CudaDriverVersion(); ok {
		info.Firmware = fmt.Sprintf("%d.%d", cuda/1000, (cuda%1000)/10)
	}
	if arch, ok := b.nvml.Architecture(dev); ok {
		name := "(unknown)"
		if int(arch) < len(archNames) {
			name = archNames[arch]
		}
		info.Architecture = name
	}
	if mem, ok := b.nvml.MemoryInfo(dev); ok {
		info.TotalMemBytes = mem.Total
	}
	if minMilliW, maxMilliW, ok := b.nvml.PowerLimitConstraints(dev); ok {
		info.MinPowerLimitWatt = minMilliW / 1000
		info.MaxPowerLimitWatt = maxMilliW / 1000
	}
	if mw, ok := b.nvml.PowerLimit(dev); ok {
		info.PowerLimitWatt = mw / 1000
	}
	if mhz, ok := b.nvml.MaxClock(dev, nvmlClockSM); ok {
		info.MaxCEClockMHz = mhz
	}
	if mhz, ok := b.nvml.MaxClock(dev, nvmlClockMem); ok {
		info.MaxMemClockMHz = mhz
	}
	if addr, ok := b.nvml.BusAddr(dev); ok {
		info.BusAddr = addr
	}
	return info, nil
}

func (b *nvidiaBackend) CardState(index int) (gpuapi.CardState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, err := b.device(index)
	if err != nil {
		return gpuapi.CardState{}, err
	}

	var state gpuapi.CardState
	if pct, ok := b.nvml.FanSpeed(dev); ok {
		state.FanSpeedPct = float32(pct)
	}
	if mem, ok := b.nvml.MemoryInfo(dev); ok {
		state.MemReservedBytes = mem.Total - (mem.Free + mem.Used)
		state.MemUsedBytes = mem.Used
	}
	if mw, ok := b.nvml.PowerLimit(dev); ok {
		state.PowerLimitWatt = mw / 1000
	}
	if mhz, ok := b.nvml.Clock(dev, nvmlClockSM); ok {
		state.CEClockMHz = mhz
	}
	if mhz, ok := b.nvml.Clock(dev, nvmlClockMem); ok {
		state.MemClockMHz = mhz
	}
	if mode, ok := b.nvml.ComputeMode(dev); ok {
		state.ComputeMode = computeMode(mode)
	}
	if ps, ok := b.nvml.PerformanceState(dev); ok {
		if ps == nvmlPstateUnknown {
			state.PerfState = gpuapi.PerfStateUnknown
		} else {
			state.PerfState = int(ps)
		}
	}
	if c, ok := b.nvml.Temperature(dev); ok {
		state.TempC = c
	}
	if mw, ok := b.nvml.PowerUsage(dev); ok {
		state.PowerWatt = mw / 1000
	}
	if gpu, mem, ok := b.nvml.UtilizationRates(dev); ok {
		state.GPUUtilPct = float32(gpu)
		state.MemUtilPct = float32(mem)
	}
	return state, nil
}

func computeMode(raw uint32) gpuapi.ComputeMode {
	switch raw {
	case nvmlComputeModeDefault:
		return gpuapi.ComputeModeDefault
	case nvmlComputeModeProhibited:
		return gpuapi.ComputeModeProhibited
	case nvmlComputeModeExclusiveProcess:
		return gpuapi.ComputeModeExclusiveProcess
	default:
		return gpuapi.ComputeModeUnknown
	}
}

// ProbeProcesses reconciles two partial views of the card's processes: the
// running compute processes (pid and memory bytes, no utilization) and the
// utilization samples from the trailing probe window (pid and percentages,
// no exact memory). Either source failing is treated as that source being
// empty; the snapshot is taken regardless.
func (b *nvidiaBackend) ProbeProcesses(index int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.snapshot != nil {
		return 0, gpuapi.ErrSnapshotLive{}
	}
	dev, err := b.device(index)
	if err != nil {
		return 0, err
	}

	running, err := b.nvml.RunningProcesses(dev)
	if err != nil {
		b.logger.Debug("running process query failed", "error", err)
		running = nil
	}

	since := uint64(b.now().Add(-probeWindow).Unix()) * 1_000_000
	samples, err := b.nvml.ProcessUtilization(dev, since)
	if err != nil {
		b.logger.Debug("process utilization query failed", "error", err)
		samples = nil
	}

	var usedMem uint64
	if mem, ok := b.nvml.MemoryInfo(dev); ok {
		usedMem = mem.Used
	}

	b.snapshot = mergeProcesses(running, samples, usedMem)
	return len(b.snapshot), nil
}

func (b *nvidiaBackend) Process(row int) (gpuapi.GpuProcess, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.snapshot == nil {
		return gpuapi.GpuProcess{}, gpuapi.ErrNoSnapshot{}
	}
	if row < 0 || row >= len(b.snapshot) {
		return gpuapi.GpuProcess{}, gpuapi.ErrRowNotFound{Row: row, Rows: len(b.snapshot)}
	}
	return b.snapshot[row], nil
}

func (b *nvidiaBackend) FreeProcesses() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = nil
}
