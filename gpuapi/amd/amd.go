// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

// Package amd implements the device and process contract on top of the
// ROCm SMI library, loaded at runtime. Process accounting on this library
// is node-wide: the process query returns every compute process on every
// card, each annotated with the set of cards it uses.
package amd

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/NordicHPC/sonar/gpuapi"
)

func init() {
	gpuapi.Register(gpuapi.VendorAMD, func(logger *slog.Logger, opts gpuapi.Options) gpuapi.Backend {
		return newBackend(logger, newRealRsmi(opts.Library))
	})
}

type amdBackend struct {
	logger *slog.Logger
	rsmi   rsmiLib

	mu       sync.Mutex
	loaded   bool
	loadErr  error
	count    int
	snapshot []gpuapi.GpuProcess
}

func newBackend(logger *slog.Logger, rsmi rsmiLib) *amdBackend {
	return &amdBackend{
		logger: logger.With("backend", gpuapi.VendorAMD),
		rsmi:   rsmi,
	}
}

func (b *amdBackend) Vendor() gpuapi.Vendor { return gpuapi.VendorAMD }

func (b *amdBackend) ensure() error {
	if b.loaded {
		return b.loadErr
	}
	b.loaded = true

	if err := b.rsmi.Load(); err != nil {
		b.logger.Debug("ROCm SMI load failed", "error", err)
		b.loadErr = err
		return err
	}
	count, err := b.rsmi.DeviceCount()
	if err != nil {
		b.logger.Debug("ROCm SMI device count failed", "error", err)
		b.loadErr = err
		return err
	}
	b.count = int(count)
	b.logger.Debug("ROCm SMI loaded", "devices", b.count)
	return nil
}

func (b *amdBackend) checkIndex(index int) error {
	if err := b.ensure(); err != nil {
		return err
	}
	if index < 0 || index >= b.count {
		return gpuapi.ErrDeviceNotFound{Index: index, Count: b.count}
	}
	return nil
}

func (b *amdBackend) DeviceCount() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensure(); err != nil {
		return 0, err
	}
	return b.count, nil
}

func (b *amdBackend) CardInfo(index int) (gpuapi.CardInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkIndex(index); err != nil {
		return gpuapi.CardInfo{}, err
	}
	dev := uint32(index)

	var info gpuapi.CardInfo
	if id, ok := b.rsmi.PciID(dev); ok {
		info.BusAddr = formatBDF(id)
	}
	if name, ok := b.rsmi.Name(dev); ok {
		info.Model = name
		info.Architecture = archFromModel(name)
	}
	if v, ok := b.rsmi.DriverVersion(); ok {
		info.Driver = v
	}
	if v, ok := b.rsmi.VBiosVersion(dev); ok {
		info.Firmware = v
	}
	if id, ok := b.rsmi.UniqueID(dev); ok {
		info.UUID = fmt.Sprintf("%016x", id)
	}
	if total, ok := b.rsmi.MemoryTotal(dev); ok {
		info.TotalMemBytes = total
	}
	if microW, ok := b.rsmi.PowerCap(dev); ok {
		info.PowerLimitWatt = uint32(microW / 1_000_000)
	}
	if maxMicroW, minMicroW, ok := b.rsmi.PowerCapRange(dev); ok {
		info.MaxPowerLimitWatt = uint32(maxMicroW / 1_000_000)
		info.MinPowerLimitWatt = uint32(minMicroW / 1_000_000)
	}
	if freqs, ok := b.rsmi.ClockFrequencies(dev, rsmiClkSys); ok {
		info.MinCEClockMHz = minFreqMHz(freqs)
		info.MaxCEClockMHz = maxFreqMHz(freqs)
	}
	if freqs, ok := b.rsmi.ClockFrequencies(dev, rsmiClkMem); ok {
		info.MinMemClockMHz = minFreqMHz(freqs)
		info.MaxMemClockMHz = maxFreqMHz(freqs)
	}
	return info, nil
}

func (b *amdBackend) CardState(index int) (gpuapi.CardState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkIndex(index); err != nil {
		return gpuapi.CardState{}, err
	}
	dev := uint32(index)

	var state gpuapi.CardState
	if speed, ok := b.rsmi.FanSpeed(dev); ok {
		if max, ok := b.rsmi.FanSpeedMax(dev); ok && max > 0 {
			state.FanSpeedPct = float32(speed) * 100 / float32(max)
		}
	}
	if level, ok := b.rsmi.PerfLevel(dev); ok {
		if level == rsmiPerfLevelUnknown {
			state.PerfState = gpuapi.PerfStateUnknown
		} else {
			state.PerfState = int(level)
		}
	}
	if used, ok := b.rsmi.MemoryUsed(dev); ok {
		state.MemUsedBytes = used
	}
	if pct, ok := b.rsmi.BusyPercent(dev); ok {
		state.GPUUtilPct = float32(pct)
	}
	if pct, ok := b.rsmi.MemoryBusyPercent(dev); ok {
		state.MemUtilPct = float32(pct)
	}
	if milliC, ok := b.rsmi.Temperature(dev); ok && milliC >= 0 {
		state.TempC = uint32(milliC / 1000)
	}
	if microW, ok := b.rsmi.PowerAverage(dev); ok {
		state.PowerWatt = uint32(microW / 1_000_000)
	}
	if microW, ok := b.rsmi.PowerCap(dev); ok {
		state.PowerLimitWatt = uint32(microW / 1_000_000)
	}
	if freqs, ok := b.rsmi.ClockFrequencies(dev, rsmiClkSys); ok {
		state.CEClockMHz = currentFreqMHz(freqs)
	}
	if freqs, ok := b.rsmi.ClockFrequencies(dev, rsmiClkMem); ok {
		state.MemClockMHz = currentFreqMHz(freqs)
	}
	return state, nil
}

// ProbeProcesses samples the node-wide compute process table. The device
// index is validated against the device range but the snapshot always
// covers all cards; each row carries the set of cards its process uses.
// Rows whose card-set query comes back empty are dropped, since a process
// with no cards is not using the GPUs in any way the caller can attribute.
func (b *amdBackend) ProbeProcesses(index int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.snapshot != nil {
		return 0, gpuapi.ErrSnapshotLive{}
	}
	if err := b.checkIndex(index); err != nil {
		return 0, err
	}

	procs, err := b.rsmi.ComputeProcesses()
	if err != nil {
		b.logger.Debug("compute process query failed", "error", err)
		return 0, err
	}

	// Per-card memory totals, fetched at most once each.
	totals := make(map[uint32]uint64)
	memTotal := func(dev uint32) uint64 {
		if total, ok := totals[dev]; ok {
			return total
		}
		total, _ := b.rsmi.MemoryTotal(dev)
		totals[dev] = total
		return total
	}

	snapshot := make([]gpuapi.GpuProcess, 0, len(procs))
	for _, p := range procs {
		devices, ok := b.rsmi.ProcessGpus(p.ProcessID)
		if !ok || len(devices) == 0 {
			continue
		}

		// The by-pid query refreshes occupancy and memory; fall back to
		// the values from the table scan when it fails.
		if fresh, ok := b.rsmi.ProcessByPid(p.ProcessID); ok {
			p = fresh
		}

		var cards gpuapi.CardSet
		var cardsMem uint64
		for _, dev := range devices {
			cards.Add(int(dev))
			cardsMem += memTotal(dev)
		}

		var memUtil uint32
		if cardsMem > 0 {
			memUtil = uint32(100 * p.VramUsage / cardsMem)
		}
		snapshot = append(snapshot, gpuapi.GpuProcess{
			Pid:        p.ProcessID,
			GPUUtilPct: p.CuOccupancy,
			MemUtilPct: memUtil,
			MemSizeKiB: p.VramUsage / 1024,
			Cards:      cards,
		})
	}

	b.snapshot = snapshot
	return len(b.snapshot), nil
}

func (b *amdBackend) Process(row int) (gpuapi.GpuProcess, error) {
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

func (b *amdBackend) FreeProcesses() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = nil
}

// formatBDF renders the packed PCI id as domain:bus:device.function.
func formatBDF(id uint64) string {
	domain := uint32(id >> 32)
	bus := uint32(id>>8) & 0xff
	device := uint32(id>>3) & 0x1f
	function := uint32(id) & 0x7
	return fmt.Sprintf("%04x:%02x:%02x.%x", domain, bus, device, function)
}

// archFromModel extracts the marketing name in brackets from the model
// string, the closest thing to an architecture the library exposes.
func archFromModel(model string) string {
	_, after, found := strings.Cut(model, "[Radeon")
	if !found {
		return ""
	}
	inner, _, found := strings.Cut(after, "]")
	if !found {
		return ""
	}
	return "Radeon" + inner
}

// minFreqMHz returns the lowest supported frequency in MHz. The table is
// sorted ascending.
func minFreqMHz(freqs rsmiFrequencies) uint32 {
	if freqs.NumSupported == 0 {
		return 0
	}
	return uint32(freqs.Frequency[0] / 1_000_000)
}

// maxFreqMHz returns the highest supported frequency in MHz.
func maxFreqMHz(freqs rsmiFrequencies) uint32 {
	n := freqs.NumSupported
	if n == 0 || n > rsmiMaxNumFrequencies {
		return 0
	}
	return uint32(freqs.Frequency[n-1] / 1_000_000)
}

// currentFreqMHz returns the current frequency in MHz.
func currentFreqMHz(freqs rsmiFrequencies) uint32 {
	if freqs.Current >= freqs.NumSupported || freqs.Current >= rsmiMaxNumFrequencies {
		return 0
	}
	return uint32(freqs.Frequency[freqs.Current] / 1_000_000)
}
