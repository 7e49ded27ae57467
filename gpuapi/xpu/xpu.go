// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

// Package xpu implements the device and process contract on top of the
// Intel XPU manager library, loaded at runtime. The library is configured
// through environment variables set before init, reports device attributes
// as a string-valued property table, and meters state through a stats
// query driven by the same metric numbers the environment selects.
package xpu

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/prometheus/procfs"

	"github.com/NordicHPC/sonar/gpuapi"
)

func init() {
	gpuapi.Register(gpuapi.VendorXPU, func(logger *slog.Logger, opts gpuapi.Options) gpuapi.Backend {
		return newBackend(logger, newRealXpum(opts.Library))
	})
}

// Growth policy for queries that demand ever larger buffers.
const (
	growStart = 5
	growLimit = 1024
)

// growQuery drives a buffer-too-small retry loop: query is called with
// growing capacities until it stops reporting xpumBufferTooSmall, doubling
// from growStart and clamping the last attempt to growLimit. A query still
// unsatisfied at the limit fails distinctly; the library is asking for
// something unreasonable.
func growQuery(call string, query func(capacity uint32) int32) error {
	capacity := uint32(growStart)
	for {
		rc := query(capacity)
		if rc == xpumBufferTooSmall {
			if capacity >= growLimit {
				return gpuapi.ErrBufferLimit{Vendor: gpuapi.VendorXPU, Call: call}
			}
			capacity *= 2
			if capacity > growLimit {
				capacity = growLimit
			}
			continue
		}
		if rc != xpumOK {
			return gpuapi.ErrVendorCall{Vendor: gpuapi.VendorXPU, Call: call, Code: int64(rc)}
		}
		return nil
	}
}

type xpuBackend struct {
	logger *slog.Logger
	xpum   xpumLib

	mu       sync.Mutex
	loaded   bool
	loadErr  error
	devices  []xpumDeviceID
	snapshot []gpuapi.GpuProcess

	// hostParts supplies the hostname and boot time for UUID synthesis.
	// Swapped out in tests.
	hostParts func() (string, uint64)
}

func newBackend(logger *slog.Logger, xpum xpumLib) *xpuBackend {
	return &xpuBackend{
		logger:    logger.With("backend", gpuapi.VendorXPU),
		xpum:      xpum,
		hostParts: hostParts,
	}
}

func (b *xpuBackend) Vendor() gpuapi.Vendor { return gpuapi.VendorXPU }

func (b *xpuBackend) ensure() error {
	if b.loaded {
		return b.loadErr
	}
	b.loaded = true

	if err := b.xpum.Load(); err != nil {
		b.logger.Debug("XPUM load failed", "error", err)
		b.loadErr = err
		return err
	}
	b.devices = b.xpum.Devices()
	b.logger.Debug("XPUM loaded", "devices", len(b.devices))
	return nil
}

func (b *xpuBackend) device(index int) (xpumDeviceID, error) {
	if err := b.ensure(); err != nil {
		return 0, err
	}
	if index < 0 || index >= len(b.devices) {
		return 0, gpuapi.ErrDeviceNotFound{Index: index, Count: len(b.devices)}
	}
	return b.devices[index], nil
}

func (b *xpuBackend) DeviceCount() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensure(); err != nil {
		return 0, err
	}
	return len(b.devices), nil
}

func (b *xpuBackend) CardInfo(index int) (gpuapi.CardInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, err := b.device(index)
	if err != nil {
		return gpuapi.CardInfo{}, err
	}

	var info gpuapi.CardInfo
	props, err := b.xpum.Properties(dev)
	if err != nil {
		b.logger.Debug("property query failed", "error", err)
	}

	var fwName, fwVersion string
	for _, p := range props {
		switch p.Name {
		case xpumPropPciBdfAddress:
			info.BusAddr = p.Value
		case xpumPropDeviceName:
			info.Model = p.Value
		case xpumPropDriverVersion:
			info.Driver = p.Value
		case xpumPropGfxDataFwName:
			fwName = p.Value
		case xpumPropGfxDataFwVersion:
			fwVersion = p.Value
		case xpumPropMemoryPhysicalBytes:
			info.TotalMemBytes, _ = strconv.ParseUint(p.Value, 10, 64)
		case xpumPropCoreClockRateMHz:
			mhz, _ := strconv.ParseUint(p.Value, 10, 32)
			info.MaxCEClockMHz = uint32(mhz)
		}
	}
	switch {
	case fwName != "" && fwVersion != "":
		info.Firmware = fwName + " @ " + fwVersion
	case fwName != "":
		info.Firmware = fwName
	case fwVersion != "":
		info.Firmware = fwVersion
	}

	if mw, ok := b.xpum.PowerLimitSustained(dev); ok {
		info.MaxPowerLimitWatt = uint32(mw / 1000)
	}

	// The library's own UUID is little more than the bus address, which
	// repeats across nodes. Synthesize one that cannot be confused with
	// any other card anywhere, at the cost of a fresh identity per boot.
	hostname, bootTime := b.hostParts()
	info.UUID = synthesizeUUID(hostname, bootTime, info.BusAddr)

	return info, nil
}

func (b *xpuBackend) CardState(index int) (gpuapi.CardState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, err := b.device(index)
	if err != nil {
		return gpuapi.CardState{}, err
	}
	stats, err := b.xpum.Stats(dev)
	if err != nil {
		return gpuapi.CardState{}, err
	}

	var state gpuapi.CardState
	for _, s := range stats {
		scale := s.Scale
		if scale == 0 {
			scale = 1
		}
		switch s.MetricsType {
		case xpumStatsGPUUtilization:
			state.GPUUtilPct = float32(float64(s.Value) / float64(scale))
		case xpumStatsPower:
			state.PowerWatt = uint32(s.Value / uint64(scale))
		case xpumStatsGPUFrequency:
			state.CEClockMHz = uint32(s.Value)
		case xpumStatsGPUTemperature:
			state.TempC = uint32(s.Value)
		case xpumStatsMemoryUsed:
			state.MemUsedBytes = s.Value
		case xpumStatsMemoryUtilization:
			state.MemUtilPct = float32(float64(s.Value) / float64(scale))
		}
	}
	return state, nil
}

// ProbeProcesses samples the per-process utilization table. Memory
// percentages are derived against the card's physical memory size; a card
// that will not report its memory size cannot produce meaningful rows, so
// the probe fails rather than returning percentages against zero.
func (b *xpuBackend) ProbeProcesses(index int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.snapshot != nil {
		return 0, gpuapi.ErrSnapshotLive{}
	}
	dev, err := b.device(index)
	if err != nil {
		return 0, err
	}

	props, err := b.xpum.Properties(dev)
	if err != nil {
		return 0, err
	}
	var totalMem uint64
	for _, p := range props {
		if p.Name == xpumPropMemoryPhysicalBytes {
			totalMem, _ = strconv.ParseUint(p.Value, 10, 64)
			break
		}
	}
	if totalMem == 0 {
		return 0, fmt.Errorf("device %d reports no physical memory size", index)
	}

	utils, err := b.xpum.ProcessUtilization(dev)
	if err != nil {
		return 0, err
	}

	snapshot := make([]gpuapi.GpuProcess, 0, len(utils))
	for _, u := range utils {
		snapshot = append(snapshot, gpuapi.GpuProcess{
			Pid:        u.Pid,
			GPUUtilPct: uint32(u.ComputeEngineUtil),
			MemUtilPct: uint32(u.MemSize * 100 / totalMem),
			MemSizeKiB: u.MemSize / 1024,
		})
	}
	b.snapshot = snapshot
	return len(b.snapshot), nil
}

func (b *xpuBackend) Process(row int) (gpuapi.GpuProcess, error) {
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

func (b *xpuBackend) FreeProcesses() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = nil
}

// synthesizeUUID builds a card identity from the node name, the boot time,
// and the bus address. "/" separates the fields and cannot occur inside
// any of them, so consumers can split the identity back apart.
func synthesizeUUID(hostname string, bootTime uint64, busAddr string) string {
	return fmt.Sprintf("%s/%d/%s", hostname, bootTime, busAddr)
}

// hostParts reads the hostname and the boot time from the running system.
func hostParts() (string, uint64) {
	hostname, _ := os.Hostname()

	var bootTime uint64
	if fs, err := procfs.NewDefaultFS(); err == nil {
		if stat, err := fs.Stat(); err == nil {
			bootTime = stat.BootTime
		}
	}
	return hostname, bootTime
}
