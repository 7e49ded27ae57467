// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

// Package fakegpu is a fixed-output backend with one phantom device and one
// phantom process. It loads no library and touches nothing outside its own
// struct, which makes it the conformance fixture for the contract: field
// set or lifecycle changes are exercised here first.
package fakegpu

import (
	"log/slog"
	"sync"

	"github.com/NordicHPC/sonar/gpuapi"
)

const (
	deviceCount = 1

	busAddr  = "0:0:0:fake"
	model    = "fake-model"
	driver   = "fake-driver"
	firmware = "fake-firmware"
	uuid     = "fake:0"

	totalMemBytes = uint64(4) * 1024 * 1024 * 1024
	maxCEClockMHz = 1000
	maxPowerWatt  = 1000

	gpuUtilPct = 95
	memUtilPct = 88
	tempC      = 37
	powerWatt  = 200
	ceClockMHz = 666

	procPid        = 12579
	procMemUtilPct = 50
	procGPUUtilPct = 90
	procMemSizeKiB = uint64(2) * 1024 * 1024 * 1024
)

func init() {
	gpuapi.Register(gpuapi.VendorFake, func(logger *slog.Logger, opts gpuapi.Options) gpuapi.Backend {
		return New(logger)
	})
}

type fakeBackend struct {
	logger *slog.Logger

	mu       sync.Mutex
	snapshot []gpuapi.GpuProcess
}

// New returns the reference backend.
func New(logger *slog.Logger) gpuapi.Backend {
	return &fakeBackend{
		logger: logger.With("backend", gpuapi.VendorFake),
	}
}

func (f *fakeBackend) Vendor() gpuapi.Vendor { return gpuapi.VendorFake }

func (f *fakeBackend) DeviceCount() (int, error) {
	return deviceCount, nil
}

func (f *fakeBackend) CardInfo(index int) (gpuapi.CardInfo, error) {
	if index < 0 || index >= deviceCount {
		return gpuapi.CardInfo{}, gpuapi.ErrDeviceNotFound{Index: index, Count: deviceCount}
	}
	return gpuapi.CardInfo{
		BusAddr:           busAddr,
		Model:             model,
		Driver:            driver,
		Firmware:          firmware,
		UUID:              uuid,
		TotalMemBytes:     totalMemBytes,
		MaxCEClockMHz:     maxCEClockMHz,
		MaxPowerLimitWatt: maxPowerWatt,
	}, nil
}

func (f *fakeBackend) CardState(index int) (gpuapi.CardState, error) {
	if index < 0 || index >= deviceCount {
		return gpuapi.CardState{}, gpuapi.ErrDeviceNotFound{Index: index, Count: deviceCount}
	}
	return gpuapi.CardState{
		GPUUtilPct:   gpuUtilPct,
		MemUtilPct:   memUtilPct,
		MemUsedBytes: totalMemBytes * memUtilPct / 100,
		TempC:        tempC,
		PowerWatt:    powerWatt,
		CEClockMHz:   ceClockMHz,
	}, nil
}

func (f *fakeBackend) ProbeProcesses(index int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if index < 0 || index >= deviceCount {
		return 0, gpuapi.ErrDeviceNotFound{Index: index, Count: deviceCount}
	}
	if f.snapshot != nil {
		return 0, gpuapi.ErrSnapshotLive{}
	}
	f.snapshot = []gpuapi.GpuProcess{{
		Pid:        procPid,
		MemUtilPct: procMemUtilPct,
		GPUUtilPct: procGPUUtilPct,
		MemSizeKiB: procMemSizeKiB,
	}}
	return len(f.snapshot), nil
}

func (f *fakeBackend) Process(row int) (gpuapi.GpuProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.snapshot == nil {
		return gpuapi.GpuProcess{}, gpuapi.ErrNoSnapshot{}
	}
	if row < 0 || row >= len(f.snapshot) {
		return gpuapi.GpuProcess{}, gpuapi.ErrRowNotFound{Row: row, Rows: len(f.snapshot)}
	}
	return f.snapshot[row], nil
}

func (f *fakeBackend) FreeProcesses() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = nil
}
