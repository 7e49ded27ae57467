// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

package amd

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/NordicHPC/sonar/gpuapi"
)

func loadedMock(count uint32) *mockRsmi {
	m := new(mockRsmi)
	m.On("Load").Return(nil)
	m.On("DeviceCount").Return(count, nil)
	return m
}

func TestVendor(t *testing.T) {
	b := newBackend(slog.Default(), new(mockRsmi))
	assert.Equal(t, gpuapi.VendorAMD, b.Vendor())
}

func TestDeviceCount(t *testing.T) {
	m := loadedMock(4)
	b := newBackend(slog.Default(), m)

	count, err := b.DeviceCount()
	assert.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestLoadFailureIsTerminal(t *testing.T) {
	m := new(mockRsmi)
	m.On("Load").Return(assert.AnError).Once()
	b := newBackend(slog.Default(), m)

	_, err := b.DeviceCount()
	assert.ErrorIs(t, err, assert.AnError)
	_, err = b.CardState(0)
	assert.ErrorIs(t, err, assert.AnError)

	m.AssertExpectations(t)
}

func TestCardInfo(t *testing.T) {
	m := loadedMock(1)
	m.On("PciID", uint32(0)).Return(uint64(0x0000_0003<<32|0xc1<<8|0x02<<3|0x1), true)
	m.On("Name", uint32(0)).Return("Navi 31 [Radeon RX 7900 XT]", true)
	m.On("DriverVersion").Return("6.3.6", true)
	m.On("VBiosVersion", uint32(0)).Return("113-D7020100-102", true)
	m.On("UniqueID", uint32(0)).Return(uint64(0xdeadbeef), true)
	m.On("MemoryTotal", uint32(0)).Return(uint64(20)<<30, true)
	m.On("PowerCap", uint32(0)).Return(uint64(300_000_000), true)
	m.On("PowerCapRange", uint32(0)).Return(uint64(330_000_000), uint64(150_000_000), true)
	m.On("ClockFrequencies", uint32(0), uint32(rsmiClkSys)).Return(rsmiFrequencies{
		NumSupported: 3,
		Current:      1,
		Frequency:    freqTable(500_000_000, 1_500_000_000, 2_400_000_000),
	}, true)
	m.On("ClockFrequencies", uint32(0), uint32(rsmiClkMem)).Return(rsmiFrequencies{
		NumSupported: 2,
		Current:      0,
		Frequency:    freqTable(96_000_000, 1_249_000_000),
	}, true)

	b := newBackend(slog.Default(), m)
	info, err := b.CardInfo(0)
	assert.NoError(t, err)

	assert.Equal(t, "0003:c1:02.1", info.BusAddr)
	assert.Equal(t, "Navi 31 [Radeon RX 7900 XT]", info.Model)
	assert.Equal(t, "Radeon RX 7900 XT", info.Architecture)
	assert.Equal(t, "6.3.6", info.Driver)
	assert.Equal(t, "113-D7020100-102", info.Firmware)
	assert.Equal(t, "00000000deadbeef", info.UUID)
	assert.Equal(t, uint64(20)<<30, info.TotalMemBytes)
	assert.Equal(t, uint32(300), info.PowerLimitWatt)
	assert.Equal(t, uint32(330), info.MaxPowerLimitWatt)
	assert.Equal(t, uint32(150), info.MinPowerLimitWatt)
	assert.Equal(t, uint32(500), info.MinCEClockMHz)
	assert.Equal(t, uint32(2400), info.MaxCEClockMHz)
	assert.Equal(t, uint32(96), info.MinMemClockMHz)
	assert.Equal(t, uint32(1249), info.MaxMemClockMHz)
}

func TestCardState(t *testing.T) {
	m := loadedMock(1)
	m.On("FanSpeed", uint32(0)).Return(int64(128), true)
	m.On("FanSpeedMax", uint32(0)).Return(uint64(255), true)
	m.On("PerfLevel", uint32(0)).Return(uint32(1), true)
	m.On("MemoryUsed", uint32(0)).Return(uint64(4)<<30, true)
	m.On("BusyPercent", uint32(0)).Return(uint32(73), true)
	m.On("MemoryBusyPercent", uint32(0)).Return(uint32(22), true)
	m.On("Temperature", uint32(0)).Return(int64(65_000), true)
	m.On("PowerAverage", uint32(0)).Return(uint64(212_000_000), true)
	m.On("PowerCap", uint32(0)).Return(uint64(300_000_000), true)
	m.On("ClockFrequencies", uint32(0), uint32(rsmiClkSys)).Return(rsmiFrequencies{
		NumSupported: 3,
		Current:      2,
		Frequency:    freqTable(500_000_000, 1_500_000_000, 2_400_000_000),
	}, true)
	m.On("ClockFrequencies", uint32(0), uint32(rsmiClkMem)).Return(rsmiFrequencies{
		NumSupported: 2,
		Current:      1,
		Frequency:    freqTable(96_000_000, 1_249_000_000),
	}, true)

	b := newBackend(slog.Default(), m)
	state, err := b.CardState(0)
	assert.NoError(t, err)

	assert.InDelta(t, 50.2, state.FanSpeedPct, 0.1)
	assert.Equal(t, 1, state.PerfState)
	assert.Equal(t, uint64(4)<<30, state.MemUsedBytes)
	assert.Equal(t, float32(73), state.GPUUtilPct)
	assert.Equal(t, float32(22), state.MemUtilPct)
	assert.Equal(t, uint32(65), state.TempC)
	assert.Equal(t, uint32(212), state.PowerWatt)
	assert.Equal(t, uint32(300), state.PowerLimitWatt)
	assert.Equal(t, uint32(2400), state.CEClockMHz)
	assert.Equal(t, uint32(1249), state.MemClockMHz)
}

func TestPerfLevelUnknownSentinel(t *testing.T) {
	m := loadedMock(1)
	m.On("FanSpeed", uint32(0)).Return(int64(0), false)
	m.On("PerfLevel", uint32(0)).Return(uint32(rsmiPerfLevelUnknown), true)
	m.On("MemoryUsed", uint32(0)).Return(uint64(0), false)
	m.On("BusyPercent", uint32(0)).Return(uint32(0), false)
	m.On("MemoryBusyPercent", uint32(0)).Return(uint32(0), false)
	m.On("Temperature", uint32(0)).Return(int64(0), false)
	m.On("PowerAverage", uint32(0)).Return(uint64(0), false)
	m.On("PowerCap", uint32(0)).Return(uint64(0), false)
	m.On("ClockFrequencies", uint32(0), mock.Anything).Return(rsmiFrequencies{}, false)

	b := newBackend(slog.Default(), m)
	state, err := b.CardState(0)
	assert.NoError(t, err)
	assert.Equal(t, gpuapi.PerfStateUnknown, state.PerfState)
}

func TestIndexOutOfRange(t *testing.T) {
	m := loadedMock(2)
	b := newBackend(slog.Default(), m)

	_, err := b.CardInfo(2)
	assert.Equal(t, gpuapi.ErrDeviceNotFound{Index: 2, Count: 2}, err)

	_, err = b.ProbeProcesses(2)
	assert.Equal(t, gpuapi.ErrDeviceNotFound{Index: 2, Count: 2}, err)
}

func TestProbeMemUtilAcrossCards(t *testing.T) {
	m := loadedMock(2)
	proc := rsmiProcessInfo{ProcessID: 42, VramUsage: 200, CuOccupancy: 30}
	m.On("ComputeProcesses").Return([]rsmiProcessInfo{proc}, nil)
	m.On("ProcessGpus", uint32(42)).Return([]uint32{0, 1}, true)
	m.On("ProcessByPid", uint32(42)).Return(proc, true)
	m.On("MemoryTotal", uint32(0)).Return(uint64(1000), true)
	m.On("MemoryTotal", uint32(1)).Return(uint64(3000), true)

	b := newBackend(slog.Default(), m)

	rows, err := b.ProbeProcesses(0)
	assert.NoError(t, err)
	assert.Equal(t, 1, rows)

	p, err := b.Process(0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(42), p.Pid)
	assert.Equal(t, uint32(30), p.GPUUtilPct)
	// 100 * 200 / (1000 + 3000)
	assert.Equal(t, uint32(5), p.MemUtilPct)
	assert.True(t, p.Cards.Has(0))
	assert.True(t, p.Cards.Has(1))
	assert.False(t, p.Cards.Has(2))
}

func TestProbeSkipsZeroCardProcesses(t *testing.T) {
	m := loadedMock(1)
	m.On("ComputeProcesses").Return([]rsmiProcessInfo{
		{ProcessID: 1, VramUsage: 100},
		{ProcessID: 2, VramUsage: 4096, CuOccupancy: 10},
	}, nil)
	m.On("ProcessGpus", uint32(1)).Return(nil, true)
	m.On("ProcessGpus", uint32(2)).Return([]uint32{0}, true)
	m.On("ProcessByPid", uint32(2)).Return(rsmiProcessInfo{ProcessID: 2, VramUsage: 4096, CuOccupancy: 10}, true)
	m.On("MemoryTotal", uint32(0)).Return(uint64(1)<<30, true)

	b := newBackend(slog.Default(), m)

	rows, err := b.ProbeProcesses(0)
	assert.NoError(t, err)
	assert.Equal(t, 1, rows)

	p, err := b.Process(0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(2), p.Pid)
	assert.Equal(t, uint64(4), p.MemSizeKiB)
}

func TestProbeByPidFallsBackToTableScan(t *testing.T) {
	m := loadedMock(1)
	m.On("ComputeProcesses").Return([]rsmiProcessInfo{
		{ProcessID: 9, VramUsage: 2048, CuOccupancy: 55},
	}, nil)
	m.On("ProcessGpus", uint32(9)).Return([]uint32{0}, true)
	m.On("ProcessByPid", uint32(9)).Return(rsmiProcessInfo{}, false)
	m.On("MemoryTotal", uint32(0)).Return(uint64(1)<<30, true)

	b := newBackend(slog.Default(), m)

	rows, err := b.ProbeProcesses(0)
	assert.NoError(t, err)
	assert.Equal(t, 1, rows)

	p, err := b.Process(0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(55), p.GPUUtilPct)
	assert.Equal(t, uint64(2), p.MemSizeKiB)
}

func TestProbeLifecycle(t *testing.T) {
	m := loadedMock(1)
	m.On("ComputeProcesses").Return(nil, nil)

	b := newBackend(slog.Default(), m)

	rows, err := b.ProbeProcesses(0)
	assert.NoError(t, err)
	assert.Zero(t, rows)

	// Empty snapshot is still live until freed.
	_, err = b.ProbeProcesses(0)
	assert.Equal(t, gpuapi.ErrSnapshotLive{}, err)

	b.FreeProcesses()
	_, err = b.ProbeProcesses(0)
	assert.NoError(t, err)
}

func TestFailedProbeLeavesBackendUnprobed(t *testing.T) {
	m := loadedMock(1)
	m.On("ComputeProcesses").Return(nil, assert.AnError)

	b := newBackend(slog.Default(), m)

	_, err := b.ProbeProcesses(0)
	assert.ErrorIs(t, err, assert.AnError)

	_, err = b.Process(0)
	assert.Equal(t, gpuapi.ErrNoSnapshot{}, err)
}

func TestFormatBDF(t *testing.T) {
	assert.Equal(t, "0000:00:00.0", formatBDF(0))
	assert.Equal(t, "0003:c1:02.1", formatBDF(0x0000_0003<<32|0xc1<<8|0x02<<3|0x1))
}

func TestArchFromModel(t *testing.T) {
	assert.Equal(t, "Radeon RX 7900 XT", archFromModel("Navi 31 [Radeon RX 7900 XT]"))
	assert.Empty(t, archFromModel("Instinct MI250X"))
	assert.Empty(t, archFromModel("Navi [Radeon unterminated"))
}

func TestFreqMHzBounds(t *testing.T) {
	freqs := rsmiFrequencies{
		NumSupported: 3,
		Frequency:    freqTable(500_000_000, 1_500_000_000, 2_400_000_000),
	}
	assert.Equal(t, uint32(500), minFreqMHz(freqs))
	assert.Equal(t, uint32(2400), maxFreqMHz(freqs))

	var empty rsmiFrequencies
	assert.Zero(t, minFreqMHz(empty))
	assert.Zero(t, maxFreqMHz(empty))
}

func freqTable(hz ...uint64) [rsmiMaxNumFrequencies]uint64 {
	var table [rsmiMaxNumFrequencies]uint64
	copy(table[:], hz)
	return table
}
