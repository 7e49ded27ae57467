// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

package fakegpu

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NordicHPC/sonar/gpuapi"
)

func newBackend(t *testing.T) gpuapi.Backend {
	t.Helper()
	return New(slog.Default())
}

func TestVendor(t *testing.T) {
	assert.Equal(t, gpuapi.VendorFake, newBackend(t).Vendor())
}

func TestDeviceCount(t *testing.T) {
	count, err := newBackend(t).DeviceCount()
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCardInfoFixture(t *testing.T) {
	b := newBackend(t)

	info, err := b.CardInfo(0)
	assert.NoError(t, err)
	assert.Equal(t, "0:0:0:fake", info.BusAddr)
	assert.Equal(t, "fake-model", info.Model)
	assert.Equal(t, "fake-driver", info.Driver)
	assert.Equal(t, "fake-firmware", info.Firmware)
	assert.Equal(t, "fake:0", info.UUID)
	assert.Equal(t, uint64(4)*1024*1024*1024, info.TotalMemBytes)
	assert.Equal(t, uint32(1000), info.MaxCEClockMHz)
	assert.Equal(t, uint32(1000), info.MaxPowerLimitWatt)

	// Unsupplied fields stay zero.
	assert.Empty(t, info.Architecture)
	assert.Zero(t, info.MaxMemClockMHz)
}

func TestCardStateFixture(t *testing.T) {
	b := newBackend(t)

	state, err := b.CardState(0)
	assert.NoError(t, err)
	assert.Equal(t, float32(95), state.GPUUtilPct)
	assert.Equal(t, float32(88), state.MemUtilPct)
	assert.Equal(t, uint64(4)*1024*1024*1024*88/100, state.MemUsedBytes)
	assert.Equal(t, uint32(37), state.TempC)
	assert.Equal(t, uint32(200), state.PowerWatt)
	assert.Equal(t, uint32(666), state.CEClockMHz)
	assert.Equal(t, gpuapi.ComputeModeUnknown, state.ComputeMode)
}

func TestOutOfRangeIndex(t *testing.T) {
	b := newBackend(t)

	_, err := b.CardInfo(1)
	assert.Equal(t, gpuapi.ErrDeviceNotFound{Index: 1, Count: 1}, err)

	_, err = b.CardState(1)
	assert.Equal(t, gpuapi.ErrDeviceNotFound{Index: 1, Count: 1}, err)

	_, err = b.ProbeProcesses(-1)
	assert.Equal(t, gpuapi.ErrDeviceNotFound{Index: -1, Count: 1}, err)
}

func TestProbeLifecycle(t *testing.T) {
	b := newBackend(t)

	rows, err := b.ProbeProcesses(0)
	assert.NoError(t, err)
	assert.Equal(t, 1, rows)

	proc, err := b.Process(0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(12579), proc.Pid)
	assert.Equal(t, uint32(50), proc.MemUtilPct)
	assert.Equal(t, uint32(90), proc.GPUUtilPct)
	assert.Equal(t, uint64(2)*1024*1024*1024, proc.MemSizeKiB)

	// Second probe on a live snapshot fails.
	_, err = b.ProbeProcesses(0)
	assert.Equal(t, gpuapi.ErrSnapshotLive{}, err)

	// After the free, probing works again.
	b.FreeProcesses()
	rows, err = b.ProbeProcesses(0)
	assert.NoError(t, err)
	assert.Equal(t, 1, rows)
}

func TestProcessWithoutProbe(t *testing.T) {
	b := newBackend(t)

	_, err := b.Process(0)
	assert.Equal(t, gpuapi.ErrNoSnapshot{}, err)

	// Free without a probe is a no-op.
	b.FreeProcesses()
}

func TestProcessRowOutOfRange(t *testing.T) {
	b := newBackend(t)

	_, err := b.ProbeProcesses(0)
	assert.NoError(t, err)
	defer b.FreeProcesses()

	_, err = b.Process(1)
	assert.Equal(t, gpuapi.ErrRowNotFound{Row: 1, Rows: 1}, err)
}

func TestStableAcrossCalls(t *testing.T) {
	b := newBackend(t)

	first, err := b.CardInfo(0)
	assert.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := b.CardInfo(0)
		assert.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
