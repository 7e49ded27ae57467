// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

package nvidia

import (
	"github.com/stretchr/testify/mock"
)

type mockNvml struct {
	mock.Mock
}

var _ nvmlLib = (*mockNvml)(nil)

func (m *mockNvml) Load() error {
	return m.Called().Error(0)
}

func (m *mockNvml) DeviceCount() (uint32, error) {
	args := m.Called()
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockNvml) DeviceByIndex(index uint32) (nvmlDevice, error) {
	args := m.Called(index)
	return args.Get(0).(nvmlDevice), args.Error(1)
}

func (m *mockNvml) Name(dev nvmlDevice) (string, bool) {
	args := m.Called(dev)
	return args.String(0), args.Bool(1)
}

func (m *mockNvml) UUID(dev nvmlDevice) (string, bool) {
	args := m.Called(dev)
	return args.String(0), args.Bool(1)
}

func (m *mockNvml) DriverVersion() (string, bool) {
	args := m.Called()
	return args.String(0), args.Bool(1)
}

func (m *mockNvml) CudaDriverVersion() (int32, bool) {
	args := m.Called()
	return args.Get(0).(int32), args.Bool(1)
}

func (m *mockNvml) Architecture(dev nvmlDevice) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockNvml) BusAddr(dev nvmlDevice) (string, bool) {
	args := m.Called(dev)
	return args.String(0), args.Bool(1)
}

func (m *mockNvml) MemoryInfo(dev nvmlDevice) (nvmlMemory, bool) {
	args := m.Called(dev)
	return args.Get(0).(nvmlMemory), args.Bool(1)
}

func (m *mockNvml) PowerLimitConstraints(dev nvmlDevice) (uint32, uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Get(1).(uint32), args.Bool(2)
}

func (m *mockNvml) PowerLimit(dev nvmlDevice) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockNvml) MaxClock(dev nvmlDevice, clock uint32) (uint32, bool) {
	args := m.Called(dev, clock)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockNvml) Clock(dev nvmlDevice, clock uint32) (uint32, bool) {
	args := m.Called(dev, clock)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockNvml) FanSpeed(dev nvmlDevice) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockNvml) ComputeMode(dev nvmlDevice) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockNvml) PerformanceState(dev nvmlDevice) (int32, bool) {
	args := m.Called(dev)
	return args.Get(0).(int32), args.Bool(1)
}

func (m *mockNvml) Temperature(dev nvmlDevice) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockNvml) PowerUsage(dev nvmlDevice) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockNvml) UtilizationRates(dev nvmlDevice) (uint32, uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Get(1).(uint32), args.Bool(2)
}

func (m *mockNvml) RunningProcesses(dev nvmlDevice) ([]runningProcess, error) {
	args := m.Called(dev)
	var procs []runningProcess
	if args.Get(0) != nil {
		procs = args.Get(0).([]runningProcess)
	}
	return procs, args.Error(1)
}

func (m *mockNvml) ProcessUtilization(dev nvmlDevice, sinceMicros uint64) ([]utilizationSample, error) {
	args := m.Called(dev, sinceMicros)
	var samples []utilizationSample
	if args.Get(0) != nil {
		samples = args.Get(0).([]utilizationSample)
	}
	return samples, args.Error(1)
}
