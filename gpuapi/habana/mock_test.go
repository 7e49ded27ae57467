// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

package habana

import (
	"github.com/stretchr/testify/mock"
)

type mockHlml struct {
	mock.Mock
}

var _ hlmlLib = (*mockHlml)(nil)

func (m *mockHlml) Load() error {
	return m.Called().Error(0)
}

func (m *mockHlml) DeviceCount() (uint32, error) {
	args := m.Called()
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockHlml) DeviceByIndex(index uint32) (hlmlDevice, error) {
	args := m.Called(index)
	return args.Get(0).(hlmlDevice), args.Error(1)
}

func (m *mockHlml) BusAddr(dev hlmlDevice) (string, bool) {
	args := m.Called(dev)
	return args.String(0), args.Bool(1)
}

func (m *mockHlml) Name(dev hlmlDevice) (string, bool) {
	args := m.Called(dev)
	return args.String(0), args.Bool(1)
}

func (m *mockHlml) UUID(dev hlmlDevice) (string, bool) {
	args := m.Called(dev)
	return args.String(0), args.Bool(1)
}

func (m *mockHlml) DriverVersion() (string, bool) {
	args := m.Called()
	return args.String(0), args.Bool(1)
}

func (m *mockHlml) FirmwareVersion(dev hlmlDevice) (string, bool) {
	args := m.Called(dev)
	return args.String(0), args.Bool(1)
}

func (m *mockHlml) MemoryInfo(dev hlmlDevice) (hlmlMemory, bool) {
	args := m.Called(dev)
	return args.Get(0).(hlmlMemory), args.Bool(1)
}

func (m *mockHlml) MaxClock(dev hlmlDevice, clock uint32) (uint32, bool) {
	args := m.Called(dev, clock)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockHlml) Clock(dev hlmlDevice, clock uint32) (uint32, bool) {
	args := m.Called(dev, clock)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockHlml) PowerLimit(dev hlmlDevice) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockHlml) PowerUsage(dev hlmlDevice) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockHlml) Temperature(dev hlmlDevice) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockHlml) AipUtilization(dev hlmlDevice) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockHlml) PerformanceState(dev hlmlDevice) (int32, bool) {
	args := m.Called(dev)
	return args.Get(0).(int32), args.Bool(1)
}
