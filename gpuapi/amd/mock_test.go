// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

package amd

import (
	"github.com/stretchr/testify/mock"
)

type mockRsmi struct {
	mock.Mock
}

var _ rsmiLib = (*mockRsmi)(nil)

func (m *mockRsmi) Load() error {
	return m.Called().Error(0)
}

func (m *mockRsmi) DeviceCount() (uint32, error) {
	args := m.Called()
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockRsmi) PciID(dev uint32) (uint64, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint64), args.Bool(1)
}

func (m *mockRsmi) Name(dev uint32) (string, bool) {
	args := m.Called(dev)
	return args.String(0), args.Bool(1)
}

func (m *mockRsmi) DriverVersion() (string, bool) {
	args := m.Called()
	return args.String(0), args.Bool(1)
}

func (m *mockRsmi) VBiosVersion(dev uint32) (string, bool) {
	args := m.Called(dev)
	return args.String(0), args.Bool(1)
}

func (m *mockRsmi) UniqueID(dev uint32) (uint64, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint64), args.Bool(1)
}

func (m *mockRsmi) MemoryTotal(dev uint32) (uint64, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint64), args.Bool(1)
}

func (m *mockRsmi) MemoryUsed(dev uint32) (uint64, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint64), args.Bool(1)
}

func (m *mockRsmi) PowerCap(dev uint32) (uint64, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint64), args.Bool(1)
}

func (m *mockRsmi) PowerCapRange(dev uint32) (uint64, uint64, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint64), args.Get(1).(uint64), args.Bool(2)
}

func (m *mockRsmi) PowerAverage(dev uint32) (uint64, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint64), args.Bool(1)
}

func (m *mockRsmi) ClockFrequencies(dev uint32, clock uint32) (rsmiFrequencies, bool) {
	args := m.Called(dev, clock)
	return args.Get(0).(rsmiFrequencies), args.Bool(1)
}

func (m *mockRsmi) FanSpeed(dev uint32) (int64, bool) {
	args := m.Called(dev)
	return args.Get(0).(int64), args.Bool(1)
}

func (m *mockRsmi) FanSpeedMax(dev uint32) (uint64, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint64), args.Bool(1)
}

func (m *mockRsmi) PerfLevel(dev uint32) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockRsmi) BusyPercent(dev uint32) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockRsmi) MemoryBusyPercent(dev uint32) (uint32, bool) {
	args := m.Called(dev)
	return args.Get(0).(uint32), args.Bool(1)
}

func (m *mockRsmi) Temperature(dev uint32) (int64, bool) {
	args := m.Called(dev)
	return args.Get(0).(int64), args.Bool(1)
}

func (m *mockRsmi) ComputeProcesses() ([]rsmiProcessInfo, error) {
	args := m.Called()
	var procs []rsmiProcessInfo
	if args.Get(0) != nil {
		procs = args.Get(0).([]rsmiProcessInfo)
	}
	return procs, args.Error(1)
}

func (m *mockRsmi) ProcessByPid(pid uint32) (rsmiProcessInfo, bool) {
	args := m.Called(pid)
	return args.Get(0).(rsmiProcessInfo), args.Bool(1)
}

func (m *mockRsmi) ProcessGpus(pid uint32) ([]uint32, bool) {
	args := m.Called(pid)
	var devices []uint32
	if args.Get(0) != nil {
		devices = args.Get(0).([]uint32)
	}
	return devices, args.Bool(1)
}
