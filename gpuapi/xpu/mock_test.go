// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

package xpu

import (
	"github.com/stretchr/testify/mock"
)

// mockXpum implements xpumLib for tests.
type mockXpum struct {
	mock.Mock
}

var _ xpumLib = (*mockXpum)(nil)

func (m *mockXpum) Load() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockXpum) Devices() []xpumDeviceID {
	args := m.Called()
	if devs, ok := args.Get(0).([]xpumDeviceID); ok {
		return devs
	}
	return nil
}

func (m *mockXpum) Properties(dev xpumDeviceID) ([]xpumProperty, error) {
	args := m.Called(dev)
	if props, ok := args.Get(0).([]xpumProperty); ok {
		return props, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockXpum) PowerLimitSustained(dev xpumDeviceID) (int32, bool) {
	args := m.Called(dev)
	return int32(args.Int(0)), args.Bool(1)
}

func (m *mockXpum) Stats(dev xpumDeviceID) ([]xpumStat, error) {
	args := m.Called(dev)
	if stats, ok := args.Get(0).([]xpumStat); ok {
		return stats, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockXpum) ProcessUtilization(dev xpumDeviceID) ([]xpumProcessUtil, error) {
	args := m.Called(dev)
	if utils, ok := args.Get(0).([]xpumProcessUtil); ok {
		return utils, args.Error(1)
	}
	return nil, args.Error(1)
}
