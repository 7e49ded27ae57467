// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

package habana

import (
	"bytes"

	"github.com/NordicHPC/sonar/gpuapi"
	"github.com/NordicHPC/sonar/internal/dynlib"
)

// hlmlDevice is an opaque device handle owned by the HLML library.
type hlmlDevice uintptr

// hlmlClockSOC is the SoC clock selector, the closest thing the device has
// to a compute-engine clock.
const hlmlClockSOC = 3

// hlmlTemperatureAIP selects the on-chip sensor.
const hlmlTemperatureAIP = 0

// hlmlPstateUnknown mirrors the library's unknown performance state.
const hlmlPstateUnknown = 32

// hlmlMemory mirrors hlml_memory_t, in bytes.
type hlmlMemory struct {
	Total uint64
	Free  uint64
	Used  uint64
}

// hlmlPciInfo mirrors hlml_pci_info_t.
type hlmlPciInfo struct {
	Bus         uint32
	BusID       [15]byte
	Device      uint32
	Domain      uint32
	PciDeviceID uint32
	LinkSpeed   [9]byte
	LinkWidth   [3]byte
}

// hlmlUtilizationSample mirrors hlml_process_utilization_sample_t.
type hlmlUtilizationSample struct {
	Pid       uint32
	_         uint32
	Timestamp uint64
	AipUtil   uint32
	MemUtil   uint32
}

// hlmlLib is the surface of libhlml the backend consumes. HLML is modeled
// on NVML but is much smaller; every symbol is required.
type hlmlLib interface {
	Load() error

	DeviceCount() (uint32, error)
	DeviceByIndex(index uint32) (hlmlDevice, error)

	BusAddr(dev hlmlDevice) (string, bool)
	Name(dev hlmlDevice) (string, bool)
	UUID(dev hlmlDevice) (string, bool)
	DriverVersion() (string, bool)
	FirmwareVersion(dev hlmlDevice) (string, bool)
	MemoryInfo(dev hlmlDevice) (hlmlMemory, bool)
	MaxClock(dev hlmlDevice, clock uint32) (uint32, bool)
	Clock(dev hlmlDevice, clock uint32) (uint32, bool)
	PowerLimit(dev hlmlDevice) (uint32, bool)
	PowerUsage(dev hlmlDevice) (uint32, bool)
	Temperature(dev hlmlDevice) (uint32, bool)
	AipUtilization(dev hlmlDevice) (uint32, bool)
	PerformanceState(dev hlmlDevice) (int32, bool)
}

const (
	hlmlNameBufSize    = 256
	hlmlUUIDBufSize    = 96
	hlmlVersionBufSize = 64
)

type realHlml struct {
	lib *dynlib.Library

	getClockInfo    func(dev hlmlDevice, clock uint32, out *uint32) int32
	getCount        func(out *uint32) int32
	getHandle       func(index uint32, out *hlmlDevice) int32
	getMaxClockInfo func(dev hlmlDevice, clock uint32, out *uint32) int32
	getMemoryInfo   func(dev hlmlDevice, out *hlmlMemory) int32
	getName         func(dev hlmlDevice, buf *byte, n uint32) int32
	getPciInfo      func(dev hlmlDevice, out *hlmlPciInfo) int32
	getPerfState    func(dev hlmlDevice, out *uint32) int32
	getPowerLimit   func(dev hlmlDevice, out *uint32) int32
	getPowerUsage   func(dev hlmlDevice, out *uint32) int32
	getProcUtil     func(dev hlmlDevice, out *hlmlUtilizationSample) int32
	getTemperature  func(dev hlmlDevice, sensor uint32, out *uint32) int32
	getUUID         func(dev hlmlDevice, buf *byte, n uint32) int32
	getDriverVer    func(buf *byte, n uint32) int32
	getFwOsVer      func(dev hlmlDevice, buf *byte, n uint32) int32
	initLib         func() int32
}

func newRealHlml(library string) *realHlml {
	paths := []string{"/lib/habanalabs/libhlml.so"}
	paths = append(paths, dynlib.SearchPaths("habanalabs/libhlml.so")...)
	if library != "" {
		paths = []string{library}
	}
	return &realHlml{lib: dynlib.New("libhlml", paths...)}
}

func (h *realHlml) Load() error {
	if err := h.lib.Open(); err != nil {
		return err
	}

	symbols := []struct {
		fptr   any
		symbol string
	}{
		{&h.getClockInfo, "hlml_device_get_clock_info"},
		{&h.getCount, "hlml_device_get_count"},
		{&h.getHandle, "hlml_device_get_handle_by_index"},
		{&h.getMaxClockInfo, "hlml_device_get_max_clock_info"},
		{&h.getMemoryInfo, "hlml_device_get_memory_info"},
		{&h.getName, "hlml_device_get_name"},
		{&h.getPciInfo, "hlml_device_get_pci_info"},
		{&h.getPerfState, "hlml_device_get_performance_state"},
		{&h.getPowerLimit, "hlml_device_get_power_management_limit"},
		{&h.getPowerUsage, "hlml_device_get_power_usage"},
		{&h.getProcUtil, "hlml_device_get_process_utilization"},
		{&h.getTemperature, "hlml_device_get_temperature"},
		{&h.getUUID, "hlml_device_get_uuid"},
		{&h.getDriverVer, "hlml_get_driver_version"},
		{&h.getFwOsVer, "hlml_get_fw_os_version"},
		{&h.initLib, "hlml_init"},
	}
	for _, s := range symbols {
		if err := h.lib.Require(s.fptr, s.symbol); err != nil {
			return err
		}
	}

	if rc := h.initLib(); rc != 0 {
		return h.lib.Fail(gpuapi.ErrInitFailed{Vendor: gpuapi.VendorHabana, Code: int64(rc)})
	}
	return nil
}

func (h *realHlml) DeviceCount() (uint32, error) {
	var count uint32
	if rc := h.getCount(&count); rc != 0 {
		return 0, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorHabana, Call: "hlml_device_get_count", Code: int64(rc)}
	}
	return count, nil
}

func (h *realHlml) DeviceByIndex(index uint32) (hlmlDevice, error) {
	var dev hlmlDevice
	if rc := h.getHandle(index, &dev); rc != 0 {
		return 0, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorHabana, Call: "hlml_device_get_handle_by_index", Code: int64(rc)}
	}
	return dev, nil
}

func (h *realHlml) BusAddr(dev hlmlDevice) (string, bool) {
	var pci hlmlPciInfo
	if h.getPciInfo(dev, &pci) != 0 {
		return "", false
	}
	return hstr(pci.BusID[:]), true
}

func (h *realHlml) Name(dev hlmlDevice) (string, bool) {
	var buf [hlmlNameBufSize]byte
	if h.getName(dev, &buf[0], hlmlNameBufSize) != 0 {
		return "", false
	}
	return hstr(buf[:]), true
}

func (h *realHlml) UUID(dev hlmlDevice) (string, bool) {
	var buf [hlmlUUIDBufSize]byte
	if h.getUUID(dev, &buf[0], hlmlUUIDBufSize) != 0 {
		return "", false
	}
	return hstr(buf[:]), true
}

func (h *realHlml) DriverVersion() (string, bool) {
	var buf [hlmlVersionBufSize]byte
	if h.getDriverVer(&buf[0], hlmlVersionBufSize) != 0 {
		return "", false
	}
	return hstr(buf[:]), true
}

func (h *realHlml) FirmwareVersion(dev hlmlDevice) (string, bool) {
	var buf [hlmlVersionBufSize]byte
	if h.getFwOsVer(dev, &buf[0], hlmlVersionBufSize) != 0 {
		return "", false
	}
	return hstr(buf[:]), true
}

func (h *realHlml) MemoryInfo(dev hlmlDevice) (hlmlMemory, bool) {
	var mem hlmlMemory
	if h.getMemoryInfo(dev, &mem) != 0 {
		return hlmlMemory{}, false
	}
	return mem, true
}

func (h *realHlml) MaxClock(dev hlmlDevice, clock uint32) (uint32, bool) {
	var mhz uint32
	if h.getMaxClockInfo(dev, clock, &mhz) != 0 {
		return 0, false
	}
	return mhz, true
}

func (h *realHlml) Clock(dev hlmlDevice, clock uint32) (uint32, bool) {
	var mhz uint32
	if h.getClockInfo(dev, clock, &mhz) != 0 {
		return 0, false
	}
	return mhz, true
}

func (h *realHlml) PowerLimit(dev hlmlDevice) (uint32, bool) {
	var mw uint32
	if h.getPowerLimit(dev, &mw) != 0 {
		return 0, false
	}
	return mw, true
}

func (h *realHlml) PowerUsage(dev hlmlDevice) (uint32, bool) {
	var mw uint32
	if h.getPowerUsage(dev, &mw) != 0 {
		return 0, false
	}
	return mw, true
}

func (h *realHlml) Temperature(dev hlmlDevice) (uint32, bool) {
	var c uint32
	if h.getTemperature(dev, hlmlTemperatureAIP, &c) != 0 {
		return 0, false
	}
	return c, true
}

func (h *realHlml) AipUtilization(dev hlmlDevice) (uint32, bool) {
	var sample hlmlUtilizationSample
	if h.getProcUtil(dev, &sample) != 0 {
		return 0, false
	}
	return sample.AipUtil, true
}

func (h *realHlml) PerformanceState(dev hlmlDevice) (int32, bool) {
	var state uint32
	if h.getPerfState(dev, &state) != 0 {
		return 0, false
	}
	return int32(state), true
}

// hstr converts a NUL-terminated byte buffer to a string.
func hstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
