// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

package amd

import (
	"bytes"
	"unsafe"

	"github.com/NordicHPC/sonar/gpuapi"
	"github.com/NordicHPC/sonar/internal/dynlib"
)

// Clock selectors, from the rsmi clock type enum.
const (
	rsmiClkSys = 0
	rsmiClkMem = 4
)

// rsmiPerfLevelUnknown is the library's sentinel for an unknown performance
// level.
const rsmiPerfLevelUnknown = 0x100

// rsmiSwCompDriver selects the driver component of the version query.
const rsmiSwCompDriver = 0

// rsmiMaxNumFrequencies bounds the frequency table.
const rsmiMaxNumFrequencies = 32

// rsmiFrequencies mirrors rsmi_frequencies_t. Frequencies are in Hz,
// ascending; Current indexes into Frequency.
type rsmiFrequencies struct {
	NumSupported uint32
	Current      uint32
	Frequency    [rsmiMaxNumFrequencies]uint64
}

// rsmiProcessInfo mirrors rsmi_process_info_t. VramUsage is in bytes,
// CuOccupancy is a percentage.
type rsmiProcessInfo struct {
	ProcessID   uint32
	Pasid       uint32
	VramUsage   uint64
	SdmaUsage   uint64
	CuOccupancy uint32
}

// rsmiLib is the surface of the ROCm SMI library the backend consumes.
// Like the other vendor bindings, (value, ok) methods are best-effort and
// error-returning methods abort the operation.
type rsmiLib interface {
	Load() error

	DeviceCount() (uint32, error)

	PciID(dev uint32) (uint64, bool)
	Name(dev uint32) (string, bool)
	DriverVersion() (string, bool)
	VBiosVersion(dev uint32) (string, bool)
	UniqueID(dev uint32) (uint64, bool)
	MemoryTotal(dev uint32) (uint64, bool)
	MemoryUsed(dev uint32) (uint64, bool)
	PowerCap(dev uint32) (uint64, bool)
	PowerCapRange(dev uint32) (maxMicroW, minMicroW uint64, ok bool)
	PowerAverage(dev uint32) (uint64, bool)
	ClockFrequencies(dev uint32, clock uint32) (rsmiFrequencies, bool)
	FanSpeed(dev uint32) (int64, bool)
	FanSpeedMax(dev uint32) (uint64, bool)
	PerfLevel(dev uint32) (uint32, bool)
	BusyPercent(dev uint32) (uint32, bool)
	MemoryBusyPercent(dev uint32) (uint32, bool)
	Temperature(dev uint32) (int64, bool)

	ComputeProcesses() ([]rsmiProcessInfo, error)
	ProcessByPid(pid uint32) (rsmiProcessInfo, bool)
	ProcessGpus(pid uint32) ([]uint32, bool)
}

const (
	rsmiNameBufSize    = 256
	rsmiVersionBufSize = 64
	rsmiVBiosBufSize   = 32
)

// realRsmi binds librocm_smi64 through the dynamic loader. Every symbol is
// required; the library has kept its entry points stable across ROCm
// releases.
type realRsmi struct {
	lib *dynlib.Library

	initLib        func(flags uint64) int32
	numDevices     func(out *uint32) int32
	pciID          func(dev uint32, out *uint64) int32
	devName        func(dev uint32, buf *byte, n uintptr) int32
	versionStr     func(component uint32, buf *byte, n uint32) int32
	vbiosVersion   func(dev uint32, buf *byte, n uint32) int32
	uniqueID       func(dev uint32, out *uint64) int32
	memTotal       func(dev uint32, memType uint32, out *uint64) int32
	memUsage       func(dev uint32, memType uint32, out *uint64) int32
	powerCap       func(dev uint32, sensor uint32, out *uint64) int32
	powerCapRange  func(dev uint32, sensor uint32, max, min *uint64) int32
	powerAve       func(dev uint32, sensor uint32, out *uint64) int32
	clkFreq        func(dev uint32, clock uint32, out *rsmiFrequencies) int32
	fanSpeed       func(dev uint32, sensor uint32, out *int64) int32
	fanSpeedMax    func(dev uint32, sensor uint32, out *uint64) int32
	perfLevel      func(dev uint32, out *uint32) int32
	busyPercent    func(dev uint32, out *uint32) int32
	memBusyPercent func(dev uint32, out *uint32) int32
	tempMetric     func(dev uint32, sensor uint32, metric uint32, out *int64) int32
	procInfo       func(buf unsafe.Pointer, n *uint32) int32
	procByPid      func(pid uint32, out *rsmiProcessInfo) int32
	procGpus       func(pid uint32, buf unsafe.Pointer, n *uint32) int32
}

func newRealRsmi(library string) *realRsmi {
	paths := []string{
		"/opt/rocm/lib/librocm_smi64.so",
		"/opt/rocm/rocm_smi/lib/librocm_smi64.so",
	}
	paths = append(paths, dynlib.SearchPaths("librocm_smi64.so")...)
	if library != "" {
		paths = []string{library}
	}
	return &realRsmi{lib: dynlib.New("librocm_smi64", paths...)}
}

func (r *realRsmi) Load() error {
	if err := r.lib.Open(); err != nil {
		return err
	}

	symbols := []struct {
		fptr   any
		symbol string
	}{
		{&r.initLib, "rsmi_init"},
		{&r.numDevices, "rsmi_num_monitor_devices"},
		{&r.pciID, "rsmi_dev_pci_id_get"},
		{&r.devName, "rsmi_dev_name_get"},
		{&r.versionStr, "rsmi_version_str_get"},
		{&r.vbiosVersion, "rsmi_dev_vbios_version_get"},
		{&r.uniqueID, "rsmi_dev_unique_id_get"},
		{&r.memTotal, "rsmi_dev_memory_total_get"},
		{&r.memUsage, "rsmi_dev_memory_usage_get"},
		{&r.powerCap, "rsmi_dev_power_cap_get"},
		{&r.powerCapRange, "rsmi_dev_power_cap_range_get"},
		{&r.powerAve, "rsmi_dev_power_ave_get"},
		{&r.clkFreq, "rsmi_dev_gpu_clk_freq_get"},
		{&r.fanSpeed, "rsmi_dev_fan_speed_get"},
		{&r.fanSpeedMax, "rsmi_dev_fan_speed_max_get"},
		{&r.perfLevel, "rsmi_dev_perf_level_get"},
		{&r.busyPercent, "rsmi_dev_busy_percent_get"},
		{&r.memBusyPercent, "rsmi_dev_memory_busy_percent_get"},
		{&r.tempMetric, "rsmi_dev_temp_metric_get"},
		{&r.procInfo, "rsmi_compute_process_info_get"},
		{&r.procByPid, "rsmi_compute_process_info_by_pid_get"},
		{&r.procGpus, "rsmi_compute_process_gpus_get"},
	}
	for _, s := range symbols {
		if err := r.lib.Require(s.fptr, s.symbol); err != nil {
			return err
		}
	}

	if rc := r.initLib(0); rc != 0 {
		return r.lib.Fail(gpuapi.ErrInitFailed{Vendor: gpuapi.VendorAMD, Code: int64(rc)})
	}
	return nil
}

func (r *realRsmi) DeviceCount() (uint32, error) {
	var count uint32
	if rc := r.numDevices(&count); rc != 0 {
		return 0, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorAMD, Call: "rsmi_num_monitor_devices", Code: int64(rc)}
	}
	return count, nil
}

func (r *realRsmi) PciID(dev uint32) (uint64, bool) {
	var id uint64
	if r.pciID(dev, &id) != 0 {
		return 0, false
	}
	return id, true
}

func (r *realRsmi) Name(dev uint32) (string, bool) {
	var buf [rsmiNameBufSize]byte
	if r.devName(dev, &buf[0], rsmiNameBufSize) != 0 {
		return "", false
	}
	return rstr(buf[:]), true
}

func (r *realRsmi) DriverVersion() (string, bool) {
	var buf [rsmiVersionBufSize]byte
	if r.versionStr(rsmiSwCompDriver, &buf[0], rsmiVersionBufSize) != 0 {
		return "", false
	}
	return rstr(buf[:]), true
}

func (r *realRsmi) VBiosVersion(dev uint32) (string, bool) {
	var buf [rsmiVBiosBufSize]byte
	if r.vbiosVersion(dev, &buf[0], rsmiVBiosBufSize) != 0 {
		return "", false
	}
	return rstr(buf[:]), true
}

func (r *realRsmi) UniqueID(dev uint32) (uint64, bool) {
	var id uint64
	if r.uniqueID(dev, &id) != 0 {
		return 0, false
	}
	return id, true
}

func (r *realRsmi) MemoryTotal(dev uint32) (uint64, bool) {
	var total uint64
	if r.memTotal(dev, 0, &total) != 0 {
		return 0, false
	}
	return total, true
}

func (r *realRsmi) MemoryUsed(dev uint32) (uint64, bool) {
	var used uint64
	if r.memUsage(dev, 0, &used) != 0 {
		return 0, false
	}
	return used, true
}

func (r *realRsmi) PowerCap(dev uint32) (uint64, bool) {
	var capMicroW uint64
	if r.powerCap(dev, 0, &capMicroW) != 0 {
		return 0, false
	}
	return capMicroW, true
}

func (r *realRsmi) PowerCapRange(dev uint32) (uint64, uint64, bool) {
	var maxMicroW, minMicroW uint64
	if r.powerCapRange(dev, 0, &maxMicroW, &minMicroW) != 0 {
		return 0, 0, false
	}
	return maxMicroW, minMicroW, true
}

func (r *realRsmi) PowerAverage(dev uint32) (uint64, bool) {
	var ave uint64
	if r.powerAve(dev, 0, &ave) != 0 {
		return 0, false
	}
	return ave, true
}

func (r *realRsmi) ClockFrequencies(dev uint32, clock uint32) (rsmiFrequencies, bool) {
	var freqs rsmiFrequencies
	if r.clkFreq(dev, clock, &freqs) != 0 {
		return rsmiFrequencies{}, false
	}
	return freqs, true
}

func (r *realRsmi) FanSpeed(dev uint32) (int64, bool) {
	var speed int64
	if r.fanSpeed(dev, 0, &speed) != 0 {
		return 0, false
	}
	return speed, true
}

func (r *realRsmi) FanSpeedMax(dev uint32) (uint64, bool) {
	var max uint64
	if r.fanSpeedMax(dev, 0, &max) != 0 {
		return 0, false
	}
	return max, true
}

func (r *realRsmi) PerfLevel(dev uint32) (uint32, bool) {
	var level uint32
	if r.perfLevel(dev, &level) != 0 {
		return 0, false
	}
	return level, true
}

func (r *realRsmi) BusyPercent(dev uint32) (uint32, bool) {
	var pct uint32
	if r.busyPercent(dev, &pct) != 0 {
		return 0, false
	}
	return pct, true
}

func (r *realRsmi) MemoryBusyPercent(dev uint32) (uint32, bool) {
	var pct uint32
	if r.memBusyPercent(dev, &pct) != 0 {
		return 0, false
	}
	return pct, true
}

func (r *realRsmi) Temperature(dev uint32) (int64, bool) {
	// Edge sensor, current reading, in millidegrees.
	var milliC int64
	if r.tempMetric(dev, 0, 0, &milliC) != 0 {
		return 0, false
	}
	return milliC, true
}

func (r *realRsmi) ComputeProcesses() ([]rsmiProcessInfo, error) {
	// Two-call convention: a nil buffer fills in the element count.
	var count uint32
	if rc := r.procInfo(nil, &count); rc != 0 {
		return nil, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorAMD, Call: "rsmi_compute_process_info_get", Code: int64(rc)}
	}
	if count == 0 {
		return nil, nil
	}

	buf := make([]rsmiProcessInfo, count)
	if rc := r.procInfo(unsafe.Pointer(&buf[0]), &count); rc != 0 {
		return nil, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorAMD, Call: "rsmi_compute_process_info_get", Code: int64(rc)}
	}
	if int(count) > len(buf) {
		count = uint32(len(buf))
	}
	return buf[:count], nil
}

func (r *realRsmi) ProcessByPid(pid uint32) (rsmiProcessInfo, bool) {
	var info rsmiProcessInfo
	if r.procByPid(pid, &info) != 0 {
		return rsmiProcessInfo{}, false
	}
	return info, true
}

func (r *realRsmi) ProcessGpus(pid uint32) ([]uint32, bool) {
	var count uint32
	if r.procGpus(pid, nil, &count) != 0 {
		return nil, false
	}
	if count == 0 {
		return nil, true
	}

	indices := make([]uint32, count)
	if r.procGpus(pid, unsafe.Pointer(&indices[0]), &count) != 0 {
		return nil, false
	}
	if int(count) > len(indices) {
		count = uint32(len(indices))
	}
	return indices[:count], true
}

// rstr converts a NUL-terminated byte buffer to a string.
func rstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
