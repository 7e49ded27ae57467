// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

package nvidia

import (
	"bytes"
	"unsafe"

	"github.com/NordicHPC/sonar/gpuapi"
	"github.com/NordicHPC/sonar/internal/dynlib"
)

// nvmlDevice is an opaque device handle owned by the NVML library.
type nvmlDevice uintptr

// Clock selectors, from the NVML clock type enum.
const (
	nvmlClockSM  = 1
	nvmlClockMem = 2
)

// nvmlTemperatureGPU selects the on-die sensor.
const nvmlTemperatureGPU = 0

// nvmlPstateUnknown is NVML's sentinel for an unknown performance state.
const nvmlPstateUnknown = 32

// Raw compute mode values from the NVML enum. Exclusive-thread (1) is
// deprecated and mapped to unknown.
const (
	nvmlComputeModeDefault          = 0
	nvmlComputeModeProhibited       = 2
	nvmlComputeModeExclusiveProcess = 3
)

// runningProcess is one entry of the compute-running-processes table, the
// same projection for every struct revision.
type runningProcess struct {
	Pid           uint32
	UsedGpuMemory uint64
}

// utilizationSample is one entry of the process-utilization table.
type utilizationSample struct {
	Pid     uint32
	SmUtil  uint32
	MemUtil uint32
}

// nvmlMemory mirrors nvmlMemory_t.
type nvmlMemory struct {
	Total uint64
	Free  uint64
	Used  uint64
}

// nvmlLib is the surface of libnvidia-ml the backend consumes. The (value,
// ok) methods model NVML calls whose failure leaves the corresponding
// record field zero; the error-returning methods abort the operation.
type nvmlLib interface {
	// Load opens the library, resolves symbols, picks revisions, and runs
	// nvmlInit. Called at most once per backend.
	Load() error

	DeviceCount() (uint32, error)
	DeviceByIndex(index uint32) (nvmlDevice, error)

	Name(dev nvmlDevice) (string, bool)
	UUID(dev nvmlDevice) (string, bool)
	DriverVersion() (string, bool)
	CudaDriverVersion() (int32, bool)
	Architecture(dev nvmlDevice) (uint32, bool)
	BusAddr(dev nvmlDevice) (string, bool)
	MemoryInfo(dev nvmlDevice) (nvmlMemory, bool)
	PowerLimitConstraints(dev nvmlDevice) (minMilliW, maxMilliW uint32, ok bool)
	PowerLimit(dev nvmlDevice) (uint32, bool)
	MaxClock(dev nvmlDevice, clock uint32) (uint32, bool)
	Clock(dev nvmlDevice, clock uint32) (uint32, bool)
	FanSpeed(dev nvmlDevice) (uint32, bool)
	ComputeMode(dev nvmlDevice) (uint32, bool)
	PerformanceState(dev nvmlDevice) (int32, bool)
	Temperature(dev nvmlDevice) (uint32, bool)
	PowerUsage(dev nvmlDevice) (uint32, bool)
	UtilizationRates(dev nvmlDevice) (gpu, mem uint32, ok bool)

	RunningProcesses(dev nvmlDevice) ([]runningProcess, error)
	ProcessUtilization(dev nvmlDevice, sinceMicros uint64) ([]utilizationSample, error)
}

// FFI struct layouts. The process-info struct grew fields across API
// revisions; each revision keeps the two leading fields we consume, but the
// element stride differs, so each revision gets its own type and its own
// projection into runningProcess.

type nvmlProcessInfoV1 struct {
	Pid           uint32
	_             uint32
	UsedGpuMemory uint64
}

type nvmlProcessInfoV2 struct {
	Pid               uint32
	_                 uint32
	UsedGpuMemory     uint64
	GpuInstanceID     uint32
	ComputeInstanceID uint32
}

type nvmlProcessUtilizationSample struct {
	Pid       uint32
	_         uint32
	TimeStamp uint64
	SmUtil    uint32
	MemUtil   uint32
	EncUtil   uint32
	DecUtil   uint32
}

// nvmlPciInfo's layout has been stable since API 9: the 16-byte legacy id,
// five ids, then the full 32-byte busId.
type nvmlPciInfo struct {
	BusIdLegacy    [16]byte
	Domain         uint32
	Bus            uint32
	Device         uint32
	PciDeviceID    uint32
	PciSubSystemID uint32
	BusID          [32]byte
}

type nvmlUtilization struct {
	GPU    uint32
	Memory uint32
}

const (
	nameBufSize    = 96
	uuidBufSize    = 96
	versionBufSize = 80
)

// realNvml binds libnvidia-ml.so.1 through the dynamic loader. Versioned
// entry points (count, handle, pci info, running processes) are resolved
// once at load; the highest available revision wins and the choice is never
// revisited.
type realNvml struct {
	lib *dynlib.Library

	getClockInfo    func(dev nvmlDevice, clock uint32, out *uint32) int32
	getComputeMode  func(dev nvmlDevice, out *uint32) int32
	getCount        func(out *uint32) int32
	getHandle       func(index uint32, out *nvmlDevice) int32
	getArch         func(dev nvmlDevice, out *uint32) int32
	getFanSpeed     func(dev nvmlDevice, out *uint32) int32
	getMemoryInfo   func(dev nvmlDevice, out *nvmlMemory) int32
	getMaxClockInfo func(dev nvmlDevice, clock uint32, out *uint32) int32
	getName         func(dev nvmlDevice, buf *byte, n uint32) int32
	getPciInfo      func(dev nvmlDevice, out *nvmlPciInfo) int32
	getPerfState    func(dev nvmlDevice, out *uint32) int32
	getPowerLimits  func(dev nvmlDevice, min, max *uint32) int32
	getPowerLimit   func(dev nvmlDevice, out *uint32) int32
	getPowerUsage   func(dev nvmlDevice, out *uint32) int32
	getProcUtil     func(dev nvmlDevice, buf unsafe.Pointer, n *uint32, since uint64) int32
	getTemperature  func(dev nvmlDevice, sensor uint32, out *uint32) int32
	getUUID         func(dev nvmlDevice, buf *byte, n uint32) int32
	getUtilRates    func(dev nvmlDevice, out *nvmlUtilization) int32
	initLib         func() int32
	getDriverVer    func(buf *byte, n uint32) int32
	getCudaVer      func(out *int32) int32

	// Running-process enumeration: whichever revision resolved, plus the
	// struct layout it takes.
	getRunningProcs func(dev nvmlDevice, n *uint32, buf unsafe.Pointer) int32
	runningProcsV2  bool
}

// newRealNvml builds the binding against the explicit library path when one
// is configured, otherwise against the standard search paths.
func newRealNvml(library string) *realNvml {
	paths := dynlib.SearchPaths("libnvidia-ml.so.1")
	if library != "" {
		paths = []string{library}
	}
	return &realNvml{lib: dynlib.New("libnvidia-ml", paths...)}
}

func (n *realNvml) Load() error {
	if err := n.lib.Open(); err != nil {
		return err
	}

	required := []struct {
		fptr   any
		symbol string
	}{
		{&n.getClockInfo, "nvmlDeviceGetClockInfo"},
		{&n.getComputeMode, "nvmlDeviceGetComputeMode"},
		{&n.getFanSpeed, "nvmlDeviceGetFanSpeed"},
		{&n.getMemoryInfo, "nvmlDeviceGetMemoryInfo"},
		{&n.getMaxClockInfo, "nvmlDeviceGetMaxClockInfo"},
		{&n.getName, "nvmlDeviceGetName"},
		{&n.getPerfState, "nvmlDeviceGetPerformanceState"},
		{&n.getPowerLimits, "nvmlDeviceGetPowerManagementLimitConstraints"},
		{&n.getPowerLimit, "nvmlDeviceGetPowerManagementLimit"},
		{&n.getPowerUsage, "nvmlDeviceGetPowerUsage"},
		{&n.getProcUtil, "nvmlDeviceGetProcessUtilization"},
		{&n.getTemperature, "nvmlDeviceGetTemperature"},
		{&n.getUUID, "nvmlDeviceGetUUID"},
		{&n.getUtilRates, "nvmlDeviceGetUtilizationRates"},
		{&n.initLib, "nvmlInit"},
		{&n.getDriverVer, "nvmlSystemGetDriverVersion"},
		{&n.getCudaVer, "nvmlSystemGetCudaDriverVersion"},
	}
	for _, s := range required {
		if err := n.lib.Require(s.fptr, s.symbol); err != nil {
			return err
		}
	}

	// Architecture arrived in API 11. Treat it as best-effort.
	n.lib.Optional(&n.getArch, "nvmlDeviceGetArchitecture")

	if !n.lib.Optional(&n.getCount, "nvmlDeviceGetCount_v2") {
		if err := n.lib.Require(&n.getCount, "nvmlDeviceGetCount"); err != nil {
			return err
		}
	}
	if !n.lib.Optional(&n.getHandle, "nvmlDeviceGetHandleByIndex_v2") {
		if err := n.lib.Require(&n.getHandle, "nvmlDeviceGetHandleByIndex"); err != nil {
			return err
		}
	}
	if !n.lib.Optional(&n.getPciInfo, "nvmlDeviceGetPciInfo_v3") {
		if !n.lib.Optional(&n.getPciInfo, "nvmlDeviceGetPciInfo_v2") {
			if err := n.lib.Require(&n.getPciInfo, "nvmlDeviceGetPciInfo"); err != nil {
				return err
			}
		}
	}
	if n.lib.Optional(&n.getRunningProcs, "nvmlDeviceGetComputeRunningProcesses_v3") ||
		n.lib.Optional(&n.getRunningProcs, "nvmlDeviceGetComputeRunningProcesses_v2") {
		n.runningProcsV2 = true
	} else {
		if err := n.lib.Require(&n.getRunningProcs, "nvmlDeviceGetComputeRunningProcesses"); err != nil {
			return err
		}
	}

	if rc := n.initLib(); rc != 0 {
		return n.lib.Fail(gpuapi.ErrInitFailed{Vendor: gpuapi.VendorNVIDIA, Code: int64(rc)})
	}
	return nil
}

func (n *realNvml) DeviceCount() (uint32, error) {
	var count uint32
	if rc := n.getCount(&count); rc != 0 {
		return 0, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorNVIDIA, Call: "nvmlDeviceGetCount", Code: int64(rc)}
	}
	return count, nil
}

func (n *realNvml) DeviceByIndex(index uint32) (nvmlDevice, error) {
	var dev nvmlDevice
	if rc := n.getHandle(index, &dev); rc != 0 {
		return 0, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorNVIDIA, Call: "nvmlDeviceGetHandleByIndex", Code: int64(rc)}
	}
	return dev, nil
}

func (n *realNvml) Name(dev nvmlDevice) (string, bool) {
	var buf [nameBufSize]byte
	if n.getName(dev, &buf[0], nameBufSize) != 0 {
		return "", false
	}
	return cstr(buf[:]), true
}

func (n *realNvml) UUID(dev nvmlDevice) (string, bool) {
	var buf [uuidBufSize]byte
	if n.getUUID(dev, &buf[0], uuidBufSize) != 0 {
		return "", false
	}
	return cstr(buf[:]), true
}

func (n *realNvml) DriverVersion() (string, bool) {
	var buf [versionBufSize]byte
	if n.getDriverVer(&buf[0], versionBufSize) != 0 {
		return "", false
	}
	return cstr(buf[:]), true
}

func (n *realNvml) CudaDriverVersion() (int32, bool) {
	var v int32
	if n.getCudaVer(&v) != 0 {
		return 0, false
	}
	return v, true
}

func (n *realNvml) Architecture(dev nvmlDevice) (uint32, bool) {
	if n.getArch == nil {
		return 0, false
	}
	var arch uint32
	if n.getArch(dev, &arch) != 0 {
		return 0, false
	}
	return arch, true
}

func (n *realNvml) BusAddr(dev nvmlDevice) (string, bool) {
	var pci nvmlPciInfo
	if n.getPciInfo(dev, &pci) != 0 {
		return "", false
	}
	return cstr(pci.BusID[:]), true
}

func (n *realNvml) MemoryInfo(dev nvmlDevice) (nvmlMemory, bool) {
	var mem nvmlMemory
	if n.getMemoryInfo(dev, &mem) != 0 {
		return nvmlMemory{}, false
	}
	return mem, true
}

func (n *realNvml) PowerLimitConstraints(dev nvmlDevice) (uint32, uint32, bool) {
	var minMilliW, maxMilliW uint32
	if n.getPowerLimits(dev, &minMilliW, &maxMilliW) != 0 {
		return 0, 0, false
	}
	return minMilliW, maxMilliW, true
}

func (n *realNvml) PowerLimit(dev nvmlDevice) (uint32, bool) {
	var limit uint32
	if n.getPowerLimit(dev, &limit) != 0 {
		return 0, false
	}
	return limit, true
}

func (n *realNvml) MaxClock(dev nvmlDevice, clock uint32) (uint32, bool) {
	var mhz uint32
	if n.getMaxClockInfo(dev, clock, &mhz) != 0 {
		return 0, false
	}
	return mhz, true
}

func (n *realNvml) Clock(dev nvmlDevice, clock uint32) (uint32, bool) {
	var mhz uint32
	if n.getClockInfo(dev, clock, &mhz) != 0 {
		return 0, false
	}
	return mhz, true
}

func (n *realNvml) FanSpeed(dev nvmlDevice) (uint32, bool) {
	var pct uint32
	if n.getFanSpeed(dev, &pct) != 0 {
		return 0, false
	}
	return pct, true
}

func (n *realNvml) ComputeMode(dev nvmlDevice) (uint32, bool) {
	var mode uint32
	if n.getComputeMode(dev, &mode) != 0 {
		return 0, false
	}
	return mode, true
}

func (n *realNvml) PerformanceState(dev nvmlDevice) (int32, bool) {
	var state uint32
	if n.getPerfState(dev, &state) != 0 {
		return 0, false
	}
	return int32(state), true
}

func (n *realNvml) Temperature(dev nvmlDevice) (uint32, bool) {
	var c uint32
	if n.getTemperature(dev, nvmlTemperatureGPU, &c) != 0 {
		return 0, false
	}
	return c, true
}

func (n *realNvml) PowerUsage(dev nvmlDevice) (uint32, bool) {
	var mw uint32
	if n.getPowerUsage(dev, &mw) != 0 {
		return 0, false
	}
	return mw, true
}

func (n *realNvml) UtilizationRates(dev nvmlDevice) (uint32, uint32, bool) {
	var rates nvmlUtilization
	if n.getUtilRates(dev, &rates) != 0 {
		return 0, 0, false
	}
	return rates.GPU, rates.Memory, true
}

func (n *realNvml) RunningProcesses(dev nvmlDevice) ([]runningProcess, error) {
	// The count query reports insufficient-size while filling in the
	// needed count, so its return code is ignored.
	var count uint32
	n.getRunningProcs(dev, &count, nil)
	if count == 0 {
		return nil, nil
	}

	out := make([]runningProcess, 0, count)
	if n.runningProcsV2 {
		buf := make([]nvmlProcessInfoV2, count)
		if rc := n.getRunningProcs(dev, &count, unsafe.Pointer(&buf[0])); rc != 0 {
			return nil, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorNVIDIA, Call: "nvmlDeviceGetComputeRunningProcesses", Code: int64(rc)}
		}
		for _, p := range buf[:count] {
			out = append(out, runningProcess{Pid: p.Pid, UsedGpuMemory: p.UsedGpuMemory})
		}
		return out, nil
	}

	buf := make([]nvmlProcessInfoV1, count)
	if rc := n.getRunningProcs(dev, &count, unsafe.Pointer(&buf[0])); rc != 0 {
		return nil, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorNVIDIA, Call: "nvmlDeviceGetComputeRunningProcesses", Code: int64(rc)}
	}
	for _, p := range buf[:count] {
		out = append(out, runningProcess{Pid: p.Pid, UsedGpuMemory: p.UsedGpuMemory})
	}
	return out, nil
}

func (n *realNvml) ProcessUtilization(dev nvmlDevice, sinceMicros uint64) ([]utilizationSample, error) {
	// The count query deliberately ignores the return code: the library
	// reports insufficient-size while filling in the needed count.
	var count uint32
	n.getProcUtil(dev, nil, &count, sinceMicros)
	if count == 0 {
		return nil, nil
	}

	buf := make([]nvmlProcessUtilizationSample, count)
	if rc := n.getProcUtil(dev, unsafe.Pointer(&buf[0]), &count, sinceMicros); rc != 0 {
		return nil, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorNVIDIA, Call: "nvmlDeviceGetProcessUtilization", Code: int64(rc)}
	}
	if int(count) > len(buf) {
		count = uint32(len(buf))
	}
	out := make([]utilizationSample, 0, count)
	for _, s := range buf[:count] {
		out = append(out, utilizationSample{Pid: s.Pid, SmUtil: s.SmUtil, MemUtil: s.MemUtil})
	}
	return out, nil
}

// cstr converts a NUL-terminated byte buffer to a string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
