// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

package xpu

import (
	"bytes"
	"os"
	"unsafe"

	"github.com/NordicHPC/sonar/gpuapi"
	"github.com/NordicHPC/sonar/internal/dynlib"
)

// xpumDeviceID is the library's device identifier, not necessarily dense.
type xpumDeviceID int32

// Result codes.
const (
	xpumOK             = 0
	xpumBufferTooSmall = 2
)

// Property names, from the xpum device property enum.
const (
	xpumPropDeviceName          = 1
	xpumPropPciBdfAddress       = 6
	xpumPropDriverVersion       = 11
	xpumPropCoreClockRateMHz    = 15
	xpumPropMemoryPhysicalBytes = 16
	xpumPropGfxDataFwName       = 37
	xpumPropGfxDataFwVersion    = 38
)

// Stats metric types, from the xpum stats type enum. These are the same
// numbers handed to the library in the XPUM_METRICS environment variable.
const (
	xpumStatsGPUUtilization    = 0
	xpumStatsPower             = 4
	xpumStatsGPUFrequency      = 6
	xpumStatsGPUTemperature    = 7
	xpumStatsMemoryUsed        = 8
	xpumStatsMemoryUtilization = 9
)

const (
	xpumMaxStrLength    = 256
	xpumMaxProperties   = 100
	xpumMaxStatsEntries = 50
)

// xpumProperty is one name/value pair from the device property table. All
// values are strings, numeric ones in decimal.
type xpumProperty struct {
	Name  int32
	Value string
}

// xpumStat is one metric sample. Value is scaled by Scale for the
// fractional metrics.
type xpumStat struct {
	MetricsType int32
	Value       uint64
	Scale       uint32
}

// xpumProcessUtil is one row of the per-process utilization query.
type xpumProcessUtil struct {
	Pid               uint32
	MemSize           uint64
	ComputeEngineUtil float64
}

// xpumLib is the surface of the XPU manager library the backend consumes.
type xpumLib interface {
	// Load opens the library, configures it through the environment,
	// initializes it, and fetches the device list. Called at most once.
	Load() error

	// Devices returns the device ids in list order. Valid after Load.
	Devices() []xpumDeviceID

	Properties(dev xpumDeviceID) ([]xpumProperty, error)
	PowerLimitSustained(dev xpumDeviceID) (int32, bool)
	Stats(dev xpumDeviceID) ([]xpumStat, error)
	ProcessUtilization(dev xpumDeviceID) ([]xpumProcessUtil, error)
}

// FFI struct layouts, mirroring xpum_structs.h.

type xpumDeviceBasicInfo struct {
	DeviceID      int32
	Type          int32
	UUID          [xpumMaxStrLength]byte
	DeviceName    [xpumMaxStrLength]byte
	PciDeviceID   [xpumMaxStrLength]byte
	PciBdfAddress [xpumMaxStrLength]byte
	VendorName    [xpumMaxStrLength]byte
	DrmDevice     [xpumMaxStrLength]byte
	FunctionType  int32
}

type xpumRawProperty struct {
	Name  int32
	Value [xpumMaxStrLength]byte
}

type xpumDeviceProperties struct {
	DeviceID    int32
	Properties  [xpumMaxProperties]xpumRawProperty
	PropertyLen int32
}

type xpumPowerSustainedLimit struct {
	Enabled  bool
	_        [3]byte
	Power    int32
	Interval int32
}

type xpumPowerLimits struct {
	SustainedLimit xpumPowerSustainedLimit
}

type xpumRawStatsData struct {
	MetricsType int32
	IsCounter   bool
	_           [3]byte
	Value       uint64
	Accumulated uint64
	Min         uint64
	Avg         uint64
	Max         uint64
	Scale       uint32
	_           [4]byte
}

type xpumRawStats struct {
	DeviceID   int32
	IsTileData bool
	_          [3]byte
	TileID     int32
	Count      int32
	DataList   [xpumMaxStatsEntries]xpumRawStatsData
}

type xpumRawProcessUtil struct {
	Pid                  uint32
	DeviceID             uint32
	MemSize              uint64
	SharedMemSize        uint64
	RenderingEngineUtil  float64
	ComputeEngineUtil    float64
	CopyEngineUtil       float64
	MediaEngineUtil      float64
	MediaEnhancementUtil float64
	ProcessName          [xpumMaxStrLength]byte
}

// utilIntervalMicros is the sampling interval handed to the per-process
// utilization query.
const utilIntervalMicros = 100 * 1000

type realXpum struct {
	lib *dynlib.Library

	initLib        func() int32
	shutdown       func() int32
	getDeviceList  func(buf unsafe.Pointer, count *int32) int32
	getProperties  func(dev int32, out *xpumDeviceProperties) int32
	getPowerLimits func(dev int32, tile int32, out *xpumPowerLimits) int32
	getStats       func(dev int32, buf unsafe.Pointer, count *uint32, begin, end *uint64, session uint64) int32
	getProcUtil    func(dev int32, intervalMicros uint32, buf unsafe.Pointer, count *uint32) int32

	devices []xpumDeviceID
}

func newRealXpum(library string) *realXpum {
	paths := dynlib.SearchPaths("libxpum.so.1")
	if library != "" {
		paths = []string{library}
	}
	return &realXpum{lib: dynlib.New("libxpum", paths...)}
}

func (x *realXpum) Load() error {
	if err := x.lib.Open(); err != nil {
		return err
	}

	symbols := []struct {
		fptr   any
		symbol string
	}{
		{&x.initLib, "xpumInit"},
		{&x.shutdown, "xpumShutdown"},
		{&x.getDeviceList, "xpumGetDeviceList"},
		{&x.getProperties, "xpumGetDeviceProperties"},
		{&x.getPowerLimits, "xpumGetDevicePowerLimits"},
		{&x.getStats, "xpumGetStats"},
		{&x.getProcUtil, "xpumGetDeviceUtilizationByProcess"},
	}
	for _, s := range symbols {
		if err := x.lib.Require(s.fptr, s.symbol); err != nil {
			return err
		}
	}

	// The library takes its configuration from the environment, not from
	// call parameters. Keep it from spinning up its own monitoring
	// threads and restrict collection to the metrics we read.
	os.Setenv("XPUM_DISABLE_PERIODIC_METRIC_MONITOR", "1")
	os.Setenv("XPUM_METRICS", "0,4,6,7,8,9")

	if rc := x.initLib(); rc != xpumOK {
		return x.lib.Fail(gpuapi.ErrInitFailed{Vendor: gpuapi.VendorXPU, Code: int64(rc)})
	}

	var count int32
	if rc := x.getDeviceList(nil, &count); rc != xpumOK {
		return x.lib.Fail(gpuapi.ErrVendorCall{Vendor: gpuapi.VendorXPU, Call: "xpumGetDeviceList", Code: int64(rc)})
	}
	if count > 0 {
		buf := make([]xpumDeviceBasicInfo, count)
		if rc := x.getDeviceList(unsafe.Pointer(&buf[0]), &count); rc != xpumOK {
			return x.lib.Fail(gpuapi.ErrVendorCall{Vendor: gpuapi.VendorXPU, Call: "xpumGetDeviceList", Code: int64(rc)})
		}
		x.devices = make([]xpumDeviceID, 0, count)
		for _, d := range buf[:count] {
			x.devices = append(x.devices, xpumDeviceID(d.DeviceID))
		}
	}
	return nil
}

func (x *realXpum) Devices() []xpumDeviceID {
	return x.devices
}

func (x *realXpum) Properties(dev xpumDeviceID) ([]xpumProperty, error) {
	var props xpumDeviceProperties
	if rc := x.getProperties(int32(dev), &props); rc != xpumOK {
		return nil, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorXPU, Call: "xpumGetDeviceProperties", Code: int64(rc)}
	}
	n := props.PropertyLen
	if n < 0 || n > xpumMaxProperties {
		n = 0
	}
	out := make([]xpumProperty, 0, n)
	for _, p := range props.Properties[:n] {
		out = append(out, xpumProperty{Name: p.Name, Value: xstr(p.Value[:])})
	}
	return out, nil
}

func (x *realXpum) PowerLimitSustained(dev xpumDeviceID) (int32, bool) {
	var limits xpumPowerLimits
	if x.getPowerLimits(int32(dev), -1, &limits) != xpumOK {
		return 0, false
	}
	return limits.SustainedLimit.Power, true
}

func (x *realXpum) Stats(dev xpumDeviceID) ([]xpumStat, error) {
	var count uint32
	var begin, end uint64
	if rc := x.getStats(int32(dev), nil, &count, &begin, &end, 0); rc != xpumOK {
		return nil, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorXPU, Call: "xpumGetStats", Code: int64(rc)}
	}
	if count == 0 {
		return nil, nil
	}

	buf := make([]xpumRawStats, count)
	if rc := x.getStats(int32(dev), unsafe.Pointer(&buf[0]), &count, &begin, &end, 0); rc != xpumOK {
		return nil, gpuapi.ErrVendorCall{Vendor: gpuapi.VendorXPU, Call: "xpumGetStats", Code: int64(rc)}
	}
	if int(count) > len(buf) {
		count = uint32(len(buf))
	}

	// The outer array can cover several devices; take the first entry
	// matching ours.
	var out []xpumStat
	for _, s := range buf[:count] {
		if xpumDeviceID(s.DeviceID) != dev {
			continue
		}
		n := s.Count
		if n < 0 || n > xpumMaxStatsEntries {
			n = 0
		}
		for _, d := range s.DataList[:n] {
			out = append(out, xpumStat{MetricsType: d.MetricsType, Value: d.Value, Scale: d.Scale})
		}
		break
	}
	return out, nil
}

func (x *realXpum) ProcessUtilization(dev xpumDeviceID) ([]xpumProcessUtil, error) {
	var buf []xpumRawProcessUtil
	var used uint32
	err := growQuery("xpumGetDeviceUtilizationByProcess", func(capacity uint32) int32 {
		buf = make([]xpumRawProcessUtil, capacity)
		used = capacity
		return x.getProcUtil(int32(dev), utilIntervalMicros, unsafe.Pointer(&buf[0]), &used)
	})
	if err != nil {
		return nil, err
	}
	if int(used) > len(buf) {
		used = uint32(len(buf))
	}
	out := make([]xpumProcessUtil, 0, used)
	for _, p := range buf[:used] {
		out = append(out, xpumProcessUtil{
			Pid:               p.Pid,
			MemSize:           p.MemSize,
			ComputeEngineUtil: p.ComputeEngineUtil,
		})
	}
	return out, nil
}

// xstr converts a NUL-terminated byte buffer to a string.
func xstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
