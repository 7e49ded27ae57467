// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

package gpuapi

// Vendor identifies the GPU management library family a backend speaks to.
type Vendor string

const (
	VendorNVIDIA Vendor = "nvidia"
	VendorAMD    Vendor = "amd"
	VendorHabana Vendor = "habana"
	VendorXPU    Vendor = "xpu"
	VendorFake   Vendor = "fake"
)

// ComputeMode is the card's compute-sharing configuration. The zero value is
// ComputeModeUnknown, which is distinct from every real mode and never used
// to signal an error.
type ComputeMode int

const (
	ComputeModeUnknown ComputeMode = iota
	ComputeModeDefault
	ComputeModeProhibited
	ComputeModeExclusiveProcess
)

// String returns a human-readable name for the compute mode
func (m ComputeMode) String() string {
	switch m {
	case ComputeModeDefault:
		return "default"
	case ComputeModeProhibited:
		return "prohibited"
	case ComputeModeExclusiveProcess:
		return "exclusive-process"
	default:
		return "unknown"
	}
}

// PerfStateUnknown is the sentinel for a performance state the vendor
// library reports as unknown. Real states are nonnegative.
const PerfStateUnknown = -1

// CardInfo holds the static attributes of one card. Records are zero-cleared
// before population; any field the vendor library could not supply stays at
// its zero value.
//
// Units are fixed by the contract regardless of the vendor's native units:
// bytes for memory, Watts for power, MHz for clocks.
type CardInfo struct {
	// BusAddr is the card's bus address, PCI busId form for all current
	// backends.
	BusAddr string

	// Model is the manufacturer's human-readable model name.
	Model string

	// Architecture is the device generation, or "(unknown)".
	Architecture string

	// Driver is the driver version, the same for all cards on a node.
	Driver string

	// Firmware is a vendor-defined firmware descriptor (for NVIDIA, the
	// CUDA version).
	Firmware string

	// UUID is a best-effort unique identifier: the vendor UUID where one
	// exists, otherwise synthesized (see the xpu backend).
	UUID string

	TotalMemBytes uint64

	PowerLimitWatt    uint32
	MinPowerLimitWatt uint32
	MaxPowerLimitWatt uint32

	MinCEClockMHz  uint32
	MaxCEClockMHz  uint32
	MinMemClockMHz uint32
	MaxMemClockMHz uint32
}

// CardState is a point-in-time sample of one card. Like CardInfo it is
// zero-cleared and then best-effort filled, field by field.
type CardState struct {
	// FanSpeedPct is percent of the fan's maximum and may exceed 100.
	FanSpeedPct float32

	ComputeMode ComputeMode

	// PerfState is PerfStateUnknown or a nonnegative vendor state number.
	// A vendor sub-call failure leaves it at 0, like every other field.
	PerfState int

	// MemReservedBytes is derived as total - (free + used) where the
	// vendor exposes all three; its precise meaning is vendor-dependent.
	MemReservedBytes uint64
	MemUsedBytes     uint64

	GPUUtilPct float32
	MemUtilPct float32

	TempC uint32

	PowerWatt      uint32
	PowerLimitWatt uint32

	CEClockMHz  uint32
	MemClockMHz uint32
}

// GpuProcess is one row of a process-table snapshot. The probe layer knows
// nothing about users or command names; callers resolve the pid against the
// OS process table themselves.
type GpuProcess struct {
	// Pid is the OS process ID.
	Pid uint32

	// GPUUtilPct and MemUtilPct are aggregate percentages across all cards
	// the process touches for that vendor query.
	GPUUtilPct uint32
	MemUtilPct uint32

	// MemSizeKiB is the aggregate GPU memory size in KiB.
	MemSizeKiB uint64

	// Cards is the set of device indices the process is active on, for
	// backends that report it (currently only amd). Zero elsewhere.
	Cards CardSet
}

// CardSet is a bitmap of device indices, one bit per index. Indices at or
// beyond the bitmap width cannot be represented and are dropped by Add.
type CardSet uint32

// CardSetWidth is the largest representable index plus one.
const CardSetWidth = 32

// Add sets the bit for index. Out-of-width indices are ignored.
func (s *CardSet) Add(index int) {
	if index < 0 || index >= CardSetWidth {
		return
	}
	*s |= 1 << uint(index)
}

// Has reports whether the bit for index is set.
func (s CardSet) Has(index int) bool {
	if index < 0 || index >= CardSetWidth {
		return false
	}
	return s&(1<<uint(index)) != 0
}

// Indices returns the set members in ascending order.
func (s CardSet) Indices() []int {
	var out []int
	for i := 0; s != 0; i, s = i+1, s>>1 {
		if s&1 != 0 {
			out = append(out, i)
		}
	}
	return out
}
