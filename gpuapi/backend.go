// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

// Package gpuapi defines the uniform device and process contract every
// vendor backend implements, the shared value records, and the backend
// registry. Vendor-specific details (library locations, symbol revisions,
// unit quirks) are handled internally by each vendor's package.
package gpuapi

// Backend is the uniform operation set of one vendor backend.
//
// Devices are identified by a dense index 0 <= i < DeviceCount(), valid
// only within one process lifetime. Every operation performs a lazy,
// idempotent library load on demand; a failed load is terminal and all
// later operations keep returning the cached failure.
//
// Process-table lifecycle: ProbeProcesses allocates an internal snapshot
// (even for zero rows), Process reads rows from it, FreeProcesses releases
// it. At most one snapshot is live per backend; a second probe without an
// intervening free fails. A failed probe leaves the backend unprobed with
// nothing to free.
//
// Backends serialize their own state with one mutex per instance, held for
// the duration of each public operation. They do not make the underlying
// vendor libraries safe for use from multiple backend instances.
type Backend interface {
	// Vendor returns the backend's vendor tag.
	Vendor() Vendor

	// DeviceCount returns the number of devices, fixed for the remainder
	// of the process lifetime once obtained.
	DeviceCount() (int, error)

	// CardInfo returns the static attributes of device index. The record
	// is zero-cleared and then best-effort filled field by field.
	CardInfo(index int) (CardInfo, error)

	// CardState returns a point-in-time sample of device index, with the
	// same zero-then-best-effort contract as CardInfo.
	CardState(index int) (CardState, error)

	// ProbeProcesses samples the card's process tables into an internal
	// snapshot and returns the row count.
	ProbeProcesses(index int) (int, error)

	// Process returns one row of the live snapshot by copy.
	Process(row int) (GpuProcess, error)

	// FreeProcesses releases the live snapshot. It is safe to call when
	// the snapshot is empty or absent.
	FreeProcesses()
}

// Unsupported returns a Backend whose every operation fails with
// ErrUnsupported for the given vendor. It never touches a library, the
// environment, or the filesystem. Non-Linux builds and vendors disabled by
// configuration degrade to this.
func Unsupported(vendor Vendor) Backend {
	return unsupported{vendor: vendor}
}

type unsupported struct {
	vendor Vendor
}

func (u unsupported) Vendor() Vendor { return u.vendor }

func (u unsupported) DeviceCount() (int, error) {
	return 0, ErrUnsupported{Vendor: u.vendor}
}

func (u unsupported) CardInfo(index int) (CardInfo, error) {
	return CardInfo{}, ErrUnsupported{Vendor: u.vendor}
}

func (u unsupported) CardState(index int) (CardState, error) {
	return CardState{}, ErrUnsupported{Vendor: u.vendor}
}

func (u unsupported) ProbeProcesses(index int) (int, error) {
	return 0, ErrUnsupported{Vendor: u.vendor}
}

func (u unsupported) Process(row int) (GpuProcess, error) {
	return GpuProcess{}, ErrUnsupported{Vendor: u.vendor}
}

func (u unsupported) FreeProcesses() {}
