// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

package gpuapi

import "fmt"

// ErrUnsupported is returned by every operation of a backend whose vendor
// support is not compiled in or has been disabled by configuration. Callers
// treat it like "hardware absent"; no vendor-conditional logic is needed at
// the call site.
type ErrUnsupported struct {
	Vendor Vendor
}

func (e ErrUnsupported) Error() string {
	return fmt.Sprintf("%s: vendor not supported in this build", e.Vendor)
}

// ErrInitFailed is returned when the vendor library loaded but its own
// initialization entry point failed. The failure is terminal for the
// process lifetime.
type ErrInitFailed struct {
	Vendor Vendor
	Code   int64
}

func (e ErrInitFailed) Error() string {
	return fmt.Sprintf("%s: library init failed with code %d", e.Vendor, e.Code)
}

// ErrDeviceNotFound is returned when a device index falls outside the dense
// range [0, Count). It is detected before any native call is made.
type ErrDeviceNotFound struct {
	Index int
	Count int
}

func (e ErrDeviceNotFound) Error() string {
	return fmt.Sprintf("device index %d out of range [0, %d)", e.Index, e.Count)
}

// ErrSnapshotLive is returned by ProbeProcesses when a previous snapshot has
// not been released with FreeProcesses.
type ErrSnapshotLive struct{}

func (e ErrSnapshotLive) Error() string {
	return "process snapshot already live; call FreeProcesses first"
}

// ErrNoSnapshot is returned by Process when no snapshot is live, either
// because ProbeProcesses was never called or because FreeProcesses released
// it.
type ErrNoSnapshot struct{}

func (e ErrNoSnapshot) Error() string {
	return "no live process snapshot; call ProbeProcesses first"
}

// ErrRowNotFound is returned by Process when the row index falls outside
// the live snapshot.
type ErrRowNotFound struct {
	Row  int
	Rows int
}

func (e ErrRowNotFound) Error() string {
	return fmt.Sprintf("process row %d out of range [0, %d)", e.Row, e.Rows)
}

// ErrBufferLimit is returned when a vendor query keeps demanding a larger
// result buffer past the growth bound. Distinct from ErrVendorCall so
// callers can tell "the library misbehaved" from "the library said no".
type ErrBufferLimit struct {
	Vendor Vendor
	Call   string
}

func (e ErrBufferLimit) Error() string {
	return fmt.Sprintf("%s: %s still wants a larger buffer at the growth bound", e.Vendor, e.Call)
}

// ErrVendorCall wraps a failing vendor library call whose failure aborts
// the whole operation (as opposed to the per-field best-effort calls, whose
// failures leave zero values).
type ErrVendorCall struct {
	Vendor Vendor
	Call   string
	Code   int64
}

func (e ErrVendorCall) Error() string {
	return fmt.Sprintf("%s: %s failed with code %d", e.Vendor, e.Call, e.Code)
}
