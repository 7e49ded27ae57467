// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

// Package dynlib locates and opens vendor shared libraries at runtime and
// binds their symbols to Go function pointers. A library is opened at most
// once per process: the first failure, whether at open, symbol resolution,
// or the vendor's own init call, is cached and returned unchanged forever
// after. This makes the load cheap to invoke on every public entry point.
package dynlib

import (
	"fmt"
	"runtime"

	"github.com/ebitengine/purego"
)

// Library is one lazily-opened shared library.
type Library struct {
	name   string
	paths  []string
	handle uintptr
	err    error
}

// NotFoundError reports that none of the candidate paths could be opened.
type NotFoundError struct {
	Name  string
	Paths []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: not found in any of %v", e.Name, e.Paths)
}

// SymbolError reports a required symbol missing from an opened library.
type SymbolError struct {
	Library string
	Symbol  string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("%s: required symbol %s missing", e.Library, e.Symbol)
}

// New describes a library by display name and ordered candidate paths. No
// I/O happens until Open.
func New(name string, paths ...string) *Library {
	return &Library{name: name, paths: paths}
}

// Name returns the library's display name.
func (l *Library) Name() string { return l.name }

// Open tries each candidate path in order and keeps the first success.
// Idempotent: after the first success it returns nil immediately, and after
// the first failure it keeps returning the same error without touching the
// filesystem again.
func (l *Library) Open() error {
	if l.handle != 0 {
		return nil
	}
	if l.err != nil {
		return l.err
	}
	for _, path := range l.paths {
		h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil && h != 0 {
			l.handle = h
			return nil
		}
	}
	l.err = &NotFoundError{Name: l.name, Paths: l.paths}
	return l.err
}

// Fail marks the library terminally unusable. The handle is discarded so
// later Open calls return err instead of the stale handle. Used when a
// required symbol is missing or the vendor init call fails.
func (l *Library) Fail(err error) error {
	l.handle = 0
	l.err = err
	return err
}

// Require resolves a required symbol into fptr (a pointer to a function
// variable). A missing symbol fails the whole library, terminally.
func (l *Library) Require(fptr any, symbol string) error {
	addr, err := purego.Dlsym(l.handle, symbol)
	if err != nil || addr == 0 {
		return l.Fail(&SymbolError{Library: l.name, Symbol: symbol})
	}
	purego.RegisterFunc(fptr, addr)
	return nil
}

// Optional resolves an optional symbol into fptr, reporting whether it was
// present. Absent symbols leave fptr nil; callers use presence to select
// among API revisions.
func (l *Library) Optional(fptr any, symbol string) bool {
	addr, err := purego.Dlsym(l.handle, symbol)
	if err != nil || addr == 0 {
		return false
	}
	purego.RegisterFunc(fptr, addr)
	return true
}

// SearchPaths returns the standard candidate locations for soname in
// probing order: the lib64 spots (64-bit only), the plain lib spots, then
// the multiarch directories. Mirrors the filesystem hierarchy standard plus
// what distributions actually do.
func SearchPaths(soname string) []string {
	var paths []string
	if is64Bit() {
		paths = append(paths,
			"/usr/lib64/"+soname,
			"/lib64/"+soname,
		)
	}
	arch := unameArch()
	paths = append(paths,
		"/usr/lib/"+soname,
		"/lib/"+soname,
		"/usr/lib/"+arch+"-linux-gnu/"+soname,
		"/lib/"+arch+"-linux-gnu/"+soname,
	)
	return paths
}

func is64Bit() bool {
	return (32 << (^uintptr(0) >> 63)) == 64
}

// unameArch maps GOARCH to the machine name used in multiarch directories.
func unameArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i386"
	case "ppc64le":
		return "powerpc64le"
	case "riscv64":
		return "riscv64"
	default:
		return runtime.GOARCH
	}
}
