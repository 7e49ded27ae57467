// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

package gpuapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnsupportedUniformFailure(t *testing.T) {
	b := Unsupported(VendorHabana)
	want := ErrUnsupported{Vendor: VendorHabana}

	assert.Equal(t, VendorHabana, b.Vendor())

	_, err := b.DeviceCount()
	assert.Equal(t, want, err)

	info, err := b.CardInfo(0)
	assert.Equal(t, want, err)
	assert.Zero(t, info)

	state, err := b.CardState(0)
	assert.Equal(t, want, err)
	assert.Zero(t, state)

	_, err = b.ProbeProcesses(0)
	assert.Equal(t, want, err)

	proc, err := b.Process(0)
	assert.Equal(t, want, err)
	assert.Zero(t, proc)

	// FreeProcesses has nothing to release and must not panic.
	b.FreeProcesses()
}
