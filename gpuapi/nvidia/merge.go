// SPDX-FileCopyrightText: 2025 The Sonar Authors
// SPDX-License-Identifier: MIT

//go:build linux

package nvidia

import "github.com/NordicHPC/sonar/gpuapi"

// mergeProcesses folds the running-process table and the utilization
// samples into one row per pid. Running processes seed the rows with exact
// memory sizes; samples fill in the percentages. A sample with no running
// row gets its own row with the memory size derived from the card's used
// memory and the sample's memory percentage. The first occurrence of a pid
// wins within each source.
//
// Always returns a non-nil slice, empty when both sources are.
func mergeProcesses(running []runningProcess, samples []utilizationSample, usedMemBytes uint64) []gpuapi.GpuProcess {
	procs := make([]gpuapi.GpuProcess, 0, len(running)+len(samples))
	rows := make(map[uint32]int, len(running))

	for _, r := range running {
		if _, dup := rows[r.Pid]; dup {
			continue
		}
		rows[r.Pid] = len(procs)
		procs = append(procs, gpuapi.GpuProcess{
			Pid:        r.Pid,
			MemSizeKiB: r.UsedGpuMemory / 1024,
		})
	}

	sampled := make(map[uint32]bool, len(samples))
	for _, s := range samples {
		if sampled[s.Pid] {
			continue
		}
		sampled[s.Pid] = true

		if j, ok := rows[s.Pid]; ok {
			procs[j].GPUUtilPct = s.SmUtil
			procs[j].MemUtilPct = s.MemUtil
			continue
		}
		rows[s.Pid] = len(procs)
		procs = append(procs, gpuapi.GpuProcess{
			Pid:        s.Pid,
			GPUUtilPct: s.SmUtil,
			MemUtilPct: s.MemUtil,
			MemSizeKiB: uint64(s.MemUtil) * usedMemBytes / 100 / 1024,
		})
	}
	return procs
}
