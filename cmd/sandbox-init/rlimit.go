//go:build linux

package main

import (
	"fmt"

	"codegrader/internal/grader/engine"

	"golang.org/x/sys/unix"
)

// maxOpenFiles caps descriptors for the user command.
const maxOpenFiles = 256

type rlimit struct {
	name     string
	resource int
	value    uint64
}

func planRlimits(req engine.InitRequest) []rlimit {
	var out []rlimit
	if req.CPUTimeMs > 0 {
		// RLIMIT_CPU has second granularity; round up and let the wall clock
		// timer catch the rest.
		out = append(out, rlimit{"cpu", unix.RLIMIT_CPU, uint64((req.CPUTimeMs + 999) / 1000)})
	}
	if req.OutputBytes > 0 {
		out = append(out, rlimit{"fsize", unix.RLIMIT_FSIZE, uint64(req.OutputBytes)})
	}
	if req.StackBytes > 0 {
		out = append(out, rlimit{"stack", unix.RLIMIT_STACK, uint64(req.StackBytes)})
	}
	if req.LimitAS && req.MemoryBytes > 0 {
		out = append(out, rlimit{"as", unix.RLIMIT_AS, uint64(req.MemoryBytes)})
	}
	if req.LimitNproc && req.Processes > 0 {
		out = append(out, rlimit{"nproc", unix.RLIMIT_NPROC, uint64(req.Processes)})
	}
	out = append(out, rlimit{"nofile", unix.RLIMIT_NOFILE, maxOpenFiles})
	return out
}

func applyRlimits(req engine.InitRequest) error {
	for _, l := range planRlimits(req) {
		if err := unix.Setrlimit(l.resource, &unix.Rlimit{Cur: l.value, Max: l.value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.name, err)
		}
	}
	return nil
}
