//go:build linux

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// deniedSyscalls fail with EPERM under the built-in filter. Process creation
// and exec stay allowed because compilers fork their own stages.
var deniedSyscalls = []string{
	"ptrace",
	"mount",
	"umount2",
	"reboot",
	"kexec_load",
	"init_module",
	"finit_module",
	"delete_module",
	"swapon",
	"swapoff",
	"setns",
	"unshare",
	"pivot_root",
	"chroot",
	"bpf",
	"perf_event_open",
	"keyctl",
	"add_key",
	"request_key",
}

// deniedSocketFamilies blocks network sockets while keeping unix sockets.
var deniedSocketFamilies = []uint64{unix.AF_INET, unix.AF_INET6}

type seccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

// applySeccomp loads the profile at profilePath, or the built-in deny list
// when profilePath is empty.
func applySeccomp(profilePath string) error {
	var (
		filter *seccomp.ScmpFilter
		err    error
	)
	if profilePath == "" {
		filter, err = defaultFilter()
	} else {
		filter, err = profileFilter(profilePath)
	}
	if err != nil {
		return err
	}
	defer filter.Release()
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

func defaultFilter() (*seccomp.ScmpFilter, error) {
	filter, err := seccomp.NewFilter(seccomp.ActAllow)
	if err != nil {
		return nil, fmt.Errorf("create seccomp filter: %w", err)
	}
	deny := seccomp.ActErrno.SetReturnCode(int16(unix.EPERM))
	for _, name := range deniedSyscalls {
		call, err := seccomp.GetSyscallFromName(name)
		if err != nil {
			// Not present on this architecture.
			continue
		}
		if err := filter.AddRule(call, deny); err != nil {
			filter.Release()
			return nil, fmt.Errorf("add seccomp rule %s: %w", name, err)
		}
	}
	socket, err := seccomp.GetSyscallFromName("socket")
	if err != nil {
		return filter, nil
	}
	for _, family := range deniedSocketFamilies {
		cond, err := seccomp.MakeCondition(0, seccomp.CompareEqual, family)
		if err != nil {
			filter.Release()
			return nil, fmt.Errorf("build socket condition: %w", err)
		}
		if err := filter.AddRuleConditional(socket, deny, []seccomp.ScmpCondition{cond}); err != nil {
			filter.Release()
			return nil, fmt.Errorf("add socket rule: %w", err)
		}
	}
	return filter, nil
}

func profileFilter(profilePath string) (*seccomp.ScmpFilter, error) {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return nil, fmt.Errorf("read seccomp profile: %w", err)
	}
	var cfg seccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return nil, err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return nil, fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			filter.Release()
			return nil, err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				filter.Release()
				return nil, fmt.Errorf("unknown syscall %s: %w", name, err)
			}
			if err := filter.AddRule(call, action); err != nil {
				filter.Release()
				return nil, fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	return filter, nil
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_ERRNO":
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	default:
		return seccomp.ActInvalid, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}
