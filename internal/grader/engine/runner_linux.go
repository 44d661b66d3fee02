//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	appErr "codegrader/pkg/errors"
	"codegrader/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type linuxRunner struct {
	cfg Config
}

// NewRunner creates a Linux process runner.
func NewRunner(cfg Config) (Runner, error) {
	if cfg.MaxStderrBytes <= 0 {
		cfg.MaxStderrBytes = defaultMaxStderrBytes
	}
	if cfg.MaxStdoutBytes <= 0 {
		cfg.MaxStdoutBytes = defaultMaxStdoutBytes
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, appErr.ValidationError("cgroup_root", "required when cgroups are enabled")
	}
	if cfg.EnableSeccomp && cfg.HelperPath == "" {
		return nil, appErr.ValidationError("sandbox_init_path", "required when seccomp is enabled")
	}
	if cfg.HelperPath != "" {
		path, err := exec.LookPath(cfg.HelperPath)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxError, "sandbox helper not found")
		}
		cfg.HelperPath = path
	}
	return &linuxRunner{cfg: cfg}, nil
}

func (r *linuxRunner) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	if err := validateRunSpec(spec); err != nil {
		return RunResult{}, err
	}

	var cgroupDir *os.File
	cgroupPath := ""
	if r.cfg.EnableCgroup {
		path, cleanup, err := createRunCgroup(r.cfg.CgroupRoot, spec.Label)
		if err != nil {
			return RunResult{}, appErr.Wrapf(err, appErr.SandboxError, "create cgroup failed")
		}
		defer cleanup()
		if err := applyCgroupLimits(path, spec.Limits); err != nil {
			return RunResult{}, appErr.Wrapf(err, appErr.SandboxError, "apply cgroup limits failed")
		}
		dir, err := os.Open(path)
		if err != nil {
			return RunResult{}, appErr.Wrapf(err, appErr.SandboxError, "open cgroup failed")
		}
		defer dir.Close()
		cgroupDir = dir
		cgroupPath = path
	}

	var helperStderr bytes.Buffer
	cmd, files, err := r.buildCmd(spec, &helperStderr)
	if err != nil {
		return RunResult{}, err
	}
	cmd.SysProcAttr = r.buildSysProcAttr(cgroupDir)

	start := time.Now()
	startErr := cmd.Start()
	closeAll(files)
	if startErr != nil {
		return RunResult{}, appErr.Wrapf(startErr, appErr.ToolchainError, "start %s failed", filepath.Base(spec.Cmd.Argv[0]))
	}
	pid := cmd.Process.Pid

	if r.cfg.HelperPath == "" {
		if err := applyPrlimits(pid, spec.Limits); err != nil {
			logger.Warn(ctx, "apply rlimits failed", zap.Int("pid", pid), zap.Error(err))
		}
	}

	var timedOut, canceled atomic.Bool
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(spec.Limits.WallTimeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			canceled.Store(true)
			r.kill(pid, cgroupPath)
		case <-timer.C:
			timedOut.Store(true)
			r.kill(pid, cgroupPath)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	wall := time.Since(start)
	// Reap anything the child left running in its group.
	r.kill(pid, cgroupPath)

	if canceled.Load() {
		return RunResult{}, appErr.Wrapf(ctx.Err(), appErr.Timeout, "execution canceled")
	}

	state := cmd.ProcessState
	res := RunResult{
		ExitCode:   exitCodeFromErr(waitErr, state),
		TimedOut:   timedOut.Load(),
		CPUTimeMs:  cpuTimeMs(state),
		WallTimeMs: wall.Milliseconds(),
		MemoryKB:   memoryPeakKB(cgroupPath, state),
		OomKilled:  wasOomKilled(cgroupPath),
	}
	if status, ok := waitStatus(state); ok && status.Signaled() {
		sig := status.Signal()
		res.SignalName = unix.SignalName(sig)
		res.CPUExceeded = sig == syscall.SIGXCPU
		res.OutputExceeded = sig == syscall.SIGXFSZ
	}
	if res.TimedOut {
		res.ExitCode = -1
	}

	if r.cfg.HelperPath != "" && res.ExitCode == HelperFailureExitCode && helperStderr.Len() > 0 {
		return RunResult{}, appErr.New(appErr.SandboxError).
			WithMessage("sandbox setup failed").
			WithDetail("helper_stderr", strings.TrimSpace(helperStderr.String()))
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			logger.Warn(ctx, "process wait failed", zap.Error(waitErr))
		}
	}

	res.OutputBytes = fileSize(spec.StdoutPath)
	res.StderrBytes = fileSize(spec.StderrPath)
	// Output beyond the capture ceiling cannot be compared.
	if res.OutputBytes > r.cfg.MaxStdoutBytes {
		res.OutputExceeded = true
	}
	res.Stdout = readLimitedFile(spec.StdoutPath, r.cfg.MaxStdoutBytes)
	res.Stderr = readLimitedFile(spec.StderrPath, r.cfg.MaxStderrBytes)
	return res, nil
}

func (r *linuxRunner) buildCmd(spec RunSpec, helperStderr *bytes.Buffer) (*exec.Cmd, []*os.File, error) {
	if r.cfg.HelperPath != "" {
		payload, err := json.Marshal(newInitRequest(spec, r.cfg))
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.SandboxError, "encode init request failed")
		}
		cmd := exec.Command(r.cfg.HelperPath)
		cmd.Env = []string{}
		cmd.Dir = spec.Cmd.Dir
		cmd.Stdin = bytes.NewReader(payload)
		cmd.Stdout = &bytes.Buffer{}
		cmd.Stderr = helperStderr
		return cmd, nil, nil
	}

	env := BuildEnv(spec.Cmd.Env)
	path, err := lookPath(spec.Cmd.Argv[0], env)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.ToolchainError, "command %s not found", filepath.Base(spec.Cmd.Argv[0]))
	}

	stdinPath := spec.StdinPath
	if stdinPath == "" {
		stdinPath = os.DevNull
	}
	stdin, err := os.Open(stdinPath)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.WorkspaceError, "open stdin failed")
	}
	stdout, err := os.OpenFile(spec.StdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		_ = stdin.Close()
		return nil, nil, appErr.Wrapf(err, appErr.WorkspaceError, "open stdout failed")
	}
	stderr, err := os.OpenFile(spec.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, nil, appErr.Wrapf(err, appErr.WorkspaceError, "open stderr failed")
	}

	cmd := &exec.Cmd{
		Path:   path,
		Args:   spec.Cmd.Argv,
		Env:    env,
		Dir:    spec.Cmd.Dir,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	}
	return cmd, []*os.File{stdin, stdout, stderr}, nil
}

func (r *linuxRunner) buildSysProcAttr(cgroupDir *os.File) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if cgroupDir != nil {
		attr.UseCgroupFD = true
		attr.CgroupFD = int(cgroupDir.Fd())
	}
	if r.cfg.RunAsUID > 0 {
		attr.Credential = &syscall.Credential{
			Uid:         uint32(r.cfg.RunAsUID),
			Gid:         uint32(r.cfg.RunAsGID),
			NoSetGroups: false,
		}
	}
	return attr
}

func (r *linuxRunner) kill(pid int, cgroupPath string) {
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}
}

// applyPrlimits limits an already started child. Used only without the
// helper, which sets the same limits before exec.
func applyPrlimits(pid int, limits Limits) error {
	set := func(resource int, value uint64) error {
		return unix.Prlimit(pid, resource, &unix.Rlimit{Cur: value, Max: value}, nil)
	}
	if limits.CPUTime > 0 {
		seconds := uint64((limits.CPUTime.Milliseconds() + 999) / 1000)
		if err := set(unix.RLIMIT_CPU, seconds); err != nil {
			return err
		}
	}
	if limits.OutputBytes > 0 {
		if err := set(unix.RLIMIT_FSIZE, uint64(limits.OutputBytes)); err != nil {
			return err
		}
	}
	if limits.StackBytes > 0 {
		if err := set(unix.RLIMIT_STACK, uint64(limits.StackBytes)); err != nil {
			return err
		}
	}
	if limits.LimitAddressSpace && limits.MemoryBytes > 0 {
		if err := set(unix.RLIMIT_AS, uint64(limits.MemoryBytes)); err != nil {
			return err
		}
	}
	return nil
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func waitStatus(state *os.ProcessState) (syscall.WaitStatus, bool) {
	if state == nil {
		return 0, false
	}
	status, ok := state.Sys().(syscall.WaitStatus)
	return status, ok
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
