package engine

// HelperFailureExitCode is used by sandbox-init when setup fails before the
// user command starts. The reason is written to the helper's own stderr.
const HelperFailureExitCode = 125

// InitRequest is the JSON document the runner writes to sandbox-init's stdin.
// RLIMIT_NPROC counts every process of the uid, so it is only applied when
// children run under a dedicated uid.
type InitRequest struct {
	Argv           []string `json:"argv"`
	Env            []string `json:"env"`
	WorkDir        string   `json:"work_dir"`
	StdinPath      string   `json:"stdin_path"`
	StdoutPath     string   `json:"stdout_path"`
	StderrPath     string   `json:"stderr_path"`
	CPUTimeMs      int64    `json:"cpu_time_ms"`
	MemoryBytes    int64    `json:"memory_bytes"`
	LimitAS        bool     `json:"limit_as"`
	OutputBytes    int64    `json:"output_bytes"`
	StackBytes     int64    `json:"stack_bytes"`
	Processes      int64    `json:"processes"`
	LimitNproc     bool     `json:"limit_nproc"`
	EnableSeccomp  bool     `json:"enable_seccomp"`
	SeccompProfile string   `json:"seccomp_profile,omitempty"`
}

func newInitRequest(spec RunSpec, cfg Config) InitRequest {
	return InitRequest{
		Argv:           spec.Cmd.Argv,
		Env:            BuildEnv(spec.Cmd.Env),
		WorkDir:        spec.Cmd.Dir,
		StdinPath:      spec.StdinPath,
		StdoutPath:     spec.StdoutPath,
		StderrPath:     spec.StderrPath,
		CPUTimeMs:      spec.Limits.CPUTime.Milliseconds(),
		MemoryBytes:    spec.Limits.MemoryBytes,
		LimitAS:        spec.Limits.LimitAddressSpace,
		OutputBytes:    spec.Limits.OutputBytes,
		StackBytes:     spec.Limits.StackBytes,
		Processes:      spec.Limits.Processes,
		LimitNproc:     cfg.RunAsUID > 0,
		EnableSeccomp:  cfg.EnableSeccomp,
		SeccompProfile: cfg.SeccompProfile,
	}
}
