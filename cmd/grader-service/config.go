package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"codegrader/internal/common/cache"
	"codegrader/internal/common/mq"
	"codegrader/internal/grader/engine"
	"codegrader/internal/grader/toolchain"
	"codegrader/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "configs/grader.yaml"
	defaultEnvFile    = ".env"

	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 2 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	defaultWorkspaceRoot    = "/tmp/codegrader"
	defaultAdmissionTimeout = 5 * time.Second
	defaultStatusTimeout    = 2 * time.Second
	defaultJobTTL           = 24 * time.Hour

	defaultWallTimeout = 2 * time.Second
	defaultMemoryBytes = 256 << 20
	defaultOutputBytes = 16 << 20
	defaultStackBytes  = 64 << 20
	defaultProcesses   = 64

	defaultJobTopic      = "grader.jobs"
	defaultDeadLetter    = "grader.jobs.dlq"
	defaultVerdictTopic  = "grader.verdicts"
	defaultConsumerGroup = "codegrader-jobs"
	defaultMaxRetries    = 3
	defaultRetryDelay    = time.Second

	defaultRateWindow  = time.Minute
	defaultMetricsPath = "/metrics"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// GraderConfig holds workspace, pool and sandbox settings.
type GraderConfig struct {
	WorkspaceRoot       string        `yaml:"workspace_root"`
	MaxConcurrent       int           `yaml:"max_concurrent"`
	AdmissionTimeout    time.Duration `yaml:"admission_timeout"`
	StrictCompileStderr *bool         `yaml:"strict_compile_stderr"`
	SandboxInitPath     string        `yaml:"sandbox_init_path"`
	EnableSeccomp       bool          `yaml:"enable_seccomp"`
	SeccompProfile      string        `yaml:"seccomp_profile"`
	EnableCgroup        bool          `yaml:"enable_cgroup"`
	CgroupRoot          string        `yaml:"cgroup_root"`
	RunAsUID            int           `yaml:"run_as_uid"`
	RunAsGID            int           `yaml:"run_as_gid"`
	MaxSourceBytes      int           `yaml:"max_source_bytes"`
	MaxInputBytes       int           `yaml:"max_input_bytes"`
	MaxTestCases        int           `yaml:"max_test_cases"`
}

// LimitsConfig holds the base limits of one test case run. Language
// multipliers scale them.
type LimitsConfig struct {
	WallTimeout time.Duration `yaml:"wall_timeout"`
	CPUTime     time.Duration `yaml:"cpu_time"`
	MemoryBytes int64         `yaml:"memory_bytes"`
	OutputBytes int64         `yaml:"output_bytes"`
	StackBytes  int64         `yaml:"stack_bytes"`
	Processes   int64         `yaml:"processes"`

	CompileWallTimeout time.Duration `yaml:"compile_wall_timeout"`
	CompileMemoryBytes int64         `yaml:"compile_memory_bytes"`
}

// RedisConfig enables job status storage and rate limiting when Addr is set.
type RedisConfig struct {
	cache.RedisConfig `yaml:",inline"`

	JobTTL        time.Duration `yaml:"job_ttl"`
	StatusTimeout time.Duration `yaml:"status_timeout"`
}

// KafkaConfig enables async jobs when Brokers is set.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"client_id"`
	MinBytes      int           `yaml:"min_bytes"`
	MaxBytes      int           `yaml:"max_bytes"`
	MaxWait       time.Duration `yaml:"max_wait"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	RequiredAcks  int           `yaml:"required_acks"`
	JobTopic      string        `yaml:"job_topic"`
	DeadLetter    string        `yaml:"dead_letter_topic"`
	VerdictTopic  string        `yaml:"verdict_topic"`
	ConsumerGroup string        `yaml:"consumer_group"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// RateLimitRule bounds one route.
type RateLimitRule struct {
	IPMax    int `yaml:"ip_max"`
	RouteMax int `yaml:"route_max"`
}

// RateLimitConfig holds per route rules. Rate limiting needs Redis.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window"`
	Grade  RateLimitRule `yaml:"grade"`
	Run    RateLimitRule `yaml:"run"`
	Jobs   RateLimitRule `yaml:"jobs"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Path         string        `yaml:"path"`
	HostInterval time.Duration `yaml:"host_interval"`
}

// AppConfig holds grader-service config.
type AppConfig struct {
	Server    ServerConfig             `yaml:"server"`
	Logger    logger.Config            `yaml:"logger"`
	Grader    GraderConfig             `yaml:"grader"`
	Limits    LimitsConfig             `yaml:"limits"`
	Languages []toolchain.LanguageSpec `yaml:"languages"`
	Redis     RedisConfig              `yaml:"redis"`
	Kafka     KafkaConfig              `yaml:"kafka"`
	RateLimit RateLimitConfig          `yaml:"rate_limit"`
	Metrics   MetricsConfig            `yaml:"metrics"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path, envFile string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg, envFile); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv loads envFile when present. Variables already set in the process
// environment win over the file.
func applyEnv(cfg *AppConfig, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file failed: %w", err)
		}
	}
	if v := os.Getenv("GRADER_WORKSPACE_ROOT"); v != "" {
		cfg.Grader.WorkspaceRoot = v
	}
	if v := os.Getenv("GRADER_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("GRADER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GRADER_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Grader.WorkspaceRoot == "" {
		cfg.Grader.WorkspaceRoot = defaultWorkspaceRoot
	}
	if cfg.Grader.MaxConcurrent <= 0 {
		cfg.Grader.MaxConcurrent = 1
	}
	if cfg.Grader.AdmissionTimeout == 0 {
		cfg.Grader.AdmissionTimeout = defaultAdmissionTimeout
	}
	if cfg.Grader.StrictCompileStderr == nil {
		strict := true
		cfg.Grader.StrictCompileStderr = &strict
	}

	if cfg.Limits.WallTimeout == 0 {
		cfg.Limits.WallTimeout = defaultWallTimeout
	}
	if cfg.Limits.CPUTime == 0 {
		cfg.Limits.CPUTime = cfg.Limits.WallTimeout
	}
	if cfg.Limits.MemoryBytes == 0 {
		cfg.Limits.MemoryBytes = defaultMemoryBytes
	}
	if cfg.Limits.OutputBytes == 0 {
		cfg.Limits.OutputBytes = defaultOutputBytes
	}
	if cfg.Limits.StackBytes == 0 {
		cfg.Limits.StackBytes = defaultStackBytes
	}
	if cfg.Limits.Processes == 0 {
		cfg.Limits.Processes = defaultProcesses
	}

	if len(cfg.Languages) == 0 {
		cfg.Languages = toolchain.DefaultLanguages()
	}

	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis.RedisConfig)
	}
	if cfg.Redis.JobTTL == 0 {
		cfg.Redis.JobTTL = defaultJobTTL
	}
	if cfg.Redis.StatusTimeout == 0 {
		cfg.Redis.StatusTimeout = defaultStatusTimeout
	}

	if cfg.Kafka.JobTopic == "" {
		cfg.Kafka.JobTopic = defaultJobTopic
	}
	if cfg.Kafka.DeadLetter == "" {
		cfg.Kafka.DeadLetter = defaultDeadLetter
	}
	if cfg.Kafka.VerdictTopic == "" {
		cfg.Kafka.VerdictTopic = defaultVerdictTopic
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = defaultConsumerGroup
	}
	if cfg.Kafka.Concurrency <= 0 {
		cfg.Kafka.Concurrency = cfg.Grader.MaxConcurrent
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = defaultMaxRetries
	}
	if cfg.Kafka.RetryDelay == 0 {
		cfg.Kafka.RetryDelay = defaultRetryDelay
	}

	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = defaultRateWindow
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func validateConfig(cfg *AppConfig) error {
	if cfg.Grader.EnableCgroup && cfg.Grader.CgroupRoot == "" {
		return fmt.Errorf("grader.cgroup_root is required when cgroups are enabled")
	}
	if cfg.Grader.EnableSeccomp && cfg.Grader.SandboxInitPath == "" {
		return fmt.Errorf("grader.sandbox_init_path is required when seccomp is enabled")
	}
	if cfg.Limits.WallTimeout < 0 || cfg.Limits.MemoryBytes < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when kafka is enabled")
	}
	seen := make(map[string]struct{}, len(cfg.Languages))
	for _, lang := range cfg.Languages {
		if lang.ID == "" {
			return fmt.Errorf("language id is required")
		}
		if _, ok := seen[lang.ID]; ok {
			return fmt.Errorf("duplicate language %s", lang.ID)
		}
		seen[lang.ID] = struct{}{}
	}
	return nil
}

func (g GraderConfig) toEngineConfig() engine.Config {
	return engine.Config{
		HelperPath:     g.SandboxInitPath,
		EnableSeccomp:  g.EnableSeccomp,
		SeccompProfile: g.SeccompProfile,
		EnableCgroup:   g.EnableCgroup,
		CgroupRoot:     g.CgroupRoot,
		RunAsUID:       g.RunAsUID,
		RunAsGID:       g.RunAsGID,
	}
}

func (l LimitsConfig) toRunLimits() engine.Limits {
	return engine.Limits{
		WallTimeout:       l.WallTimeout,
		CPUTime:           l.CPUTime,
		MemoryBytes:       l.MemoryBytes,
		OutputBytes:       l.OutputBytes,
		StackBytes:        l.StackBytes,
		Processes:         l.Processes,
		LimitAddressSpace: true,
	}
}

func (l LimitsConfig) toCompileLimits() engine.Limits {
	limits := toolchain.DefaultCompileLimits()
	if l.CompileWallTimeout > 0 {
		limits.WallTimeout = l.CompileWallTimeout
		limits.CPUTime = l.CompileWallTimeout
	}
	if l.CompileMemoryBytes > 0 {
		limits.MemoryBytes = l.CompileMemoryBytes
	}
	return limits
}

func (k KafkaConfig) enabled() bool {
	return len(k.Brokers) > 0
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
}

func (k KafkaConfig) subscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
		Limiter:         mq.NewTokenLimiter(k.Concurrency),
	}
}
