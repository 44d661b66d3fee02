// Package toolchain prepares submissions for execution, one adapter per language.
package toolchain

import (
	"math"
	"time"

	"codegrader/internal/grader/engine"
)

// Kind selects how a language is turned into something runnable.
type Kind string

const (
	KindCompiledNative Kind = "compiled_native"
	KindCompiledJVM    Kind = "compiled_jvm"
	KindInterpreted    Kind = "interpreted"
)

// LanguageSpec defines how to compile and run a language.
type LanguageSpec struct {
	ID                string   `yaml:"id" json:"id"`
	Name              string   `yaml:"name" json:"name"`
	Version           string   `yaml:"version" json:"version,omitempty"`
	Kind              Kind     `yaml:"kind" json:"kind"`
	SourceFile        string   `yaml:"source_file" json:"-"`
	BinaryFile        string   `yaml:"binary_file" json:"-"`
	ClassName         string   `yaml:"class_name" json:"-"`
	CompileCmdTpl     string   `yaml:"compile_cmd" json:"-"`
	RunCmdTpl         string   `yaml:"run_cmd" json:"-"`
	ExtraCompileFlags []string `yaml:"extra_compile_flags" json:"-"`
	Env               []string `yaml:"env" json:"-"`
	TimeMultiplier    float64  `yaml:"time_multiplier" json:"-"`
	MemoryMultiplier  float64  `yaml:"memory_multiplier" json:"-"`
	Processes         int64    `yaml:"processes" json:"-"`
}

// DefaultLanguages returns the built-in cpp, java and py specs.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:            "cpp",
			Name:          "C++17",
			Kind:          KindCompiledNative,
			SourceFile:    "main.cpp",
			BinaryFile:    "main",
			CompileCmdTpl: "g++ -O2 -std=c++17 {extraFlags} {src} -o {bin}",
			RunCmdTpl:     "{bin}",
		},
		{
			ID:               "java",
			Name:             "Java",
			Kind:             KindCompiledJVM,
			SourceFile:       "Main.java",
			ClassName:        "Main",
			CompileCmdTpl:    "javac -encoding UTF-8 -d {dir} {src}",
			RunCmdTpl:        "java -Xss64m -cp {dir} {class}",
			TimeMultiplier:   2,
			MemoryMultiplier: 2,
			Processes:        256,
		},
		{
			ID:             "py",
			Name:           "Python 3",
			Kind:           KindInterpreted,
			SourceFile:     "main.py",
			RunCmdTpl:      "python3 {src}",
			Env:            []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONIOENCODING=utf-8"},
			TimeMultiplier: 3,
		},
	}
}

// ScaleLimits applies the language multipliers to the base run limits.
func (s LanguageSpec) ScaleLimits(base engine.Limits) engine.Limits {
	out := base
	out.WallTimeout = scaleDuration(base.WallTimeout, s.TimeMultiplier)
	out.CPUTime = scaleDuration(base.CPUTime, s.TimeMultiplier)
	out.MemoryBytes = scaleLimit(base.MemoryBytes, s.MemoryMultiplier)
	if s.Processes > 0 {
		out.Processes = s.Processes
	}
	out.LimitAddressSpace = s.Kind != KindCompiledJVM
	return out
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

func scaleDuration(d time.Duration, multiplier float64) time.Duration {
	return time.Duration(scaleLimit(int64(d), multiplier))
}
