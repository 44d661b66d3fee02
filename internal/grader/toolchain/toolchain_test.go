package toolchain

import (
	"context"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"codegrader/internal/grader/engine"
	"codegrader/internal/grader/result"
	"codegrader/internal/grader/workspace"
	appErr "codegrader/pkg/errors"
)

type fakeRunner struct {
	res   engine.RunResult
	err   error
	specs []engine.RunSpec
}

func (f *fakeRunner) Run(_ context.Context, spec engine.RunSpec) (engine.RunResult, error) {
	f.specs = append(f.specs, spec)
	return f.res, f.err
}

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	m, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	ws, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	t.Cleanup(func() { m.Release(context.Background(), ws) })
	return ws
}

func specByID(t *testing.T, id string) LanguageSpec {
	t.Helper()
	for _, spec := range DefaultLanguages() {
		if spec.ID == id {
			return spec
		}
	}
	t.Fatalf("no default spec %s", id)
	return LanguageSpec{}
}

func TestBuildCommandExpandsPerToken(t *testing.T) {
	argv, err := buildCommand("g++ {extraFlags} {src} -o {bin}", templateVars{
		src:        "/w/my dir/main.cpp",
		bin:        "/w/my dir/main",
		extraFlags: []string{"-Wall", "-DONLINE"},
	})
	if err != nil {
		t.Fatalf("build command failed: %v", err)
	}
	want := []string{"g++", "-Wall", "-DONLINE", "/w/my dir/main.cpp", "-o", "/w/my dir/main"}
	if !reflect.DeepEqual(argv, want) {
		t.Fatalf("unexpected argv: %q", argv)
	}
}

func TestBuildCommandRejectsEmpty(t *testing.T) {
	if _, err := buildCommand("  ", templateVars{}); err == nil {
		t.Fatalf("expected error for empty template")
	}
	if _, err := buildCommand("{extraFlags}", templateVars{}); err == nil {
		t.Fatalf("expected error when nothing remains")
	}
	if _, err := buildCommand("g++ 'unterminated", templateVars{}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNativePrepareCompilesOnce(t *testing.T) {
	ws := newWorkspace(t)
	runner := &fakeRunner{}
	adapter, err := NewAdapter(specByID(t, "cpp"), runner, Options{StrictStderr: true})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	art, compileRes, err := adapter.Prepare(context.Background(), ws, "int main(){}")
	if err != nil || compileRes != nil {
		t.Fatalf("unexpected prepare result: res=%+v err=%v", compileRes, err)
	}
	if len(runner.specs) != 1 {
		t.Fatalf("expected one compiler run, got %d", len(runner.specs))
	}
	argv := runner.specs[0].Cmd.Argv
	if argv[0] != "g++" || argv[len(argv)-1] != ws.ArtifactPath("main") {
		t.Fatalf("unexpected compile argv: %q", argv)
	}
	data, err := os.ReadFile(art.SourcePath)
	if err != nil || string(data) != "int main(){}" {
		t.Fatalf("source not written: %q err=%v", data, err)
	}

	cmd, err := adapter.RunCommand(art, ws)
	if err != nil {
		t.Fatalf("run command failed: %v", err)
	}
	if !reflect.DeepEqual(cmd.Argv, []string{ws.ArtifactPath("main")}) || cmd.Dir != ws.Dir() {
		t.Fatalf("unexpected run command: %+v", cmd)
	}
}

func TestPrepareCompileErrorScrubsWorkspace(t *testing.T) {
	ws := newWorkspace(t)
	stderr := ws.Dir() + "/main.cpp:1:1: error: expected ';'\n"
	runner := &fakeRunner{res: engine.RunResult{ExitCode: 1, Stderr: stderr, StderrBytes: int64(len(stderr))}}
	adapter, err := NewAdapter(specByID(t, "cpp"), runner, Options{StrictStderr: true})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	art, res, err := adapter.Prepare(context.Background(), ws, "int main(")
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if art != nil || res == nil || res.Kind != result.KindCompileError {
		t.Fatalf("expected compile error, got art=%+v res=%+v", art, res)
	}
	if strings.Contains(res.Message, ws.Dir()) || !strings.HasPrefix(res.Message, "main.cpp:1:1") {
		t.Fatalf("workspace path leaked: %q", res.Message)
	}
}

func TestPrepareStderrPolicy(t *testing.T) {
	warning := "main.cpp:2: warning: unused variable\n"
	runner := &fakeRunner{res: engine.RunResult{Stderr: warning, StderrBytes: int64(len(warning))}}

	strict, err := NewAdapter(specByID(t, "cpp"), runner, Options{StrictStderr: true})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	if _, res, _ := strict.Prepare(context.Background(), newWorkspace(t), "x"); res == nil {
		t.Fatalf("strict mode should fail on stderr")
	}

	lenient, err := NewAdapter(specByID(t, "cpp"), runner, Options{StrictStderr: false})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	if _, res, err := lenient.Prepare(context.Background(), newWorkspace(t), "x"); res != nil || err != nil {
		t.Fatalf("lenient mode should accept warnings: res=%+v err=%v", res, err)
	}
}

func TestPrepareCompileTimeout(t *testing.T) {
	runner := &fakeRunner{res: engine.RunResult{TimedOut: true, ExitCode: -1}}
	adapter, err := NewAdapter(specByID(t, "cpp"), runner, Options{StrictStderr: true})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	_, res, err := adapter.Prepare(context.Background(), newWorkspace(t), "x")
	if err != nil || res == nil || res.Message != compileTimedOutMessage {
		t.Fatalf("expected compile timeout, got res=%+v err=%v", res, err)
	}
}

func TestPrepareRunnerFailure(t *testing.T) {
	runner := &fakeRunner{err: appErr.New(appErr.ToolchainError)}
	adapter, err := NewAdapter(specByID(t, "cpp"), runner, Options{})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	if _, _, err := adapter.Prepare(context.Background(), newWorkspace(t), "x"); !appErr.Is(err, appErr.ToolchainError) {
		t.Fatalf("expected toolchain error, got %v", err)
	}
}

func TestJVMRunCommand(t *testing.T) {
	ws := newWorkspace(t)
	runner := &fakeRunner{}
	adapter, err := NewAdapter(specByID(t, "java"), runner, Options{})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	art, res, err := adapter.Prepare(context.Background(), ws, "class Main {}")
	if err != nil || res != nil {
		t.Fatalf("prepare failed: res=%+v err=%v", res, err)
	}
	compile := runner.specs[0].Cmd.Argv
	if compile[0] != "javac" || !containsArg(compile, ws.SourcePath("Main.java")) {
		t.Fatalf("unexpected javac argv: %q", compile)
	}
	cmd, err := adapter.RunCommand(art, ws)
	if err != nil {
		t.Fatalf("run command failed: %v", err)
	}
	want := []string{"java", "-Xss64m", "-cp", ws.Dir(), "Main"}
	if !reflect.DeepEqual(cmd.Argv, want) {
		t.Fatalf("unexpected java argv: %q", cmd.Argv)
	}
	if adapter.RunLimits(engine.Limits{MemoryBytes: 1}).LimitAddressSpace {
		t.Fatalf("jvm must run without an address space limit")
	}
}

func TestInterpretedSkipsCompile(t *testing.T) {
	ws := newWorkspace(t)
	runner := &fakeRunner{}
	spec := specByID(t, "py")
	spec.CompileCmdTpl = "python3 -m py_compile {src}"
	adapter, err := NewAdapter(spec, runner, Options{StrictStderr: true})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	art, res, err := adapter.Prepare(context.Background(), ws, "print(input())")
	if err != nil || res != nil {
		t.Fatalf("prepare failed: res=%+v err=%v", res, err)
	}
	if len(runner.specs) != 0 {
		t.Fatalf("interpreted prepare must not run anything")
	}
	cmd, err := adapter.RunCommand(art, ws)
	if err != nil {
		t.Fatalf("run command failed: %v", err)
	}
	if !reflect.DeepEqual(cmd.Argv, []string{"python3", ws.SourcePath("main.py")}) {
		t.Fatalf("unexpected argv: %q", cmd.Argv)
	}
	if !containsArg(cmd.Env, "PYTHONDONTWRITEBYTECODE=1") {
		t.Fatalf("expected language env, got %v", cmd.Env)
	}
}

func TestScaleLimits(t *testing.T) {
	spec := LanguageSpec{Kind: KindInterpreted, TimeMultiplier: 1.5, MemoryMultiplier: 2, Processes: 8}
	got := spec.ScaleLimits(engine.Limits{WallTimeout: time.Second, CPUTime: time.Second, MemoryBytes: 100, Processes: 64})
	if got.WallTimeout != 1500*time.Millisecond || got.CPUTime != 1500*time.Millisecond {
		t.Fatalf("unexpected time limits: %+v", got)
	}
	if got.MemoryBytes != 200 || got.Processes != 8 || !got.LimitAddressSpace {
		t.Fatalf("unexpected limits: %+v", got)
	}
	if scaleLimit(0, 3) != 0 || scaleLimit(10, 0) != 10 {
		t.Fatalf("unexpected scaleLimit edge cases")
	}
}

func TestNewAdapterValidation(t *testing.T) {
	cases := []LanguageSpec{
		{},
		{ID: "x", SourceFile: "a", RunCmdTpl: "a", Kind: "weird"},
		{ID: "x", SourceFile: "a", RunCmdTpl: "{bin}", Kind: KindCompiledNative},
		{ID: "x", SourceFile: "a", BinaryFile: "b", RunCmdTpl: "{bin}", Kind: KindCompiledNative},
		{ID: "x", SourceFile: "A.java", RunCmdTpl: "java", CompileCmdTpl: "javac {src}", Kind: KindCompiledJVM},
	}
	for i, spec := range cases {
		if _, err := NewAdapter(spec, &fakeRunner{}, Options{}); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg, err := BuildRegistry(DefaultLanguages(), &fakeRunner{}, Options{})
	if err != nil {
		t.Fatalf("build registry failed: %v", err)
	}
	for _, id := range []string{"cpp", "java", "py"} {
		if _, err := reg.Get(id); err != nil {
			t.Fatalf("expected %s registered: %v", id, err)
		}
	}
	if _, err := reg.Get("cobol"); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected language not supported, got %v", err)
	}
	langs := reg.Languages()
	if len(langs) != 3 || langs[0].ID != "cpp" || langs[2].ID != "py" {
		t.Fatalf("unexpected languages: %+v", langs)
	}
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
