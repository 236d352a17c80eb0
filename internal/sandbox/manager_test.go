package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crucible-ai/crucible/internal/runtime"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine implements runtime.Client in memory. Each created handle
// snapshots the staged files so tests can assert on materialization
// after the staging dir is gone.
type fakeEngine struct {
	unavailable bool
	present     map[string]bool
	pullErr     error
	pulled      []string

	exitCode int
	stdout   string
	stderr   string
	runFor   time.Duration

	handles []*fakeHandle
}

func (e *fakeEngine) Available(ctx context.Context) bool { return !e.unavailable }

func (e *fakeEngine) ImageExists(ctx context.Context, image string) bool {
	return e.present[image]
}

func (e *fakeEngine) PullImage(ctx context.Context, image string) error {
	e.pulled = append(e.pulled, image)
	if e.pullErr != nil {
		return e.pullErr
	}
	if e.present == nil {
		e.present = map[string]bool{}
	}
	e.present[image] = true
	return nil
}

func (e *fakeEngine) Info(ctx context.Context) (*runtime.EngineInfo, error) {
	return &runtime.EngineInfo{ServerVersion: "fake"}, nil
}

func (e *fakeEngine) Create(ctx context.Context, spec *runtime.ContainerSpec) (runtime.Handle, error) {
	staged := map[string]string{}
	for _, m := range spec.Mounts {
		filepath.Walk(m.Source, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, _ := filepath.Rel(m.Source, path)
			data, _ := os.ReadFile(path)
			staged[rel] = string(data)
			return nil
		})
	}
	h := &fakeHandle{engine: e, spec: spec, staged: staged}
	e.handles = append(e.handles, h)
	return h, nil
}

func (e *fakeEngine) liveHandles() int {
	n := 0
	for _, h := range e.handles {
		if !h.destroyed {
			n++
		}
	}
	return n
}

type fakeHandle struct {
	engine    *fakeEngine
	spec      *runtime.ContainerSpec
	staged    map[string]string
	started   bool
	destroyed bool
}

func (h *fakeHandle) ID() string { return "fake-container" }

func (h *fakeHandle) Start(ctx context.Context) error {
	h.started = true
	return nil
}

func (h *fakeHandle) Wait(ctx context.Context, timeout time.Duration) (int, error) {
	if h.engine.runFor > timeout {
		time.Sleep(timeout)
		return 0, runtime.ErrWaitTimeout
	}
	time.Sleep(h.engine.runFor)
	return h.engine.exitCode, nil
}

func (h *fakeHandle) Logs(ctx context.Context) (string, string, error) {
	return h.engine.stdout, h.engine.stderr, nil
}

func (h *fakeHandle) Destroy() { h.destroyed = true }

func newTestManager(t *testing.T, engine *fakeEngine) *Manager {
	t.Helper()
	return NewManager(engine, Config{StagingRoot: t.TempDir()}, discardLogger())
}

func TestExecute_Success(t *testing.T) {
	engine := &fakeEngine{
		present: map[string]bool{pythonImage: true},
		stdout:  "2\n",
	}
	mgr := newTestManager(t, engine)

	result := mgr.Execute(context.Background(), &Request{
		Language: LanguagePython,
		Code:     "print(1+1)",
	}, Limits{})

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Stdout != "2\n" {
		t.Errorf("stdout = %q, want %q", result.Stdout, "2\n")
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if result.ErrorKind != ErrorNone {
		t.Errorf("error kind = %q, want none", result.ErrorKind)
	}
	if result.WallClock <= 0 {
		t.Error("wall clock not populated")
	}
}

func TestExecute_NonZeroExit(t *testing.T) {
	engine := &fakeEngine{
		present:  map[string]bool{pythonImage: true},
		exitCode: 1,
		stderr:   "ZeroDivisionError: division by zero",
	}
	mgr := newTestManager(t, engine)

	result := mgr.Execute(context.Background(), &Request{
		Language: LanguagePython,
		Code:     "print(1/0)",
	}, Limits{})

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ErrorKind != ErrorNonZeroExit {
		t.Errorf("error kind = %q, want %q", result.ErrorKind, ErrorNonZeroExit)
	}
	if !strings.Contains(result.Stderr, "ZeroDivisionError") {
		t.Errorf("stderr = %q, want ZeroDivisionError", result.Stderr)
	}
}

func TestExecute_Timeout(t *testing.T) {
	engine := &fakeEngine{
		present: map[string]bool{pythonImage: true},
		runFor:  time.Hour,
		stdout:  "partial",
	}
	mgr := newTestManager(t, engine)

	start := time.Now()
	result := mgr.Execute(context.Background(), &Request{
		Language: LanguagePython,
		Code:     "while True: pass",
	}, Limits{Timeout: 50 * time.Millisecond})
	elapsed := time.Since(start)

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ErrorKind != ErrorTimeout {
		t.Errorf("error kind = %q, want %q", result.ErrorKind, ErrorTimeout)
	}
	if result.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", result.ExitCode)
	}
	// Partial logs survive the kill.
	if result.Stdout != "partial" {
		t.Errorf("stdout = %q, want partial output", result.Stdout)
	}
	if result.WallClock <= 0 {
		t.Error("wall clock not populated on timeout")
	}
	if elapsed > time.Second {
		t.Errorf("Execute took %s, want close to the 50ms bound", elapsed)
	}
	if engine.liveHandles() != 0 {
		t.Error("container left alive after timeout")
	}
}

func TestExecute_RuntimeUnavailable(t *testing.T) {
	engine := &fakeEngine{unavailable: true}
	mgr := newTestManager(t, engine)

	result := mgr.Execute(context.Background(), &Request{
		Language: LanguagePython,
		Code:     "print(1)",
	}, Limits{})

	if result.Success || result.ErrorKind != ErrorRuntimeUnavailable {
		t.Fatalf("expected runtime unavailable, got %+v", result)
	}
	if len(engine.handles) != 0 {
		t.Error("container created despite unavailable engine")
	}
	if result.WallClock < 0 {
		t.Error("wall clock not populated")
	}
}

func TestExecute_PullsMissingImage(t *testing.T) {
	engine := &fakeEngine{stdout: "ok\n"}
	mgr := newTestManager(t, engine)

	result := mgr.Execute(context.Background(), &Request{
		Language: LanguageJavaScript,
		Code:     "console.log('ok')",
	}, Limits{})

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(engine.pulled) != 1 || engine.pulled[0] != nodeImage {
		t.Errorf("pulled = %v, want [%s]", engine.pulled, nodeImage)
	}
}

func TestExecute_PullFailureIsRuntimeUnavailable(t *testing.T) {
	engine := &fakeEngine{pullErr: errors.New("registry unreachable")}
	mgr := newTestManager(t, engine)

	result := mgr.Execute(context.Background(), &Request{
		Language: LanguagePython,
		Code:     "print(1)",
	}, Limits{})

	if result.ErrorKind != ErrorRuntimeUnavailable {
		t.Fatalf("error kind = %q, want %q", result.ErrorKind, ErrorRuntimeUnavailable)
	}
	if !strings.Contains(result.Stderr, "registry unreachable") {
		t.Errorf("stderr = %q, want pull error detail", result.Stderr)
	}
}

func TestExecute_NetworkAlwaysDisabled(t *testing.T) {
	engine := &fakeEngine{present: map[string]bool{pythonImage: true, nodeImage: true}}
	mgr := newTestManager(t, engine)

	for _, req := range []*Request{
		{Language: LanguagePython, Code: "print(1)"},
		{Language: LanguageJavaScript, Code: "fetch('http://example.com')"},
	} {
		mgr.Execute(context.Background(), req, Limits{})
	}

	for _, h := range engine.handles {
		if !h.spec.NetworkDisabled {
			t.Errorf("container for %v created with network enabled", h.spec.Command)
		}
	}
}

func TestExecute_CleanupOnEveryPath(t *testing.T) {
	cases := map[string]*fakeEngine{
		"success":  {present: map[string]bool{pythonImage: true}},
		"failure":  {present: map[string]bool{pythonImage: true}, exitCode: 3},
		"timedOut": {present: map[string]bool{pythonImage: true}, runFor: time.Hour},
	}
	for name, engine := range cases {
		t.Run(name, func(t *testing.T) {
			mgr := newTestManager(t, engine)
			mgr.Execute(context.Background(), &Request{
				Language: LanguagePython,
				Code:     "print(1)",
			}, Limits{Timeout: 50 * time.Millisecond})

			if engine.liveHandles() != 0 {
				t.Errorf("%d containers left alive", engine.liveHandles())
			}
		})
	}
}

func TestExecute_StagesCodeAndAuxiliaryFiles(t *testing.T) {
	engine := &fakeEngine{present: map[string]bool{pythonImage: true}}
	stagingRoot := t.TempDir()
	mgr := NewManager(engine, Config{StagingRoot: stagingRoot}, discardLogger())

	mgr.Execute(context.Background(), &Request{
		Language: LanguagePython,
		Code:     "import helper",
		AuxiliaryFiles: map[string]string{
			"helper.py":      "x = 1",
			"data/input.txt": "42",
		},
	}, Limits{})

	if len(engine.handles) != 1 {
		t.Fatalf("expected 1 container, got %d", len(engine.handles))
	}
	staged := engine.handles[0].staged
	if staged["script.py"] != "import helper" {
		t.Errorf("script.py = %q", staged["script.py"])
	}
	if staged["helper.py"] != "x = 1" {
		t.Errorf("helper.py = %q", staged["helper.py"])
	}
	if staged[filepath.Join("data", "input.txt")] != "42" {
		t.Errorf("data/input.txt = %q", staged[filepath.Join("data", "input.txt")])
	}

	// The staging dir itself is gone once the call returns.
	entries, err := os.ReadDir(stagingRoot)
	if err != nil {
		t.Fatalf("reading staging root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging root not cleaned: %v", entries)
	}
}

func TestExecute_AuxiliaryFileCannotEscapeStaging(t *testing.T) {
	engine := &fakeEngine{present: map[string]bool{pythonImage: true}}
	root := t.TempDir()
	stagingRoot := filepath.Join(root, "staging")
	mgr := NewManager(engine, Config{StagingRoot: stagingRoot}, discardLogger())

	for _, name := range []string{"../../escaped.txt", "/abs/escaped.txt", ".."} {
		result := mgr.Execute(context.Background(), &Request{
			Language:       LanguagePython,
			Code:           "print(1)",
			AuxiliaryFiles: map[string]string{name: "owned"},
		}, Limits{})

		if result.ErrorKind != ErrorRuntimeUnavailable {
			t.Errorf("%q: error kind = %q, want %q", name, result.ErrorKind, ErrorRuntimeUnavailable)
		}
		if !strings.Contains(result.Stderr, "escapes") {
			t.Errorf("%q: stderr = %q, want escape detail", name, result.Stderr)
		}
	}

	if len(engine.handles) != 0 {
		t.Errorf("%d containers created for rejected requests", len(engine.handles))
	}
	if _, err := os.Stat(filepath.Join(root, "escaped.txt")); !os.IsNotExist(err) {
		t.Error("auxiliary file written outside the staging directory")
	}
}

func TestExecute_SuccessInvariant(t *testing.T) {
	// Success must equal (exit==0 && kind==none) on every path.
	engines := []*fakeEngine{
		{present: map[string]bool{pythonImage: true}},
		{present: map[string]bool{pythonImage: true}, exitCode: 2},
		{present: map[string]bool{pythonImage: true}, runFor: time.Hour},
		{unavailable: true},
	}
	for _, engine := range engines {
		mgr := newTestManager(t, engine)
		result := mgr.Execute(context.Background(), &Request{
			Language: LanguagePython,
			Code:     "print(1)",
		}, Limits{Timeout: 50 * time.Millisecond})

		want := result.ExitCode == 0 && result.ErrorKind == ErrorNone
		if result.Success != want {
			t.Errorf("success = %v, exit = %d, kind = %q", result.Success, result.ExitCode, result.ErrorKind)
		}
	}
}

type captureRecorder struct {
	language string
	status   string
	duration time.Duration
}

func (r *captureRecorder) RecordSandboxExecution(language, status string, d time.Duration) {
	r.language, r.status, r.duration = language, status, d
}

func TestExecute_RecordsObservability(t *testing.T) {
	engine := &fakeEngine{present: map[string]bool{pythonImage: true}, exitCode: 1}
	rec := &captureRecorder{}
	mgr := NewManager(engine, Config{StagingRoot: t.TempDir()}, discardLogger(), WithRecorder(rec))

	mgr.Execute(context.Background(), &Request{Language: LanguagePython, Code: "x"}, Limits{})

	if rec.language != "python" || rec.status != "failure" {
		t.Errorf("recorded %q/%q, want python/failure", rec.language, rec.status)
	}
}
