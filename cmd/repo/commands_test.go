package main

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/quara-dev/repo/internal/exec/exectest"
	"github.com/quara-dev/repo/internal/state"
)

func TestTest_RunsEveryPackage(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	m.pkg("quara-redis")
	runner := &exectest.Runner{}

	res := m.run(runner, "test", "-m", "not databases", "-k", "redis or core")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}

	for _, name := range []string{"quara-core", "quara-redis"} {
		calls := runner.CallsIn(m.dir("libraries/" + name))
		if len(calls) != 1 {
			t.Fatalf("%s: expected one call, got %v", name, callLines(calls))
		}
		want := []string{"-k", "redis or core", "-m", "not databases"}
		if diff := cmp.Diff(want, calls[0].Args); diff != "" {
			t.Errorf("%s: pytest args mismatch (-want +got):\n%s", name, diff)
		}
	}
	if !strings.Contains(res.stdout, "OK  2 passed") {
		t.Errorf("summary missing:\n%s", res.stdout)
	}
}

func TestTest_FailedPackageExitsOne(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	m.pkg("quara-redis")
	failing := m.dir("libraries/quara-redis")
	runner := &exectest.Runner{Respond: func(c exectest.Call) exectest.Response {
		if c.Dir == failing {
			return exectest.Response{ExitCode: 1, Stdout: "1 failed\n"}
		}
		return exectest.Response{}
	}}

	res := m.run(runner, "test")
	if res.code != 1 {
		t.Fatalf("exit code %d, want 1", res.code)
	}
	if len(runner.CallsIn(m.dir("libraries/quara-core"))) != 1 {
		t.Error("a failure must not stop the other packages")
	}
	for _, want := range []string{"quara-redis", "failed", "FAILED  1 passed, 1 failed"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("output missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestTest_QuietShowsOnlyFailures(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	m.pkg("quara-redis")
	failing := m.dir("libraries/quara-redis")
	runner := &exectest.Runner{Respond: func(c exectest.Call) exectest.Response {
		if c.Dir == failing {
			return exectest.Response{ExitCode: 1, Stdout: "redis broke\n"}
		}
		return exectest.Response{Stdout: "core fine\n"}
	}}

	res := m.run(runner, "--quiet", "test")
	if res.code != 1 {
		t.Fatalf("exit code %d, want 1", res.code)
	}
	out := res.stdout + res.stderr
	if strings.Contains(out, "core fine") {
		t.Errorf("output of a passing package was shown:\n%s", out)
	}
	if !strings.Contains(out, "redis broke") {
		t.Errorf("output of the failing package is missing:\n%s", out)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown package", []string{"test", "quara-nope"}},
		{"unknown command", []string{"frobnicate"}},
		{"unknown flag", []string{"test", "--frobnicate"}},
		{"bump without version", []string{"bump"}},
		{"bad bump version", []string{"bump", "one.two"}},
		{"bad build format", []string{"build", "--format", "egg"}},
		{"unknown kind", []string{"new", "service", "quara-x"}},
		{"bad package name", []string{"new", "library", "Quara_X"}},
		{"unknown watch verb", []string{"watch", "frobnicate"}},
		{"unknown release step", []string{"release", "announce", "1.0.0", "stable"}},
		{"unknown config key", []string{"config", "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMonorepo(t)
			m.pkg("quara-core")
			runner := &exectest.Runner{}

			res := m.run(runner, tt.args...)
			if res.code != 2 {
				t.Fatalf("exit code %d, want 2; stderr:\n%s", res.code, res.stderr)
			}
			if calls := runner.Calls(); len(calls) != 0 {
				t.Errorf("no tool may run on a usage error, got %v", callLines(calls))
			}
		})
	}
}

func TestInstall_DependenciesFirst(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-app", "quara-core")
	m.pkg("quara-core")
	m.pkg("quara-unrelated")
	runner := &exectest.Runner{}

	res := m.run(runner, "install", "quara-app", "-E", "redis")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}

	var dirs []string
	for _, c := range runner.Calls() {
		dirs = append(dirs, filepath.Base(c.Dir))
		if c.Line() != "poetry install -E redis" {
			t.Errorf("unexpected call %q", c.Line())
		}
	}
	if diff := cmp.Diff([]string{"quara-core", "quara-app"}, dirs); diff != "" {
		t.Errorf("install order mismatch (-want +got):\n%s", diff)
	}
}

func TestInstall_CycleReportedPerPackage(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-a", "quara-b")
	m.pkg("quara-b", "quara-a")
	m.pkg("quara-zzz")
	runner := &exectest.Runner{}

	res := m.run(runner, "install")
	if res.code != 1 {
		t.Fatalf("exit code %d, want 1; stderr:\n%s", res.code, res.stderr)
	}

	var dirs []string
	for _, c := range runner.Calls() {
		dirs = append(dirs, filepath.Base(c.Dir))
	}
	if diff := cmp.Diff([]string{"quara-zzz"}, dirs); diff != "" {
		t.Errorf("installed packages mismatch (-want +got):\n%s", diff)
	}
	for _, want := range []string{
		"circular dependency detected between quara-a, quara-b",
		"quara-zzz",
		"FAILED  1 passed, 2 error",
	} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("summary missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestDryRun_RunsNothing(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	runner := &exectest.Runner{}

	res := m.run(runner, "--dry-run", "lint")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	if calls := runner.Calls(); len(calls) != 0 {
		t.Errorf("dry run executed %v", callLines(calls))
	}
	if !strings.Contains(res.stdout, "libraries/quara-core$ flake8 tests") {
		t.Errorf("planned command not printed:\n%s", res.stdout)
	}
}

func TestConfigFlag_ReplacesProjectConfig(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	m.write(".repo.yaml", "tools:\n  lint: [flake8, --max-line-length, \"100\"]\n")
	file := filepath.Join(t.TempDir(), "ci.yaml")
	if err := os.WriteFile(file, []byte("tools:\n  lint: [ruff, check]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runner := &exectest.Runner{}

	res := m.run(runner, "--config", file, "lint")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	if diff := cmp.Diff([]string{"ruff check tests"}, callLines(runner.Calls())); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoveryErrorFailsTheRun(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	m.write("libraries/broken/pyproject.toml", "[tool.poetry\nname = ")
	if err := os.MkdirAll(m.dir("libraries/broken/tests"), 0755); err != nil {
		t.Fatal(err)
	}
	runner := &exectest.Runner{}

	res := m.run(runner, "lint")
	if res.code != 1 {
		t.Fatalf("exit code %d, want 1", res.code)
	}
	if len(runner.CallsIn(m.dir("libraries/quara-core"))) != 1 {
		t.Error("valid packages must still run")
	}
	if !strings.Contains(res.stdout, "libraries/broken") {
		t.Errorf("discovery error not reported:\n%s", res.stdout)
	}
}

func TestBuild_CollectsDistributions(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	m.pkg("quara-redis")
	runner := &exectest.Runner{Respond: func(c exectest.Call) exectest.Response {
		if c.Line() == "poetry build --format wheel" {
			dist := filepath.Join(c.Dir, "dist")
			_ = os.MkdirAll(dist, 0755)
			name := strings.ReplaceAll(filepath.Base(c.Dir), "-", "_")
			_ = os.WriteFile(filepath.Join(dist, name+"-0.1.0-py3-none-any.whl"), []byte("wheel"), 0644)
		}
		return exectest.Response{}
	}}

	res := m.run(runner, "build", "--format", "wheel")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s\nstdout:\n%s", res.code, res.stderr, res.stdout)
	}
	for _, f := range []string{"quara_core-0.1.0-py3-none-any.whl", "quara_redis-0.1.0-py3-none-any.whl"} {
		if _, err := os.Stat(filepath.Join(m.root, "dist", f)); err != nil {
			t.Errorf("%s not collected: %v", f, err)
		}
	}
	if !strings.Contains(res.stdout, "2 artifact(s)") {
		t.Errorf("artifacts not reported:\n%s", res.stdout)
	}
}

func TestExport_BundlesDependencies(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-app", "quara-core")
	m.pkg("quara-core")
	m.pkg("quara-redis")

	var requirements string
	runner := &exectest.Runner{Respond: func(c exectest.Call) exectest.Response {
		line := c.Line()
		switch {
		case line == "poetry build --format wheel":
			dist := filepath.Join(c.Dir, "dist")
			_ = os.MkdirAll(dist, 0755)
			name := strings.ReplaceAll(filepath.Base(c.Dir), "-", "_")
			_ = os.WriteFile(filepath.Join(dist, name+"-0.1.0-py3-none-any.whl"), []byte("wheel"), 0644)
		case strings.HasPrefix(line, "poetry export --without-hashes --output "):
			content := "redis==4.5.1\n"
			if filepath.Base(c.Dir) == "quara-app" {
				content += "quara-core @ file:///repo/libraries/quara-core\n"
			}
			_ = os.WriteFile(c.Args[len(c.Args)-1], []byte(content), 0644)
		case line == "pip download -r requirements.txt -d .":
			data, _ := os.ReadFile(filepath.Join(c.Dir, "requirements.txt"))
			requirements = string(data)
			_ = os.WriteFile(filepath.Join(c.Dir, "redis-4.5.1-py3-none-any.whl"), []byte("redis"), 0644)
		}
		return exectest.Response{}
	}}

	res := m.run(runner, "export", "quara-app")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s\nstdout:\n%s", res.code, res.stderr, res.stdout)
	}
	if calls := runner.CallsIn(m.dir("libraries/quara-redis")); len(calls) != 0 {
		t.Errorf("unselected package touched: %v", callLines(calls))
	}
	if calls := callLines(runner.CallsIn(m.dir("libraries/quara-core"))); len(calls) != 2 {
		t.Errorf("expected build and export in the dependency, got %v", calls)
	}
	if requirements != "redis==4.5.1\n" {
		t.Errorf("downloaded requirements = %q", requirements)
	}

	zr, err := zip.OpenReader(filepath.Join(m.root, "dist", "quara-app-0.1.0.zip"))
	if err != nil {
		t.Fatalf("archive not collected: %v", err)
	}
	defer zr.Close()
	var entries []string
	for _, f := range zr.File {
		entries = append(entries, f.Name)
	}
	sort.Strings(entries)
	want := []string{
		"quara_app-0.1.0-py3-none-any.whl",
		"quara_core-0.1.0-py3-none-any.whl",
		"redis-4.5.1-py3-none-any.whl",
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("archive content mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(m.dir("libraries/quara-app/export")); !os.IsNotExist(err) {
		t.Errorf("staging directory left behind: %v", err)
	}
}

func TestExport_DryRunShowsDirectories(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-app", "quara-core")
	m.pkg("quara-core")
	runner := &exectest.Runner{}

	res := m.run(runner, "--dry-run", "export", "quara-app")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	if calls := runner.Calls(); len(calls) != 0 {
		t.Errorf("dry run executed %v", callLines(calls))
	}
	for _, want := range []string{
		"libraries/quara-app$ poetry build --format wheel",
		"libraries/quara-core$ poetry build --format wheel",
		"libraries/quara-app/export$ pip download -r requirements.txt -d .",
	} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestCoverage_ServesUntilInterrupted(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := m.runContext(ctx, &exectest.Runner{}, "coverage", "--addr", "127.0.0.1:0")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "Serving "+m.root+" at http://127.0.0.1:") {
		t.Errorf("address not printed:\n%s", res.stdout)
	}
}

func TestCoverage_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"unknown package", []string{"coverage", "quara-nope"}, 2},
		{"too many packages", []string{"coverage", "quara-core", "quara-redis"}, 2},
		{"no report", []string{"coverage", "quara-core"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMonorepo(t)
			m.pkg("quara-core")
			m.pkg("quara-redis")
			res := m.run(&exectest.Runner{}, append(tt.args, "--addr", "127.0.0.1:0")...)
			if res.code != tt.code {
				t.Errorf("exit code %d, want %d, stderr:\n%s", res.code, tt.code, res.stderr)
			}
		})
	}
}

func TestBump_RewritesEveryManifest(t *testing.T) {
	m := newMonorepo(t)
	m.write("pyproject.toml", "[tool.poetry]\nname = \"quara\"\nversion = \"0.1.0\"\n")
	m.write(".repo.yaml", "prefix: quara\n")
	m.pkg("quara-app", "quara-core")
	m.pkg("quara-core")
	runner := &exectest.Runner{}

	res := m.run(runner, "bump", "1.2.0")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	if !strings.Contains(m.read("pyproject.toml"), `version = "1.2.0"`) {
		t.Errorf("root manifest not bumped:\n%s", m.read("pyproject.toml"))
	}
	app := m.read("libraries/quara-app/pyproject.toml")
	if !strings.Contains(app, `version = "1.2.0"`) {
		t.Errorf("package manifest not bumped:\n%s", app)
	}
	for _, c := range runner.Calls() {
		if c.Line() != "poetry lock --no-update" {
			t.Errorf("unexpected call %q", c.Line())
		}
	}
	if n := len(runner.Calls()); n != 2 {
		t.Errorf("expected one lock per package, got %d", n)
	}
}

func TestNew_CreatesOnce(t *testing.T) {
	m := newMonorepo(t)
	m.write(".repo.yaml", "prefix: quara\n")
	runner := &exectest.Runner{}

	res := m.run(runner, "new", "library", "quara-redis")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	if _, err := os.Stat(m.dir("libraries/quara-redis/quara/redis/__init__.py")); err != nil {
		t.Errorf("sources not created: %v", err)
	}

	res = m.run(runner, "new", "library", "quara-redis")
	if res.code != 2 {
		t.Errorf("second create: exit code %d, want 2", res.code)
	}

	res = m.run(runner, "list")
	if res.code != 0 || !strings.Contains(res.stdout, "quara-redis") {
		t.Errorf("created package not listed (code %d):\n%s", res.code, res.stdout)
	}
}

func TestList_JSON(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	m.write("applications/web/pyproject.toml", "[tool.poetry]\nname = \"web\"\n")
	if err := os.MkdirAll(m.dir("applications/web/tests"), 0755); err != nil {
		t.Fatal(err)
	}

	res := m.run(&exectest.Runner{}, "list", "--json")
	if res.code != 1 {
		t.Errorf("exit code %d, want 1 for the invalid manifest", res.code)
	}
	var out struct {
		Packages []struct {
			Name    string `json:"name"`
			RelPath string `json:"rel_path"`
		} `json:"packages"`
		Errors []struct {
			Path string `json:"path"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &out); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, res.stdout)
	}
	if len(out.Packages) != 1 || out.Packages[0].Name != "quara-core" || out.Packages[0].RelPath != "libraries/quara-core" {
		t.Errorf("unexpected packages %+v", out.Packages)
	}
	if len(out.Errors) != 1 || out.Errors[0].Path != "applications/web" {
		t.Errorf("unexpected errors %+v", out.Errors)
	}
}

func TestRecordAndHistory(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	runner := &exectest.Runner{}

	if res := m.run(runner, "history"); res.code != 0 || !strings.Contains(res.stdout, "No runs recorded") {
		t.Fatalf("empty history: code %d\n%s", res.code, res.stdout)
	}

	if res := m.run(runner, "--record", "lint"); res.code != 0 {
		t.Fatalf("lint: exit code %d, stderr:\n%s", res.code, res.stderr)
	}

	res := m.run(runner, "history")
	if res.code != 0 {
		t.Fatalf("history: exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "lint") || !strings.Contains(res.stdout, "ok") {
		t.Errorf("run not listed:\n%s", res.stdout)
	}

	db, err := state.OpenHistory(filepath.Join(m.root, ".repo", "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	runs, err := db.ListRuns(state.RunFilter{})
	db.Close()
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns = %v, %v", runs, err)
	}

	res = m.run(runner, "history", runs[0].ID)
	if res.code != 0 || !strings.Contains(res.stdout, "quara-core") || !strings.Contains(res.stdout, "passed") {
		t.Errorf("run details (code %d):\n%s", res.code, res.stdout)
	}
}

func TestReport_WritesYAML(t *testing.T) {
	m := newMonorepo(t)
	m.pkg("quara-core")
	path := filepath.Join(t.TempDir(), "report.yaml")

	res := m.run(&exectest.Runner{}, "--report", path, "typecheck")
	// No source directory to typecheck: the package errors.
	if res.code != 1 {
		t.Fatalf("exit code %d, want 1", res.code)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if !strings.Contains(string(data), "status: error") {
		t.Errorf("unexpected report:\n%s", data)
	}
}

func TestConfig_SetAndGet(t *testing.T) {
	m := newMonorepo(t)

	res := m.run(&exectest.Runner{}, "config", "run.jobs", "3")
	if res.code != 0 {
		t.Fatalf("set: exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	if !strings.Contains(m.read(".repo.yaml"), "jobs: 3") {
		t.Errorf("project config not written:\n%s", m.read(".repo.yaml"))
	}

	res = m.run(&exectest.Runner{}, "config", "run.jobs")
	if strings.TrimSpace(res.stdout) != "3" {
		t.Errorf("get = %q, want 3", res.stdout)
	}

	res = m.run(&exectest.Runner{}, "config")
	if res.code != 0 || !strings.Contains(res.stdout, "layout:") {
		t.Errorf("dump (code %d):\n%s", res.code, res.stdout)
	}
}

func TestRelease_Prepare(t *testing.T) {
	m := newMonorepo(t)
	m.write(".repo.yaml", "prefix: quara\n")
	m.pkg("quara-core")
	runner := &exectest.Runner{Respond: func(c exectest.Call) exectest.Response {
		if c.Line() == "git status --porcelain" {
			return exectest.Response{Stdout: " M libraries/quara-core/pyproject.toml\n"}
		}
		return exectest.Response{}
	}}

	res := m.run(runner, "release", "prepare", "1.2.0", "stable")
	if res.code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", res.code, res.stderr)
	}
	want := []string{
		"git checkout stable",
		"poetry lock --no-update",
		"git status --porcelain",
		"git add -- .",
		"git commit -m chore(release): bumped to version 1.2.0 [skip ci] --no-verify",
	}
	if diff := cmp.Diff(want, callLines(runner.Calls())); diff != "" {
		t.Errorf("release calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRelease_BranchWithoutRuleIsUsage(t *testing.T) {
	m := newMonorepo(t)
	runner := &exectest.Runner{}

	res := m.run(runner, "release", "publish", "1.2.0", "feature/x")
	if res.code != 2 {
		t.Fatalf("exit code %d, want 2", res.code)
	}
	if len(runner.Calls()) != 0 {
		t.Errorf("nothing may be pushed: %v", callLines(runner.Calls()))
	}
}

func TestCommit_PassesExitCode(t *testing.T) {
	m := newMonorepo(t)
	runner := &exectest.Runner{Respond: func(c exectest.Call) exectest.Response {
		return exectest.Response{ExitCode: 8}
	}}

	res := m.run(runner, "commit")
	if res.code != 8 {
		t.Errorf("exit code %d, want 8", res.code)
	}
	calls := runner.Calls()
	if len(calls) != 1 || calls[0].Line() != "cz commit" || calls[0].Dir != m.root {
		t.Errorf("unexpected calls %+v", calls)
	}
}

func TestVersion(t *testing.T) {
	m := newMonorepo(t)
	res := m.run(&exectest.Runner{}, "version")
	if res.code != 0 || !strings.HasPrefix(res.stdout, "repo version ") {
		t.Errorf("version output (code %d): %q", res.code, res.stdout)
	}
}

func TestCompletion(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective)
		args []string
		want string
	}{
		{"watch verb", completeVerb, nil, "export"},
		{"config key", completeConfigKey, nil, "coverage.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := tt.fn(rootCmd, tt.args, "")
			found := false
			for _, g := range got {
				found = found || g == tt.want
			}
			if !found {
				t.Errorf("%q not offered in %v", tt.want, got)
			}
			if more, _ := tt.fn(rootCmd, []string{tt.want}, ""); len(more) != 0 {
				t.Errorf("only the first argument completes, got %v", more)
			}
		})
	}
}
