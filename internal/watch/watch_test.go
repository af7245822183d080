package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/quara-dev/repo/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func packages(root string, rels ...string) []*models.Package {
	var out []*models.Package
	for _, rel := range rels {
		out = append(out, &models.Package{
			Name:    filepath.Base(rel),
			RelPath: rel,
			Path:    filepath.Join(root, filepath.FromSlash(rel)),
		})
	}
	return out
}

func newWatcher(t *testing.T, root string, pkgs []*models.Package, debounce time.Duration) *Watcher {
	t.Helper()
	w, err := New(Options{Root: root, Packages: pkgs, Debounce: debounce})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return w
}

func TestIgnored(t *testing.T) {
	root := "/repo"
	w := newWatcher(t, root, nil, time.Millisecond)

	tests := []struct {
		rel  string
		want bool
	}{
		{"libraries/core/src/core/app.py", false},
		{"libraries/core/pyproject.toml", false},
		{"libraries/core/tests/test_app.py", false},
		{"libraries/core/src/core/__pycache__/app.cpython-311.pyc", true},
		{"libraries/core/.pytest_cache/v/cache", true},
		{"libraries/core/.coverage", true},
		{"libraries/core/dist/core-1.0.whl", true},
		{"libraries/core/core.egg-info/PKG-INFO", true},
		{"libraries/core/src/core/app.py~", true},
	}
	for _, tt := range tests {
		if got := w.Ignored(filepath.Join(root, filepath.FromSlash(tt.rel))); got != tt.want {
			t.Errorf("Ignored(%s) = %v, want %v", tt.rel, got, tt.want)
		}
	}
	if !w.Ignored("/elsewhere/file.py") {
		t.Error("paths outside the root must be ignored")
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	if _, err := New(Options{Root: "/repo", Ignore: []string{"[a-"}}); err == nil {
		t.Fatal("expected an error for an invalid pattern")
	}
}

func TestPackageFor(t *testing.T) {
	root := "/repo"
	pkgs := packages(root, "libraries/core", "libraries/core-extra", "applications/api")
	w := newWatcher(t, root, pkgs, time.Millisecond)

	tests := []struct {
		path string
		want string
	}{
		{"/repo/libraries/core/src/x.py", "core"},
		{"/repo/libraries/core-extra/src/x.py", "core-extra"},
		{"/repo/applications/api", "api"},
		{"/repo/libraries/other/x.py", ""},
		{"/repo/README.md", ""},
	}
	for _, tt := range tests {
		got := ""
		if p := w.PackageFor(tt.path); p != nil {
			got = p.Name
		}
		if got != tt.want {
			t.Errorf("PackageFor(%s) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// recorder collects the batches a handler receives.
type recorder struct {
	mu      sync.Mutex
	batches [][]string
	notify  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 16)}
}

func (r *recorder) handle(_ context.Context, pkgs []*models.Package) error {
	var names []string
	for _, p := range pkgs {
		names = append(names, p.Name)
	}
	r.mu.Lock()
	r.batches = append(r.batches, names)
	r.mu.Unlock()
	r.notify <- struct{}{}
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a batch")
	}
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func TestLoop_BatchesInRegistryOrder(t *testing.T) {
	root := "/repo"
	pkgs := packages(root, "libraries/a", "libraries/b", "plugins/c")
	w := newWatcher(t, root, pkgs, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	paths := make(chan string)
	rec := newRecorder()
	done := make(chan error, 1)
	go func() { done <- w.loop(ctx, paths, rec.handle) }()

	paths <- "/repo/plugins/c/src/x.py"
	paths <- "/repo/libraries/a/src/y.py"
	paths <- "/repo/libraries/a/src/__pycache__/y.pyc"
	paths <- "/repo/plugins/c/tests/test_x.py"
	rec.wait(t)

	paths <- "/repo/libraries/b/pyproject.toml"
	rec.wait(t)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("loop returned %v", err)
	}

	got := rec.snapshot()
	if len(got) != 2 || len(got[0]) != 2 || got[0][0] != "a" || got[0][1] != "c" || len(got[1]) != 1 || got[1][0] != "b" {
		t.Errorf("unexpected batches %v", got)
	}
}

func TestLoop_IgnoredOnlyNeverFires(t *testing.T) {
	root := "/repo"
	w := newWatcher(t, root, packages(root, "libraries/a"), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	paths := make(chan string)
	rec := newRecorder()
	done := make(chan error, 1)
	go func() { done <- w.loop(ctx, paths, rec.handle) }()

	paths <- "/repo/libraries/a/.mypy_cache/x.json"
	paths <- "/repo/README.md"
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("expected no batch, got %v", got)
	}
}

func TestRun_DetectsFileChanges(t *testing.T) {
	root := t.TempDir()
	pkgs := packages(root, "libraries/a", "libraries/b")
	for _, p := range pkgs {
		if err := os.MkdirAll(filepath.Join(p.Path, "src"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	w := newWatcher(t, root, pkgs, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, rec.handle) }()

	// Give the watcher time to register its directories.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(pkgs[1].Path, "src", "mod.py"), []byte("x = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rec.wait(t)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	got := rec.snapshot()
	if len(got) == 0 || len(got[0]) != 1 || got[0][0] != "b" {
		t.Errorf("unexpected batches %v", got)
	}
}
