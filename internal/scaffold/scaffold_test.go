package scaffold

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/quara-dev/repo/internal/discover"
	"github.com/quara-dev/repo/internal/manifest"
	"github.com/quara-dev/repo/pkg/models"
)

const rootManifest = `[tool.poetry]
name = "quara"
version = "1.4.0"
authors = ["Jane Doe <Jane.Doe@Example.com>"]

[tool.poetry.dependencies]
python = "^3.10"
`

func writeRoot(t *testing.T, root string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, manifest.FileName), []byte(rootManifest), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCreate_Layout(t *testing.T) {
	root := t.TempDir()
	writeRoot(t, root)

	pkg, err := Create(Options{Root: root, Kind: models.KindLibrary, Name: "quara-redis", Prefix: "quara"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dir := filepath.Join(root, "libraries", "quara-redis")
	for _, rel := range []string{
		manifest.FileName,
		"tests/conftest.py",
		"quara/redis/__init__.py",
	} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			t.Errorf("missing %s: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "quara", "__init__.py")); !os.IsNotExist(err) {
		t.Error("the prefix directory must stay a namespace package")
	}

	if pkg.RelPath != "libraries/quara-redis" || pkg.Kind != models.KindLibrary || pkg.Version != "1.4.0" {
		t.Errorf("unexpected package %+v", pkg)
	}

	m, err := manifest.Load(filepath.Join(dir, manifest.FileName))
	if err != nil {
		t.Fatalf("generated manifest does not parse: %v", err)
	}
	if m.Name != "quara-redis" || m.Version != "1.4.0" {
		t.Errorf("name/version = %s/%s", m.Name, m.Version)
	}
	if len(m.Authors) != 1 || m.Authors[0] != "jane doe <jane.doe@example.com>" {
		t.Errorf("authors = %v", m.Authors)
	}
	if got := m.Dependencies["python"].Version; got != "^3.10" {
		t.Errorf("python constraint = %q", got)
	}
	if len(m.Packages) != 1 || m.Packages[0].Include != "quara" {
		t.Errorf("packages = %+v", m.Packages)
	}
}

func TestCreate_WithoutPrefixOrRootManifest(t *testing.T) {
	root := t.TempDir()

	pkg, err := Create(Options{Root: root, Kind: models.KindApplication, Name: "web-api"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	dir := filepath.Join(root, "applications", "web-api")
	if _, err := os.Stat(filepath.Join(dir, "web_api", "__init__.py")); err != nil {
		t.Errorf("missing sources: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, manifest.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "packages =") {
		t.Errorf("unexpected packages entry:\n%s", data)
	}
	if pkg.Version != defaultVersion {
		t.Errorf("version = %q, want %q", pkg.Version, defaultVersion)
	}
}

func TestCreate_ExistingPathIsUntouched(t *testing.T) {
	root := t.TempDir()
	opts := Options{Root: root, Kind: models.KindPlugin, Name: "quara-kafka", Prefix: "quara"}

	if _, err := Create(opts); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	conftest := filepath.Join(root, "plugins", "quara-kafka", "tests", "conftest.py")
	if err := os.WriteFile(conftest, []byte("import pytest\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Create(opts)
	if !errors.Is(err, ErrPathExists) {
		t.Fatalf("expected ErrPathExists, got %v", err)
	}
	if data, _ := os.ReadFile(conftest); string(data) != "import pytest\n" {
		t.Errorf("existing package was modified: %q", data)
	}
}

func TestCreate_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"bad kind", Options{Kind: "service", Name: "x"}, ErrInvalidKind},
		{"empty name", Options{Kind: models.KindLibrary}, ErrInvalidName},
		{"upper case", Options{Kind: models.KindLibrary, Name: "Quara"}, ErrInvalidName},
		{"path separator", Options{Kind: models.KindLibrary, Name: "a/b"}, ErrInvalidName},
		{"leading dash", Options{Kind: models.KindLibrary, Name: "-x"}, ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			tt.opts.Root = "/repo"
			tt.opts.Fs = fs
			if _, err := Create(tt.opts); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if ok, _ := afero.DirExists(fs, "/repo"); ok {
				t.Error("nothing must be written on invalid input")
			}
		})
	}
}

func TestCreate_WarnsOnStdlibShadowing(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fs := afero.NewMemMapFs()

	_, err := Create(Options{Root: "/repo", Kind: models.KindLibrary, Name: "quara-logging", Prefix: "quara", Fs: fs, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if logs.FilterMessage("module name shadows a standard library module").Len() != 1 {
		t.Errorf("expected a shadowing warning, got %v", logs.All())
	}
	if ok, _ := afero.Exists(fs, "/repo/libraries/quara-logging/quara/logging/__init__.py"); !ok {
		t.Error("the package must still be created")
	}
}

func TestCreate_IsDiscovered(t *testing.T) {
	root := t.TempDir()
	writeRoot(t, root)

	created, err := Create(Options{Root: root, Kind: models.KindLibrary, Name: "quara-core", Prefix: "quara"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	reg, err := discover.Discover(context.Background(), discover.Options{
		Root:     root,
		Layout:   []string{"libraries", "plugins", "applications"},
		Manifest: manifest.FileName,
		TestsDir: "tests",
	})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	found, ok := reg.Get("quara-core")
	if !ok {
		t.Fatalf("created package not discovered: %v", reg.Errors)
	}
	if found.Path != created.Path || found.RelPath != created.RelPath {
		t.Errorf("discovered %+v, created %+v", found, created)
	}
	if len(found.Sources) != 1 || found.Sources[0] != created.Sources[0] {
		t.Errorf("sources differ: %v vs %v", found.Sources, created.Sources)
	}
}

func TestModuleName(t *testing.T) {
	tests := []struct{ name, prefix, want string }{
		{"quara-redis", "quara", "redis"},
		{"quara-nats-client", "quara", "nats_client"},
		{"web-api", "", "web_api"},
		{"other-lib", "quara", "other_lib"},
		{"zope.event", "", "zope_event"},
	}
	for _, tt := range tests {
		if got := ModuleName(tt.name, tt.prefix); got != tt.want {
			t.Errorf("ModuleName(%q, %q) = %q, want %q", tt.name, tt.prefix, got, tt.want)
		}
	}
}
