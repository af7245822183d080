// Package scaffold creates new packages in the monorepo layout.
package scaffold

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/manifest"
	"github.com/quara-dev/repo/pkg/models"
)

var (
	// ErrPathExists is returned when the target directory already exists.
	ErrPathExists = errors.New("path already exists")
	// ErrInvalidName is returned for names that are not valid distribution names.
	ErrInvalidName = errors.New("invalid package name")
	// ErrInvalidKind is returned for unknown package kinds.
	ErrInvalidKind = errors.New("invalid package kind")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

const (
	defaultVersion = "0.1.0"
	defaultPython  = "^3.8"
	conftestName   = "conftest.py"
	initName       = "__init__.py"
)

// Options describe the package to create.
type Options struct {
	// Root is the repository root.
	Root string
	// Kind selects the layout directory.
	Kind models.Kind
	// Name is the distribution name, e.g. quara-redis.
	Name string
	// Prefix is the shared distribution prefix. When set, sources live in
	// the PREFIX namespace package.
	Prefix string
	// TestsDir is the test directory name. Defaults to tests.
	TestsDir string
	// Fs is the filesystem to write to. Defaults to the OS filesystem.
	Fs afero.Fs
	// Logger receives warnings. Nil discards them.
	Logger *zap.Logger
}

var manifestTemplate = template.Must(template.New("pyproject").Parse(`[tool.poetry]
name = "{{ .Name }}"
version = "{{ .Version }}"
description = ""
authors = [{{ range $i, $a := .Authors }}{{ if $i }}, {{ end }}"{{ $a }}"{{ end }}]
{{- if .Include }}
packages = [{ include = "{{ .Include }}" }]
{{- end }}

[tool.poetry.dependencies]
python = "{{ .Python }}"

[tool.poetry.dev-dependencies]

[build-system]
requires = ["poetry-core>=1.0.0"]
build-backend = "poetry.core.masonry.api"
`))

type manifestData struct {
	Name    string
	Version string
	Authors []string
	Include string
	Python  string
}

// ValidateName checks a distribution name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidName, name, namePattern)
	}
	return nil
}

// ModuleName returns the import name of the sources of a package named
// name: the prefix is dropped and separators become underscores.
func ModuleName(name, prefix string) string {
	if prefix != "" {
		name = strings.TrimPrefix(name, prefix+"-")
	}
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}

// Create writes a new package and returns it as discovery would see it.
// Nothing is written when the target directory already exists.
func Create(opts Options) (*models.Package, error) {
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("%w %q: expected library, plugin or application", ErrInvalidKind, opts.Kind)
	}
	if err := ValidateName(opts.Name); err != nil {
		return nil, err
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	testsDir := opts.TestsDir
	if testsDir == "" {
		testsDir = "tests"
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	rel := opts.Kind.Dir() + "/" + opts.Name
	dir := filepath.Join(root, opts.Kind.Dir(), opts.Name)

	if _, err := fs.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrPathExists, rel)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}

	data := manifestData{
		Name:    opts.Name,
		Version: defaultVersion,
		Python:  defaultPython,
	}
	if rootManifest, err := readRootManifest(fs, root); err == nil {
		if rootManifest.Version != "" {
			data.Version = rootManifest.Version
		}
		for _, a := range rootManifest.Authors {
			data.Authors = append(data.Authors, strings.ToLower(a))
		}
		if py, ok := rootManifest.Dependencies["python"]; ok && py.Version != "" {
			data.Python = py.Version
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("cannot read root manifest, using defaults", zap.Error(err))
	}

	module := ModuleName(opts.Name, opts.Prefix)
	if stdlibModules[module] {
		log.Warn("module name shadows a standard library module",
			zap.String("package", opts.Name),
			zap.String("module", module))
	}
	srcDir := filepath.Join(dir, module)
	sourceRoot := srcDir
	if opts.Prefix != "" {
		data.Include = ModuleName(opts.Prefix, "")
		sourceRoot = filepath.Join(dir, data.Include)
		srcDir = filepath.Join(sourceRoot, module)
	}

	var content bytes.Buffer
	if err := manifestTemplate.Execute(&content, data); err != nil {
		return nil, fmt.Errorf("render manifest: %w", err)
	}

	if err := fs.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", opts.Kind.Dir(), err)
	}
	// Mkdir, not MkdirAll: losing a race to another writer must not
	// touch its files.
	if err := fs.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPathExists, rel)
		}
		return nil, fmt.Errorf("create %s: %w", rel, err)
	}

	manifestPath := filepath.Join(dir, manifest.FileName)
	if err := writeTree(fs, manifestPath, content.Bytes(), filepath.Join(dir, testsDir), srcDir); err != nil {
		return nil, multierr.Append(err, fs.RemoveAll(dir))
	}

	return &models.Package{
		Name:         opts.Name,
		Version:      data.Version,
		Path:         dir,
		RelPath:      rel,
		Kind:         opts.Kind,
		ManifestPath: manifestPath,
		Sources:      []string{sourceRoot},
		HasTests:     true,
		BuildBackend: "poetry.core.masonry.api",
	}, nil
}

func writeTree(fs afero.Fs, manifestPath string, content []byte, testsDir, srcDir string) error {
	if err := afero.WriteFile(fs, manifestPath, content, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := fs.Mkdir(testsDir, 0755); err != nil {
		return fmt.Errorf("create test directory: %w", err)
	}
	if err := afero.WriteFile(fs, filepath.Join(testsDir, conftestName), nil, 0644); err != nil {
		return fmt.Errorf("write %s: %w", conftestName, err)
	}
	if err := fs.MkdirAll(srcDir, 0755); err != nil {
		return fmt.Errorf("create source directory: %w", err)
	}
	if err := afero.WriteFile(fs, filepath.Join(srcDir, initName), nil, 0644); err != nil {
		return fmt.Errorf("write %s: %w", initName, err)
	}
	return nil
}

func readRootManifest(fs afero.Fs, root string) (*manifest.Manifest, error) {
	data, err := afero.ReadFile(fs, filepath.Join(root, manifest.FileName))
	if err != nil {
		return nil, fmt.Errorf("read root manifest: %w", err)
	}
	return manifest.Parse(data)
}
