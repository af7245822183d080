// Package discover enumerates the packages of a monorepo.
package discover

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/manifest"
	"github.com/quara-dev/repo/pkg/models"
)

// ErrDuplicateName is the cause of a DiscoveryError for a package whose
// name is already taken by a package earlier in lexical order.
var ErrDuplicateName = errors.New("duplicate package name")

// Options controls a discovery walk.
type Options struct {
	// Root is the repository root.
	Root string
	// Layout lists the directories under Root that hold packages.
	Layout []string
	// Manifest is the manifest file name. Defaults to pyproject.toml.
	Manifest string
	// TestsDir is the test directory a package must have. Defaults to tests.
	TestsDir string
	// Logger receives debug and warn messages. Nil discards them.
	Logger *zap.Logger
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"__pycache__":  true,
}

// Discover walks every layout directory under opts.Root and returns the
// packages it finds. Malformed manifests become discovery errors on the
// registry; the returned error is reserved for the walk itself failing.
func Discover(ctx context.Context, opts Options) (*Registry, error) {
	if opts.Manifest == "" {
		opts.Manifest = manifest.FileName
	}
	if opts.TestsDir == "" {
		opts.TestsDir = "tests"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	var dirs []string
	seen := make(map[string]bool)
	for _, layoutDir := range opts.Layout {
		base := filepath.Join(root, layoutDir)
		if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
			log.Debug("layout directory missing", zap.String("dir", layoutDir))
			continue
		}

		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Warn("walk error", zap.String("path", path), zap.Error(err))
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !d.IsDir() {
				return nil
			}
			name := d.Name()
			if path != base && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}

			if !fileExists(filepath.Join(path, opts.Manifest)) {
				return nil
			}
			if !dirExists(filepath.Join(path, opts.TestsDir)) {
				log.Debug("manifest without test directory, ignored", zap.String("dir", path))
				return nil
			}
			if !seen[path] {
				seen[path] = true
				dirs = append(dirs, path)
			}
			// Nested projects belong to this package.
			return filepath.SkipDir
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", layoutDir, err)
		}
	}

	reg := &Registry{Root: root}
	candidates := make([]candidate, 0, len(dirs))
	for _, dir := range dirs {
		candidates = append(candidates, candidate{dir: dir, rel: relSlash(root, dir)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].rel < candidates[j].rel })

	byName := make(map[string]*models.Package)
	for _, c := range candidates {
		pkg, err := load(c, opts)
		if err == nil {
			if prev, ok := byName[pkg.Name]; ok {
				err = fmt.Errorf("%w %q, already defined by %s", ErrDuplicateName, pkg.Name, prev.RelPath)
			}
		}
		if err != nil {
			derr := &models.DiscoveryError{Path: c.dir, RelPath: c.rel, Err: err}
			log.Warn("skipping package", zap.String("dir", c.rel), zap.Error(err))
			reg.Errors = append(reg.Errors, derr)
			continue
		}
		byName[pkg.Name] = pkg
		reg.Packages = append(reg.Packages, pkg)
		log.Debug("discovered package", zap.String("package", pkg.Name), zap.String("dir", c.rel))
	}

	return reg, nil
}

type candidate struct {
	dir string
	rel string
}

func load(c candidate, opts Options) (*models.Package, error) {
	manifestPath := filepath.Join(c.dir, opts.Manifest)
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}

	first, _, _ := strings.Cut(c.rel, "/")
	kind := models.KindForDir(first)

	return &models.Package{
		Name:                m.Name,
		Version:             m.Version,
		Path:                c.dir,
		RelPath:             c.rel,
		Kind:                kind,
		ManifestPath:        manifestPath,
		Dependencies:        m.DependencyNames(),
		DevDependencies:     m.DevDependencyNames(),
		PrivateDependencies: m.PrivateDependencies(c.dir),
		Sources:             m.Sources(c.dir),
		HasTests:            true,
		BuildBackend:        m.BuildSystem.BuildBackend,
	}, nil
}

func relSlash(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return filepath.ToSlash(dir)
	}
	return filepath.ToSlash(rel)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
