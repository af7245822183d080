package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/manifest"
	"github.com/quara-dev/repo/pkg/models"
)

// distDir is the directory poetry builds into, relative to a package.
const distDir = "dist"

// distPatterns match the files collected after a build.
var distPatterns = []string{"*.whl", "*.tar.gz"}

// versionPattern accepts PEP 440 style versions such as 1.2.3, 1.2.3rc1
// or 2.0.0.dev4.
var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*([-._]?(a|b|rc|alpha|beta|post|dev)[-._]?[0-9]*)*$`)

func tool(name string, argv []string) ([]string, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("%w: tools.%s is empty", ErrBadArgs, name)
	}
	return append([]string(nil), argv...), nil
}

// sources returns the package source directories relative to the
// package, so tool output stays short.
func sources(pkg *models.Package) []string {
	out := make([]string, 0, len(pkg.Sources))
	for _, src := range pkg.Sources {
		rel, err := filepath.Rel(pkg.Path, src)
		if err != nil {
			rel = src
		}
		out = append(out, rel)
	}
	return out
}

func testsDir(opts Options) string {
	if opts.TestsDir == "" {
		return "tests"
	}
	return opts.TestsDir
}

func newInstall(opts Options) (Action, error) {
	base, err := tool("install", opts.Tools.Install)
	if err != nil {
		return nil, err
	}
	for _, e := range opts.Extras {
		base = append(base, "-E", e)
	}
	return &verb{
		name: "install",
		caps: Capabilities{ProducesExitCode: true, Ordered: true},
		steps: func(pkg *models.Package) ([]Step, error) {
			return []Step{{Name: "install", Argv: base}}, nil
		},
	}, nil
}

func newTest(opts Options) (Action, error) {
	base, err := tool("test", opts.Tools.Test)
	if err != nil {
		return nil, err
	}
	return &verb{
		name: "test",
		caps: Capabilities{Isolated: true, ProducesExitCode: true},
		steps: func(pkg *models.Package) ([]Step, error) {
			argv := append([]string(nil), base...)
			if opts.Coverage {
				for _, src := range sources(pkg) {
					argv = append(argv, "--cov", src)
				}
			}
			if len(opts.Exprs) > 0 {
				argv = append(argv, "-k", conjunction(opts.Exprs))
			}
			if len(opts.Markers) > 0 {
				argv = append(argv, "-m", conjunction(opts.Markers))
			}
			return []Step{{Name: "test", Argv: argv}}, nil
		},
	}, nil
}

// conjunction joins pytest selection expressions into one, since pytest
// keeps only the last -m and the last -k. A single expression is passed
// unchanged.
func conjunction(exprs []string) string {
	if len(exprs) == 1 {
		return exprs[0]
	}
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = "(" + e + ")"
	}
	return strings.Join(parts, " and ")
}

func newLint(opts Options) (Action, error) {
	base, err := tool("lint", opts.Tools.Lint)
	if err != nil {
		return nil, err
	}
	return &verb{
		name: "lint",
		caps: Capabilities{Isolated: true, ProducesExitCode: true},
		steps: func(pkg *models.Package) ([]Step, error) {
			argv := append(append([]string(nil), base...), sources(pkg)...)
			argv = append(argv, testsDir(opts))
			return []Step{{Name: "lint", Argv: argv}}, nil
		},
	}, nil
}

func newFormat(opts Options) (Action, error) {
	black, err := tool("format", opts.Tools.Format)
	if err != nil {
		return nil, err
	}
	isort, err := tool("sort_imports", opts.Tools.SortImports)
	if err != nil {
		return nil, err
	}
	if opts.Check {
		black = append(black, "--check")
		isort = append(isort, "--check-only")
	}
	return &verb{
		name: "format",
		caps: Capabilities{Isolated: true, ProducesExitCode: true},
		steps: func(pkg *models.Package) ([]Step, error) {
			targets := append(sources(pkg), testsDir(opts))
			return []Step{
				{Name: "format", Argv: append(append([]string(nil), black...), targets...)},
				{Name: "sort-imports", Argv: append(append([]string(nil), isort...), targets...)},
			}, nil
		},
	}, nil
}

func newTypecheck(opts Options) (Action, error) {
	base, err := tool("typecheck", opts.Tools.Typecheck)
	if err != nil {
		return nil, err
	}
	return &verb{
		name: "typecheck",
		caps: Capabilities{Isolated: true, ProducesExitCode: true},
		steps: func(pkg *models.Package) ([]Step, error) {
			srcs := sources(pkg)
			if len(srcs) == 0 {
				return nil, fmt.Errorf("%s has no source directory to typecheck", pkg.Name)
			}
			return []Step{{Name: "typecheck", Argv: append(append([]string(nil), base...), srcs...)}}, nil
		},
	}, nil
}

func newBuild(opts Options) (Action, error) {
	base, err := tool("build", opts.Tools.Build)
	if err != nil {
		return nil, err
	}
	switch opts.Format {
	case "":
	case "wheel", "sdist":
		base = append(base, "--format", opts.Format)
	default:
		return nil, fmt.Errorf("%w: build format must be wheel or sdist, got %q", ErrBadArgs, opts.Format)
	}
	return &verb{
		name: "build",
		caps: Capabilities{Isolated: true, ProducesExitCode: true, ProducesArtifacts: true},
		steps: func(pkg *models.Package) ([]Step, error) {
			return []Step{
				{Name: "build", Argv: base},
				{Name: "collect", Func: collectDist},
			}, nil
		},
	}, nil
}

// collectDist hands the built distributions of a package to the artifact
// sink, in name order.
func collectDist(ctx context.Context, sc *StepContext) error {
	if sc.Artifacts == nil {
		return nil
	}
	var files []string
	for _, pattern := range distPatterns {
		matches, err := filepath.Glob(filepath.Join(sc.Package.Path, distDir, pattern))
		if err != nil {
			return fmt.Errorf("glob %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst, err := sc.Artifacts.Collect(sc.Package, f)
		if err != nil {
			return err
		}
		if sc.Logger != nil {
			sc.Logger.Debug("collected artifact",
				zap.String("package", sc.Package.Name),
				zap.String("file", dst))
		}
	}
	return nil
}

func newUpdate(opts Options) (Action, error) {
	base, err := tool("update", opts.Tools.Update)
	if err != nil {
		return nil, err
	}
	return &verb{
		name: "update",
		caps: Capabilities{Isolated: true, ProducesExitCode: true},
		steps: func(pkg *models.Package) ([]Step, error) {
			return []Step{{Name: "update", Argv: base}}, nil
		},
	}, nil
}

func newClean(opts Options) (Action, error) {
	return &verb{
		name: "clean",
		caps: Capabilities{Isolated: true},
		steps: func(pkg *models.Package) ([]Step, error) {
			return []Step{{Name: "clean", Func: cleanDist}}, nil
		},
	}, nil
}

func cleanDist(ctx context.Context, sc *StepContext) error {
	dir := filepath.Join(sc.Package.Path, distDir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// isDowngrade reports whether to sorts before from. Versions that do not
// parse are never a downgrade.
func isDowngrade(from, to string) bool {
	a, err := goversion.NewVersion(from)
	if err != nil {
		return false
	}
	b, err := goversion.NewVersion(to)
	if err != nil {
		return false
	}
	return b.LessThan(a)
}

func newBump(opts Options) (Action, error) {
	if opts.Version == "" {
		return nil, fmt.Errorf("%w: bump needs a version", ErrBadArgs)
	}
	if !versionPattern.MatchString(opts.Version) {
		return nil, fmt.Errorf("%w: %q is not a valid version", ErrBadArgs, opts.Version)
	}
	lock, err := tool("lock", opts.Tools.Lock)
	if err != nil {
		return nil, err
	}
	version, prefix := opts.Version, opts.Prefix
	return &verb{
		name: "bump",
		caps: Capabilities{Isolated: true, ProducesExitCode: true},
		steps: func(pkg *models.Package) ([]Step, error) {
			rewrite := func(ctx context.Context, sc *StepContext) error {
				if sc.Logger != nil && isDowngrade(sc.Package.Version, version) {
					sc.Logger.Warn("bump lowers the package version",
						zap.String("from", sc.Package.Version),
						zap.String("to", version))
				}
				return manifest.Bump(sc.Package.ManifestPath, prefix, version)
			}
			return []Step{
				{Name: "set-version", Func: rewrite},
				{Name: "lock", Argv: lock},
			}, nil
		},
	}, nil
}
