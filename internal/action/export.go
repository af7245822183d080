package action

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/quara-dev/repo/internal/manifest"
	"github.com/quara-dev/repo/pkg/models"
)

// exportDir is the staging directory of an export, relative to the
// package.
const exportDir = "export"

// requirementsFile is the merged requirements file pip downloads from.
const requirementsFile = "requirements.txt"

// exportUnit is a package whose wheel goes into an export bundle.
type exportUnit struct {
	name string
	dir  string
}

func requirementsPart(i int) string {
	return fmt.Sprintf("requirements-%d.txt", i)
}

// newExport bundles a package, its private dependencies and the wheels of
// every third-party requirement into NAME-VERSION.zip for offline
// installation.
func newExport(opts Options) (Action, error) {
	build, err := tool("build", opts.Tools.Build)
	if err != nil {
		return nil, err
	}
	export, err := tool("export", opts.Tools.Export)
	if err != nil {
		return nil, err
	}
	download, err := tool("download", opts.Tools.Download)
	if err != nil {
		return nil, err
	}
	build = append(build, "--format", "wheel")

	return &verb{
		name: "export",
		// Not isolated: private dependencies are built in their own
		// directories.
		caps: Capabilities{ProducesExitCode: true, ProducesArtifacts: true},
		steps: func(pkg *models.Package) ([]Step, error) {
			units, err := exportUnits(pkg)
			if err != nil {
				return nil, err
			}
			staging := filepath.Join(pkg.Path, exportDir)

			steps := []Step{{Name: "prepare", Func: prepareExport(units, staging)}}
			for i, u := range units {
				name, dir := "", ""
				if i > 0 {
					name, dir = " "+u.name, u.dir
				}
				steps = append(steps,
					Step{Name: "build" + name, Argv: append([]string(nil), build...), Dir: dir},
					Step{
						Name: "requirements" + name,
						Argv: append(append([]string(nil), export...), "--output", filepath.Join(staging, requirementsPart(i))),
						Dir:  dir,
					},
				)
			}
			return append(steps,
				Step{Name: "stage", Func: stageExport(units, staging)},
				Step{Name: "download", Argv: append(append([]string(nil), download...), "-r", requirementsFile, "-d", "."), Dir: staging},
				Step{Name: "archive", Func: archiveExport(staging)},
			), nil
		},
	}, nil
}

// exportUnits returns pkg followed by its private dependencies,
// transitively, sorted by name.
func exportUnits(pkg *models.Package) ([]exportUnit, error) {
	seen := map[string]bool{pkg.Path: true}
	var deps []exportUnit

	var visit func(dirs []string) error
	visit = func(dirs []string) error {
		for _, dir := range dirs {
			if seen[dir] {
				continue
			}
			seen[dir] = true
			m, err := manifest.Load(filepath.Join(dir, manifest.FileName))
			if err != nil {
				return fmt.Errorf("private dependency %s: %w", dir, err)
			}
			deps = append(deps, exportUnit{name: m.Name, dir: dir})
			if err := visit(m.PrivateDependencies(dir)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(pkg.PrivateDependencies); err != nil {
		return nil, err
	}

	sort.Slice(deps, func(i, j int) bool { return deps[i].name < deps[j].name })
	return append([]exportUnit{{name: pkg.Name, dir: pkg.Path}}, deps...), nil
}

// prepareExport empties the staging directory and the dist directories
// of every unit, so only fresh wheels are bundled.
func prepareExport(units []exportUnit, staging string) func(context.Context, *StepContext) error {
	return func(ctx context.Context, sc *StepContext) error {
		if err := os.RemoveAll(staging); err != nil {
			return fmt.Errorf("remove %s: %w", staging, err)
		}
		for _, u := range units {
			dist := filepath.Join(u.dir, distDir)
			if err := os.RemoveAll(dist); err != nil {
				return fmt.Errorf("remove %s: %w", dist, err)
			}
		}
		return os.MkdirAll(staging, 0755)
	}
}

// stageExport moves the built wheels into the staging directory and
// merges the exported requirements into one file. Requirements installed
// from a path or a URL are dropped: pip cannot download them.
func stageExport(units []exportUnit, staging string) func(context.Context, *StepContext) error {
	return func(ctx context.Context, sc *StepContext) error {
		wheels := 0
		for _, u := range units {
			matches, err := filepath.Glob(filepath.Join(u.dir, distDir, "*.whl"))
			if err != nil {
				return err
			}
			sort.Strings(matches)
			for _, src := range matches {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := os.Rename(src, filepath.Join(staging, filepath.Base(src))); err != nil {
					return fmt.Errorf("stage %s: %w", filepath.Base(src), err)
				}
				wheels++
			}
		}
		if wheels == 0 {
			return fmt.Errorf("no wheel built for %s", sc.Package.Name)
		}

		var merged []string
		seen := make(map[string]bool)
		for i := range units {
			part := filepath.Join(staging, requirementsPart(i))
			lines, err := readRequirements(part)
			if err != nil {
				return err
			}
			for _, line := range lines {
				if strings.Contains(line, "@") || seen[line] {
					continue
				}
				seen[line] = true
				merged = append(merged, line)
			}
			if err := os.Remove(part); err != nil {
				return err
			}
		}

		content := strings.Join(merged, "\n")
		if len(merged) > 0 {
			content += "\n"
		}
		if err := os.WriteFile(filepath.Join(staging, requirementsFile), []byte(content), 0644); err != nil {
			return fmt.Errorf("write requirements: %w", err)
		}
		if sc.Logger != nil {
			sc.Logger.Debug("export staged",
				zap.String("package", sc.Package.Name),
				zap.Int("wheels", wheels),
				zap.Int("requirements", len(merged)))
		}
		return nil
	}
}

func readRequirements(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read requirements: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

// archiveExport zips the staging directory into the package dist
// directory, hands the archive to the artifact sink and removes the
// staging directory.
func archiveExport(staging string) func(context.Context, *StepContext) error {
	return func(ctx context.Context, sc *StepContext) error {
		if err := os.Remove(filepath.Join(staging, requirementsFile)); err != nil && !os.IsNotExist(err) {
			return err
		}
		dist := filepath.Join(sc.Package.Path, distDir)
		if err := os.MkdirAll(dist, 0755); err != nil {
			return err
		}
		archive := filepath.Join(dist, fmt.Sprintf("%s-%s.zip", sc.Package.Name, sc.Package.Version))
		if err := writeZip(ctx, archive, staging); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(archive), err)
		}
		if err := os.RemoveAll(staging); err != nil {
			return fmt.Errorf("remove %s: %w", staging, err)
		}

		if sc.Artifacts == nil {
			return nil
		}
		dst, err := sc.Artifacts.Collect(sc.Package, archive)
		if err != nil {
			return err
		}
		if sc.Logger != nil {
			sc.Logger.Debug("collected artifact",
				zap.String("package", sc.Package.Name),
				zap.String("file", dst))
		}
		return nil
	}
}

// writeZip archives the files under dir, in lexical order, with paths
// relative to dir.
func writeZip(ctx context.Context, dst, dir string) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}
