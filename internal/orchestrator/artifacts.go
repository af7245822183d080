package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/quara-dev/repo/pkg/models"
)

// ErrArtifactCollision is returned when two packages of one run produce
// files with the same name.
var ErrArtifactCollision = errors.New("artifact name collision")

// Collector moves artifacts into one output directory. Moves are
// serialized, and a file name may only be claimed by one package per run.
type Collector struct {
	mu     sync.Mutex
	dir    string
	owners map[string]string
}

// NewCollector returns a collector writing into dir. The directory is
// created on first use.
func NewCollector(dir string) *Collector {
	return &Collector{dir: dir, owners: make(map[string]string)}
}

// Collect moves src into the output directory and returns its new path.
// A file left over from an earlier run is replaced.
func (c *Collector) Collect(pkg *models.Package, src string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := filepath.Base(src)
	if owner, ok := c.owners[name]; ok {
		return "", fmt.Errorf("%w: %s produced by both %s and %s", ErrArtifactCollision, name, owner, pkg.Name)
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	dst := filepath.Join(c.dir, name)
	if err := move(src, dst); err != nil {
		return "", fmt.Errorf("collect %s: %w", name, err)
	}
	c.owners[name] = pkg.Name
	return dst, nil
}

// move renames src to dst, falling back to copy and remove across devices.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// packageSink records what one package hands to the collector.
type packageSink struct {
	collector *Collector
	files     []string
}

func (s *packageSink) Collect(pkg *models.Package, src string) (string, error) {
	dst, err := s.collector.Collect(pkg, src)
	if err != nil {
		return "", err
	}
	s.files = append(s.files, dst)
	return dst, nil
}
