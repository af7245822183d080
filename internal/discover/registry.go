package discover

import (
	"errors"
	"fmt"
	"strings"

	"github.com/quara-dev/repo/pkg/models"
)

// ErrPackageNotFound is returned by Select when a requested name matches
// no discovered package.
var ErrPackageNotFound = errors.New("package not found")

// Registry holds the result of one discovery walk. It is read-only once
// Discover returns.
type Registry struct {
	// Root is the absolute repository root.
	Root string
	// Packages are the valid packages in lexical order of their path.
	Packages []*models.Package
	// Errors are the directories that could not be loaded.
	Errors []*models.DiscoveryError
}

// Get returns the package named name, matched by manifest name or by
// path relative to the root.
func (r *Registry) Get(name string) (*models.Package, bool) {
	name = strings.TrimSuffix(name, "/")
	for _, p := range r.Packages {
		if p.Name == name || p.RelPath == name {
			return p, true
		}
	}
	return nil, false
}

// Select returns the packages named in names, in registry order. An empty
// selection returns every package. Every unknown name is reported in a
// single ErrPackageNotFound error.
func (r *Registry) Select(names []string) ([]*models.Package, error) {
	if len(names) == 0 {
		return append([]*models.Package(nil), r.Packages...), nil
	}

	wanted := make(map[string]bool, len(names))
	var unknown []string
	for _, name := range names {
		p, ok := r.Get(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		wanted[p.Path] = true
	}
	switch len(unknown) {
	case 0:
	case 1:
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, unknown[0])
	default:
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, strings.Join(unknown, ", "))
	}

	var out []*models.Package
	for _, p := range r.Packages {
		if wanted[p.Path] {
			out = append(out, p)
		}
	}
	return out, nil
}

// ByPath returns the package whose directory is path.
func (r *Registry) ByPath(path string) (*models.Package, bool) {
	for _, p := range r.Packages {
		if p.Path == path {
			return p, true
		}
	}
	return nil, false
}

// WithDependencies returns pkgs plus every package they depend on through
// private dependencies, transitively, in registry order. Private
// dependencies outside the registry are ignored.
func (r *Registry) WithDependencies(pkgs []*models.Package) []*models.Package {
	include := make(map[string]bool)
	var visit func(p *models.Package)
	visit = func(p *models.Package) {
		if include[p.Path] {
			return
		}
		include[p.Path] = true
		for _, dir := range p.PrivateDependencies {
			if dep, ok := r.ByPath(dir); ok {
				visit(dep)
			}
		}
	}
	for _, p := range pkgs {
		visit(p)
	}

	var out []*models.Package
	for _, p := range r.Packages {
		if include[p.Path] {
			out = append(out, p)
		}
	}
	return out
}
