// Package models holds the types shared between the discoverer, the
// executor and the report.
package models

import "fmt"

// Package is one independently installable, testable and buildable project
// of the monorepo. A Package is built once by discovery and is not modified
// for the rest of the invocation.
type Package struct {
	// Name is the project name declared in the manifest.
	Name string `json:"name" yaml:"name"`
	// Version is the project version declared in the manifest.
	Version string `json:"version" yaml:"version"`
	// Path is the absolute package directory.
	Path string `json:"path" yaml:"path"`
	// RelPath is Path relative to the repository root, slash separated.
	RelPath string `json:"rel_path" yaml:"rel_path"`
	// Kind is derived from the layout directory the package was found under.
	Kind Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
	// ManifestPath is the absolute path of the manifest file.
	ManifestPath string `json:"manifest" yaml:"manifest"`
	// Dependencies lists the names of the runtime dependencies.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// DevDependencies lists the names of the development dependencies.
	DevDependencies []string `json:"dev_dependencies,omitempty" yaml:"dev_dependencies,omitempty"`
	// PrivateDependencies holds absolute directories of dependencies that
	// are declared by path, i.e. other packages of the monorepo.
	PrivateDependencies []string `json:"private_dependencies,omitempty" yaml:"private_dependencies,omitempty"`
	// Sources are the absolute source directories of the package.
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`
	// HasTests is true when the test directory exists.
	HasTests bool `json:"has_tests" yaml:"has_tests"`
	// BuildBackend is the PEP 517 build backend.
	BuildBackend string `json:"build_backend,omitempty" yaml:"build_backend,omitempty"`
}

// String implements fmt.Stringer.
func (p *Package) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.RelPath)
}

// DiscoveryError records a directory that looked like a package but could
// not be loaded. Discovery keeps going after one.
type DiscoveryError struct {
	// Path is the absolute package directory.
	Path string `json:"path" yaml:"path"`
	// RelPath is Path relative to the repository root.
	RelPath string `json:"rel_path" yaml:"rel_path"`
	// Err is the cause.
	Err error `json:"-" yaml:"-"`
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.RelPath, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
