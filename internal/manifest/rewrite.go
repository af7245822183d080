package manifest

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// The rewrite helpers below edit manifests line by line so that comments,
// ordering and formatting survive a bump.

var (
	sectionHeader = regexp.MustCompile(`^\s*\[\s*([^\]]+?)\s*\]\s*(#.*)?$`)
	versionLine   = regexp.MustCompile(`^(\s*version\s*=\s*)(["'])[^"']*(["'])(.*)$`)
	dependencyKey = regexp.MustCompile(`^(\s*)([A-Za-z0-9][A-Za-z0-9._-]*)(\s*=\s*)(.*)$`)
	stringValue   = regexp.MustCompile(`^(["'])[^"']*(["'])(.*)$`)
	inlineVersion = regexp.MustCompile(`(\bversion\s*=\s*)(["'])[^"']*(["'])`)
)

// SetVersion returns content with tool.poetry.version replaced by version.
func SetVersion(content []byte, version string) ([]byte, error) {
	lines := splitLines(content)
	section := ""
	replaced := false
	for i, line := range lines {
		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			section = m[1]
			continue
		}
		if section != "tool.poetry" || replaced {
			continue
		}
		if m := versionLine.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + m[2] + version + m[3] + m[4]
			replaced = true
		}
	}
	if !replaced {
		return nil, ErrMissingVersion
	}
	return joinLines(lines), nil
}

// PinLocalDependencies rewrites the version constraint of every dependency
// whose name starts with prefix + "-" to "^version". Plain string
// constraints and inline tables with a version key are handled; path-only
// entries are left alone. An empty prefix is a no-op.
func PinLocalDependencies(content []byte, prefix, version string) []byte {
	if prefix == "" {
		return content
	}
	lines := splitLines(content)
	section := ""
	pin := "^" + version
	for i, line := range lines {
		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			section = m[1]
			continue
		}
		if !isDependencySection(section) {
			continue
		}
		m := dependencyKey.FindStringSubmatch(line)
		if m == nil || !strings.HasPrefix(m[2], prefix+"-") {
			continue
		}
		value := m[4]
		if sv := stringValue.FindStringSubmatch(value); sv != nil {
			lines[i] = m[1] + m[2] + m[3] + sv[1] + pin + sv[2] + sv[3]
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(value), "{") && inlineVersion.MatchString(value) {
			value = inlineVersion.ReplaceAllString(value, "${1}${2}"+pin+"${3}")
			lines[i] = m[1] + m[2] + m[3] + value
		}
	}
	return joinLines(lines)
}

// Bump sets the version of the manifest at path and pins local dependencies
// sharing prefix to the same version. The file is rewritten in place.
func Bump(path, prefix, version string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	out, err := SetVersion(data, version)
	if err != nil {
		return fmt.Errorf("set version in %s: %w", path, err)
	}
	out = PinLocalDependencies(out, prefix, version)
	if bytes.Equal(out, data) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat manifest: %w", err)
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func isDependencySection(section string) bool {
	switch section {
	case "tool.poetry.dependencies", "tool.poetry.dev-dependencies":
		return true
	}
	return strings.HasPrefix(section, "tool.poetry.group.") && strings.HasSuffix(section, ".dependencies")
}

func splitLines(content []byte) []string {
	return strings.Split(string(content), "\n")
}

func joinLines(lines []string) []byte {
	return []byte(strings.Join(lines, "\n"))
}
