package models

// Kind is the category of a monorepo package. It decides which layout
// directory a package lives in.
type Kind string

const (
	// KindLibrary is a reusable library under libraries/.
	KindLibrary Kind = "library"
	// KindPlugin is a backend implementation under plugins/.
	KindPlugin Kind = "plugin"
	// KindApplication is a deployable application under applications/.
	KindApplication Kind = "application"
)

// Valid returns true if the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindLibrary, KindPlugin, KindApplication:
		return true
	default:
		return false
	}
}

// Dir returns the layout directory that holds packages of this kind.
func (k Kind) Dir() string {
	switch k {
	case KindLibrary:
		return "libraries"
	case KindPlugin:
		return "plugins"
	case KindApplication:
		return "applications"
	default:
		return ""
	}
}

// ParseKind converts user input to a Kind. "app" is accepted as a short
// form of "application".
func ParseKind(s string) (Kind, bool) {
	if s == "app" {
		return KindApplication, true
	}
	k := Kind(s)
	return k, k.Valid()
}

// KindForDir returns the kind whose layout directory is dir.
// Unknown directories return an empty Kind.
func KindForDir(dir string) Kind {
	for _, k := range []Kind{KindLibrary, KindPlugin, KindApplication} {
		if k.Dir() == dir {
			return k
		}
	}
	return ""
}
