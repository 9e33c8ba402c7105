package generation

import (
	"fmt"
	"strings"
)

// Name identifies a cache generation.
// The full name is the prefix followed by the version, e.g. "portal-cache-v3".
// Generations sharing a prefix belong to the same site; only one of them is current.
type Name struct {
	Prefix  string
	Version string
}

// New returns the generation name for the given prefix and version.
// Both parts are required.
func New(prefix, version string) (Name, error) {
	if prefix == "" {
		return Name{}, fmt.Errorf("Generation prefix must not be empty")
	}
	if version == "" {
		return Name{}, fmt.Errorf("Generation version must not be empty")
	}
	return Name{Prefix: prefix, Version: version}, nil
}

// String returns the full generation name as used by the storage.
func (n Name) String() string {
	return n.Prefix + n.Version
}

// Owns reports whether the given stored generation name carries this prefix,
// i.e. whether it is a (possibly older) generation of the same site.
func (n Name) Owns(stored string) bool {
	return strings.HasPrefix(stored, n.Prefix)
}

// IsCurrent reports whether the stored generation name is this exact generation.
func (n Name) IsCurrent(stored string) bool {
	return stored == n.String()
}

// Stale returns the generation names in stored that carry this prefix but
// are not the current generation. Names with other prefixes are left alone.
func (n Name) Stale(stored []string) []string {
	stale := make([]string, 0)
	for _, s := range stored {
		if n.Owns(s) && !n.IsCurrent(s) {
			stale = append(stale, s)
		}
	}
	return stale
}

// VersionOf returns the version part of a stored generation name.
// The second return value is false if the name does not carry the prefix.
func (n Name) VersionOf(stored string) (string, bool) {
	if !n.Owns(stored) {
		return "", false
	}
	return strings.TrimPrefix(stored, n.Prefix), true
}
