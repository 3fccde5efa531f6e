// internal/targetid/parser.go
package targetid

import (
	"fmt"
	"path"
	"strings"
)

// Parse creates an ID from its canonical string representation.
func Parse(raw string) (ID, error) {
	if !strings.HasPrefix(raw, Prefix) {
		return ID{}, fmt.Errorf("%w: %q must start with %q", ErrInvalidFormat, raw, Prefix)
	}
	if n := strings.Count(raw, ":"); n != 1 {
		return ID{}, fmt.Errorf("%w: %q has %d colons, want exactly one", ErrInvalidFormat, raw, n)
	}

	dir, name, _ := strings.Cut(strings.TrimPrefix(raw, Prefix), ":")
	if name == "" {
		return ID{}, fmt.Errorf("%w: %q has an empty name", ErrInvalidFormat, raw)
	}
	if strings.ContainsAny(name, `/\`) {
		return ID{}, fmt.Errorf("%w: name %q must not contain path separators", ErrInvalidFormat, name)
	}
	if strings.Contains(dir, `\`) {
		return ID{}, fmt.Errorf("%w: %q must use forward slashes", ErrInvalidFormat, raw)
	}
	if dir != "" && cleanDir(dir) != dir {
		return ID{}, fmt.Errorf("%w: directory %q is not in canonical form", ErrInvalidFormat, dir)
	}
	if dir == ".." || strings.HasPrefix(dir, "../") {
		return ID{}, fmt.Errorf("%w: %q escapes the project root", ErrInvalidFormat, raw)
	}

	return ID{Dir: dir, Name: name}, nil
}

// Qualify parses a reference that may be written relative to the directory of
// the manifest declaring it: "name", ":name" and "//dir:name" are accepted.
func Qualify(ref, dir string) (ID, error) {
	if strings.HasPrefix(ref, Prefix) {
		return Parse(ref)
	}
	name := strings.TrimPrefix(ref, ":")
	return Parse(Prefix + cleanDir(dir) + ":" + name)
}

// String serializes the ID into its canonical representation.
func (id ID) String() string {
	return Prefix + id.Dir + ":" + id.Name
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func cleanDir(dir string) string {
	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir == "." {
		return ""
	}
	return dir
}
