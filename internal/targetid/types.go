// internal/targetid/types.go
package targetid

import "errors"

// Prefix marks a path or identifier as relative to the project root.
const Prefix = "//"

const (
	blendFilesDirName     = "blend_files"
	rendersDirName        = "renders"
	imageSequencesDirName = "image_sequences"
	latestDirName         = "latest"
)

// ErrInvalidFormat is returned for identifiers that do not match
// `//<path>:<name>` with exactly one colon.
var ErrInvalidFormat = errors.New("invalid target format")

// ID is the structured form of a target identifier.
type ID struct {
	// Dir is the slash-separated directory relative to the project root,
	// without the leading "//". Empty means the project root itself.
	Dir string
	// Name is the local name of the target inside its directory.
	Name string
}

// New builds an ID from a project-relative directory and a local name.
func New(dir, name string) ID {
	return ID{Dir: cleanDir(dir), Name: name}
}

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool {
	return id.Dir == "" && id.Name == ""
}
