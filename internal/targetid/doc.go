// internal/targetid/doc.go

/*
Package targetid provides a structured representation for render target
identifiers and the fixed on-disk layout that hangs off them.

The canonical format is `//<slash/separated/dir>:<name>`, e.g.
`//episode_1/shots/sh010:comp`. The directory part is relative to the project
root, and the identifier contains exactly one colon.

For a target `//d:n` the layout under the project root is:

	d/                                 target directory (holds the manifest)
	d/blend_files/<src>                source scene file
	d/renders/n/image_sequences/       archived renders
	d/renders/n/image_sequences/latest current output directory

The package also owns the translation between absolute filesystem paths and
project-relative `//...` paths; the two directions are exact inverses for any
path under the project root.
*/
package targetid
