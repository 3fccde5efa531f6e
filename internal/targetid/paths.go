// internal/targetid/paths.go
package targetid

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Directory returns the absolute directory that owns the target.
func (id ID) Directory(projectRoot string) string {
	return filepath.Join(projectRoot, filepath.FromSlash(id.Dir))
}

// BlendFilesDir returns the directory holding the target's scene files.
func (id ID) BlendFilesDir(projectRoot string) string {
	return filepath.Join(id.Directory(projectRoot), blendFilesDirName)
}

// SourcePath resolves a manifest `src` entry to an absolute scene file path.
// Entries that already start with "blend_files/" are not nested twice.
func (id ID) SourcePath(projectRoot, src string) string {
	src = filepath.ToSlash(src)
	if strings.HasPrefix(src, blendFilesDirName+"/") {
		return filepath.Join(id.Directory(projectRoot), filepath.FromSlash(src))
	}
	return filepath.Join(id.BlendFilesDir(projectRoot), filepath.FromSlash(src))
}

// RenderDir returns renders/<name> for the target.
func (id ID) RenderDir(projectRoot string) string {
	return filepath.Join(id.Directory(projectRoot), rendersDirName, id.Name)
}

// ImageSequencesDir returns the directory that holds the current output and
// all archived outputs of the target.
func (id ID) ImageSequencesDir(projectRoot string) string {
	return filepath.Join(id.RenderDir(projectRoot), imageSequencesDirName)
}

// LatestDir returns the current output directory of the target.
func (id ID) LatestDir(projectRoot string) string {
	return filepath.Join(id.ImageSequencesDir(projectRoot), latestDirName)
}

// ToProjectPath converts an absolute path under projectRoot into its
// project-relative "//..." form.
func ToProjectPath(projectRoot, absPath string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(projectRoot), filepath.Clean(absPath))
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", absPath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside project root %s", absPath, projectRoot)
	}
	if rel == "." {
		return Prefix, nil
	}
	return Prefix + filepath.ToSlash(rel), nil
}

// FromProjectPath converts a project-relative "//..." path into an absolute
// path under projectRoot.
func FromProjectPath(projectRoot, projectPath string) (string, error) {
	if !strings.HasPrefix(projectPath, Prefix) {
		return "", fmt.Errorf("path %q is not project-relative (missing %q)", projectPath, Prefix)
	}
	rel := path.Clean(strings.TrimPrefix(projectPath, Prefix))
	if rel == "." {
		rel = ""
	}
	if rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("path %q escapes the project root", projectPath)
	}
	return filepath.Join(projectRoot, filepath.FromSlash(rel)), nil
}

// FromLatestDir recovers the target whose current output directory is
// latestDir (".../<dir>/renders/<name>/image_sequences/latest").
func FromLatestDir(projectRoot, latestDir string) (ID, error) {
	latestDir = filepath.Clean(latestDir)
	imageSequences := filepath.Dir(latestDir)
	renderDir := filepath.Dir(imageSequences)
	renders := filepath.Dir(renderDir)
	if filepath.Base(latestDir) != latestDirName ||
		filepath.Base(imageSequences) != imageSequencesDirName ||
		filepath.Base(renders) != rendersDirName {
		return ID{}, fmt.Errorf("%s does not follow the renders/<name>/image_sequences/latest layout", latestDir)
	}
	targetDir, err := ToProjectPath(projectRoot, filepath.Dir(renders))
	if err != nil {
		return ID{}, err
	}
	return Parse(targetDir + ":" + filepath.Base(renderDir))
}

// TargetRootForBlendFile returns the target directory that owns a scene file
// stored as <root>/blend_files/<file>. The second result is false when the
// file does not live in a blend_files directory.
func TargetRootForBlendFile(blendFile string) (string, bool) {
	blendFilesDir := filepath.Dir(blendFile)
	if filepath.Base(blendFilesDir) != blendFilesDirName {
		return "", false
	}
	return filepath.Dir(blendFilesDir), true
}

// FromBlendFile derives the conventional target of a scene file: the target
// directory that owns it, named after the file without its extension.
func FromBlendFile(projectRoot, blendFile string) (ID, error) {
	root, ok := TargetRootForBlendFile(blendFile)
	if !ok {
		return ID{}, fmt.Errorf("%s is not inside a %s directory", blendFile, blendFilesDirName)
	}
	dir, err := ToProjectPath(projectRoot, root)
	if err != nil {
		return ID{}, err
	}
	stem := strings.TrimSuffix(filepath.Base(blendFile), filepath.Ext(blendFile))
	return Parse(dir + ":" + stem)
}
