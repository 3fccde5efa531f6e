package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrInvalidSpec is returned for specs that are neither a target task nor a
// blend-file task, or that claim to be both.
var ErrInvalidSpec = errors.New("invalid task spec")

// Kind distinguishes the two task shapes.
type Kind int

const (
	KindInvalid Kind = iota
	KindTarget
	KindBlendFile
)

func (k Kind) String() string {
	switch k {
	case KindTarget:
		return "target"
	case KindBlendFile:
		return "blend_file"
	default:
		return "invalid"
	}
}

// Params holds the rendering parameters shared by both task shapes. A nil
// field means "use whatever the scene file says".
type Params struct {
	ResolutionX          *int `json:"resolution_x,omitempty"`
	ResolutionY          *int `json:"resolution_y,omitempty"`
	ResolutionPercentage *int `json:"resolution_percentage,omitempty"`
	StartFrame           *int `json:"start_frame,omitempty"`
	EndFrame             *int `json:"end_frame,omitempty"`
}

// HasFrameRange reports whether both ends of the frame range are set.
func (p Params) HasFrameRange() bool {
	return p.StartFrame != nil && p.EndFrame != nil
}

// Segment identifies one piece of a task that was split across workers.
type Segment struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// Spec is the JSON task specification.
type Spec struct {
	Target                      string `json:"target,omitempty"`
	DependencyInvalidationTypes Policy `json:"dependency_invalidation_types,omitempty"`

	BlendFile       string `json:"blend_file,omitempty"`
	OutputDirectory string `json:"output_directory,omitempty"`

	Params

	Segment *Segment `json:"segment,omitempty"`
}

// Kind classifies the spec by the fields it carries.
func (s Spec) Kind() Kind {
	switch {
	case s.Target != "" && s.BlendFile == "":
		return KindTarget
	case s.BlendFile != "" && s.Target == "":
		return KindBlendFile
	default:
		return KindInvalid
	}
}

// Validate checks that the spec has exactly one shape and a known policy.
func (s Spec) Validate() error {
	if s.Target != "" && s.BlendFile != "" {
		return fmt.Errorf("%w: only one of \"target\" or \"blend_file\" may be given", ErrInvalidSpec)
	}
	if s.Kind() == KindInvalid {
		return fmt.Errorf("%w: one of \"target\" or \"blend_file\" is required", ErrInvalidSpec)
	}
	if err := s.DependencyInvalidationTypes.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	if s.HasFrameRange() && *s.EndFrame < *s.StartFrame {
		return fmt.Errorf("%w: end_frame %d is before start_frame %d", ErrInvalidSpec, *s.EndFrame, *s.StartFrame)
	}
	return nil
}

// Key identifies the unit of work a blend-file task performs.
type Key struct {
	BlendFile       string
	OutputDirectory string
}

func (k Key) String() string {
	return k.BlendFile + " -> " + k.OutputDirectory
}

// Key returns the dedup key of a blend-file task.
func (s Spec) Key() Key {
	return Key{BlendFile: s.BlendFile, OutputDirectory: s.OutputDirectory}
}

// BlendFileTask derives a blend-file task from a target task, carrying over
// the rendering parameters but not the target or the policy.
func (s Spec) BlendFileTask(blendFile, outputDirectory string) Spec {
	return Spec{
		BlendFile:       blendFile,
		OutputDirectory: outputDirectory,
		Params:          s.Params.clone(),
	}
}

// ForTarget returns a copy of a target task aimed at another target.
func (s Spec) ForTarget(target string) Spec {
	out := s.Clone()
	out.Target = target
	return out
}

// Clone returns a deep copy of the spec.
func (s Spec) Clone() Spec {
	out := s
	out.Params = s.Params.clone()
	if s.DependencyInvalidationTypes != nil {
		out.DependencyInvalidationTypes = append(Policy(nil), s.DependencyInvalidationTypes...)
	}
	if s.Segment != nil {
		seg := *s.Segment
		out.Segment = &seg
	}
	return out
}

func (p Params) clone() Params {
	return Params{
		ResolutionX:          cloneInt(p.ResolutionX),
		ResolutionY:          cloneInt(p.ResolutionY),
		ResolutionPercentage: cloneInt(p.ResolutionPercentage),
		StartFrame:           cloneInt(p.StartFrame),
		EndFrame:             cloneInt(p.EndFrame),
	}
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// Int returns a pointer to v, for building Params literals.
func Int(v int) *int {
	return &v
}

// Decode reads and validates one JSON spec.
func Decode(r io.Reader) (Spec, error) {
	var spec Spec
	dec := json.NewDecoder(r)
	if err := dec.Decode(&spec); err != nil {
		return Spec{}, fmt.Errorf("%w: decode: %v", ErrInvalidSpec, err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// LoadFile decodes the spec stored at path.
func LoadFile(path string) (Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return Spec{}, err
	}
	defer f.Close()
	spec, err := Decode(f)
	if err != nil {
		return Spec{}, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// Describe is a short human readable form used in log lines.
func (s Spec) Describe() string {
	var sb strings.Builder
	switch s.Kind() {
	case KindTarget:
		sb.WriteString(s.Target)
	case KindBlendFile:
		sb.WriteString(s.BlendFile)
	default:
		return "<invalid task>"
	}
	if s.HasFrameRange() {
		fmt.Fprintf(&sb, " [%d-%d]", *s.StartFrame, *s.EndFrame)
	}
	return sb.String()
}
