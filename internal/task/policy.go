package task

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownInvalidation is returned for unknown invalidation type names.
var ErrUnknownInvalidation = errors.New("unknown dependency invalidation type")

// InvalidationType is one reason a target is considered stale.
type InvalidationType string

const (
	FileModificationTime InvalidationType = "FILE_MODIFICATION_TIME"
	ResolutionChange     InvalidationType = "RESOLUTION_CHANGE"
)

// Policy is the set of invalidation types requested for a target task. An
// empty policy forces a render of the requested target alone.
type Policy []InvalidationType

// Has reports whether the policy contains t.
func (p Policy) Has(t InvalidationType) bool {
	return slices.Contains(p, t)
}

// IsForce reports whether the policy is empty.
func (p Policy) IsForce() bool {
	return len(p) == 0
}

// Validate rejects unknown invalidation types.
func (p Policy) Validate() error {
	for _, t := range p {
		switch t {
		case FileModificationTime, ResolutionChange:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownInvalidation, string(t))
		}
	}
	return nil
}

// ParsePolicy parses a comma separated list such as
// "FILE_MODIFICATION_TIME,RESOLUTION_CHANGE". "none" and "" yield the empty
// (forcing) policy. Names are case-insensitive.
func ParsePolicy(raw string) (Policy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "none") {
		return Policy{}, nil
	}
	var p Policy
	for _, part := range strings.Split(raw, ",") {
		t := InvalidationType(strings.ToUpper(strings.TrimSpace(part)))
		if t == "" || p.Has(t) {
			continue
		}
		p = append(p, t)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
