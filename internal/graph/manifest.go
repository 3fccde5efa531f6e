package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/deprender/internal/targetid"
	"gopkg.in/yaml.v3"
)

// manifestEntry is the format-agnostic shape of one declared target.
type manifestEntry struct {
	Name   string   `json:"name" yaml:"name"`
	Src    string   `json:"src" yaml:"src"`
	Deps   []string `json:"deps" yaml:"deps"`
	Assets []string `json:"assets" yaml:"assets"`
}

type manifestDocument struct {
	Targets []manifestEntry `json:"targets" yaml:"targets"`
}

// hclTarget is the block form used by RENDER.hcl.
type hclTarget struct {
	Name   string   `hcl:"name,label"`
	Src    string   `hcl:"src"`
	Deps   []string `hcl:"deps,optional"`
	Assets []string `hcl:"assets,optional"`
}

type hclDocument struct {
	Targets []*hclTarget `hcl:"target,block"`
}

func decodeManifestFile(path string) ([]manifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var doc manifestDocument
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
		}
		return doc.Targets, nil
	case ".yaml", ".yml":
		var doc manifestDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
		}
		return doc.Targets, nil
	case ".hcl":
		return decodeHCLManifest(path, data)
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", path)
	}
}

func decodeHCLManifest(path string, data []byte) ([]manifestEntry, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, diags)
	}

	// No evaluation context: manifests are data, not programs.
	var doc hclDocument
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, diags)
	}

	out := make([]manifestEntry, 0, len(doc.Targets))
	for _, t := range doc.Targets {
		out = append(out, manifestEntry{Name: t.Name, Src: t.Src, Deps: t.Deps, Assets: t.Assets})
	}
	return out, nil
}

func (e manifestEntry) toTarget(dir, manifestPath string) (*Target, error) {
	if strings.TrimSpace(e.Name) == "" {
		return nil, fmt.Errorf("target without a name")
	}
	id, err := targetid.Qualify(e.Name, dir)
	if err != nil {
		return nil, err
	}
	if e.Src == "" {
		return nil, fmt.Errorf("target %s has no src", id)
	}

	deps := make([]targetid.ID, 0, len(e.Deps))
	for _, raw := range e.Deps {
		dep, err := targetid.Qualify(raw, dir)
		if err != nil {
			return nil, fmt.Errorf("target %s: dependency: %w", id, err)
		}
		deps = append(deps, dep)
	}

	return &Target{
		ID:       id,
		Source:   e.Src,
		Deps:     deps,
		Assets:   append([]string(nil), e.Assets...),
		Manifest: manifestPath,
	}, nil
}
