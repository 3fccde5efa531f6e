package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// DefaultFileName is looked up in the project root when no file is given.
const DefaultFileName = "deprender.hcl"

// Settings are the effective run settings.
type Settings struct {
	RendererExecutable string
	RendererArgs       []string

	Workers         int
	PollInterval    time.Duration
	StrictManifests bool

	HandoffDir          string
	HandoffPollInterval time.Duration

	NotifyURL                string
	NotifyNamespace          string
	NotifyEvent              string
	NotifyInsecureSkipVerify bool

	HealthcheckPort int

	LogLevel  string
	LogFormat string
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		RendererExecutable:  "blender",
		Workers:             1,
		PollInterval:        100 * time.Millisecond,
		HandoffPollInterval: 5 * time.Second,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// fileRoot mirrors the blocks of a settings file. Pointer fields stay nil
// when the attribute is absent, so only written values override.
type fileRoot struct {
	Renderer    *rendererBlock    `hcl:"renderer,block"`
	Scheduler   *schedulerBlock   `hcl:"scheduler,block"`
	Handoff     *handoffBlock     `hcl:"handoff,block"`
	Notify      *notifyBlock      `hcl:"notify,block"`
	Healthcheck *healthcheckBlock `hcl:"healthcheck,block"`
	Log         *logBlock         `hcl:"log,block"`
}

type rendererBlock struct {
	Executable *string  `hcl:"executable,optional"`
	Args       []string `hcl:"args,optional"`
}

type schedulerBlock struct {
	Workers         *int    `hcl:"workers,optional"`
	PollInterval    *string `hcl:"poll_interval,optional"`
	StrictManifests *bool   `hcl:"strict_manifests,optional"`
}

type handoffBlock struct {
	Directory    *string `hcl:"directory,optional"`
	PollInterval *string `hcl:"poll_interval,optional"`
}

type notifyBlock struct {
	URL                *string `hcl:"url,optional"`
	Namespace          *string `hcl:"namespace,optional"`
	Event              *string `hcl:"event,optional"`
	InsecureSkipVerify *bool   `hcl:"insecure_skip_verify,optional"`
}

type healthcheckBlock struct {
	Port *int `hcl:"port,optional"`
}

type logBlock struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

// Load applies the settings file at path on top of base. A missing file is
// an error; use LoadOptional for the default location.
func Load(path string, base Settings) (Settings, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return base, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, EvalContext(os.Environ()), &root)
	if diags.HasErrors() {
		return base, fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}
	return root.apply(base)
}

// LoadOptional is Load that returns base unchanged when path does not exist.
func LoadOptional(path string, base Settings) (Settings, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, false, nil
		}
		return base, false, err
	}
	s, err := Load(path, base)
	return s, true, err
}

// EvalContext exposes environ ("KEY=value" pairs) as the env object.
func EvalContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" || !hclIdentifier(key) {
			continue
		}
		vars[key] = cty.StringVal(value)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"env": env}}
}

// hclIdentifier reports whether name can be used in an env.NAME traversal.
func hclIdentifier(name string) bool {
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

func (r fileRoot) apply(s Settings) (Settings, error) {
	if b := r.Renderer; b != nil {
		setString(&s.RendererExecutable, b.Executable)
		if b.Args != nil {
			s.RendererArgs = append([]string(nil), b.Args...)
		}
	}
	if b := r.Scheduler; b != nil {
		if b.Workers != nil {
			s.Workers = *b.Workers
		}
		if err := setDuration(&s.PollInterval, b.PollInterval, "scheduler.poll_interval"); err != nil {
			return s, err
		}
		if b.StrictManifests != nil {
			s.StrictManifests = *b.StrictManifests
		}
	}
	if b := r.Handoff; b != nil {
		setString(&s.HandoffDir, b.Directory)
		if err := setDuration(&s.HandoffPollInterval, b.PollInterval, "handoff.poll_interval"); err != nil {
			return s, err
		}
	}
	if b := r.Notify; b != nil {
		setString(&s.NotifyURL, b.URL)
		setString(&s.NotifyNamespace, b.Namespace)
		setString(&s.NotifyEvent, b.Event)
		if b.InsecureSkipVerify != nil {
			s.NotifyInsecureSkipVerify = *b.InsecureSkipVerify
		}
	}
	if b := r.Healthcheck; b != nil && b.Port != nil {
		s.HealthcheckPort = *b.Port
	}
	if b := r.Log; b != nil {
		setString(&s.LogLevel, b.Level)
		setString(&s.LogFormat, b.Format)
	}
	return s, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, name string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, *v, err)
	}
	*dst = d
	return nil
}

// Validate rejects settings no run can use.
func (s Settings) Validate() error {
	var errs []error
	if s.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", s.Workers))
	}
	if s.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", s.PollInterval))
	}
	if s.HandoffPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("hand-off poll interval must be positive, got %s", s.HandoffPollInterval))
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", s.LogLevel))
	}
	if s.LogFormat != "text" && s.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", s.LogFormat))
	}
	if s.HealthcheckPort < 0 || s.HealthcheckPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid healthcheck port %d", s.HealthcheckPort))
	}
	return errors.Join(errs...)
}
