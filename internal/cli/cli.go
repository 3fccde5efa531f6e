package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vk/deprender/internal/app"
	"github.com/vk/deprender/internal/config"
	"github.com/vk/deprender/internal/task"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// optionalInt is an int flag that remembers whether it was given.
type optionalInt struct{ v *int }

func (o *optionalInt) String() string {
	if o == nil || o.v == nil {
		return ""
	}
	return strconv.Itoa(*o.v)
}

func (o *optionalInt) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	o.v = &n
	return nil
}

const usageText = `
deprender - dependency-aware render scheduler.

Usage:
  deprender <command> [options] [TARGET]

Commands:
  render    Resolve TARGET (or -blend-file) and render what is stale.
  plan      Print the tasks render would run, one JSON object per line.
  submit    Drop the task into the hand-off directory for another machine.
  watch     Render tasks dropped into the hand-off directory.
  targets   List every target declared under the project root.

Arguments:
  TARGET
    Target identifier such as //shots/sh010:comp.

Options:
`

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("deprender", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, usageText)
		flagSet.PrintDefaults()
	}

	projectRootFlag := flagSet.String("project-root", ".", "Project root all target identifiers are relative to.")
	configFlag := flagSet.String("config", "", "Settings file. Defaults to <project-root>/"+config.DefaultFileName+" when present.")
	policyFlag := flagSet.String("policy", string(task.FileModificationTime), "Comma separated invalidation types (FILE_MODIFICATION_TIME, RESOLUTION_CHANGE); 'none' forces a render of TARGET alone.")
	blendFileFlag := flagSet.String("blend-file", "", "Render this scene file instead of a target.")
	outputDirFlag := flagSet.String("output-directory", "", "Output directory for -blend-file. Derived from the file location when omitted.")
	var resX, resY, resPct, startFrame, endFrame optionalInt
	flagSet.Var(&resX, "resolution-x", "Override the horizontal resolution.")
	flagSet.Var(&resY, "resolution-y", "Override the vertical resolution.")
	flagSet.Var(&resPct, "resolution-percentage", "Override the resolution percentage.")
	flagSet.Var(&startFrame, "start-frame", "First frame to render.")
	flagSet.Var(&endFrame, "end-frame", "Last frame to render.")

	defaults := config.Defaults()
	workersFlag := flagSet.Int("workers", defaults.Workers, "Number of concurrent renderer processes.")
	pollFlag := flagSet.Duration("poll-interval", defaults.PollInterval, "How often running renders are polled.")
	strictFlag := flagSet.Bool("strict", false, "Fail on duplicate target declarations instead of keeping the last one.")
	rendererFlag := flagSet.String("renderer", defaults.RendererExecutable, "Renderer executable.")
	handoffDirFlag := flagSet.String("handoff-dir", "", "Hand-off directory. Defaults to <project-root>/Render Tasks/new.")
	onceFlag := flagSet.Bool("once", false, "watch: exit once the hand-off directory is empty.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	notifyURLFlag := flagSet.String("notify-url", "", "socket.io server that receives progress events.")
	logFormatFlag := flagSet.String("log-format", defaults.LogFormat, "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", defaults.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if len(args) == 0 || args[0] == "-h" || args[0] == "-help" || args[0] == "--help" || args[0] == "help" {
		flagSet.Usage()
		return nil, true, nil
	}
	command := app.Command(args[0])

	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err.Error())
	}
	slog.Debug("Arguments parsed successfully.", "command", string(command))

	set := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// Settings: defaults, then the settings file, then explicit flags.
	settings, err := loadSettings(*projectRootFlag, *configFlag, defaults)
	if err != nil {
		return nil, false, usageError("%s", err.Error())
	}
	if set["workers"] {
		settings.Workers = *workersFlag
	}
	if set["poll-interval"] {
		settings.PollInterval = *pollFlag
	}
	if set["strict"] {
		settings.StrictManifests = *strictFlag
	}
	if set["renderer"] {
		settings.RendererExecutable = *rendererFlag
	}
	if set["handoff-dir"] {
		settings.HandoffDir = *handoffDirFlag
	}
	if set["healthcheck-port"] {
		settings.HealthcheckPort = *healthPortFlag
	}
	if set["notify-url"] {
		settings.NotifyURL = *notifyURLFlag
	}
	if set["log-format"] {
		settings.LogFormat = strings.ToLower(*logFormatFlag)
	}
	if set["log-level"] {
		settings.LogLevel = strings.ToLower(*logLevelFlag)
	}

	cfg := app.Config{
		Command:     command,
		ProjectRoot: *projectRootFlag,
		Once:        *onceFlag,
		Settings:    settings,
	}

	if command == app.CommandRender || command == app.CommandPlan || command == app.CommandSubmit {
		spec, err := buildSpec(flagSet.Args(), *policyFlag, *blendFileFlag, *outputDirFlag)
		if err != nil {
			return nil, false, usageError("%s", err.Error())
		}
		spec.ResolutionX, spec.ResolutionY, spec.ResolutionPercentage = resX.v, resY.v, resPct.v
		spec.StartFrame, spec.EndFrame = startFrame.v, endFrame.v
		cfg.Spec = spec
	} else if flagSet.NArg() > 0 {
		return nil, false, usageError("%s takes no arguments, got %q", command, flagSet.Args())
	}

	appConfig, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%s", err.Error())
	}

	slog.Debug("CLI parser finished successfully.", "command", string(appConfig.Command))
	return appConfig, false, nil
}

func loadSettings(projectRoot, path string, base config.Settings) (config.Settings, error) {
	if path != "" {
		return config.Load(path, base)
	}
	settings, found, err := config.LoadOptional(filepath.Join(projectRoot, config.DefaultFileName), base)
	if found {
		slog.Debug("Settings file loaded.", "path", filepath.Join(projectRoot, config.DefaultFileName))
	}
	return settings, err
}

// buildSpec turns the positional TARGET or the blend-file flags into a task.
func buildSpec(positional []string, policy, blendFile, outputDir string) (task.Spec, error) {
	switch {
	case len(positional) > 1:
		return task.Spec{}, fmt.Errorf("expected a single TARGET, got %q", positional)
	case len(positional) == 1 && blendFile != "":
		return task.Spec{}, errors.New("give either TARGET or -blend-file, not both")
	case len(positional) == 1:
		p, err := task.ParsePolicy(policy)
		if err != nil {
			return task.Spec{}, err
		}
		return task.Spec{Target: positional[0], DependencyInvalidationTypes: p}, nil
	case blendFile != "":
		return task.Spec{BlendFile: blendFile, OutputDirectory: outputDir}, nil
	default:
		return task.Spec{}, errors.New("a TARGET or -blend-file is required")
	}
}
