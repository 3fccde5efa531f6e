package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// Invocation is everything a renderer needs to render one task.
type Invocation struct {
	// BlendFile is the absolute path of the scene file.
	BlendFile string
	// Script is the parameter-override script run before rendering.
	Script string
	// OutputPattern is the frame output template, e.g. ".../frame_#####".
	OutputPattern string
	// OutputDir is the absolute output directory.
	OutputDir string
	// LogPath receives the renderer's stdout and stderr.
	LogPath string

	StartFrame *int
	EndFrame   *int
}

// Args returns the renderer command line after the executable: headless
// mode, scene file, override script, output template, optional frame span
// and the instruction to render the animation.
func (inv Invocation) Args() []string {
	args := []string{"-b", inv.BlendFile, "-P", inv.Script, "-o", inv.OutputPattern}
	if inv.StartFrame != nil {
		args = append(args, "-s", strconv.Itoa(*inv.StartFrame))
	}
	if inv.EndFrame != nil {
		args = append(args, "-e", strconv.Itoa(*inv.EndFrame))
	}
	return append(args, "-a")
}

// Process is a running renderer observed by polling.
type Process interface {
	// Poll returns the exit code and true once the process has exited. It
	// never blocks.
	Poll() (int, bool)
	// Kill asks the process to terminate.
	Kill() error
}

// Launcher starts renderer processes.
type Launcher interface {
	Launch(ctx context.Context, inv Invocation) (Process, error)
}

// ExecLauncher starts the renderer as an operating system process.
type ExecLauncher struct {
	Executable string
	// Args are inserted before the invocation arguments.
	Args []string
}

// Launch implements Launcher.
func (l ExecLauncher) Launch(_ context.Context, inv Invocation) (Process, error) {
	if l.Executable == "" {
		return nil, errors.New("renderer executable is not configured")
	}

	logFile, err := os.Create(inv.LogPath)
	if err != nil {
		return nil, fmt.Errorf("create render log: %w", err)
	}

	args := append(append([]string(nil), l.Args...), inv.Args()...)
	// The render outlives the request context; it is stopped through Kill.
	cmd := exec.Command(l.Executable, args...)
	cmd.Dir = inv.OutputDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start %s: %w", l.Executable, err)
	}

	p := &execProcess{cmd: cmd, exited: make(chan int, 1)}
	go func() {
		err := cmd.Wait()
		logFile.Close()
		p.exited <- exitCode(err)
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	exited chan int

	mu   sync.Mutex
	done bool
	code int
}

func (p *execProcess) Poll() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.code, true
	}
	select {
	case code := <-p.exited:
		p.done, p.code = true, code
		return code, true
	default:
		return 0, false
	}
}

func (p *execProcess) Kill() error {
	if _, done := p.Poll(); done {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
