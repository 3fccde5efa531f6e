package testutil

import (
	"context"
	"sync"

	"github.com/vk/deprender/internal/worker"
)

// FakeLauncher records renderer invocations instead of starting processes.
// Processes stay running until Finish is called, unless AutoExit is set.
type FakeLauncher struct {
	mu        sync.Mutex
	processes []*FakeProcess

	// AutoExit, when non-nil, makes every process finish immediately with
	// the returned exit code.
	AutoExit func(inv worker.Invocation) int
	// LaunchErr is returned by Launch when set.
	LaunchErr error
}

// FakeProcess is the process handle returned by FakeLauncher.
type FakeProcess struct {
	mu         sync.Mutex
	Invocation worker.Invocation
	done       bool
	code       int
	killed     bool
}

// Launch implements worker.Launcher.
func (l *FakeLauncher) Launch(_ context.Context, inv worker.Invocation) (worker.Process, error) {
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	p := &FakeProcess{Invocation: inv}
	if l.AutoExit != nil {
		p.done, p.code = true, l.AutoExit(inv)
	}
	l.mu.Lock()
	l.processes = append(l.processes, p)
	l.mu.Unlock()
	return p, nil
}

// Processes returns every process launched so far, in launch order.
func (l *FakeLauncher) Processes() []*FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeProcess(nil), l.processes...)
}

// Running returns the launched processes that have not exited.
func (l *FakeLauncher) Running() []*FakeProcess {
	var out []*FakeProcess
	for _, p := range l.Processes() {
		if _, done := p.Poll(); !done {
			out = append(out, p)
		}
	}
	return out
}

// Poll implements worker.Process.
func (p *FakeProcess) Poll() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.done
}

// Kill implements worker.Process; the process exits with code -1.
func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	if !p.done {
		p.done, p.code = true, -1
	}
	return nil
}

// Finish makes the process exit with code.
func (p *FakeProcess) Finish(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done, p.code = true, code
}

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
