package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/deprender/internal/app"
)

func TestRun_PanicRecovery(t *testing.T) {
	// Not parallel: swaps the package-level constructor.

	// --- Arrange ---
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(io.Writer, io.Writer, *app.Config, ...app.Option) *app.App {
		panic("failed to parse settings")
	}
	args := []string{"targets", "-project-root", t.TempDir()}
	out := &bytes.Buffer{}

	// --- Act ---
	runErr := run(context.Background(), out, io.Discard, args)

	// --- Assert ---
	require.Error(t, runErr, "run() should have returned an error after recovering from a panic")
	require.Contains(t, runErr.Error(), "application startup panicked")
	require.Contains(t, runErr.Error(), "failed to parse")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	args := []string{"-h"}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, io.Discard, args)

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	args := []string{"render", "--this-is-not-a-valid-flag"}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, io.Discard, args)

	// --- Assert ---
	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_Targets(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	args := []string{"targets", "-project-root", t.TempDir()}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, io.Discard, args)

	// --- Assert ---
	require.NoError(t, err)
	require.Empty(t, out.String())
}
