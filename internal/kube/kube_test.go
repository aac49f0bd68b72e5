package kube_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slateci/slate-api-server/internal/proc"
)

// testSupervisor returns a supervisor that is shut down with the test.
func testSupervisor(t *testing.T) *proc.Supervisor {
	t.Helper()
	sup := proc.NewSupervisor(proc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return sup
}

// stubDir creates a directory that shadows PATH, so stub scripts written
// into it resolve ahead of any real helm or kubectl.
func stubDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return dir
}

// writeStub installs an executable shell script under the tool's name.
func writeStub(t *testing.T, dir, name, script string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
}

// q double-quotes a path for embedding in a stub script.
func q(path string) string {
	return `"` + path + `"`
}

// readLines returns the recorded lines of a stub's output file.
func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}
