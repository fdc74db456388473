package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webarc/internal/config"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, version+"\n", out.String())
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "/etc/webarc/worker.yaml")
	require.Equal(t, "/tmp/flag.yaml", resolveConfigPath("/tmp/flag.yaml"))
	require.Equal(t, "/etc/webarc/worker.yaml", resolveConfigPath(""))

	t.Setenv(config.EnvConfigPath, "")
	require.Empty(t, resolveConfigPath(""))
}

func TestServeFailsOnMissingConfig(t *testing.T) {
	err := runServe(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestServeFailsOnInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600))
	err := runServe(context.Background(), path)
	require.ErrorContains(t, err, "server.port")
}
