package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/config"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rc := testutil.RuntimeContext(t)

	root := &cobra.Command{Use: "delphi-sync", SilenceUsage: true, SilenceErrors: true}
	cli.AddGlobalFlags(root)
	root.AddCommand(ConfigCmd)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(rc.Ctx)
	return out.String(), err
}

func TestInitThenShowMasksSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "delphi-sync.yaml")

	_, err := execute(t, "config", "init", path, "--force=false", "--memory=false", "--dsn", "postgres://delphi:hunter2@db/delphi")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(config.FilePerm), info.Mode().Perm())

	out, err := execute(t, "--config", path, "config", "show", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "***")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "backend: local")
}

func TestInitRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delphi-sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: {}\n"), 0o600))

	_, err := execute(t, "config", "init", path, "--force=false", "--memory")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrExists))

	_, err = execute(t, "config", "init", path, "--force", "--memory")
	require.NoError(t, err)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
}

func TestShowRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delphi-sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o600))

	_, err := execute(t, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}
