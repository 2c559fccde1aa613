package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cminor.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"debug\"\noutput = \"out.s\"\n"), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "out.s", cfg.Output)

	cfg, err = loadConfig("")
	require.NoError(t, err)
	require.Empty(t, cfg.LogLevel)

	_, err = loadConfig(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}

func TestCompileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "id.ir")
	require.NoError(t, os.WriteFile(input, []byte(`
fn id(i32) i32 {
entry:
  %0 = farg i32 0
  ret %0
}
`), 0o644))

	require.NoError(t, compile(input, ""))

	out, err := os.ReadFile(filepath.Join(dir, "id.s"))
	require.NoError(t, err)
	require.Contains(t, string(out), "movl %edi, %eax")
}

func TestCompileMissingInput(t *testing.T) {
	err := compile(filepath.Join(t.TempDir(), "nope.ir"), "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "opening")
}
