package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Missing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.Verify)
	assert.Nil(t, cfg.Defaults.Parallel)
}

func TestLoadFile_Values(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[defaults]
overwrite = "smart"
verify = "full"
reflink = "never"
parallel = 8
chunk_size = "32MiB"
resume = true
atomic = false
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Defaults.Overwrite)
	assert.Equal(t, "smart", *cfg.Defaults.Overwrite)
	require.NotNil(t, cfg.Defaults.Verify)
	assert.Equal(t, "full", *cfg.Defaults.Verify)
	require.NotNil(t, cfg.Defaults.Parallel)
	assert.Equal(t, 8, *cfg.Defaults.Parallel)
	require.NotNil(t, cfg.Defaults.Resume)
	assert.True(t, *cfg.Defaults.Resume)
	require.NotNil(t, cfg.Defaults.Atomic)
	assert.False(t, *cfg.Defaults.Atomic)
	assert.Nil(t, cfg.Defaults.Progress)
}

func TestLoadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[defaults\nverify ="), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoad_XDGPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ferry"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ferry", "config.toml"),
		[]byte("[defaults]\nparallel = 2\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Defaults.Parallel)
	assert.Equal(t, 2, *cfg.Defaults.Parallel)
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"123", 123},
		{"1KiB", 1024},
		{"64MiB", 64 << 20},
		{"1GiB", 1 << 30},
		{"2KB", 2000},
		{"1MB", 1000 * 1000},
		{"4K", 4096},
		{"64M", 64 << 20},
		{"1G", 1 << 30},
		{"100B", 100},
		{"64mib", 64 << 20},
	}
	for _, tc := range cases {
		got, err := ParseSize(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}

	for _, bad := range []string{"", "abc", "-5", "12XB"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
