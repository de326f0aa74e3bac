package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "executor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  rootDir: /var/shuffle\n  fsyncEnabled: true\n"), 0o644))

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/shuffle", tbl.Get("executor.rootdir"))
	assert.Equal(t, "true", tbl.Get("executor.fsyncenabled"))
	assert.Equal(t, "fallback", tbl.GetWithDefault("executor.missing", "fallback"))
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	tbl, err := Load("/nonexistent/path/executor.yaml")
	require.NoError(t, err)
	assert.Equal(t, "", tbl.Get("anything"))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SHUFFLE_EXECUTOR.ROOTDIR", "/env/override")
	tbl, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/override", tbl.Get("executor.rootdir"))
}
