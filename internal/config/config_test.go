package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Search.PageLimit)
	assert.Equal(t, 1, cfg.Search.MaxRetries)
	assert.Equal(t, 25, cfg.Investigation.SessionCap)
	assert.Equal(t, 5, cfg.Investigation.ServiceConcurrency)
	assert.Equal(t, "-jobs", cfg.Investigation.RepoFallbackSuffix)
	assert.Equal(t, 72*time.Hour, cfg.Investigation.DeploymentLookback)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
search:
  baseURL: https://logs.example.com
  pageLimit: 500
vcs:
  org: acme-dev
  deployRepo: deploy-manifests
investigation:
  sessionCap: 20
  ownedPackagePrefixes:
    - com.acme
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://logs.example.com", cfg.Search.BaseURL)
	assert.Equal(t, 500, cfg.Search.PageLimit)
	assert.Equal(t, "acme-dev", cfg.VCS.Org)
	assert.Equal(t, "deploy-manifests", cfg.VCS.DeployRepo)
	assert.Equal(t, 20, cfg.Investigation.SessionCap)
	assert.Equal(t, []string{"com.acme"}, cfg.Investigation.OwnedPackagePrefixes)
}

func TestLoadRejectsNegativeRetries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  maxRetries: -1\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxRetries")
}

func TestLoadRejectsZeroSessionCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("investigation:\n  sessionCap: 0\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INQUEST_VCS_ORG", "env-org")
	t.Setenv("INQUEST_OWNED_PACKAGES", "com.acme, com.acme.jobs")
	t.Setenv("INQUEST_SESSION_CAP", "30")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-org", cfg.VCS.Org)
	assert.Equal(t, []string{"com.acme", "com.acme.jobs"}, cfg.Investigation.OwnedPackagePrefixes)
	assert.Equal(t, 30, cfg.Investigation.SessionCap)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
