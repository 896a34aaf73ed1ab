package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "RS256", cfg.Federation.SigningAlg)
	assert.Equal(t, int64(86400), cfg.Federation.Lifetime)
}

func TestLoadConfig_MergesFederationSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	yamlContent := `
federation:
  entity_id: https://rp.example.org
  signing_keys_path: /etc/fed-trust/signing-keys.json
  authority_hints:
    - https://im.example.org
  tr_priority:
    - https://ta1.example.org
  signing_alg: ES256
  lifetime: 3600
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://rp.example.org", cfg.Federation.EntityID)
	assert.Equal(t, []string{"https://im.example.org"}, cfg.Federation.AuthorityHints)
	assert.Equal(t, "ES256", cfg.Federation.SigningAlg)
	assert.Equal(t, int64(3600), cfg.Federation.Lifetime)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("federation:\n  bogus_option: true\n"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_RejectsPathTraversal(t *testing.T) {
	_, err := LoadConfig("../../etc/passwd.yaml")
	assert.Error(t, err)
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("GT_FEDERATION_ENTITY_ID", "https://override.example.org")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.org", cfg.Federation.EntityID)
}

func TestValidate_RejectsEmptyLifetimeWhenEntityConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Federation.EntityID = "https://rp.example.org"
	cfg.Federation.Lifetime = 0
	assert.Error(t, cfg.Validate())
}
