// ABOUTME: Tests for loading the TOML capability profile manifest.
// ABOUTME: Covers policy extraction, defaults and validation failures.

package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
platform = "android"
caps = ["camera", "gps"]

[policy]
profile = "restricted"
allow = ["camera.snap", "device.info"]
`)

	p, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, "android", p.Platform)
	assert.Equal(t, []string{"camera", "gps"}, p.Caps)

	policy := p.ToPolicy()
	assert.Equal(t, ProfileRestricted, policy.Profile)
	assert.True(t, policy.Allows("camera.snap"))
	assert.False(t, policy.Allows("gps.locate"))
}

func TestLoadProfileEmptyPolicyDefaultsFull(t *testing.T) {
	path := writeProfile(t, `platform = "linux"`)

	p, err := LoadProfile(path)
	require.NoError(t, err)

	assert.True(t, p.ToPolicy().Allows("anything.at.all"))
}

func TestLoadProfileRejectsUnknownPolicy(t *testing.T) {
	path := writeProfile(t, `
[policy]
profile = "experimental"
`)

	_, err := LoadProfile(path)
	assert.ErrorContains(t, err, "unknown policy profile")
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
