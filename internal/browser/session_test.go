package browser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCookies_Missing(t *testing.T) {
	_, err := LoadCookies(filepath.Join(t.TempDir(), "none.json"))
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSaveAndLoadCookies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", "session.json")
	in := []*proto.NetworkCookie{
		{Name: "auth_token", Value: "secret", Domain: ".x.com", Path: "/", Secure: true, HTTPOnly: true},
	}
	require.NoError(t, SaveCookies(path, in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := LoadCookies(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "auth_token", out[0].Name)
	assert.Equal(t, "secret", out[0].Value)
	assert.Equal(t, ".x.com", out[0].Domain)
}

func TestLoadCookies_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := LoadCookies(path)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionExpired)
}
