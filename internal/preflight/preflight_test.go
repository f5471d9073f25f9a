package preflight

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browsermcp/internal/config"
	"browsermcp/internal/domain"
)

func TestCheckMounts_OK(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	require.NoError(t, CheckMounts(a, b))

	_, err := os.Stat(filepath.Join(a, probeName))
	assert.True(t, os.IsNotExist(err), "probe file should be removed")
}

func TestCheckMounts_Missing(t *testing.T) {
	good := t.TempDir()
	missing := filepath.Join(good, "nope")

	err := CheckMounts(good, missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMountMissing)
	assert.True(t, domain.IsKind(err, domain.KindMount))

	var oe *domain.OpError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, missing, oe.Path)
}

func TestCheckMounts_NotADirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))

	err := CheckMounts(f)
	assert.ErrorIs(t, err, domain.ErrMountMissing)
}

func TestCheckMounts_NotWritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	err := CheckMounts(dir)
	assert.ErrorIs(t, err, domain.ErrMountNotWritable)
}

func TestCheckLLMKeys(t *testing.T) {
	assert.ErrorIs(t, CheckLLMKeys(config.LLMConfig{}), domain.ErrNoLLMKey)
	assert.NoError(t, CheckLLMKeys(config.LLMConfig{AnthropicAPIKey: "k"}))
}

func TestRun_KeysAreOnlyAWarning(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mounts.DataDir = t.TempDir()
	cfg.Mounts.DownloadsDir = t.TempDir()
	assert.NoError(t, Run(cfg))

	cfg.Mounts.DownloadsDir = filepath.Join(cfg.Mounts.DataDir, "missing")
	assert.ErrorIs(t, Run(cfg), domain.ErrMountMissing)
}

func TestDropPrivileges_NoopWithoutIDs(t *testing.T) {
	dropped, err := DropPrivileges(0, 0, t.TempDir())
	require.NoError(t, err)
	assert.False(t, dropped)
}

func TestChownTree_ToSelf(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "f"), nil, 0o600))
	assert.NoError(t, ChownTree(dir, os.Getuid(), os.Getgid()))
}
