package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDBDir_CreatesParent(t *testing.T) {
	tmp := t.TempDir()
	dsn := filepath.Join(tmp, "nested", "deeper", "cache.db")

	require.NoError(t, EnsureDBDir(dsn))

	fi, err := os.Stat(filepath.Dir(dsn))
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}

	require.NoError(t, EnsureDBDir(dsn), "second call is a no-op")
}

func TestEnsureDBDir_SkipsSpecialDSNs(t *testing.T) {
	for _, dsn := range []string{"", ":memory:", "file:x?mode=memory"} {
		require.NoError(t, EnsureDBDir(dsn))
	}
	_, err := os.Stat("file:x?mode=memory")
	require.True(t, os.IsNotExist(err))
}

func TestEnsureDBDir_ErrorWhenParentIsFile(t *testing.T) {
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	err := EnsureDBDir(filepath.Join(blocker, "sub", "cache.db"))
	require.Error(t, err)
}
