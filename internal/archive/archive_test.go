package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteExtractRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "db", "wal"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "config.php"), []byte("<?php $CONFIG = [];"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(src, "db", "wal", "000001"), bytes.Repeat([]byte("x"), 4096), 0o600))
	require.NoError(t, os.Symlink("config.php", filepath.Join(src, "current")))

	var buf bytes.Buffer
	require.NoError(t, Write(src, &buf))

	dst := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, Extract(&buf, dst))

	got, err := os.ReadFile(filepath.Join(dst, "config.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php $CONFIG = [];", string(got))

	info, err := os.Stat(filepath.Join(dst, "db", "wal", "000001"))
	require.NoError(t, err)
	assert.EqualValues(t, 4096, info.Size())
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	link, err := os.Readlink(filepath.Join(dst, "current"))
	require.NoError(t, err)
	assert.Equal(t, "config.php", link)
}

func TestWriteMissingDirIsEmptyArchive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(filepath.Join(t.TempDir(), "absent"), &buf))

	dst := t.TempDir()
	require.NoError(t, Extract(&buf, dst))
	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := []byte("owned")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../../etc/evil", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	err = Extract(&buf, t.TempDir())
	assert.ErrorIs(t, err, ErrUnsafePath)
}

func TestExtractRejectsGarbage(t *testing.T) {
	assert.Error(t, Extract(bytes.NewReader([]byte("not a tarball")), t.TempDir()))
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEmpty(&buf))
	assert.NoError(t, Extract(&buf, t.TempDir()))
}
