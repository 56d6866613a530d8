package fsscan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, "/shoot/IMG_0001.xmp", SidecarPath("/shoot/IMG_0001.nef"))
	assert.Equal(t, "/shoot/IMG_0001.xmp", SidecarPath("/shoot/IMG_0001.jpg"))
	assert.Equal(t, "/shoot/archive.2024.xmp", SidecarPath("/shoot/archive.2024.cr2"))
}

func TestIsSupportedAndIsRaw(t *testing.T) {
	assert.True(t, IsSupported("a.JPG"))
	assert.True(t, IsSupported("a.nef"))
	assert.True(t, IsSupported("a.heic"))
	assert.False(t, IsSupported("a.txt"))
	assert.False(t, IsSupported("a.xmp"))

	assert.True(t, IsRaw("a.NEF"))
	assert.True(t, IsRaw("a.cr3"))
	assert.False(t, IsRaw("a.jpg"))
}

func TestScanFolderNaturalOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"img10.jpg", "img2.jpg", "img1.jpg", "notes.txt", "img1.xmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "thumbnails"), 0755))

	s := NewScanner()
	files, err := s.ScanFolder(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, "img1.jpg", files[0].Filename)
	assert.Equal(t, "img2.jpg", files[1].Filename)
	assert.Equal(t, "img10.jpg", files[2].Filename)

	assert.True(t, files[0].HasSidecar)
	assert.NotNil(t, files[0].SidecarModifiedAt)
	assert.False(t, files[1].HasSidecar)
	assert.Equal(t, ".jpg", files[0].Format)
	assert.False(t, files[0].IsRaw)
	assert.NotEmpty(t, files[0].FileHash)
}

func TestScanFolderErrors(t *testing.T) {
	s := NewScanner()

	_, err := s.ScanFolder(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.jpg")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = s.ScanFolder(file)
	assert.Error(t, err)
}

func TestPartialHashTracksContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	c := filepath.Join(dir, "c.jpg")
	require.NoError(t, os.WriteFile(a, []byte("same content"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("same content"), 0644))
	require.NoError(t, os.WriteFile(c, []byte("different content"), 0644))

	ha, hb, hc := PartialHash(a), PartialHash(b), PartialHash(c)
	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
	assert.Len(t, ha, 16)
}

func TestStatFileMissing(t *testing.T) {
	s := NewScanner()
	_, err := s.StatFile(filepath.Join(t.TempDir(), "gone.jpg"))
	assert.Error(t, err)
}
