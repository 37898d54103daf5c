package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStorage(tmpDir)
	require.NoError(t, err)

	t.Run("SaveFile", func(t *testing.T) {
		content := []byte("test video content")

		filename, err := store.SaveFile(bytes.NewReader(content), FileInfo{
			Filename:    "clip.mp4",
			ContentType: "video/mp4",
			Size:        int64(len(content)),
		})
		require.NoError(t, err)
		assert.Equal(t, ".mp4", filepath.Ext(filename))

		saved, err := os.ReadFile(filepath.Join(tmpDir, filename))
		require.NoError(t, err)
		assert.Equal(t, content, saved)
	})

	t.Run("ReadFile", func(t *testing.T) {
		content := []byte("frame source")
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "read-test.mp4"), content, 0644))

		data, err := store.ReadFile("read-test.mp4")
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("OpenFile", func(t *testing.T) {
		content := []byte("seekable")
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "open-test.mp4"), content, 0644))

		file, err := store.OpenFile("open-test.mp4")
		require.NoError(t, err)
		defer file.Close()

		buf := make([]byte, len(content))
		_, err = file.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, content, buf)
	})

	t.Run("DeleteFile", func(t *testing.T) {
		path := filepath.Join(tmpDir, "delete-test.mp4")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

		require.NoError(t, store.DeleteFile("delete-test.mp4"))

		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("FilePath", func(t *testing.T) {
		assert.Equal(t, filepath.Join(tmpDir, "a.mp4"), store.FilePath("a.mp4"))
	})

	t.Run("PathTraversalPrevention", func(t *testing.T) {
		_, err := store.OpenFile("../../../etc/passwd")
		assert.Error(t, err)

		_, err = store.ReadFile("../../secret")
		assert.Error(t, err)

		assert.Error(t, store.DeleteFile("../../../etc/passwd"))
	})
}
