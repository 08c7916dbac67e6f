// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfineRelPath_Valid(t *testing.T) {
	root := t.TempDir()

	got, err := ConfineRelPath(root, "sources/clip.mp4")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Contains(t, got, filepath.Join("sources", "clip.mp4"))
}

func TestConfineRelPath_Rejections(t *testing.T) {
	root := t.TempDir()

	cases := []struct {
		name   string
		target string
	}{
		{"traversal", "../escape.mp4"},
		{"nested traversal", "../../etc/passwd"},
		{"absolute", "/etc/passwd"},
		{"backslash", "a\\b.mp4"},
		{"bare dotdot", ".."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ConfineRelPath(root, tc.target)
			assert.Error(t, err)
		})
	}
}

func TestConfineRelPath_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(outside, "file.mp4"), []byte("x"), 0600))
	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(outside, link))

	_, err := ConfineRelPath(root, "link/file.mp4")
	assert.Error(t, err)
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	require.NoError(t, WriteAtomic(path, []byte(`{"v":1}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))

	// Overwrite is atomic and leaves no temp files behind.
	require.NoError(t, WriteAtomic(path, []byte(`{"v":2}`)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIsRegularFile(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, IsRegularFile(dir))
	assert.Error(t, IsRegularFile(filepath.Join(dir, "missing")))

	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
	assert.NoError(t, IsRegularFile(path))
}
