package intake_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoodPhotographer/goodphotographer/internal/intake"
	"github.com/stretchr/testify/require"
)

var (
	pngHead  = "\x89PNG\x0D\x0A\x1A\x0A\x00\x00\x00\x0DIHDR"
	jpegHead = "\xFF\xD8\xFF\xE0\x00\x10JFIF\x00"
	gifHead  = "GIF89a\x01\x00\x01\x00"
	webpHead = "RIFF\x24\x00\x00\x00WEBPVP8 "
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScan(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "b.PNG"), pngHead)
	write(t, filepath.Join(dir, "a.jpg"), jpegHead)
	write(t, filepath.Join(dir, "nested", "c.gif"), gifHead)
	write(t, filepath.Join(dir, "nested", "d.webp"), webpHead)
	write(t, filepath.Join(dir, "notes.txt"), "hello")
	write(t, filepath.Join(dir, "fake.jpeg"), "plain text, not a photo")
	write(t, filepath.Join(dir, ".cache", "e.jpg"), jpegHead)
	write(t, filepath.Join(dir, "empty.png"), "")

	photos, err := intake.Scan(t.Context(), 2, dir, dir)
	require.NoError(t, err)
	require.Equal(t, []intake.Photo{
		{Path: filepath.Join(dir, "a.jpg"), ContentType: "image/jpeg"},
		{Path: filepath.Join(dir, "b.PNG"), ContentType: "image/png"},
		{Path: filepath.Join(dir, "nested", "c.gif"), ContentType: "image/gif"},
		{Path: filepath.Join(dir, "nested", "d.webp"), ContentType: "image/webp"},
	}, photos)
}

func TestScanSkipsSymlinks(t *testing.T) {
	t.Parallel()
	outside := t.TempDir()
	write(t, filepath.Join(outside, "real.jpg"), jpegHead)

	dir := t.TempDir()
	if err := os.Symlink(filepath.Join(outside, "real.jpg"), filepath.Join(dir, "link.jpg")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	photos, err := intake.Scan(t.Context(), 1, dir)
	require.NoError(t, err)
	require.Empty(t, photos)
}

func TestScanMissingDir(t *testing.T) {
	t.Parallel()
	_, err := intake.Scan(t.Context(), 1, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestScanCancelled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.jpg"), jpegHead)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := intake.Scan(ctx, 1, dir)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCandidates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "x", "a.JPEG"), jpegHead)
	write(t, filepath.Join(dir, "b.tiff"), "II*\x00")

	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	var got []string
	for path, err := range intake.Candidates(t.Context(), root) {
		require.NoError(t, err)
		got = append(got, path)
	}
	require.Equal(t, []string{filepath.Join("x", "a.JPEG")}, got)
}
