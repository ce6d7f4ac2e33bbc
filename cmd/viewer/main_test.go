package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/storage"
)

func writeZip(t *testing.T, dir, name string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for n, body := range files {
		fw, err := w.Create(n)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o600))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyzeJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeZip(t, dir, "bundle.zip", map[string]string{"readme.txt": "hello", "src/main.go": "package main"})

	out, err := run(t, "--url", dir, "-o", "json", "analyze", "bundle.zip")
	require.NoError(t, err)

	var info archive.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, archive.Zip, info.CompressionType)
	assert.Equal(t, 2, info.TotalEntries)
	assert.True(t, info.AnalysisStatus.IsComplete())
}

func TestAnalyzeTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeZip(t, dir, "bundle.zip", map[string]string{"readme.txt": "hello"})

	out, err := run(t, "--url", dir, "analyze", "/bundle.zip")
	require.NoError(t, err)
	assert.Contains(t, out, "readme.txt")
	assert.Contains(t, out, "5 B")
}

func TestPreview(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeZip(t, dir, "bundle.zip", map[string]string{"notes.txt": "first line\nsecond line\n"})

	out, err := run(t, "--url", dir, "preview", "bundle.zip", "notes.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "first line\nsecond line\n")
	assert.NotContains(t, out, "truncated")

	out, err = run(t, "--url", dir, "preview", "bundle.zip", "notes.txt", "--max-size", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "first\n")
	assert.Contains(t, out, "truncated")

	_, err = run(t, "--url", dir, "preview", "bundle.zip", "missing.txt")
	assert.ErrorIs(t, err, archive.ErrEntryNotFound)
}

func TestUnsupportedFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.7z"), []byte("7z\xbc\xaf\x27\x1c"), 0o600))

	_, err := run(t, "--url", dir, "analyze", "old.7z")
	assert.EqualError(t, err, "archive.format.7z.not.supported")
}

func TestLsYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeZip(t, dir, "a.zip", map[string]string{"x": "y"})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	out, err := run(t, "--url", dir, "-o", "yaml", "ls", "--sort-by", "name")
	require.NoError(t, err)

	var res storage.DirectoryResult
	require.NoError(t, yaml.Unmarshal([]byte(out), &res))
	require.Len(t, res.Files, 2)
	names := []string{res.Files[0].Basename, res.Files[1].Basename}
	assert.ElementsMatch(t, []string{"a.zip", "sub"}, names)
}

func TestStat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeZip(t, dir, "a.zip", map[string]string{"x": "y"})

	out, err := run(t, "--url", dir, "-o", "json", "stat", "a.zip")
	require.NoError(t, err)

	var res statResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, archive.Zip, res.CompressionType)
	assert.True(t, res.SupportedArchive)
	assert.True(t, res.SupportsRandomAccess)
	assert.Equal(t, 4<<10, res.RecommendedChunkSize)
}

func TestFormats(t *testing.T) {
	t.Parallel()

	out, err := run(t, "formats")
	require.NoError(t, err)
	for _, ext := range []string{"zip", "tar.gz", "tgz", "gzip"} {
		assert.Contains(t, out, ext)
	}
}

func TestConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeZip(t, dir, "a.zip", map[string]string{"long.txt": "0123456789abcdef"})
	cfg := filepath.Join(t.TempDir(), "viewer.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("connection:\n  protocol: local\n  url: "+dir+"\npreview:\n  max_size: 4\noutput: json\n"), 0o600))

	out, err := run(t, "--config", cfg, "preview", "a.zip", "long.txt")
	require.NoError(t, err)
	var p archive.FilePreview
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "0123", p.Content)
	assert.True(t, p.IsTruncated)
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := run(t, "--log-level", "trace", "formats")
	require.Error(t, err)
	_, err = run(t, "-o", "xml", "formats")
	require.Error(t, err)
	_, err = run(t, "-H", "novalue", "analyze", "http://127.0.0.1:1/a.zip")
	require.Error(t, err)
}

func TestCacheDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeZip(t, dir, "a.zip", map[string]string{"x.txt": "y"})
	cacheDir := filepath.Join(t.TempDir(), "blocks")

	_, err := run(t, "--url", dir, "--cache-dir", cacheDir, "analyze", "a.zip")
	require.NoError(t, err)
	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
