package tar

import (
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/containerd/stargz-snapshotter/estargz"
	"github.com/opencontainers/go-digest"

	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/internal/decompress"
	"github.com/stardustai/webdav-viewer/internal/pathutil"
	"github.com/stardustai/webdav-viewer/storage"
)

// openStargz opens the eStargz table of contents at the end of src. It
// fails fast on ordinary gzip streams, whose footer does not parse.
func openStargz(src io.ReaderAt, size int64) (*estargz.Reader, error) {
	return estargz.Open(io.NewSectionReader(src, 0, size))
}

func landmark(name string) bool {
	switch name {
	case estargz.PrefetchLandmark, estargz.NoPrefetchLandmark, estargz.TOCTarName:
		return true
	}
	return false
}

// stargzListing lists every TOC entry, sorted by path.
func stargzListing(r *estargz.Reader) *listing {
	l := &listing{entries: []archive.Entry{}, complete: true}
	root, ok := r.Lookup("")
	if !ok {
		return l
	}
	var visit func(dir string, e *estargz.TOCEntry)
	visit = func(dir string, e *estargz.TOCEntry) {
		e.ForeachChild(func(name string, child *estargz.TOCEntry) bool {
			p := path.Join(dir, name)
			if dir == "" && landmark(name) {
				return true
			}
			l.entries = append(l.entries, stargzEntry(p, child))
			if child.Type == "dir" {
				visit(p, child)
			}
			return true
		})
	}
	visit("", root)

	slices.SortFunc(l.entries, func(a, b archive.Entry) int {
		return strings.Compare(a.Path, b.Path)
	})
	for i := range l.entries {
		l.entries[i].Index = i
		l.uncompressed += l.entries[i].Size
	}
	return l
}

func stargzEntry(p string, te *estargz.TOCEntry) archive.Entry {
	e := archive.Entry{
		Path:  p,
		IsDir: te.Type == "dir",
	}
	if !e.IsDir {
		e.Size = uint64(max(te.Size, 0))
	}
	if mt := te.ModTime(); !mt.IsZero() {
		mt = mt.UTC()
		e.ModifiedTime = &mt
	}
	e.SetMeta("mode", strconv.FormatInt(te.Mode&0o7777, 8))
	e.SetMeta("uid", strconv.Itoa(te.UID))
	e.SetMeta("gid", strconv.Itoa(te.GID))
	e.SetMeta("type", te.Type)
	if te.LinkName != "" {
		e.SetMeta("linkname", te.LinkName)
	}
	if te.Digest != "" {
		e.SetMeta("digest", te.Digest)
	}
	return e
}

// stargzPreview reads up to maxSize bytes of entryPath. An entry read to
// its end is checked against the digest recorded in the TOC.
func stargzPreview(ctx context.Context, r *estargz.Reader, entryPath string, maxSize uint64) (*archive.FilePreview, error) {
	name := pathutil.Clean(entryPath)
	te, ok := r.Lookup(name)
	if !ok || landmark(name) {
		return nil, notFound(entryPath)
	}
	if te.Type != "reg" {
		return nil, notFound(entryPath + " (" + te.Type + ")")
	}
	sr, err := r.OpenFile(name)
	if err != nil {
		return nil, archive.DecompressError(err)
	}
	data, ended, err := decompress.Sample(ctx, sr, maxSize)
	if err != nil {
		if storage.IsCancelled(err) {
			return nil, err
		}
		return nil, walkError(err)
	}
	if ended && te.Digest != "" {
		if err := verify(te.Digest, data); err != nil {
			return nil, err
		}
	}
	return archive.RenderNamed(data, name, uint64(max(te.Size, 0))), nil
}

func verify(recorded string, data []byte) error {
	d, err := digest.Parse(recorded)
	if err != nil {
		return archive.DecompressError(fmt.Errorf("parse entry digest: %w", err))
	}
	v := d.Verifier()
	_, _ = v.Write(data)
	if !v.Verified() {
		return archive.DecompressError(fmt.Errorf("entry digest mismatch: want %s", d))
	}
	return nil
}

func notFound(entryPath string) error {
	return fmt.Errorf("%s: %w", entryPath, archive.ErrEntryNotFound)
}
