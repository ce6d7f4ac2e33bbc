package tar

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/internal/pathutil"
	"github.com/stardustai/webdav-viewer/storage"
)

// listing is the result of a header walk. complete is false when the walk
// stopped before the end-of-archive marker.
type listing struct {
	entries      []archive.Entry
	uncompressed uint64
	complete     bool
}

// skipped reports header types that carry metadata for other entries.
func skipped(typ byte) bool {
	return typ == tar.TypeXGlobalHeader || typ == tar.TypeXHeader || typ == tar.TypeGNULongName || typ == tar.TypeGNULongLink
}

func entryFromHeader(hdr *tar.Header, index int, stored bool) archive.Entry {
	e := archive.Entry{
		Path:  pathutil.Clean(hdr.Name),
		IsDir: hdr.Typeflag == tar.TypeDir || pathutil.IsDirName(hdr.Name),
		Index: index,
	}
	if !e.IsDir {
		e.Size = uint64(max(hdr.Size, 0))
		if stored {
			size := e.Size
			e.CompressedSize = &size
		}
	}
	if !hdr.ModTime.IsZero() {
		mt := hdr.ModTime.UTC()
		e.ModifiedTime = &mt
	}
	e.SetMeta("mode", strconv.FormatInt(hdr.Mode&0o7777, 8))
	e.SetMeta("uid", strconv.Itoa(hdr.Uid))
	e.SetMeta("gid", strconv.Itoa(hdr.Gid))
	e.SetMeta("typeflag", string(rune(hdr.Typeflag)))
	if hdr.Linkname != "" {
		e.SetMeta("linkname", hdr.Linkname)
	}
	if hdr.Uname != "" {
		e.SetMeta("uname", hdr.Uname)
	}
	return e
}

// walk lists the headers of tr. When partial is set, a read failure ends the
// walk with complete=false instead of failing it, which is how prefixes of
// an archive are listed.
func walk(ctx context.Context, tr *tar.Reader, stored, partial bool) (*listing, error) {
	l := &listing{entries: []archive.Entry{}}
	for {
		if err := ctx.Err(); err != nil {
			return nil, storage.Cancelled(err)
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			l.complete = true
			return l, nil
		}
		if err != nil {
			if storage.IsCancelled(err) {
				return nil, err
			}
			if partial && (len(l.entries) > 0 || errors.Is(err, io.ErrUnexpectedEOF)) {
				return l, nil
			}
			return nil, walkError(err)
		}
		if skipped(hdr.Typeflag) || landmark(pathutil.Clean(hdr.Name)) {
			continue
		}
		e := entryFromHeader(hdr, len(l.entries), stored)
		l.uncompressed += e.Size
		l.entries = append(l.entries, e)
	}
}

// seek advances tr to entryPath. Directories are not previewable.
func seek(ctx context.Context, tr *tar.Reader, entryPath string) (*tar.Header, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, storage.Cancelled(err)
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, notFound(entryPath)
		}
		if err != nil {
			if storage.IsCancelled(err) {
				return nil, err
			}
			return nil, walkError(err)
		}
		if skipped(hdr.Typeflag) || !pathutil.Same(hdr.Name, entryPath) {
			continue
		}
		if hdr.Typeflag == tar.TypeDir || pathutil.IsDirName(hdr.Name) {
			return nil, notFound(entryPath + " (directory)")
		}
		return hdr, nil
	}
}

func walkError(err error) error {
	if errors.Is(err, tar.ErrHeader) {
		return &archive.InvalidHeaderError{Format: "tar"}
	}
	var se *storage.Error
	if errors.As(err, &se) {
		return archive.ReadError(err)
	}
	return archive.DecompressError(err)
}
