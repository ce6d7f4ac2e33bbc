// Package viewer analyzes archives and previews their entries without
// downloading them whole.
//
// An [Analyzer] resolves the container format from the filename, falling
// back to the leading magic bytes, and dispatches to a format handler:
// ZIP, TAR, TAR.GZ (including eStargz) and single-member GZIP. Recognized
// but unhandled formats such as 7z or RAR fail before any byte is read,
// with a stable error code clients can look up.
//
// Archives are read either from a URL with HTTP range requests or through
// a [storage.Client] (local disk, WebDAV or S3), so every backend shares
// one code path.
//
// # Quick Start
//
// Connect a backend and list an archive:
//
//	m := backends.NewManager()
//	if _, err := m.Connect(ctx, &storage.ConnectionConfig{Protocol: "local", URL: "/data"}); err != nil {
//	    return err
//	}
//	client, err := m.Active()
//	a := viewer.New()
//	info, err := a.AnalyzeArchiveWithClient(ctx, client, "logs.zip", "logs.zip", 0)
//
// Preview one entry, observing progress:
//
//	p, err := a.GetFilePreviewWithClient(ctx, client, "logs.zip", "logs.zip",
//	    "app/server.log", 64<<10, func(cur, total uint64) { ... })
//
// # Streaming
//
// For large remote archives [Analyzer.AnalyzeArchive] reads bounded
// prefixes and reports [archive.Streaming] results, whose entry counts are
// estimates. ZIP archives are read through the central directory with a
// shared block cache, so listing a multi-gigabyte ZIP costs a few range
// requests.
package viewer
