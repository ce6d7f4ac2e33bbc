// Package archive defines the archive data model and the handler contract
// shared by every supported container format.
//
// A [CompressionType] is resolved from a filename with [FromFilename] or
// from leading bytes with [DetectMagic]. A [Registry] maps types to
// [Handler] implementations, which live in the gzip, zip and tar
// subpackages. Handlers produce an [Info] for whole-archive analysis and a
// [FilePreview] for a single entry.
//
// Analysis comes in two flavors. Complete analysis has every byte of the
// archive and reports exact sizes with [Complete] status. Streaming analysis
// reads bounded prefixes over range requests and reports estimates with
// [Streaming] status; its sizes must never be presented as exact.
package archive
