// Package storage defines the contract every storage backend implements and
// the connection manager that routes uniform operations to the single active
// backend.
//
// Backends live in subpackages (local, webdav, s3). They are wired into a
// [Manager] through [WithBackend]; the backends package provides a manager
// with every built-in protocol registered.
//
// Progress-aware and signed-URL operations are optional capabilities. Use
// [ReadFileRangeWithProgress], [ReadFullFileWithProgress] and [DownloadURL]
// rather than asserting the optional interfaces directly: they fall back to
// the documented degraded behavior when a backend lacks the capability.
package storage
