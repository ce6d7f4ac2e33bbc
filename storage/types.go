package storage

import "encoding/json"

// File types reported in StorageFile.Type.
const (
	FileTypeFile      = "file"
	FileTypeDirectory = "directory"
)

// Sort keys and orders accepted in ListOptions.
const (
	SortByName     = "name"
	SortBySize     = "size"
	SortByModified = "modified"

	SortAsc  = "asc"
	SortDesc = "desc"
)

// StorageFile describes one entry of a directory listing.
type StorageFile struct {
	Filename string `json:"filename" yaml:"filename"`
	Basename string `json:"basename" yaml:"basename"`
	// Lastmod is RFC 1123 formatted, matching what WebDAV servers report.
	Lastmod string `json:"lastmod" yaml:"lastmod"`
	Size    uint64 `json:"size" yaml:"size"`
	Type    string `json:"type" yaml:"type"`
	Mime    string `json:"mime,omitempty" yaml:"mime,omitempty"`
	ETag    string `json:"etag,omitempty" yaml:"etag,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (f StorageFile) IsDir() bool {
	return f.Type == FileTypeDirectory
}

// DirectoryResult is one page of a directory listing.
type DirectoryResult struct {
	Files   []StorageFile `json:"files" yaml:"files"`
	HasMore bool          `json:"has_more" yaml:"has_more"`
	// NextMarker is an opaque cursor; pass it back as ListOptions.Marker.
	NextMarker string `json:"next_marker,omitempty" yaml:"next_marker,omitempty"`
	// TotalCount is nil when the backend cannot know the total cheaply.
	TotalCount *uint64 `json:"total_count,omitempty" yaml:"total_count,omitempty"`
	Path       string  `json:"path" yaml:"path"`
}

// ListOptions controls paging, filtering and ordering of a listing.
// The zero value lists everything in backend order.
type ListOptions struct {
	PageSize  int    `json:"page_size,omitempty"`
	Marker    string `json:"marker,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
}

// Request is a backend-interpreted request used by Client.Request.
// URL is a path relative to the connection root or an absolute URL,
// depending on the backend.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Options json.RawMessage
}

// Response is the result of Client.Request.
type Response struct {
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers"`
	Body     string            `json:"body"`
	Metadata json.RawMessage   `json:"metadata,omitempty"`
}

// ConnectionConfig selects and parameterizes a backend. Protocol picks the
// implementation; the remaining fields are interpreted by that backend.
type ConnectionConfig struct {
	Protocol     string            `json:"protocol" mapstructure:"protocol" yaml:"protocol"`
	URL          string            `json:"url,omitempty" mapstructure:"url" yaml:"url,omitempty"`
	AccessKey    string            `json:"accessKey,omitempty" mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey    string            `json:"secretKey,omitempty" mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Region       string            `json:"region,omitempty" mapstructure:"region" yaml:"region,omitempty"`
	Bucket       string            `json:"bucket,omitempty" mapstructure:"bucket" yaml:"bucket,omitempty"`
	Endpoint     string            `json:"endpoint,omitempty" mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Username     string            `json:"username,omitempty" mapstructure:"username" yaml:"username,omitempty"`
	Password     string            `json:"password,omitempty" mapstructure:"password" yaml:"password,omitempty"`
	ExtraOptions map[string]string `json:"extraOptions,omitempty" mapstructure:"extra_options" yaml:"extra_options,omitempty"`
}

// Extra returns an extra option, or def when it is unset.
func (c *ConnectionConfig) Extra(key, def string) string {
	if c == nil || c.ExtraOptions == nil {
		return def
	}
	if v, ok := c.ExtraOptions[key]; ok && v != "" {
		return v
	}
	return def
}

// Capabilities describes what a connected backend can do. The archive layer
// uses it to choose between range-based and whole-file strategies.
type Capabilities struct {
	SupportsStreaming       bool     `json:"supports_streaming" yaml:"supports_streaming"`
	SupportsRangeRequests   bool     `json:"supports_range_requests" yaml:"supports_range_requests"`
	SupportsMultipartUpload bool     `json:"supports_multipart_upload" yaml:"supports_multipart_upload"`
	SupportsMetadata        bool     `json:"supports_metadata" yaml:"supports_metadata"`
	SupportsEncryption      bool     `json:"supports_encryption" yaml:"supports_encryption"`
	SupportsDirectories     bool     `json:"supports_directories" yaml:"supports_directories"`
	MaxFileSize             *uint64  `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`
	SupportedMethods        []string `json:"supported_methods" yaml:"supported_methods"`
}

// DefaultCapabilities returns the conservative baseline: no optional
// features, GET and HEAD only.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		SupportedMethods: []string{"GET", "HEAD"},
	}
}
