package archive

import (
	"path"
	"strings"
)

// FileType is the coarse content class used to pick a preview renderer.
type FileType string

const (
	FileTypeText        FileType = "text"
	FileTypeImage       FileType = "image"
	FileTypePDF         FileType = "pdf"
	FileTypeVideo       FileType = "video"
	FileTypeAudio       FileType = "audio"
	FileTypeSpreadsheet FileType = "spreadsheet"
	FileTypeData        FileType = "data"
	FileTypeArchive     FileType = "archive"
	FileTypeBinary      FileType = "binary"
	FileTypeUnknown     FileType = "unknown"
)

var extensionTypes = map[FileType][]string{
	FileTypeText: {
		"txt", "md", "json", "jsonl", "js", "ts", "jsx", "tsx", "html", "css", "scss", "less",
		"py", "java", "cpp", "c", "h", "php", "rb", "go", "rs", "xml", "yaml", "yml", "toml",
		"sql", "sh", "bat", "ps1", "log", "config", "conf", "cfg", "ini", "tsv", "csv",
	},
	FileTypeImage:       {"jpg", "jpeg", "png", "gif", "webp", "svg", "bmp", "ico", "tiff", "tif"},
	FileTypePDF:         {"pdf"},
	FileTypeVideo:       {"mp4", "webm", "ogv", "avi", "mov", "wmv", "flv", "mkv", "m4v", "ivf", "av1"},
	FileTypeAudio:       {"mp3", "wav", "oga", "aac", "flac", "ogg", "m4a", "wma"},
	FileTypeSpreadsheet: {"xlsx", "xls", "ods"},
	FileTypeData:        {"parquet", "pqt"},
	FileTypeArchive:     {"zip", "tar", "gz", "tgz", "bz2", "xz", "7z", "rar", "lz4", "zst", "zstd", "br"},
}

var byExtension = func() map[string]FileType {
	m := make(map[string]FileType)
	for ft, exts := range extensionTypes {
		for _, ext := range exts {
			m[ext] = ft
		}
	}
	return m
}()

// FileTypeFromPath classifies a path by its extension. CSV counts as text
// so that it previews as text rather than as a spreadsheet.
func FileTypeFromPath(p string) FileType {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	if ft, ok := byExtension[ext]; ok {
		return ft
	}
	return FileTypeUnknown
}

// IsText reports whether previews of this type are rendered as text.
func (t FileType) IsText() bool {
	return t == FileTypeText
}
