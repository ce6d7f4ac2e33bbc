package archive

import (
	"encoding/base64"

	"github.com/stardustai/webdav-viewer/internal/textutil"
)

// DefaultPreviewSize is the ceiling used when a caller gives no maximum.
// It is large enough to mean "materialize the whole entry".
const DefaultPreviewSize uint64 = 4 << 30

// RenderNamed renders decoded entry bytes, choosing text or binary from the
// entry name's extension. Names without a known extension are sniffed.
// Binary content becomes a hex dump. The preview is truncated when fewer
// than total bytes were decoded.
func RenderNamed(data []byte, name string, total uint64) *FilePreview {
	ft := FileTypeFromPath(name)
	text := ft.IsText()
	if ft == FileTypeUnknown {
		text = textutil.LooksLikeText(data)
		if text {
			ft = FileTypeText
		}
	}

	b := NewPreviewBuilder().
		PreviewSize(uint64(len(data))).
		TotalSize(total).
		FileType(ft).
		Truncated(uint64(len(data)) < total)
	if text {
		content, enc := textutil.Decode(data)
		return b.Content(content).Encoding(enc).Build()
	}
	return b.Content(textutil.HexPreview(data, 0)).Encoding(EncodingHex).Build()
}

// RenderSniffed renders decoded entry bytes, choosing text or binary by
// inspecting the bytes. Text is decoded lossily as UTF-8; binary content is
// base64 encoded for transport.
func RenderSniffed(data []byte, truncated bool, total uint64) *FilePreview {
	b := NewPreviewBuilder().
		PreviewSize(uint64(len(data))).
		TotalSize(total).
		Truncated(truncated)
	if textutil.LooksLikeText(data) {
		return b.Content(textutil.Lossy(data)).Encoding(EncodingUTF8).FileType(FileTypeText).Build()
	}
	return b.Content(base64.StdEncoding.EncodeToString(data)).Encoding(EncodingBase64).FileType(FileTypeBinary).Build()
}
