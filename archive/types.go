package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Entry is one logical file or directory inside an archive. Under streaming
// analysis the size fields are estimates.
type Entry struct {
	Path           string            `json:"path" yaml:"path"`
	Size           uint64            `json:"size" yaml:"size"`
	CompressedSize *uint64           `json:"compressed_size,omitempty" yaml:"compressed_size,omitempty"`
	IsDir          bool              `json:"is_dir" yaml:"is_dir"`
	ModifiedTime   *time.Time        `json:"modified_time,omitempty" yaml:"modified_time,omitempty"`
	CRC32          *uint32           `json:"crc32,omitempty" yaml:"crc32,omitempty"`
	Index          int               `json:"index" yaml:"index"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// SetMeta records a format specific attribute.
func (e *Entry) SetMeta(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

type statusKind uint8

const (
	statusUnset statusKind = iota
	statusComplete
	statusStreaming
)

// AnalysisStatus says how complete an Info is. The zero value is unset and
// is rejected by InfoBuilder.
type AnalysisStatus struct {
	kind      statusKind
	estimated *uint64
}

// Complete marks exact results.
func Complete() AnalysisStatus {
	return AnalysisStatus{kind: statusComplete}
}

// Streaming marks estimated results. estimatedEntries is nil when not even
// the entry count is known.
func Streaming(estimatedEntries *uint64) AnalysisStatus {
	return AnalysisStatus{kind: statusStreaming, estimated: estimatedEntries}
}

// StreamingWith is Streaming with a known entry estimate.
func StreamingWith(estimatedEntries uint64) AnalysisStatus {
	return Streaming(&estimatedEntries)
}

func (s AnalysisStatus) IsComplete() bool  { return s.kind == statusComplete }
func (s AnalysisStatus) IsStreaming() bool { return s.kind == statusStreaming }

// EstimatedEntries returns the entry estimate of a streaming status.
func (s AnalysisStatus) EstimatedEntries() (uint64, bool) {
	if s.kind != statusStreaming || s.estimated == nil {
		return 0, false
	}
	return *s.estimated, true
}

func (s AnalysisStatus) String() string {
	switch s.kind {
	case statusComplete:
		return "complete"
	case statusStreaming:
		if s.estimated != nil {
			return fmt.Sprintf("streaming (~%d entries)", *s.estimated)
		}
		return "streaming"
	default:
		return "unset"
	}
}

type streamingJSON struct {
	EstimatedEntries *uint64 `json:"estimated_entries"`
}

// MarshalJSON renders {"Complete":{}} or {"Streaming":{"estimated_entries":N}}.
func (s AnalysisStatus) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case statusComplete:
		return []byte(`{"Complete":{}}`), nil
	case statusStreaming:
		return json.Marshal(map[string]streamingJSON{"Streaming": {EstimatedEntries: s.estimated}})
	default:
		return nil, errors.New("archive: marshal unset analysis status")
	}
}

func (s *AnalysisStatus) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if _, ok := raw["Complete"]; ok {
		*s = Complete()
		return nil
	}
	if msg, ok := raw["Streaming"]; ok {
		var st streamingJSON
		if err := json.Unmarshal(msg, &st); err != nil {
			return err
		}
		*s = Streaming(st.EstimatedEntries)
		return nil
	}
	return fmt.Errorf("archive: unknown analysis status %s", data)
}

// MarshalYAML renders the status as its String form.
func (s AnalysisStatus) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Info is the result of analyzing one archive. Build it with InfoBuilder.
type Info struct {
	CompressionType       CompressionType `json:"compression_type" yaml:"compression_type"`
	Entries               []Entry         `json:"entries" yaml:"entries"`
	TotalEntries          int             `json:"total_entries" yaml:"total_entries"`
	TotalUncompressedSize uint64          `json:"total_uncompressed_size" yaml:"total_uncompressed_size"`
	TotalCompressedSize   uint64          `json:"total_compressed_size" yaml:"total_compressed_size"`
	SupportsStreaming     bool            `json:"supports_streaming" yaml:"supports_streaming"`
	SupportsRandomAccess  bool            `json:"supports_random_access" yaml:"supports_random_access"`
	AnalysisStatus        AnalysisStatus  `json:"analysis_status" yaml:"analysis_status"`
}

// InfoBuilder assembles an Info and checks it before handing it out.
type InfoBuilder struct {
	info       Info
	entriesSet bool
	totalSet   bool
}

// NewInfoBuilder starts an Info for typ with the type's capability flags.
func NewInfoBuilder(typ CompressionType) *InfoBuilder {
	return &InfoBuilder{info: Info{
		CompressionType:      typ,
		SupportsStreaming:    typ.SupportsStreaming(),
		SupportsRandomAccess: typ.SupportsRandomAccess(),
	}}
}

func (b *InfoBuilder) Entries(entries []Entry) *InfoBuilder {
	b.info.Entries = entries
	b.entriesSet = true
	return b
}

// TotalEntries overrides the count, which otherwise is len(entries). Use it
// when the listing is truncated.
func (b *InfoBuilder) TotalEntries(n int) *InfoBuilder {
	b.info.TotalEntries = n
	b.totalSet = true
	return b
}

func (b *InfoBuilder) TotalUncompressedSize(n uint64) *InfoBuilder {
	b.info.TotalUncompressedSize = n
	return b
}

func (b *InfoBuilder) TotalCompressedSize(n uint64) *InfoBuilder {
	b.info.TotalCompressedSize = n
	return b
}

func (b *InfoBuilder) SupportsStreaming(v bool) *InfoBuilder {
	b.info.SupportsStreaming = v
	return b
}

func (b *InfoBuilder) SupportsRandomAccess(v bool) *InfoBuilder {
	b.info.SupportsRandomAccess = v
	return b
}

func (b *InfoBuilder) Status(s AnalysisStatus) *InfoBuilder {
	b.info.AnalysisStatus = s
	return b
}

// Build validates and returns the Info. Entries and a status are required;
// entry indexes must be unique.
func (b *InfoBuilder) Build() (*Info, error) {
	if !b.entriesSet {
		return nil, errors.New("archive: info built without entries")
	}
	if b.info.AnalysisStatus.kind == statusUnset {
		return nil, errors.New("archive: info built without analysis status")
	}
	seen := make(map[int]struct{}, len(b.info.Entries))
	for _, e := range b.info.Entries {
		if _, dup := seen[e.Index]; dup {
			return nil, fmt.Errorf("archive: duplicate entry index %d", e.Index)
		}
		seen[e.Index] = struct{}{}
	}
	if !b.totalSet {
		b.info.TotalEntries = len(b.info.Entries)
	}
	if b.info.Entries == nil {
		b.info.Entries = []Entry{}
	}
	info := b.info
	return &info, nil
}

// Preview encodings.
const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
	EncodingHex    = "hex"
)

// FilePreview is a truncated, renderable view of one entry's content.
type FilePreview struct {
	Content     string   `json:"content" yaml:"content"`
	IsTruncated bool     `json:"is_truncated" yaml:"is_truncated"`
	TotalSize   uint64   `json:"total_size" yaml:"total_size"`
	PreviewSize uint64   `json:"preview_size" yaml:"preview_size"`
	Encoding    string   `json:"encoding" yaml:"encoding"`
	FileType    FileType `json:"file_type" yaml:"file_type"`
}

// PreviewBuilder assembles a FilePreview.
type PreviewBuilder struct {
	p       FilePreview
	sizeSet bool
}

func NewPreviewBuilder() *PreviewBuilder {
	return &PreviewBuilder{p: FilePreview{Encoding: EncodingUTF8, FileType: FileTypeUnknown}}
}

func (b *PreviewBuilder) Content(s string) *PreviewBuilder {
	b.p.Content = s
	return b
}

// PreviewSize is the number of decoded bytes the content was rendered
// from. It defaults to len(Content).
func (b *PreviewBuilder) PreviewSize(n uint64) *PreviewBuilder {
	b.p.PreviewSize = n
	b.sizeSet = true
	return b
}

func (b *PreviewBuilder) TotalSize(n uint64) *PreviewBuilder {
	b.p.TotalSize = n
	return b
}

func (b *PreviewBuilder) Truncated(v bool) *PreviewBuilder {
	b.p.IsTruncated = v
	return b
}

func (b *PreviewBuilder) Encoding(enc string) *PreviewBuilder {
	b.p.Encoding = enc
	return b
}

func (b *PreviewBuilder) FileType(ft FileType) *PreviewBuilder {
	b.p.FileType = ft
	return b
}

// Build returns the preview. A total larger than the preview size forces
// the truncated flag; a total smaller than the preview is raised to it.
func (b *PreviewBuilder) Build() *FilePreview {
	p := b.p
	if !b.sizeSet {
		p.PreviewSize = uint64(len(p.Content))
	}
	if p.TotalSize < p.PreviewSize {
		p.TotalSize = p.PreviewSize
	}
	if p.TotalSize > p.PreviewSize {
		p.IsTruncated = true
	}
	return &p
}
