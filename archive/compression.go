package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// CompressionType tags an archive container format.
type CompressionType uint8

const (
	// Unknown means neither the filename nor the magic bytes identified a format.
	Unknown CompressionType = iota
	Zip
	Tar
	Gzip
	// TarGz is a tar stream wrapped in a single gzip member.
	TarGz
	SevenZip
	Rar
	Brotli
	Lz4
	Zstd
)

// HeaderProbeSize is how many leading bytes are read for magic detection.
const HeaderProbeSize = 512

var typeNames = map[CompressionType]string{
	Unknown:  "unknown",
	Zip:      "zip",
	Tar:      "tar",
	Gzip:     "gzip",
	TarGz:    "tar.gz",
	SevenZip: "7z",
	Rar:      "rar",
	Brotli:   "brotli",
	Lz4:      "lz4",
	Zstd:     "zstd",
}

// suffixes is checked in order, so compound suffixes come first.
var suffixes = []struct {
	suffix string
	typ    CompressionType
}{
	{".tar.gz", TarGz},
	{".tgz", TarGz},
	{".tar.zst", Zstd},
	{".tar.lz4", Lz4},
	{".tar.br", Brotli},
	{".zip", Zip},
	{".tar", Tar},
	{".gz", Gzip},
	{".gzip", Gzip},
	{".7z", SevenZip},
	{".rar", Rar},
	{".br", Brotli},
	{".lz4", Lz4},
	{".zst", Zstd},
	{".zstd", Zstd},
}

func (t CompressionType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("CompressionType(%d)", uint8(t))
}

// MarshalText encodes the type by name.
func (t CompressionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the names produced by String.
func (t *CompressionType) UnmarshalText(text []byte) error {
	for typ, name := range typeNames {
		if name == string(text) {
			*t = typ
			return nil
		}
	}
	return fmt.Errorf("unknown compression type %q", text)
}

// IsSupported reports whether a handler exists for the type. Unknown and
// the declared-unsupported formats return false.
func (t CompressionType) IsSupported() bool {
	switch t {
	case Zip, Tar, Gzip, TarGz:
		return true
	default:
		return false
	}
}

// SupportsStreaming reports whether the format can be read front to back
// without first locating an index.
func (t CompressionType) SupportsStreaming() bool {
	switch t {
	case Tar, Gzip, TarGz:
		return true
	default:
		return false
	}
}

// SupportsRandomAccess reports whether single entries can be addressed
// without decoding what precedes them. Only ZIP qualifies.
func (t CompressionType) SupportsRandomAccess() bool {
	return t == Zip
}

// UnsupportedCode returns the stable error code for formats that are
// recognized but deliberately not handled, or "" for every other type.
func (t CompressionType) UnsupportedCode() string {
	switch t {
	case SevenZip, Rar, Brotli, Lz4, Zstd:
		return "archive.format." + t.String() + ".not.supported"
	default:
		return ""
	}
}

// FromFilename resolves a type from the filename's suffix chain,
// case-insensitively.
func FromFilename(name string) CompressionType {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.typ
		}
	}
	return Unknown
}

var (
	magicZip      = []byte("PK\x03\x04")
	magicZipEmpty = []byte("PK\x05\x06")
	magicZipSpan  = []byte("PK\x07\x08")
	magicGzip     = []byte{0x1f, 0x8b}
	magic7z       = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}
	magicRar      = []byte("Rar!\x1a\x07")
	magicZstd     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLz4      = []byte{0x04, 0x22, 0x4d, 0x18}
)

const (
	tarMagicOffset = 257
	tarBlockSize   = 512
)

// IsTarHeader reports whether block starts with a ustar or GNU tar header.
func IsTarHeader(block []byte) bool {
	if len(block) < tarMagicOffset+5 {
		return false
	}
	return bytes.Equal(block[tarMagicOffset:tarMagicOffset+5], []byte("ustar"))
}

// DetectMagic resolves a type from a header prefix. A gzip prefix is
// inflated far enough to tell a plain gzip stream from a gzipped tar.
// Brotli has no signature and is never detected.
func DetectMagic(header []byte) CompressionType {
	switch {
	case bytes.HasPrefix(header, magicZip), bytes.HasPrefix(header, magicZipEmpty), bytes.HasPrefix(header, magicZipSpan):
		return Zip
	case bytes.HasPrefix(header, magicGzip):
		if gzippedTar(header) {
			return TarGz
		}
		return Gzip
	case bytes.HasPrefix(header, magic7z):
		return SevenZip
	case bytes.HasPrefix(header, magicRar):
		return Rar
	case bytes.HasPrefix(header, magicZstd):
		return Zstd
	case bytes.HasPrefix(header, magicLz4):
		return Lz4
	case IsTarHeader(header):
		return Tar
	default:
		return Unknown
	}
}

func gzippedTar(prefix []byte) bool {
	zr, err := gzip.NewReader(bytes.NewReader(prefix))
	if err != nil {
		return false
	}
	defer zr.Close()
	block := make([]byte, tarBlockSize)
	n, _ := io.ReadFull(zr, block)
	return IsTarHeader(block[:n])
}

// SupportedExtensions lists the archive extensions with a handler.
func SupportedExtensions() []string {
	return []string{"zip", "tar", "tar.gz", "tgz", "gz", "gzip"}
}
