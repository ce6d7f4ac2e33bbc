// Package textutil classifies decoded preview bytes and renders them as
// text or as a binary dump.
package textutil

import (
	"bytes"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// Encoding labels reported by Decode.
const (
	UTF8        = "utf-8"
	UTF16LE     = "utf-16le"
	UTF16BE     = "utf-16be"
	GB18030     = "gb18030"
	Windows1252 = "windows-1252"
)

var (
	bomUTF8    = []byte{0xef, 0xbb, 0xbf}
	bomUTF16LE = []byte{0xff, 0xfe}
	bomUTF16BE = []byte{0xfe, 0xff}
)

// sniffLimit bounds how much of a buffer LooksLikeText inspects.
const sniffLimit = 8 << 10

// TrimPartialRune drops an incomplete UTF-8 sequence at the end of data,
// which appears whenever a preview is cut at a byte budget.
func TrimPartialRune(data []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
		b := data[len(data)-i]
		if b < utf8.RuneSelf {
			return data
		}
		if utf8.RuneStart(b) {
			if !utf8.FullRune(data[len(data)-i:]) {
				return data[:len(data)-i]
			}
			return data
		}
	}
	return data
}

// LooksLikeText sniffs decoded bytes. NUL bytes mean binary unless a
// UTF-16 byte order mark is present; valid UTF-8 is text; anything else is
// text when control characters are rare.
func LooksLikeText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if bytes.HasPrefix(data, bomUTF16LE) || bytes.HasPrefix(data, bomUTF16BE) {
		return true
	}
	sample := data[:min(len(data), sniffLimit)]
	if bytes.IndexByte(sample, 0) >= 0 {
		return false
	}
	if utf8.Valid(TrimPartialRune(sample)) {
		return true
	}
	controls := 0
	for _, b := range sample {
		if isControl(b) {
			controls++
		}
	}
	return controls*20 < len(sample)
}

func isControl(b byte) bool {
	switch b {
	case '\t', '\n', '\r', '\f', '\b', 0x1b:
		return false
	}
	return b < 0x20 || b == 0x7f
}

// Decode renders data as a string and names the encoding used. Valid UTF-8
// wins, then a UTF-16 byte order mark, then GB18030 when it decodes
// cleanly, and finally Windows-1252, which accepts any input.
func Decode(data []byte) (string, string) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return Lossy(data[len(bomUTF8):]), UTF8
	case bytes.HasPrefix(data, bomUTF16LE):
		if s, ok := decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), data); ok {
			return s, UTF16LE
		}
	case bytes.HasPrefix(data, bomUTF16BE):
		if s, ok := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), data); ok {
			return s, UTF16BE
		}
	}
	if trimmed := TrimPartialRune(data); utf8.Valid(trimmed) {
		return string(trimmed), UTF8
	}
	if s, ok := decodeWith(simplifiedchinese.GB18030, data); ok && !strings.ContainsRune(s, utf8.RuneError) {
		return s, GB18030
	}
	s, _ := decodeWith(charmap.Windows1252, data)
	return s, Windows1252
}

func decodeWith(enc encoding.Encoding, data []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// Lossy decodes UTF-8, replacing invalid sequences with U+FFFD. A sequence
// cut off at the end is dropped instead.
func Lossy(data []byte) string {
	return strings.ToValidUTF8(string(TrimPartialRune(data)), "\uFFFD")
}

// HexPreview renders at most limit bytes as a canonical hex dump.
func HexPreview(data []byte, limit int) string {
	if limit > 0 && len(data) > limit {
		data = data[:limit]
	}
	return hex.Dump(data)
}
