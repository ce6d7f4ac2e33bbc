package textutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestTrimPartialRune(t *testing.T) {
	t.Parallel()

	full := []byte("héllo 世界")
	assert.Equal(t, full, TrimPartialRune(full))
	// Cut inside the final three-byte rune.
	assert.Equal(t, []byte("héllo 世"), TrimPartialRune(full[:len(full)-1]))
	assert.Equal(t, []byte("héllo 世"), TrimPartialRune(full[:len(full)-2]))
	assert.Empty(t, TrimPartialRune(nil))
}

func TestLooksLikeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"empty", nil, true},
		{"ascii", []byte("plain text\nwith lines\n"), true},
		{"utf8 cut mid rune", []byte("日本語")[:7], true},
		{"nul", []byte("abc\x00def"), false},
		{"utf16 bom", []byte{0xff, 0xfe, 'a', 0, 'b', 0}, true},
		{"binary", []byte{0x01, 0x02, 0x03, 0x90, 0x91, 0x04, 0x05, 0x06}, false},
		{"latin1", []byte("caf\xe9 cr\xe8me br\xfbl\xe9e"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, LooksLikeText(tt.data))
		})
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	s, enc := Decode([]byte("hello"))
	assert.Equal(t, "hello", s)
	assert.Equal(t, UTF8, enc)

	s, enc = Decode([]byte{0xef, 0xbb, 0xbf, 'h', 'i'})
	assert.Equal(t, "hi", s)
	assert.Equal(t, UTF8, enc)

	s, enc = Decode([]byte{0xff, 0xfe, 'h', 0, 'i', 0})
	assert.Equal(t, "hi", s)
	assert.Equal(t, UTF16LE, enc)

	gb, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte("中文预览"))
	assert.NoError(t, err)
	s, enc = Decode(gb)
	assert.Equal(t, "中文预览", s)
	assert.Equal(t, GB18030, enc)

	s, enc = Decode([]byte("caf\xe9 ok"))
	assert.Equal(t, Windows1252, enc)
	assert.True(t, strings.HasPrefix(s, "café"))
}

func TestLossyAndHex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a�b", Lossy([]byte("a\xffb")))
	assert.Equal(t, "ab", Lossy([]byte("ab\xe4\xb8")))

	dump := HexPreview([]byte{0x1f, 0x8b, 0x08, 0x00}, 2)
	assert.Contains(t, dump, "1f 8b")
	assert.NotContains(t, dump, "08")
}
