package archive

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoBuilder(t *testing.T) {
	t.Parallel()

	_, err := NewInfoBuilder(Gzip).Status(Complete()).Build()
	require.Error(t, err, "entries missing")

	_, err = NewInfoBuilder(Gzip).Entries(nil).Build()
	require.Error(t, err, "status missing")

	_, err = NewInfoBuilder(Zip).Entries([]Entry{{Path: "a", Index: 0}, {Path: "b", Index: 0}}).Status(Complete()).Build()
	require.Error(t, err, "duplicate index")

	info, err := NewInfoBuilder(Zip).
		Entries([]Entry{{Path: "a", Index: 0}, {Path: "b", Index: 1}}).
		TotalUncompressedSize(10).
		Status(Complete()).
		Build()
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalEntries)
	assert.True(t, info.SupportsRandomAccess)
	assert.False(t, info.SupportsStreaming)

	info, err = NewInfoBuilder(Gzip).Entries(nil).TotalEntries(1).Status(StreamingWith(1)).Build()
	require.NoError(t, err)
	assert.NotNil(t, info.Entries)
	assert.Equal(t, 1, info.TotalEntries)
	n, ok := info.AnalysisStatus.EstimatedEntries()
	assert.True(t, ok)
	assert.Equal(t, uint64(1), n)
}

func TestAnalysisStatusJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status AnalysisStatus
		want   string
	}{
		{Complete(), `{"Complete":{}}`},
		{StreamingWith(3), `{"Streaming":{"estimated_entries":3}}`},
		{Streaming(nil), `{"Streaming":{"estimated_entries":null}}`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.status)
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(got))

		var back AnalysisStatus
		require.NoError(t, json.Unmarshal(got, &back))
		assert.Equal(t, tt.status.String(), back.String())
	}

	_, err := json.Marshal(AnalysisStatus{})
	require.Error(t, err)

	info, err := NewInfoBuilder(TarGz).Entries(nil).Status(Complete()).Build()
	require.NoError(t, err)
	raw, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"compression_type":"tar.gz"`)
	assert.Contains(t, string(raw), `"analysis_status":{"Complete":{}}`)
}

func TestPreviewBuilder(t *testing.T) {
	t.Parallel()

	p := NewPreviewBuilder().Content("abc").Build()
	assert.Equal(t, uint64(3), p.PreviewSize)
	assert.Equal(t, uint64(3), p.TotalSize)
	assert.False(t, p.IsTruncated)
	assert.Equal(t, EncodingUTF8, p.Encoding)

	p = NewPreviewBuilder().Content("abc").TotalSize(10).Build()
	assert.True(t, p.IsTruncated, "total beyond preview forces truncation")

	p = NewPreviewBuilder().Content("abc").Truncated(true).Build()
	assert.True(t, p.IsTruncated)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	err := error(&UnsupportedFormatError{Type: SevenZip})
	assert.Equal(t, "archive.format.7z.not.supported", err.Error())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	err = &InvalidHeaderError{Format: "gzip"}
	assert.Equal(t, "Invalid GZIP header", err.Error())
	assert.ErrorIs(t, err, ErrInvalidHeader)

	cause := errors.New("boom")
	assert.ErrorIs(t, ReadError(cause), cause)
	assert.Equal(t, "Failed to read file: boom", ReadError(cause).Error())
}

func TestFileTypeFromPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FileTypeText, FileTypeFromPath("dir/readme.MD"))
	assert.Equal(t, FileTypeText, FileTypeFromPath("table.csv"))
	assert.Equal(t, FileTypeImage, FileTypeFromPath("a.png"))
	assert.Equal(t, FileTypeArchive, FileTypeFromPath("nested.tar.gz"))
	assert.Equal(t, FileTypeData, FileTypeFromPath("x.parquet"))
	assert.Equal(t, FileTypeUnknown, FileTypeFromPath("Makefile"))
}
