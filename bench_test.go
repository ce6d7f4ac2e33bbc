package viewer

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/stardustai/webdav-viewer/storage/storagetest"
)

func benchZip(b *testing.B, files, size int) []byte {
	b.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	body := bytes.Repeat([]byte("x"), size)
	for i := range files {
		fw, err := w.Create(fmt.Sprintf("dir%02d/file%05d.txt", i%16, i))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := fw.Write(body); err != nil {
			b.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		b.Fatal(err)
	}
	return buf.Bytes()
}

func BenchmarkAnalyzeZipWithClient(b *testing.B) {
	data := benchZip(b, 2000, 4096)
	client := storagetest.New(storagetest.WithFile("bench.zip", data))
	ctx := context.Background()

	b.Run("shared-cache", func(b *testing.B) {
		a := New()
		b.ReportAllocs()
		for b.Loop() {
			if _, err := a.AnalyzeArchiveWithClient(ctx, client, "bench.zip", "bench.zip", 0); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("cold", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			if _, err := New().AnalyzeArchiveWithClient(ctx, client, "bench.zip", "bench.zip", 0); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkPreviewZipWithClient(b *testing.B) {
	data := benchZip(b, 2000, 64<<10)
	client := storagetest.New(storagetest.WithFile("bench.zip", data))
	a := New()
	ctx := context.Background()

	b.SetBytes(4 << 10)
	b.ReportAllocs()
	for b.Loop() {
		if _, err := a.GetFilePreviewWithClient(ctx, client, "bench.zip", "bench.zip", "dir08/file01000.txt", 4<<10, nil); err != nil {
			b.Fatal(err)
		}
	}
}
