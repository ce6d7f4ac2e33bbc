package main

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	viewer "github.com/stardustai/webdav-viewer"
	"github.com/stardustai/webdav-viewer/archive"
	"github.com/stardustai/webdav-viewer/internal/chunksize"
	"github.com/stardustai/webdav-viewer/internal/config"
	"github.com/stardustai/webdav-viewer/storage"
)

func isURL(arg string) bool {
	return strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")
}

// urlFilename returns the last path segment of a URL argument.
func urlFilename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return path.Base(raw)
	}
	return path.Base(u.Path)
}

func newLsCmd(a *app) *cobra.Command {
	opts := storage.ListOptions{}
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory of the configured backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) == 1 {
				dir = args[0]
			}
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			res, err := client.ListDirectory(cmd.Context(), dir, &opts)
			if err != nil {
				return err
			}
			return a.render(res, func(t *tablewriter.Table) {
				t.SetHeader([]string{"Name", "Type", "Size", "Modified", "Archive"})
				for _, f := range res.Files {
					size := "-"
					if !f.IsDir() {
						size = viewer.FormatFileSize(f.Size)
					}
					t.Append([]string{f.Basename, f.Type, size, f.Lastmod, formatBool(!f.IsDir() && viewer.IsSupportedArchive(f.Basename))})
				}
				if res.HasMore {
					t.SetFooter([]string{"", "", "", "more:", res.NextMarker})
				}
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.PageSize, "page-size", 0, "maximum entries per page (0 lists everything)")
	f.StringVar(&opts.Marker, "marker", "", "continue a previous listing from this marker")
	f.StringVar(&opts.Prefix, "prefix", "", "only list names starting with prefix")
	f.BoolVarP(&opts.Recursive, "recursive", "r", false, "list subdirectories too")
	f.StringVar(&opts.SortBy, "sort-by", "", "sort key [name|size|modified]")
	f.StringVar(&opts.SortOrder, "sort-order", "", "sort order [asc|desc]")
	return cmd
}

type statResult struct {
	Path                 string                  `json:"path" yaml:"path"`
	Size                 uint64                  `json:"size" yaml:"size"`
	CompressionType      archive.CompressionType `json:"compression_type" yaml:"compression_type"`
	SupportedArchive     bool                    `json:"supported_archive" yaml:"supported_archive"`
	SupportsStreaming    bool                    `json:"supports_streaming" yaml:"supports_streaming"`
	SupportsRandomAccess bool                    `json:"supports_random_access" yaml:"supports_random_access"`
	RecommendedChunkSize int                     `json:"recommended_chunk_size" yaml:"recommended_chunk_size"`
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show size and archive capabilities of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			size, err := client.FileSize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			name := path.Base(args[0])
			typ := viewer.CompressionInfo(name)
			res := statResult{
				Path:                 args[0],
				Size:                 size,
				CompressionType:      typ,
				SupportedArchive:     viewer.IsSupportedArchive(name),
				SupportsStreaming:    typ.SupportsStreaming(),
				SupportsRandomAccess: typ.SupportsRandomAccess(),
				RecommendedChunkSize: chunksize.ForArchive(size, typ.SupportsRandomAccess()),
			}
			return a.render(res, func(t *tablewriter.Table) {
				t.SetHeader([]string{"Property", "Value"})
				t.AppendBulk([][]string{
					{"path", res.Path},
					{"size", viewer.FormatFileSize(res.Size)},
					{"compression", res.CompressionType.String()},
					{"archive", formatBool(res.SupportedArchive)},
					{"streaming", formatBool(res.SupportsStreaming)},
					{"random access", formatBool(res.SupportsRandomAccess)},
					{"chunk size", viewer.FormatFileSize(uint64(res.RecommendedChunkSize))},
				})
			})
		},
	}
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var limit string
	cmd := &cobra.Command{
		Use:   "analyze <path|url>",
		Short: "List the entries of an archive",
		Long: "analyze lists an archive on the configured backend, or at an http(s) URL. " +
			"Archives above --limit are analyzed from bounded prefixes and report estimates.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var maxSize uint64
			if limit != "" {
				n, err := config.ParseByteSize(limit)
				if err != nil {
					return fmt.Errorf("invalid --limit: %w", err)
				}
				maxSize = n
			}
			var (
				info *archive.Info
				err  error
			)
			if isURL(args[0]) {
				headers, herr := a.headerMap()
				if herr != nil {
					return herr
				}
				info, err = a.analyzer.AnalyzeArchive(cmd.Context(), args[0], headers, urlFilename(args[0]), maxSize)
			} else {
				client, cerr := a.client(cmd.Context())
				if cerr != nil {
					return cerr
				}
				info, err = a.analyzer.AnalyzeArchiveWithClient(cmd.Context(), client, args[0], path.Base(args[0]), maxSize)
			}
			if err != nil {
				return err
			}
			return a.render(info, func(t *tablewriter.Table) {
				t.SetHeader([]string{"#", "Path", "Size", "Compressed", "Modified"})
				for _, e := range info.Entries {
					size, csize := viewer.FormatFileSize(e.Size), "-"
					if e.CompressedSize != nil {
						csize = viewer.FormatFileSize(*e.CompressedSize)
					}
					p := e.Path
					if e.IsDir {
						p += "/"
						size = "-"
					}
					t.Append([]string{strconv.Itoa(e.Index), p, size, csize, formatTime(e.ModifiedTime)})
				}
				t.SetFooter([]string{
					info.AnalysisStatus.String(),
					fmt.Sprintf("%s, %d entries", info.CompressionType, info.TotalEntries),
					viewer.FormatFileSize(info.TotalUncompressedSize),
					viewer.FormatFileSize(info.TotalCompressedSize),
					viewer.CompressionRatio(info.TotalUncompressedSize, info.TotalCompressedSize),
				})
			})
		},
	}
	cmd.Flags().StringVar(&limit, "limit", "", "largest archive to analyze exactly, e.g. 64MiB (default: no limit on backends, 10MiB for URLs)")
	return cmd
}

func newPreviewCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <path|url> [entry]",
		Short: "Print the beginning of one archive entry",
		Long: "preview decodes at most preview.max_size bytes of an entry. " +
			"Single-member GZIP files need no entry argument.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entry string
			if len(args) == 2 {
				entry = args[1]
			}
			maxSize := a.cfg.Preview.MaxSize
			var (
				p   *archive.FilePreview
				err error
			)
			if isURL(args[0]) {
				headers, herr := a.headerMap()
				if herr != nil {
					return herr
				}
				p, err = a.analyzer.ExtractFilePreview(cmd.Context(), args[0], headers, urlFilename(args[0]), entry, maxSize)
			} else {
				client, cerr := a.client(cmd.Context())
				if cerr != nil {
					return cerr
				}
				p, err = a.analyzer.GetFilePreviewWithClient(cmd.Context(), client, args[0], path.Base(args[0]), entry, maxSize, a.progress(args[0]))
			}
			if err != nil {
				return err
			}
			if a.cfg.Output != config.OutputTable {
				return a.render(p, nil)
			}
			return writePreview(a.out, p)
		},
	}
	cmd.Flags().String("max-size", "1MiB", "preview size limit, e.g. 64KiB")
	if err := a.v.BindPFlag("preview.max_size", cmd.Flags().Lookup("max-size")); err != nil {
		panic(err)
	}
	return cmd
}

// writePreview prints the content followed by a one-line summary.
func writePreview(w io.Writer, p *archive.FilePreview) error {
	content := p.Content
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	summary := fmt.Sprintf("-- %s of %s, %s, %s", viewer.FormatFileSize(p.PreviewSize),
		viewer.FormatFileSize(p.TotalSize), p.FileType, p.Encoding)
	if p.IsTruncated {
		summary += ", truncated"
	}
	_, err := fmt.Fprintf(w, "%s%s\n", content, summary)
	return err
}

func newFormatsCmd(a *app) *cobra.Command {
	type format struct {
		Extension            string                  `json:"extension" yaml:"extension"`
		CompressionType      archive.CompressionType `json:"compression_type" yaml:"compression_type"`
		SupportsStreaming    bool                    `json:"supports_streaming" yaml:"supports_streaming"`
		SupportsRandomAccess bool                    `json:"supports_random_access" yaml:"supports_random_access"`
	}
	return &cobra.Command{
		Use:   "formats",
		Short: "List the archive formats that can be analyzed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out []format
			for _, ext := range viewer.SupportedFormats() {
				typ := viewer.CompressionInfo("archive." + ext)
				out = append(out, format{
					Extension:            ext,
					CompressionType:      typ,
					SupportsStreaming:    typ.SupportsStreaming(),
					SupportsRandomAccess: typ.SupportsRandomAccess(),
				})
			}
			return a.render(out, func(t *tablewriter.Table) {
				t.SetHeader([]string{"Extension", "Type", "Streaming", "Random access"})
				for _, f := range out {
					t.Append([]string{f.Extension, f.CompressionType.String(), formatBool(f.SupportsStreaming), formatBool(f.SupportsRandomAccess)})
				}
			})
		},
	}
}
