package storage

import (
	"cmp"
	"net/http"
	"slices"
	"strings"
	"time"
)

// FilterFiles drops entries whose basename does not start with prefix.
func FilterFiles(files []StorageFile, prefix string) []StorageFile {
	if prefix == "" {
		return files
	}
	out := files[:0:0]
	for _, f := range files {
		if strings.HasPrefix(f.Basename, prefix) {
			out = append(out, f)
		}
	}
	return out
}

// SortFiles orders files in place by opts.SortBy and opts.SortOrder.
// Directories always sort before files. Unknown sort keys fall back to name
// order rather than failing.
func SortFiles(files []StorageFile, sortBy, order string) {
	desc := strings.EqualFold(order, SortDesc)
	slices.SortStableFunc(files, func(a, b StorageFile) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		var c int
		switch strings.ToLower(sortBy) {
		case SortBySize:
			c = cmp.Compare(a.Size, b.Size)
		case SortByModified:
			c = parseLastmod(a.Lastmod).Compare(parseLastmod(b.Lastmod))
		}
		if c == 0 {
			c = cmp.Compare(a.Filename, b.Filename)
		}
		if desc {
			return -c
		}
		return c
	})
}

// Paginate cuts one page out of an already ordered slice. The marker is the
// Filename of the last entry of the previous page; a marker that no longer
// exists restarts from the beginning.
func Paginate(files []StorageFile, path string, opts *ListOptions) *DirectoryResult {
	total := uint64(len(files))
	res := &DirectoryResult{Path: path, TotalCount: &total}
	start := 0
	pageSize := 0
	if opts != nil {
		pageSize = opts.PageSize
		if opts.Marker != "" {
			if i := slices.IndexFunc(files, func(f StorageFile) bool { return f.Filename == opts.Marker }); i >= 0 {
				start = i + 1
			}
		}
	}
	end := len(files)
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
		res.HasMore = true
	}
	res.Files = files[start:end]
	if res.HasMore && len(res.Files) > 0 {
		res.NextMarker = res.Files[len(res.Files)-1].Filename
	}
	return res
}

// ApplyListOptions runs FilterFiles, SortFiles and Paginate in order.
func ApplyListOptions(files []StorageFile, path string, opts *ListOptions) *DirectoryResult {
	if opts == nil {
		opts = &ListOptions{}
	}
	files = FilterFiles(files, opts.Prefix)
	SortFiles(files, opts.SortBy, opts.SortOrder)
	return Paginate(files, path, opts)
}

// FormatLastmod renders t the way listings report modification times.
func FormatLastmod(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(http.TimeFormat)
}

func parseLastmod(s string) time.Time {
	if t, err := http.ParseTime(s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
