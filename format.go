package viewer

import "fmt"

var sizeUnits = [...]string{"B", "KB", "MB", "GB", "TB"}

// FormatFileSize renders size with 1024-based units: whole bytes, two
// decimals above that ("1.50 KB").
func FormatFileSize(size uint64) string {
	if size == 0 {
		return "0 B"
	}
	v := float64(size)
	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", size, sizeUnits[0])
	}
	return fmt.Sprintf("%.2f %s", v, sizeUnits[unit])
}

// CompressionRatio returns the space saved by compression as a percentage
// with one decimal. An archive that grew reports "0.0%"; an unknown
// compressed size reports "0%".
func CompressionRatio(uncompressed, compressed uint64) string {
	if compressed == 0 {
		return "0%"
	}
	if uncompressed == 0 || compressed >= uncompressed {
		return "0.0%"
	}
	saved := float64(uncompressed-compressed) / float64(uncompressed) * 100
	return fmt.Sprintf("%.1f%%", saved)
}
