// Package chunksize recommends I/O chunk sizes for archive reads.
//
// Random-access formats read scattered small ranges, so their chunks stay
// small. Sequential formats stream from the start and benefit from larger
// chunks.
package chunksize

const (
	// Min is the smallest chunk ever recommended.
	Min = 4 << 10

	randomFloor   = 64 << 10
	randomCeil    = 1 << 20
	randomDivisor = 1000
	randomAlign   = 4 << 10

	sequentialFloor   = 256 << 10
	sequentialCeil    = 8 << 20
	sequentialDivisor = 100
	sequentialAlign   = 64 << 10
)

// ForArchive returns the recommended chunk size for a file of size bytes.
// Files smaller than the computed chunk are read in one chunk.
func ForArchive(size uint64, randomAccess bool) int {
	floor, ceil, divisor, align := uint64(sequentialFloor), uint64(sequentialCeil), uint64(sequentialDivisor), uint64(sequentialAlign)
	if randomAccess {
		floor, ceil, divisor, align = randomFloor, randomCeil, randomDivisor, randomAlign
	}
	chunk := min(max(size/divisor, floor), ceil)
	chunk = chunk / align * align
	if size > 0 && size < chunk {
		chunk = (size + Min - 1) / Min * Min
	}
	return int(max(chunk, Min))
}
