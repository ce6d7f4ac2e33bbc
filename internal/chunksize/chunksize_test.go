package chunksize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForArchive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		size   uint64
		random bool
		want   int
	}{
		{"empty random", 0, true, 64 << 10},
		{"empty sequential", 0, false, 256 << 10},
		{"tiny file", 1000, false, Min},
		{"small file rounds up", 5000, true, 8 << 10},
		{"random floor", 10 << 20, true, 64 << 10},
		{"random scaled", 200 << 20, true, 204 << 10},
		{"random ceiling", 10 << 30, true, 1 << 20},
		{"sequential floor", 10 << 20, false, 256 << 10},
		{"sequential scaled", 100 << 20, false, 1 << 20},
		{"sequential ceiling", 10 << 30, false, 8 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ForArchive(tt.size, tt.random))
		})
	}
}
