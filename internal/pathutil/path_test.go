package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"", ""},
		{".", ""},
		{"./a/b.txt", "a/b.txt"},
		{"/abs/path/", "abs/path"},
		{`win\style\file.txt`, "win/style/file.txt"},
		{"a//b/../c", "a/c"},
		{"../escape", "escape"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in), tt.in)
	}
	assert.True(t, Same("./dir/x", "dir/x/"))
	assert.False(t, Same("dir/x", "dir/y"))
}

func TestBaseAndPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".", Base(""))
	assert.Equal(t, "c", Base("a/b/c"))
	assert.Equal(t, "b", Base("a/b/"))
	assert.Equal(t, "", DirPrefix("."))
	assert.Equal(t, "a/b/", DirPrefix("a/b"))
	assert.Equal(t, "a/b/", DirPrefix("a/b/"))
	assert.True(t, IsDirName("dir/"))
	assert.False(t, IsDirName("dir"))
}

func TestParents(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "a/b"}, Parents("a/b/c.txt"))
	assert.Nil(t, Parents("top.txt"))
}
