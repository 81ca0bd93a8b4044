package backend

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "/"},
		{in: "/", want: "/"},
		{in: "a.txt", want: "/a.txt"},
		{in: "/dir/./b.txt", want: "/dir/b.txt"},
		{in: "/dir/", want: "/dir"},
		{in: "/dir/../etc/passwd", wantErr: true},
		{in: "..", wantErr: true},
		{in: "~/secrets", wantErr: true},
		{in: `dir\..\x`, wantErr: true},
	}

	for _, tt := range tests {
		got, err := CleanPath("test", tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPath, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestNumberLines(t *testing.T) {
	content := "one\ntwo\nthree\nfour\n"

	out, err := NumberLines("read", "/f", content, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "     1|one\n     2|two\n     3|three\n     4|four", out)

	out, err = NumberLines("read", "/f", content, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "     2|two\n     3|three", out)

	out, err = NumberLines("read", "/f", "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = NumberLines("read", "/f", content, 10, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestStripLineNumbers(t *testing.T) {
	content := "package main\n\nfunc main() {}"
	numbered, err := NumberLines("read", "/main.go", content, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, content, StripLineNumbers(numbered))
}

func TestReplaceText(t *testing.T) {
	out, n, err := ReplaceText("edit", "/f", "a b a", "b", "B", false)
	require.NoError(t, err)
	assert.Equal(t, "a B a", out)
	assert.Equal(t, 1, n)

	_, _, err = ReplaceText("edit", "/f", "a b a", "a", "A", false)
	assert.ErrorIs(t, err, ErrAmbiguousMatch)

	out, n, err = ReplaceText("edit", "/f", "a b a", "a", "A", true)
	require.NoError(t, err)
	assert.Equal(t, "A b A", out)
	assert.Equal(t, 2, n)

	_, _, err = ReplaceText("edit", "/f", "a b a", "z", "Z", true)
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Equal(t, KindNoMatch, KindOf(err))
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, MatchGlob("", "/", "/any/thing"))
	assert.True(t, MatchGlob("*.go", "/", "/main.go"))
	assert.True(t, MatchGlob("*.go", "/", "/pkg/deep/util.go"))
	assert.True(t, MatchGlob("**/*.go", "/src", "/src/a/b.go"))
	assert.False(t, MatchGlob("src/*.go", "/", "/src/a/b.go"))
	assert.True(t, MatchGlob("/src/**", "/", "/src/a/b.go"))
	assert.False(t, MatchGlob("*.md", "/", "/main.go"))
}

func TestGrepContent(t *testing.T) {
	re := regexp.MustCompile(`^func `)
	matches := GrepContent(re, "/m.go", []byte("package m\r\nfunc A() {}\nvar x\nfunc B() {}\n"))
	require.Len(t, matches, 2)
	assert.Equal(t, 2, matches[0].Line)
	assert.Equal(t, "func A() {}", matches[0].Text)
	assert.Equal(t, 4, matches[1].Line)
}

func TestGrepContentLongLine(t *testing.T) {
	long := strings.Repeat("x", 5*1024*1024)
	content := []byte("first\n" + long + "\nneedle after long line\n")
	matches := GrepContent(regexp.MustCompile(`needle`), "/big.txt", content)
	require.Len(t, matches, 1)
	assert.Equal(t, 3, matches[0].Line)

	assert.Len(t, GrepContent(regexp.MustCompile(`^$`), "/a", []byte("a\n\nb\n")), 1)
}
