package memorywriter

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringExportsLatestFirst(t *testing.T) {
	m := New(10, 0, false)
	m.Println("first")
	m.Println("second")
	m.Println("third")

	out, err := m.String("header\n")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(out, "header\n"))
	require.Less(t, strings.Index(out, "third"), strings.Index(out, "second"))
	require.Less(t, strings.Index(out, "second"), strings.Index(out, "first"))
}

func TestRotationKeepsStartLines(t *testing.T) {
	m := New(3, 2, false)
	for _, s := range []string{"s1", "s2", "a", "b", "c", "d", "e"} {
		m.Println(s)
	}

	out, err := m.String("")
	require.NoError(t, err)

	// pinned lines survive rotation
	require.Contains(t, out, "s1")
	require.Contains(t, out, "s2")
	// only the last three rotating lines remain
	require.NotContains(t, out, "a\n")
	require.NotContains(t, out, "b\n")
	require.Contains(t, out, "c")
	require.Contains(t, out, "d")
	require.Contains(t, out, "e")
}

func TestWriteCutsLongLines(t *testing.T) {
	m := New(10, 0, false)
	n, err := m.Write(bytes.Repeat([]byte("x"), maxLineLength+100))
	require.NoError(t, err)
	require.Equal(t, maxLineLength+100, n)

	out, err := m.String("")
	require.NoError(t, err)
	require.Contains(t, out, "[cut]")
	require.NotContains(t, out, strings.Repeat("x", maxLineLength+1))
}

func TestExportCountsDroppedLines(t *testing.T) {
	m := New(2, 0, false)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		m.Println(s)
	}

	out, err := m.String("")
	require.NoError(t, err)
	require.Contains(t, out, "(3 older lines dropped)")
	require.Contains(t, out, "d")
	require.Contains(t, out, "e")
	require.NotContains(t, out, "a\n")
}

func TestTimestamps(t *testing.T) {
	m := New(10, 0, true)
	m.Println("stamped")

	out, err := m.String("")
	require.NoError(t, err)
	require.Contains(t, out, "] stamped")
	require.True(t, strings.Contains(out, "["))
}

func TestGzipExport(t *testing.T) {
	m := New(10, 0, false)
	m.Println("logged line")

	data, err := m.Gzip("version 1\n")
	require.NoError(t, err)

	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	plain, err := io.ReadAll(gr)
	require.NoError(t, err)
	require.NoError(t, gr.Close())

	require.True(t, strings.HasPrefix(string(plain), "version 1\n"))
	require.Contains(t, string(plain), "logged line")
}
