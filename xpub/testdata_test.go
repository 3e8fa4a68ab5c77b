package xpub

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// testFile is one entry for the ordered archive builders.
type testFile struct {
	name    string
	content string
}

// buildTestZip creates an in-memory ZIP archive from the provided files map
// (path → content) and returns a *zip.Reader over the resulting bytes.
// Entry order is unspecified; use buildTestArchive when order matters.
// It calls t.Fatal on any error.
func buildTestZip(t *testing.T, files map[string]string) *zip.Reader {
	t.Helper()
	var ordered []testFile
	for name, content := range files {
		ordered = append(ordered, testFile{name, content})
	}
	return openTestZip(t, buildTestArchive(t, ordered...))
}

// buildTestArchive writes the files, in order, as a deflated ZIP archive and
// returns its bytes.
func buildTestArchive(t testing.TB, files ...testFile) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, f := range files {
		fw, err := zw.Create(f.name)
		if err != nil {
			t.Fatalf("buildTestArchive: create %s: %v", f.name, err)
		}
		if _, err := io.WriteString(fw, f.content); err != nil {
			t.Fatalf("buildTestArchive: write %s: %v", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("buildTestArchive: close writer: %v", err)
	}
	return buf.Bytes()
}

// buildTestEPub returns a minimal ePub archive: a mimetype entry followed by
// the given files.
func buildTestEPub(t testing.TB, files ...testFile) []byte {
	t.Helper()
	all := append([]testFile{{"mimetype", "application/epub+zip"}}, files...)
	return buildTestArchive(t, all...)
}

// buildTestEPubFile writes an ePub built by buildTestEPub to a temporary
// directory and returns the file path.
func buildTestEPubFile(t *testing.T, files ...testFile) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "test.epub")
	if err := os.WriteFile(fp, buildTestEPub(t, files...), 0644); err != nil {
		t.Fatalf("buildTestEPubFile: write file: %v", err)
	}
	return fp
}

// openTestZip opens archive bytes for reading.
func openTestZip(t testing.TB, data []byte) *zip.Reader {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		t.Fatalf("openTestZip: open reader: %v", err)
	}
	return r
}

// readTestEntries returns the name and content of every entry of an archive,
// in archive order.
func readTestEntries(t testing.TB, data []byte) []testFile {
	t.Helper()
	zr := openTestZip(t, data)
	out := make([]testFile, 0, len(zr.File))
	for _, f := range zr.File {
		b, err := readZipFileWithLimit(f, DefaultMaxEntrySize)
		if err != nil {
			t.Fatalf("readTestEntries: %s: %v", f.Name, err)
		}
		out = append(out, testFile{f.Name, string(b)})
	}
	return out
}

// testChapter is a small, well-formed XHTML chapter.
const testChapter = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Chapter</title></head>
<body>
<h1>Chapter One</h1>
<p>Hola mundo.</p>
<p class="second">Buenos <em>días</em> amigo</p>
</body>
</html>`
