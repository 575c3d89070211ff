package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"

	"github.com/simp-lee/epubmodel/diag"
)

const validContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const minimalOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">urn:uuid:1234</dc:identifier>
    <dc:title>Test Book</dc:title>
    <dc:language>en</dc:language>
    <meta property="dcterms:modified">2024-01-01T00:00:00Z</meta>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="c1" href="text/c1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="text/c2.xhtml" media-type="application/xhtml+xml"/>
    <item id="cover" href="images/cover.jpg" media-type="image/jpeg" properties="cover-image"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="c1"/>
    <itemref idref="c2"/>
  </spine>
</package>`

const minimalNav = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>Nav</title></head>
<body>
<nav epub:type="toc"><h1>Contents</h1>
<ol>
  <li><a href="text/c1.xhtml">Chapter 1</a>
    <ol><li><a href="text/c1.xhtml#s1">Section 1.1</a></li></ol>
  </li>
  <li><a href="text/c2.xhtml">Chapter 2</a></li>
</ol>
</nav>
<nav epub:type="landmarks"><ol><li><a epub:type="bodymatter" href="text/c1.xhtml">Start</a></li></ol></nav>
</body>
</html>`

const minimalNCX = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head><meta name="dtb:uid" content="urn:uuid:1234"/></head>
  <docTitle><text>Test Book</text></docTitle>
  <navMap>
    <navPoint id="np1" playOrder="1">
      <navLabel><text>Chapter 1</text></navLabel><content src="text/c1.xhtml"/>
      <navPoint id="np2" playOrder="2">
        <navLabel><text>Section 1.1</text></navLabel><content src="text/c1.xhtml#s1"/>
      </navPoint>
    </navPoint>
    <navPoint id="np3" playOrder="3">
      <navLabel><text>Chapter 2</text></navLabel><content src="text/c2.xhtml"/>
    </navPoint>
  </navMap>
</ncx>`

const chapterXHTML = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>C</title></head><body><p>Hello</p></body></html>`

// minimalEPubFiles returns a small, fully conforming ePub 3 with both a nav
// document and an NCX.
func minimalEPubFiles() map[string]string {
	return map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": validContainerXML,
		"OEBPS/content.opf":      minimalOPF,
		"OEBPS/nav.xhtml":        minimalNav,
		"OEBPS/toc.ncx":          minimalNCX,
		"OEBPS/text/c1.xhtml":    chapterXHTML,
		"OEBPS/text/c2.xhtml":    chapterXHTML,
		"OEBPS/images/cover.jpg": "\xff\xd8\xff\xe0fakejpeg",
	}
}

// zipEntry is a single file of an ordered test archive.
type zipEntry struct {
	name, content string
}

// orderedEntries writes "mimetype" first (ePub requires it as the first
// entry) and the remaining files in lexical order.
func orderedEntries(files map[string]string) []zipEntry {
	var names []string
	for name := range files {
		if name != "mimetype" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var out []zipEntry
	if mt, ok := files["mimetype"]; ok {
		out = append(out, zipEntry{"mimetype", mt})
	}
	for _, n := range names {
		out = append(out, zipEntry{n, files[n]})
	}
	return out
}

// buildTestZipBytes creates an in-memory ZIP archive from entries, in order.
// It calls t.Fatal on any error.
func buildTestZipBytes(t testing.TB, entries []zipEntry) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, e := range entries {
		fw, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("buildTestZip: create %s: %v", e.name, err)
		}
		if _, err := io.WriteString(fw, e.content); err != nil {
			t.Fatalf("buildTestZip: write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("buildTestZip: close writer: %v", err)
	}
	return buf.Bytes()
}

// buildTestZip returns a *zip.Reader over an archive of files.
func buildTestZip(t testing.TB, files map[string]string) *zip.Reader {
	t.Helper()
	data := buildTestZipBytes(t, orderedEntries(files))
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("buildTestZip: open reader: %v", err)
	}
	return r
}

// buildTestEPubFile writes an ePub (ZIP) archive to a temporary file and returns
// the file path. This variant is useful for testing Open() which requires a file path.
func buildTestEPubFile(t *testing.T, files map[string]string) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "test.epub")
	if err := os.WriteFile(fp, buildTestZipBytes(t, orderedEntries(files)), 0o644); err != nil {
		t.Fatalf("buildTestEPubFile: write file: %v", err)
	}
	return fp
}

// parseTestEPub parses files served from an in-memory zip archive.
func parseTestEPub(t testing.TB, files map[string]string, opts ...Option) Result[*Publication] {
	t.Helper()
	data := buildTestZipBytes(t, orderedEntries(files))
	res, err := NewReader(context.Background(), bytes.NewReader(data), int64(len(data)), opts...)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	return res
}

// memSource serves files from an afero in-memory filesystem.
func memSource(t testing.TB, files map[string]string) *FSSource {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		if err := afero.WriteFile(fs, name, []byte(content), 0o644); err != nil {
			t.Fatalf("memSource: write %s: %v", name, err)
		}
	}
	return NewFSSource(fs)
}

// findDiag returns the first diagnostic whose message equals msg.
func findDiag(ds []diag.Diagnostic, msg string) (diag.Diagnostic, bool) {
	for _, d := range ds {
		if d.Message == msg {
			return d, true
		}
	}
	return diag.Diagnostic{}, false
}

// messages lists the diagnostic messages, for failure output.
func messages(ds []diag.Diagnostic) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func mustZipReader(t testing.TB, data []byte) *zip.Reader {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	return r
}
