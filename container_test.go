package epub

import (
	"context"
	"testing"

	"github.com/simp-lee/epubmodel/diag"
)

func newTestParser(t testing.TB, files map[string]string, opts ...Option) *parser {
	t.Helper()
	src := memSource(t, files)
	o := buildOptions(opts)
	return &parser{src: src, opts: o, loader: newLoader(src, o.logger), log: o.logger}
}

func containerWith(rootfiles string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>` + rootfiles + `</rootfiles>
</container>`
}

func TestResolveContainer(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		wantPath  string
		wantSynth bool
		wantDiags []string
	}{
		{
			name: "normal",
			files: map[string]string{
				"META-INF/container.xml": validContainerXML,
			},
			wantPath: "OEBPS/content.opf",
		},
		{
			name: "case insensitive location",
			files: map[string]string{
				"meta-inf/Container.xml": validContainerXML,
			},
			wantPath: "OEBPS/content.opf",
		},
		{
			name: "byte order mark",
			files: map[string]string{
				"META-INF/container.xml": "\xEF\xBB\xBF" + validContainerXML,
			},
			wantPath: "OEBPS/content.opf",
		},
		{
			name: "missing container, package discovered",
			files: map[string]string{
				"book/Book.OPF": "<package/>",
			},
			wantPath:  "book/Book.OPF",
			wantSynth: true,
			wantDiags: []string{
				"required file is missing: META-INF/container.xml",
				"container.xml is unusable, assuming rootfile book/Book.OPF",
			},
		},
		{
			name:      "missing container, nothing to discover",
			files:     map[string]string{},
			wantPath:  "OEBPS/content.opf",
			wantSynth: true,
			wantDiags: []string{
				"required file is missing: META-INF/container.xml",
				"container.xml is unusable, assuming rootfile OEBPS/content.opf",
			},
		},
		{
			name: "conventional path preferred over discovery",
			files: map[string]string{
				"A/first.opf":       "<package/>",
				"OEBPS/content.opf": "<package/>",
			},
			wantPath:  "OEBPS/content.opf",
			wantSynth: true,
			wantDiags: []string{
				"required file is missing: META-INF/container.xml",
				"container.xml is unusable, assuming rootfile OEBPS/content.opf",
			},
		},
		{
			name: "unsupported version",
			files: map[string]string{
				"META-INF/container.xml": `<container version="2.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
<rootfiles><rootfile full-path="content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`,
			},
			wantPath:  "content.opf",
			wantDiags: []string{"container version should be 1.0, got: 2.0"},
		},
		{
			name: "no rootfiles",
			files: map[string]string{
				"META-INF/container.xml": containerWith(""),
			},
			wantPath:  "OEBPS/content.opf",
			wantSynth: true,
			wantDiags: []string{
				`container.xml: rootfiles[0]: missing key "rootfile"`,
				"container declares no rootfiles",
				"container.xml is unusable, assuming rootfile OEBPS/content.opf",
			},
		},
		{
			name: "empty full-path skipped",
			files: map[string]string{
				"META-INF/container.xml": containerWith(`
    <rootfile full-path="" media-type="application/oebps-package+xml"/>
    <rootfile full-path="OPS/package.opf" media-type="application/oebps-package+xml"/>`),
			},
			wantPath:  "OPS/package.opf",
			wantDiags: []string{"rootfile is missing full-path"},
		},
		{
			name: "package media type preferred",
			files: map[string]string{
				"META-INF/container.xml": containerWith(`
    <rootfile full-path="book.pdf" media-type="application/pdf"/>
    <rootfile full-path="OPS/package.opf" media-type="application/oebps-package+xml"/>`),
			},
			wantPath: "OPS/package.opf",
			wantDiags: []string{
				`rootfile book.pdf has media-type "application/pdf", expected "application/oebps-package+xml"`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestParser(t, tt.files)
			dc := diag.New("container")
			c, got := p.resolveContainer(context.Background(), dc)
			if got != tt.wantPath {
				t.Errorf("package path = %q, want %q", got, tt.wantPath)
			}
			if c.Synthesized != tt.wantSynth {
				t.Errorf("Synthesized = %v, want %v", c.Synthesized, tt.wantSynth)
			}
			ds := dc.All()
			if len(ds) != len(tt.wantDiags) {
				t.Fatalf("diagnostics = %q, want %q", messages(ds), tt.wantDiags)
			}
			for i, want := range tt.wantDiags {
				if ds[i].Message != want {
					t.Errorf("diagnostic[%d] = %q, want %q", i, ds[i].Message, want)
				}
			}
		})
	}
}

func TestResolveContainer_DefaultRootfileOption(t *testing.T) {
	p := newTestParser(t, map[string]string{}, WithDefaultRootfile("content.opf"))
	_, got := p.resolveContainer(context.Background(), diag.New("container"))
	if got != "content.opf" {
		t.Errorf("package path = %q, want content.opf", got)
	}
}

func TestResolveContainer_MissingIsWarning(t *testing.T) {
	p := newTestParser(t, map[string]string{})
	dc := diag.New("container")
	p.resolveContainer(context.Background(), dc)
	for _, d := range dc.All() {
		if d.Severity != diag.Warning {
			t.Errorf("%s: severity = %v, want warning", d.Message, d.Severity)
		}
	}
}

func TestCheckMimetype(t *testing.T) {
	tests := []struct {
		name    string
		entries []zipEntry
		want    []string
	}{
		{
			name:    "conforming",
			entries: []zipEntry{{"mimetype", "application/epub+zip"}, {"a.txt", "a"}},
		},
		{
			name:    "missing",
			entries: []zipEntry{{"a.txt", "a"}},
			want:    []string{"mimetype file is missing"},
		},
		{
			name:    "wrong content",
			entries: []zipEntry{{"mimetype", "application/zip"}},
			want:    []string{`mimetype should be "application/epub+zip", got: "application/zip"`},
		},
		{
			name:    "trailing newline",
			entries: []zipEntry{{"mimetype", "application/epub+zip\n"}},
			want:    []string{`mimetype should be "application/epub+zip", got: "application/epub+zip\n"`},
		},
		{
			name:    "not first",
			entries: []zipEntry{{"a.txt", "a"}, {"mimetype", "application/epub+zip"}},
			want:    []string{`mimetype should be the first entry in the archive, got: "a.txt"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildTestZipBytes(t, tt.entries)
			zr := mustZipReader(t, data)
			src := newZipSource(zr, defaultMaxEntrySize)
			o := defaultOptions()
			p := &parser{src: src, opts: o, loader: newLoader(src, o.logger), log: o.logger}

			dc := diag.New("mimetype")
			p.checkMimetype(context.Background(), dc)
			ds := dc.All()
			if len(ds) != len(tt.want) {
				t.Fatalf("diagnostics = %q, want %q", messages(ds), tt.want)
			}
			for i, want := range tt.want {
				if ds[i].Message != want || ds[i].Severity != diag.Warning {
					t.Errorf("diagnostic[%d] = %s, want warning %q", i, ds[i], want)
				}
			}
		})
	}
}
