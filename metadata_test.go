package epub

import (
	"reflect"
	"strings"
	"testing"

	"github.com/simp-lee/epubmodel/diag"
	"github.com/simp-lee/epubmodel/markup"
)

// --- ePub 2 metadata OPF ---

const testMetadataOPFv2 = `<?xml version="1.0" encoding="UTF-8"?>
<package version="2.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>Main Title</dc:title>
    <dc:creator opf:file-as="Doe, John" opf:role="aut">John Doe</dc:creator>
    <dc:creator opf:file-as="Smith, Jane" opf:role="edt">Jane Smith</dc:creator>
    <dc:language>en</dc:language>
    <dc:language>fr</dc:language>
    <dc:identifier id="bookid" opf:scheme="ISBN">978-3-16-148410-0</dc:identifier>
    <dc:identifier opf:scheme="UUID">urn:uuid:12345</dc:identifier>
    <dc:publisher>Test Publisher</dc:publisher>
    <dc:date>2024-01-15</dc:date>
    <dc:description>A test book description.</dc:description>
    <dc:subject>Fiction</dc:subject>
    <dc:subject>Science</dc:subject>
    <dc:rights>Copyright 2024</dc:rights>
    <dc:source>http://example.com/source</dc:source>
    <meta name="cover" content="cover-img"/>
  </metadata>
  <manifest>
    <item id="chap1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="chap1"/>
  </spine>
</package>`

// --- ePub 3 metadata OPF ---

const testMetadataOPFv3 = `<?xml version="1.0" encoding="UTF-8"?>
<package version="3.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title id="title1">Subtitle</dc:title>
    <dc:title id="title2">Main Title</dc:title>
    <dc:creator id="creator1">John Doe</dc:creator>
    <dc:creator id="creator2">Jane Smith</dc:creator>
    <dc:language>en</dc:language>
    <dc:identifier id="uid">urn:uuid:12345-67890</dc:identifier>
    <dc:publisher>EPUB 3 Publisher</dc:publisher>
    <dc:date>2024-06-01</dc:date>
    <dc:description>An EPUB 3 test book.</dc:description>
    <dc:subject>Technology</dc:subject>
    <dc:rights>CC BY 4.0</dc:rights>
    <dc:source>http://example.com</dc:source>
    <meta property="dcterms:modified">2024-06-15T00:00:00Z</meta>
    <meta refines="#title1" property="display-seq">2</meta>
    <meta refines="#title2" property="display-seq">1</meta>
    <meta refines="#creator1" property="file-as">Doe, John</meta>
    <meta refines="#creator1" property="role" scheme="marc:relators">aut</meta>
    <meta refines="#creator2" property="file-as">Smith, Jane</meta>
    <meta refines="#creator2" property="role" scheme="marc:relators">edt</meta>
    <meta refines="#uid" property="identifier-type">UUID</meta>
  </metadata>
  <manifest>
    <item id="chap1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="chap1"/>
  </spine>
</package>`

// --- Minimal metadata OPF ---

const testMetadataOPFMinimal = `<?xml version="1.0" encoding="UTF-8"?>
<package version="2.0" xmlns="http://www.idpf.org/2007/opf">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Only Title</dc:title>
  </metadata>
  <manifest>
    <item id="chap1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="chap1"/>
  </spine>
</package>`

func metadataOf(t *testing.T, opf string) (Metadata, []diag.Diagnostic) {
	t.Helper()
	root, err := markup.ParseXML([]byte(opf))
	if err != nil {
		t.Fatalf("ParseXML: %v", err)
	}
	dc := diag.New("metadata")
	md := extractMetadata(root.Child("metadata"), dc)
	return md, dc.All()
}

func metadataOPF(inner string) string {
	return `<package version="3.0" xmlns="http://www.idpf.org/2007/opf">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">` + inner + `</metadata>
</package>`
}

func TestExtractMetadata_V2(t *testing.T) {
	md, ds := metadataOf(t, testMetadataOPFv2)
	if len(ds) != 0 {
		t.Errorf("unexpected diagnostics: %q", messages(ds))
	}

	if want := []string{"Main Title"}; !reflect.DeepEqual(md.Titles, want) {
		t.Errorf("Titles = %v, want %v", md.Titles, want)
	}

	wantAuthors := []Author{
		{Name: "John Doe", FileAs: "Doe, John", Role: "aut"},
		{Name: "Jane Smith", FileAs: "Smith, Jane", Role: "edt"},
	}
	if !reflect.DeepEqual(md.Authors, wantAuthors) {
		t.Errorf("Authors = %+v, want %+v", md.Authors, wantAuthors)
	}

	if want := []string{"en", "fr"}; !reflect.DeepEqual(md.Language, want) {
		t.Errorf("Language = %v, want %v", md.Language, want)
	}

	wantIDs := []Identifier{
		{Value: "978-3-16-148410-0", Scheme: "ISBN", ID: "bookid"},
		{Value: "urn:uuid:12345", Scheme: "UUID"},
	}
	if !reflect.DeepEqual(md.Identifiers, wantIDs) {
		t.Errorf("Identifiers = %+v, want %+v", md.Identifiers, wantIDs)
	}

	if md.Publisher != "Test Publisher" {
		t.Errorf("Publisher = %q, want %q", md.Publisher, "Test Publisher")
	}
	if md.Date != "2024-01-15" {
		t.Errorf("Date = %q, want %q", md.Date, "2024-01-15")
	}
	if md.Description != "A test book description." {
		t.Errorf("Description = %q, want %q", md.Description, "A test book description.")
	}
	if md.Rights != "Copyright 2024" {
		t.Errorf("Rights = %q, want %q", md.Rights, "Copyright 2024")
	}
	if md.Source != "http://example.com/source" {
		t.Errorf("Source = %q, want %q", md.Source, "http://example.com/source")
	}
	if want := []string{"Fiction", "Science"}; !reflect.DeepEqual(md.Subjects, want) {
		t.Errorf("Subjects = %v, want %v", md.Subjects, want)
	}
	if len(md.Metas) != 1 || md.Metas[0].Name != "cover" || md.Metas[0].Content != "cover-img" {
		t.Errorf("Metas = %+v", md.Metas)
	}
}

func TestExtractMetadata_V3(t *testing.T) {
	md, ds := metadataOf(t, testMetadataOPFv3)
	if len(ds) != 0 {
		t.Errorf("unexpected diagnostics: %q", messages(ds))
	}

	// display-seq puts "Main Title" (seq=1) before "Subtitle" (seq=2).
	if want := []string{"Main Title", "Subtitle"}; !reflect.DeepEqual(md.Titles, want) {
		t.Errorf("Titles = %v, want %v", md.Titles, want)
	}

	wantAuthors := []Author{
		{Name: "John Doe", FileAs: "Doe, John", Role: "aut"},
		{Name: "Jane Smith", FileAs: "Smith, Jane", Role: "edt"},
	}
	if !reflect.DeepEqual(md.Authors, wantAuthors) {
		t.Errorf("Authors = %+v, want %+v", md.Authors, wantAuthors)
	}

	if len(md.Identifiers) != 1 || md.Identifiers[0].Scheme != "UUID" {
		t.Errorf("Identifiers = %+v, want one with scheme UUID", md.Identifiers)
	}
	if md.Publisher != "EPUB 3 Publisher" {
		t.Errorf("Publisher = %q, want %q", md.Publisher, "EPUB 3 Publisher")
	}
	if md.Rights != "CC BY 4.0" {
		t.Errorf("Rights = %q, want %q", md.Rights, "CC BY 4.0")
	}
}

func TestExtractMetadata_Minimal(t *testing.T) {
	md, ds := metadataOf(t, testMetadataOPFMinimal)
	if len(ds) != 0 {
		t.Errorf("unexpected diagnostics: %q", messages(ds))
	}
	if want := []string{"Only Title"}; !reflect.DeepEqual(md.Titles, want) {
		t.Errorf("Titles = %v, want %v", md.Titles, want)
	}
	if md.Authors != nil || md.Language != nil || md.Identifiers != nil || md.Publisher != "" {
		t.Errorf("expected empty fields, got %+v", md)
	}
}

func TestExtractMetadata_NilElement(t *testing.T) {
	dc := diag.New("metadata")
	md := extractMetadata(nil, dc)
	if !reflect.DeepEqual(md, Metadata{}) {
		t.Errorf("extractMetadata(nil) = %+v", md)
	}
	if len(dc.All()) != 0 {
		t.Errorf("unexpected diagnostics: %q", messages(dc.All()))
	}
}

func TestExtractMetadata_TitleOrdering(t *testing.T) {
	md, _ := metadataOf(t, metadataOPF(`
    <dc:title id="t1">Third</dc:title>
    <dc:title>Unsequenced</dc:title>
    <dc:title id="t2">First</dc:title>
    <dc:title id="t3">Second</dc:title>
    <meta refines="#t1" property="display-seq">3</meta>
    <meta refines="#t2" property="display-seq">1</meta>
    <meta refines="#t3" property="display-seq">2</meta>`))
	want := []string{"First", "Second", "Third", "Unsequenced"}
	if !reflect.DeepEqual(md.Titles, want) {
		t.Errorf("Titles = %v, want %v", md.Titles, want)
	}
}

func TestExtractMetadata_Contributors(t *testing.T) {
	md, _ := metadataOf(t, metadataOPF(`
    <dc:creator>Author Only</dc:creator>
    <dc:contributor id="c1">Ed Itor</dc:contributor>
    <meta refines="#c1" property="role">edt</meta>
    <dc:creator>   </dc:creator>`))
	if want := []Author{{Name: "Author Only"}}; !reflect.DeepEqual(md.Authors, want) {
		t.Errorf("Authors = %+v, want %+v", md.Authors, want)
	}
	if want := []Author{{Name: "Ed Itor", Role: "edt"}}; !reflect.DeepEqual(md.Contributors, want) {
		t.Errorf("Contributors = %+v, want %+v", md.Contributors, want)
	}
}

func TestExtractMetadata_DescriptionMarkup(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "<dc:description>Just text.</dc:description>", "Just text."},
		{"escaped html", "<dc:description>&lt;p&gt;A &lt;b&gt;bold&lt;/b&gt;\n  claim.&lt;/p&gt;</dc:description>", "A bold claim."},
		{"entities", "<dc:description>Fish &amp;amp; chips</dc:description>", "Fish & chips"},
		{"script dropped", "<dc:description>&lt;script&gt;alert(1)&lt;/script&gt;Safe</dc:description>", "Safe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, _ := metadataOf(t, metadataOPF(tt.raw))
			if md.Description != tt.want {
				t.Errorf("Description = %q, want %q", md.Description, tt.want)
			}
		})
	}
}

func TestExtractMetadata_InvalidLanguage(t *testing.T) {
	md, ds := metadataOf(t, metadataOPF(`<dc:language>en</dc:language><dc:language>not a tag!</dc:language>`))
	if want := []string{"en", "not a tag!"}; !reflect.DeepEqual(md.Language, want) {
		t.Errorf("Language = %v, want %v", md.Language, want)
	}
	if len(ds) != 1 || ds[0].Severity != diag.Warning ||
		!strings.HasPrefix(ds[0].Message, `invalid language tag "not a tag!"`) {
		t.Errorf("diagnostics = %q", messages(ds))
	}
}

func TestExtractMetadata_Series(t *testing.T) {
	tests := []struct {
		name      string
		inner     string
		wantName  string
		wantIndex string
	}{
		{
			name:      "calibre",
			inner:     `<meta name="calibre:series" content="Saga"/><meta name="calibre:series_index" content="2"/>`,
			wantName:  "Saga",
			wantIndex: "2",
		},
		{
			name: "belongs-to-collection",
			inner: `<meta property="belongs-to-collection" id="c1">Cycle</meta>
    <meta refines="#c1" property="collection-type">series</meta>
    <meta refines="#c1" property="group-position">3</meta>`,
			wantName:  "Cycle",
			wantIndex: "3",
		},
		{
			name: "calibre preferred",
			inner: `<meta property="belongs-to-collection" id="c1">Cycle</meta>
    <meta name="calibre:series" content="Saga"/>`,
			wantName: "Saga",
		},
		{
			name:  "none",
			inner: `<dc:title>T</dc:title>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, _ := metadataOf(t, metadataOPF(tt.inner))
			if md.Series != tt.wantName || md.SeriesIndex != tt.wantIndex {
				t.Errorf("Series = %q, %q; want %q, %q", md.Series, md.SeriesIndex, tt.wantName, tt.wantIndex)
			}
		})
	}
}

func TestPublication_Metadata(t *testing.T) {
	files := minimalEPubFiles()
	files["OEBPS/content.opf"] = strings.Replace(testMetadataOPFv3,
		`<item id="chap1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>`,
		`<item id="chap1" href="text/c1.xhtml" media-type="application/xhtml+xml"/>`, 1)
	res := parseTestEPub(t, files)
	if !res.OK {
		t.Fatalf("parse failed: %q", messages(res.Diagnostics))
	}
	md := res.Value.Package.Metadata
	if len(md.Titles) == 0 || md.Titles[0] != "Main Title" {
		t.Errorf("Titles = %v", md.Titles)
	}
	if len(md.Authors) != 2 {
		t.Errorf("Authors = %+v", md.Authors)
	}
}
