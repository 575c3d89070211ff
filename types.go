package epub

import (
	"slices"
	"strings"
)

// Container is the decoded META-INF/container.xml.
type Container struct {
	// Version is the container version attribute (normally "1.0").
	Version string

	// RootFiles lists the declared package documents in document order.
	RootFiles []RootFile

	// Synthesized is true when container.xml was missing or unusable and a
	// default container was assumed.
	Synthesized bool
}

// RootFile is a single <rootfile> entry.
type RootFile struct {
	FullPath  string
	MediaType string
}

// PackageDocument is the decoded OPF package document.
type PackageDocument struct {
	// Version is the package version attribute, "2.0" or "3.0". It defaults
	// to "2.0" when missing.
	Version string

	// UniqueIdentifier is the id of the dc:identifier that identifies the
	// publication.
	UniqueIdentifier string

	// Lang and Dir are the package-level xml:lang and dir attributes.
	Lang string
	Dir  string

	Metadata    Metadata
	Manifest    []ManifestItem
	Spine       Spine
	Guide       []GuideReference
	Collections []Collection
}

// ManifestItem is an <item> in the package manifest.
type ManifestItem struct {
	ID        string
	Href      string
	MediaType string

	// Properties holds the space-separated EPUB 3 properties
	// (e.g. "nav", "cover-image").
	Properties []string

	Fallback     string
	MediaOverlay string
}

// HasProperty reports whether the item declares property p.
func (m ManifestItem) HasProperty(p string) bool {
	return slices.Contains(m.Properties, p)
}

// Spine is the package reading order.
type Spine struct {
	// Toc is the manifest id of the NCX document (EPUB 2).
	Toc string

	// PageProgressionDirection is "ltr", "rtl", "default" or "".
	PageProgressionDirection string

	ItemRefs []SpineItemRef
}

// SpineItemRef is an <itemref> in the spine.
type SpineItemRef struct {
	IDRef string
	ID    string

	// Linear is false only for linear="no".
	Linear bool

	Properties []string
}

// SpineItem is a spine entry resolved against the manifest.
type SpineItem struct {
	Ref  SpineItemRef
	Item ManifestItem

	// Path is the item's archive path.
	Path string
}

// GuideReference is an EPUB 2 <guide> reference.
type GuideReference struct {
	Type  string
	Title string
	Href  string
}

// Collection is an EPUB 3 <collection>. Collections nest.
type Collection struct {
	Role        string
	Links       []string
	Collections []Collection
}

// Metadata holds the Dublin Core and other metadata extracted from the
// package document.
type Metadata struct {
	// Titles contains all dc:title values, ordered by display-seq when
	// present. The first entry is the primary title.
	Titles []string

	// Authors contains all dc:creator entries with their roles and file-as values.
	Authors []Author

	// Contributors contains the dc:contributor entries.
	Contributors []Author

	// Language contains all dc:language values (BCP 47 tags, e.g., "en", "zh-CN").
	Language []string

	// Identifiers contains all dc:identifier entries (ISBN, UUID, URI, etc.).
	Identifiers []Identifier

	Publisher string
	Date      string

	// Description is the dc:description value reduced to plain text.
	Description string

	Subjects []string
	Rights   string
	Source   string

	// Series and SeriesIndex come from calibre metadata or an EPUB 3
	// belongs-to-collection property.
	Series      string
	SeriesIndex string

	// Metas holds every <meta> element in document order.
	Metas []Meta
}

// Author is a dc:creator or dc:contributor entry.
type Author struct {
	Name   string
	FileAs string
	Role   string
}

// Identifier is a dc:identifier entry.
type Identifier struct {
	Value  string
	Scheme string
	ID     string
}

// Meta is an OPF <meta> element. EPUB 2 uses Name and Content; EPUB 3 uses
// Property, Refines and the element text in Value.
type Meta struct {
	Name    string
	Content string

	Property string
	Refines  string
	Scheme   string
	ID       string
	Value    string
}

// Toc is the flat, leveled table of contents. Items appear in pre-order and
// Level is the zero-based nesting depth.
type Toc struct {
	Title string
	Items []TocItem
}

// TocItem is a single table of contents entry.
type TocItem struct {
	Label string
	Href  string
	Level int
}

// TOCKind identifies which navigation document a Toc was built from.
type TOCKind string

const (
	TOCNone TOCKind = ""
	TOCNav  TOCKind = "nav"
	TOCNCX  TOCKind = "ncx"
)

// TOCSource describes the navigation document selected by the resolver.
type TOCSource struct {
	Kind TOCKind
	Item ManifestItem
	Path string
}

// isImageMediaType returns true if the media type starts with "image/".
func isImageMediaType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// containsFold reports whether s contains substr, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
