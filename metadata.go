package epub

import (
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"

	"github.com/simp-lee/epubmodel/diag"
	"github.com/simp-lee/epubmodel/markup"
)

// descriptionPolicy strips all markup from dc:description, which publishers
// frequently fill with escaped HTML.
var descriptionPolicy = bluemonday.StrictPolicy()

// dcElement is a Dublin Core element with the attributes EPUB 2 puts on it
// directly. EPUB 3 expresses the same information with refining metas.
type dcElement struct {
	value  string
	id     string
	fileAs string
	role   string
	scheme string
}

func dcElements(md *markup.Node, name string) []dcElement {
	var out []dcElement
	for _, n := range md.ChildrenNamed(name) {
		out = append(out, dcElement{
			value:  strings.TrimSpace(n.TextContent()),
			id:     n.AttrValue("id"),
			fileAs: opfAttr(n, "file-as"),
			role:   opfAttr(n, "role"),
			scheme: opfAttr(n, "scheme"),
		})
	}
	return out
}

// opfAttr reads an EPUB 2 opf: attribute, accepting it without the prefix
// as many producers forget to declare the namespace.
func opfAttr(n *markup.Node, name string) string {
	if v, ok := n.Attr("opf:" + name); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(n.AttrValue(name))
}

// extractMetadata converts the <metadata> element into the public Metadata
// struct. md may be nil.
func extractMetadata(md *markup.Node, dc *diag.Context) Metadata {
	var out Metadata
	if md == nil {
		return out
	}

	for _, n := range md.ChildrenNamed("meta") {
		out.Metas = append(out.Metas, Meta{
			Name:     n.AttrValue("name"),
			Content:  n.AttrValue("content"),
			Property: n.AttrValue("property"),
			Refines:  n.AttrValue("refines"),
			Scheme:   n.AttrValue("scheme"),
			ID:       n.AttrValue("id"),
			Value:    strings.TrimSpace(n.TextContent()),
		})
	}
	// Build a refines lookup for ePub 3: "id" → []Meta.
	refinesMap := buildRefinesMap(out.Metas)

	out.Titles = extractTitles(dcElements(md, "title"), refinesMap)
	out.Authors = extractAuthors(dcElements(md, "creator"), refinesMap)
	out.Contributors = extractAuthors(dcElements(md, "contributor"), refinesMap)

	for _, l := range dcElements(md, "language") {
		if l.value == "" {
			continue
		}
		if _, err := language.Parse(l.value); err != nil {
			dc.Warnf("invalid language tag %q: %v", l.value, err)
		}
		out.Language = append(out.Language, l.value)
	}

	for _, id := range dcElements(md, "identifier") {
		if id.value == "" {
			continue
		}
		ident := Identifier{Value: id.value, Scheme: id.scheme, ID: id.id}
		if ident.Scheme == "" && id.id != "" {
			if s, ok := findRefine(refinesMap, id.id, "identifier-type"); ok {
				ident.Scheme = s
			}
		}
		out.Identifiers = append(out.Identifiers, ident)
	}

	out.Publisher = firstValue(dcElements(md, "publisher"))
	out.Date = firstValue(dcElements(md, "date"))
	out.Rights = firstValue(dcElements(md, "rights"))
	out.Source = firstValue(dcElements(md, "source"))
	if d := firstValue(dcElements(md, "description")); d != "" {
		out.Description = plainText(d)
	}
	for _, s := range dcElements(md, "subject") {
		if s.value != "" {
			out.Subjects = append(out.Subjects, s.value)
		}
	}

	out.Series, out.SeriesIndex = extractSeries(out.Metas, refinesMap)
	return out
}

func firstValue(els []dcElement) string {
	for _, e := range els {
		if e.value != "" {
			return e.value
		}
	}
	return ""
}

// plainText reduces an HTML fragment to whitespace-collapsed text.
func plainText(s string) string {
	s = html.UnescapeString(descriptionPolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// buildRefinesMap maps an element id (without "#") to the metas refining it.
func buildRefinesMap(metas []Meta) map[string][]Meta {
	m := make(map[string][]Meta)
	for _, meta := range metas {
		id, ok := strings.CutPrefix(meta.Refines, "#")
		if !ok || id == "" {
			continue
		}
		m[id] = append(m[id], meta)
	}
	return m
}

// findRefine looks up a single refining property value for the given element ID.
func findRefine(refinesMap map[string][]Meta, id, property string) (string, bool) {
	for _, m := range refinesMap[id] {
		if m.Property == property && m.Value != "" {
			return m.Value, true
		}
	}
	return "", false
}

// extractTitles orders titles by display-seq when any title has one.
// Titles without a sequence keep their document order after the rest.
func extractTitles(titles []dcElement, refinesMap map[string][]Meta) []string {
	type titleEntry struct {
		value string
		seq   int
	}

	var entries []titleEntry
	hasSeq := false
	for _, t := range titles {
		if t.value == "" {
			continue
		}
		e := titleEntry{value: t.value}
		if t.id != "" {
			if seqStr, ok := findRefine(refinesMap, t.id, "display-seq"); ok {
				if n, err := strconv.Atoi(seqStr); err == nil && n > 0 {
					e.seq = n
					hasSeq = true
				}
			}
		}
		entries = append(entries, e)
	}

	if hasSeq {
		sort.SliceStable(entries, func(i, j int) bool {
			si, sj := entries[i].seq, entries[j].seq
			switch {
			case si == 0:
				return false
			case sj == 0:
				return true
			default:
				return si < sj
			}
		})
	}

	var result []string
	for _, e := range entries {
		result = append(result, e.value)
	}
	return result
}

// extractAuthors builds authors from creator or contributor elements,
// preferring EPUB 2 attributes over EPUB 3 refines.
func extractAuthors(els []dcElement, refinesMap map[string][]Meta) []Author {
	var authors []Author
	for _, c := range els {
		if c.value == "" {
			continue
		}
		a := Author{Name: c.value, FileAs: c.fileAs, Role: c.role}
		if c.id != "" {
			if a.FileAs == "" {
				a.FileAs, _ = findRefine(refinesMap, c.id, "file-as")
			}
			if a.Role == "" {
				a.Role, _ = findRefine(refinesMap, c.id, "role")
			}
		}
		authors = append(authors, a)
	}
	return authors
}

// extractSeries reads calibre's series metas, falling back to an EPUB 3
// belongs-to-collection with its group-position refinement.
func extractSeries(metas []Meta, refinesMap map[string][]Meta) (name, index string) {
	for _, m := range metas {
		switch m.Name {
		case "calibre:series":
			if name == "" {
				name = strings.TrimSpace(m.Content)
			}
		case "calibre:series_index":
			if index == "" {
				index = strings.TrimSpace(m.Content)
			}
		}
	}
	if name != "" {
		return name, index
	}
	for _, m := range metas {
		if m.Property != "belongs-to-collection" || m.Value == "" || m.Refines != "" {
			continue
		}
		name = m.Value
		if m.ID != "" {
			index, _ = findRefine(refinesMap, m.ID, "group-position")
		}
		return name, index
	}
	return "", ""
}
