package epub

import (
	"slices"
	"strings"

	"github.com/simp-lee/epubmodel/diag"
	"github.com/simp-lee/epubmodel/markup"
	"github.com/simp-lee/epubmodel/schema"
)

// NCX is a decoded EPUB 2 navigation control file.
type NCX struct {
	Title    string
	NavMap   []NavPoint
	PageList []PageTarget
}

// NavPoint is a <navPoint>. Children nest.
type NavPoint struct {
	ID        string
	PlayOrder string
	Label     string
	Src       string
	Children  []NavPoint
}

// PageTarget is a <pageTarget> in the NCX page list.
type PageTarget struct {
	ID    string
	Type  string
	Value string
	Label string
	Src   string
}

// NavDocument is a decoded EPUB 3 navigation document.
type NavDocument struct {
	// TOC is the <nav> whose epub:type contains "toc", else the first <nav>.
	TOC *Nav

	// Landmarks and PageList are the landmarks and page-list navs, if any.
	Landmarks *Nav
	PageList  *Nav
}

// Nav is a single <nav> element.
type Nav struct {
	// Type is the epub:type attribute.
	Type  string
	Title string
	Items []NavItem
}

// NavItem is an <li> of a nav list. HasAnchor is false for entries that
// only carry a <span> heading.
type NavItem struct {
	Label     string
	Href      string
	HasAnchor bool
	Children  []NavItem
}

// attrOrText accepts attributes and character data as undeclared keys.
func attrOrText(key string) bool {
	return strings.HasPrefix(key, "@") || key == markup.TextName
}

var ncxLabelSchema = schema.Object(
	schema.Field("text", schema.Array(schema.Any(), 1, -1)),
).Extra(schema.AnyKey)

var ncxContentSchema = schema.Object(
	schema.Field("@src", schema.String()),
).Extra(attrs)

var navPointSchema = schema.Recursive("navPoint", func(self schema.Schema) schema.Schema {
	return schema.Object(
		schema.Field("navLabel", schema.Array(ncxLabelSchema, 1, -1)),
		schema.Field("content", schema.Array(ncxContentSchema, 1, 1)),
		schema.OptionalField("navPoint", schema.Array(self, 0, -1)),
	).Extra(attrOrText)
})

var pageTargetSchema = schema.Object(
	schema.Field("navLabel", schema.Array(ncxLabelSchema, 1, -1)),
	schema.Field("content", schema.Array(ncxContentSchema, 1, 1)),
).Extra(attrOrText)

var ncxSchema = schema.Object(
	schema.OptionalField("head", schema.Array(schema.Any(), 0, 1)),
	schema.OptionalField("docTitle", schema.Array(ncxLabelSchema, 0, 1)),
	schema.OptionalField("docAuthor", schema.Array(schema.Any(), 0, -1)),
	schema.OptionalField("navMap", schema.Array(schema.Object(
		schema.OptionalField("navPoint", schema.Array(navPointSchema, 0, -1)),
	).Extra(schema.AnyKey), 1, 1)),
	schema.OptionalField("pageList", schema.Array(schema.Object(
		schema.OptionalField("pageTarget", schema.Array(pageTargetSchema, 0, -1)),
	).Extra(schema.AnyKey), 0, 1)),
	schema.OptionalField("navList", schema.Array(schema.Any(), 0, -1)),
).Extra(attrs)

var ncxNavigationPresent = schema.Custom("navMap or pageList", func(v any) []string {
	m, _ := v.(map[string]any)
	if m["navMap"] == nil && m["pageList"] == nil {
		return []string{"expected navMap or pageList"}
	}
	return nil
})

var navAnchorSchema = schema.Object(
	schema.Field("@href", schema.String()),
).Extra(schema.AnyKey)

var navListSchema = schema.Recursive("ol", func(self schema.Schema) schema.Schema {
	shape := schema.Object(
		schema.OptionalField("a", schema.Array(navAnchorSchema, 1, 1)),
		schema.OptionalField("span", schema.Array(schema.Any(), 1, 1)),
		schema.OptionalField("ol", schema.Array(self, 1, 1)),
	).Extra(attrOrText)
	li := schema.Custom("li", func(v any) []string {
		out := schema.Validate(v, shape)
		if m, ok := v.(map[string]any); ok && m["a"] == nil && m["span"] == nil {
			out = append(out, "expected a or span")
		}
		return out
	})
	return schema.Object(
		schema.Field("li", schema.Array(li, 1, -1)),
	).Extra(attrOrText)
})

var navSchema = schema.Object(
	schema.Field("ol", schema.Array(navListSchema, 1, 1)),
).Extra(schema.AnyKey)

// DecodeNCX validates and decodes a parsed NCX document. The returned
// violations are always reported; in Strict mode a non-conforming document
// is withheld and the returned *NCX is nil.
func DecodeNCX(root *markup.Node, mode TOCMode) (*NCX, []string) {
	if root == nil {
		return nil, []string{"no document"}
	}
	var violations []string
	if root.Name != "ncx" {
		violations = append(violations, `expected root element "ncx", got: "`+root.Name+`"`)
	}
	loose := root.Loose()
	violations = append(violations, schema.Validate(loose, ncxSchema)...)
	violations = append(violations, schema.Validate(loose, ncxNavigationPresent)...)
	if mode == Strict && len(violations) > 0 {
		return nil, violations
	}

	ncx := &NCX{
		Title: collapse(root.Child("docTitle").Child("text").TextContent()),
	}
	ncx.NavMap = decodeNavPoints(root.Child("navMap"))
	for _, pt := range root.Child("pageList").ChildrenNamed("pageTarget") {
		ncx.PageList = append(ncx.PageList, PageTarget{
			ID:    pt.AttrValue("id"),
			Type:  pt.AttrValue("type"),
			Value: pt.AttrValue("value"),
			Label: ncxLabel(pt),
			Src:   strings.TrimSpace(pt.Child("content").AttrValue("src")),
		})
	}
	return ncx, violations
}

func decodeNavPoints(parent *markup.Node) []NavPoint {
	var out []NavPoint
	for _, np := range parent.ChildrenNamed("navPoint") {
		out = append(out, NavPoint{
			ID:        np.AttrValue("id"),
			PlayOrder: np.AttrValue("playOrder"),
			Label:     ncxLabel(np),
			Src:       strings.TrimSpace(np.Child("content").AttrValue("src")),
			Children:  decodeNavPoints(np),
		})
	}
	return out
}

func ncxLabel(n *markup.Node) string {
	return collapse(n.Child("navLabel").Child("text").TextContent())
}

// DecodeNav validates and decodes a parsed navigation document. Only the
// table of contents nav is validated. In Strict mode a non-conforming
// document is withheld and the returned *NavDocument is nil.
func DecodeNav(root *markup.Node, mode TOCMode) (*NavDocument, []string) {
	if root == nil {
		return nil, []string{"no document"}
	}
	navs := root.FindAll("nav")
	if len(navs) == 0 {
		return nil, []string{"no nav element"}
	}

	doc := &NavDocument{}
	var tocNode *markup.Node
	for _, n := range navs {
		types := strings.Fields(n.AttrValue("epub:type"))
		switch {
		case doc.TOC == nil && slices.Contains(types, "toc"):
			doc.TOC, tocNode = decodeNav(n), n
		case doc.Landmarks == nil && slices.Contains(types, "landmarks"):
			doc.Landmarks = decodeNav(n)
		case doc.PageList == nil && slices.Contains(types, "page-list"):
			doc.PageList = decodeNav(n)
		}
	}
	if tocNode == nil {
		tocNode = navs[0]
		doc.TOC = decodeNav(tocNode)
	}

	var violations []string
	for _, v := range schema.Validate(tocNode.Loose(), navSchema) {
		violations = append(violations, "nav: "+v)
	}
	if mode == Strict && len(violations) > 0 {
		return nil, violations
	}
	return doc, violations
}

func decodeNav(n *markup.Node) *Nav {
	nav := &Nav{Type: n.AttrValue("epub:type")}
	for _, h := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		if el := n.Child(h); el != nil {
			nav.Title = collapse(el.TextContent())
			break
		}
	}
	ol := n.Child("ol")
	if ol == nil {
		ol = n.Find("ol")
	}
	nav.Items = decodeNavList(ol)
	return nav
}

func decodeNavList(ol *markup.Node) []NavItem {
	var out []NavItem
	for _, li := range ol.ChildrenNamed("li") {
		var item NavItem
		if a := li.Child("a"); a != nil {
			item.Label = collapse(a.TextContent())
			item.Href = strings.TrimSpace(a.AttrValue("href"))
			item.HasAnchor = true
		} else if span := li.Child("span"); span != nil {
			item.Label = collapse(span.TextContent())
		}
		item.Children = decodeNavList(li.Child("ol"))
		out = append(out, item)
	}
	return out
}

// TOCFromNCX flattens an NCX into a leveled table of contents. The navMap
// is preferred; when it has no entries the page list is used at level 0.
// Entries without a label or content src are skipped with a warning; their
// children are still visited.
func TOCFromNCX(ncx *NCX, dc *diag.Context) Toc {
	if ncx == nil {
		return Toc{}
	}
	t := Toc{Title: ncx.Title}
	if len(ncx.NavMap) > 0 {
		flattenNavPoints(ncx.NavMap, 0, &t.Items, dc)
		return t
	}
	for _, pt := range ncx.PageList {
		if pt.Label == "" || pt.Src == "" {
			dc.With(diag.Warning, "pageTarget is missing a label or content src", map[string]string{"id": pt.ID})
			continue
		}
		t.Items = append(t.Items, TocItem{Label: pt.Label, Href: pt.Src, Level: 0})
	}
	return t
}

func flattenNavPoints(points []NavPoint, level int, out *[]TocItem, dc *diag.Context) {
	for _, np := range points {
		switch {
		case np.Label == "":
			dc.With(diag.Warning, "navPoint is missing a label", map[string]string{"id": np.ID})
		case np.Src == "":
			dc.With(diag.Warning, "navPoint is missing a content src", map[string]string{"id": np.ID})
		default:
			*out = append(*out, TocItem{Label: np.Label, Href: np.Src, Level: level})
		}
		flattenNavPoints(np.Children, level+1, out, dc)
	}
}

// TOCFromNav flattens a nav into a leveled table of contents. Items without
// an anchor are skipped with a warning; their children are still visited.
func TOCFromNav(nav *Nav, dc *diag.Context) Toc {
	if nav == nil {
		return Toc{}
	}
	t := Toc{Title: nav.Title}
	flattenNavItems(nav.Items, 0, &t.Items, dc)
	return t
}

func flattenNavItems(items []NavItem, level int, out *[]TocItem, dc *diag.Context) {
	for _, it := range items {
		if it.HasAnchor {
			*out = append(*out, TocItem{Label: it.Label, Href: it.Href, Level: level})
		} else {
			dc.With(diag.Warning, "nav li has no anchor", map[string]string{"label": it.Label})
		}
		flattenNavItems(it.Children, level+1, out, dc)
	}
}

// resolveAgainst returns a copy of t with every href resolved relative to
// the archive path of the navigation document it came from.
func (t Toc) resolveAgainst(docPath string) Toc {
	out := Toc{Title: t.Title, Items: make([]TocItem, len(t.Items))}
	for i, it := range t.Items {
		it.Href = resolveHref(docPath, it.Href)
		out.Items[i] = it
	}
	return out
}

// collapse trims s and folds internal runs of whitespace to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
