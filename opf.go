package epub

import (
	"fmt"
	"strings"

	"github.com/simp-lee/epubmodel/diag"
	"github.com/simp-lee/epubmodel/markup"
	"github.com/simp-lee/epubmodel/schema"
)

var attrs = schema.KeyPrefix("@")

var manifestItemSchema = schema.Object(
	schema.Field("@id", schema.String()),
	schema.Field("@href", schema.String()),
	schema.Field("@media-type", schema.String()),
).Extra(attrs)

var itemrefSchema = schema.Object(
	schema.Field("@idref", schema.String()),
	schema.OptionalField("@linear", schema.Literal("yes", "no")),
).Extra(attrs)

// uniqueIdentifierRef checks that @unique-identifier names a dc:identifier.
var uniqueIdentifierRef = schema.Custom("unique-identifier reference", func(v any) []string {
	pkg, _ := v.(map[string]any)
	uid, _ := pkg["@unique-identifier"].(string)
	if uid == "" {
		return nil
	}
	mds, _ := pkg["metadata"].([]any)
	for _, md := range mds {
		m, _ := md.(map[string]any)
		idents, _ := m["identifier"].([]any)
		for _, ident := range idents {
			im, _ := ident.(map[string]any)
			if id, _ := im["@id"].(string); id == uid {
				return nil
			}
		}
	}
	return []string{fmt.Sprintf("unique-identifier %q does not match any dc:identifier id", uid)}
})

var packageSchema = schema.Object(
	schema.Field("@version", schema.Literal("2.0", "3.0")),
	schema.Field("@unique-identifier", schema.String()),
	schema.Field("metadata", schema.Array(schema.Object(
		schema.Field("identifier", schema.Array(schema.Any(), 1, -1)),
		schema.Field("title", schema.Array(schema.Any(), 1, -1)),
		schema.Field("language", schema.Array(schema.Any(), 1, -1)),
	).Extra(schema.AnyKey), 1, 1)),
	schema.Field("manifest", schema.Array(schema.Object(
		schema.Field("item", schema.Array(manifestItemSchema, 1, -1)),
	).Extra(attrs), 1, 1)),
	schema.Field("spine", schema.Array(schema.Object(
		schema.OptionalField("@toc", schema.String()),
		schema.OptionalField("@page-progression-direction", schema.Literal("ltr", "rtl", "default")),
		schema.Field("itemref", schema.Array(itemrefSchema, 1, -1)),
	).Extra(attrs), 1, 1)),
	schema.OptionalField("guide", schema.Array(schema.Any(), 0, 1)),
	schema.OptionalField("bindings", schema.Array(schema.Any(), 0, 1)),
	schema.OptionalField("collection", schema.Array(schema.Any(), 0, -1)),
).Extra(attrs)

// decodePackage converts a parsed package document. It never fails: schema
// violations are reported as warnings and the document is decoded
// permissively, skipping entries that cannot be used.
func decodePackage(root *markup.Node, dc *diag.Context) *PackageDocument {
	sc := dc.Scope("schema")
	if root.Name != "package" {
		sc.Warnf("package root element should be \"package\", got: %q", root.Name)
	}
	loose := root.Loose()
	violations := schema.Validate(loose, packageSchema)
	violations = append(violations, schema.Validate(loose, uniqueIdentifierRef)...)
	for _, v := range violations {
		sc.Warn("package document: " + v)
	}

	pkg := &PackageDocument{
		Version:          strings.TrimSpace(root.AttrValue("version")),
		UniqueIdentifier: strings.TrimSpace(root.AttrValue("unique-identifier")),
		Lang:             root.AttrValue("xml:lang"),
		Dir:              root.AttrValue("dir"),
	}
	if pkg.Version == "" {
		// Default to 2.0 if version attribute is missing.
		pkg.Version = "2.0"
	}

	md := root.Child("metadata")
	if md == nil {
		dc.Error("package document has no metadata")
	}
	pkg.Metadata = extractMetadata(md, dc.Scope("metadata"))

	pkg.Manifest = decodeManifest(root.Child("manifest"), dc)
	pkg.Spine = decodeSpine(root.Child("spine"), dc)
	pkg.Guide = decodeGuide(root.Child("guide"))
	for _, c := range root.ChildrenNamed("collection") {
		pkg.Collections = append(pkg.Collections, decodeCollection(c))
	}
	return pkg
}

func decodeManifest(n *markup.Node, dc *diag.Context) []ManifestItem {
	if n == nil {
		dc.Error("package document has no manifest")
		return nil
	}
	seen := make(map[string]bool)
	var items []ManifestItem
	for _, el := range n.ChildrenNamed("item") {
		item := ManifestItem{
			ID:           strings.TrimSpace(el.AttrValue("id")),
			Href:         strings.TrimSpace(el.AttrValue("href")),
			MediaType:    strings.TrimSpace(el.AttrValue("media-type")),
			Properties:   splitProperties(el.AttrValue("properties")),
			Fallback:     strings.TrimSpace(el.AttrValue("fallback")),
			MediaOverlay: strings.TrimSpace(el.AttrValue("media-overlay")),
		}
		switch {
		case item.ID == "":
			dc.Errorf("manifest item is missing an id (href %q)", item.Href)
			continue
		case item.Href == "":
			dc.Errorf("manifest item %q is missing an href", item.ID)
			continue
		case seen[item.ID]:
			dc.With(diag.Error, "duplicate manifest item id", map[string]string{"id": item.ID, "href": item.Href})
			continue
		}
		seen[item.ID] = true
		items = append(items, item)
	}
	if len(items) == 0 {
		dc.Error("manifest is empty")
	}
	return items
}

func decodeSpine(n *markup.Node, dc *diag.Context) Spine {
	if n == nil {
		dc.Error("package document has no spine")
		return Spine{}
	}
	s := Spine{
		Toc:                      strings.TrimSpace(n.AttrValue("toc")),
		PageProgressionDirection: strings.TrimSpace(n.AttrValue("page-progression-direction")),
	}
	for _, el := range n.ChildrenNamed("itemref") {
		s.ItemRefs = append(s.ItemRefs, SpineItemRef{
			IDRef:      strings.TrimSpace(el.AttrValue("idref")),
			ID:         el.AttrValue("id"),
			Linear:     strings.TrimSpace(el.AttrValue("linear")) != "no",
			Properties: splitProperties(el.AttrValue("properties")),
		})
	}
	if len(s.ItemRefs) == 0 {
		dc.Error("spine is empty")
	}
	return s
}

func decodeGuide(n *markup.Node) []GuideReference {
	var refs []GuideReference
	for _, r := range n.ChildrenNamed("reference") {
		refs = append(refs, GuideReference{
			Type:  r.AttrValue("type"),
			Title: r.AttrValue("title"),
			Href:  r.AttrValue("href"),
		})
	}
	return refs
}

func decodeCollection(n *markup.Node) Collection {
	c := Collection{Role: n.AttrValue("role")}
	for _, l := range n.ChildrenNamed("link") {
		if href := strings.TrimSpace(l.AttrValue("href")); href != "" {
			c.Links = append(c.Links, href)
		}
	}
	for _, sub := range n.ChildrenNamed("collection") {
		c.Collections = append(c.Collections, decodeCollection(sub))
	}
	return c
}

// splitProperties splits a space-separated properties attribute. An empty
// attribute yields nil.
func splitProperties(s string) []string {
	if f := strings.Fields(s); len(f) > 0 {
		return f
	}
	return nil
}
