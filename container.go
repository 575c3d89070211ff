package epub

import (
	"context"
	"slices"
	"strings"

	"github.com/simp-lee/epubmodel/diag"
	"github.com/simp-lee/epubmodel/markup"
	"github.com/simp-lee/epubmodel/schema"
)

const (
	containerNamespace = "urn:oasis:names:tc:opendocument:xmlns:container"
	packageMediaType   = "application/oebps-package+xml"

	// expectedMimetype is the required content of the "mimetype" file.
	expectedMimetype = "application/epub+zip"
)

var rootfileSchema = schema.Object(
	schema.Field("@full-path", schema.String()),
	schema.Field("@media-type", schema.String()),
).Extra(schema.KeyPrefix("@"))

var containerSchema = schema.Object(
	schema.Field("@version", schema.String()),
	schema.OptionalField("@xmlns", schema.String()),
	schema.Field("rootfiles", schema.Array(schema.Object(
		schema.Field("rootfile", schema.Array(rootfileSchema, 1, -1)),
	).Extra(schema.KeyPrefix("@")), 1, 1)),
	schema.OptionalField("links", schema.Array(schema.Any(), 0, 1)),
).Extra(schema.KeyPrefix("@"))

// checkMimetype verifies the mimetype file. Problems are warnings; readers
// in the wild accept publications with a broken mimetype.
func (p *parser) checkMimetype(ctx context.Context, dc *diag.Context) {
	d := p.loader.mimetype(ctx, dc)
	if !d.ok {
		dc.Warn("mimetype file is missing")
		return
	}
	if d.text != expectedMimetype {
		dc.Warnf("mimetype should be %q, got: %q", expectedMimetype, d.text)
	}
	if f, ok := p.src.(interface{ FirstEntry() string }); ok {
		if first := f.FirstEntry(); first != "" && first != mimetypePath {
			dc.Warnf("mimetype should be the first entry in the archive, got: %q", first)
		}
	}
}

// resolveContainer decodes container.xml and returns it together with the
// package document path. A default container is synthesized when
// container.xml is missing, unparsable or declares no rootfile.
func (p *parser) resolveContainer(ctx context.Context, dc *diag.Context) (Container, string) {
	d := p.loader.container(ctx, dc)
	if !d.ok {
		c := p.defaultContainer(dc)
		return c, c.RootFiles[0].FullPath
	}

	c := decodeContainer(d.root, dc)
	if len(c.RootFiles) == 0 {
		dc.Error("container declares no rootfiles")
		def := p.defaultContainer(dc)
		c.RootFiles = def.RootFiles
		c.Synthesized = true
	}
	return c, packagePath(c)
}

// decodeContainer converts a parsed container.xml. Deviations from the OCF
// container format are reported as warnings.
func decodeContainer(root *markup.Node, dc *diag.Context) Container {
	for _, v := range schema.Validate(root.Loose(), containerSchema) {
		dc.Warn("container.xml: " + v)
	}

	c := Container{Version: root.AttrValue("version")}
	if root.Name != "container" {
		dc.Warnf("container root element should be \"container\", got: %q", root.Name)
	}
	if c.Version != "1.0" {
		dc.Warnf("container version should be 1.0, got: %s", c.Version)
	}
	if ns := root.AttrValue("xmlns"); ns != containerNamespace {
		dc.Warnf("container xmlns should be %q, got: %q", containerNamespace, ns)
	}

	for _, rf := range root.FindAll("rootfile") {
		fullPath := strings.TrimSpace(rf.AttrValue("full-path"))
		if fullPath == "" {
			dc.Error("rootfile is missing full-path")
			continue
		}
		mediaType := strings.TrimSpace(rf.AttrValue("media-type"))
		if !strings.EqualFold(mediaType, packageMediaType) {
			dc.Warnf("rootfile %s has media-type %q, expected %q", fullPath, mediaType, packageMediaType)
		}
		c.RootFiles = append(c.RootFiles, RootFile{FullPath: fullPath, MediaType: mediaType})
	}
	return c
}

// packagePath picks the first rootfile with the package media type, else
// the first rootfile.
func packagePath(c Container) string {
	for _, rf := range c.RootFiles {
		if strings.EqualFold(rf.MediaType, packageMediaType) {
			return rf.FullPath
		}
	}
	return c.RootFiles[0].FullPath
}

// defaultContainer assumes the conventional rootfile. When the source can
// list its files and the conventional path is absent, the first .opf file
// found is used instead.
func (p *parser) defaultContainer(dc *diag.Context) Container {
	target := p.opts.defaultRootfile
	if g, ok := p.src.(Globber); ok {
		found := g.Glob("**/*.{opf,OPF}")
		hasDefault := slices.ContainsFunc(found, func(f string) bool {
			return strings.EqualFold(f, target)
		})
		if len(found) > 0 && !hasDefault {
			target = found[0]
		}
	}
	dc.With(diag.Warning, "container.xml is unusable, assuming rootfile "+target,
		map[string]string{"path": target})
	return Container{
		Version:     "1.0",
		RootFiles:   []RootFile{{FullPath: target, MediaType: packageMediaType}},
		Synthesized: true,
	}
}
