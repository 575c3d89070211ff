package epub

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/simp-lee/epubmodel/diag"
)

const ncxMediaType = "application/x-dtbncx+xml"

// Publication is the resolved document graph of an EPUB: its container,
// package document, resolved spine and table of contents. Manifest items
// are fetched on demand with LoadItem, LoadItems and LoadSpine.
//
// A Publication is safe for concurrent use once Parse has returned.
type Publication struct {
	Container   Container
	PackagePath string
	Package     *PackageDocument

	// Spine lists the itemrefs that resolved to a manifest item, in order.
	Spine []SpineItem

	// TOCSource names the navigation document TOC was built from. Its Kind
	// is TOCNone when the publication has no usable navigation document.
	TOCSource TOCSource
	TOC       Toc

	// Landmarks and PageList come from an EPUB 3 navigation document.
	Landmarks Toc
	PageList  Toc

	Encryption Encryption
	MetaInf    MetaInf

	src    Source
	loader *loader
	opts   options
	byID   map[string]int
	byPath map[string]int
	closer io.Closer
}

// MetaInf records which optional META-INF documents were present.
type MetaInf struct {
	Encryption bool
	Manifest   bool
	Metadata   bool
	Rights     bool
	Signatures bool
}

// parser carries the state of a single Parse call.
type parser struct {
	src    Source
	opts   options
	loader *loader
	log    logrus.FieldLogger
}

// Parse resolves the publication served by src. It never fails outright:
// malformed input is reported through the diagnostics of the Result, and
// the Result holds no value only when the package document is missing or
// unparsable.
func Parse(ctx context.Context, src Source, opts ...Option) Result[*Publication] {
	o := buildOptions(opts)
	dc := diag.New("epub")
	if src == nil {
		dc.Critical(ErrNilSource.Error())
		return newResult[*Publication](nil, false, dc)
	}
	p := &parser{src: src, opts: o, loader: newLoader(src, o.logger), log: o.logger}
	pub, ok := p.parse(ctx, dc)
	return newResult(pub, ok, dc)
}

// Open parses the EPUB at name, which may be a zip archive or an unpacked
// publication directory. The caller must call Close on the returned
// Publication when done reading items from it.
//
// An error is returned only when name cannot be opened or is neither a
// directory nor a zip archive.
func Open(ctx context.Context, name string, opts ...Option) (Result[*Publication], error) {
	fi, err := os.Stat(name)
	if err != nil {
		return Result[*Publication]{}, fmt.Errorf("epub: open %s: %w", name, err)
	}
	o := buildOptions(opts)
	if fi.IsDir() {
		src := NewFSSource(afero.NewBasePathFs(afero.NewOsFs(), name))
		src.limit = o.maxEntrySize
		return Parse(ctx, src, opts...), nil
	}

	zrc, err := zip.OpenReader(name)
	if err != nil {
		return Result[*Publication]{}, fmt.Errorf("epub: open %s: %w (%v)", name, ErrNotZip, err)
	}
	res := Parse(ctx, newZipSource(&zrc.Reader, o.maxEntrySize), opts...)
	if !res.OK {
		zrc.Close()
		return res, nil
	}
	res.Value.closer = zrc
	return res, nil
}

// NewReader parses an EPUB zip archive read from r. The caller is
// responsible for the lifetime of r.
func NewReader(ctx context.Context, r io.ReaderAt, size int64, opts ...Option) (Result[*Publication], error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Result[*Publication]{}, fmt.Errorf("epub: open zip: %w (%v)", ErrNotZip, err)
	}
	o := buildOptions(opts)
	return Parse(ctx, newZipSource(zr, o.maxEntrySize), opts...), nil
}

// Close releases the archive opened by Open. Close is idempotent.
func (p *Publication) Close() error {
	if p.closer != nil {
		err := p.closer.Close()
		p.closer = nil
		return err
	}
	return nil
}

func (p *parser) parse(ctx context.Context, dc *diag.Context) (*Publication, bool) {
	if err := ctx.Err(); err != nil {
		dc.Critical("parse canceled: " + err.Error())
		return nil, false
	}

	p.checkMimetype(ctx, dc.Scope("mimetype"))
	container, pkgPath := p.resolveContainer(ctx, dc.Scope("container"))
	p.log.WithField("path", pkgPath).Debug("package document located")

	psc := dc.Scope("package")
	d := p.loader.packageDoc(ctx, pkgPath, psc)
	if !d.ok {
		if d.found {
			psc.With(diag.Critical, "package document could not be parsed: "+pkgPath,
				map[string]string{"path": pkgPath})
		}
		return nil, false
	}

	pub := &Publication{
		Container:   container,
		PackagePath: pkgPath,
		Package:     decodePackage(d.root, psc),
		src:         p.src,
		loader:      p.loader,
		opts:        p.opts,
	}
	pub.index()
	pub.Spine = pub.resolveSpine(dc.Scope("spine"))

	p.loadMetaInf(ctx, pub, dc.Scope("meta-inf"))
	if err := ctx.Err(); err != nil {
		dc.Critical("parse canceled: " + err.Error())
		return nil, false
	}
	p.resolveTOC(ctx, pub, dc.Scope("toc"))
	return pub, true
}

func (p *Publication) index() {
	p.byID = make(map[string]int, len(p.Package.Manifest))
	p.byPath = make(map[string]int, len(p.Package.Manifest))
	for i, item := range p.Package.Manifest {
		p.byID[item.ID] = i
		if path := p.ResolvePath(item.Href); path != "" {
			if _, exists := p.byPath[path]; !exists {
				p.byPath[path] = i
			}
		}
	}
}

// Item returns the manifest item with the given id.
func (p *Publication) Item(id string) (ManifestItem, bool) {
	i, ok := p.byID[id]
	if !ok {
		return ManifestItem{}, false
	}
	return p.Package.Manifest[i], true
}

// ItemByPath returns the manifest item stored at archive path.
func (p *Publication) ItemByPath(path string) (ManifestItem, bool) {
	i, ok := p.byPath[path]
	if !ok {
		return ManifestItem{}, false
	}
	return p.Package.Manifest[i], true
}

// ResolvePath resolves an href from the package document into an archive
// path. It returns "" for hrefs that escape the container.
func (p *Publication) ResolvePath(href string) string {
	return resolveRelativePath(p.PackagePath, href)
}

func (p *Publication) resolveSpine(dc *diag.Context) []SpineItem {
	var out []SpineItem
	for _, ref := range p.Package.Spine.ItemRefs {
		item, ok := p.Item(ref.IDRef)
		if !ok {
			dc.With(diag.Error, "spine item is not in manifest", map[string]string{"idref": ref.IDRef})
			continue
		}
		out = append(out, SpineItem{Ref: ref, Item: item, Path: p.ResolvePath(item.Href)})
	}
	return out
}

// loadMetaInf fetches the optional META-INF documents in parallel. Each
// fetch gets its own scope, created before any fetch starts.
func (p *parser) loadMetaInf(ctx context.Context, pub *Publication, dc *diag.Context) {
	kinds := []docKind{docEncryption, docManifest, docMetadata, docRights, docSignatures}
	scopes := make([]*diag.Context, len(kinds))
	for i, k := range kinds {
		scopes[i] = dc.Scope(string(k))
	}
	docs := make([]*rawDoc, len(kinds))
	var g errgroup.Group
	for i, k := range kinds {
		g.Go(func() error {
			docs[i] = p.loader.optional(ctx, k, scopes[i])
			return nil
		})
	}
	_ = g.Wait()

	pub.MetaInf = MetaInf{
		Encryption: docs[0].found,
		Manifest:   docs[1].found,
		Metadata:   docs[2].found,
		Rights:     docs[3].found,
		Signatures: docs[4].found,
	}

	var (
		enc    Encryption
		scheme string
	)
	switch encDoc := docs[0]; {
	case encDoc.ok:
		enc = decodeEncryption(encDoc.root)
		scheme = drmScheme(encDoc.root)
	case encDoc.found:
		// Treat an unreadable descriptor conservatively.
		enc.DRM = true
	}
	if _, ok := p.src.ReadBinary(ctx, sinfPath, scopes[0]); ok {
		enc.DRM = true
		scheme = "apple-fairplay"
	}
	reportEncryption(enc, scheme, scopes[0])
	pub.Encryption = enc
}

// resolveTOC selects the navigation document and builds the table of
// contents. EPUB 3 nav documents are preferred over the NCX; when the nav
// document is unusable the NCX is tried as well.
func (p *parser) resolveTOC(ctx context.Context, pub *Publication, dc *diag.Context) {
	navItem, hasNav := pub.navItem()
	ncxItem, hasNCX := pub.ncxItem(dc)
	if hasNav {
		if p.useNav(ctx, pub, navItem, dc) {
			return
		}
		if hasNCX {
			dc.Info("nav document unusable, falling back to NCX")
		}
	}
	if hasNCX {
		if p.useNCX(ctx, pub, ncxItem, dc) {
			return
		}
	}
	if !hasNav && !hasNCX {
		dc.Warn("publication has no navigation document")
	}
}

func (p *parser) useNav(ctx context.Context, pub *Publication, item ManifestItem, dc *diag.Context) bool {
	path := pub.ResolvePath(item.Href)
	if path == "" {
		dc.Errorf("nav document href %q escapes the container", item.Href)
		return false
	}
	d := p.loader.nav(ctx, path, dc)
	if !d.ok {
		return false
	}
	doc, violations := DecodeNav(d.root, p.opts.tocMode)
	reportViolations(p.opts.tocMode, path, violations, dc)
	if doc == nil {
		return false
	}
	pub.TOCSource = TOCSource{Kind: TOCNav, Item: item, Path: path}
	pub.TOC = TOCFromNav(doc.TOC, dc).resolveAgainst(path)
	if doc.Landmarks != nil {
		pub.Landmarks = TOCFromNav(doc.Landmarks, dc.Scope("landmarks")).resolveAgainst(path)
	}
	if doc.PageList != nil {
		pub.PageList = TOCFromNav(doc.PageList, dc.Scope("page-list")).resolveAgainst(path)
	}
	return true
}

func (p *parser) useNCX(ctx context.Context, pub *Publication, item ManifestItem, dc *diag.Context) bool {
	path := pub.ResolvePath(item.Href)
	if path == "" {
		dc.Errorf("NCX href %q escapes the container", item.Href)
		return false
	}
	d := p.loader.ncx(ctx, path, dc)
	if !d.ok {
		return false
	}
	ncx, violations := DecodeNCX(d.root, p.opts.tocMode)
	reportViolations(p.opts.tocMode, path, violations, dc)
	if ncx == nil {
		return false
	}
	pub.TOCSource = TOCSource{Kind: TOCNCX, Item: item, Path: path}
	pub.TOC = TOCFromNCX(ncx, dc).resolveAgainst(path)
	return true
}

// reportViolations pushes schema violations of a navigation document as
// warnings, or as errors in Strict mode.
func reportViolations(mode TOCMode, path string, violations []string, dc *diag.Context) {
	sev := diag.Warning
	if mode == Strict {
		sev = diag.Error
	}
	for _, v := range violations {
		dc.With(sev, path+": "+v, nil)
	}
}

// navItem returns the first manifest item with the "nav" property.
func (p *Publication) navItem() (ManifestItem, bool) {
	for _, item := range p.Package.Manifest {
		if item.HasProperty("nav") {
			return item, true
		}
	}
	return ManifestItem{}, false
}

// ncxItem returns the NCX named by the spine toc attribute. Without one, the
// first manifest item with the NCX media type is used.
func (p *Publication) ncxItem(dc *diag.Context) (ManifestItem, bool) {
	if id := p.Package.Spine.Toc; id != "" {
		item, ok := p.Item(id)
		if !ok {
			dc.With(diag.Error, "spine toc is not in manifest", map[string]string{"idref": id})
		}
		return item, ok
	}
	for _, item := range p.Package.Manifest {
		if strings.EqualFold(item.MediaType, ncxMediaType) {
			dc.Infof("spine has no toc attribute, using NCX item %q", item.ID)
			return item, true
		}
	}
	return ManifestItem{}, false
}

// NCX decodes the publication's NCX document, if it has one. The document
// is fetched at most once per Publication.
func (p *Publication) NCX(ctx context.Context) Result[*NCX] {
	dc := diag.New("epub")
	sc := dc.Scope("ncx")
	item, ok := p.ncxItem(sc)
	if !ok {
		return newResult[*NCX](nil, false, dc)
	}
	path := p.ResolvePath(item.Href)
	if path == "" {
		sc.Errorf("NCX href %q escapes the container", item.Href)
		return newResult[*NCX](nil, false, dc)
	}
	d := p.loader.ncx(ctx, path, sc)
	if !d.ok {
		return newResult[*NCX](nil, false, dc)
	}
	ncx, violations := DecodeNCX(d.root, p.opts.tocMode)
	reportViolations(p.opts.tocMode, path, violations, sc)
	return newResult(ncx, ncx != nil, dc)
}

// Nav decodes the publication's EPUB 3 navigation document, if it has one.
func (p *Publication) Nav(ctx context.Context) Result[*NavDocument] {
	dc := diag.New("epub")
	sc := dc.Scope("nav")
	item, ok := p.navItem()
	if !ok {
		return newResult[*NavDocument](nil, false, dc)
	}
	path := p.ResolvePath(item.Href)
	if path == "" {
		sc.Errorf("nav document href %q escapes the container", item.Href)
		return newResult[*NavDocument](nil, false, dc)
	}
	d := p.loader.nav(ctx, path, sc)
	if !d.ok {
		return newResult[*NavDocument](nil, false, dc)
	}
	doc, violations := DecodeNav(d.root, p.opts.tocMode)
	reportViolations(p.opts.tocMode, path, violations, sc)
	return newResult(doc, doc != nil, dc)
}
