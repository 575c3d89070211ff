package epub

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"

	"github.com/simp-lee/epubmodel/diag"
	"github.com/simp-lee/epubmodel/markup"
)

// Kind classifies a manifest item by how its content is fetched.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

var textMediaTypes = map[string]bool{
	"application/xhtml+xml":         true,
	"text/html":                     true,
	"text/css":                      true,
	"application/x-dtbncx+xml":      true,
	"application/smil+xml":          true,
	"image/svg+xml":                 true,
	"text/plain":                    true,
	"application/javascript":        true,
	"text/javascript":               true,
	"application/xml":               true,
	"text/xml":                      true,
	"application/oebps-package+xml": true,
}

var binaryMediaTypes = map[string]bool{
	"application/font-woff":       true,
	"application/vnd.ms-opentype": true,
	"application/x-font-ttf":      true,
	"application/x-font-truetype": true,
	"application/x-font-opentype": true,
	"application/pdf":             true,
}

var binaryMediaPrefixes = []string{"image/", "audio/", "video/", "font/"}

// ClassifyMediaType returns the Kind for a manifest media type. Parameters
// such as "; charset=utf-8" are ignored.
func ClassifyMediaType(mediaType string) Kind {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if textMediaTypes[mt] {
		return KindText
	}
	if binaryMediaTypes[mt] {
		return KindBinary
	}
	for _, p := range binaryMediaPrefixes {
		if strings.HasPrefix(mt, p) {
			return KindBinary
		}
	}
	return KindUnknown
}

// PackageItem is a loaded manifest item. Text is set for KindText, Data for
// KindBinary and KindUnknown.
type PackageItem struct {
	Item ManifestItem
	Path string
	Kind Kind
	Text string
	Data []byte

	// Encrypted is true when encryption.xml lists the item. Its content is
	// returned as stored.
	Encrypted bool
}

// LoadItem fetches a single manifest item by id.
func (p *Publication) LoadItem(ctx context.Context, id string) Result[PackageItem] {
	dc := diag.New("epub")
	item, ok := p.Item(id)
	if !ok {
		dc.With(diag.Error, "manifest item not found", map[string]string{"id": id})
		return newResult(PackageItem{}, false, dc)
	}
	pi, ok := p.loadItem(ctx, item, dc.Scope("item:"+item.ID))
	return newResult(pi, ok, dc)
}

// LoadItems fetches items concurrently, bounded by WithConcurrency. Items
// that cannot be loaded are left out of the result with a diagnostic; the
// rest keep their input order, as do the diagnostics.
func (p *Publication) LoadItems(ctx context.Context, items []ManifestItem) Result[[]PackageItem] {
	dc := diag.New("epub")
	out := p.loadItems(ctx, items, dc)
	return newResult(out, true, dc)
}

// LoadSpine fetches the manifest items of the spine in reading order.
func (p *Publication) LoadSpine(ctx context.Context) Result[[]PackageItem] {
	items := make([]ManifestItem, len(p.Spine))
	for i, si := range p.Spine {
		items[i] = si.Item
	}
	return p.LoadItems(ctx, items)
}

func (p *Publication) loadItems(ctx context.Context, items []ManifestItem, dc *diag.Context) []PackageItem {
	// Scopes are created up front, in input order, so the flattened
	// diagnostics do not depend on which fetch finishes first.
	scopes := make([]*diag.Context, len(items))
	for i, it := range items {
		scopes[i] = dc.Scope("item:" + it.ID)
	}

	loaded := make([]PackageItem, len(items))
	oks := make([]bool, len(items))
	var g errgroup.Group
	g.SetLimit(p.opts.concurrency)
	for i, it := range items {
		g.Go(func() error {
			loaded[i], oks[i] = p.loadItem(ctx, it, scopes[i])
			return nil
		})
	}
	_ = g.Wait()

	out := make([]PackageItem, 0, len(items))
	for i := range loaded {
		if oks[i] {
			out = append(out, loaded[i])
		}
	}
	return out
}

func (p *Publication) loadItem(ctx context.Context, item ManifestItem, dc *diag.Context) (PackageItem, bool) {
	pi := PackageItem{
		Item: item,
		Path: p.ResolvePath(item.Href),
		Kind: ClassifyMediaType(item.MediaType),
	}
	if pi.Path == "" {
		dc.With(diag.Error, fmt.Sprintf("failed to load manifest item %q (%s)", item.ID, item.Href),
			map[string]string{"reason": "href escapes the container"})
		return PackageItem{}, false
	}
	pi.Encrypted = p.Encryption.IsEncrypted(pi.Path)

	data, ok := p.src.ReadBinary(ctx, pi.Path, dc)
	if !ok {
		dc.With(diag.Error, fmt.Sprintf("failed to load manifest item %q (%s)", item.ID, pi.Path),
			map[string]string{"id": item.ID, "path": pi.Path})
		return PackageItem{}, false
	}

	if pi.Kind != KindText || pi.Encrypted {
		pi.Data = data
		return pi, true
	}
	pi.Text = decodeText(data, item, dc)
	return pi, true
}

// decodeText returns data as UTF-8, transcoding from the encoding declared
// in the content or media type when data is not valid UTF-8.
func decodeText(data []byte, item ManifestItem, dc *diag.Context) string {
	data = markup.StripBOM(data)
	if utf8.Valid(data) {
		return string(data)
	}
	enc, name, _ := charset.DetermineEncoding(data, item.MediaType)
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		dc.Warnf("manifest item %q is not valid UTF-8 and could not be decoded as %s: %v", item.ID, name, err)
		return string(bytes.ToValidUTF8(data, []byte("\uFFFD")))
	}
	dc.Warnf("manifest item %q is not UTF-8, decoded as %s", item.ID, name)
	return string(decoded)
}
