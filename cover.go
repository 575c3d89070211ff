package epub

import "strings"

// Cover returns the manifest item holding the cover image. Strategies are
// tried in priority order:
//  1. ePub 3 manifest item with properties="cover-image"
//  2. ePub 2 <meta name="cover" content="ID"/> → manifest lookup
//  3. <guide> reference type="cover" pointing directly at an image
//  4. Manifest item whose ID or href contains "cover" with image/* media-type
//
// Cover pages are not opened to look for <img> elements.
func (p *Publication) Cover() (ManifestItem, bool) {
	for _, find := range []func() (ManifestItem, bool){
		p.coverFromManifestProperties,
		p.coverFromMetaCover,
		p.coverFromGuide,
		p.coverFromManifestHeuristic,
	} {
		if item, ok := find(); ok {
			return item, true
		}
	}
	return ManifestItem{}, false
}

func (p *Publication) coverFromManifestProperties() (ManifestItem, bool) {
	for _, item := range p.Package.Manifest {
		if item.HasProperty("cover-image") {
			return item, true
		}
	}
	return ManifestItem{}, false
}

func (p *Publication) coverFromMetaCover() (ManifestItem, bool) {
	for _, m := range p.Package.Metadata.Metas {
		if !strings.EqualFold(m.Name, "cover") || m.Content == "" {
			continue
		}
		if item, ok := p.Item(m.Content); ok && isImageMediaType(item.MediaType) {
			return item, true
		}
	}
	return ManifestItem{}, false
}

func (p *Publication) coverFromGuide() (ManifestItem, bool) {
	for _, ref := range p.Package.Guide {
		if !strings.EqualFold(ref.Type, "cover") {
			continue
		}
		if item, ok := p.ItemByPath(p.ResolvePath(ref.Href)); ok && isImageMediaType(item.MediaType) {
			return item, true
		}
	}
	return ManifestItem{}, false
}

// coverFromManifestHeuristic searches for an image item whose ID or href
// contains "cover" (case-insensitive), in manifest order.
func (p *Publication) coverFromManifestHeuristic() (ManifestItem, bool) {
	for _, item := range p.Package.Manifest {
		if !isImageMediaType(item.MediaType) {
			continue
		}
		if containsFold(item.ID, "cover") || containsFold(item.Href, "cover") {
			return item, true
		}
	}
	return ManifestItem{}, false
}
