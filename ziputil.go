package epub

import (
	"archive/zip"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// resolveRelativePath resolves href relative to the directory of basePath.
// Both are archive paths (forward-slash separated). Any fragment or query is
// dropped. The result is cleaned and must stay within the archive root; an
// absolute or escaping href yields "".
func resolveRelativePath(basePath, href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if href == "" || strings.HasPrefix(href, "/") || hasScheme(href) {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	cleaned := path.Join(path.Dir(basePath), href)
	if !isSafePath(cleaned) {
		return ""
	}
	return cleaned
}

// resolveHref is resolveRelativePath for navigation targets: the fragment is
// kept so that "ch1.xhtml#s2" stays addressable. External links are returned
// unchanged.
func resolveHref(basePath, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || hasScheme(href) {
		return href
	}
	frag := ""
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href, frag = href[:i], href[i:]
	}
	if href == "" {
		// Same-document reference.
		return basePath + frag
	}
	p := resolveRelativePath(basePath, href)
	if p == "" {
		return ""
	}
	return p + frag
}

func hasScheme(href string) bool {
	u, err := url.Parse(href)
	return err == nil && u.Scheme != ""
}

// isSafePath checks whether p is an archive path that does not escape the
// root via traversal (e.g. "../../../etc/passwd").
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// readLimited reads r fully, failing once more than limit bytes have been
// produced. declared is the size the archive claims, checked up front.
func readLimited(r io.Reader, name string, declared, limit int64) ([]byte, error) {
	if declared > limit {
		return nil, fmt.Errorf("epub: entry %s too large: %d bytes (max %d)", name, declared, limit)
	}
	// Read up to limit+1 to detect if the actual decompressed data
	// exceeds the limit (the declared size might be wrong/forged).
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("epub: read entry %s: %w", name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("epub: entry %s decompressed size exceeds limit (%d bytes)", name, limit)
	}
	return data, nil
}

// zipEntryNames lists the file entries of zr in archive order, skipping
// directories and entries whose names escape the root.
func zipEntryNames(zr *zip.Reader) []string {
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isSafePath(f.Name) {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}
