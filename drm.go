package epub

import (
	"strings"

	"github.com/simp-lee/epubmodel/diag"
	"github.com/simp-lee/epubmodel/markup"
)

// Font obfuscation algorithm URIs – these do NOT constitute DRM.
var fontObfuscationAlgorithms = map[string]bool{
	"http://www.idpf.org/2008/embedding": true, // IDPF font obfuscation
	"http://ns.adobe.com/pdf/enc#RC":     true, // Adobe font obfuscation
}

// Known DRM namespace prefixes found in KeyInfo child elements or algorithm URIs.
var drmSignatures = []string{
	"http://ns.adobe.com/adept",      // Adobe ADEPT
	"http://readium.org/2014/01/lcp", // Readium LCP
}

// Encryption summarizes META-INF/encryption.xml and related DRM markers.
type Encryption struct {
	// Resources maps the archive path of each encrypted resource to its
	// encryption algorithm URI.
	Resources map[string]string

	// FontObfuscation is true when at least one resource uses a font
	// obfuscation algorithm.
	FontObfuscation bool

	// DRM is true when any resource is encrypted with something other than
	// font obfuscation, or a vendor DRM marker is present.
	DRM bool
}

// IsEncrypted reports whether the resource at archive path p is encrypted.
func (e Encryption) IsEncrypted(p string) bool {
	_, ok := e.Resources[p]
	return ok
}

// decodeEncryption reads the EncryptedData entries of encryption.xml.
func decodeEncryption(root *markup.Node) Encryption {
	enc := Encryption{Resources: make(map[string]string)}
	for _, ed := range root.FindAll("EncryptedData") {
		algo := strings.TrimSpace(ed.Child("EncryptionMethod").AttrValue("Algorithm"))
		if uri := strings.TrimSpace(ed.Find("CipherReference").AttrValue("URI")); uri != "" {
			// CipherReference URIs are relative to the container root.
			if p := resolveRelativePath("", uri); p != "" {
				enc.Resources[p] = algo
			}
		}

		if fontObfuscationAlgorithms[algo] {
			enc.FontObfuscation = true
			continue
		}
		// Any EncryptedData that is NOT font obfuscation is treated as DRM,
		// whether or not KeyInfo names a known scheme.
		enc.DRM = true
	}
	return enc
}

// drmScheme names the DRM scheme referenced by encryption.xml, or "".
func drmScheme(root *markup.Node) string {
	var found string
	var walk func(*markup.Node)
	walk = func(n *markup.Node) {
		for _, a := range n.Attrs {
			if s := matchDRMSignature(a.Value); s != "" && found == "" {
				found = s
			}
		}
		if n.IsText() {
			if s := matchDRMSignature(n.Text); s != "" && found == "" {
				found = s
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return found
}

// matchDRMSignature returns the known DRM namespace contained in s, or "".
func matchDRMSignature(s string) string {
	for _, sig := range drmSignatures {
		if strings.Contains(s, sig) {
			return sig
		}
	}
	return ""
}

// reportEncryption pushes the DRM and obfuscation findings onto dc.
// The publication is still returned; callers decide whether to proceed.
func reportEncryption(enc Encryption, scheme string, dc *diag.Context) {
	if enc.DRM {
		data := map[string]string{}
		if scheme != "" {
			data["scheme"] = scheme
		}
		dc.With(diag.Critical, "publication is DRM protected", data)
	}
	if enc.FontObfuscation {
		dc.Info("font obfuscation detected; obfuscated fonts may not render correctly")
	}
}
