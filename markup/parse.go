package markup

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// ErrNoRoot is returned when a document contains no element at all.
var ErrNoRoot = errors.New("markup: document has no root element")

// Attribute namespaces whose prefix survives normalization.
var keptPrefixes = map[string]string{
	"http://www.w3.org/XML/1998/namespace": "xml",
	"http://www.idpf.org/2007/ops":         "epub",
	"http://www.idpf.org/2007/opf":         "opf",
	"xml":                                  "xml",
	"epub":                                 "epub",
	"opf":                                  "opf",
	"xmlns":                                "xmlns",
}

// StripBOM removes a leading UTF-8 BOM (0xEF 0xBB 0xBF) from data, if present.
func StripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
}

// ParseXML parses a well-formed XML document. HTML named entities such as
// &nbsp; are accepted, and non-UTF-8 encodings declared in the prolog are
// decoded. Malformed markup is reported as an error.
func ParseXML(data []byte) (*Node, error) {
	d := xml.NewDecoder(bytes.NewReader(StripBOM(data)))
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel

	var (
		root  *Node
		stack []*Node
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("markup: parse XML: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local, Attrs: xmlAttrs(t.Attr)}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("markup: parse XML: multiple root elements (%s, %s)", root.Name, n.Name)
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			appendText(stack[len(stack)-1], string(t))
		}
	}
	if root == nil {
		return nil, ErrNoRoot
	}
	return root, nil
}

func xmlAttrs(in []xml.Attr) []Attr {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attr, 0, len(in))
	for _, a := range in {
		name := a.Name.Local
		if prefix, ok := keptPrefixes[a.Name.Space]; ok {
			name = prefix + ":" + name
		}
		out = append(out, Attr{Name: name, Value: a.Value})
	}
	return out
}

// appendText merges adjacent character data into a single text node.
func appendText(parent *Node, s string) {
	if k := len(parent.Children); k > 0 && parent.Children[k-1].IsText() {
		parent.Children[k-1].Text += s
		return
	}
	parent.Children = append(parent.Children, &Node{Name: TextName, Text: s})
}

// ParseHTML parses data with the HTML5 algorithm, which accepts markup that
// is not well-formed XML. The returned root is the <html> element.
func ParseHTML(data []byte) (*Node, error) {
	doc, err := html.Parse(bytes.NewReader(StripBOM(data)))
	if err != nil {
		return nil, fmt.Errorf("markup: parse HTML: %w", err)
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return convertHTML(c), nil
		}
	}
	return nil, ErrNoRoot
}

func convertHTML(h *html.Node) *Node {
	n := &Node{Name: localName(h.Data)}
	for _, a := range h.Attr {
		name := a.Key
		if a.Namespace != "" {
			name = a.Namespace + ":" + a.Key
		}
		n.Attrs = append(n.Attrs, Attr{Name: name, Value: a.Val})
	}
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			n.Children = append(n.Children, convertHTML(c))
		case html.TextNode:
			appendText(n, c.Data)
		}
	}
	return n
}

func localName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}
