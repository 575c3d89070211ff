// Package markup turns XML and HTML documents into a generic, attributed node
// tree. Namespaces are normalized away: element names are local names, and
// attribute names are local names except for the xml:, epub: and opf:
// prefixes, which are kept because EPUB vocabularies depend on them.
package markup

import "strings"

// TextName is the Name of character-data nodes.
const TextName = "#text"

// Attr is a single attribute.
type Attr struct {
	Name  string
	Value string
}

// Node is an element or a text node. Text nodes have Name TextName and no
// attributes or children.
type Node struct {
	Name     string
	Attrs    []Attr
	Children []*Node
	Text     string
}

// IsText reports whether n is a character-data node.
func (n *Node) IsText() bool {
	return n != nil && n.Name == TextName
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrValue returns the named attribute or "" when absent.
func (n *Node) AttrValue(name string) string {
	v, _ := n.Attr(name)
	return v
}

// Elements returns the element children of n in document order.
func (n *Node) Elements() []*Node {
	if n == nil {
		return nil
	}
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if !c.IsText() {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the first element child called name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every element child called name.
func (n *Node) ChildrenNamed(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the first descendant element called name in depth-first
// document order, or nil. n itself is not considered.
func (n *Node) Find(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.IsText() {
			continue
		}
		if c.Name == name {
			return c
		}
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every descendant element called name in document order,
// without descending into matches.
func (n *Node) FindAll(name string) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(p *Node) {
		for _, c := range p.Children {
			if c.IsText() {
				continue
			}
			if c.Name == name {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

// TextContent concatenates all character data under n in document order.
func (n *Node) TextContent() string {
	if n == nil {
		return ""
	}
	if n.IsText() {
		return n.Text
	}
	var sb strings.Builder
	for _, c := range n.Children {
		sb.WriteString(c.TextContent())
	}
	return sb.String()
}

// Loose converts n into the untyped form the schema package validates:
// attributes become "@name" keys, child elements are grouped by name into
// []any in document order, and non-blank direct character data becomes
// "#text".
func (n *Node) Loose() map[string]any {
	if n == nil {
		return nil
	}
	m := make(map[string]any, len(n.Attrs)+len(n.Children))
	for _, a := range n.Attrs {
		m["@"+a.Name] = a.Value
	}
	var text strings.Builder
	for _, c := range n.Children {
		if c.IsText() {
			text.WriteString(c.Text)
			continue
		}
		list, _ := m[c.Name].([]any)
		m[c.Name] = append(list, c.Loose())
	}
	if t := strings.TrimSpace(text.String()); t != "" {
		m[TextName] = t
	}
	return m
}
