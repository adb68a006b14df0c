package ddex

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// xmlNode is the Builder's intermediate tree: a generic element with
// namespace-qualified attres and ordered children (elements, text runs,
// comments, and processing instructions). The Builder constructs this tree
// without worrying about canonical ordering; Canonicalize is a separate
// pass over it, which keeps the DB-C14N/1.0 rules (attribute ordering,
// namespace-declaration minimization, whitespace normalization) in one
// place instead of smeared across every element-emitting function.
//
// This is algorithmically grounded on the event-stack technique in
// ucarion/c14n's Exclusive XML Canonicalization implementation, adapted to
// an explicit tree instead of a raw token stream because DB-C14N/1.0's
// rules (attribute sort key, empty-element rule, LF-only normalization)
// diverge from Exclusive C14N at nearly every step — see DESIGN.md.
type xmlNode struct {
	NamespaceURI string
	Local        string
	Attrs        []xmlAttr
	Children     []xmlChild
}

type xmlAttr struct {
	Prefix       string // caller's preferred prefix, used only by the non-canonical serializer
	Local        string
	NamespaceURI string // "" for an unqualified attribute, xmlnsNamespaceURI for a namespace declaration
	Value        string
}

type xmlChild struct {
	Element  *xmlNode
	Text     string
	Comment  string
	PITarget string
	PIData   string
}

const xmlnsNamespaceURI = "::xmlns::"

func newElem(local string) *xmlNode {
	return &xmlNode{Local: local}
}

func (n *xmlNode) attr(local, value string) *xmlNode {
	n.Attrs = append(n.Attrs, xmlAttr{Local: local, Value: value})
	return n
}

func (n *xmlNode) child(c *xmlNode) *xmlNode {
	n.Children = append(n.Children, xmlChild{Element: c})
	return n
}

func (n *xmlNode) text(s string) *xmlNode {
	if s == "" {
		return n
	}
	n.Children = append(n.Children, xmlChild{Text: s})
	return n
}

func (n *xmlNode) comment(s string) *xmlNode {
	n.Children = append(n.Children, xmlChild{Comment: s})
	return n
}

func (n *xmlNode) pi(target, data string) *xmlNode {
	n.Children = append(n.Children, xmlChild{PITarget: target, PIData: data})
	return n
}

// nsEnv tracks, for the canonicalization walk, which prefix->uri bindings
// are already visible (declared by this node or an ancestor) so a
// redundant re-declaration is suppressed, and which prefix each namespace
// URI was assigned on the way down.
type nsEnv struct {
	visible map[string]string // prefix -> uri, as already rendered by an ancestor or self
	parent  *nsEnv
}

func (e *nsEnv) resolve(prefix string) (string, bool) {
	for env := e; env != nil; env = env.parent {
		if uri, ok := env.visible[prefix]; ok {
			return uri, true
		}
	}
	return "", false
}

// Canonicalize serializes root under the DB-C14N/1.0 profile:
//   - attributes ordered xmlns:* (by prefix) first, then xmlns, then
//     remaining attributes by (namespace-uri, local-name)
//   - each namespace declared once, at the minimal covering ancestor
//     (the point nearest the root where it's first needed), suppressed on
//     any descendant that would otherwise redundantly redeclare the same
//     prefix -> uri binding
//   - LF-only line endings, two-space indentation
//   - every element has an explicit end tag (no self-closing shorthand)
//   - attribute values and text content escaped per XML 1.0, with
//     attribute values additionally normalizing internal whitespace to a
//     single space per the XML attribute-value-normalization rule
func Canonicalize(root *xmlNode) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	if err := canonWrite(&buf, root, &nsEnv{visible: map[string]string{}}, assignPrefixes(root), 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// assignPrefixes walks the tree once to assign each distinct namespace URI
// a stable prefix ("ns0", "ns1", ...) in first-use document order, and the
// "ern" prefix specifically to the root ERN namespace for readability.
func assignPrefixes(root *xmlNode) map[string]string {
	assigned := map[string]string{}
	next := 0
	var walk func(n *xmlNode)
	walk = func(n *xmlNode) {
		if n.NamespaceURI != "" {
			if _, ok := assigned[n.NamespaceURI]; !ok {
				if strings.Contains(n.NamespaceURI, "ddex.net/xml/ern") {
					assigned[n.NamespaceURI] = "ern"
				} else {
					assigned[n.NamespaceURI] = fmt.Sprintf("ns%d", next)
					next++
				}
			}
		}
		for _, a := range n.Attrs {
			if a.NamespaceURI != "" && a.NamespaceURI != xmlnsNamespaceURI {
				if _, ok := assigned[a.NamespaceURI]; !ok {
					assigned[a.NamespaceURI] = fmt.Sprintf("ns%d", next)
					next++
				}
			}
		}
		for _, c := range n.Children {
			if c.Element != nil {
				walk(c.Element)
			}
		}
	}
	walk(root)
	return assigned
}

// ownNamespaces reports the URIs n's own element and attribute names use,
// not counting descendants.
func ownNamespaces(n *xmlNode, acc map[string]bool) {
	if n.NamespaceURI != "" {
		acc[n.NamespaceURI] = true
	}
	for _, a := range n.Attrs {
		if a.NamespaceURI != "" && a.NamespaceURI != xmlnsNamespaceURI {
			acc[a.NamespaceURI] = true
		}
	}
}

// subtreeNamespaces accumulates every URI used anywhere in n's subtree.
func subtreeNamespaces(n *xmlNode, acc map[string]bool) {
	ownNamespaces(n, acc)
	for _, c := range n.Children {
		if c.Element != nil {
			subtreeNamespaces(c.Element, acc)
		}
	}
}

// declarationsAt computes which namespace declarations belong on n under the
// minimal-covering-ancestor rule: a URI not already visible from an ancestor
// is declared at n when n's own name/attributes use it, or when two or more
// of n's child subtrees use it (so that no single child covers all uses). A
// URI used in exactly one child subtree is left for that child to declare.
func declarationsAt(n *xmlNode, env *nsEnv, prefixes map[string]string) map[string]string {
	own := map[string]bool{}
	ownNamespaces(n, own)

	childCount := map[string]int{}
	for _, c := range n.Children {
		if c.Element == nil {
			continue
		}
		uses := map[string]bool{}
		subtreeNamespaces(c.Element, uses)
		for uri := range uses {
			childCount[uri]++
		}
	}

	needed := map[string]string{} // prefix -> uri
	consider := func(uri string) {
		p := prefixes[uri]
		if bound, ok := env.resolve(p); ok && bound == uri {
			return
		}
		if own[uri] || childCount[uri] >= 2 {
			needed[p] = uri
		}
	}
	for uri := range own {
		consider(uri)
	}
	for uri := range childCount {
		consider(uri)
	}
	return needed
}

func canonWrite(buf *bytes.Buffer, n *xmlNode, env *nsEnv, prefixes map[string]string, depth int) error {
	indent := strings.Repeat("  ", depth)
	qname := qualify(n.Local, n.NamespaceURI, prefixes)

	needed := declarationsAt(n, env, prefixes)

	childEnv := &nsEnv{visible: map[string]string{}, parent: env}
	for p, uri := range needed {
		childEnv.visible[p] = uri
	}

	var nsDecls, realAttrs []xmlAttr
	for p, uri := range needed {
		nsDecls = append(nsDecls, xmlAttr{Local: p, Value: uri})
	}
	for _, a := range n.Attrs {
		if a.NamespaceURI == xmlnsNamespaceURI {
			continue // a raw xmlns attr on the tree is redundant; Canonicalize computes its own
		}
		realAttrs = append(realAttrs, a)
	}

	sort.Slice(nsDecls, func(i, j int) bool { return nsDecls[i].Local < nsDecls[j].Local })
	sort.Slice(realAttrs, func(i, j int) bool {
		if realAttrs[i].NamespaceURI != realAttrs[j].NamespaceURI {
			return realAttrs[i].NamespaceURI < realAttrs[j].NamespaceURI
		}
		return realAttrs[i].Local < realAttrs[j].Local
	})

	buf.WriteString(indent)
	buf.WriteString("<")
	buf.WriteString(qname)
	for _, d := range nsDecls {
		fmt.Fprintf(buf, ` xmlns:%s="%s"`, d.Local, escapeAttr(d.Value))
	}
	for _, a := range realAttrs {
		name := a.Local
		if a.NamespaceURI != "" {
			name = prefixes[a.NamespaceURI] + ":" + a.Local
		}
		fmt.Fprintf(buf, ` %s="%s"`, name, escapeAttr(normalizeAttrWhitespace(a.Value)))
	}

	if len(n.Children) == 0 {
		buf.WriteString("></")
		buf.WriteString(qname)
		buf.WriteString(">\n")
		return nil
	}

	buf.WriteString(">")
	onlyText := allTextChildren(n.Children)
	if !onlyText {
		buf.WriteString("\n")
	}
	for _, c := range n.Children {
		switch {
		case c.Element != nil:
			if err := canonWrite(buf, c.Element, childEnv, prefixes, depth+1); err != nil {
				return err
			}
		case c.Comment != "":
			fmt.Fprintf(buf, "%s<!--%s-->\n", strings.Repeat("  ", depth+1), escapeComment(c.Comment))
		case c.PITarget != "":
			fmt.Fprintf(buf, "%s<?%s %s?>\n", strings.Repeat("  ", depth+1), c.PITarget, c.PIData)
		default:
			buf.WriteString(escapeText(c.Text))
		}
	}
	if !onlyText {
		buf.WriteString(indent)
	}
	buf.WriteString("</")
	buf.WriteString(qname)
	buf.WriteString(">\n")
	return nil
}

// serializeRaw emits root without the DB-C14N/1.0 normalization pass:
// attributes keep the order the Builder appended them in (rather than being
// re-sorted by namespace-uri/local-name) when cfg.PreserveAttributeOrder is
// set, empty elements self-close instead of taking an explicit end tag, and
// indentation is cosmetic only. This is the path taken when cfg.Canonical is
// false — a caller who wants bytes closer to what a non-canonicalizing DDEX
// tool would emit, at the cost of losing the determinism guarantee
// Canonicalize provides.
//
// Namespace prefix fidelity is necessarily partial: encoding/xml's Decoder
// resolves every element and attribute name to its namespace URI during
// parsing and discards the literal prefix string the source document used,
// so there is no parsed prefix to play back here even when
// cfg.PreserveNamespacePrefixes is set. The flag instead selects between the
// "ern"-named prefix table (on) and a fully generic ns0/ns1/... table (off);
// see DESIGN.md.
func serializeRaw(root *xmlNode, cfg BuildConfig) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	prefixes := assignPrefixes(root)
	if !cfg.PreserveNamespacePrefixes {
		prefixes = assignGenericPrefixes(root)
	}
	rawWrite(&buf, root, &nsEnv{visible: map[string]string{}}, prefixes, cfg, 0)
	return buf.Bytes(), nil
}

// assignGenericPrefixes is assignPrefixes without the "ern" special case,
// used when the caller has opted out of the named-prefix table.
func assignGenericPrefixes(root *xmlNode) map[string]string {
	assigned := map[string]string{}
	next := 0
	var walk func(n *xmlNode)
	walk = func(n *xmlNode) {
		if n.NamespaceURI != "" {
			if _, ok := assigned[n.NamespaceURI]; !ok {
				assigned[n.NamespaceURI] = fmt.Sprintf("ns%d", next)
				next++
			}
		}
		for _, a := range n.Attrs {
			if a.NamespaceURI != "" && a.NamespaceURI != xmlnsNamespaceURI {
				if _, ok := assigned[a.NamespaceURI]; !ok {
					assigned[a.NamespaceURI] = fmt.Sprintf("ns%d", next)
					next++
				}
			}
		}
		for _, c := range n.Children {
			if c.Element != nil {
				walk(c.Element)
			}
		}
	}
	walk(root)
	return assigned
}

func rawWrite(buf *bytes.Buffer, n *xmlNode, env *nsEnv, prefixes map[string]string, cfg BuildConfig, depth int) {
	indent := strings.Repeat("  ", depth)
	qname := qualify(n.Local, n.NamespaceURI, prefixes)

	needed := map[string]string{}
	if n.NamespaceURI != "" {
		p := prefixes[n.NamespaceURI]
		if uri, ok := env.resolve(p); !ok || uri != n.NamespaceURI {
			needed[p] = n.NamespaceURI
		}
	}
	for _, a := range n.Attrs {
		if a.NamespaceURI != "" && a.NamespaceURI != xmlnsNamespaceURI {
			p := prefixes[a.NamespaceURI]
			if uri, ok := env.resolve(p); !ok || uri != a.NamespaceURI {
				needed[p] = a.NamespaceURI
			}
		}
	}

	childEnv := &nsEnv{visible: map[string]string{}, parent: env}
	for p, uri := range needed {
		childEnv.visible[p] = uri
	}

	var nsDecls []xmlAttr
	for p, uri := range needed {
		nsDecls = append(nsDecls, xmlAttr{Local: p, Value: uri})
	}
	if cfg.PreserveAttributeOrder {
		sort.Slice(nsDecls, func(i, j int) bool { return nsDecls[i].Local < nsDecls[j].Local })
	}

	buf.WriteString(indent)
	buf.WriteString("<")
	buf.WriteString(qname)
	for _, d := range nsDecls {
		fmt.Fprintf(buf, ` xmlns:%s="%s"`, d.Local, escapeAttr(d.Value))
	}
	attrs := n.Attrs
	if !cfg.PreserveAttributeOrder {
		attrs = append([]xmlAttr(nil), n.Attrs...)
		sort.Slice(attrs, func(i, j int) bool {
			if attrs[i].NamespaceURI != attrs[j].NamespaceURI {
				return attrs[i].NamespaceURI < attrs[j].NamespaceURI
			}
			return attrs[i].Local < attrs[j].Local
		})
	}
	for _, a := range attrs {
		if a.NamespaceURI == xmlnsNamespaceURI {
			continue
		}
		name := a.Local
		if a.NamespaceURI != "" {
			name = prefixes[a.NamespaceURI] + ":" + a.Local
		}
		fmt.Fprintf(buf, ` %s="%s"`, name, escapeAttr(a.Value))
	}

	if len(n.Children) == 0 {
		buf.WriteString("/>\n")
		return
	}

	buf.WriteString(">")
	onlyText := allTextChildren(n.Children)
	if !onlyText {
		buf.WriteString("\n")
	}
	for _, c := range n.Children {
		switch {
		case c.Element != nil:
			rawWrite(buf, c.Element, childEnv, prefixes, cfg, depth+1)
		case c.Comment != "":
			fmt.Fprintf(buf, "%s<!--%s-->\n", strings.Repeat("  ", depth+1), escapeComment(c.Comment))
		case c.PITarget != "":
			fmt.Fprintf(buf, "%s<?%s %s?>\n", strings.Repeat("  ", depth+1), c.PITarget, c.PIData)
		default:
			buf.WriteString(escapeText(c.Text))
		}
	}
	if !onlyText {
		buf.WriteString(indent)
	}
	buf.WriteString("</")
	buf.WriteString(qname)
	buf.WriteString(">\n")
}

func allTextChildren(children []xmlChild) bool {
	for _, c := range children {
		if c.Element != nil || c.Comment != "" || c.PITarget != "" {
			return false
		}
	}
	return true
}

func qualify(local, ns string, prefixes map[string]string) string {
	if ns == "" {
		return local
	}
	return prefixes[ns] + ":" + local
}

func normalizeAttrWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r\n", "\n", "\r", "\n")
	return r.Replace(s)
}

func escapeAttr(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", "\"", "&quot;", "\t", "&#9;", "\n", "&#10;", "\r", "&#13;")
	return r.Replace(s)
}

func escapeComment(s string) string {
	return strings.ReplaceAll(s, "--", "- -")
}
