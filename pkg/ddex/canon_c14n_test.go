package ddex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeEmptyElementUsesExplicitCloseTag(t *testing.T) {
	root := newElem("Foo")
	out, err := Canonicalize(root)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Foo></Foo>")
	assert.NotContains(t, string(out), "<Foo/>")
}

func TestCanonicalizeUsesLFOnly(t *testing.T) {
	root := newElem("Foo").child(newElem("Bar").text("hi"))
	out, err := Canonicalize(root)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "\r\n")
}

func TestCanonicalizeAttributesSortedByNamespaceThenLocal(t *testing.T) {
	root := newElem("Foo")
	root.Attrs = []xmlAttr{
		{Local: "z", Value: "1"},
		{Local: "a", Value: "2"},
	}
	out, err := Canonicalize(root)
	require.NoError(t, err)
	s := string(out)
	assert.Less(t, strings.Index(s, `a="2"`), strings.Index(s, `z="1"`))
}

func TestCanonicalizeNamespaceDeclaredOnceAtMinimalAncestor(t *testing.T) {
	child1 := newElem("Bar")
	child1.NamespaceURI = "http://example.com/ns"
	child2 := newElem("Baz")
	child2.NamespaceURI = "http://example.com/ns"
	root := newElem("Foo").child(child1).child(child2)

	out, err := Canonicalize(root)
	require.NoError(t, err)
	s := string(out)
	assert.Equal(t, 1, strings.Count(s, "xmlns:"))
}

func TestCanonicalizeChildNamespaceNotRedeclaredWhenInherited(t *testing.T) {
	root := newElem("Foo")
	root.NamespaceURI = "http://example.com/ns"
	child := newElem("Bar")
	child.NamespaceURI = "http://example.com/ns"
	root.child(child)

	out, err := Canonicalize(root)
	require.NoError(t, err)
	s := string(out)
	assert.Equal(t, 1, strings.Count(s, "xmlns:"))
}

func TestCanonicalizeEscapesTextAndAttributes(t *testing.T) {
	root := newElem("Foo").attr("v", `a"b&c`).text("<tag> & stuff")
	out, err := Canonicalize(root)
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, "&lt;tag&gt;")
	assert.Contains(t, s, "&amp;")
	assert.Contains(t, s, `a&quot;b&amp;c`)
}

func TestCanonicalizeIsStableAcrossRepeatedCalls(t *testing.T) {
	build := func() *xmlNode {
		return newElem("Foo").attr("id", "1").child(newElem("Bar").text("hi"))
	}
	a, err := Canonicalize(build())
	require.NoError(t, err)
	b, err := Canonicalize(build())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAssignPrefixesGivesErnNamespaceTheErnPrefix(t *testing.T) {
	root := newElem("NewReleaseMessage")
	root.NamespaceURI = "http://ddex.net/xml/ern/382"
	assigned := assignPrefixes(root)
	assert.Equal(t, "ern", assigned["http://ddex.net/xml/ern/382"])
}

func TestSerializeRawSelfClosesEmptyElements(t *testing.T) {
	root := newElem("Foo")
	out, err := serializeRaw(root, DefaultBuildConfig())
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Foo/>")
}

func TestSerializeRawKeepsAppendOrderWhenPreserved(t *testing.T) {
	root := newElem("Foo")
	root.Attrs = []xmlAttr{
		{Local: "z", Value: "1"},
		{Local: "a", Value: "2"},
	}
	cfg := DefaultBuildConfig()
	cfg.PreserveAttributeOrder = true
	out, err := serializeRaw(root, cfg)
	require.NoError(t, err)
	s := string(out)
	assert.Less(t, strings.Index(s, `z="1"`), strings.Index(s, `a="2"`))
}

func TestSerializeRawSortsAttributesWhenOrderNotPreserved(t *testing.T) {
	root := newElem("Foo")
	root.Attrs = []xmlAttr{
		{Local: "z", Value: "1"},
		{Local: "a", Value: "2"},
	}
	cfg := DefaultBuildConfig()
	cfg.PreserveAttributeOrder = false
	out, err := serializeRaw(root, cfg)
	require.NoError(t, err)
	s := string(out)
	assert.Less(t, strings.Index(s, `a="2"`), strings.Index(s, `z="1"`))
}

func TestAssignGenericPrefixesSkipsErnSpecialCase(t *testing.T) {
	root := newElem("NewReleaseMessage")
	root.NamespaceURI = "http://ddex.net/xml/ern/382"
	assigned := assignGenericPrefixes(root)
	assert.Equal(t, "ns0", assigned["http://ddex.net/xml/ern/382"])
}
