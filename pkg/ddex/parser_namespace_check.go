package ddex

import (
	"encoding/xml"
	"fmt"
)

// xmlReservedNamespaceURI is the URI encoding/xml substitutes in place of
// the built-in "xml" prefix; it never needs a matching xmlns declaration.
const xmlReservedNamespaceURI = "http://www.w3.org/XML/1998/namespace"

// resolveNamespaces absorbs se's own xmlns/xmlns:* declarations into ns,
// then confirms se's element name and every attribute name actually came
// from a prefix this document declared.
//
// encoding/xml resolves a known prefix's Name.Space into its bound URI in
// place as it tokenizes; when a prefix was never declared, it leaves
// Name.Space holding the raw prefix text instead of rejecting the document.
// That silent fallback is what lets a document with a stray, undeclared
// prefix parse successfully today. resolveNamespaces closes that gap: once
// ns has absorbed se's own bindings, any Name.Space that is non-empty, isn't
// the reserved xml namespace, and doesn't match a URI actually bound
// somewhere in ns can only be the literal prefix encoding/xml gave up on,
// and is reported as a NamespaceError.
func resolveNamespaces(ns *NSStack, se xml.StartElement) error {
	ns.Push()
	for _, a := range se.Attr {
		switch {
		case a.Name.Space == "xmlns":
			ns.Bind(a.Name.Local, a.Value)
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			ns.Bind("", a.Value)
		}
	}

	if err := checkNameResolved(ns, se.Name); err != nil {
		return err
	}
	for _, a := range se.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		if err := checkNameResolved(ns, a.Name); err != nil {
			return err
		}
	}
	return nil
}

func checkNameResolved(ns *NSStack, name xml.Name) error {
	if name.Space == "" || name.Space == xmlReservedNamespaceURI {
		return nil
	}
	if ns.HasURI(name.Space) {
		return nil
	}
	return &NamespaceError{
		Prefix:  name.Space,
		Message: fmt.Sprintf("%q on element/attribute %q is not a namespace URI bound anywhere in this document; its prefix was never declared with xmlns", name.Space, name.Local),
	}
}
