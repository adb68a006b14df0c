package ddex

import (
	"bytes"
	"regexp"
)

// ernNamespaceVersions maps the ERN namespace URI declared on the root
// element to the Version it identifies. ern/381 is the legacy namespace
// some older DDEX deliveries still use; it is coerced to Version382 rather
// than rejected (see DESIGN.md); the Parser logs the coercion.
var ernNamespaceVersions = map[string]Version{
	"http://ddex.net/xml/ern/382": Version382,
	"http://ddex.net/xml/ern/381": Version382,
	"http://ddex.net/xml/ern/42":  Version42,
	"http://ddex.net/xml/ern/43":  Version43,
}

var xmlnsErnPattern = regexp.MustCompile(`xmlns:ern\s*=\s*["']([^"']+)["']`)
var schemaVersionIDPattern = regexp.MustCompile(`MessageSchemaVersionId\s*=\s*["']([^"']+)["']`)

// DetectVersion inspects the root element of an ERN document (a small
// prefix of data is all that's scanned, since both the namespace
// declaration and MessageSchemaVersionId attribute live on the root start
// tag) and returns the Version it declares.
func DetectVersion(data []byte) (Version, error) {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	root := rootStartTag(head)

	if m := xmlnsErnPattern.FindSubmatch(root); m != nil {
		if v, ok := ernNamespaceVersions[string(m[1])]; ok {
			return v, nil
		}
		if v := detectVersionAttr(root); v != VersionUnknown {
			return v, nil
		}
		return VersionUnknown, &UnsupportedVersionError{Detected: string(m[1])}
	}

	if v := detectVersionAttr(root); v != VersionUnknown {
		return v, nil
	}

	return VersionUnknown, &UnsupportedVersionError{Detected: "(no ern namespace found)"}
}

// rootStartTag returns the bytes of the document's root element start tag,
// skipping the XML declaration, comments, and any DOCTYPE that precede it.
func rootStartTag(head []byte) []byte {
	i := 0
	for i < len(head) {
		lt := bytes.IndexByte(head[i:], '<')
		if lt < 0 {
			return nil
		}
		i += lt
		switch {
		case bytes.HasPrefix(head[i:], []byte("<?")):
			end := bytes.Index(head[i:], []byte("?>"))
			if end < 0 {
				return nil
			}
			i += end + 2
		case bytes.HasPrefix(head[i:], []byte("<!--")):
			end := bytes.Index(head[i:], []byte("-->"))
			if end < 0 {
				return nil
			}
			i += end + 3
		case bytes.HasPrefix(head[i:], []byte("<!")):
			end := matchingBracket(head, i)
			if end < 0 {
				return nil
			}
			i = end
		default:
			gt := bytes.IndexByte(head[i:], '>')
			if gt < 0 {
				return head[i:]
			}
			return head[i : i+gt]
		}
	}
	return nil
}

// detectVersionAttr falls back to the MessageSchemaVersionId attribute
// ("ern/382", "ern/42", "ern/43") when the namespace URI is absent or not in
// ernNamespaceVersions. A namespace that does resolve is not cross-checked
// against this attribute.
func detectVersionAttr(root []byte) Version {
	m := schemaVersionIDPattern.FindSubmatch(root)
	if m == nil {
		return VersionUnknown
	}
	switch string(m[1]) {
	case "ern/382", "ern/381":
		return Version382
	case "ern/42":
		return Version42
	case "ern/43":
		return Version43
	default:
		return VersionUnknown
	}
}
