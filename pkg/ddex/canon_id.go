package ddex

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// recipeVersion namespaces the Stable Hash ID digest so a future change to
// what fields go into a recipe can't silently collide with IDs computed by
// an older version of this package.
const recipeVersion = "sh1"

// fieldSeparator delimits recipe fields before hashing. It is a control
// character that cannot appear in any DDEX text field, so two different
// field lists never hash to the same bytes by accident.
const fieldSeparator = "\x1f"

// stableHashID derives a content-addressable identifier for an entity of
// the given kind from its recipe fields: sha256(version | kind | fields),
// truncated to 8 bytes and hex-encoded. A cryptographic digest keeps the
// truncated prefix collision-resistant even over adversarial input; see
// DESIGN.md.
func stableHashID(kind RefKind, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(recipeVersion))
	h.Write([]byte(fieldSeparator))
	h.Write([]byte(kind.String()))
	for _, f := range fields {
		h.Write([]byte(fieldSeparator))
		h.Write([]byte(f))
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("sh1:%s:%x", kind, sum[:8])
}

// idResolver memoizes stable IDs computed for entities referenced by other
// entities' recipes (a Deal's recipe depends on the IDs of the releases and
// resources it covers), which is safe because the reference graph is a DAG.
type idResolver struct {
	msg         *Message
	partyIDs    map[string]string
	resourceIDs map[string]string
	releaseIDs  map[string]string
}

func newIDResolver(msg *Message) *idResolver {
	return &idResolver{
		msg:         msg,
		partyIDs:    map[string]string{},
		resourceIDs: map[string]string{},
		releaseIDs:  map[string]string{},
	}
}

func (r *idResolver) partyID(ref string) string {
	if id, ok := r.partyIDs[ref]; ok {
		return id
	}
	p, ok := r.msg.Party(ref)
	if !ok {
		return ref
	}
	if len(p.IDs) > 0 {
		r.partyIDs[ref] = p.IDs[0].Value
		return r.partyIDs[ref]
	}
	names := sortedTexts(p.Names)
	id := stableHashID(RefKindParty, names...)
	r.partyIDs[ref] = id
	return id
}

func (r *idResolver) resourceID(ref string) string {
	if id, ok := r.resourceIDs[ref]; ok {
		return id
	}
	res, ok := r.msg.Resource(ref)
	if !ok {
		return ref
	}
	for _, id := range res.Identifiers {
		if id.Kind == "ISRC" || id.Kind == "ISWC" {
			r.resourceIDs[ref] = id.Value
			return id.Value
		}
	}
	fields := append([]string{res.Kind.String(), res.Duration}, sortedTexts(res.Titles)...)
	id := stableHashID(RefKindResource, fields...)
	r.resourceIDs[ref] = id
	return id
}

func (r *idResolver) releaseID(ref string) string {
	if id, ok := r.releaseIDs[ref]; ok {
		return id
	}
	rel, ok := r.msg.Release(ref)
	if !ok {
		return ref
	}
	for _, id := range rel.IDs {
		if id.Kind == "GRid" || id.Kind == "ICPN" {
			r.releaseIDs[ref] = id.Value
			return id.Value
		}
	}
	var artistIDs []string
	for _, ar := range rel.DisplayArtistRefs {
		artistIDs = append(artistIDs, r.partyID(ar))
	}
	sort.Strings(artistIDs)

	var resourceIDs []string
	walkResourceGroup(rel.ResourceGroups, func(_ string, item ResourceGroupItem) {
		resourceIDs = append(resourceIDs, r.resourceID(item.ResourceRef))
	}, "")
	sort.Strings(resourceIDs)

	fields := append([]string{rel.ReleaseType}, sortedTexts(rel.Titles)...)
	fields = append(fields, artistIDs...)
	fields = append(fields, resourceIDs...)
	id := stableHashID(RefKindRelease, fields...)
	r.releaseIDs[ref] = id
	return id
}

func (r *idResolver) dealID(d Deal) string {
	releaseIDs := make([]string, 0, len(d.ReleaseRefs))
	for _, rr := range d.ReleaseRefs {
		releaseIDs = append(releaseIDs, r.releaseID(rr))
	}
	sort.Strings(releaseIDs)

	resourceIDs := make([]string, 0, len(d.ResourceRefs))
	for _, rr := range d.ResourceRefs {
		resourceIDs = append(resourceIDs, r.resourceID(rr))
	}
	sort.Strings(resourceIDs)

	territories := append([]string{}, d.Territories...)
	sort.Strings(territories)
	models := append([]string{}, d.CommercialModels...)
	sort.Strings(models)
	uses := append([]string{}, d.UseTypes...)
	sort.Strings(uses)

	fields := []string{d.ValidityStart, d.ValidityEnd}
	fields = append(fields, territories...)
	fields = append(fields, models...)
	fields = append(fields, uses...)
	fields = append(fields, releaseIDs...)
	fields = append(fields, resourceIDs...)
	return stableHashID(RefKindDeal, fields...)
}

func sortedTexts(ts []LocalizedText) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.LanguageCode+"="+t.Text)
	}
	sort.Strings(out)
	return out
}

// StableHashID is the public entry point for deriving a content-addressable
// ID for an entity in msg, used by the Builder's ID-assignment stage and
// available directly to callers who want to compute an ID without a full
// Build.
func StableHashID(msg *Message, kind RefKind, ref string) string {
	r := newIDResolver(msg)
	switch kind {
	case RefKindParty:
		return r.partyID(ref)
	case RefKindResource:
		return r.resourceID(ref)
	case RefKindRelease:
		return r.releaseID(ref)
	case RefKindDeal:
		if d, ok := msg.Deal(ref); ok {
			return r.dealID(*d)
		}
		return ref
	default:
		return ref
	}
}

func joinNonEmpty(parts []string, sep string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// --- identifier validation ---
//
// DDEX carries a handful of externally-standardized identifier schemes
// (GTIN/ICPN, ISRC, ISWC, DPID) inside the fields this file turns into
// recipe inputs. Validating them here, next to the recipe code that
// consumes them, keeps one place responsible for "is this string usable as
// an identity input" instead of splitting that question across a
// standalone helpers file. Every validator returns a *ConversionError
// (never a bare bool) so a Builder can report exactly which identifier
// field failed and why.

var (
	isrcPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}\d{2}\d{5}$`)
	iswcPattern = regexp.MustCompile(`^T-?\d{9}-?\d$`)
	dpidPattern = regexp.MustCompile(`^PADPIDA\d{10}[A-Z]$`)
	digitsOnly  = regexp.MustCompile(`^\d+$`)
)

// gtinCheckDigit computes the GS1 mod-10 check digit for a GTIN payload
// (the identifier with its trailing check digit removed), weighting
// alternating digits 3 and 1 starting from the rightmost. The same
// right-to-left rule produces a correct check digit for both the 11-digit
// UPC-A payload and the 12-digit EAN-13 payload, so one routine covers
// both ICPN encodings DDEX allows.
func gtinCheckDigit(payload string) int {
	sum, weight := 0, 3
	for i := len(payload) - 1; i >= 0; i-- {
		sum += int(payload[i]-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	return (10 - sum%10) % 10
}

// validateICPN checks a release's International Catalogue Product Number,
// which DDEX allows as either a 12-digit UPC-A or a 13-digit EAN-13.
func validateICPN(value string) error {
	switch len(value) {
	case 12, 13:
	default:
		return &ConversionError{Field: "ICPN", Message: fmt.Sprintf("%q must be 12 (UPC-A) or 13 (EAN-13) digits, got %d", value, len(value))}
	}
	if !digitsOnly.MatchString(value) {
		return &ConversionError{Field: "ICPN", Message: fmt.Sprintf("%q contains non-digit characters", value)}
	}
	payload, want := value[:len(value)-1], int(value[len(value)-1]-'0')
	if got := gtinCheckDigit(payload); got != want {
		return &ConversionError{Field: "ICPN", Message: fmt.Sprintf("%q fails GTIN check digit: want %d, got %d", value, got, want)}
	}
	return nil
}

// validateISRC checks a resource's International Standard Recording Code:
// two-letter country/registrant prefix, three alphanumeric registrant
// characters, two-digit year, five-digit designation.
func validateISRC(value string) error {
	if !isrcPattern.MatchString(value) {
		return &ConversionError{Field: "ISRC", Message: fmt.Sprintf("%q does not match CC-XXX-YY-NNNNN", value)}
	}
	return nil
}

// validateISWC checks a composition's International Standard Musical Work
// Code: a literal "T" prefix, nine digits, an optional hyphen, a final
// check digit, with hyphens permitted between groups.
func validateISWC(value string) error {
	if !iswcPattern.MatchString(value) {
		return &ConversionError{Field: "ISWC", Message: fmt.Sprintf("%q does not match T-DDDDDDDDD-D", value)}
	}
	return nil
}

// validateDPID checks a party's DDEX Party Identifier, the registry-issued
// ID ("PADPIDA" plus a ten-digit sequence and a trailing check letter) that
// distinguishes party identity from its free-text Names.
func validateDPID(value string) error {
	if !dpidPattern.MatchString(value) {
		return &ConversionError{Field: "DPID", Message: fmt.Sprintf("%q does not match PADPIDA<10 digits><check letter>", value)}
	}
	return nil
}
