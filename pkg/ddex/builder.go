package ddex

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BuildConfig controls how Build assembles and serializes a Message.
type BuildConfig struct {
	// Version, when not VersionUnknown, retargets emission to that schema
	// version instead of the Message's own (e.g. upgrading a parsed 3.8.2
	// delivery to a 4.3 output).
	Version       Version
	Preset        string
	Canonical     bool
	Deterministic bool
	Validate      bool

	PreserveExtensions             bool
	PreserveComments               bool
	PreserveProcessingInstructions bool
	PreserveAttributeOrder         bool
	PreserveNamespacePrefixes      bool

	// VerifyRoundtrip re-parses the emitted output and compares release,
	// party, resource, and deal counts against the input Message, appending
	// a warning to BuildReport rather than failing the build outright if
	// they disagree: a caller who wants this check fatal can treat any
	// returned warning as an error themselves.
	VerifyRoundtrip bool

	MaxValidationIssues int

	Logger  *zap.Logger
	Metrics Metrics
}

// DefaultBuildConfig returns a BuildConfig with canonicalization,
// deterministic derivation, preflight validation, and extension/trivia
// reinsertion all enabled, which is the safest default for round-tripping a
// parsed Message back to bytes.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		Canonical:                      true,
		Deterministic:                  true,
		Validate:                       true,
		PreserveExtensions:             true,
		PreserveComments:               true,
		PreserveProcessingInstructions: true,
		PreserveAttributeOrder:         true,
		PreserveNamespacePrefixes:      true,
		MaxValidationIssues:            50,
	}
}

// BuildRequest wraps the Message a single Build call serializes.
type BuildRequest struct {
	Message *Message
}

// BuildReport carries the side information a Build call produces alongside
// its output bytes: which entities had a Stable Hash ID assigned because
// they lacked an explicit identifier, and non-fatal warnings (an extension
// or trivia entry whose anchor no longer resolved, appended at the end of
// its owner instead). SuppressedDeclarations is not filled in by Build and
// stays zero.
type BuildReport struct {
	AssignedIDs            map[string]string
	SuppressedDeclarations int
	Warnings               []string
}

// deterministicNamespace seeds uuid.NewSHA1 for MessageID derivation. It has
// no meaning beyond being a fixed, stable namespace UUID so that the same
// Message content always yields the same MessageID.
var deterministicNamespace = uuid.MustParse("6f0c7b6e-2f0a-4e9a-9e0a-dde500000001")

// GenerateMessageID mints a MessageID for a non-deterministic build: a
// wall-clock prefix for rough chronological sortability followed by a
// random UUIDv4 for uniqueness. Deterministic builds never call this —
// see deterministicSeed and uuid.NewSHA1 in Build below.
func GenerateMessageID(prefix string) string {
	return fmt.Sprintf("%s%s_%s", prefix, time.Now().UTC().Format("20060102T150405"), uuid.New().String())
}

// GenerateThreadID mints a MessageThreadId as prefix followed by a random
// UUIDv4; unlike GenerateMessageID it carries no wall-clock component. The
// distinct prefix convention keeps the two ID families visually
// distinguishable in emitted XML.
func GenerateThreadID(prefix string) string {
	return fmt.Sprintf("%s%s", prefix, uuid.New().String())
}

// GenerateReference mints a fallback entity reference (a Party/Resource/
// Release ref) for fluent builder calls that don't supply one explicitly.
// Unlike GenerateMessageID it carries no timestamp: references only need to
// be unique within a single message, not sortable across messages.
func GenerateReference(prefix string) string {
	id := uuid.New()
	return fmt.Sprintf("%s%s", prefix, id.String()[:8])
}

// ernNamespaceFor is the inverse of the Scanner's namespace-to-version map,
// used to stamp the root element's xmlns:ern during emission.
func ernNamespaceFor(v Version) string {
	switch v {
	case Version382:
		return "http://ddex.net/xml/ern/382"
	case Version42:
		return "http://ddex.net/xml/ern/42"
	case Version43:
		return "http://ddex.net/xml/ern/43"
	default:
		return "http://ddex.net/xml/ern/382"
	}
}

// Build runs the full pipeline (C6): preset application, preflight
// validation, Stable Hash ID assignment, deterministic MessageID/timestamp
// derivation, tree emission, extension/trivia reinsertion, and
// canonicalization. A non-nil error is always one of ValidationError,
// BuildError, or a context cancellation; a partially-built []byte is never
// returned alongside an error.
func Build(ctx context.Context, req BuildRequest, cfg BuildConfig) (out []byte, report BuildReport, err error) {
	start := time.Now()
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	defer func() { metrics.ObserveBuild(time.Since(start), err) }()

	logger := orNop(cfg.Logger)

	if req.Message == nil {
		return nil, BuildReport{}, &BuildError{Stage: "preflight", Message: "BuildRequest.Message is nil"}
	}
	msg := req.Message
	msg.SetLogger(logger)

	report = BuildReport{AssignedIDs: map[string]string{}}

	if cfg.Preset != "" {
		if err := ApplyPreset(msg, cfg.Preset); err != nil {
			return nil, report, &BuildError{Stage: "preset", Message: "applying preset " + cfg.Preset, Err: err}
		}
	}

	if cfg.Validate {
		issues := preflightValidate(msg)
		if max := cfg.MaxValidationIssues; max > 0 && len(issues) > max {
			issues = issues[:max]
		}
		if len(issues) > 0 {
			return nil, report, &ValidationError{Issues: issues}
		}
	}

	select {
	case <-ctx.Done():
		return nil, report, ErrCancelled
	default:
	}

	resolver := newIDResolver(msg)
	assignStableIDs(msg, resolver, &report)

	if cfg.Deterministic {
		seed := deterministicSeed(msg)
		if msg.Header.MessageID == "" {
			msg.Header.MessageID = uuid.NewSHA1(deterministicNamespace, seed).String()
		}
		if msg.Header.CreatedDateTime.IsZero() {
			msg.Header.CreatedDateTime = deterministicTimestamp(seed)
		}
	} else {
		// Non-deterministic builds (cfg.Deterministic == false, e.g. a caller
		// minting a brand new delivery rather than rebuilding a parsed one)
		// fall back to the wall-clock/random conventions the rest of the
		// package's ID helpers already implement.
		if msg.Header.MessageID == "" {
			msg.Header.MessageID = GenerateMessageID("MSG")
		}
		if msg.Header.ThreadID == "" {
			msg.Header.ThreadID = GenerateThreadID("THR")
		}
		if msg.Header.CreatedDateTime.IsZero() {
			msg.Header.CreatedDateTime = time.Now().UTC()
		}
	}

	targetVersion := msg.Version
	if cfg.Version != VersionUnknown {
		targetVersion = cfg.Version
	}
	root := buildMessageTree(msg, resolver, targetVersion)

	if cfg.PreserveExtensions {
		insertExtensions(root, msg, &report)
	}
	if cfg.PreserveComments || cfg.PreserveProcessingInstructions {
		insertTrivia(root, msg, cfg, &report)
	}

	var cerr error
	if cfg.Canonical {
		out, cerr = Canonicalize(root)
	} else {
		out, cerr = serializeRaw(root, cfg)
	}
	if cerr != nil {
		return nil, report, &BuildError{Stage: "canonicalize", Message: "serializing output tree", Err: cerr}
	}

	if cfg.VerifyRoundtrip {
		if w := verifyRoundtrip(ctx, msg, out, logger); w != "" {
			report.Warnings = append(report.Warnings, w)
		}
	}

	return out, report, nil
}

// verifyRoundtrip re-parses out and compares arena counts against msg,
// returning a non-empty warning string on any mismatch. It never fails the
// build itself: a caller that wants the check fatal inspects
// BuildReport.Warnings.
func verifyRoundtrip(ctx context.Context, msg *Message, out []byte, logger *zap.Logger) string {
	reparsed, err := NewParser(DefaultParserConfig()).Parse(ctx, bytes.NewReader(out))
	if err != nil {
		logger.Warn("verify_roundtrip: re-parse of emitted output failed", zap.Error(err))
		return fmt.Sprintf("verify_roundtrip: re-parse failed: %v", err)
	}
	if len(reparsed.Releases()) != len(msg.Releases()) {
		return fmt.Sprintf("verify_roundtrip: release count mismatch (in=%d, out=%d)", len(msg.Releases()), len(reparsed.Releases()))
	}
	if len(reparsed.Resources()) != len(msg.Resources()) {
		return fmt.Sprintf("verify_roundtrip: resource count mismatch (in=%d, out=%d)", len(msg.Resources()), len(reparsed.Resources()))
	}
	if len(reparsed.Parties()) != len(msg.Parties()) {
		return fmt.Sprintf("verify_roundtrip: party count mismatch (in=%d, out=%d)", len(msg.Parties()), len(reparsed.Parties()))
	}
	if len(reparsed.Deals()) != len(msg.Deals()) {
		return fmt.Sprintf("verify_roundtrip: deal count mismatch (in=%d, out=%d)", len(msg.Deals()), len(reparsed.Deals()))
	}
	return ""
}

// deterministicSeed derives the bytes MessageID and MessageCreatedDateTime
// are content-addressed from: every release and deal reference plus its
// titles, joined in arena order. It deliberately excludes wall-clock time or
// any source of randomness so that building the same Message twice produces
// byte-identical output.
func deterministicSeed(msg *Message) []byte {
	var parts []string
	for _, rel := range msg.Releases() {
		parts = append(parts, rel.Ref)
		for _, t := range rel.Titles {
			parts = append(parts, t.Text)
		}
	}
	for _, d := range msg.Deals() {
		parts = append(parts, d.Ref)
	}
	return []byte(joinNonEmpty(parts, fieldSeparator))
}

// deterministicTimestamp derives a MessageCreatedDateTime from seed by
// hashing it and reading the first eight bytes as an unsigned integer,
// reduced modulo ten years of seconds, as a non-negative offset from a fixed
// 2000-01-01 epoch, rather than reading the wall clock, so the result is
// reproducible across builds of the same content.
func deterministicTimestamp(seed []byte) time.Time {
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	sum := sha256.Sum256(seed)
	offsetSeconds := int64(binary.BigEndian.Uint64(sum[:8]) % (10 * 365 * 24 * 3600))
	return epoch.Add(time.Duration(offsetSeconds) * time.Second)
}

// assignStableIDs fills in a missing explicit identifier on every Party,
// Resource, Release, and Deal that doesn't already have one, recording each
// assignment into report.AssignedIDs keyed by the entity's reference.
func assignStableIDs(msg *Message, resolver *idResolver, report *BuildReport) {
	for i, p := range msg.Parties() {
		if len(p.IDs) == 0 {
			id := resolver.partyID(p.Ref)
			p.IDs = append(p.IDs, PartyIdentifier{Namespace: "Proprietary", Value: id})
			msg.SetParty(i, p)
			report.AssignedIDs[p.Ref] = id
		}
	}
	for i, r := range msg.Resources() {
		if len(r.Identifiers) == 0 {
			id := resolver.resourceID(r.Ref)
			r.Identifiers = append(r.Identifiers, ResourceIdentifier{Kind: "Proprietary", Value: id})
			msg.SetResource(i, r)
			report.AssignedIDs[r.Ref] = id
		}
	}
	for i, r := range msg.Releases() {
		if len(r.IDs) == 0 {
			id := resolver.releaseID(r.Ref)
			r.IDs = append(r.IDs, ReleaseIdentifier{Kind: "Proprietary", Value: id})
			msg.SetRelease(i, r)
			report.AssignedIDs[r.Ref] = id
		}
	}
	for i, d := range msg.Deals() {
		if d.Ref == "" {
			id := resolver.dealID(d)
			d.Ref = id
			msg.SetDeal(i, d)
			report.AssignedIDs[id] = id
		}
	}
}

// preflightValidate checks the structural and format invariants Build
// refuses to serialize past: at least one release, every release carrying a
// title, and any ICPN/ISRC/ISWC identifier present being well-formed.
// Referential integrity is reported here too, as a validation issue rather
// than a LinkingError, since a Build caller has asked for output that is
// consumable and a dangling reference in newly-authored content is a defect
// rather than a tolerated fact of third-party input.
func preflightValidate(msg *Message) []ValidationIssue {
	var issues []ValidationIssue

	if len(msg.Releases()) == 0 {
		issues = append(issues, ValidationIssue{Path: "releases", Message: "message has no releases", Suggestion: "call AddRelease before building"})
	}

	for i, rel := range msg.Releases() {
		path := fmt.Sprintf("releases[%d]", i)
		if len(rel.Titles) == 0 {
			issues = append(issues, ValidationIssue{Path: path + ".Titles", Message: "release has no title"})
		}
		for _, id := range rel.IDs {
			switch id.Kind {
			case "ICPN":
				if err := validateICPN(id.Value); err != nil {
					issues = append(issues, ValidationIssue{Path: path + ".IDs", Message: err.Error(), Suggestion: "verify the 12 or 13 digit code"})
				}
			}
		}
	}

	for i, res := range msg.Resources() {
		path := fmt.Sprintf("resources[%d]", i)
		for _, id := range res.Identifiers {
			switch id.Kind {
			case "ISRC":
				if err := validateISRC(id.Value); err != nil {
					issues = append(issues, ValidationIssue{Path: path + ".Identifiers", Message: err.Error()})
				}
			case "ISWC":
				if err := validateISWC(id.Value); err != nil {
					issues = append(issues, ValidationIssue{Path: path + ".Identifiers", Message: err.Error()})
				}
			}
		}
	}

	for i, p := range msg.Parties() {
		path := fmt.Sprintf("parties[%d]", i)
		for _, id := range p.IDs {
			if id.Namespace != "DPID" {
				continue
			}
			if err := validateDPID(id.Value); err != nil {
				issues = append(issues, ValidationIssue{Path: path + ".IDs", Message: err.Error()})
			}
		}
	}

	for i, d := range msg.Deals() {
		path := fmt.Sprintf("deals[%d]", i)
		if d.ValidityStart != "" {
			if _, err := normalizeDealDate(d.ValidityStart); err != nil {
				issues = append(issues, ValidationIssue{Path: path + ".ValidityStart", Message: err.Error(), Suggestion: "use YYYY-MM-DD"})
			}
		}
		if d.ValidityEnd != "" {
			if _, err := normalizeDealDate(d.ValidityEnd); err != nil {
				issues = append(issues, ValidationIssue{Path: path + ".ValidityEnd", Message: err.Error(), Suggestion: "use YYYY-MM-DD"})
			}
		}
	}

	for _, le := range msg.CheckReferentialIntegrity() {
		le := le
		issues = append(issues, ValidationIssue{Path: le.Path, Message: le.Message})
	}

	return issues
}

// normalizeDealDate parses a Deal validity date (the calendar-date form
// DDEX uses for DealTerms/ValidityPeriod bounds) and reformats it, so a
// malformed date is rejected during preflight rather than surfacing as an
// opaque string mismatch after a parse/build round trip.
func normalizeDealDate(value string) (string, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return "", &ConversionError{Field: "ValidityPeriod", Message: fmt.Sprintf("%q is not a YYYY-MM-DD date: %v", value, err)}
	}
	return t.Format("2006-01-02"), nil
}

// buildMessageTree emits the full xmlNode tree for msg: the root element
// with its schema namespace, MessageHeader, and the four *List wrappers,
// mirroring the element shapes the Parser recognizes so a parse-then-build
// round trip is stable under canonicalization.
func buildMessageTree(msg *Message, resolver *idResolver, v Version) *xmlNode {
	if v == VersionUnknown {
		v = Version382
	}
	root := newElem("NewReleaseMessage")
	root.NamespaceURI = ernNamespaceFor(v)
	root.attr("MessageSchemaVersionId", v.String())
	if msg.Header.Profile != "" {
		root.attr("ReleaseProfileVersionId", msg.Header.Profile)
	}

	root.child(buildMessageHeaderNode(msg.Header))

	if len(msg.Parties()) > 0 {
		list := newElem("PartyList")
		for _, p := range msg.Parties() {
			list.child(buildPartyNode(p))
		}
		root.child(list)
	}

	if len(msg.Resources()) > 0 {
		list := newElem("ResourceList")
		for _, r := range msg.Resources() {
			list.child(buildResourceNode(r))
		}
		root.child(list)
	}

	if len(msg.Releases()) > 0 {
		list := newElem("ReleaseList")
		for _, r := range msg.Releases() {
			list.child(buildReleaseNode(r))
		}
		root.child(list)
	}

	if len(msg.Deals()) > 0 {
		list := newElem("DealList")
		for _, d := range msg.Deals() {
			list.child(buildDealNode(d))
		}
		root.child(list)
	}

	return root
}

func buildMessageHeaderNode(h MessageHeader) *xmlNode {
	n := newElem("MessageHeader")
	n.child(leaf("MessageId", h.MessageID))
	if h.ThreadID != "" {
		n.child(leaf("MessageThreadId", h.ThreadID))
	}
	if h.SenderPartyRef != "" {
		n.child(newElem("MessageSender").child(leaf("PartyId", h.SenderPartyRef)))
	}
	if h.RecipientPartyRef != "" {
		n.child(newElem("MessageRecipient").child(leaf("PartyId", h.RecipientPartyRef)))
	}
	if !h.CreatedDateTime.IsZero() {
		n.child(leaf("MessageCreatedDateTime", h.CreatedDateTime.UTC().Format(time.RFC3339)))
	}
	return n
}

func leaf(local, value string) *xmlNode {
	return newElem(local).text(value)
}

func buildPartyNode(p Party) *xmlNode {
	n := newElem("Party")
	n.attr("ref", p.Ref)
	for _, id := range p.IDs {
		pid := newElem("PartyId")
		if id.Namespace != "" {
			pid.attr("Namespace", id.Namespace)
		}
		pid.text(id.Value)
		n.child(pid)
	}
	for _, name := range p.Names {
		n.child(newElem("PartyName").child(leaf("FullName", name.Text)))
	}
	return n
}

func buildResourceNode(r Resource) *xmlNode {
	n := newElem(r.Kind.String())
	n.attr("ref", r.Ref)
	for _, id := range r.Identifiers {
		n.child(buildResourceIdentifierNode(r.Kind, id))
	}
	for _, t := range r.Titles {
		n.child(newElem("ReferenceTitle").child(leaf("TitleText", t.Text)))
	}
	if r.Duration != "" {
		n.child(leaf("Duration", r.Duration))
	}
	for _, td := range r.Technical {
		n.child(buildTechnicalDetailsNode(td))
	}
	return n
}

// buildResourceIdentifierNode wraps an identifier in the per-kind container
// element (SoundRecordingId, ImageId, ...) the Parser expects, so a
// build-then-parse round trip recovers the identifier rather than treating a
// bare ISRC element as an unknown extension.
func buildResourceIdentifierNode(kind ResourceKind, id ResourceIdentifier) *xmlNode {
	wrapName := "ResourceId"
	switch kind {
	case ResourceKindSoundRecording:
		wrapName = "SoundRecordingId"
	case ResourceKindImage:
		wrapName = "ImageId"
	case ResourceKindVideo:
		wrapName = "VideoId"
	}
	wrap := newElem(wrapName)
	switch id.Kind {
	case "ISRC":
		wrap.child(leaf("ISRC", id.Value))
	case "ISWC":
		wrap.child(leaf("ISWC", id.Value))
	default:
		prop := newElem("ProprietaryId")
		if id.Namespace != "" {
			prop.attr("Namespace", id.Namespace)
		}
		prop.text(id.Value)
		wrap.child(prop)
	}
	return wrap
}

func buildTechnicalDetailsNode(td TechnicalDetail) *xmlNode {
	n := newElem("TechnicalDetails")
	if td.Reference != "" {
		n.child(leaf("TechnicalResourceDetailsReference", td.Reference))
	}
	if td.Codec != "" {
		n.child(leaf("AudioCodecType", td.Codec))
	}
	if td.BitRate > 0 {
		n.child(leaf("BitRate", fmt.Sprintf("%d", td.BitRate)))
	}
	if td.SampleRate > 0 {
		n.child(leaf("SamplingRate", fmt.Sprintf("%d", td.SampleRate)))
	}
	if td.FileURI != "" {
		n.child(newElem("File").child(leaf("URI", td.FileURI)))
	}
	return n
}

func buildReleaseNode(r Release) *xmlNode {
	n := newElem("Release")
	n.attr("ref", r.Ref)
	for _, id := range r.IDs {
		n.child(buildReleaseIdentifierNode(id))
	}
	for _, t := range r.Titles {
		n.child(newElem("ReferenceTitle").child(leaf("TitleText", t.Text)))
	}
	for _, ar := range r.DisplayArtistRefs {
		n.child(newElem("DisplayArtist").child(leaf("ArtistPartyReference", ar)))
	}
	if r.ReleaseType != "" {
		n.child(leaf("ReleaseType", r.ReleaseType))
	}
	for _, g := range r.ResourceGroups {
		n.child(buildResourceGroupNode(g))
	}
	return n
}

// buildReleaseIdentifierNode wraps each identifier in a ReleaseId container,
// matching what parseReleaseIdentifier reads back.
func buildReleaseIdentifierNode(id ReleaseIdentifier) *xmlNode {
	wrap := newElem("ReleaseId")
	switch id.Kind {
	case "GRid":
		wrap.child(leaf("GRid", id.Value))
	case "ICPN":
		wrap.child(leaf("ICPN", id.Value))
	case "Catalog":
		n := newElem("CatalogNumber")
		if id.Namespace != "" {
			n.attr("Namespace", id.Namespace)
		}
		n.text(id.Value)
		wrap.child(n)
	default:
		n := newElem("ProprietaryId")
		if id.Namespace != "" {
			n.attr("Namespace", id.Namespace)
		}
		n.text(id.Value)
		wrap.child(n)
	}
	return wrap
}

func buildResourceGroupNode(g ResourceGroup) *xmlNode {
	n := newElem("ResourceGroup")
	if g.Title != "" {
		n.child(leaf("Title", g.Title))
	}
	if g.SequenceNumber != 0 {
		n.child(leaf("SequenceNumber", fmt.Sprintf("%d", g.SequenceNumber)))
	}
	for _, item := range g.Items {
		in := newElem("ResourceGroupContentItem")
		in.child(leaf("SequenceNumber", fmt.Sprintf("%d", item.SequenceNumber)))
		in.child(leaf("ReleaseResourceReference", item.ResourceRef))
		for _, lr := range item.LinkedResourceRefs {
			in.child(leaf("LinkedReleaseResourceReference", lr))
		}
		n.child(in)
	}
	for _, child := range g.Children {
		n.child(buildResourceGroupNode(child))
	}
	return n
}

func buildDealNode(d Deal) *xmlNode {
	n := newElem("ReleaseDeal")
	if d.Ref != "" {
		n.attr("ref", d.Ref)
	}
	for _, rr := range d.ReleaseRefs {
		n.child(leaf("DealReleaseReference", rr))
	}
	dt := newElem("Deal")
	terms := newElem("DealTerms")
	for _, t := range d.Territories {
		terms.child(leaf("TerritoryCode", t))
	}
	for _, m := range d.CommercialModels {
		terms.child(leaf("CommercialModelType", m))
	}
	for _, u := range d.UseTypes {
		terms.child(leaf("UseType", u))
	}
	if d.ValidityStart != "" || d.ValidityEnd != "" {
		vp := newElem("ValidityPeriod")
		if d.ValidityStart != "" {
			vp.child(leaf("StartDate", d.ValidityStart))
		}
		if d.ValidityEnd != "" {
			vp.child(leaf("EndDate", d.ValidityEnd))
		}
		terms.child(vp)
	}
	for _, rr := range d.ResourceRefs {
		terms.child(leaf("ResourceReference", rr))
	}
	dt.child(terms)
	n.child(dt)
	return n
}

// extToNode converts a captured Extension (a foreign-namespace subtree read
// verbatim during parsing) back into an xmlNode for reinsertion.
func extToNode(e *Extension) *xmlNode {
	n := newElem(e.LocalName)
	n.NamespaceURI = e.NamespaceURI
	for _, a := range e.Attrs {
		n.Attrs = append(n.Attrs, xmlAttr{NamespaceURI: a.NamespaceURI, Local: a.Local, Value: a.Value})
	}
	for _, c := range e.Children {
		switch c.Kind {
		case ExtNodeElement:
			n.child(extToNode(c.Element))
		case ExtNodeText:
			n.text(c.Text)
		}
	}
	return n
}

// insertAtAnchor splices child into n.Children at the position anchor
// describes, returning false if the anchor's target element can't be
// located (a BeforeFirstChild/AfterLastChild anchor always succeeds).
func insertAtAnchor(n *xmlNode, child xmlChild, anchor Anchor) bool {
	switch anchor.Kind {
	case AnchorBeforeFirstChild:
		n.Children = append([]xmlChild{child}, n.Children...)
		return true
	case AnchorAfterLastChild:
		n.Children = append(n.Children, child)
		return true
	case AnchorAfterElement:
		count := 0
		for i, c := range n.Children {
			if c.Element == nil || c.Element.Local != anchor.ElementName {
				continue
			}
			if count == anchor.ElementIndex {
				out := make([]xmlChild, 0, len(n.Children)+1)
				out = append(out, n.Children[:i+1]...)
				out = append(out, child)
				out = append(out, n.Children[i+1:]...)
				n.Children = out
				return true
			}
			count++
		}
		return false
	default:
		return false
	}
}

// ownerNode locates the emitted xmlNode for an extension/trivia owner by
// scanning the matching *List wrapper for a Party/Resource/Release with a
// matching ref attribute, or returns root itself for a message-level owner.
func ownerNode(root *xmlNode, owner OwnerKind, ref string) *xmlNode {
	if owner == OwnerKindMessage {
		return root
	}
	listName := map[OwnerKind]string{
		OwnerKindParty:    "PartyList",
		OwnerKindResource: "ResourceList",
		OwnerKindRelease:  "ReleaseList",
		OwnerKindDeal:     "DealList",
	}[owner]
	for _, c := range root.Children {
		if c.Element == nil || c.Element.Local != listName {
			continue
		}
		for _, entity := range c.Element.Children {
			if entity.Element == nil {
				continue
			}
			for _, a := range entity.Element.Attrs {
				if a.Local == "ref" && a.Value == ref {
					return entity.Element
				}
			}
		}
	}
	return nil
}

// insertExtensions reinserts every captured foreign-namespace subtree at its
// recorded Anchor. An anchor that no longer resolves (the element it named
// was dropped or reordered upstream of this point in the pipeline) falls
// back to appending at the end of the owner and records a warning, rather
// than dropping the extension silently.
func insertExtensions(root *xmlNode, msg *Message, report *BuildReport) {
	for k, exts := range msg.AllExtensions() {
		owner := ownerNode(root, k.Kind, k.Ref)
		if owner == nil {
			continue
		}
		for _, e := range exts {
			child := xmlChild{Element: extToNode(e)}
			if !insertAtAnchor(owner, child, e.Anchor) {
				owner.Children = append(owner.Children, child)
				report.Warnings = append(report.Warnings, fmt.Sprintf("extension %s could not be reinserted at its original anchor, appended instead", e.LocalName))
			}
		}
	}
}

// insertTrivia reinserts captured comments and processing instructions the
// same way insertExtensions reinserts foreign elements, honoring
// cfg.PreserveComments/PreserveProcessingInstructions independently.
func insertTrivia(root *xmlNode, msg *Message, cfg BuildConfig, report *BuildReport) {
	for k, trivia := range msg.AllTrivia() {
		owner := ownerNode(root, k.Kind, k.Ref)
		if owner == nil {
			continue
		}
		for _, t := range trivia {
			if t.Kind == TriviaComment && !cfg.PreserveComments {
				continue
			}
			if t.Kind == TriviaPI && !cfg.PreserveProcessingInstructions {
				continue
			}
			var child xmlChild
			if t.Kind == TriviaComment {
				child = xmlChild{Comment: t.Data}
			} else {
				child = xmlChild{PITarget: t.Target, PIData: t.Data}
			}
			if !insertAtAnchor(owner, child, t.Anchor) {
				owner.Children = append(owner.Children, child)
				report.Warnings = append(report.Warnings, "a trivia entry could not be reinserted at its original anchor, appended instead")
			}
		}
	}
}
