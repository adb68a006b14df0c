package ddex

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Version identifies a DDEX ERN schema version this codec understands.
type Version int

const (
	VersionUnknown Version = iota
	Version382
	Version42
	Version43
)

func (v Version) String() string {
	switch v {
	case Version382:
		return "ern/382"
	case Version42:
		return "ern/42"
	case Version43:
		return "ern/43"
	default:
		return "unknown"
	}
}

// RefKind identifies which arena a reference string belongs to. Reference
// namespaces are scoped per kind: a Party reference and a Resource
// reference may share the same string without colliding.
type RefKind int

const (
	RefKindParty RefKind = iota
	RefKindResource
	RefKindRelease
	RefKindDeal
)

func (k RefKind) String() string {
	switch k {
	case RefKindParty:
		return "party"
	case RefKindResource:
		return "resource"
	case RefKindRelease:
		return "release"
	case RefKindDeal:
		return "deal"
	default:
		return "unknown"
	}
}

// LocalizedText pairs a text value with its language and an optional title
// subtype (DDEX TitleText/DisplayTitleText/PartyName all take this shape).
type LocalizedText struct {
	Text         string
	LanguageCode string
	Type         string
}

// PartyIdentifier is one identifier attached to a Party (ISNI, DPID,
// IPI name number, or a proprietary namespace/value pair).
type PartyIdentifier struct {
	Namespace string
	Value     string
}

// MessageHeader carries the envelope metadata common to every ERN message.
type MessageHeader struct {
	MessageID         string
	ThreadID          string
	CreatedDateTime   time.Time
	SenderPartyRef    string
	RecipientPartyRef string
	Profile           string
	SchemaVersion     Version
}

// Party is a graph-model entity: a named, identified participant referenced
// by Release.DisplayArtistRefs, resource contributor lists, and deal/message
// header party references.
type Party struct {
	Ref   string
	IDs   []PartyIdentifier
	Names []LocalizedText
}

// Message is the root of the graph model: an arena of Party, Resource,
// Release, and Deal entities plus the cross-reference index, captured
// extensions, and captured trivia that together let a Builder reproduce the
// source document faithfully. All fields are accessed through methods so the
// reference index stays consistent; a Message is single-threaded.
type Message struct {
	Version Version
	Header  MessageHeader

	parties   []Party
	resources []Resource
	releases  []Release
	deals     []Deal

	refIndex map[RefKind]map[string]int

	extensions map[ownerKey][]*Extension
	trivia     map[ownerKey][]*Trivia

	warnings []error
	logger   *zap.Logger
}

// NewMessage constructs an empty Message for the given schema version, ready
// for AddParty/AddResource/AddRelease/AddDeal calls (the fluent
// hand-authoring path) or for a Parser to populate.
func NewMessage(v Version) *Message {
	return &Message{
		Version: v,
		refIndex: map[RefKind]map[string]int{
			RefKindParty:    {},
			RefKindResource: {},
			RefKindRelease:  {},
			RefKindDeal:     {},
		},
		extensions: map[ownerKey][]*Extension{},
		trivia:     map[ownerKey][]*Trivia{},
		logger:     zap.NewNop(),
	}
}

// SetLogger attaches a structured logger used for Warn-level recoverable
// conditions (unresolved references, legacy version coercion). A nil logger
// is treated as zap.NewNop().
func (m *Message) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	m.logger = l
}

func (m *Message) log() *zap.Logger {
	if m.logger == nil {
		return zap.NewNop()
	}
	return m.logger
}

func (m *Message) addWarning(err error) {
	m.warnings = append(m.warnings, err)
	m.log().Warn("ddex: recoverable condition", zap.Error(err))
}

// Warnings returns the recoverable issues (chiefly LinkingError values)
// accumulated while building this Message, in the order they were found.
func (m *Message) Warnings() []error { return m.warnings }

func (m *Message) index(kind RefKind, ref string, i int) error {
	if _, exists := m.refIndex[kind][ref]; exists {
		return &ParseError{Kind: "duplicate-reference", Message: fmt.Sprintf("%s reference %q is already in use", kind, ref)}
	}
	m.refIndex[kind][ref] = i
	return nil
}

// AddParty appends a Party to the arena, indexing it by its Ref.
func (m *Message) AddParty(p Party) error {
	if err := m.index(RefKindParty, p.Ref, len(m.parties)); err != nil {
		return err
	}
	m.parties = append(m.parties, p)
	return nil
}

// AddResource appends a Resource to the arena, indexing it by its Ref.
func (m *Message) AddResource(r Resource) error {
	if err := m.index(RefKindResource, r.Ref, len(m.resources)); err != nil {
		return err
	}
	m.resources = append(m.resources, r)
	return nil
}

// AddRelease appends a Release to the arena, indexing it by its Ref.
func (m *Message) AddRelease(r Release) error {
	if err := m.index(RefKindRelease, r.Ref, len(m.releases)); err != nil {
		return err
	}
	m.releases = append(m.releases, r)
	return nil
}

// AddDeal appends a Deal to the arena, indexing it by its Ref. Deals parsed
// from documents that don't carry an explicit deal reference get a
// position-derived one, so two refless deals never collide in the index.
func (m *Message) AddDeal(d Deal) error {
	if d.Ref == "" {
		d.Ref = fmt.Sprintf("DEAL%d", len(m.deals)+1)
	}
	if err := m.index(RefKindDeal, d.Ref, len(m.deals)); err != nil {
		return err
	}
	m.deals = append(m.deals, d)
	return nil
}

// Parties returns the Party arena in insertion order.
func (m *Message) Parties() []Party { return m.parties }

// Resources returns the Resource arena in insertion order.
func (m *Message) Resources() []Resource { return m.resources }

// Releases returns the Release arena in insertion order.
func (m *Message) Releases() []Release { return m.releases }

// Deals returns the Deal arena in insertion order.
func (m *Message) Deals() []Deal { return m.deals }

// Party resolves a Party reference to its entity.
func (m *Message) Party(ref string) (*Party, bool) {
	i, ok := m.refIndex[RefKindParty][ref]
	if !ok {
		return nil, false
	}
	return &m.parties[i], true
}

// Resource resolves a Resource reference to its entity.
func (m *Message) Resource(ref string) (*Resource, bool) {
	i, ok := m.refIndex[RefKindResource][ref]
	if !ok {
		return nil, false
	}
	return &m.resources[i], true
}

// Release resolves a Release reference to its entity.
func (m *Message) Release(ref string) (*Release, bool) {
	i, ok := m.refIndex[RefKindRelease][ref]
	if !ok {
		return nil, false
	}
	return &m.releases[i], true
}

// Deal resolves a Deal reference to its entity.
func (m *Message) Deal(ref string) (*Deal, bool) {
	i, ok := m.refIndex[RefKindDeal][ref]
	if !ok {
		return nil, false
	}
	return &m.deals[i], true
}

// SetRelease overwrites the Release at the given arena index, used by
// ApplyFlatEdits and by callers mutating a parsed graph in place.
func (m *Message) SetRelease(i int, r Release) {
	m.releases[i] = r
}

// SetParty overwrites the Party at the given arena index.
func (m *Message) SetParty(i int, p Party) { m.parties[i] = p }

// SetResource overwrites the Resource at the given arena index.
func (m *Message) SetResource(i int, r Resource) { m.resources[i] = r }

// SetDeal overwrites the Deal at the given arena index.
func (m *Message) SetDeal(i int, d Deal) { m.deals[i] = d }

// AddExtension attaches a captured foreign-namespace subtree to its owner.
func (m *Message) AddExtension(e *Extension) {
	k := ownerKey{Kind: e.Owner, Ref: e.OwnerRef}
	m.extensions[k] = append(m.extensions[k], e)
}

// Extensions returns the foreign-namespace subtrees captured for the given
// owner, in document order.
func (m *Message) Extensions(kind OwnerKind, ref string) []*Extension {
	return m.extensions[ownerKey{Kind: kind, Ref: ref}]
}

// AllExtensions returns every captured extension, grouped by owner, for use
// by the Builder's extension-reinsertion stage.
func (m *Message) AllExtensions() map[ownerKey][]*Extension { return m.extensions }

// AddTrivia attaches a captured comment or processing instruction to its
// owner.
func (m *Message) AddTrivia(t *Trivia) {
	k := ownerKey{Kind: t.Owner, Ref: t.OwnerRef}
	m.trivia[k] = append(m.trivia[k], t)
}

// Trivia returns the comments/PIs captured for the given owner, in document
// order.
func (m *Message) Trivia(kind OwnerKind, ref string) []*Trivia {
	return m.trivia[ownerKey{Kind: kind, Ref: ref}]
}

// AllTrivia returns every captured trivia entry, grouped by owner.
func (m *Message) AllTrivia() map[ownerKey][]*Trivia { return m.trivia }

// CheckReferentialIntegrity walks every cross-reference in the graph and
// returns a LinkingError for each one that does not resolve. It never
// mutates the Message and never returns a fatal error: dangling references
// are a recoverable condition.
func (m *Message) CheckReferentialIntegrity() []LinkingError {
	var errs []LinkingError
	checkRef := func(kind RefKind, ref, path string) {
		if ref == "" {
			return
		}
		if _, ok := m.refIndex[kind][ref]; !ok {
			errs = append(errs, LinkingError{Path: path, Message: fmt.Sprintf("%s reference %q does not resolve", kind, ref)})
		}
	}
	for ri, rel := range m.releases {
		for _, ar := range rel.DisplayArtistRefs {
			checkRef(RefKindParty, ar, fmt.Sprintf("releases[%d].DisplayArtistRefs", ri))
		}
		walkResourceGroup(rel.ResourceGroups, func(path string, item ResourceGroupItem) {
			checkRef(RefKindResource, item.ResourceRef, path)
			for _, lr := range item.LinkedResourceRefs {
				checkRef(RefKindResource, lr, path)
			}
		}, fmt.Sprintf("releases[%d].ResourceGroups", ri))
	}
	for di, d := range m.deals {
		for _, rr := range d.ReleaseRefs {
			checkRef(RefKindRelease, rr, fmt.Sprintf("deals[%d].ReleaseRefs", di))
		}
		for _, rr := range d.ResourceRefs {
			checkRef(RefKindResource, rr, fmt.Sprintf("deals[%d].ResourceRefs", di))
		}
	}
	// Header sender/recipient are DPIDs, not PartyList references (see
	// readFirstPartyRef), so they are deliberately not checked here.
	return errs
}

func walkResourceGroup(groups []ResourceGroup, fn func(path string, item ResourceGroupItem), path string) {
	for gi, g := range groups {
		gp := fmt.Sprintf("%s[%d]", path, gi)
		for _, item := range g.Items {
			fn(gp, item)
		}
		walkResourceGroup(g.Children, fn, gp+".Children")
	}
}

// OrphanResources returns the refs of resources that no Release's resource
// group references — useful as a build-time warning but not an error.
func (m *Message) OrphanResources() []string {
	referenced := map[string]bool{}
	for _, rel := range m.releases {
		walkResourceGroup(rel.ResourceGroups, func(_ string, item ResourceGroupItem) {
			referenced[item.ResourceRef] = true
			for _, lr := range item.LinkedResourceRefs {
				referenced[lr] = true
			}
		}, "")
	}
	var orphans []string
	for _, r := range m.resources {
		if !referenced[r.Ref] {
			orphans = append(orphans, r.Ref)
		}
	}
	return orphans
}
