package ddex

// ReleaseIdentifier is one identifier on a Release: GRid, ICPN (UPC/EAN), a
// label catalog number, or a proprietary namespace/value pair.
type ReleaseIdentifier struct {
	Kind      string // "GRid", "ICPN", "Catalog", "Proprietary"
	Value     string
	Namespace string
}

// ResourceGroupItem places one resource (and any linked resources, such as
// a video's associated sound recording) at a position within a
// ResourceGroup.
type ResourceGroupItem struct {
	SequenceNumber     int
	ResourceRef        string
	LinkedResourceRefs []string
}

// ResourceGroup is a node in a Release's resource-group tree (DDEX allows
// nested groups, e.g. disc -> tracks). Children recurse; Items are the
// leaves at this level.
type ResourceGroup struct {
	Title          string
	SequenceNumber int
	Items          []ResourceGroupItem
	Children       []ResourceGroup
}

// Release is a graph-model entity for one release (album, single, or video
// release). DisplayArtistRefs and the resource refs inside ResourceGroups
// are lookups into the Message's Party and Resource arenas, not owned
// copies — the arena+handle discipline described in the data model.
type Release struct {
	Ref               string
	IDs               []ReleaseIdentifier
	Titles            []LocalizedText
	DisplayArtistRefs []string
	ReleaseType       string
	ResourceGroups    []ResourceGroup
}

// Deal is a graph-model entity for one commercial deal: the territories,
// validity window, commercial models, and use types under which one or more
// releases/resources may be made available.
type Deal struct {
	Ref              string
	Territories      []string
	ValidityStart    string
	ValidityEnd      string
	CommercialModels []string
	UseTypes         []string
	ReleaseRefs      []string
	ResourceRefs     []string
}
