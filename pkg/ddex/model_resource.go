package ddex

// ResourceKind is the discriminant of the Resource sum type, mirroring the
// four DDEX resource element types this codec handles.
type ResourceKind int

const (
	ResourceKindSoundRecording ResourceKind = iota
	ResourceKindImage
	ResourceKindVideo
	ResourceKindText
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceKindSoundRecording:
		return "SoundRecording"
	case ResourceKindImage:
		return "Image"
	case ResourceKindVideo:
		return "Video"
	case ResourceKindText:
		return "Text"
	default:
		return "UnknownResource"
	}
}

// ResourceIdentifier is one identifier on a Resource: ISRC/ISWC/proprietary
// for SoundRecording, a proprietary ID for Image/Video/Text.
type ResourceIdentifier struct {
	Kind      string // "ISRC", "ISWC", "Proprietary"
	Value     string
	Namespace string // set when Kind == "Proprietary"
}

// TechnicalDetail carries the delivery-file facts DDEX associates with a
// resource: codec, bitrate, sample rate, and the file reference/URI DDEX
// uses to point at the actual audio/video/image asset (the URI is carried
// opaquely, never fetched or decoded).
type TechnicalDetail struct {
	Reference  string
	FileURI    string
	Codec      string
	BitRate    int
	SampleRate int
}

// TerritoryRights scopes a technical detail or rights grant to a set of
// included/excluded territory codes.
type TerritoryRights struct {
	TerritoryCodes         []string
	ExcludedTerritoryCodes []string
}

// Resource is a graph-model entity representing one SoundRecording, Image,
// Video, or Text element. The Kind field selects which of the type-specific
// concerns (duration for audio/video, none for image/text) apply; one
// arena-friendly type covers all four so Release.ResourceGroups can
// reference any kind uniformly.
type Resource struct {
	Kind        ResourceKind
	Ref         string
	Titles      []LocalizedText
	Identifiers []ResourceIdentifier
	Duration    string // ISO-8601, audio/video only
	Technical   []TechnicalDetail
	Territories []TerritoryRights
}
