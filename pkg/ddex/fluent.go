package ddex

import "context"

// MessageBuilder is a fluent, hand-authoring entry point over the graph
// model: each With/Add method mutates an in-progress Message directly,
// letting a caller construct a small release by chaining calls instead of
// populating Party/Resource/Release/Deal literals and wiring references by
// hand. It is sugar only — everything it does is also reachable through
// Message's own Add/Set methods, and the result still goes through Build
// for validation, ID assignment, and serialization.
type MessageBuilder struct {
	msg *Message
	err error
}

// NewMessageBuilder starts a fluent build for the given schema version.
func NewMessageBuilder(v Version) *MessageBuilder {
	return &MessageBuilder{msg: NewMessage(v)}
}

func (b *MessageBuilder) fail(err error) *MessageBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// WithMessageHeader sets the sender/recipient and thread ID on the envelope.
func (b *MessageBuilder) WithMessageHeader(senderPartyRef, recipientPartyRef, threadID string) *MessageBuilder {
	b.msg.Header.SenderPartyRef = senderPartyRef
	b.msg.Header.RecipientPartyRef = recipientPartyRef
	b.msg.Header.ThreadID = threadID
	return b
}

// AddParty appends a Party with the given reference and display name and
// returns the builder for further chaining. An empty ref is filled in with a
// generated one, for a caller that doesn't care about the reference string
// itself.
func (b *MessageBuilder) AddParty(ref, name string) *MessageBuilder {
	if ref == "" {
		ref = GenerateReference("P")
	}
	if err := b.msg.AddParty(Party{Ref: ref, Names: []LocalizedText{{Text: name}}}); err != nil {
		return b.fail(err)
	}
	return b
}

// AddSoundRecording starts a ResourceBuilder for a SoundRecording, the
// common case for an audio release.
func (b *MessageBuilder) AddSoundRecording(ref, isrc, title, duration string) *ResourceBuilder {
	return &ResourceBuilder{
		parent: b,
		res: Resource{
			Kind:        ResourceKindSoundRecording,
			Ref:         ref,
			Titles:      []LocalizedText{{Text: title}},
			Identifiers: identifiersFor(isrc),
			Duration:    duration,
		},
	}
}

// AddImage starts a ResourceBuilder for cover art or another still image.
func (b *MessageBuilder) AddImage(ref, title string) *ResourceBuilder {
	return &ResourceBuilder{parent: b, res: Resource{Kind: ResourceKindImage, Ref: ref, Titles: []LocalizedText{{Text: title}}}}
}

// AddVideo starts a ResourceBuilder for a Video resource.
func (b *MessageBuilder) AddVideo(ref, title, duration string) *ResourceBuilder {
	return &ResourceBuilder{parent: b, res: Resource{Kind: ResourceKindVideo, Ref: ref, Titles: []LocalizedText{{Text: title}}, Duration: duration}}
}

// AddRelease starts a ReleaseBuilder for a new release.
func (b *MessageBuilder) AddRelease(ref, title string) *ReleaseBuilder {
	return &ReleaseBuilder{parent: b, rel: Release{Ref: ref, Titles: []LocalizedText{{Text: title}}}}
}

// AddDeal starts a DealBuilder for a new commercial deal.
func (b *MessageBuilder) AddDeal(ref string) *DealBuilder {
	return &DealBuilder{parent: b, deal: Deal{Ref: ref}}
}

// Build runs the Builder pipeline over the accumulated Message. Any error
// recorded by a chained With/Add call (a duplicate reference, most
// commonly) takes precedence over running the pipeline at all.
func (b *MessageBuilder) Build(cfg BuildConfig) ([]byte, BuildReport, error) {
	if b.err != nil {
		return nil, BuildReport{}, b.err
	}
	return Build(context.Background(), BuildRequest{Message: b.msg}, cfg)
}

// Message returns the in-progress Message without running Build, for a
// caller that wants to inspect or further mutate the graph directly.
func (b *MessageBuilder) Message() *Message { return b.msg }

func identifiersFor(isrc string) []ResourceIdentifier {
	if isrc == "" {
		return nil
	}
	return []ResourceIdentifier{{Kind: "ISRC", Value: isrc}}
}

// ResourceBuilder is the fluent continuation for a Resource being added via
// AddSoundRecording/AddImage/AddVideo.
type ResourceBuilder struct {
	parent *MessageBuilder
	res    Resource
}

// WithTechnicalDetails attaches one delivery-file technical detail.
func (r *ResourceBuilder) WithTechnicalDetails(reference, fileURI, codec string, bitRate, sampleRate int) *ResourceBuilder {
	r.res.Technical = append(r.res.Technical, TechnicalDetail{
		Reference: reference, FileURI: fileURI, Codec: codec, BitRate: bitRate, SampleRate: sampleRate,
	})
	return r
}

// WithTerritory scopes this resource to the given included/excluded
// territory codes.
func (r *ResourceBuilder) WithTerritory(included, excluded []string) *ResourceBuilder {
	r.res.Territories = append(r.res.Territories, TerritoryRights{TerritoryCodes: included, ExcludedTerritoryCodes: excluded})
	return r
}

// Done commits the resource to the Message and returns to the
// MessageBuilder for further chaining.
func (r *ResourceBuilder) Done() *MessageBuilder {
	if err := r.parent.msg.AddResource(r.res); err != nil {
		return r.parent.fail(err)
	}
	return r.parent
}

// ReleaseBuilder is the fluent continuation for a Release being added via
// AddRelease.
type ReleaseBuilder struct {
	parent *MessageBuilder
	rel    Release
}

// WithArtist appends a display-artist reference (the Party must already
// have been added, or referential integrity will flag it at build time).
func (r *ReleaseBuilder) WithArtist(partyRef string) *ReleaseBuilder {
	r.rel.DisplayArtistRefs = append(r.rel.DisplayArtistRefs, partyRef)
	return r
}

// WithICPN sets the release's UPC/EAN identifier.
func (r *ReleaseBuilder) WithICPN(icpn string) *ReleaseBuilder {
	r.rel.IDs = append(r.rel.IDs, ReleaseIdentifier{Kind: "ICPN", Value: icpn})
	return r
}

// WithReleaseType sets the DDEX ReleaseType code (Album, Single, ...).
func (r *ReleaseBuilder) WithReleaseType(t string) *ReleaseBuilder {
	r.rel.ReleaseType = t
	return r
}

// AddTrack appends a resource reference (and any linked resources, such as
// a video's associated sound recording) as the next sequenced item in the
// release's top-level resource group.
func (r *ReleaseBuilder) AddTrack(resourceRef string, linkedRefs ...string) *ReleaseBuilder {
	if len(r.rel.ResourceGroups) == 0 {
		r.rel.ResourceGroups = append(r.rel.ResourceGroups, ResourceGroup{})
	}
	g := &r.rel.ResourceGroups[0]
	g.Items = append(g.Items, ResourceGroupItem{
		SequenceNumber:     len(g.Items) + 1,
		ResourceRef:        resourceRef,
		LinkedResourceRefs: linkedRefs,
	})
	return r
}

// Done commits the release to the Message and returns to the MessageBuilder.
func (r *ReleaseBuilder) Done() *MessageBuilder {
	if err := r.parent.msg.AddRelease(r.rel); err != nil {
		return r.parent.fail(err)
	}
	return r.parent
}

// DealBuilder is the fluent continuation for a Deal being added via
// AddDeal.
type DealBuilder struct {
	parent *MessageBuilder
	deal   Deal
}

// WithTerritory appends a territory code the deal applies in.
func (d *DealBuilder) WithTerritory(code string) *DealBuilder {
	d.deal.Territories = append(d.deal.Territories, code)
	return d
}

// WithValidityPeriod sets the deal's start/end dates (ISO-8601 dates,
// either of which may be left empty for an open-ended window).
func (d *DealBuilder) WithValidityPeriod(start, end string) *DealBuilder {
	d.deal.ValidityStart = start
	d.deal.ValidityEnd = end
	return d
}

// WithCommercialModel appends a commercial model type (e.g. "PayAsYouGoModel").
func (d *DealBuilder) WithCommercialModel(model string) *DealBuilder {
	d.deal.CommercialModels = append(d.deal.CommercialModels, model)
	return d
}

// WithUseType appends a use type (e.g. "PermanentDownload", "OnDemandStream").
func (d *DealBuilder) WithUseType(useType string) *DealBuilder {
	d.deal.UseTypes = append(d.deal.UseTypes, useType)
	return d
}

// ForRelease appends a release reference this deal covers.
func (d *DealBuilder) ForRelease(releaseRef string) *DealBuilder {
	d.deal.ReleaseRefs = append(d.deal.ReleaseRefs, releaseRef)
	return d
}

// Done commits the deal to the Message and returns to the MessageBuilder.
func (d *DealBuilder) Done() *MessageBuilder {
	if err := d.parent.msg.AddDeal(d.deal); err != nil {
		return d.parent.fail(err)
	}
	return d.parent
}
