package ddex

import (
	"encoding/xml"
	"strings"
)

func (p *Parser) parseParty(dec *xml.Decoder, start xml.StartElement, depth int) (Party, []*Extension, []*Trivia, error) {
	party := Party{}
	var exts []*Extension
	var trivia []*Trivia
	for _, a := range start.Attr {
		if a.Name.Local == "PartyReference" || a.Name.Local == "ref" {
			party.Ref = a.Value
		}
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return party, exts, trivia, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "PartyReference":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return party, exts, trivia, err
				}
				party.Ref = text
			case "PartyId":
				text, attrs, err := readSimpleText(dec, t)
				if err != nil {
					return party, exts, trivia, err
				}
				party.IDs = append(party.IDs, PartyIdentifier{Namespace: attrs["Namespace"], Value: text})
			case "PartyName":
				lt, err := parseNameElement(dec, t)
				if err != nil {
					return party, exts, trivia, err
				}
				party.Names = append(party.Names, lt)
			default:
				if !p.cfg.IncludeRawExtensions {
					if err := skipElement(dec, t); err != nil {
						return party, exts, trivia, err
					}
					continue
				}
				ext, err := p.captureExtension(dec, t, OwnerKindParty, "", depth+1)
				if err != nil {
					return party, exts, trivia, err
				}
				exts = append(exts, ext)
			}
		case xml.Comment:
			trivia = append(trivia, &Trivia{Kind: TriviaComment, Data: string(t), Owner: OwnerKindParty, Anchor: Anchor{Kind: AnchorAfterLastChild}})
		case xml.ProcInst:
			trivia = append(trivia, &Trivia{Kind: TriviaPI, Target: t.Target, Data: string(t.Inst), Owner: OwnerKindParty, Anchor: Anchor{Kind: AnchorAfterLastChild}})
		case xml.EndElement:
			if t.Name == start.Name {
				return party, exts, trivia, nil
			}
		}
	}
}

// parseNameElement reads a PartyName/FullName-shaped element: a FullName
// child carries the text, with optional language/type attributes on the
// outer element.
func parseNameElement(dec *xml.Decoder, start xml.StartElement) (LocalizedText, error) {
	lt := LocalizedText{}
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "LanguageAndScriptCode":
			lt.LanguageCode = a.Value
		case "NameType", "TitleType":
			lt.Type = a.Value
		}
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return lt, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "FullName" || t.Name.Local == "TitleText" {
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return lt, err
				}
				if lt.Text == "" {
					lt.Text = text
				}
			} else {
				if err := skipElement(dec, t); err != nil {
					return lt, err
				}
			}
		case xml.CharData:
			// Indentation between the outer element and its FullName/TitleText
			// child is layout, not the name itself.
			if lt.Text == "" && strings.TrimSpace(string(t)) != "" {
				lt.Text = string(t)
			}
		case xml.EndElement:
			depth--
		}
	}
	return lt, nil
}

func (p *Parser) parseResource(dec *xml.Decoder, start xml.StartElement, kind ResourceKind, depth int) (Resource, []*Extension, []*Trivia, error) {
	res := Resource{Kind: kind}
	var exts []*Extension
	var trivia []*Trivia
	for _, a := range start.Attr {
		if a.Name.Local == "ResourceReference" || a.Name.Local == "ref" {
			res.Ref = a.Value
		}
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return res, exts, trivia, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "ResourceReference":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return res, exts, trivia, err
				}
				res.Ref = text
			case "SoundRecordingId", "ImageId", "VideoId", "ResourceId":
				id, err := parseResourceIdentifier(dec, t)
				if err != nil {
					return res, exts, trivia, err
				}
				res.Identifiers = append(res.Identifiers, id)
			case "ReferenceTitle", "DisplayTitleText", "TitleText":
				lt, err := parseNameElement(dec, t)
				if err != nil {
					return res, exts, trivia, err
				}
				res.Titles = append(res.Titles, lt)
			case "Duration":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return res, exts, trivia, err
				}
				res.Duration = text
			case "TechnicalDetails":
				td, err := parseTechnicalDetails(dec, t)
				if err != nil {
					return res, exts, trivia, err
				}
				res.Technical = append(res.Technical, td)
			default:
				if !p.cfg.IncludeRawExtensions {
					if err := skipElement(dec, t); err != nil {
						return res, exts, trivia, err
					}
					continue
				}
				ext, err := p.captureExtension(dec, t, OwnerKindResource, "", depth+1)
				if err != nil {
					return res, exts, trivia, err
				}
				exts = append(exts, ext)
			}
		case xml.Comment:
			trivia = append(trivia, &Trivia{Kind: TriviaComment, Data: string(t), Owner: OwnerKindResource, Anchor: Anchor{Kind: AnchorAfterLastChild}})
		case xml.ProcInst:
			trivia = append(trivia, &Trivia{Kind: TriviaPI, Target: t.Target, Data: string(t.Inst), Owner: OwnerKindResource, Anchor: Anchor{Kind: AnchorAfterLastChild}})
		case xml.EndElement:
			if t.Name == start.Name {
				return res, exts, trivia, nil
			}
		}
	}
}

func parseResourceIdentifier(dec *xml.Decoder, start xml.StartElement) (ResourceIdentifier, error) {
	kind := "Proprietary"
	switch start.Name.Local {
	case "SoundRecordingId":
		kind = "ISRC"
	case "VideoId":
		kind = "Proprietary"
	}
	id := ResourceIdentifier{Kind: kind}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return id, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "ISRC":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return id, err
				}
				id.Kind = "ISRC"
				id.Value = text
			case "ISWC":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return id, err
				}
				id.Kind = "ISWC"
				id.Value = text
			case "ProprietaryId":
				text, attrs, err := readSimpleText(dec, t)
				if err != nil {
					return id, err
				}
				id.Kind = "Proprietary"
				id.Value = text
				id.Namespace = attrs["Namespace"]
			default:
				if err := skipElement(dec, t); err != nil {
					return id, err
				}
			}
		case xml.CharData:
			if id.Value == "" {
				id.Value = string(t)
			}
		case xml.EndElement:
			depth--
		}
	}
	return id, nil
}

func parseTechnicalDetails(dec *xml.Decoder, start xml.StartElement) (TechnicalDetail, error) {
	td := TechnicalDetail{}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return td, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "TechnicalResourceDetailsReference":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return td, err
				}
				td.Reference = text
			case "File":
				uri, err := readFileURI(dec, t)
				if err != nil {
					return td, err
				}
				td.FileURI = uri
			case "AudioCodecType", "VideoCodecType", "ImageCodecType":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return td, err
				}
				td.Codec = text
			case "BitRate":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return td, err
				}
				td.BitRate = atoiOr(text, 0)
			case "SamplingRate":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return td, err
				}
				td.SampleRate = atoiOr(text, 0)
			default:
				if err := skipElement(dec, t); err != nil {
					return td, err
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return td, nil
}

func readFileURI(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var uri string
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "URI" || t.Name.Local == "FileName" {
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return "", err
				}
				uri = text
			} else {
				if err := skipElement(dec, t); err != nil {
					return "", err
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return uri, nil
}

func (p *Parser) parseRelease(dec *xml.Decoder, start xml.StartElement, depth int) (Release, []*Extension, []*Trivia, error) {
	rel := Release{}
	var exts []*Extension
	var trivia []*Trivia
	for _, a := range start.Attr {
		if a.Name.Local == "ReleaseReference" || a.Name.Local == "ref" {
			rel.Ref = a.Value
		}
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return rel, exts, trivia, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "ReleaseReference":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return rel, exts, trivia, err
				}
				rel.Ref = text
			case "ReleaseId":
				id, err := parseReleaseIdentifier(dec, t)
				if err != nil {
					return rel, exts, trivia, err
				}
				rel.IDs = append(rel.IDs, id)
			case "ReferenceTitle", "DisplayTitleText", "TitleText":
				lt, err := parseNameElement(dec, t)
				if err != nil {
					return rel, exts, trivia, err
				}
				rel.Titles = append(rel.Titles, lt)
			case "DisplayArtist":
				ref, err := readPartyReferenceElement(dec, t)
				if err != nil {
					return rel, exts, trivia, err
				}
				if ref != "" {
					rel.DisplayArtistRefs = append(rel.DisplayArtistRefs, ref)
				}
			case "ReleaseType":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return rel, exts, trivia, err
				}
				rel.ReleaseType = text
			case "ResourceGroup":
				rg, err := p.parseResourceGroup(dec, t, depth+1)
				if err != nil {
					return rel, exts, trivia, err
				}
				rel.ResourceGroups = append(rel.ResourceGroups, rg)
			default:
				if !p.cfg.IncludeRawExtensions {
					if err := skipElement(dec, t); err != nil {
						return rel, exts, trivia, err
					}
					continue
				}
				ext, err := p.captureExtension(dec, t, OwnerKindRelease, "", depth+1)
				if err != nil {
					return rel, exts, trivia, err
				}
				exts = append(exts, ext)
			}
		case xml.Comment:
			trivia = append(trivia, &Trivia{Kind: TriviaComment, Data: string(t), Owner: OwnerKindRelease, Anchor: Anchor{Kind: AnchorAfterLastChild}})
		case xml.ProcInst:
			trivia = append(trivia, &Trivia{Kind: TriviaPI, Target: t.Target, Data: string(t.Inst), Owner: OwnerKindRelease, Anchor: Anchor{Kind: AnchorAfterLastChild}})
		case xml.EndElement:
			if t.Name == start.Name {
				return rel, exts, trivia, nil
			}
		}
	}
}

func parseReleaseIdentifier(dec *xml.Decoder, start xml.StartElement) (ReleaseIdentifier, error) {
	id := ReleaseIdentifier{Kind: "Proprietary"}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return id, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "GRid":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return id, err
				}
				id.Kind = "GRid"
				id.Value = text
			case "ICPN":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return id, err
				}
				id.Kind = "ICPN"
				id.Value = text
			case "CatalogNumber":
				text, attrs, err := readSimpleText(dec, t)
				if err != nil {
					return id, err
				}
				id.Kind = "Catalog"
				id.Value = text
				id.Namespace = attrs["Namespace"]
			case "ProprietaryId":
				text, attrs, err := readSimpleText(dec, t)
				if err != nil {
					return id, err
				}
				id.Value = text
				id.Namespace = attrs["Namespace"]
			default:
				if err := skipElement(dec, t); err != nil {
					return id, err
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return id, nil
}

func readPartyReferenceElement(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var ref string
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "ArtistPartyReference" || t.Name.Local == "PartyReference" {
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return "", err
				}
				ref = text
			} else {
				if err := skipElement(dec, t); err != nil {
					return "", err
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return ref, nil
}

func (p *Parser) parseResourceGroup(dec *xml.Decoder, start xml.StartElement, depth int) (ResourceGroup, error) {
	rg := ResourceGroup{}
	seq := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return rg, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "SequenceNumber":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return rg, err
				}
				rg.SequenceNumber = atoiOr(text, 0)
			case "Title", "ReferenceTitle":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return rg, err
				}
				rg.Title = text
			case "ResourceGroupContentItem":
				seq++
				item, err := parseResourceGroupItem(dec, t, seq)
				if err != nil {
					return rg, err
				}
				rg.Items = append(rg.Items, item)
			case "ResourceGroup":
				child, err := p.parseResourceGroup(dec, t, depth+1)
				if err != nil {
					return rg, err
				}
				rg.Children = append(rg.Children, child)
			default:
				if err := skipElement(dec, t); err != nil {
					return rg, err
				}
			}
		case xml.EndElement:
			if t.Name == start.Name {
				return rg, nil
			}
		}
	}
}

func parseResourceGroupItem(dec *xml.Decoder, start xml.StartElement, seq int) (ResourceGroupItem, error) {
	item := ResourceGroupItem{SequenceNumber: seq}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return item, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "ReleaseResourceReference", "ResourceReference":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return item, err
				}
				if item.ResourceRef == "" {
					item.ResourceRef = text
				} else {
					item.LinkedResourceRefs = append(item.LinkedResourceRefs, text)
				}
			case "LinkedReleaseResourceReference":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return item, err
				}
				item.LinkedResourceRefs = append(item.LinkedResourceRefs, text)
			default:
				if err := skipElement(dec, t); err != nil {
					return item, err
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return item, nil
}

func (p *Parser) parseDeal(dec *xml.Decoder, start xml.StartElement, depth int) (Deal, []*Extension, []*Trivia, error) {
	deal := Deal{}
	var exts []*Extension
	var trivia []*Trivia
	for _, a := range start.Attr {
		if a.Name.Local == "DealReference" || a.Name.Local == "ref" {
			deal.Ref = a.Value
		}
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return deal, exts, trivia, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "DealReleaseReference", "ReleaseReference":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return deal, exts, trivia, err
				}
				deal.ReleaseRefs = append(deal.ReleaseRefs, text)
			case "Deal":
				if err := p.parseDealTermsWrapper(dec, t, &deal); err != nil {
					return deal, exts, trivia, err
				}
			case "DealTerms":
				if err := applyDealTerms(dec, t, &deal); err != nil {
					return deal, exts, trivia, err
				}
			default:
				if !p.cfg.IncludeRawExtensions {
					if err := skipElement(dec, t); err != nil {
						return deal, exts, trivia, err
					}
					continue
				}
				ext, err := p.captureExtension(dec, t, OwnerKindDeal, "", depth+1)
				if err != nil {
					return deal, exts, trivia, err
				}
				exts = append(exts, ext)
			}
		case xml.Comment:
			trivia = append(trivia, &Trivia{Kind: TriviaComment, Data: string(t), Owner: OwnerKindDeal, Anchor: Anchor{Kind: AnchorAfterLastChild}})
		case xml.ProcInst:
			trivia = append(trivia, &Trivia{Kind: TriviaPI, Target: t.Target, Data: string(t.Inst), Owner: OwnerKindDeal, Anchor: Anchor{Kind: AnchorAfterLastChild}})
		case xml.EndElement:
			if t.Name == start.Name {
				return deal, exts, trivia, nil
			}
		}
	}
}

func (p *Parser) parseDealTermsWrapper(dec *xml.Decoder, start xml.StartElement, deal *Deal) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "DealTerms" {
				if err := applyDealTerms(dec, t, deal); err != nil {
					return err
				}
			} else {
				if err := skipElement(dec, t); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

func applyDealTerms(dec *xml.Decoder, start xml.StartElement, deal *Deal) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "TerritoryCode":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return err
				}
				deal.Territories = append(deal.Territories, text)
			case "CommercialModelType":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return err
				}
				deal.CommercialModels = append(deal.CommercialModels, text)
			case "UseType":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return err
				}
				deal.UseTypes = append(deal.UseTypes, text)
			case "ValidityPeriod":
				validFrom, validTo, err := parseValidityPeriod(dec, t)
				if err != nil {
					return err
				}
				deal.ValidityStart, deal.ValidityEnd = validFrom, validTo
			case "ResourceReference":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return err
				}
				deal.ResourceRefs = append(deal.ResourceRefs, text)
			default:
				if err := skipElement(dec, t); err != nil {
					return err
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func parseValidityPeriod(dec *xml.Decoder, start xml.StartElement) (string, string, error) {
	var startDate, endDate string
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", "", wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "StartDate":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return "", "", err
				}
				startDate = text
			case "EndDate":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return "", "", err
				}
				endDate = text
			default:
				if err := skipElement(dec, t); err != nil {
					return "", "", err
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return startDate, endDate, nil
}

// captureUnknownAsExtension recursively captures an unrecognized element's
// entire subtree as an Extension anchored after the owner's last child
// (AnchorAfterLastChild), attaching it to the given owner. Its position
// among the owner's other children is not recorded. msg may be nil when capturing
// inside a builder still under construction (the caller attaches it once
// the owner's Ref is known).
func (p *Parser) captureUnknownAsExtension(dec *xml.Decoder, start xml.StartElement, owner OwnerKind, ownerRef string, depth int, msg *Message) error {
	ext, err := p.captureExtension(dec, start, owner, ownerRef, depth)
	if err != nil {
		return err
	}
	if !p.cfg.IncludeRawExtensions {
		return nil
	}
	if msg != nil {
		msg.AddExtension(ext)
	}
	return nil
}

func (p *Parser) captureExtension(dec *xml.Decoder, start xml.StartElement, owner OwnerKind, ownerRef string, depth int) (*Extension, error) {
	if err := p.gate.CheckDepth(depth); err != nil {
		return nil, err
	}
	ext := &Extension{
		NamespaceURI: start.Name.Space,
		LocalName:    start.Name.Local,
		Owner:        owner,
		OwnerRef:     ownerRef,
		Anchor:       Anchor{Kind: AnchorAfterLastChild},
	}
	for _, a := range start.Attr {
		// xmlns declarations are not content: the Builder re-derives
		// namespace declarations from the captured URIs on emission.
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		ext.Attrs = append(ext.Attrs, ExtAttr{NamespaceURI: a.Name.Space, Local: a.Name.Local, Value: a.Value})
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := p.captureExtension(dec, t, owner, ownerRef, depth+1)
			if err != nil {
				return nil, err
			}
			ext.Children = append(ext.Children, ExtNode{Kind: ExtNodeElement, Element: child})
		case xml.CharData:
			text := string(t)
			if text == "" {
				continue
			}
			// Whitespace between child elements is layout, not content;
			// keep it only when the caller asked for it.
			if strings.TrimSpace(text) == "" && !p.cfg.PreserveWhitespace {
				continue
			}
			ext.Children = append(ext.Children, ExtNode{Kind: ExtNodeText, Text: text})
		case xml.EndElement:
			if t.Name == start.Name {
				return ext, nil
			}
		}
	}
}
