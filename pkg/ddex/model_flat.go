package ddex

import (
	"fmt"
	"strings"
)

// FlatTrack is the flattened-model view of one track on a release: the
// resource's audio-relevant fields denormalized and joined against its
// owning release, with the graph reference kept around so edits can be
// written back.
type FlatTrack struct {
	ResourceRef string
	ISRC        string
	Title       string
	Artist      string
	Position    int
	Duration    string
	AudioURL    string
}

// FlatRelease is the flattened, denormalized developer view of one release:
// everything a caller usually wants (title, artist, tracks, territories)
// joined into a single struct, at the cost of losing the graph's sharing —
// two FlatReleases that reference the same Party each carry their own copy
// of its display name. GraphRef is a borrowing handle back into the
// Message this was derived from; ApplyFlatEdits uses it to write changes
// through.
type FlatRelease struct {
	GraphRef      string
	ID            string
	Title         string
	DisplayArtist string
	Label         string
	Date          string
	Territories   []string
	Tracks        []FlatTrack
	CoverArtURL   string
	Extensions    []*Extension
}

// ToFlat denormalizes every Release in msg into the flattened view. It is a
// pure read: the Message is never mutated, and errors reported are
// ConversionError values for releases whose structure can't be flattened
// (e.g. a resource group item pointing at a dropped resource).
func ToFlat(msg *Message) ([]FlatRelease, error) {
	out := make([]FlatRelease, 0, len(msg.releases))
	for _, rel := range msg.releases {
		fr := FlatRelease{
			GraphRef: rel.Ref,
			Title:    firstText(rel.Titles),
		}
		for _, id := range rel.IDs {
			if fr.ID == "" {
				fr.ID = id.Value
			}
		}
		if len(rel.DisplayArtistRefs) > 0 {
			if p, ok := msg.Party(rel.DisplayArtistRefs[0]); ok {
				fr.DisplayArtist = firstText(p.Names)
			}
		}
		fr.Extensions = msg.Extensions(OwnerKindRelease, rel.Ref)

		seq := 0
		var walk func(groups []ResourceGroup) error
		walk = func(groups []ResourceGroup) error {
			for _, g := range groups {
				for _, item := range g.Items {
					res, ok := msg.Resource(item.ResourceRef)
					if !ok {
						return &ConversionError{Field: "ResourceGroups", Message: fmt.Sprintf("release %q references missing resource %q", rel.Ref, item.ResourceRef)}
					}
					if res.Kind == ResourceKindImage {
						if fr.CoverArtURL == "" && len(res.Technical) > 0 {
							fr.CoverArtURL = res.Technical[0].FileURI
						}
						continue
					}
					seq++
					normalizedDuration := res.Duration
					if res.Duration != "" {
						secs, derr := parseISODuration(res.Duration)
						if derr != nil {
							return &ConversionError{Field: "Duration", Message: fmt.Sprintf("resource %q has unparseable duration %q: %v", res.Ref, res.Duration, derr)}
						}
						normalizedDuration = formatISODuration(secs)
					}
					track := FlatTrack{
						ResourceRef: res.Ref,
						Title:       firstText(res.Titles),
						Duration:    normalizedDuration,
						Position:    seq,
					}
					for _, id := range res.Identifiers {
						if id.Kind == "ISRC" {
							track.ISRC = id.Value
							break
						}
					}
					if len(res.Technical) > 0 {
						track.AudioURL = res.Technical[0].FileURI
					}
					fr.Tracks = append(fr.Tracks, track)
				}
				if err := walk(g.Children); err != nil {
					return err
				}
			}
			return nil
		}
		if err := walk(rel.ResourceGroups); err != nil {
			return nil, err
		}
		fr.Territories = dealTerritoriesFor(msg, rel.Ref)
		out = append(out, fr)
	}
	return out, nil
}

// ApplyFlatEdits writes a FlatRelease's release title and its tracks'
// titles and durations back through to the graph entities they were
// derived from, identified by GraphRef and each track's ResourceRef. Edits
// to DisplayArtist, track positions, or any other flattened field are not
// written back. It returns a ConversionError if the source release or a
// track's resource no longer exists.
func (m *Message) ApplyFlatEdits(f FlatRelease) error {
	idx, ok := m.refIndex[RefKindRelease][f.GraphRef]
	if !ok {
		return &ConversionError{Field: "GraphRef", Message: fmt.Sprintf("release %q no longer exists in this message", f.GraphRef)}
	}
	rel := m.releases[idx]
	if len(rel.Titles) == 0 {
		rel.Titles = []LocalizedText{{Text: f.Title}}
	} else {
		rel.Titles[0].Text = f.Title
	}
	m.releases[idx] = rel

	for _, t := range f.Tracks {
		ri, ok := m.refIndex[RefKindResource][t.ResourceRef]
		if !ok {
			return &ConversionError{Field: "Tracks", Message: fmt.Sprintf("resource %q no longer exists in this message", t.ResourceRef)}
		}
		res := m.resources[ri]
		if len(res.Titles) == 0 {
			res.Titles = []LocalizedText{{Text: t.Title}}
		} else {
			res.Titles[0].Text = t.Title
		}
		if t.Duration != "" {
			secs, derr := parseISODuration(t.Duration)
			if derr != nil {
				return &ConversionError{Field: "Tracks.Duration", Message: fmt.Sprintf("resource %q was given unparseable duration %q: %v", t.ResourceRef, t.Duration, derr)}
			}
			res.Duration = formatISODuration(secs)
		} else {
			res.Duration = ""
		}
		m.resources[ri] = res
	}
	return nil
}

// dealTerritoriesFor unions the territory codes of every deal covering the
// given release, in first-seen document order.
func dealTerritoriesFor(msg *Message, releaseRef string) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range msg.Deals() {
		covers := false
		for _, rr := range d.ReleaseRefs {
			if rr == releaseRef {
				covers = true
				break
			}
		}
		if !covers {
			continue
		}
		for _, t := range d.Territories {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func firstText(ts []LocalizedText) string {
	if len(ts) == 0 {
		return ""
	}
	return ts[0].Text
}

// parseISODuration parses the xs:duration form a Resource's Duration field
// carries ("PT3M45S") into whole seconds. The flattened view normalizes
// through this on every read so two resources authored with equivalent but
// textually different durations ("PT90S" vs "PT1M30S") compare equal once
// flattened.
func parseISODuration(d string) (int, error) {
	if !strings.HasPrefix(d, "PT") {
		return 0, &ConversionError{Field: "Duration", Message: fmt.Sprintf("%q is missing the PT prefix", d)}
	}
	rest := d[2:]
	var hours, minutes, seconds int
	for _, unit := range []struct {
		sep  byte
		into *int
	}{
		{'H', &hours},
		{'M', &minutes},
		{'S', &seconds},
	} {
		idx := strings.IndexByte(rest, unit.sep)
		if idx == -1 {
			continue
		}
		n, err := fmt.Sscanf(rest[:idx], "%d", unit.into)
		if err != nil || n != 1 {
			return 0, &ConversionError{Field: "Duration", Message: fmt.Sprintf("%q has a non-numeric %c component", d, unit.sep)}
		}
		rest = rest[idx+1:]
	}
	if hours == 0 && minutes == 0 && seconds == 0 && d != "PT0S" {
		return 0, &ConversionError{Field: "Duration", Message: fmt.Sprintf("%q carries no H/M/S component", d)}
	}
	return hours*3600 + minutes*60 + seconds, nil
}

// formatISODuration is parseISODuration's inverse: whole seconds back to the
// canonical "PT#H#M#S" form, omitting zero components ("PT1M", "PT1H5S"),
// except that a zero-length duration is emitted as "PT0S" so it still
// round-trips to a well-formed duration rather than an empty one.
func formatISODuration(totalSeconds int) string {
	if totalSeconds <= 0 {
		return "PT0S"
	}
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	var b strings.Builder
	b.WriteString("PT")
	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	if seconds > 0 || (hours == 0 && minutes == 0) {
		fmt.Fprintf(&b, "%dS", seconds)
	}
	return b.String()
}
