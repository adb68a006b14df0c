package ddex

import "fmt"

// Preset is a named bundle of default field values a Builder can apply to a
// Message before validation, saving a caller from repeating the same
// boilerplate (profile, release type, use types) across every message of a
// given delivery shape.
type Preset struct {
	Name        string
	ReleaseType string
	Profile     string
	UseTypes    []string
}

var presets = map[string]Preset{
	"audio_album": {
		Name:        "audio_album",
		ReleaseType: "Album",
		Profile:     "AudioAlbumMusicOnly",
		UseTypes:    []string{"PermanentDownload", "OnDemandStream"},
	},
	"audio_single": {
		Name:        "audio_single",
		ReleaseType: "Single",
		Profile:     "AudioSingleMusicOnly",
		UseTypes:    []string{"PermanentDownload", "OnDemandStream"},
	},
	"video_single": {
		Name:        "video_single",
		ReleaseType: "VideoSingle",
		Profile:     "VideoSingleMusicOnly",
		UseTypes:    []string{"OnDemandStream"},
	},
	"youtube_music": {
		Name:        "youtube_music",
		ReleaseType: "VideoSingle",
		Profile:     "VideoSingleMusicOnly",
		UseTypes:    []string{"OnDemandStream", "StreamNonInteractive"},
	},
}

// ApplyPreset fills msg.Header.Profile and every release's ReleaseType with
// the named preset's defaults, and every deal's UseTypes when the deal
// didn't already specify one. A field the caller already set explicitly to
// a conflicting value is left untouched but reported as a
// PresetConflictError rather than silently overridden, since a caller who
// set a field on purpose almost certainly didn't mean for a preset to win.
func ApplyPreset(msg *Message, name string) error {
	p, ok := presets[name]
	if !ok {
		return fmt.Errorf("ddex: unknown preset %q", name)
	}

	if msg.Header.Profile == "" {
		msg.Header.Profile = p.Profile
	} else if msg.Header.Profile != p.Profile {
		return &PresetConflictError{Preset: name, Field: "Header.Profile", Have: msg.Header.Profile, Want: p.Profile}
	}

	for i, rel := range msg.Releases() {
		if rel.ReleaseType == "" {
			rel.ReleaseType = p.ReleaseType
			msg.SetRelease(i, rel)
		} else if rel.ReleaseType != p.ReleaseType {
			return &PresetConflictError{Preset: name, Field: fmt.Sprintf("releases[%d].ReleaseType", i), Have: rel.ReleaseType, Want: p.ReleaseType}
		}
	}

	for i, d := range msg.Deals() {
		if len(d.UseTypes) == 0 {
			d.UseTypes = append([]string{}, p.UseTypes...)
			msg.SetDeal(i, d)
		}
	}

	return nil
}
