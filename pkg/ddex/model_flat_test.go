package ddex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatTestMessage(t *testing.T, duration string) *Message {
	t.Helper()
	msg := NewMessage(Version382)
	require.NoError(t, msg.AddParty(Party{Ref: "P1", Names: []LocalizedText{{Text: "ACME"}}}))
	require.NoError(t, msg.AddResource(Resource{
		Ref:      "A1",
		Kind:     ResourceKindSoundRecording,
		Titles:   []LocalizedText{{Text: "Track"}},
		Duration: duration,
	}))
	require.NoError(t, msg.AddRelease(Release{
		Ref:               "R1",
		Titles:            []LocalizedText{{Text: "Album"}},
		DisplayArtistRefs: []string{"P1"},
		ResourceGroups:    []ResourceGroup{{Items: []ResourceGroupItem{{SequenceNumber: 1, ResourceRef: "A1"}}}},
	}))
	return msg
}

func TestToFlatNormalizesEquivalentDurations(t *testing.T) {
	flat, err := ToFlat(flatTestMessage(t, "PT90S"))
	require.NoError(t, err)
	require.Len(t, flat, 1)
	require.Len(t, flat[0].Tracks, 1)
	assert.Equal(t, "PT1M30S", flat[0].Tracks[0].Duration)
}

func TestToFlatRejectsUnparseableDuration(t *testing.T) {
	_, err := ToFlat(flatTestMessage(t, "not-a-duration"))
	require.Error(t, err)
	var cerr *ConversionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Duration", cerr.Field)
}

func TestApplyFlatEditsNormalizesWrittenBackDuration(t *testing.T) {
	msg := flatTestMessage(t, "PT1M30S")
	flat, err := ToFlat(msg)
	require.NoError(t, err)

	flat[0].Tracks[0].Duration = "PT125S"
	require.NoError(t, msg.ApplyFlatEdits(flat[0]))

	res, ok := msg.Resource("A1")
	require.True(t, ok)
	assert.Equal(t, "PT2M5S", res.Duration)
}

func TestApplyFlatEditsRejectsUnparseableDuration(t *testing.T) {
	msg := flatTestMessage(t, "PT1M30S")
	flat, err := ToFlat(msg)
	require.NoError(t, err)

	flat[0].Tracks[0].Duration = "bogus"
	err = msg.ApplyFlatEdits(flat[0])
	require.Error(t, err)
	var cerr *ConversionError
	require.ErrorAs(t, err, &cerr)
}
