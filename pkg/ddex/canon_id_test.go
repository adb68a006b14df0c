package ddex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableHashIDIsDeterministic(t *testing.T) {
	a := stableHashID(RefKindRelease, "Album", "Midnight City")
	b := stableHashID(RefKindRelease, "Album", "Midnight City")
	assert.Equal(t, a, b)
}

func TestStableHashIDDistinguishesKind(t *testing.T) {
	party := stableHashID(RefKindParty, "Midnight City")
	release := stableHashID(RefKindRelease, "Midnight City")
	assert.NotEqual(t, party, release)
}

func TestStableHashIDDistinguishesFieldOrder(t *testing.T) {
	a := stableHashID(RefKindRelease, "Album", "Title")
	b := stableHashID(RefKindRelease, "Title", "Album")
	assert.NotEqual(t, a, b)
}

func TestStableHashIDFormat(t *testing.T) {
	id := stableHashID(RefKindDeal, "Worldwide")
	require.True(t, strings.HasPrefix(id, "sh1:deal:"))
	hexPart := strings.TrimPrefix(id, "sh1:deal:")
	assert.Len(t, hexPart, 16) // 8 bytes hex-encoded
}

func TestIDResolverPartyUsesExplicitIdentifierFirst(t *testing.T) {
	msg := NewMessage(Version382)
	require.NoError(t, msg.AddParty(Party{
		Ref:   "P1",
		IDs:   []PartyIdentifier{{Namespace: "DPID", Value: "PADPIDA2013020802I"}},
		Names: []LocalizedText{{Text: "ACME"}},
	}))
	r := newIDResolver(msg)
	assert.Equal(t, "PADPIDA2013020802I", r.partyID("P1"))
}

func TestIDResolverPartyFallsBackToContentHash(t *testing.T) {
	msg := NewMessage(Version382)
	require.NoError(t, msg.AddParty(Party{Ref: "P1", Names: []LocalizedText{{Text: "ACME"}}}))
	r := newIDResolver(msg)
	id := r.partyID("P1")
	assert.True(t, strings.HasPrefix(id, "sh1:party:"))
}

func TestIDResolverPartyMemoizes(t *testing.T) {
	msg := NewMessage(Version382)
	require.NoError(t, msg.AddParty(Party{Ref: "P1", Names: []LocalizedText{{Text: "ACME"}}}))
	r := newIDResolver(msg)
	first := r.partyID("P1")
	second := r.partyID("P1")
	assert.Equal(t, first, second)
	assert.Len(t, r.partyIDs, 1)
}

func TestIDResolverReleaseDependsOnArtistAndResourceIDs(t *testing.T) {
	build := func(artist string) string {
		msg := NewMessage(Version382)
		require.NoError(t, msg.AddParty(Party{Ref: "P1", Names: []LocalizedText{{Text: artist}}}))
		require.NoError(t, msg.AddResource(Resource{Ref: "A1", Kind: ResourceKindSoundRecording, Titles: []LocalizedText{{Text: "Track"}}}))
		require.NoError(t, msg.AddRelease(Release{
			Ref:               "R1",
			Titles:            []LocalizedText{{Text: "Album"}},
			DisplayArtistRefs: []string{"P1"},
			ResourceGroups:    []ResourceGroup{{Items: []ResourceGroupItem{{SequenceNumber: 1, ResourceRef: "A1"}}}},
		}))
		return StableHashID(msg, RefKindRelease, "R1")
	}
	assert.NotEqual(t, build("Artist A"), build("Artist B"))
}

func TestStableHashIDUnknownRefReturnsRefItself(t *testing.T) {
	msg := NewMessage(Version382)
	assert.Equal(t, "nonexistent", StableHashID(msg, RefKindParty, "nonexistent"))
}

func TestValidateICPNAcceptsValidUPCAndEAN(t *testing.T) {
	assert.NoError(t, validateICPN("036000291452"))  // 12-digit UPC-A
	assert.NoError(t, validateICPN("5901234123457")) // 13-digit EAN-13
}

func TestValidateICPNRejectsBadCheckDigit(t *testing.T) {
	err := validateICPN("036000291451")
	require.Error(t, err)
	var cerr *ConversionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "ICPN", cerr.Field)
}

func TestValidateICPNRejectsWrongLength(t *testing.T) {
	assert.Error(t, validateICPN("123"))
}

func TestValidateISRCAcceptsWellFormedCode(t *testing.T) {
	assert.NoError(t, validateISRC("USRC17607839"))
}

func TestValidateISRCRejectsMalformedCode(t *testing.T) {
	assert.Error(t, validateISRC("not-an-isrc"))
}

func TestValidateISWCAcceptsWellFormedCode(t *testing.T) {
	assert.NoError(t, validateISWC("T-034524680-1"))
}

func TestValidateISWCRejectsMalformedCode(t *testing.T) {
	assert.Error(t, validateISWC("T-1"))
}

func TestValidateDPIDAcceptsWellFormedCode(t *testing.T) {
	assert.NoError(t, validateDPID("PADPIDA2013020802I"))
}

func TestValidateDPIDRejectsMalformedCode(t *testing.T) {
	assert.Error(t, validateDPID("not-a-dpid"))
}
