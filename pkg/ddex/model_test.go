package ddex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPartyDuplicateRefRejected(t *testing.T) {
	msg := NewMessage(Version382)
	require.NoError(t, msg.AddParty(Party{Ref: "P1"}))
	err := msg.AddParty(Party{Ref: "P1"})
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, "duplicate-reference", perr.Kind)
}

func TestRefNamespacesAreScopedPerKind(t *testing.T) {
	msg := NewMessage(Version382)
	require.NoError(t, msg.AddParty(Party{Ref: "X1"}))
	require.NoError(t, msg.AddResource(Resource{Ref: "X1", Kind: ResourceKindImage}))
	_, ok := msg.Party("X1")
	assert.True(t, ok)
	_, ok = msg.Resource("X1")
	assert.True(t, ok)
}

func TestCheckReferentialIntegrityFindsDanglingArtistRef(t *testing.T) {
	msg := NewMessage(Version382)
	require.NoError(t, msg.AddRelease(Release{Ref: "R1", DisplayArtistRefs: []string{"missing-party"}}))
	errs := msg.CheckReferentialIntegrity()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Path, "DisplayArtistRefs")
}

func TestCheckReferentialIntegrityFindsDanglingResourceGroupRef(t *testing.T) {
	msg := NewMessage(Version382)
	require.NoError(t, msg.AddRelease(Release{
		Ref: "R1",
		ResourceGroups: []ResourceGroup{{
			Items: []ResourceGroupItem{{SequenceNumber: 1, ResourceRef: "missing-resource"}},
		}},
	}))
	errs := msg.CheckReferentialIntegrity()
	require.Len(t, errs, 1)
}

func TestCheckReferentialIntegrityCleanGraph(t *testing.T) {
	msg := NewMessage(Version382)
	require.NoError(t, msg.AddParty(Party{Ref: "P1"}))
	require.NoError(t, msg.AddResource(Resource{Ref: "A1", Kind: ResourceKindSoundRecording}))
	require.NoError(t, msg.AddRelease(Release{
		Ref:               "R1",
		DisplayArtistRefs: []string{"P1"},
		ResourceGroups:    []ResourceGroup{{Items: []ResourceGroupItem{{SequenceNumber: 1, ResourceRef: "A1"}}}},
	}))
	require.NoError(t, msg.AddDeal(Deal{Ref: "D1", ReleaseRefs: []string{"R1"}}))
	assert.Empty(t, msg.CheckReferentialIntegrity())
}

func TestOrphanResourcesReportsUnreferencedResource(t *testing.T) {
	msg := NewMessage(Version382)
	require.NoError(t, msg.AddResource(Resource{Ref: "A1", Kind: ResourceKindSoundRecording}))
	require.NoError(t, msg.AddResource(Resource{Ref: "A2", Kind: ResourceKindImage}))
	require.NoError(t, msg.AddRelease(Release{
		Ref:            "R1",
		ResourceGroups: []ResourceGroup{{Items: []ResourceGroupItem{{SequenceNumber: 1, ResourceRef: "A1"}}}},
	}))
	assert.Equal(t, []string{"A2"}, msg.OrphanResources())
}

func TestAddExtensionAndExtensionsLookup(t *testing.T) {
	msg := NewMessage(Version382)
	ext := &Extension{NamespaceURI: "urn:custom", LocalName: "Foo", Owner: OwnerKindRelease, OwnerRef: "R1"}
	msg.AddExtension(ext)
	got := msg.Extensions(OwnerKindRelease, "R1")
	require.Len(t, got, 1)
	assert.Same(t, ext, got[0])
	assert.Empty(t, msg.Extensions(OwnerKindRelease, "other"))
}

func TestWarningsAccumulateInOrder(t *testing.T) {
	msg := NewMessage(Version382)
	msg.addWarning(&LinkingError{Path: "a", Message: "one"})
	msg.addWarning(&LinkingError{Path: "b", Message: "two"})
	require.Len(t, msg.Warnings(), 2)
	assert.Contains(t, msg.Warnings()[0].Error(), "one")
	assert.Contains(t, msg.Warnings()[1].Error(), "two")
}
