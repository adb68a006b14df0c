package ddex

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `<?xml version="1.0" encoding="UTF-8"?>
<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/382">
  <MessageHeader>
    <MessageId>MSG123</MessageId>
    <MessageSender><PartyId>SENDER1</PartyId></MessageSender>
  </MessageHeader>
  <PartyList>
    <Party PartyReference="P1">
      <PartyName><FullName>Jane Artist</FullName></PartyName>
    </Party>
  </PartyList>
  <ResourceList>
    <SoundRecording>
      <ResourceReference>A1</ResourceReference>
      <ReferenceTitle><TitleText>Track One</TitleText></ReferenceTitle>
      <SoundRecordingId><ISRC>USRC17607839</ISRC></SoundRecordingId>
    </SoundRecording>
  </ResourceList>
  <ReleaseList>
    <Release>
      <ReleaseReference>R1</ReleaseReference>
      <ReferenceTitle><TitleText>Album</TitleText></ReferenceTitle>
      <DisplayArtist><ArtistPartyReference>P1</ArtistPartyReference></DisplayArtist>
      <custom:Extra xmlns:custom="urn:custom:ext">hello</custom:Extra>
    </Release>
  </ReleaseList>
</ern:NewReleaseMessage>
`

func TestParseBuildsGraphModel(t *testing.T) {
	p := NewParser(DefaultParserConfig())
	msg, err := p.Parse(context.Background(), strings.NewReader(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, Version382, msg.Version)
	assert.Equal(t, "MSG123", msg.Header.MessageID)
	assert.Equal(t, "SENDER1", msg.Header.SenderPartyRef)

	require.Len(t, msg.Parties(), 1)
	assert.Equal(t, "P1", msg.Parties()[0].Ref)
	assert.Equal(t, "Jane Artist", msg.Parties()[0].Names[0].Text)

	require.Len(t, msg.Resources(), 1)
	assert.Equal(t, "A1", msg.Resources()[0].Ref)
	assert.Equal(t, "USRC17607839", msg.Resources()[0].Identifiers[0].Value)

	require.Len(t, msg.Releases(), 1)
	assert.Equal(t, "R1", msg.Releases()[0].Ref)
	assert.Equal(t, []string{"P1"}, msg.Releases()[0].DisplayArtistRefs)

	assert.Empty(t, msg.CheckReferentialIntegrity())
}

// Regression test: captureUnknownAsExtension used to be called with a nil
// *Message for extensions nested inside Party/Resource/Release/Deal, so they
// were parsed and then silently dropped instead of reaching the Message's
// extension set.
func TestParseAttachesNestedExtensionsToTheirOwner(t *testing.T) {
	p := NewParser(DefaultParserConfig())
	msg, err := p.Parse(context.Background(), strings.NewReader(sampleDocument))
	require.NoError(t, err)

	exts := msg.Extensions(OwnerKindRelease, "R1")
	require.Len(t, exts, 1)
	assert.Equal(t, "Extra", exts[0].LocalName)
	assert.Equal(t, "urn:custom:ext", exts[0].NamespaceURI)
	require.Len(t, exts[0].Children, 1)
	assert.Equal(t, "hello", exts[0].Children[0].Text)
}

func TestParseRejectsDuplicateAttribute(t *testing.T) {
	doc := `<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/382" xmlns:ern="http://ddex.net/xml/ern/382"></ern:NewReleaseMessage>`
	p := NewParser(DefaultParserConfig())
	_, err := p.Parse(context.Background(), strings.NewReader(doc))
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "duplicate-attribute", perr.Kind)
}

func TestParseRejectsOversizedDocument(t *testing.T) {
	cfg := DefaultParserConfig()
	cfg.Gate.MaxSizeBytes = 10
	p := NewParser(cfg)
	_, err := p.Parse(context.Background(), strings.NewReader(sampleDocument))
	require.Error(t, err)
	var serr *SecurityError
	assert.ErrorAs(t, err, &serr)
	assert.Equal(t, SecuritySizeLimit, serr.Kind)
}

func TestParseRejectsExternalEntityDoctype(t *testing.T) {
	doc := `<?xml version="1.0"?>
<!DOCTYPE ern:NewReleaseMessage SYSTEM "http://evil.example/x.dtd">
<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/382"></ern:NewReleaseMessage>`
	p := NewParser(DefaultParserConfig())
	_, err := p.Parse(context.Background(), strings.NewReader(doc))
	require.Error(t, err)
	var serr *SecurityError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SecurityExternalEntity, serr.Kind)
}

// TestParseRejectsEntityExpansionBomb covers billion-laughs-style
// expansion: a single internal entity whose replacement text is repeated
// often enough to exceed GateConfig.MaxEntityExpansionBytes must be rejected
// before the Scanner or Parser ever tokenizes the document.
func TestParseRejectsEntityExpansionBomb(t *testing.T) {
	payload := strings.Repeat("A", 20000)
	doc := "<?xml version=\"1.0\"?>\n" +
		"<!DOCTYPE ern:NewReleaseMessage [\n" +
		"<!ENTITY a \"" + payload + "\">\n" +
		"]>\n" +
		"<ern:NewReleaseMessage xmlns:ern=\"http://ddex.net/xml/ern/382\">" +
		strings.Repeat("&a;", 100) +
		"</ern:NewReleaseMessage>"
	p := NewParser(DefaultParserConfig())
	_, err := p.Parse(context.Background(), strings.NewReader(doc))
	require.Error(t, err)
	var serr *SecurityError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SecurityEntityExpansion, serr.Kind)
}

// TestParseRejectsNestedEntityExpansionBomb is the classic billion-laughs
// shape: each declaration's literal text is tiny, and only the *composed*
// expansion (lol9 -> 10x lol8 -> ... -> 10^9 x lol) is enormous. The
// estimator has to chain nested entity sizes recursively to see it; summing
// literal declaration lengths would wave it through.
func TestParseRejectsNestedEntityExpansionBomb(t *testing.T) {
	var decls strings.Builder
	decls.WriteString("<!ENTITY lol \"lolololol\">\n")
	for i := 1; i <= 9; i++ {
		prev := "lol"
		if i > 1 {
			prev = fmt.Sprintf("lol%d", i-1)
		}
		fmt.Fprintf(&decls, "<!ENTITY lol%d \"%s\">\n", i, strings.Repeat("&"+prev+";", 10))
	}
	doc := "<?xml version=\"1.0\"?>\n" +
		"<!DOCTYPE ern:NewReleaseMessage [\n" + decls.String() + "]>\n" +
		"<ern:NewReleaseMessage xmlns:ern=\"http://ddex.net/xml/ern/382\">&lol9;</ern:NewReleaseMessage>"

	p := NewParser(DefaultParserConfig())
	_, err := p.Parse(context.Background(), strings.NewReader(doc))
	require.Error(t, err)
	var serr *SecurityError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SecurityEntityExpansion, serr.Kind)
	assert.GreaterOrEqual(t, serr.Observed, int64(1<<20))
}

func TestParseCompatModeToleratesUnknownVersion(t *testing.T) {
	doc := `<NewReleaseMessage><MessageHeader><MessageId>X</MessageId></MessageHeader></NewReleaseMessage>`
	cfg := DefaultParserConfig()
	cfg.CompatMode = true
	p := NewParser(cfg)
	msg, err := p.Parse(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, VersionUnknown, msg.Version)
}

func TestParseFlagsDanglingReferenceAsWarning(t *testing.T) {
	doc := `<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/382">
  <ReleaseList>
    <Release>
      <ReleaseReference>R1</ReleaseReference>
      <DisplayArtist><ArtistPartyReference>GHOST</ArtistPartyReference></DisplayArtist>
    </Release>
  </ReleaseList>
</ern:NewReleaseMessage>`
	p := NewParser(DefaultParserConfig())
	msg, err := p.Parse(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, msg.Warnings(), 1)
	assert.Contains(t, msg.Warnings()[0].Error(), "GHOST")
}

func TestParseThenBuildReproducesSourceContentByteIdentically(t *testing.T) {
	parseAndBuild := func() []byte {
		p := NewParser(DefaultParserConfig())
		msg, err := p.Parse(context.Background(), strings.NewReader(sampleDocument))
		require.NoError(t, err)
		out, _, err := Build(context.Background(), BuildRequest{Message: msg}, DefaultBuildConfig())
		require.NoError(t, err)
		return out
	}
	first := parseAndBuild()
	second := parseAndBuild()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("rebuilding the same parsed content twice produced different bytes (-first +second):\n%s", diff)
	}
	assert.Contains(t, string(first), "Jane Artist")
	assert.Contains(t, string(first), "Extra")
}

// TestParseBuildReparseReproducesFlattenedStructure round-trips the sample
// document through Parse -> Build -> Parse again and compares the two
// flattened views field by field with cmp.Diff, so a regression that changes
// a nested field (an artist name, an extension's captured text) without
// changing the top-level release count surfaces as a precise structural
// diff instead of a raw byte mismatch.
func TestParseBuildReparseReproducesFlattenedStructure(t *testing.T) {
	ctx := context.Background()
	p := NewParser(DefaultParserConfig())
	msg, err := p.Parse(ctx, strings.NewReader(sampleDocument))
	require.NoError(t, err)

	out, _, err := Build(ctx, BuildRequest{Message: msg}, DefaultBuildConfig())
	require.NoError(t, err)

	// Compare the flattened view of msg *after* Build (once Stable Hash IDs
	// have been assigned in place) against the view recovered by reparsing
	// Build's own output, so ID assignment isn't mistaken for drift.
	before, err := ToFlat(msg)
	require.NoError(t, err)

	reparsed, err := NewParser(DefaultParserConfig()).Parse(ctx, bytes.NewReader(out))
	require.NoError(t, err)
	after, err := ToFlat(reparsed)
	require.NoError(t, err)

	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("flattened structure changed across a build/reparse round trip (-before +after):\n%s", diff)
	}
}

// TestMutationRoundTripPropagatesTitleEdit parses a document, retitles the
// first release through the flattened view, rebuilds, and re-parses: the new
// title must survive the round trip and everything else stay intact.
func TestMutationRoundTripPropagatesTitleEdit(t *testing.T) {
	ctx := context.Background()
	msg, err := NewParser(DefaultParserConfig()).Parse(ctx, strings.NewReader(sampleDocument))
	require.NoError(t, err)

	flat, err := ToFlat(msg)
	require.NoError(t, err)
	require.Len(t, flat, 1)
	flat[0].Title = "Remastered"
	require.NoError(t, msg.ApplyFlatEdits(flat[0]))

	out, _, err := Build(ctx, BuildRequest{Message: msg}, DefaultBuildConfig())
	require.NoError(t, err)

	reparsed, err := NewParser(DefaultParserConfig()).Parse(ctx, bytes.NewReader(out))
	require.NoError(t, err)
	reflat, err := ToFlat(reparsed)
	require.NoError(t, err)
	require.Len(t, reflat, 1)
	assert.Equal(t, "Remastered", reflat[0].Title)
	assert.Equal(t, "Jane Artist", reflat[0].DisplayArtist)
	require.Len(t, reflat[0].Tracks, 0)
}

func TestParseCapturesCommentInsideRelease(t *testing.T) {
	doc := `<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/382">
  <ReleaseList>
    <Release>
      <ReleaseReference>R1</ReleaseReference>
      <ReferenceTitle><TitleText>Album</TitleText></ReferenceTitle>
      <!-- remaster pending -->
    </Release>
  </ReleaseList>
</ern:NewReleaseMessage>`
	msg, err := NewParser(DefaultParserConfig()).Parse(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)

	trivia := msg.Trivia(OwnerKindRelease, "R1")
	require.Len(t, trivia, 1)
	assert.Equal(t, TriviaComment, trivia[0].Kind)
	assert.Equal(t, " remaster pending ", trivia[0].Data)

	out, _, err := Build(context.Background(), BuildRequest{Message: msg}, DefaultBuildConfig())
	require.NoError(t, err)
	assert.Contains(t, string(out), "<!-- remaster pending -->")
}

func TestParseCapturesProcessingInstructionInsideParty(t *testing.T) {
	doc := `<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/382">
  <PartyList>
    <Party>
      <PartyReference>P1</PartyReference>
      <?vendor hint="keep"?>
      <PartyName><FullName>Jane Artist</FullName></PartyName>
    </Party>
  </PartyList>
  <ReleaseList>
    <Release>
      <ReleaseReference>R1</ReleaseReference>
      <ReferenceTitle><TitleText>Album</TitleText></ReferenceTitle>
    </Release>
  </ReleaseList>
</ern:NewReleaseMessage>`
	msg, err := NewParser(DefaultParserConfig()).Parse(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)

	trivia := msg.Trivia(OwnerKindParty, "P1")
	require.Len(t, trivia, 1)
	assert.Equal(t, TriviaPI, trivia[0].Kind)
	assert.Equal(t, "vendor", trivia[0].Target)

	out, _, err := Build(context.Background(), BuildRequest{Message: msg}, DefaultBuildConfig())
	require.NoError(t, err)
	assert.Contains(t, string(out), `<?vendor hint="keep"?>`)
}

func TestParseTimeoutReturnsErrTimeout(t *testing.T) {
	cfg := DefaultParserConfig()
	cfg.Gate.Timeout = time.Nanosecond
	p := NewParser(cfg)
	_, err := p.Parse(context.Background(), strings.NewReader(sampleDocument))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSanityCheckReportsVersionAndValidity(t *testing.T) {
	report, err := SanityCheck([]byte(sampleDocument))
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, Version382, report.Version)
}

func TestSanityCheckFlagsExternalEntity(t *testing.T) {
	doc := `<?xml version="1.0"?>
<!DOCTYPE ern:NewReleaseMessage SYSTEM "file:///etc/passwd">
<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/382"></ern:NewReleaseMessage>`
	report, err := SanityCheck([]byte(doc))
	require.Error(t, err)
	assert.False(t, report.Valid)
	var serr *SecurityError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SecurityExternalEntity, serr.Kind)
}

func TestParseRejectsUndeclaredNamespacePrefix(t *testing.T) {
	doc := `<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/382">
  <bogus:PartyList xmlns:other="urn:unrelated"></bogus:PartyList>
</ern:NewReleaseMessage>`
	p := NewParser(DefaultParserConfig())
	_, err := p.Parse(context.Background(), strings.NewReader(doc))
	require.Error(t, err)
	var nerr *NamespaceError
	assert.ErrorAs(t, err, &nerr)
}

func TestParseModeStreamProducesSameGraphAsDOM(t *testing.T) {
	domCfg := DefaultParserConfig()
	domCfg.Mode = ModeDOM
	streamCfg := DefaultParserConfig()
	streamCfg.Mode = ModeStream

	domMsg, err := NewParser(domCfg).Parse(context.Background(), strings.NewReader(sampleDocument))
	require.NoError(t, err)
	streamMsg, err := NewParser(streamCfg).Parse(context.Background(), strings.NewReader(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, domMsg.Version, streamMsg.Version)
	assert.Equal(t, domMsg.Header, streamMsg.Header)
	assert.Equal(t, domMsg.Parties(), streamMsg.Parties())
	assert.Equal(t, domMsg.Resources(), streamMsg.Resources())
	assert.Equal(t, domMsg.Releases(), streamMsg.Releases())
}

func TestParseAutoDowngradesToStreamingAboveThreshold(t *testing.T) {
	cfg := DefaultParserConfig()
	cfg.AutoThresholdBytes = 64 // far below the sample document's size
	p := NewParser(cfg)
	msg, err := p.Parse(context.Background(), strings.NewReader(sampleDocument))
	require.NoError(t, err)
	assert.Len(t, msg.Releases(), 1)
	assert.Equal(t, "MSG123", msg.Header.MessageID)
}
