package ddex

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainReleaseSeq(t *testing.T, seq *ReleaseSeq) []ReleaseView {
	t.Helper()
	var views []ReleaseView
	for {
		view, ok, err := seq.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		views = append(views, view)
	}
	return views
}

func TestParseStreamWithoutSelectorsWalksFullTokenStream(t *testing.T) {
	p := NewParser(DefaultParserConfig())
	seq, err := p.ParseStream(context.Background(), strings.NewReader(sampleDocument))
	require.NoError(t, err)
	assert.Nil(t, seq.selective)

	views := drainReleaseSeq(t, seq)
	require.Len(t, views, 1)
	assert.Equal(t, "R1", views[0].Release.Ref)
}

// TestParseStreamWithSelectorsUsesSelectiveScan:
// when ParserConfig.Selectors names a subset of entity kinds, ParseStream
// locates only those kinds with the Scanner's LocatePattern instead of
// tokenizing the whole document, and still produces the same Release output.
func TestParseStreamWithSelectorsUsesSelectiveScan(t *testing.T) {
	cfg := DefaultParserConfig()
	cfg.Selectors = []string{"SoundRecording"}
	p := NewParser(cfg)

	seq, err := p.ParseStream(context.Background(), strings.NewReader(sampleDocument))
	require.NoError(t, err)
	require.NotNil(t, seq.selective)
	assert.Equal(t, []string{"Party", "Release", "SoundRecording"}, seq.selective.kinds)

	views := drainReleaseSeq(t, seq)
	require.Len(t, views, 1)
	assert.Equal(t, "R1", views[0].Release.Ref)
	assert.Equal(t, []string{"P1"}, views[0].Release.DisplayArtistRefs)
	assert.Empty(t, views[0].Warnings, "the Party seen before the Release should satisfy the display-artist reference")
}

func TestSelectiveScanSkipsUnselectedKinds(t *testing.T) {
	scan := newSelectiveScan(strings.NewReader(sampleDocument), []string{"SoundRecording"})

	kind, data, ok, err := scan.next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SoundRecording", kind)
	assert.Contains(t, string(data), "Track One")
	assert.NotContains(t, string(data), "Album")

	_, _, ok, err = scan.next()
	require.NoError(t, err)
	assert.False(t, ok, "Release was not in the selector set so it must not be located")
}

func TestClosingTagEndHandlesSelfClosingAndNestedSameKind(t *testing.T) {
	doc := []byte(`<Release><Release/><ReleaseReference>R1</ReleaseReference></Release>tail`)
	end, ok := closingTagEnd(doc, 0, "Release")
	require.True(t, ok)
	assert.Equal(t, strings.Index(string(doc), "</Release>")+len("</Release>"), end)
}

func TestStreamingSelectorKindsAlwaysIncludesReleaseAndParty(t *testing.T) {
	kinds := streamingSelectorKinds([]string{"Image"})
	assert.Equal(t, []string{"Image", "Party", "Release"}, kinds)
}

// TestParseStreamBoundedMemoryManyReleases covers the bounded-memory
// scenario: a document with many releases streams out one ReleaseView per
// release, in document order, without a Message arena ever being built.
func TestParseStreamBoundedMemoryManyReleases(t *testing.T) {
	const releaseCount = 250

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/43">` + "\n")
	b.WriteString("<ReleaseList>\n")
	for i := 0; i < releaseCount; i++ {
		fmt.Fprintf(&b, "<Release><ReleaseReference>R%d</ReleaseReference><ReferenceTitle><TitleText>Album %d</TitleText></ReferenceTitle></Release>\n", i, i)
	}
	b.WriteString("</ReleaseList>\n</ern:NewReleaseMessage>\n")

	p := NewParser(DefaultParserConfig())
	seq, err := p.ParseStream(context.Background(), strings.NewReader(b.String()))
	require.NoError(t, err)

	views := drainReleaseSeq(t, seq)
	require.Len(t, views, releaseCount)
	assert.Equal(t, "R0", views[0].Release.Ref)
	assert.Equal(t, fmt.Sprintf("R%d", releaseCount-1), views[releaseCount-1].Release.Ref)
}

func TestParseStreamCancelledContextReturnsErrCancelled(t *testing.T) {
	p := NewParser(DefaultParserConfig())
	seq, err := p.ParseStream(context.Background(), strings.NewReader(sampleDocument))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq.token = NewCancelToken(ctx)

	_, _, err = seq.Next(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
}
