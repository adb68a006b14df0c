package ddex

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingBuilderEmitsParseableDocument(t *testing.T) {
	var buf bytes.Buffer
	sb := NewStreamingBuilder(&buf, Version43)

	require.NoError(t, sb.WriteHeader(
		MessageHeader{MessageID: "MSG1", SenderPartyRef: "PADPIDA2023081501X"},
		[]Party{{Ref: "P1", Names: []LocalizedText{{Text: "Jane Artist"}}}},
	))
	for i := 0; i < 3; i++ {
		require.NoError(t, sb.WriteRelease(context.Background(), Release{
			Ref:    fmt.Sprintf("R%d", i+1),
			Titles: []LocalizedText{{Text: fmt.Sprintf("Album %d", i+1)}},
		}))
	}
	require.NoError(t, sb.Close())

	msg, err := NewParser(DefaultParserConfig()).Parse(context.Background(), bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, Version43, msg.Version)
	assert.Equal(t, "MSG1", msg.Header.MessageID)
	assert.Len(t, msg.Parties(), 1)
	assert.Len(t, msg.Releases(), 3)
}

func TestStreamingBuilderInvokesProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	var calls []int
	sb := NewStreamingBuilder(&buf, Version382).WithProgress(func(n int) { calls = append(calls, n) })

	require.NoError(t, sb.WriteHeader(MessageHeader{MessageID: "MSG1"}, nil))
	require.NoError(t, sb.WriteRelease(context.Background(), Release{Ref: "R1", Titles: []LocalizedText{{Text: "A"}}}))
	require.NoError(t, sb.WriteRelease(context.Background(), Release{Ref: "R2", Titles: []LocalizedText{{Text: "B"}}}))
	require.NoError(t, sb.Close())

	assert.Equal(t, []int{1, 2}, calls)
}

func TestStreamingBuilderRejectsSecondWriteHeader(t *testing.T) {
	var buf bytes.Buffer
	sb := NewStreamingBuilder(&buf, Version382)
	require.NoError(t, sb.WriteHeader(MessageHeader{MessageID: "MSG1"}, nil))
	err := sb.WriteHeader(MessageHeader{MessageID: "MSG2"}, nil)
	var berr *BuildError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "stream-header", berr.Stage)
}

func TestStreamingBuilderCancelledContext(t *testing.T) {
	var buf bytes.Buffer
	sb := NewStreamingBuilder(&buf, Version382)
	require.NoError(t, sb.WriteHeader(MessageHeader{MessageID: "MSG1"}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sb.WriteRelease(ctx, Release{Ref: "R1", Titles: []LocalizedText{{Text: "A"}}})
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestStreamingBuilderAssignsStableIDToIdentifierlessRelease(t *testing.T) {
	var buf bytes.Buffer
	sb := NewStreamingBuilder(&buf, Version382)
	require.NoError(t, sb.WriteHeader(MessageHeader{MessageID: "MSG1"}, nil))
	require.NoError(t, sb.WriteRelease(context.Background(), Release{Ref: "R1", Titles: []LocalizedText{{Text: "A"}}}))
	require.NoError(t, sb.Close())
	assert.Contains(t, buf.String(), "sh1:release:")
}
