package ddex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityErrorMessage(t *testing.T) {
	err := &SecurityError{Kind: SecuritySizeLimit, Limit: 100, Observed: 200}
	assert.Contains(t, err.Error(), "size-limit")
	assert.Contains(t, err.Error(), "200")
	assert.Contains(t, err.Error(), "100")
}

func TestSecurityErrorKindString(t *testing.T) {
	cases := map[SecurityErrorKind]string{
		SecuritySizeLimit:       "size-limit",
		SecurityDepthLimit:      "depth-limit",
		SecurityEntityExpansion: "entity-expansion",
		SecurityExternalEntity:  "external-entity",
		SecurityTimeout:         "timeout",
		SecurityErrorKind(99):   "unknown",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

func TestValidationErrorMessageSingular(t *testing.T) {
	err := &ValidationError{Issues: []ValidationIssue{{Path: "releases[0]", Message: "missing title"}}}
	assert.Equal(t, `ddex: validation failed: releases[0]: missing title`, err.Error())
}

func TestValidationErrorMessagePlural(t *testing.T) {
	err := &ValidationError{Issues: []ValidationIssue{
		{Path: "releases[0]", Message: "missing title"},
		{Path: "releases[1]", Message: "missing title"},
	}}
	assert.Contains(t, err.Error(), "2 issues")
}

func TestBuildErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &BuildError{Stage: "canonicalize", Message: "writing output", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Same(t, inner, errors.Unwrap(err))
}

func TestBuildErrorMessageWithoutCause(t *testing.T) {
	err := &BuildError{Stage: "preflight", Message: "no releases"}
	require.Nil(t, err.Unwrap())
	assert.Equal(t, `ddex: build failed at stage "preflight": no releases`, err.Error())
}

func TestPresetConflictErrorMessage(t *testing.T) {
	err := &PresetConflictError{Preset: "audio_album", Field: "Header.Profile", Have: "Custom", Want: "AudioAlbumMusicOnly"}
	assert.Contains(t, err.Error(), "audio_album")
	assert.Contains(t, err.Error(), "Custom")
	assert.Contains(t, err.Error(), "AudioAlbumMusicOnly")
}

func TestSentinelErrors(t *testing.T) {
	assert.EqualError(t, ErrCancelled, "ddex: operation cancelled")
	assert.EqualError(t, ErrTimeout, "ddex: operation timed out")
}
