package ddex

import (
	"context"
	"io"
)

// Parse is the package-level convenience entry point for a one-shot DOM
// parse with DefaultParserConfig.
func Parse(ctx context.Context, r io.Reader) (*Message, error) {
	return NewParser(DefaultParserConfig()).Parse(ctx, r)
}

// ParseStream is the package-level convenience entry point for a streaming
// parse with DefaultParserConfig.
func ParseStream(ctx context.Context, r io.Reader) (*ReleaseSeq, error) {
	return NewParser(DefaultParserConfig()).ParseStream(ctx, r)
}

// DetectVersionBytes reports the schema version of a document without
// parsing it, given the document is already in memory. Prefer SanityCheck
// when the input also needs a security scan.
func DetectVersionBytes(data []byte) (Version, error) {
	return DetectVersion(data)
}

// BuildSession wraps a Message under construction together with the
// BuildConfig it will eventually be serialized with, so a caller can apply
// a preset and then Build without repeating the config at each call.
type BuildSession struct {
	Message *Message
	Config  BuildConfig
}

// NewBuildSession starts a BuildSession over an existing Message with
// DefaultBuildConfig.
func NewBuildSession(msg *Message) *BuildSession {
	return &BuildSession{Message: msg, Config: DefaultBuildConfig()}
}

// ApplyPreset applies a named preset's defaults to the session's Message.
func (s *BuildSession) ApplyPreset(name string) error {
	return ApplyPreset(s.Message, name)
}

// Build runs the pipeline over the session's Message and Config.
func (s *BuildSession) Build(ctx context.Context) ([]byte, BuildReport, error) {
	return Build(ctx, BuildRequest{Message: s.Message}, s.Config)
}
