package ddex

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// ProgressFunc is invoked by StreamingBuilder after each release is written,
// with the count of releases written so far.
type ProgressFunc func(releasesWritten int)

// StreamingBuilder emits a large ERN document incrementally instead of
// materializing the whole output tree in memory: WriteHeader canonicalizes
// the root start tag, header and party list and writes them to w at once,
// fixing the root element's namespace declarations before any release is
// seen, and each later WriteRelease canonicalizes and flushes one release
// independently. Nothing is held back until the first release.
//
// Unlike Build, a StreamingBuilder's output is not run back through
// Canonicalize as a single document: every flushed release is itself fully
// canonical, but the overall byte stream is not re-parsed to verify
// document-level well-formedness, so a StreamingBuilder should only be used
// when the caller controls the full set of entities being written.
type StreamingBuilder struct {
	w        io.Writer
	version  Version
	header   MessageHeader
	parties  []Party
	resolver *idResolver
	msg      *Message
	progress ProgressFunc

	wroteHeader       int
	written           int
	openedReleaseList bool
}

// NewStreamingBuilder constructs a StreamingBuilder writing to w.
func NewStreamingBuilder(w io.Writer, v Version) *StreamingBuilder {
	msg := NewMessage(v)
	return &StreamingBuilder{w: w, version: v, msg: msg, resolver: newIDResolver(msg)}
}

// WithProgress installs a callback invoked after each release is flushed.
func (s *StreamingBuilder) WithProgress(fn ProgressFunc) *StreamingBuilder {
	s.progress = fn
	return s
}

// WriteHeader writes the envelope metadata and party roster to w
// immediately. It must be called exactly once, before the first
// WriteRelease.
func (s *StreamingBuilder) WriteHeader(header MessageHeader, parties []Party) error {
	if s.wroteHeader > 0 {
		return &BuildError{Stage: "stream-header", Message: "WriteHeader called more than once"}
	}
	s.wroteHeader++
	s.header = header
	s.parties = parties
	for _, p := range parties {
		if err := s.msg.AddParty(p); err != nil {
			return &BuildError{Stage: "stream-header", Message: "adding party " + p.Ref, Err: err}
		}
	}

	root := newElem("NewReleaseMessage")
	root.NamespaceURI = ernNamespaceFor(s.version)
	root.child(buildMessageHeaderNode(header))
	if len(parties) > 0 {
		list := newElem("PartyList")
		for _, p := range parties {
			list.child(buildPartyNode(p))
		}
		root.child(list)
	}

	prelude, err := canonicalizeOpenTag(root)
	if err != nil {
		return &BuildError{Stage: "stream-header", Message: "serializing prelude", Err: err}
	}
	if _, err := s.w.Write(prelude); err != nil {
		return err
	}
	return nil
}

// canonicalizeOpenTag renders everything up to (but not including) the
// root's closing tag, so later WriteRelease calls can append siblings of
// MessageHeader/PartyList without re-serializing them.
func canonicalizeOpenTag(root *xmlNode) ([]byte, error) {
	full, err := Canonicalize(root)
	if err != nil {
		return nil, err
	}
	closeTag := []byte("</" + qualify(root.Local, root.NamespaceURI, assignPrefixes(root)) + ">\n")
	return bytes.TrimSuffix(full, closeTag), nil
}

// WriteRelease canonicalizes and flushes a single release immediately. ctx
// is checked between releases, not mid-release, matching the cancellation
// granularity the rest of this package uses.
func (s *StreamingBuilder) WriteRelease(ctx context.Context, rel Release) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
	}
	if err := s.msg.AddRelease(rel); err != nil {
		return &BuildError{Stage: "stream-release", Message: "adding release " + rel.Ref, Err: err}
	}
	if !s.openedReleaseList {
		if _, err := fmt.Fprint(s.w, "  <ReleaseList>\n"); err != nil {
			return err
		}
		s.openedReleaseList = true
	}
	if len(rel.IDs) == 0 {
		rel.IDs = append(rel.IDs, ReleaseIdentifier{Kind: "Proprietary", Value: s.resolver.releaseID(rel.Ref)})
	}
	node := buildReleaseNode(rel)
	node.NamespaceURI = ernNamespaceFor(s.version)
	buf, err := Canonicalize(node)
	if err != nil {
		return &BuildError{Stage: "stream-release", Message: "canonicalizing release " + rel.Ref, Err: err}
	}
	buf = bytes.TrimPrefix(buf, []byte(`<?xml version="1.0" encoding="UTF-8"?>`+"\n"))
	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	s.written++
	if s.progress != nil {
		s.progress(s.written)
	}
	return nil
}

// Close writes the closing ReleaseList/root tags. After Close the
// StreamingBuilder must not be used again.
func (s *StreamingBuilder) Close() error {
	if s.openedReleaseList {
		if _, err := fmt.Fprint(s.w, "  </ReleaseList>\n"); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(s.w, "</ern:NewReleaseMessage>\n")
	return err
}
