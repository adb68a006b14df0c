package ddex

import (
	"bytes"
	"io"

	"github.com/klauspost/cpuid/v2"
)

// Mode selects how the Parser walks a document.
type Mode int

const (
	// ModeAuto picks ModeDOM for documents under AutoThresholdBytes and
	// ModeStream above it.
	ModeAuto Mode = iota
	ModeDOM
	ModeStream
)

// DefaultAutoThresholdBytes is the ModeAuto cutover point: documents this
// size or smaller are fully materialized, larger ones are streamed.
const DefaultAutoThresholdBytes = 5 * 1024 * 1024

// RingBufferSize is the chunk size streaming mode reads input in.
const RingBufferSize = 50 * 1024 * 1024

// ChunkOverlap is how many trailing bytes of one streaming chunk are kept
// and re-scanned at the head of the next, so an element open tag that
// straddles a chunk boundary is never missed by LocatePattern.
const ChunkOverlap = 1024

// simdCapable records whether this CPU has the vectorized instruction set
// bytes.Index's internal implementation can use. It only affects what
// SIMDCapable reports; Go's bytes.Index already dispatches to the fastest
// available path regardless of this flag.
var simdCapable = cpuid.CPU.Supports(cpuid.AVX2, cpuid.SSE42)

// SIMDCapable reports whether pattern location on this machine is running
// the vectorized path.
func SIMDCapable() bool { return simdCapable }

// elementOpenTags lists both the unprefixed and "ern:"-prefixed open-tag
// byte patterns the Scanner looks for when locating candidate entities in
// streaming mode, keyed by the ElementKind selector name callers pass in
// ParserConfig.Selectors.
var elementOpenTags = map[string][][]byte{
	"Release":        {[]byte("<Release"), []byte("<ern:Release")},
	"SoundRecording": {[]byte("<SoundRecording"), []byte("<ern:SoundRecording")},
	"Image":          {[]byte("<Image"), []byte("<ern:Image")},
	"Video":          {[]byte("<Video"), []byte("<ern:Video")},
	"Text":           {[]byte("<Text"), []byte("<ern:Text")},
	"Deal":           {[]byte("<ReleaseDeal"), []byte("<ern:ReleaseDeal")},
	"Party":          {[]byte("<Party"), []byte("<ern:Party")},
}

// findAll returns every non-overlapping offset at which pattern occurs in
// data, via repeated bytes.Index calls. bytes.Index itself uses a
// vectorized (SSE4.2/AVX2) search on amd64 when simdCapable is true; this
// function just drives it across the whole buffer.
func findAll(data, pattern []byte) []int {
	if len(pattern) == 0 {
		return nil
	}
	var offsets []int
	base := 0
	for {
		i := bytes.Index(data[base:], pattern)
		if i < 0 {
			break
		}
		offsets = append(offsets, base+i)
		base += i + len(pattern)
	}
	return offsets
}

// LocatePattern returns verified candidate offsets of open tags for the
// given selector kind ("Release", "SoundRecording", ...), filtering out
// false positives (a match that isn't actually followed by whitespace, '>',
// or '/' and so is a prefix of some other element/attribute name).
func LocatePattern(data []byte, kind string) []int {
	tags, ok := elementOpenTags[kind]
	if !ok {
		return nil
	}
	var out []int
	for _, tag := range tags {
		for _, off := range findAll(data, tag) {
			if verifyOpenTag(data, off, len(tag)) {
				out = append(out, off)
			}
		}
	}
	return out
}

// verifyCloseTag reports whether the close-tag name ending at offset+tagLen
// is immediately followed by (optional whitespace then) '>', ruling out a
// longer element name that happens to share this one as a prefix (e.g.
// "</ReleaseReference>" must never be mistaken for "</Release>").
func verifyCloseTag(data []byte, offset, tagLen int) bool {
	i := offset + tagLen
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\r', '\n':
			i++
			continue
		case '>':
			return true
		default:
			return false
		}
	}
	return false
}

func verifyOpenTag(data []byte, offset, tagLen int) bool {
	end := offset + tagLen
	if end >= len(data) {
		return false
	}
	switch data[end] {
	case ' ', '\t', '\r', '\n', '>', '/':
		return true
	default:
		return false
	}
}

// selectiveScan drives LocatePattern over a growing byte buffer to extract
// only the entity kinds a streaming parse was told to select, reading the
// underlying reader in RingBufferSize chunks and retaining ChunkOverlap
// bytes across refills so a tag whose opening bytes landed at the very tail
// of one chunk is still found whole in the next.
type selectiveScan struct {
	r     io.Reader
	kinds []string
	buf   []byte
	eof   bool
}

func newSelectiveScan(r io.Reader, kinds []string) *selectiveScan {
	return &selectiveScan{r: r, kinds: kinds}
}

// fill reads one more chunk (up to RingBufferSize bytes) from the
// underlying reader onto the tail of buf, keeping only the last
// ChunkOverlap bytes of what was already scanned.
func (s *selectiveScan) fill() error {
	if s.eof {
		return io.EOF
	}
	keep := 0
	if len(s.buf) > ChunkOverlap {
		keep = len(s.buf) - ChunkOverlap
	}
	retained := append([]byte(nil), s.buf[keep:]...)

	chunk := make([]byte, RingBufferSize)
	n, err := io.ReadFull(s.r, chunk)
	switch err {
	case nil:
	case io.ErrUnexpectedEOF, io.EOF:
		s.eof = true
	default:
		return err
	}
	s.buf = append(retained, chunk[:n]...)
	return nil
}

// next locates the earliest candidate open tag for any configured kind,
// grows the buffer until that element's matching close tag is also
// present, and returns the extracted subtree's bytes. ok is false once the
// buffer is exhausted and the underlying reader has reached EOF.
func (s *selectiveScan) next() (kind string, data []byte, ok bool, err error) {
	for {
		bestOff := -1
		bestKind := ""
		for _, k := range s.kinds {
			for _, off := range LocatePattern(s.buf, k) {
				if bestOff == -1 || off < bestOff {
					bestOff = off
					bestKind = k
				}
			}
		}
		if bestOff == -1 {
			if s.eof {
				return "", nil, false, nil
			}
			if ferr := s.fill(); ferr != nil && ferr != io.EOF {
				return "", nil, false, ferr
			}
			continue
		}

		end, closed := closingTagEnd(s.buf, bestOff, bestKind)
		if !closed {
			if s.eof {
				return "", nil, false, &ParseError{Kind: "truncated-element", Message: "stream ended before a matching close tag for " + bestKind}
			}
			// Keep the located element whole (fill would cut the buffer down
			// to the overlap window) and append the next chunk behind it.
			chunk := make([]byte, RingBufferSize)
			n, rerr := io.ReadFull(s.r, chunk)
			switch rerr {
			case nil:
			case io.ErrUnexpectedEOF, io.EOF:
				s.eof = true
			default:
				return "", nil, false, rerr
			}
			s.buf = append(s.buf[bestOff:], chunk[:n]...)
			continue
		}

		data = append([]byte(nil), s.buf[bestOff:end]...)
		s.buf = s.buf[end:]
		return bestKind, data, true, nil
	}
}

// closingTagEnd finds the byte offset one past the close tag matching the
// open tag for kind starting at start, tracking same-name nesting depth and
// recognizing self-closing tags. It returns ok=false if data runs out
// before the matching close tag is found, signaling the caller to read
// more before giving up.
func closingTagEnd(data []byte, start int, kind string) (int, bool) {
	tags, ok := elementOpenTags[kind]
	if !ok {
		return 0, false
	}
	var openTag []byte
	for _, t := range tags {
		if bytes.HasPrefix(data[start:], t) {
			openTag = t
			break
		}
	}
	if openTag == nil {
		return 0, false
	}
	closeTag := append([]byte("</"), openTag[1:]...)

	// Consume the start element's own open tag first, so the scan loop
	// below only ever sees *further* opens/closes of the same element name
	// and depth can start at 0 meaning "looking for the outermost close".
	startGT := bytes.IndexByte(data[start:], '>')
	if startGT == -1 {
		return 0, false
	}
	if data[start+startGT-1] == '/' {
		// The start element itself is self-closing.
		return start + startGT + 1, true
	}

	depth := 0
	i := start + startGT + 1
	for i < len(data) {
		switch {
		case bytes.HasPrefix(data[i:], closeTag) && verifyCloseTag(data, i, len(closeTag)):
			gt := bytes.IndexByte(data[i:], '>')
			if gt == -1 {
				return 0, false
			}
			end := i + gt + 1
			if depth == 0 {
				return end, true
			}
			depth--
			i = end
		case bytes.HasPrefix(data[i:], openTag) && verifyOpenTag(data, i, len(openTag)):
			gt := bytes.IndexByte(data[i:], '>')
			if gt == -1 {
				return 0, false
			}
			if data[i+gt-1] == '/' {
				i += gt + 1
				continue
			}
			depth++
			i += gt + 1
		default:
			i++
		}
	}
	return 0, false
}
