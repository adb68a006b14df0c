package ddex

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"sort"
)

// ReleaseView is one element of a streaming parse: the Release itself plus
// any recoverable warnings (dangling references that couldn't be resolved
// against entities seen so far) found while extracting it. Foreign-namespace
// extensions and comment/PI trivia nested inside a streamed entity are not
// retained, since there is no Message arena to attach them to without
// defeating the point of bounded-memory streaming; use Parse instead when
// that fidelity matters more than peak memory.
type ReleaseView struct {
	Release  Release
	Warnings []error
}

// ReleaseSeq is a lazy, caller-driven sequence of ReleaseView values
// produced by ParseStream. Next blocks until another release is located in
// the input or the stream is exhausted; it never materializes the whole
// document at once.
//
// When the Parser was configured with ParserConfig.Selectors, Next is
// backed by selective instead: the Scanner's LocatePattern finds candidate
// entity offsets for only the requested kinds (plus Release and Party,
// which the sequence always needs) directly in the byte buffer, and every
// byte between matches is never handed to encoding/xml at all. Without
// Selectors, Next falls back to the full token-walk below.
type ReleaseSeq struct {
	parser    *Parser
	dec       *xml.Decoder
	selective *selectiveScan
	token     *CancelToken
	cancel    context.CancelFunc
	seen      *boundedLRU
	depth     int
	done      bool
}

// Close releases the deadline timer ParseStream armed from the Gate's
// Timeout. It is safe to call more than once and after the sequence is
// exhausted; Next also calls it on end of stream and on any fatal error.
func (s *ReleaseSeq) Close() {
	s.done = true
	if s.cancel != nil {
		s.cancel()
	}
}

// seenEntitiesCapacity bounds how many prior parties/resources the
// streaming decoder remembers for checking references to them.
const seenEntitiesCapacity = 4096

// ParseStream opens a lazy, streaming parse of r. With no Selectors
// configured it walks encoding/xml's token stream directly, keeping only
// one entity materialized at a time so memory is bounded by the largest
// single Release rather than the whole document. With Selectors configured,
// it instead drives a selectiveScan (RingBufferSize-chunked, ChunkOverlap
// bytes of context carried across chunk boundaries) that locates entity
// open tags with the Scanner's LocatePattern and decodes only the matched
// spans, so kinds the caller didn't ask for are never tokenized at all.
func (p *Parser) ParseStream(ctx context.Context, r io.Reader) (*ReleaseSeq, error) {
	ctx, cancel := p.gate.Deadline(ctx)

	br := &limitingReader{r: r, limit: p.cfg.Gate.MaxSizeBytes}
	head := make([]byte, 4096)
	n, _ := io.ReadFull(br, head)
	head = head[:n]
	if err := p.gate.ScanBytes(head); err != nil {
		cancel()
		return nil, err
	}
	version, verr := DetectVersion(head)
	if verr != nil && !p.cfg.CompatMode {
		cancel()
		return nil, verr
	}
	p.warnLegacyVersion(version, head)

	full := io.MultiReader(bytes.NewReader(head), br)

	if kinds := streamingSelectorKinds(p.cfg.Selectors); len(p.cfg.Selectors) > 0 {
		return &ReleaseSeq{
			parser:    p,
			selective: newSelectiveScan(full, kinds),
			token:     NewCancelToken(ctx),
			cancel:    cancel,
			seen:      newBoundedLRU(seenEntitiesCapacity),
		}, nil
	}

	dec := xml.NewDecoder(full)
	dec.CharsetReader = charsetReader
	dec.Strict = true

	return &ReleaseSeq{
		parser: p,
		dec:    dec,
		token:  NewCancelToken(ctx),
		cancel: cancel,
		seen:   newBoundedLRU(seenEntitiesCapacity),
	}, nil
}

// streamingSelectorKinds narrows the caller's requested ParserConfig.Selectors
// down to the scanner kinds ParseStream's token types can actually act on
// (the resource kinds and Party), always including "Release" (ReleaseSeq's
// output unit) and "Party" (needed for the display-artist forward-reference
// check Next already performs). "Deal" is never included: ReleaseSeq has no
// channel to report a Deal on, so selecting it would locate tags Next could
// never consume.
func streamingSelectorKinds(selectors []string) []string {
	want := map[string]bool{"Release": true, "Party": true}
	for _, s := range selectors {
		switch s {
		case "SoundRecording", "Image", "Video", "Text", "Party", "Release":
			want[s] = true
		}
	}
	kinds := make([]string, 0, len(want))
	for k := range want {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// limitingReader enforces GateConfig.MaxSizeBytes across a streaming read
// that never buffers the whole document, since Gate.ScanBytes alone can
// only see what's already been read.
type limitingReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (lr *limitingReader) Read(p []byte) (int, error) {
	if lr.limit > 0 && lr.read >= lr.limit {
		return 0, &SecurityError{Kind: SecuritySizeLimit, Limit: lr.limit, Observed: lr.read}
	}
	n, err := lr.r.Read(p)
	lr.read += int64(n)
	if lr.limit > 0 && lr.read > lr.limit {
		return n, &SecurityError{Kind: SecuritySizeLimit, Limit: lr.limit, Observed: lr.read}
	}
	return n, err
}

// Next advances the sequence, returning (view, true, nil) for each Release
// found, (zero, false, nil) at end of stream, or a fatal error. Parties and
// resources encountered along the way are cached in the bounded LRU so a
// Release's display-artist references can be checked without holding the
// whole document. Resource-group references are not checked against it.
func (s *ReleaseSeq) Next(ctx context.Context) (ReleaseView, bool, error) {
	view, ok, err := s.advance(ctx)
	if err != nil || !ok {
		s.Close()
	}
	return view, ok, err
}

func (s *ReleaseSeq) advance(ctx context.Context) (ReleaseView, bool, error) {
	if s.done {
		return ReleaseView{}, false, nil
	}
	if s.selective != nil {
		return s.nextSelective(ctx)
	}
	for {
		if err := s.token.Check(); err != nil {
			return ReleaseView{}, false, err
		}
		tok, err := s.dec.Token()
		if err == io.EOF {
			s.done = true
			return ReleaseView{}, false, nil
		}
		if err != nil {
			return ReleaseView{}, false, wrapXMLError(err, s.dec)
		}
		if _, ok := tok.(xml.EndElement); ok {
			if s.depth > 0 {
				s.depth--
			}
			continue
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if err := checkDuplicateAttrs(se); err != nil {
			return ReleaseView{}, false, err
		}
		s.depth++
		if err := s.parser.gate.CheckDepth(s.depth); err != nil {
			return ReleaseView{}, false, err
		}

		switch se.Name.Local {
		case "NewReleaseMessage", "PartyList", "ResourceList", "ReleaseList", "DealList":
			// Containers: descend, their children surface on later iterations.
		case "Party":
			party, _, _, err := s.parser.parseParty(s.dec, se, s.depth)
			s.depth--
			if err != nil {
				return ReleaseView{}, false, err
			}
			s.seen.Put("party:"+party.Ref, party)
		case "SoundRecording", "Image", "Video", "Text":
			kind, _ := resourceKindFor(se.Name.Local)
			res, _, _, err := s.parser.parseResource(s.dec, se, kind, s.depth)
			s.depth--
			if err != nil {
				return ReleaseView{}, false, err
			}
			s.seen.Put("resource:"+res.Ref, res)
		case "Release":
			rel, _, _, err := s.parser.parseRelease(s.dec, se, s.depth)
			s.depth--
			if err != nil {
				return ReleaseView{}, false, err
			}
			view := ReleaseView{Release: rel}
			for _, ar := range rel.DisplayArtistRefs {
				if _, ok := s.seen.Get("party:" + ar); !ok {
					view.Warnings = append(view.Warnings, &LinkingError{Path: "DisplayArtistRefs", Message: "party reference " + ar + " not yet seen in stream order"})
				}
			}
			return view, true, nil
		default:
			if err := skipElement(s.dec, se); err != nil {
				s.depth--
				return ReleaseView{}, false, err
			}
			s.depth--
		}
	}
}

// nextSelective is Next's selective-scan path: it pulls the next matched
// entity span from s.selective, decodes only that span with its own
// throwaway *xml.Decoder, and dispatches it the same way the full
// token-walk above does. Every byte the underlying reader produced between
// one matched span and the next was scanned only as raw bytes by
// LocatePattern, never tokenized by encoding/xml.
func (s *ReleaseSeq) nextSelective(ctx context.Context) (ReleaseView, bool, error) {
	for {
		if err := s.token.Check(); err != nil {
			return ReleaseView{}, false, err
		}
		kind, data, ok, err := s.selective.next()
		if err != nil {
			return ReleaseView{}, false, err
		}
		if !ok {
			s.done = true
			return ReleaseView{}, false, nil
		}

		subDec := xml.NewDecoder(bytes.NewReader(data))
		subDec.CharsetReader = charsetReader
		subDec.Strict = true
		tok, terr := subDec.Token()
		if terr != nil {
			return ReleaseView{}, false, wrapXMLError(terr, subDec)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if err := checkDuplicateAttrs(se); err != nil {
			return ReleaseView{}, false, err
		}
		if err := s.parser.gate.CheckDepth(1); err != nil {
			return ReleaseView{}, false, err
		}

		switch kind {
		case "Party":
			party, _, _, err := s.parser.parseParty(subDec, se, 1)
			if err != nil {
				return ReleaseView{}, false, err
			}
			s.seen.Put("party:"+party.Ref, party)
		case "SoundRecording", "Image", "Video", "Text":
			resKind, _ := resourceKindFor(kind)
			res, _, _, err := s.parser.parseResource(subDec, se, resKind, 1)
			if err != nil {
				return ReleaseView{}, false, err
			}
			s.seen.Put("resource:"+res.Ref, res)
		case "Release":
			rel, _, _, err := s.parser.parseRelease(subDec, se, 1)
			if err != nil {
				return ReleaseView{}, false, err
			}
			view := ReleaseView{Release: rel}
			for _, ar := range rel.DisplayArtistRefs {
				if _, ok := s.seen.Get("party:" + ar); !ok {
					view.Warnings = append(view.Warnings, &LinkingError{Path: "DisplayArtistRefs", Message: "party reference " + ar + " not yet seen in stream order"})
				}
			}
			return view, true, nil
		}
	}
}
