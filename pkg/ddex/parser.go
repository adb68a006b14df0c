package ddex

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
)

// ParserConfig controls how Parse/ParseStream behave.
type ParserConfig struct {
	Mode                 Mode
	AutoThresholdBytes   int64
	ResolveReferences    bool
	IncludeRawExtensions bool
	Selectors            []string
	PreserveWhitespace   bool
	CompatMode           bool
	Gate                 GateConfig
	Logger               *zap.Logger
	Metrics              Metrics
}

// DefaultParserConfig returns a ParserConfig with ModeAuto, reference
// resolution on, extension capture on, and DefaultGateConfig security
// bounds.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		Mode:                 ModeAuto,
		AutoThresholdBytes:   DefaultAutoThresholdBytes,
		ResolveReferences:    true,
		IncludeRawExtensions: true,
		Gate:                 DefaultGateConfig(),
	}
}

// Parser is the DOM/streaming ERN parser (C4): it wraps input through the
// Security Gate, detects the schema version via the Scanner, and walks the
// element tree into the graph model, capturing foreign-namespace
// extensions and trivia as it goes.
type Parser struct {
	cfg     ParserConfig
	gate    *Gate
	logger  *zap.Logger
	metrics Metrics
}

// NewParser constructs a Parser from cfg.
func NewParser(cfg ParserConfig) *Parser {
	logger := orNop(cfg.Logger)
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	return &Parser{
		cfg:     cfg,
		gate:    NewGate(cfg.Gate, logger, metrics),
		logger:  logger,
		metrics: metrics,
	}
}

// Parse fully materializes r into a Message. Callers that only need a
// subset of entities, or that are ingesting documents larger than a few
// tens of megabytes, should prefer ParseStream.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (msg *Message, err error) {
	start := time.Now()
	defer func() { p.metrics.ObserveParse(time.Since(start), err) }()

	ctx, cancel := p.gate.Deadline(ctx)
	defer cancel()

	head, src, err := p.openSource(r)
	if err != nil {
		return nil, err
	}

	version, verr := DetectVersion(head)
	if verr != nil {
		if !p.cfg.CompatMode {
			return nil, verr
		}
		version = VersionUnknown
	}
	p.warnLegacyVersion(version, head)

	msg = NewMessage(version)
	msg.SetLogger(p.logger)

	dec := xml.NewDecoder(src)
	dec.CharsetReader = charsetReader
	dec.Strict = true

	token := NewCancelToken(ctx)
	depth := 0
	foundRoot := false
	ns := NewNSStack()

	for {
		if err := token.Check(); err != nil {
			return nil, err
		}
		tok, terr := dec.Token()
		if terr == io.EOF {
			break
		}
		if terr != nil {
			return nil, wrapXMLError(terr, dec)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if err := checkDuplicateAttrs(se); err != nil {
				return nil, err
			}
			if err := resolveNamespaces(ns, se); err != nil {
				return nil, err
			}
			depth++
			if err := p.gate.CheckDepth(depth); err != nil {
				return nil, err
			}
			if !foundRoot {
				foundRoot = true
				for _, a := range se.Attr {
					if a.Name.Local == "ReleaseProfileVersionId" {
						msg.Header.Profile = a.Value
					}
				}
				if err := p.parseRoot(ctx, dec, se, msg, depth, ns); err != nil {
					return nil, err
				}
				depth--
				continue
			}
		}
		if _, ok := tok.(xml.EndElement); ok {
			depth--
		}
	}

	if p.cfg.ResolveReferences {
		for _, le := range msg.CheckReferentialIntegrity() {
			le := le
			msg.addWarning(&le)
			p.metrics.IncLinkingWarning()
		}
	}

	return msg, nil
}

// warnLegacyVersion logs the ERN 3.8.1 -> 3.8.2 coercion DetectVersion
// performs silently, so an ingestion pipeline still has visibility into
// deliveries authored against the retired namespace.
func (p *Parser) warnLegacyVersion(version Version, head []byte) {
	if version == Version382 && bytes.Contains(head, []byte("ern/381")) {
		p.logger.Warn("ddex: legacy ERN 3.8.1 document coerced to 3.8.2")
	}
}

// versionDetectWindow is how many leading bytes the streaming extraction
// modes keep buffered for the Security Gate's pre-parse scan and version
// detection; the root start tag always fits well inside it.
const versionDetectWindow = 4096

// openSource applies the configured extraction mode. ModeDOM buffers the
// whole document and security-scans all of it before any decoding; ModeStream
// keeps only the detection window buffered and bounds the rest through a
// limitingReader; ModeAuto buffers up to AutoThresholdBytes and downgrades to
// the streaming source when the document turns out to be larger. The returned
// head is always sufficient for DetectVersion.
func (p *Parser) openSource(r io.Reader) ([]byte, io.Reader, error) {
	threshold := p.cfg.AutoThresholdBytes
	if threshold <= 0 {
		threshold = DefaultAutoThresholdBytes
	}

	switch p.cfg.Mode {
	case ModeDOM:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, nil, err
		}
		if err := p.gate.ScanBytes(data); err != nil {
			return nil, nil, err
		}
		return data, bytes.NewReader(data), nil
	case ModeStream:
		return p.streamSource(nil, r)
	default:
		data, err := io.ReadAll(io.LimitReader(r, threshold+1))
		if err != nil {
			return nil, nil, err
		}
		if int64(len(data)) <= threshold {
			if err := p.gate.ScanBytes(data); err != nil {
				return nil, nil, err
			}
			return data, bytes.NewReader(data), nil
		}
		return p.streamSource(data, r)
	}
}

// streamSource builds the bounded-memory source: pre (bytes already pulled
// off r by an Auto probe, possibly nil) followed by r itself, behind a
// limitingReader enforcing the Gate's size bound. The Gate's pre-parse scan
// runs over just the detection window; DOCTYPE abuse past that window is
// still caught by the decoder's strict mode and the expansion/depth checks.
func (p *Parser) streamSource(pre []byte, r io.Reader) ([]byte, io.Reader, error) {
	lr := &limitingReader{r: io.MultiReader(bytes.NewReader(pre), r), limit: p.cfg.Gate.MaxSizeBytes}
	head := make([]byte, versionDetectWindow)
	n, err := readAtMost(lr, head)
	if err != nil {
		return nil, nil, err
	}
	head = head[:n]
	if err := p.gate.ScanBytes(head); err != nil {
		return nil, nil, err
	}
	return head, io.MultiReader(bytes.NewReader(head), lr), nil
}

// readAtMost fills buf as far as the reader allows, swallowing the EOFs that
// just mean the input ended before buf was full.
func readAtMost(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}

// charsetReader is installed on every xml.Decoder this package constructs so
// non-UTF-8 DDEX deliveries (ISO-8859-1 is still common in catalog exports)
// decode correctly instead of failing outright.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "iso-8859-1", "latin1", "iso8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	default:
		return charset.NewReaderLabel(label, input)
	}
}

func wrapXMLError(err error, dec *xml.Decoder) error {
	return &ParseError{
		Line:    0,
		Column:  0,
		Offset:  dec.InputOffset(),
		Kind:    "xml-syntax",
		Message: err.Error(),
	}
}

func checkDuplicateAttrs(se xml.StartElement) error {
	seen := map[xml.Name]bool{}
	for _, a := range se.Attr {
		if seen[a.Name] {
			return &ParseError{
				Kind:    "duplicate-attribute",
				Message: fmt.Sprintf("attribute %q repeated on element %q", a.Name.Local, se.Name.Local),
			}
		}
		seen[a.Name] = true
	}
	return nil
}

// parseRoot dispatches the root element's children (MessageHeader,
// PartyList, ResourceList, ReleaseList, DealList) to their builders.
func (p *Parser) parseRoot(ctx context.Context, dec *xml.Decoder, root xml.StartElement, msg *Message, depth int, ns *NSStack) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := checkDuplicateAttrs(t); err != nil {
				return err
			}
			if err := resolveNamespaces(ns, t); err != nil {
				return err
			}
			if err := p.gate.CheckDepth(depth + 1); err != nil {
				return err
			}
			if err := p.dispatchTopLevel(dec, t, msg, depth+1, ns); err != nil {
				return err
			}
			ns.Pop()
		case xml.Comment:
			msg.AddTrivia(&Trivia{Kind: TriviaComment, Data: string(t), Owner: OwnerKindMessage, Anchor: Anchor{Kind: AnchorAfterLastChild}})
		case xml.ProcInst:
			msg.AddTrivia(&Trivia{Kind: TriviaPI, Target: t.Target, Data: string(t.Inst), Owner: OwnerKindMessage, Anchor: Anchor{Kind: AnchorAfterLastChild}})
		case xml.EndElement:
			if t.Name == root.Name {
				return nil
			}
		}
	}
}

func (p *Parser) dispatchTopLevel(dec *xml.Decoder, start xml.StartElement, msg *Message, depth int, ns *NSStack) error {
	switch start.Name.Local {
	case "MessageHeader":
		return p.parseMessageHeader(dec, start, msg)
	case "PartyList":
		return p.consumeListOf(dec, start, depth, ns, func(child xml.StartElement) error {
			party, exts, trivia, err := p.parseParty(dec, child, depth+1)
			if err != nil {
				return err
			}
			if err := msg.AddParty(party); err != nil {
				return err
			}
			attachExtensions(msg, exts, party.Ref)
			attachTrivia(msg, trivia, party.Ref)
			return nil
		})
	case "ResourceList":
		return p.consumeListOf(dec, start, depth, ns, func(child xml.StartElement) error {
			kind, ok := resourceKindFor(child.Name.Local)
			if !ok {
				return p.captureUnknownAsExtension(dec, child, OwnerKindMessage, "", depth+1, msg)
			}
			res, exts, trivia, err := p.parseResource(dec, child, kind, depth+1)
			if err != nil {
				return err
			}
			if err := msg.AddResource(res); err != nil {
				return err
			}
			attachExtensions(msg, exts, res.Ref)
			attachTrivia(msg, trivia, res.Ref)
			return nil
		})
	case "ReleaseList":
		return p.consumeListOf(dec, start, depth, ns, func(child xml.StartElement) error {
			rel, exts, trivia, err := p.parseRelease(dec, child, depth+1)
			if err != nil {
				return err
			}
			if err := msg.AddRelease(rel); err != nil {
				return err
			}
			attachExtensions(msg, exts, rel.Ref)
			attachTrivia(msg, trivia, rel.Ref)
			return nil
		})
	case "DealList":
		return p.consumeListOf(dec, start, depth, ns, func(child xml.StartElement) error {
			deal, exts, trivia, err := p.parseDeal(dec, child, depth+1)
			if err != nil {
				return err
			}
			if err := msg.AddDeal(deal); err != nil {
				return err
			}
			// AddDeal assigns a DEAL<n> reference to a refless deal, so bind
			// the captures to the reference the deal was stored under.
			ref := msg.Deals()[len(msg.Deals())-1].Ref
			attachExtensions(msg, exts, ref)
			attachTrivia(msg, trivia, ref)
			return nil
		})
	default:
		return p.captureUnknownAsExtension(dec, start, OwnerKindMessage, "", depth, msg)
	}
}

func resourceKindFor(local string) (ResourceKind, bool) {
	switch local {
	case "SoundRecording":
		return ResourceKindSoundRecording, true
	case "Image":
		return ResourceKindImage, true
	case "Video":
		return ResourceKindVideo, true
	case "Text":
		return ResourceKindText, true
	default:
		return 0, false
	}
}

// consumeListOf walks a *List wrapper element (PartyList, ResourceList,
// ReleaseList, DealList), invoking handle for each start tag that is a
// direct child, and skipping anything handle doesn't consume itself.
func (p *Parser) consumeListOf(dec *xml.Decoder, start xml.StartElement, depth int, ns *NSStack, handle func(xml.StartElement) error) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := checkDuplicateAttrs(t); err != nil {
				return err
			}
			if err := resolveNamespaces(ns, t); err != nil {
				return err
			}
			if err := p.gate.CheckDepth(depth + 1); err != nil {
				return err
			}
			if err := handle(t); err != nil {
				return err
			}
			ns.Pop()
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

func (p *Parser) parseMessageHeader(dec *xml.Decoder, start xml.StartElement, msg *Message) error {
	h := msg.Header // keeps the Profile already read off the root element
	h.SchemaVersion = msg.Version
	for {
		tok, err := dec.Token()
		if err != nil {
			return wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "MessageId":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return err
				}
				h.MessageID = text
			case "MessageThreadId":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return err
				}
				h.ThreadID = text
			case "MessageCreatedDateTime":
				text, _, err := readSimpleText(dec, t)
				if err != nil {
					return err
				}
				if ts, perr := time.Parse(time.RFC3339, text); perr == nil {
					h.CreatedDateTime = ts
				}
			case "MessageSender":
				ref, err := readFirstPartyRef(dec, t)
				if err != nil {
					return err
				}
				h.SenderPartyRef = ref
			case "MessageRecipient":
				ref, err := readFirstPartyRef(dec, t)
				if err != nil {
					return err
				}
				h.RecipientPartyRef = ref
			default:
				if err := skipElement(dec, t); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if t.Name == start.Name {
				msg.Header = h
				return nil
			}
		}
	}
}

// readFirstPartyRef reads a MessageSender/MessageRecipient element's
// PartyId child as a lightweight party reference string, since the
// envelope's sender/recipient are identified by DPID rather than by a
// PartyList reference.
func readFirstPartyRef(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var ref string
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", wrapXMLError(err, dec)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			text, _, err := readSimpleText(dec, t)
			if err != nil {
				return "", err
			}
			if ref == "" {
				ref = text
			}
		case xml.EndElement:
			if t.Name == start.Name {
				return ref, nil
			}
		}
	}
}

// readSimpleText reads a leaf element's character data and attributes,
// assuming it has no nested elements. It consumes through the matching
// EndElement.
func readSimpleText(dec *xml.Decoder, start xml.StartElement) (value string, attrs map[string]string, err error) {
	attrs = map[string]string{}
	for _, a := range start.Attr {
		attrs[a.Name.Local] = a.Value
	}
	var buf strings.Builder
	for {
		tok, terr := dec.Token()
		if terr != nil {
			return "", nil, wrapXMLError(terr, dec)
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
		case xml.EndElement:
			if t.Name == start.Name {
				return buf.String(), attrs, nil
			}
		case xml.StartElement:
			if err := skipElement(dec, t); err != nil {
				return "", nil, err
			}
		}
	}
}

// skipElement consumes start's entire subtree without interpreting it.
func skipElement(dec *xml.Decoder, start xml.StartElement) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return wrapXMLError(err, dec)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// attachExtensions stamps each captured extension with its owner's now-known
// reference and adds it to msg. Extensions are captured with an empty
// OwnerRef because an entity's Ref can be set by a child element parsed
// after the extension itself, so the binding has to happen once parsing of
// the whole entity is complete.
func attachExtensions(msg *Message, exts []*Extension, ownerRef string) {
	for _, e := range exts {
		e.OwnerRef = ownerRef
		msg.AddExtension(e)
	}
}

// attachTrivia mirrors attachExtensions for the comments and processing
// instructions captured inside an entity's body.
func attachTrivia(msg *Message, trivia []*Trivia, ownerRef string) {
	for _, t := range trivia {
		t.OwnerRef = ownerRef
		msg.AddTrivia(t)
	}
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
