package ddex

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"
)

// GateConfig bounds the resources a single parse is allowed to consume,
// enforced by Gate before (size, entity expansion, external entities) and
// during (depth, wall clock) parsing.
type GateConfig struct {
	MaxSizeBytes            int64
	MaxDepth                int
	MaxEntities             int
	MaxEntityExpansionBytes int64
	Timeout                 time.Duration
	AllowExternalEntities   bool
}

// DefaultGateConfig returns conservative bounds suitable for ingesting
// third-party DDEX deliveries: 64MiB documents, depth capped at 100, at most
// 64 internal entity declarations expanding to no more than 1MiB total, a 30s
// wall clock budget, and external entities rejected outright.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxSizeBytes:            64 << 20,
		MaxDepth:                100,
		MaxEntities:             64,
		MaxEntityExpansionBytes: 1 << 20,
		Timeout:                 30 * time.Second,
		AllowExternalEntities:   false,
	}
}

// Gate is the Security Gate (C2): it wraps raw input bytes, rejecting
// documents that would exceed the configured bounds before the Scanner or
// Parser ever sees them, and exposes CheckDepth for the Parser to call as it
// descends the element tree.
type Gate struct {
	cfg     GateConfig
	logger  *zap.Logger
	metrics Metrics
}

// NewGate constructs a Gate. A nil logger is treated as zap.NewNop(); a nil
// Metrics is treated as NewNoopMetrics().
func NewGate(cfg GateConfig, logger *zap.Logger, metrics Metrics) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	return &Gate{cfg: cfg, logger: logger, metrics: metrics}
}

var (
	doctypeMarker = []byte("<!DOCTYPE")
	entityMarker  = []byte("<!ENTITY")
	systemMarker  = []byte("SYSTEM")
	publicMarker  = []byte("PUBLIC")
)

// ScanBytes runs the pre-parse security checks against a fully-buffered
// document: overall size, presence of a DOCTYPE declaring external (SYSTEM
// or PUBLIC) entities, and a bound on how large the declared internal
// entities could expand to. It must be called before any XML decoding
// begins.
func (g *Gate) ScanBytes(data []byte) error {
	if int64(len(data)) > g.cfg.MaxSizeBytes {
		g.metrics.IncSecurityRejection(SecuritySizeLimit.String())
		return &SecurityError{Kind: SecuritySizeLimit, Limit: g.cfg.MaxSizeBytes, Observed: int64(len(data))}
	}

	doctypeIdx := bytes.Index(data, doctypeMarker)
	if doctypeIdx < 0 {
		return nil
	}

	declEnd := matchingBracket(data, doctypeIdx)
	if declEnd < 0 {
		declEnd = len(data)
	}
	decl := data[doctypeIdx:declEnd]

	if !g.cfg.AllowExternalEntities {
		if bytes.Contains(decl, systemMarker) || bytes.Contains(decl, publicMarker) {
			g.metrics.IncSecurityRejection(SecurityExternalEntity.String())
			return &SecurityError{Kind: SecurityExternalEntity, Limit: 0, Observed: 1}
		}
	}

	entityOffsets := findAll(decl, entityMarker)
	if len(entityOffsets) > g.cfg.MaxEntities {
		g.metrics.IncSecurityRejection(SecurityEntityExpansion.String())
		return &SecurityError{Kind: SecurityEntityExpansion, Limit: int64(g.cfg.MaxEntities), Observed: int64(len(entityOffsets))}
	}

	expansion, err := estimateEntityExpansion(data, decl, entityOffsets)
	if err != nil {
		return err
	}
	if expansion > g.cfg.MaxEntityExpansionBytes {
		g.metrics.IncSecurityRejection(SecurityEntityExpansion.String())
		return &SecurityError{Kind: SecurityEntityExpansion, Limit: g.cfg.MaxEntityExpansionBytes, Observed: expansion}
	}
	return nil
}

// matchingBracket returns the offset just past the '>' that closes the
// declaration starting at start, or -1 if none is found.
func matchingBracket(data []byte, start int) int {
	depth := 0
	for i := start; i < len(data); i++ {
		switch data[i] {
		case '<':
			depth++
		case '>':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// expansionEstimateCeiling saturates the expansion estimate. Once a
// projected size crosses it the document is over any configurable
// MaxEntityExpansionBytes anyway, and saturating keeps the arithmetic below
// from overflowing on deeply chained declarations.
const expansionEstimateCeiling = int64(1) << 40

// estimateEntityExpansion bounds billion-laughs-style expansion without
// actually expanding anything. Each declared entity's expanded size is
// computed recursively and memoized: a nested &ref; inside a declaration
// contributes the referenced entity's *expanded* size, not its literal
// text, so a chain of declarations that each multiply the previous one
// (lol1..lol9) compounds here exactly the way a real expansion would. The
// total is then each entity's expanded size times how often it is
// referenced in the document body outside the DTD. A declaration cycle is
// treated as unbounded and saturates immediately.
func estimateEntityExpansion(data, decl []byte, entityOffsets []int) (int64, error) {
	literals := make(map[string][]byte, len(entityOffsets))
	for _, off := range entityOffsets {
		rest := decl[off+len(entityMarker):]
		rest = bytes.TrimLeft(rest, " \t\r\n")
		nameEnd := bytes.IndexAny(rest, " \t\r\n")
		if nameEnd < 0 {
			continue
		}
		name := string(rest[:nameEnd])
		valueStart := bytes.IndexAny(rest[nameEnd:], "\"'")
		if valueStart < 0 {
			continue
		}
		quote := rest[nameEnd+valueStart]
		valueBody := rest[nameEnd+valueStart+1:]
		valueEnd := bytes.IndexByte(valueBody, quote)
		if valueEnd < 0 {
			continue
		}
		literals[name] = valueBody[:valueEnd]
	}

	sizes := make(map[string]int64, len(literals))
	visiting := map[string]bool{}
	var expanded func(name string) int64
	expanded = func(name string) int64 {
		if sz, ok := sizes[name]; ok {
			return sz
		}
		if visiting[name] {
			return expansionEstimateCeiling
		}
		visiting[name] = true
		size := int64(len(literals[name]))
		for other := range literals {
			n := int64(bytes.Count(literals[name], []byte("&"+other+";")))
			if n == 0 {
				continue
			}
			size = satAdd(size, satMul(n, expanded(other)))
		}
		delete(visiting, name)
		sizes[name] = size
		return size
	}

	var total int64
	for name := range literals {
		ref := []byte("&" + name + ";")
		n := int64(bytes.Count(data, ref) - bytes.Count(decl, ref))
		if n <= 0 {
			continue
		}
		total = satAdd(total, satMul(n, expanded(name)))
	}
	return total, nil
}

func satMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > expansionEstimateCeiling/b {
		return expansionEstimateCeiling
	}
	return a * b
}

func satAdd(a, b int64) int64 {
	if a > expansionEstimateCeiling-b {
		return expansionEstimateCeiling
	}
	return a + b
}

// CheckDepth is called by the Parser at each StartElement; it returns a
// SecurityError once the element nesting exceeds MaxDepth.
func (g *Gate) CheckDepth(depth int) error {
	if depth > g.cfg.MaxDepth {
		g.metrics.IncSecurityRejection(SecurityDepthLimit.String())
		return &SecurityError{Kind: SecurityDepthLimit, Limit: int64(g.cfg.MaxDepth), Observed: int64(depth)}
	}
	return nil
}

// Deadline derives a context bounded by the Gate's configured Timeout. The
// returned cancel function must be called by the caller once parsing
// completes.
func (g *Gate) Deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.cfg.Timeout)
}
