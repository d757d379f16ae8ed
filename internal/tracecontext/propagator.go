package tracecontext

import (
	crand "crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Version is the supported correlation header version.
const Version = "00"

// Context is the cross-tier correlation identity. One trace_id spans the
// whole logical operation; the span_id changes at every hop.
type Context struct {
	TraceID trace.TraceID
	SpanID  trace.SpanID
	Flags   trace.TraceFlags
}

// Valid reports whether both identifiers are non-zero.
func (c Context) Valid() bool {
	return c.TraceID.IsValid() && c.SpanID.IsValid()
}

// Serialize renders the compact `{version}-{traceId}-{spanId}-{flags}`
// header form.
func (c Context) Serialize() string {
	return fmt.Sprintf("%s-%s-%s-%02x", Version, c.TraceID, c.SpanID, byte(c.Flags))
}

// Parse decodes a correlation header. Malformed input returns an error;
// callers wanting best-effort propagation use Propagator.GetOrCreate,
// which mints a fresh context instead of failing.
func Parse(header string) (Context, error) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) != 4 {
		return Context{}, fmt.Errorf("correlation header must have 4 segments, got %d", len(parts))
	}
	if parts[0] != Version {
		return Context{}, fmt.Errorf("unsupported correlation header version %q", parts[0])
	}
	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return Context{}, fmt.Errorf("parse trace_id: %w", err)
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return Context{}, fmt.Errorf("parse span_id: %w", err)
	}
	if len(parts[3]) != 2 {
		return Context{}, fmt.Errorf("flags must be 2 hex characters")
	}
	flags, err := strconv.ParseUint(parts[3], 16, 8)
	if err != nil {
		return Context{}, fmt.Errorf("parse flags: %w", err)
	}
	ctx := Context{TraceID: traceID, SpanID: spanID, Flags: trace.TraceFlags(byte(flags))}
	if !ctx.Valid() {
		return Context{}, fmt.Errorf("correlation header has zero identifiers")
	}
	return ctx, nil
}

// Propagator mints and derives correlation contexts. The identifier
// source is injectable for deterministic tests.
type Propagator struct {
	rand io.Reader
}

// NewPropagator returns a propagator backed by crypto/rand.
func NewPropagator() *Propagator {
	return &Propagator{rand: crand.Reader}
}

// NewPropagatorWithRand returns a propagator with an injected identifier
// source.
func NewPropagatorWithRand(r io.Reader) *Propagator {
	if r == nil {
		r = crand.Reader
	}
	return &Propagator{rand: r}
}

// Mint creates a fresh trace with a root span.
func (p *Propagator) Mint() Context {
	return Context{
		TraceID: p.newTraceID(),
		SpanID:  p.newSpanID(),
		Flags:   trace.FlagsSampled,
	}
}

// CreateChild derives a new hop under the same trace. The parent relation
// is derivation only; the child never owns the parent.
func (p *Propagator) CreateChild(parent Context) Context {
	if !parent.Valid() {
		return p.Mint()
	}
	return Context{
		TraceID: parent.TraceID,
		SpanID:  p.newSpanID(),
		Flags:   parent.Flags,
	}
}

// GetOrCreate parses an inbound header and derives a child hop, or mints
// a fresh trace when the header is absent or malformed. Propagation is
// best-effort and never blocks the caller with an error.
func (p *Propagator) GetOrCreate(inboundHeader string) Context {
	if strings.TrimSpace(inboundHeader) == "" {
		return p.Mint()
	}
	parent, err := Parse(inboundHeader)
	if err != nil {
		return p.Mint()
	}
	return p.CreateChild(parent)
}

func (p *Propagator) newTraceID() trace.TraceID {
	var id trace.TraceID
	for !id.IsValid() {
		if _, err := io.ReadFull(p.rand, id[:]); err != nil {
			// crypto/rand never fails in practice; fall back to a fixed
			// marker rather than aborting emission.
			copy(id[:], []byte("aslo-fallback-tid"))
		}
	}
	return id
}

func (p *Propagator) newSpanID() trace.SpanID {
	var id trace.SpanID
	for !id.IsValid() {
		if _, err := io.ReadFull(p.rand, id[:]); err != nil {
			copy(id[:], []byte("aslo-fbk"))
		}
	}
	return id
}
