// Package id provides identifier generation and header conversion for the sensor.
//
// Two families of identifiers live here:
//   - Trace and span ids: 16 or 32 lowercase hex characters built from random
//     64-bit integers written big-endian. These travel on the wire and in
//     propagation headers.
//   - Batch ids: ULIDs used to correlate the log lines of one delivery batch.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	randv2 "math/rand/v2"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Widths
// ============================================================================

const (
	// Width64 produces a 16 character id.
	Width64 = 1
	// Width128 produces a 32 character id.
	Width128 = 2

	// HeaderLength is the length of an id in its propagation header form.
	HeaderLength = 16
)

// ============================================================================
// Trace / Span ID Generator
// ============================================================================

// Generator produces trace and span ids from a 64-bit source
type Generator struct {
	source func() uint64
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by the runtime's per-goroutine
// random source. It needs no locking on the hot path.
func NewGenerator() *Generator {
	return &Generator{source: randv2.Uint64}
}

// NewGeneratorWithSource creates a generator with a custom source.
// Useful for testing with deterministic values.
func NewGeneratorWithSource(source func() uint64) *Generator {
	return &Generator{source: source}
}

// ID returns width random 64-bit words, big-endian, hex-encoded.
// Widths below 1 are treated as 1 and widths above 2 as 2.
func (g *Generator) ID(width int) string {
	width = clampWidth(width)

	buf := make([]byte, 8*width)
	for i := 0; i < width; i++ {
		binary.BigEndian.PutUint64(buf[i*8:], g.source())
	}
	return hex.EncodeToString(buf)
}

// Generate returns a new id of the given width from the default generator
func Generate(width int) string {
	return Default().ID(width)
}

func clampWidth(width int) int {
	switch {
	case width < Width64:
		return Width64
	case width > Width128:
		return Width128
	default:
		return width
	}
}

// ============================================================================
// Header Conversion
// ============================================================================

var headerPattern = regexp.MustCompile(`^[0-9a-fA-F]{16,32}$`)

// IDToHeader converts an id to its propagation header form. A 32 character
// id becomes its low-order (last) 16 characters, other strings pass through
// and values that are not strings yield "".
func IDToHeader(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	if len(s) == 2*HeaderLength {
		return s[HeaderLength:]
	}
	return s
}

// HeaderToID validates an inbound header value. It returns the value
// unchanged when it is 16 to 32 hex characters and "" otherwise.
func HeaderToID(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	if !headerPattern.MatchString(s) {
		return ""
	}
	return s
}

// ============================================================================
// Batch IDs (ULID)
// ============================================================================

var (
	batchEntropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
	batchEntropyMu sync.Mutex
)

// NewBatchID returns a k-sortable ULID identifying one delivery batch
func NewBatchID() string {
	batchEntropyMu.Lock()
	defer batchEntropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), batchEntropy).String()
}

// IsBatchID checks if a string is a valid batch ULID
func IsBatchID(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}
