package segmenter

import (
	"context"
	"strings"
	"sync"

	"github.com/hupe1980/segmesh/core"
)

// Request is one promptable segmentation call.
type Request struct {
	Image core.ImageRef
	// Data holds the encoded image when the caller already loaded it.
	Data   []byte
	Phrase string
}

// Segmenter is the Segmentation Service. Implementations return candidate
// masks carrying RLE, shape, box and score; run indices are assigned later.
// Implementations must be safe for concurrent use.
type Segmenter interface {
	Segment(ctx context.Context, req Request) ([]core.Mask, error)
}

// Func adapts a function to the Segmenter interface.
type Func func(ctx context.Context, req Request) ([]core.Mask, error)

// Segment calls f.
func (f Func) Segment(ctx context.Context, req Request) ([]core.Mask, error) { return f(ctx, req) }

// Static is an in-memory Segmenter answering from a phrase table. Phrases are
// matched case-insensitively. It counts calls per phrase.
type Static struct {
	mu         sync.Mutex
	candidates map[string][]core.Mask
	errs       map[string]error
	calls      map[string]int
}

var _ Segmenter = (*Static)(nil)

// NewStatic creates an empty Static segmenter.
func NewStatic() *Static {
	return &Static{
		candidates: map[string][]core.Mask{},
		errs:       map[string]error{},
		calls:      map[string]int{},
	}
}

// With registers the candidates returned for phrase.
func (s *Static) With(phrase string, masks ...core.Mask) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[key(phrase)] = masks
	return s
}

// WithError makes calls for phrase fail with err.
func (s *Static) WithError(phrase string, err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[key(phrase)] = err
	return s
}

// Segment implements Segmenter. Unknown phrases yield no candidates.
func (s *Static) Segment(ctx context.Context, req Request) ([]core.Mask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(req.Phrase)
	s.calls[k]++

	if err, ok := s.errs[k]; ok {
		return nil, err
	}

	return append([]core.Mask(nil), s.candidates[k]...), nil
}

// Calls returns how often phrase was segmented.
func (s *Static) Calls(phrase string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key(phrase)]
}

// TotalCalls returns the number of Segment calls across all phrases.
func (s *Static) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func key(phrase string) string { return NormalizePhrase(phrase) }

// NormalizePhrase lowercases a phrase and collapses whitespace. It is the
// key used for phrase deduplication.
func NormalizePhrase(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}
