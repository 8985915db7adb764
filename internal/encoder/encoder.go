// Package encoder produces the opaque text band of a feature vector.
package encoder

import (
	"context"
	"math"
	"strings"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/logger"
)

// #region interface

// Encoder maps text to a fixed-length numeric vector.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// #endregion interface

// #region hash-encoder

// HashEncoder is a hashed bag-of-words encoder. Each whitespace token is
// lowercased, hashed into one of dim buckets and counted; the result is L2 normalized.
type HashEncoder struct {
	dim int
}

// NewHashEncoder returns a HashEncoder with dim buckets.
func NewHashEncoder(dim int) (*HashEncoder, error) {
	if dim <= 0 {
		return nil, herr.InvalidArgf("hash encoder dimension must be positive, got %d", dim)
	}
	return &HashEncoder{dim: dim}, nil
}

// Dimension returns the bucket count.
func (h *HashEncoder) Dimension() int { return h.dim }

// Encode never fails; an empty text encodes to the zero vector.
func (h *HashEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		vec[hashToken(tok)%uint64(h.dim)]++
	}
	normalize(vec)
	return vec, nil
}

// hashToken is a 31-multiplier rolling hash over the token bytes.
func hashToken(s string) uint64 {
	var h uint64
	for i := 0; i < len(s); i++ {
		h = h*31 + uint64(s[i])
	}
	return h
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// #endregion hash-encoder

// #region fallback

// Fallback tries primary and uses secondary when primary is unavailable.
// A dimension mismatch from primary is returned as-is; it is a wiring bug, not an outage.
type Fallback struct {
	primary   Encoder
	secondary Encoder
	log       *logger.Logger
}

// NewFallback pairs two encoders of equal dimension.
func NewFallback(primary, secondary Encoder) (*Fallback, error) {
	if primary.Dimension() != secondary.Dimension() {
		return nil, herr.DimensionMismatch("fallback encoder", primary.Dimension(), secondary.Dimension())
	}
	return &Fallback{primary: primary, secondary: secondary, log: logger.Named("encoder")}, nil
}

// Dimension returns the shared dimension.
func (f *Fallback) Dimension() int { return f.primary.Dimension() }

// Encode delegates to primary, degrading to secondary on any non-dimension error.
func (f *Fallback) Encode(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.primary.Encode(ctx, text)
	if err == nil {
		return vec, nil
	}
	if herr.IsKind(err, herr.KindDimensionMismatch) {
		return nil, err
	}
	f.log.Warn().Err(err).Msg("primary encoder failed, using fallback")
	return f.secondary.Encode(ctx, text)
}

// #endregion fallback
