package features

import (
	"context"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/danielpatrickdp/hybrid-router/internal/encoder"
	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region metadata

// Metadata is the context the extractor reads besides the query itself.
type Metadata struct {
	HistoryLength int // turns already recorded for the query's project
}

// #endregion metadata

// #region keywords

var questionPrefixes = []string{
	"what", "how", "why", "who", "when", "where", "which",
	"is ", "are ", "can ", "could ", "does ", "do ",
}

var factualPrefixes = []string{
	"who is", "what is", "where is", "when did", "when was",
	"how many", "how much", "how old", "how far", "how long",
	"what year", "what date", "what time", "define",
}

var creativeKeywords = []string{
	"write me", "compose", "imagine", "describe a scene",
	"tell me a story", "make up", "poem", "story about", "fiction",
}

var commandPrefixes = []string{
	"list", "show", "run", "open", "find", "search", "create",
	"delete", "summarize", "translate", "convert", "fix",
}

var codeMarkers = []string{
	"```", "func ", "fn ", "def ", "class ", "error:", "stack trace",
	"compile", "debug", "segfault", "panic:",
}

// #endregion keywords

// #region extractor

// Extractor builds feature vectors with a fixed Layout.
type Extractor struct {
	layout    Layout
	enc       encoder.Encoder
	longChars int
}

// NewExtractor builds an extractor for vectors of width dim. The encoder fills
// the text band and must produce exactly the band's width.
func NewExtractor(dim int, enc encoder.Encoder, longChars int) (*Extractor, error) {
	layout, err := NewLayout(dim)
	if err != nil {
		return nil, err
	}
	if enc.Dimension() != layout.Text.Width {
		return nil, herr.DimensionMismatch("text encoder", layout.Text.Width, enc.Dimension())
	}
	if longChars <= 0 {
		return nil, herr.InvalidArgf("long query threshold must be positive, got %d", longChars)
	}
	return &Extractor{layout: layout, enc: enc, longChars: longChars}, nil
}

// Layout returns the band layout.
func (e *Extractor) Layout() Layout { return e.layout }

// Dimension returns the total vector width.
func (e *Extractor) Dimension() int { return e.layout.Dimension }

// Extract encodes q's text and assembles the full vector.
func (e *Extractor) Extract(ctx context.Context, q query.Query, md Metadata) ([]float32, error) {
	text, err := e.enc.Encode(ctx, q.Text)
	if err != nil {
		return nil, herr.WithOp(err, "features.Extract")
	}
	return e.Assemble(q, md, text)
}

// Assemble builds a vector from a precomputed text band.
func (e *Extractor) Assemble(q query.Query, md Metadata, text []float32) ([]float32, error) {
	if len(text) != e.layout.Text.Width {
		return nil, herr.DimensionMismatch("text band", e.layout.Text.Width, len(text))
	}
	vec := make([]float32, e.layout.Dimension)
	lexical(q.Text, e.layout.Lexical.Slice(vec))
	categorical(q, e.layout.Categorical.Slice(vec))
	copy(e.layout.Text.Slice(vec), text)
	e.metadata(q, md, e.layout.Metadata.Slice(vec))
	return vec, nil
}

// #endregion extractor

// #region bands

func lexical(text string, out []float32) {
	runes := utf8.RuneCountInString(text)
	tokens := len(strings.Fields(text))

	var punct, letters, upper int
	for _, r := range text {
		switch {
		case unicode.IsPunct(r):
			punct++
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}

	out[0] = saturate(float32(runes) / 1000)
	out[1] = saturate(float32(tokens) / 200)
	if runes > 0 {
		out[2] = float32(punct) / float32(runes)
	}
	if letters > 0 {
		out[3] = float32(upper) / float32(letters)
	}
}

func categorical(q query.Query, out []float32) {
	lower := strings.ToLower(strings.TrimSpace(q.Text))

	out[0] = flag(hasAnyPrefix(lower, questionPrefixes) || strings.HasSuffix(lower, "?"))
	out[1] = flag(hasAnyPrefix(lower, factualPrefixes))
	out[2] = flag(containsAny(lower, creativeKeywords))
	out[3] = flag(hasAnyPrefix(lower, commandPrefixes))
	out[4] = flag(containsAny(lower, codeMarkers))
	out[5] = flag(q.IsHighPriority())
	out[6] = float32(q.Priority) / query.MaxPriority
	out[7] = flag(q.HasProject())
}

func (e *Extractor) metadata(q query.Query, md Metadata, out []float32) {
	t := q.CreatedAt
	secs := t.Hour()*3600 + t.Minute()*60 + t.Second()
	angle := 2 * math.Pi * float64(secs) / 86400

	out[0] = float32(math.Sin(angle))
	out[1] = float32(math.Cos(angle))
	out[2] = flag(utf8.RuneCountInString(q.Text) > e.longChars)
	out[3] = saturate(float32(md.HistoryLength) / 100)
}

// #endregion bands

// #region helpers

func flag(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

func saturate(v float32) float32 {
	if v > 1 {
		return 1
	}
	return v
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// #endregion helpers
