// Package features turns a query and its context metadata into a fixed-width vector.
package features

import (
	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
)

// #region band

// Band is a named contiguous slice of the feature vector.
type Band struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Width  int    `json:"width"`
}

// End returns the exclusive upper bound of the band.
func (b Band) End() int { return b.Offset + b.Width }

// Slice returns the band's view into vec.
func (b Band) Slice(vec []float32) []float32 { return vec[b.Offset:b.End()] }

// #endregion band

// #region layout

const (
	LexicalWidth     = 4 // length, token count, punctuation density, uppercase ratio
	CategoricalWidth = 8 // five query-type flags, high priority, priority level, has project
	MetadataWidth    = 4 // time-of-day sin/cos, long-query flag, history depth

	fixedWidth = LexicalWidth + CategoricalWidth + MetadataWidth
)

// Layout fixes band positions for one vector dimension. The text band takes
// whatever the fixed bands leave.
type Layout struct {
	Dimension   int  `json:"dimension"`
	Lexical     Band `json:"lexical"`
	Categorical Band `json:"categorical"`
	Text        Band `json:"text"`
	Metadata    Band `json:"metadata"`
}

// NewLayout lays out bands for a vector of width dim.
func NewLayout(dim int) (Layout, error) {
	if dim <= fixedWidth {
		return Layout{}, herr.InvalidArgf("feature dimension %d leaves no room for the text band (need > %d)", dim, fixedWidth)
	}
	textWidth := dim - fixedWidth
	l := Layout{Dimension: dim}
	l.Lexical = Band{Name: "lexical", Offset: 0, Width: LexicalWidth}
	l.Categorical = Band{Name: "categorical", Offset: l.Lexical.End(), Width: CategoricalWidth}
	l.Text = Band{Name: "text", Offset: l.Categorical.End(), Width: textWidth}
	l.Metadata = Band{Name: "metadata", Offset: l.Text.End(), Width: MetadataWidth}
	return l, nil
}

// Bands lists the bands in vector order.
func (l Layout) Bands() []Band {
	return []Band{l.Lexical, l.Categorical, l.Text, l.Metadata}
}

// #endregion layout
