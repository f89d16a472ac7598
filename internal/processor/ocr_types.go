/**
 * OCR Types - Shared data structures for word location
 *
 * Tokens come from the OCR capability; matches are what the compositor consumes.
 */

package processor

import (
	"context"
	"image"
)

// OCR is the recognition capability used by the locator. Implementations
// must return tokens in reading order with pixel coordinates of raster.
type OCR interface {
	Detect(ctx context.Context, raster image.Image) ([]OCRToken, error)
}

// OCRToken is one recognised word
type OCRToken struct {
	Text        string      `json:"text"`
	Confidence  int         `json:"confidence"`
	BoundingBox BoundingBox `json:"bbox"`
}

// BoundingBox represents coordinates of a region
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Empty reports whether the box has zero area.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// FromRect builds a BoundingBox from an image.Rectangle.
func FromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// MatchResult is the token chosen for a target word. EstimatedBox equals the
// token box for exact matches and is narrowed to the target's share of the
// token width for partial matches.
type MatchResult struct {
	Token        OCRToken    `json:"token"`
	EstimatedBox BoundingBox `json:"estimated_bbox"`
	Partial      bool        `json:"partial"`
}
