package processor

import (
	"context"
	"image"
	"strings"
	"unicode/utf8"

	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
)

// WordLocator finds the best-scoring occurrence of a target word in a raster.
type WordLocator struct {
	ocr OCR
}

// NewWordLocator creates a locator backed by the given OCR capability.
func NewWordLocator(ocr OCR) *WordLocator {
	return &WordLocator{ocr: ocr}
}

// Locate runs OCR over raster and selects a match for target. OCR failures
// are reported as OCR_FAILED; no surviving token yields NOT_FOUND.
func (l *WordLocator) Locate(ctx context.Context, raster image.Image, target string, partial bool, threshold int) (*MatchResult, error) {
	tokens, err := l.ocr.Detect(ctx, raster)
	if err != nil {
		return nil, qcerrors.NewOCRFailedError("", err)
	}

	match, ok := MatchTokens(tokens, target, partial, threshold)
	if !ok {
		return nil, qcerrors.NewNotFoundError("", target)
	}
	return match, nil
}

// MatchTokens applies the confidence filter and case-insensitive matching to
// tokens. Among survivors the highest confidence wins; ties go to the earliest
// token. For a partial match on a longer token the box width is narrowed to
// the target's share of the token's characters.
func MatchTokens(tokens []OCRToken, target string, partial bool, threshold int) (*MatchResult, bool) {
	want := strings.ToLower(strings.TrimSpace(target))
	if want == "" {
		return nil, false
	}

	best := -1
	for i, tok := range tokens {
		if tok.Confidence < threshold {
			continue
		}
		text := strings.ToLower(tok.Text)
		if !(text == want || (partial && strings.HasPrefix(text, want))) {
			continue
		}
		if best < 0 || tok.Confidence > tokens[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return nil, false
	}

	tok := tokens[best]
	box := tok.BoundingBox
	isPartial := strings.ToLower(tok.Text) != want
	if isPartial {
		box.Width = PartialWidth(box.Width, want, tok.Text)
	}

	return &MatchResult{Token: tok, EstimatedBox: box, Partial: isPartial}, true
}

// PartialWidth projects the width occupied by the first len(target)
// characters of a token of the given width, assuming uniform glyph width.
func PartialWidth(width int, target, token string) int {
	n := utf8.RuneCountInString(token)
	if n == 0 {
		return width
	}
	return int(float64(width) * float64(utf8.RuneCountInString(target)) / float64(n))
}
