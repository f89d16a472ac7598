/**
 * Tesseract OCR - word-level recognition for the locator
 *
 * Offline OCR using Tesseract through gosseract. Returns word tokens with
 * bounding boxes in the coordinates of the raster it was given.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR handles word detection using Tesseract
type TesseractOCR struct {
	languages      []string
	tessdataPrefix string
	pageSegMode    int
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages      []string
	TessdataPrefix string
	PageSegMode    int
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) *TesseractOCR {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}

	return &TesseractOCR{
		languages:      langs,
		tessdataPrefix: cfg.TessdataPrefix,
		pageSegMode:    cfg.PageSegMode,
	}
}

// ParseLanguages splits "eng+deu" or "eng,deu" into Tesseract language codes.
func ParseLanguages(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	return fields
}

// Detect runs word-level OCR. A fresh client is used per call since
// gosseract clients are not safe for concurrent use.
func (t *TesseractOCR) Detect(ctx context.Context, raster image.Image) ([]OCRToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, raster); err != nil {
		return nil, fmt.Errorf("encode raster: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.tessdataPrefix); err != nil {
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if t.pageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(t.pageSegMode)); err != nil {
			return nil, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	return wordTokens(boxes), nil
}

// wordTokens converts Tesseract word boxes to tokens, dropping blank words.
func wordTokens(boxes []gosseract.BoundingBox) []OCRToken {
	tokens := make([]OCRToken, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		tokens = append(tokens, OCRToken{
			Text:        word,
			Confidence:  clampConfidence(b.Confidence),
			BoundingBox: FromRect(b.Box),
		})
	}
	return tokens
}

func clampConfidence(c float64) int {
	v := int(math.Round(c))
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
