package processor

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/require"

	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
)

var red = color.NRGBA{R: 220, G: 10, B: 10, A: 255}

// sourceWithWord returns a 200x100 image of bg with a solid "word" at
// (50,40)-(110,60).
func sourceWithWord(bg color.NRGBA) (*image.NRGBA, *MatchResult) {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(50, 40, 110, 60), &image.Uniform{C: red}, image.Point{}, draw.Src)
	box := BoundingBox{X: 50, Y: 40, Width: 60, Height: 20}
	return img, &MatchResult{Token: OCRToken{Text: "word", Confidence: 90, BoundingBox: box}, EstimatedBox: box}
}

func composeConfig(bg BackgroundMode) *OutputConfig {
	return &OutputConfig{
		TargetWord:   "word",
		CanvasWidth:  400,
		CanvasHeight: 300,
		WordHeight:   100,
		Background:   bg,
		OutputDir:    "out",
	}
}

func isRed(c color.NRGBA) bool {
	return c.R > 180 && c.G < 60 && c.B < 60 && c.A == 255
}

func TestComposeScalesAndCentres(t *testing.T) {
	src, match := sourceWithWord(colorWhite)
	comp, err := NewCompositor(NewKMeansClusterer(42), 5).Compose(src, match, composeConfig(BackgroundWhite))
	require.NoError(t, err)

	require.Equal(t, image.Rect(0, 0, 400, 300), comp.Canvas.Bounds())
	require.InDelta(t, 100, comp.WordRect.Dy(), 1)
	require.InDelta(t, 300, comp.WordRect.Dx(), 1)

	centre := comp.WordRect.Min.Add(comp.WordRect.Max).Div(2)
	require.InDelta(t, 200, centre.X, 1)
	require.InDelta(t, 150, centre.Y, 1)

	require.True(t, isRed(comp.Canvas.NRGBAAt(200, 150)))
	require.Equal(t, colorWhite, comp.Canvas.NRGBAAt(5, 5))
	require.Equal(t, colorWhite, comp.Canvas.NRGBAAt(200, 60))
	require.True(t, isRed(comp.Canvas.NRGBAAt(200, 105)))
}

func TestComposeTransparent(t *testing.T) {
	src, match := sourceWithWord(colorWhite)
	comp, err := NewCompositor(NewKMeansClusterer(42), 5).Compose(src, match, composeConfig(BackgroundTransparent))
	require.NoError(t, err)

	for _, p := range []image.Point{{0, 0}, {399, 299}, {20, 150}, {200, 20}} {
		require.Equal(t, uint8(0), comp.Canvas.NRGBAAt(p.X, p.Y).A, "point %v", p)
	}
	require.Equal(t, uint8(255), comp.Canvas.NRGBAAt(200, 150).A)
}

func TestComposeBlack(t *testing.T) {
	src, match := sourceWithWord(colorWhite)
	comp, err := NewCompositor(NewKMeansClusterer(42), 5).Compose(src, match, composeConfig(BackgroundBlack))
	require.NoError(t, err)
	require.Equal(t, colorBlack, comp.Canvas.NRGBAAt(0, 0))
}

func TestComposeDominantBackground(t *testing.T) {
	blue := color.NRGBA{R: 10, G: 40, B: 200, A: 255}
	src, match := sourceWithWord(blue)
	comp, err := NewCompositor(NewKMeansClusterer(42), 5).Compose(src, match, composeConfig(BackgroundDominant))
	require.NoError(t, err)

	bg := comp.Canvas.NRGBAAt(0, 0)
	require.InDelta(t, 10, int(bg.R), 2)
	require.InDelta(t, 40, int(bg.G), 2)
	require.InDelta(t, 200, int(bg.B), 2)
	require.Equal(t, comp.Background, bg)
}

func TestComposeClipsOversizedWord(t *testing.T) {
	src, match := sourceWithWord(colorWhite)
	cfg := composeConfig(BackgroundWhite)
	cfg.WordHeight = 300

	comp, err := NewCompositor(NewKMeansClusterer(42), 5).Compose(src, match, cfg)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 400, 300), comp.Canvas.Bounds())
	require.Less(t, comp.WordRect.Min.X, 0)
	require.Greater(t, comp.WordRect.Max.X, 400)
	require.True(t, isRed(comp.Canvas.NRGBAAt(0, 0)))
	require.True(t, isRed(comp.Canvas.NRGBAAt(399, 299)))
}

func TestComposeThinBoxStaysWithinCanvas(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 400, 100))
	draw.Draw(src, src.Bounds(), &image.Uniform{C: colorWhite}, image.Point{}, draw.Src)
	draw.Draw(src, image.Rect(0, 40, 400, 42), &image.Uniform{C: red}, image.Point{}, draw.Src)
	box := BoundingBox{X: 0, Y: 40, Width: 400, Height: 2}
	cfg := &OutputConfig{
		TargetWord:   "word",
		CanvasWidth:  1920,
		CanvasHeight: 1080,
		WordHeight:   1000,
		Background:   BackgroundWhite,
		OutputDir:    "out",
	}

	comp, err := NewCompositor(NewKMeansClusterer(42), 5).Compose(src, &MatchResult{EstimatedBox: box}, cfg)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 1920, 1080), comp.Canvas.Bounds())
	require.Equal(t, image.Rect(-99040, 40, 100960, 1040), comp.WordRect)
	require.Len(t, comp.Canvas.Pix, 1920*1080*4)

	for _, p := range []image.Point{{0, 40}, {960, 540}, {1919, 1039}} {
		require.True(t, isRed(comp.Canvas.NRGBAAt(p.X, p.Y)), "point %v", p)
	}
	for _, p := range []image.Point{{960, 39}, {960, 1040}, {0, 0}} {
		require.Equal(t, colorWhite, comp.Canvas.NRGBAAt(p.X, p.Y), "point %v", p)
	}
}

func TestComposeGeometryErrors(t *testing.T) {
	src, _ := sourceWithWord(colorWhite)
	c := NewCompositor(NewKMeansClusterer(42), 5)

	_, err := c.Compose(src, &MatchResult{EstimatedBox: BoundingBox{X: 10, Y: 10, Width: 0, Height: 20}}, composeConfig(BackgroundWhite))
	require.Equal(t, qcerrors.ErrorGeometry, qcerrors.CodeOf(err))

	_, err = c.Compose(src, &MatchResult{EstimatedBox: BoundingBox{X: 500, Y: 500, Width: 10, Height: 10}}, composeConfig(BackgroundWhite))
	require.Equal(t, qcerrors.ErrorGeometry, qcerrors.CodeOf(err))
}

func TestDominantColorFallsBackToWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	c, err := DominantColor(img, img.Bounds(), NewKMeansClusterer(42), 5)
	require.NoError(t, err)
	require.Equal(t, colorWhite, c)
}
