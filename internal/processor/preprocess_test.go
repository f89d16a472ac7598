package processor

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/require"
)

func twoToneImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, image.Rect(0, 0, w/2, h), &image.Uniform{C: color.NRGBA{R: 30, G: 30, B: 30, A: 255}}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(w/2, 0, w, h), &image.Uniform{C: color.NRGBA{R: 220, G: 220, B: 220, A: 255}}, image.Point{}, draw.Src)
	return img
}

func TestPreprocessBinarizes(t *testing.T) {
	out, err := Preprocess(twoToneImage(40, 20))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 40, 20), out.Bounds())

	for _, v := range out.Pix {
		require.True(t, v == 0 || v == 255)
	}
	require.Equal(t, uint8(0), out.GrayAt(2, 10).Y)
	require.Equal(t, uint8(255), out.GrayAt(37, 10).Y)
}

func TestPreprocessTranslatesOrigin(t *testing.T) {
	sub := twoToneImage(40, 20).SubImage(image.Rect(10, 5, 30, 15))
	out, err := Preprocess(sub)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 20, 10), out.Bounds())
	require.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
	require.Equal(t, uint8(255), out.GrayAt(19, 9).Y)
}

func TestPreprocessRejectsEmpty(t *testing.T) {
	_, err := Preprocess(nil)
	require.Error(t, err)
	_, err = Preprocess(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	require.Error(t, err)
}

func TestOtsuThresholdSeparatesModes(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 10, 1))
	for i := range g.Pix {
		if i < 5 {
			g.Pix[i] = 40
		} else {
			g.Pix[i] = 200
		}
	}
	th := otsuThreshold(g)
	require.GreaterOrEqual(t, th, uint8(40))
	require.Less(t, th, uint8(200))
}

func TestReflect101(t *testing.T) {
	require.Equal(t, 1, reflect101(-1, 5))
	require.Equal(t, 3, reflect101(5, 5))
	require.Equal(t, 0, reflect101(-3, 1))
	require.Equal(t, 2, reflect101(2, 5))
}
