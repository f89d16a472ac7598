package processor

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// maxBackgroundSamples bounds the number of pixels fed to k-means.
const maxBackgroundSamples = 20000

var (
	colorWhite = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	colorBlack = color.NRGBA{A: 255}
	colorClear = color.NRGBA{R: 255, G: 255, B: 255, A: 0}
)

// DominantColor estimates the predominant background colour of img, ignoring
// pixels inside exclude and fully transparent pixels. Samples are taken on a
// regular grid and clustered in CIE-Lab; the centroid of the largest cluster
// is returned. White is returned when nothing can be sampled.
func DominantColor(img image.Image, exclude image.Rectangle, clusterer Clusterer, k int) (color.NRGBA, error) {
	samples := sampleBackground(img, exclude)
	if len(samples) == 0 {
		return colorWhite, nil
	}

	res, err := clusterer.KMeans(samples, k)
	if err != nil {
		return colorWhite, err
	}

	c := res.Centroids[res.Largest()]
	r, g, b := colorful.Lab(c[0], c[1], c[2]).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// LabOf converts an opaque colour to CIE-Lab coordinates.
func LabOf(c color.NRGBA) Point {
	l, a, b := colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Lab()
	return Point{l, a, b}
}

// HexOf renders c as #rrggbb.
func HexOf(c color.NRGBA) string {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hex()
}

func sampleBackground(img image.Image, exclude image.Rectangle) []Point {
	bounds := img.Bounds()
	total := bounds.Dx()*bounds.Dy() - exclude.Intersect(bounds).Dx()*exclude.Intersect(bounds).Dy()
	if total <= 0 {
		return nil
	}

	step := 1
	for total/(step*step) > maxBackgroundSamples {
		step++
	}

	samples := make([]Point, 0, total/(step*step)+1)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			if image.Pt(x, y).In(exclude) {
				continue
			}
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			samples = append(samples, LabOf(c))
		}
	}
	return samples
}
