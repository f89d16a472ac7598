package processor

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Bilateral filter parameters used ahead of binarisation.
const (
	bilateralDiameter   = 9
	bilateralSigmaColor = 75.0
	bilateralSigmaSpace = 75.0
)

// Preprocess turns a decoded image into the binary raster handed to OCR:
// grayscale, edge-preserving smoothing, then an Otsu global threshold.
// Pixel coordinates match the input bounds translated to the origin.
func Preprocess(src image.Image) (*image.Gray, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, fmt.Errorf("preprocess: empty image")
	}

	gray := toGray(imaging.Grayscale(src))
	smoothed := bilateralFilter(gray, bilateralDiameter, bilateralSigmaColor, bilateralSigmaSpace)
	t := otsuThreshold(smoothed)
	binarize(smoothed, t)

	return smoothed, nil
}

// toGray converts imaging's NRGBA grayscale output to a single channel.
func toGray(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[x*4]
		}
	}
	return out
}

// bilateralFilter smooths g over a circular window of the given diameter,
// weighting neighbours by spatial distance and intensity difference.
func bilateralFilter(g *image.Gray, diameter int, sigmaColor, sigmaSpace float64) *image.Gray {
	radius := diameter / 2
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))

	type offset struct {
		dx, dy int
		weight float64
	}
	var window []offset
	spaceCoeff := -0.5 / (sigmaSpace * sigmaSpace)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r2 := float64(dx*dx + dy*dy)
			if math.Sqrt(r2) > float64(radius) {
				continue
			}
			window = append(window, offset{dx, dy, math.Exp(r2 * spaceCoeff)})
		}
	}

	var colorWeight [256]float64
	colorCoeff := -0.5 / (sigmaColor * sigmaColor)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * colorCoeff)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := g.Pix[y*g.Stride+x]
			var sum, norm float64
			for _, o := range window {
				nx, ny := reflect101(x+o.dx, w), reflect101(y+o.dy, h)
				v := g.Pix[ny*g.Stride+nx]
				diff := int(v) - int(center)
				if diff < 0 {
					diff = -diff
				}
				wt := o.weight * colorWeight[diff]
				sum += wt * float64(v)
				norm += wt
			}
			out.Pix[y*out.Stride+x] = uint8(math.Round(sum / norm))
		}
	}
	return out
}

// reflect101 mirrors an out-of-range index without repeating the edge pixel.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// otsuThreshold picks the threshold maximising between-class variance.
func otsuThreshold(g *image.Gray) uint8 {
	var hist [256]int
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			hist[v]++
		}
	}

	total := float64(w * h)
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var best uint8
	var weightBg, sumBg float64
	bestVar := -1.0
	for t := 0; t < 256; t++ {
		weightBg += float64(hist[t])
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBg += float64(t * hist[t])
		meanBg := sumBg / weightBg
		meanFg := (sumAll - sumBg) / weightFg
		between := weightBg * weightFg * (meanBg - meanFg) * (meanBg - meanFg)
		if between > bestVar {
			bestVar = between
			best = uint8(t)
		}
	}
	return best
}

// binarize applies THRESH_BINARY in place: v > t becomes 255, else 0.
func binarize(g *image.Gray, t uint8) {
	for i, v := range g.Pix {
		if v > t {
			g.Pix[i] = 255
		} else {
			g.Pix[i] = 0
		}
	}
}
