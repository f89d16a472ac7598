package processor

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
)

// Composition is the output canvas together with the fill it was given.
type Composition struct {
	Canvas     *image.NRGBA
	Background color.NRGBA
	// WordRect is where the scaled word landed on the canvas, before clipping.
	WordRect image.Rectangle
}

// Compositor renders the matched word onto a fixed-size canvas.
type Compositor struct {
	clusterer Clusterer
	clusters  int
	logger    *logging.Logger
}

// NewCompositor creates a compositor. clusters is the k used for dominant
// background estimation.
func NewCompositor(clusterer Clusterer, clusters int) *Compositor {
	if clusters < 1 {
		clusters = 5
	}
	return &Compositor{
		clusterer: clusterer,
		clusters:  clusters,
		logger:    logging.NewLogger("compositor"),
	}
}

// Compose crops the estimated word box from src, scales it so its height is
// cfg.WordHeight and pastes it centred on a canvas filled per cfg.Background.
// Overflow beyond the canvas is clipped. Match coordinates are relative to
// the origin of src.Bounds().
func (c *Compositor) Compose(src image.Image, match *MatchResult, cfg *OutputConfig) (*Composition, error) {
	box := match.EstimatedBox
	if box.Empty() {
		return nil, qcerrors.NewGeometryError("", "bounding box has zero area (%dx%d)", box.Width, box.Height)
	}

	bounds := src.Bounds()
	wordRect := box.Rect().Add(bounds.Min)
	region := wordRect.Intersect(bounds)
	if region.Empty() {
		return nil, qcerrors.NewGeometryError("", "bounding box %v lies outside the image %v", wordRect, bounds)
	}

	scale := float64(cfg.WordHeight) / float64(box.Height)
	scaledW := max(1, int(float64(region.Dx())*scale+0.5))
	scaledH := max(1, int(float64(region.Dy())*scale+0.5))

	fill, err := c.backgroundFill(src, wordRect, cfg.Background)
	if err != nil {
		c.logger.Warn("Dominant colour estimation failed, using white", "error", err)
		fill = colorWhite
	}

	canvas := imaging.New(cfg.CanvasWidth, cfg.CanvasHeight, fill)
	pos := image.Pt((cfg.CanvasWidth-scaledW)/2, (cfg.CanvasHeight-scaledH)/2)

	// Resample into the visible part of the canvas only. The full scaled word
	// is never allocated.
	visible := image.Rect(pos.X, pos.Y, pos.X+scaledW, pos.Y+scaledH).Intersect(canvas.Bounds())
	if !visible.Empty() {
		crop := imaging.Crop(src, region)
		sx := float64(scaledW) / float64(region.Dx())
		sy := float64(scaledH) / float64(region.Dy())
		s2d := f64.Aff3{
			sx, 0, float64(pos.X),
			0, sy, float64(pos.Y),
		}
		draw.CatmullRom.Transform(canvas.SubImage(visible).(*image.NRGBA), s2d, crop, crop.Bounds(), draw.Src, nil)
	}

	return &Composition{
		Canvas:     canvas,
		Background: fill,
		WordRect:   image.Rectangle{Min: pos, Max: pos.Add(image.Pt(scaledW, scaledH))},
	}, nil
}

func (c *Compositor) backgroundFill(src image.Image, wordRect image.Rectangle, mode BackgroundMode) (color.NRGBA, error) {
	switch mode {
	case BackgroundBlack:
		return colorBlack, nil
	case BackgroundTransparent:
		return colorClear, nil
	case BackgroundDominant:
		return DominantColor(src, wordRect, c.clusterer, c.clusters)
	}
	return colorWhite, nil
}
