/**
 * Image codec - byte-oriented decode, format resolution and atomic encode
 *
 * Decoding always goes through byte buffers so paths are only ever handled
 * by the os package.
 */

package processor

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"

	// Registers the webp decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// SupportedExtensions lists the input/output file extensions handled by the codec.
var SupportedExtensions = []string{"jpg", "jpeg", "png", "bmp", "tif", "tiff", "webp", "gif"}

var alphaFormats = map[string]bool{
	"png":  true,
	"tif":  true,
	"tiff": true,
	"webp": true,
}

// NormalizeFormat lower-cases ext and strips a leading dot.
func NormalizeFormat(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// IsSupportedFormat reports whether ext can be encoded.
func IsSupportedFormat(ext string) bool {
	f := NormalizeFormat(ext)
	for _, s := range SupportedExtensions {
		if s == f {
			return true
		}
	}
	return false
}

// SupportsAlpha reports whether ext can carry an alpha channel.
func SupportsAlpha(ext string) bool {
	return alphaFormats[NormalizeFormat(ext)]
}

// DetectImageFormat detects the image format from magic bytes.
func DetectImageFormat(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "jpeg"
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "webp"
	}

	// TIFF: 'I' 'I' 0x2A 0x00 (little-endian) or 'M' 'M' 0x00 0x2A (big-endian)
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "tiff"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "bmp"
	}

	return ""
}

// DecodeImage decodes an image from bytes, applying EXIF orientation.
func DecodeImage(data []byte) (image.Image, string, error) {
	format := DetectImageFormat(data)
	if format == "" {
		return nil, "", fmt.Errorf("unrecognised image format")
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, format, fmt.Errorf("decode %s: %w", format, err)
	}
	if img.Bounds().Empty() {
		return nil, format, fmt.Errorf("decode %s: empty image", format)
	}
	return img, format, nil
}

// EncodeImage writes img to w in the given format.
func EncodeImage(w io.Writer, img image.Image, format string) error {
	f := NormalizeFormat(format)
	if f == "webp" {
		return nativewebp.Encode(w, img, nil)
	}

	imgFormat, err := imaging.FormatFromExtension(f)
	if err != nil {
		return fmt.Errorf("unsupported output format %q: %w", format, err)
	}
	return imaging.Encode(w, img, imgFormat, imaging.JPEGQuality(95))
}

// WriteImageFile encodes img into path atomically: the image is written to a
// temporary file in the same directory and renamed into place.
func WriteImageFile(path string, img image.Image) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".aligned-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = EncodeImage(bw, img, filepath.Ext(path)); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
