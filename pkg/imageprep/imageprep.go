// Package imageprep converts images into the form dlib accepts.
//
// go-face only decodes JPEG, so PNG, GIF, BMP and WebP inputs are decoded
// here and re-encoded as JPEG. Large images are downscaled first: detection
// time grows with pixel count while small faces are rare in labeled sets.
package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// JPEGQuality is used when re-encoding.
const JPEGQuality = 95

// ErrUnsupportedFormat is returned for content that is not a decodable image.
var ErrUnsupportedFormat = errors.New("unsupported image format")

var supported = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/webp": true,
}

// Image is a JPEG ready for detection.
type Image struct {
	Data []byte
	// Scale is prepared size over original size. Divide coordinates found
	// in Data by Scale to map them back onto the original image.
	Scale float64
}

// Prepare returns data as a JPEG whose longest side is at most maxDim.
// JPEG input that already fits is returned unchanged. maxDim <= 0 disables
// scaling.
func Prepare(data []byte, maxDim int) (*Image, error) {
	contentType := http.DetectContentType(data)
	if !supported[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, contentType)
	}

	if contentType == "image/jpeg" {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to read jpeg header: %w", err)
		}
		if !needsScaling(cfg.Width, cfg.Height, maxDim) {
			return &Image{Data: data, Scale: 1}, nil
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	scale := 1.0
	b := img.Bounds()
	if needsScaling(b.Dx(), b.Dy(), maxDim) {
		img, scale = downscale(img, maxDim)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return &Image{Data: buf.Bytes(), Scale: scale}, nil
}

// PrepareFile reads path and prepares its contents.
func PrepareFile(path string, maxDim int) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Prepare(data, maxDim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func needsScaling(width, height, maxDim int) bool {
	return maxDim > 0 && (width > maxDim || height > maxDim)
}

func downscale(img image.Image, maxDim int) (image.Image, float64) {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	scale := float64(maxDim) / float64(longest)

	w := int(float64(b.Dx())*scale + 0.5)
	h := int(float64(b.Dy())*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst, scale
}
