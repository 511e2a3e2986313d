package deliver

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/webp"
)

// JPEGQuality of transcoded images.
const JPEGQuality = 95

// ToJPEG decodes the WebP file at src and writes it as <stem>_converted.jpg
// next to it. Images that can carry transparency are flattened onto white.
// The caller owns the returned file.
func ToJPEG(src string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversion, err)
	}
	defer f.Close()

	img, err := webp.Decode(f)
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrConversion, filepath.Base(src), err)
	}

	dst := strings.TrimSuffix(src, filepath.Ext(src)) + "_converted.jpg"
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversion, err)
	}
	if err := jpeg.Encode(out, flatten(img), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("%w: encode: %v", ErrConversion, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("%w: %v", ErrConversion, err)
	}
	return dst, nil
}

// flatten composites images with an alpha channel or a palette over white.
// Opaque colour models are returned as they are.
func flatten(img image.Image) image.Image {
	switch img.(type) {
	case *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}
