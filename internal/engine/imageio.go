package engine

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// decodeInitImage decodes a base64 payload, optionally wrapped in a data
// URL, and flattens it to an opaque RGB image.
func decodeInitImage(s string) (image.Image, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return nil, &InvalidRequestError{Field: "image", Reason: "malformed data url"}
		}
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &InvalidRequestError{Field: "image", Reason: "not base64: " + err.Error()}
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &InvalidRequestError{Field: "image", Reason: err.Error()}
	}
	return toRGB(src), nil
}

// toRGB composites src over white, dropping any alpha channel.
func toRGB(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func outputPath(dir, requestID string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("out-%s-%d.png", requestID, index))
}

// savePNG writes img to path via a temporary file so readers never observe
// a partial image.
func savePNG(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".out-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
