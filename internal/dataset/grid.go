package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
)

// SampleGrid tiles the first w·h images of s into a single grayscale image,
// w tiles across and h tiles down.
func SampleGrid(s Split, w, h int) (*image.Gray, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("dataset: grid must be positive, got %dx%d", w, h)
	}
	if s.Len() < w*h {
		return nil, fmt.Errorf("dataset: grid %dx%d needs %d images, split has %d", w, h, w*h, s.Len())
	}
	if _, c := s.Images.Dims(); c != ImageSize {
		return nil, fmt.Errorf("dataset: images have %d features, want %d", c, ImageSize)
	}

	img := image.NewGray(image.Rect(0, 0, w*ImageSide, h*ImageSide))
	for n := 0; n < w*h; n++ {
		row := s.Images.RawRowView(n)
		ox, oy := (n%w)*ImageSide, (n/w)*ImageSide
		for y := 0; y < ImageSide; y++ {
			for x := 0; x < ImageSide; x++ {
				v := math.Max(0, math.Min(1, row[y*ImageSide+x]))
				img.SetGray(ox+x, oy+y, color.Gray{Y: uint8(math.Round(v * 255))})
			}
		}
	}
	return img, nil
}

// WriteGridPNG encodes img as PNG at path.
func WriteGridPNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create grid: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode grid: %w", err)
	}
	return f.Close()
}
