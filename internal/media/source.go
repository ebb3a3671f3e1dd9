package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// DirSource replays the image files of a directory in name order, looping.
type DirSource struct {
	frames [][]byte
	next   int
}

var imageExts = []string{".jpg", ".jpeg", ".png"}

// NewDirSource loads every image file in dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read source directory")
	}

	s := &DirSource{}
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", e.Name())
		}
		s.frames = append(s.frames, data)
	}
	if len(s.frames) == 0 {
		return nil, errors.Errorf("no images in %s", dir)
	}
	return s, nil
}

func (s *DirSource) Next() ([]byte, error) {
	f := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	return f, nil
}

// PatternSource renders a moving test pattern as JPEG frames.
type PatternSource struct {
	img  *image.RGBA
	tick int
}

// NewPatternSource creates a pattern of the given size in pixels.
func NewPatternSource(width, height int) *PatternSource {
	return &PatternSource{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (s *PatternSource) Next() ([]byte, error) {
	b := s.img.Bounds()
	bar := s.tick % b.Dx()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBA{R: uint8(x * 255 / b.Dx()), G: uint8(y * 255 / b.Dy()), B: 96, A: 255}
			if x >= bar && x < bar+8 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			s.img.SetRGBA(x, y, c)
		}
	}
	s.tick += 4

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.img, &jpeg.Options{Quality: 60}); err != nil {
		return nil, errors.Wrap(err, "encode pattern")
	}
	return buf.Bytes(), nil
}
