package media

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/1ureka/camlink/internal/util"
)

// placeholderFiles are looked up in the images directory.
var placeholderFiles = map[Placeholder]string{
	PlaceholderWaiting:      "waiting.jpg",
	PlaceholderNoConnection: "noconnection.jpg",
}

// FileSink keeps the latest remote frame in a file, replacing it atomically
// so a viewer polling the file never sees a torn image.
type FileSink struct {
	path         string
	placeholders map[Placeholder][]byte
	shown        Placeholder
	showing      bool // a placeholder, not a frame, is in the file
}

// NewFileSink writes frames to path. Placeholder images are loaded from
// imagesDir; a missing one is reported and then skipped.
func NewFileSink(path, imagesDir string) *FileSink {
	s := &FileSink{path: path, placeholders: make(map[Placeholder][]byte)}
	for p, name := range placeholderFiles {
		data, err := os.ReadFile(filepath.Join(imagesDir, name))
		if err != nil {
			util.LogWarning("unable to load image: %s", name)
			continue
		}
		s.placeholders[p] = data
	}
	return s
}

func (s *FileSink) Show(frame []byte) error {
	s.showing = false
	return s.write(frame)
}

// Placeholder writes the stand-in image once; repeated calls for the same
// placeholder are no-ops.
func (s *FileSink) Placeholder(p Placeholder) error {
	data, ok := s.placeholders[p]
	if !ok || (s.showing && s.shown == p) {
		return nil
	}
	s.shown, s.showing = p, true
	return s.write(data)
}

func (s *FileSink) write(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".frame-*")
	if err != nil {
		return errors.Wrap(err, "create frame file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write frame file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "write frame file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "replace frame file")
}
