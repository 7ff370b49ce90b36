package annotate

import (
	"os"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
)

// DefaultFontPaths are tried in order before the embedded fonts
var DefaultFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"DejaVuSans.ttf",
}

// FontStrategy is one way of obtaining a font face
type FontStrategy interface {
	Name() string
	Face(size float64) (font.Face, error)
}

// FileFont loads a TrueType font from disk
type FileFont struct {
	Path string
}

// Name implements FontStrategy
func (f FileFont) Name() string { return f.Path }

// Face implements FontStrategy
func (f FileFont) Face(size float64) (font.Face, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	return parseFace(data, size)
}

// EmbeddedFont uses TrueType data compiled into the binary
type EmbeddedFont struct {
	FontName string
	TTF      []byte
}

// Name implements FontStrategy
func (f EmbeddedFont) Name() string { return f.FontName }

// Face implements FontStrategy
func (f EmbeddedFont) Face(size float64) (font.Face, error) {
	return parseFace(f.TTF, size)
}

// BasicFont is the fixed 7x13 bitmap face; it ignores size and never fails
type BasicFont struct{}

// Name implements FontStrategy
func (BasicFont) Name() string { return "basicfont-7x13" }

// Face implements FontStrategy
func (BasicFont) Face(float64) (font.Face, error) {
	return basicfont.Face7x13, nil
}

func parseFace(data []byte, size float64) (font.Face, error) {
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse truetype font")
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}

// DefaultStrategies returns file fonts for paths followed by Go Regular and the bitmap face
func DefaultStrategies(paths ...string) []FontStrategy {
	if len(paths) == 0 {
		paths = DefaultFontPaths
	}
	strategies := make([]FontStrategy, 0, len(paths)+2)
	for _, p := range paths {
		strategies = append(strategies, FileFont{Path: p})
	}
	return append(strategies, EmbeddedFont{FontName: "goregular", TTF: goregular.TTF}, BasicFont{})
}

// ResolvedFont is the outcome of ResolveFont
type ResolvedFont struct {
	Face     font.Face
	Name     string
	Degraded bool
	Failures []error
}

// ResolveFont tries strategies in order and adopts the first that succeeds.
// Degraded is set when the first strategy failed.
func ResolveFont(strategies []FontStrategy, size float64) ResolvedFont {
	var failures []error
	for i, s := range strategies {
		face, err := s.Face(size)
		if err != nil {
			failures = append(failures, errors.Wrapf(err, "font %s", s.Name()))
			continue
		}
		return ResolvedFont{Face: face, Name: s.Name(), Degraded: i > 0, Failures: failures}
	}
	return ResolvedFont{Face: basicfont.Face7x13, Name: BasicFont{}.Name(), Degraded: true, Failures: failures}
}
