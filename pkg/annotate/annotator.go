package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/image/colornames"
	"golang.org/x/image/font"

	"github.com/menta2k/shelf-checkout/pkg/types"
)

// Style controls how decisions are drawn
type Style struct {
	StrokeColor color.Color
	StrokeWidth float64
	FontSize    float64
	TextColor   color.Color
}

// DefaultStyle returns red 5px boxes with 32pt white captions
func DefaultStyle() Style {
	return Style{
		StrokeColor: colornames.Red,
		StrokeWidth: 5,
		FontSize:    32,
		TextColor:   colornames.White,
	}
}

// ParseColor accepts a CSS colour name ("red") or a hex value ("#ff0000")
func ParseColor(s string) (color.Color, error) {
	s = strings.TrimSpace(s)
	if c, ok := colornames.Map[strings.ToLower(s)]; ok {
		return c, nil
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid colour %q", s)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// Annotator draws decisions onto images.
// The font face is resolved once; drawing is serialised because faces keep a glyph cache.
type Annotator struct {
	style  Style
	font   ResolvedFont
	mu     sync.Mutex
	logger *zap.Logger
}

// New resolves the font and returns an Annotator.
// Falling back past the first strategy logs a warning and is never fatal.
func New(style Style, strategies []FontStrategy, logger *zap.Logger) *Annotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}

	resolved := ResolveFont(strategies, style.FontSize)
	if resolved.Degraded {
		fields := []zap.Field{zap.String("font", resolved.Name), zap.Error(types.ErrFontResolution)}
		for _, f := range resolved.Failures {
			fields = append(fields, zap.NamedError("attempt", f))
		}
		logger.Warn("using fallback font", fields...)
	} else {
		logger.Debug("font resolved", zap.String("font", resolved.Name))
	}

	return &Annotator{style: style, font: resolved, logger: logger}
}

// FontName returns the name of the face in use
func (a *Annotator) FontName() string {
	return a.font.Name
}

// Style returns the drawing style
func (a *Annotator) Style() Style {
	return a.style
}

// Caption formats the label text drawn next to a box
func Caption(ld types.LabelDecision) string {
	score := math.Round(ld.Score*100) / 100
	return ld.Label + ": " + strconv.FormatFloat(score, 'f', -1, 64)
}

// Annotate returns a copy of img with a rectangle and caption for every decision.
// The input image is never modified. With no decisions the copy keeps the
// input's bounds and pixel format.
func (a *Annotator) Annotate(img image.Image, decisions types.DecisionSet) image.Image {
	if len(decisions) == 0 {
		return cloneImage(img)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dc := gg.NewContextForImage(img)
	for _, ld := range decisions.Sorted() {
		a.drawDecision(dc, ld, a.font.Face)
		a.logger.Debug("drew bounding box",
			zap.String("label", ld.Label),
			zap.Float64("xmin", ld.Box.XMin), zap.Float64("ymin", ld.Box.YMin),
			zap.Float64("xmax", ld.Box.XMax), zap.Float64("ymax", ld.Box.YMax))
	}
	return dc.Image()
}

func (a *Annotator) drawDecision(dc *gg.Context, ld types.LabelDecision, face font.Face) {
	box := ld.Box.Normalize()

	dc.SetColor(a.style.StrokeColor)
	dc.SetLineWidth(a.style.StrokeWidth)
	dc.DrawRectangle(box.XMin, box.YMin, box.XMax-box.XMin, box.YMax-box.YMin)
	dc.Stroke()

	dc.SetFontFace(face)
	dc.SetColor(a.style.TextColor)
	dc.DrawStringAnchored(Caption(ld), box.XMin, box.YMin, 0, 1)
}

func cloneImage(img image.Image) image.Image {
	switch src := img.(type) {
	case *image.RGBA:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst
	case *image.NRGBA:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst
	case *image.RGBA64:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst
	case *image.NRGBA64:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst
	case *image.Gray:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst
	case *image.Gray16:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst
	case *image.Alpha:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst
	case *image.Alpha16:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst
	case *image.CMYK:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		return &dst
	case *image.Paletted:
		dst := *src
		dst.Pix = append([]uint8(nil), src.Pix...)
		dst.Palette = append(color.Palette(nil), src.Palette...)
		return &dst
	case *image.NYCbCrA:
		dst := *src
		dst.Y = append([]uint8(nil), src.Y...)
		dst.Cb = append([]uint8(nil), src.Cb...)
		dst.Cr = append([]uint8(nil), src.Cr...)
		dst.A = append([]uint8(nil), src.A...)
		return &dst
	case *image.YCbCr:
		dst := *src
		dst.Y = append([]uint8(nil), src.Y...)
		dst.Cb = append([]uint8(nil), src.Cb...)
		dst.Cr = append([]uint8(nil), src.Cr...)
		return &dst
	default:
		// Unknown implementations cannot be rebuilt, so copy into RGBA
		b := img.Bounds()
		dst := image.NewRGBA(b)
		draw.Draw(dst, b, img, b.Min, draw.Src)
		return dst
	}
}
