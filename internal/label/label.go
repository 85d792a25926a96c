// Package label draws the guest label image.
package label

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/campdesk/labelbridge/internal/config"
)

// Reference layout, in pixels of a 600x250 canvas.
const (
	baseWidth  = 600
	baseHeight = 250
)

var yearGrey = color.RGBA{R: 0xbf, G: 0xbf, B: 0xbf, A: 0xff}

type textItem struct {
	x, y float64
	size float64
	col  color.Color
}

var (
	yearItem = textItem{x: 280, y: 0, size: 240, col: yearGrey}
	idItem   = textItem{x: 10, y: 10, size: 30, col: color.Black}
	dateItem = textItem{x: 10, y: 30, size: 110, col: color.Black}
	flagItem = textItem{x: 340, y: 30, size: 110, col: color.Black}
	codeItem = textItem{x: 10, y: 120, size: 110, col: color.Black}
)

// Data is the text placed on one label.
type Data struct {
	Code           string
	VariableSymbol string
	ShortToDate    string
	ShortYear      string
	Flag           bool
	FlagLabel      string
}

// Renderer draws labels with one font. Render serializes access to the
// cached font faces.
type Renderer struct {
	width, height int
	emptyText     string
	fallback      bool

	mu    sync.Mutex
	font  *sfnt.Font
	faces map[float64]font.Face
}

// NewRenderer loads the TrueType font at cfg.FontPath. If the file cannot be
// read the embedded Go Bold font is used and UsesFallbackFont reports true.
func NewRenderer(cfg config.LabelConfig) (*Renderer, error) {
	r := &Renderer{
		width:     cfg.Width,
		height:    cfg.Height,
		emptyText: cfg.EmptyText,
		faces:     make(map[float64]font.Face),
	}
	if r.width <= 0 {
		r.width = baseWidth
	}
	if r.height <= 0 {
		r.height = baseHeight
	}

	data, err := os.ReadFile(cfg.FontPath)
	if err != nil || strings.TrimSpace(cfg.FontPath) == "" {
		data = gobold.TTF
		r.fallback = true
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", cfg.FontPath, err)
	}
	r.font = f
	return r, nil
}

func (r *Renderer) UsesFallbackFont() bool { return r.fallback }

// Render draws d onto a white canvas. Positions and sizes scale with the
// configured canvas against the 600x250 reference layout.
func (r *Renderer) Render(d Data) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	code := d.Code
	if code == "" {
		code = r.emptyText
	}
	flagLabel := d.FlagLabel
	if flagLabel == "" {
		flagLabel = "E"
	}

	if err := r.drawText(img, yearItem, d.ShortYear); err != nil {
		return nil, err
	}
	if err := r.drawText(img, idItem, "ID: "+d.VariableSymbol); err != nil {
		return nil, err
	}
	if err := r.drawText(img, dateItem, d.ShortToDate); err != nil {
		return nil, err
	}
	if d.Flag {
		if err := r.drawText(img, flagItem, flagLabel); err != nil {
			return nil, err
		}
	}
	if err := r.drawText(img, codeItem, code); err != nil {
		return nil, err
	}
	return img, nil
}

// Close releases the cached font faces.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for size, f := range r.faces {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.faces, size)
	}
	return errors.Join(errs...)
}

func (r *Renderer) drawText(dst draw.Image, it textItem, s string) error {
	if s == "" {
		return nil
	}
	sx := float64(r.width) / baseWidth
	sy := float64(r.height) / baseHeight
	scale := sx
	if sy < scale {
		scale = sy
	}

	face, err := r.face(it.size * scale)
	if err != nil {
		return err
	}
	// Positions address the top-left corner of the text; the drawer wants
	// the baseline.
	ascent := face.Metrics().Ascent
	dot := fixed.Point26_6{
		X: fixed.Int26_6(it.x * sx * 64),
		Y: fixed.Int26_6(it.y*sy*64) + ascent,
	}
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(it.col),
		Face: face,
		Dot:  dot,
	}
	drawer.DrawString(s)
	return nil
}

func (r *Renderer) face(size float64) (font.Face, error) {
	if f, ok := r.faces[size]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("font face %.0f: %w", size, err)
	}
	r.faces[size] = f
	return f, nil
}

// WritePNG encodes img to path through a temporary file in the same
// directory so readers never observe a partial image.
func WritePNG(path string, img image.Image) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".label-*.png")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// FileName is the output name for a document's label image.
func FileName(variableSymbol string) string {
	vs := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, variableSymbol)
	if vs == "" {
		vs = "_"
	}
	return vs + "_combined_label.png"
}
