package printer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// Model describes a Brother QL printer's raster capabilities.
type Model struct {
	Name             string
	BytesPerRow      int
	ExtraRightMargin int
	ModeSetting      bool
	Cutting          bool
	ExpandedMode     bool
	Compression      bool
	InvalidateBytes  int
}

// Media is an endless tape size. Die-cut labels are not supported.
type Media struct {
	Name          string
	WidthMM       byte
	PrintableDots int
	RightMargin   int
	FeedMargin    uint16
}

var models = []Model{
	{Name: "QL-500", BytesPerRow: 90, InvalidateBytes: 200},
	{Name: "QL-550", BytesPerRow: 90, Cutting: true, ExpandedMode: true, InvalidateBytes: 200},
	{Name: "QL-560", BytesPerRow: 90, Cutting: true, ExpandedMode: true, InvalidateBytes: 200},
	{Name: "QL-570", BytesPerRow: 90, Cutting: true, ExpandedMode: true, InvalidateBytes: 200},
	{Name: "QL-580N", BytesPerRow: 90, ModeSetting: true, Cutting: true, ExpandedMode: true, Compression: true, InvalidateBytes: 200},
	{Name: "QL-650TD", BytesPerRow: 90, ModeSetting: true, Cutting: true, ExpandedMode: true, Compression: true, InvalidateBytes: 200},
	{Name: "QL-700", BytesPerRow: 90, Cutting: true, ExpandedMode: true, InvalidateBytes: 200},
	{Name: "QL-710W", BytesPerRow: 90, ModeSetting: true, Cutting: true, ExpandedMode: true, Compression: true, InvalidateBytes: 200},
	{Name: "QL-720NW", BytesPerRow: 90, ModeSetting: true, Cutting: true, ExpandedMode: true, Compression: true, InvalidateBytes: 200},
	{Name: "QL-800", BytesPerRow: 90, ModeSetting: true, Cutting: true, ExpandedMode: true, InvalidateBytes: 400},
	{Name: "QL-810W", BytesPerRow: 90, ModeSetting: true, Cutting: true, ExpandedMode: true, Compression: true, InvalidateBytes: 400},
	{Name: "QL-820NWB", BytesPerRow: 90, ModeSetting: true, Cutting: true, ExpandedMode: true, Compression: true, InvalidateBytes: 400},
	{Name: "QL-1050", BytesPerRow: 162, ExtraRightMargin: 44, ModeSetting: true, Cutting: true, ExpandedMode: true, Compression: true, InvalidateBytes: 200},
	{Name: "QL-1060N", BytesPerRow: 162, ExtraRightMargin: 44, ModeSetting: true, Cutting: true, ExpandedMode: true, Compression: true, InvalidateBytes: 200},
}

var media = []Media{
	{Name: "12", WidthMM: 12, PrintableDots: 106, RightMargin: 29, FeedMargin: 35},
	{Name: "29", WidthMM: 29, PrintableDots: 306, RightMargin: 6, FeedMargin: 35},
	{Name: "38", WidthMM: 38, PrintableDots: 413, RightMargin: 12, FeedMargin: 35},
	{Name: "50", WidthMM: 50, PrintableDots: 554, RightMargin: 12, FeedMargin: 35},
	{Name: "54", WidthMM: 54, PrintableDots: 590, RightMargin: 0, FeedMargin: 35},
	{Name: "62", WidthMM: 62, PrintableDots: 696, RightMargin: 12, FeedMargin: 35},
	{Name: "102", WidthMM: 102, PrintableDots: 1164, RightMargin: 12, FeedMargin: 35},
}

var (
	ErrUnknownModel = errors.New("unknown printer model")
	ErrUnknownMedia = errors.New("unknown label size")
)

func LookupModel(name string) (Model, error) {
	for _, m := range models {
		if strings.EqualFold(m.Name, strings.TrimSpace(name)) {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

func LookupMedia(name string) (Media, error) {
	for _, m := range media {
		if m.Name == strings.TrimSpace(name) {
			return m, nil
		}
	}
	return Media{}, fmt.Errorf("%w: %q", ErrUnknownMedia, name)
}

const (
	esc          = 0x1b
	mediaEndless = 0x0a
	cmdPrint     = 0x1a
)

var bw = color.Palette{color.White, color.Black}

// Encode converts img to a Brother QL raster job for one label. The image is
// scaled to the printable width, dithered to black and white, placed against
// the right margin of the print head and mirrored.
func Encode(img image.Image, model Model, m Media) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	headDots := model.BytesPerRow * 8
	offset := headDots - m.PrintableDots - m.RightMargin - model.ExtraRightMargin
	if offset < 0 {
		return nil, fmt.Errorf("label size %s does not fit %s", m.Name, model.Name)
	}

	mono := monochrome(img, m.PrintableDots)
	rows := mono.Bounds().Dy()

	var buf bytes.Buffer
	buf.Write(make([]byte, model.InvalidateBytes))
	buf.Write([]byte{esc, '@'})
	if model.ModeSetting {
		buf.Write([]byte{esc, 'i', 'a', 0x01})
	}

	// Media and quality: type, width and length valid, high quality.
	buf.Write([]byte{esc, 'i', 'z', 0x80 | 0x02 | 0x04 | 0x08 | 0x40, mediaEndless, m.WidthMM, 0x00})
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(rows))
	buf.Write(n[:])
	buf.Write([]byte{0x00, 0x00})

	if model.Cutting {
		buf.Write([]byte{esc, 'i', 'M', 0x40})
		buf.Write([]byte{esc, 'i', 'A', 0x01})
	}
	if model.ExpandedMode {
		buf.Write([]byte{esc, 'i', 'K', 0x08})
	}
	var margin [2]byte
	binary.LittleEndian.PutUint16(margin[:], m.FeedMargin)
	buf.Write([]byte{esc, 'i', 'd'})
	buf.Write(margin[:])
	if model.Compression {
		buf.Write([]byte{'M', 0x00})
	}

	row := make([]byte, model.BytesPerRow)
	b := mono.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		clear(row)
		for x := b.Min.X; x < b.Max.X; x++ {
			if mono.ColorIndexAt(x, y) != 1 {
				continue
			}
			dot := headDots - 1 - (offset + x - b.Min.X)
			row[dot/8] |= 0x80 >> (dot % 8)
		}
		buf.Write([]byte{'g', 0x00, byte(model.BytesPerRow)})
		buf.Write(row)
	}
	buf.WriteByte(cmdPrint)
	return buf.Bytes(), nil
}

// monochrome scales img to width dots and dithers it to the black and white
// palette; index 1 is black.
func monochrome(img image.Image, width int) *image.Paletted {
	src := img.Bounds()
	height := src.Dy() * width / src.Dx()
	if height < 1 {
		height = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(scaled, scaled.Bounds(), image.White, image.Point{}, xdraw.Src)
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, src, xdraw.Over, nil)

	out := image.NewPaletted(scaled.Bounds(), bw)
	xdraw.FloydSteinberg.Draw(out, out.Bounds(), scaled, image.Point{})
	return out
}
