package printer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campdesk/labelbridge/internal/config"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func mustModel(t *testing.T, name string) Model {
	t.Helper()
	m, err := LookupModel(name)
	require.NoError(t, err)
	return m
}

func mustMedia(t *testing.T, name string) Media {
	t.Helper()
	m, err := LookupMedia(name)
	require.NoError(t, err)
	return m
}

func TestEncodeHeader(t *testing.T) {
	model := mustModel(t, "QL-1050")
	job, err := Encode(solid(696, 20, color.White), model, mustMedia(t, "62"))
	require.NoError(t, err)

	assert.Equal(t, make([]byte, 200), job[:200])
	rest := job[200:]

	want := []byte{
		0x1b, '@',
		0x1b, 'i', 'a', 0x01,
		0x1b, 'i', 'z', 0xce, 0x0a, 62, 0x00, 20, 0, 0, 0, 0x00, 0x00,
		0x1b, 'i', 'M', 0x40,
		0x1b, 'i', 'A', 0x01,
		0x1b, 'i', 'K', 0x08,
		0x1b, 'i', 'd', 35, 0x00,
		'M', 0x00,
	}
	require.GreaterOrEqual(t, len(rest), len(want))
	assert.Equal(t, want, rest[:len(want)])

	rows := rest[len(want):]
	assert.Len(t, rows, 20*(3+162)+1)
	assert.Equal(t, []byte{'g', 0x00, 162}, rows[:3])
	assert.Equal(t, byte(0x1a), job[len(job)-1])
	assert.Equal(t, make([]byte, 162), rows[3:3+162], "white image must produce empty rows")
}

func TestEncodeMirrorsAgainstRightMargin(t *testing.T) {
	model := mustModel(t, "QL-500")
	job, err := Encode(solid(696, 4, color.Black), model, mustMedia(t, "62"))
	require.NoError(t, err)

	// QL-500 has no mode setting, cutting, expanded mode or compression.
	header := 200 + 2 + 13 + 5
	row := job[header+3 : header+3+90]

	assert.Equal(t, byte(0x00), row[0])
	assert.Equal(t, byte(0x0f), row[1])
	for i := 2; i < 88; i++ {
		require.Equal(t, byte(0xff), row[i], "byte %d", i)
	}
	assert.Equal(t, byte(0xf0), row[88])
	assert.Equal(t, byte(0x00), row[89])
}

func TestEncodeScalesToPrintableWidth(t *testing.T) {
	model := mustModel(t, "QL-720NW")
	job, err := Encode(solid(600, 250, color.White), model, mustMedia(t, "62"))
	require.NoError(t, err)

	idx := bytes.Index(job, []byte{0x1b, 'i', 'z'})
	require.Positive(t, idx)
	rows := binary.LittleEndian.Uint32(job[idx+7 : idx+11])
	assert.Equal(t, uint32(290), rows)
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode(solid(10, 10, color.White), mustModel(t, "QL-500"), mustMedia(t, "102"))
	assert.Error(t, err)

	_, err = Encode(nil, mustModel(t, "QL-500"), mustMedia(t, "62"))
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	m, err := LookupModel("ql-1060n")
	require.NoError(t, err)
	assert.Equal(t, 162, m.BytesPerRow)

	_, err = LookupModel("QL-9000")
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = LookupMedia("17x54")
	assert.ErrorIs(t, err, ErrUnknownMedia)
}

func TestPrintSpool(t *testing.T) {
	dir := t.TempDir()
	p, err := New(config.PrinterConfig{
		Backend:   "spool",
		Model:     "QL-1050",
		SpoolDir:  dir,
		LabelSize: "62",
		MaxCopies: 2,
	}, zap.NewNop())
	require.NoError(t, err)

	n, err := p.Print(context.Background(), solid(600, 250, color.White), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	files, err := SpoolFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	n, err = p.Print(context.Background(), solid(600, 250, color.White), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPrintFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lp0")
	p, err := New(config.PrinterConfig{Backend: "file", Model: "QL-700", Device: path, LabelSize: "62"}, nil)
	require.NoError(t, err)

	_, err = p.Print(context.Background(), solid(600, 250, color.White), 2)
	require.NoError(t, err)

	single, err := Encode(solid(600, 250, color.White), mustModel(t, "QL-700"), mustMedia(t, "62"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 2*len(single))
}

func TestPrintTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	p, err := New(config.PrinterConfig{
		Backend:   "tcp",
		Model:     "QL-820NWB",
		Address:   ln.Addr().String(),
		LabelSize: "62",
		Timeout:   2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Print(context.Background(), solid(600, 250, color.White), 1)
	require.NoError(t, err)

	select {
	case data := <-received:
		require.NotEmpty(t, data)
		assert.Equal(t, byte(0x1a), data[len(data)-1])
	case <-time.After(5 * time.Second):
		t.Fatal("printer server received nothing")
	}
}

type failingBackend struct{ sent int }

func (f *failingBackend) Name() string { return "failing" }

func (f *failingBackend) Send(ctx context.Context, job []byte) error {
	f.sent++
	if f.sent > 1 {
		return errors.New("paper jam")
	}
	return nil
}

func TestPrintStopsOnError(t *testing.T) {
	b := &failingBackend{}
	p := NewWithBackend(b, mustModel(t, "QL-1050"), mustMedia(t, "62"), 0, nil)

	n, err := p.Print(context.Background(), solid(600, 250, color.White), 5)
	assert.ErrorContains(t, err, "paper jam")
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, b.sent)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(config.PrinterConfig{Backend: "cups", Model: "QL-1050", LabelSize: "62"}, nil)
	assert.Error(t, err)
}
