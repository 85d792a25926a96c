// Package extract turns source documents into plain text for classification.
package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extractor returns the text of a document. A document without a text layer
// yields "" rather than an error.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
	ExtractReader(ctx context.Context, r io.ReaderAt, size int64) (string, error)
}

// Text reads plain text files as-is. Used for fixtures and re-processing of
// text dumps.
type Text struct{}

func (Text) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (Text) ExtractReader(ctx context.Context, r io.ReaderAt, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ByExtension dispatches on the lower-cased file extension. Readers without
// a name go to Default.
type ByExtension struct {
	Extractors map[string]Extractor
	Default    Extractor
}

// NewDefault handles ".pdf" with PDF, ".xlsx" with XLSX and ".txt" with Text.
func NewDefault() *ByExtension {
	pdf := PDF{}
	return &ByExtension{
		Extractors: map[string]Extractor{
			".pdf":  pdf,
			".xlsx": XLSX{},
			".txt":  Text{},
		},
		Default: pdf,
	}
}

// Selector picks the extractor for a file name.
type Selector interface {
	For(name string) Extractor
}

// For returns the extractor registered for name's extension, or Default.
func (b *ByExtension) For(name string) Extractor {
	if e, ok := b.Extractors[strings.ToLower(filepath.Ext(name))]; ok {
		return e
	}
	return b.Default
}

func (b *ByExtension) Extract(ctx context.Context, path string) (string, error) {
	e := b.For(path)
	if e == nil {
		return "", fmt.Errorf("no extractor for %q", filepath.Ext(path))
	}
	return e.Extract(ctx, path)
}

func (b *ByExtension) ExtractReader(ctx context.Context, r io.ReaderAt, size int64) (string, error) {
	if b.Default == nil {
		return "", fmt.Errorf("no default extractor")
	}
	return b.Default.ExtractReader(ctx, r, size)
}
