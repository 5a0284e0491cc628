// Package rasterizer turns an uploaded PDF into per-page units for the
// extraction engine and digs embedded images out of pages for figure crops.
package rasterizer

import "context"

// Page is one page of a source document as a standalone unit.
type Page struct {
	Number    int // 1-based
	Data      []byte
	MediaType string
}

// Image is an embedded raster image extracted from a page.
type Image struct {
	Data     []byte
	FileType string // png, jpg, tiff
}

// Dim is a page size in points.
type Dim struct {
	Width  float64
	Height float64
}

// Rasterizer splits documents into pages and extracts their images.
type Rasterizer interface {
	// PageCount validates the document and returns its page count.
	PageCount(ctx context.Context, doc []byte) (int, error)
	// Split renders each page into a standalone unit, in page order.
	Split(ctx context.Context, doc []byte) ([]Page, error)
	// PageImages returns the embedded images of one page in object order.
	PageImages(ctx context.Context, doc []byte, pageNr int) ([]Image, error)
	// PageDims returns each page's media box size in points, in page order.
	PageDims(ctx context.Context, doc []byte) ([]Dim, error)
}
