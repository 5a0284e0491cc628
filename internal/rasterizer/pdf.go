package rasterizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/MimeLyc/doctrans/pkg/log"
)

// PDFRasterizer splits PDFs page by page using pdfcpu. Each page unit is a
// standalone single-page PDF; figure images come from the page's embedded
// image XObjects.
type PDFRasterizer struct {
	conf *model.Configuration
}

// NewPDFRasterizer creates a rasterizer with pdfcpu's default configuration.
func NewPDFRasterizer() *PDFRasterizer {
	return &PDFRasterizer{conf: model.NewDefaultConfiguration()}
}

func (r *PDFRasterizer) open(doc []byte) (*model.Context, error) {
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(doc), r.conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	return pctx, nil
}

func (r *PDFRasterizer) PageCount(_ context.Context, doc []byte) (int, error) {
	pctx, err := r.open(doc)
	if err != nil {
		return 0, err
	}
	return pctx.PageCount, nil
}

func (r *PDFRasterizer) Split(ctx context.Context, doc []byte) ([]Page, error) {
	pctx, err := r.open(doc)
	if err != nil {
		return nil, err
	}

	pages := make([]Page, 0, pctx.PageCount)
	for nr := 1; nr <= pctx.PageCount; nr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := api.Trim(bytes.NewReader(doc), &buf, []string{strconv.Itoa(nr)}, r.conf); err != nil {
			return nil, fmt.Errorf("failed to split page %d: %w", nr, err)
		}
		pages = append(pages, Page{
			Number:    nr,
			Data:      buf.Bytes(),
			MediaType: "application/pdf",
		})
	}
	return pages, nil
}

func (r *PDFRasterizer) PageDims(_ context.Context, doc []byte) ([]Dim, error) {
	pctx, err := r.open(doc)
	if err != nil {
		return nil, err
	}
	pdims, err := pctx.PageDims()
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	dims := make([]Dim, len(pdims))
	for i, d := range pdims {
		dims[i] = Dim{Width: d.Width, Height: d.Height}
	}
	return dims, nil
}

func (r *PDFRasterizer) PageImages(_ context.Context, doc []byte, pageNr int) ([]Image, error) {
	pctx, err := r.open(doc)
	if err != nil {
		return nil, err
	}
	if pageNr < 1 || pageNr > pctx.PageCount {
		return nil, fmt.Errorf("page %d out of range (1-%d)", pageNr, pctx.PageCount)
	}
	if len(pdfcpu.ImageObjNrs(pctx, pageNr)) == 0 {
		return nil, nil
	}

	imgs, err := pdfcpu.ExtractPageImages(pctx, pageNr, false)
	if err != nil {
		return nil, fmt.Errorf("failed to extract images of page %d: %w", pageNr, err)
	}

	objNrs := make([]int, 0, len(imgs))
	for nr := range imgs {
		objNrs = append(objNrs, nr)
	}
	sort.Ints(objNrs)

	out := make([]Image, 0, len(imgs))
	for _, nr := range objNrs {
		img := imgs[nr]
		data, err := io.ReadAll(img)
		if err != nil {
			log.Warn("Skipping unreadable image obj %d on page %d: %v", nr, pageNr, err)
			continue
		}
		out = append(out, Image{Data: data, FileType: img.FileType})
	}
	return out, nil
}
