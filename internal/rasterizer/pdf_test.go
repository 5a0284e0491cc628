package rasterizer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTextPDF assembles a minimal valid PDF with one text page per entry,
// computing the xref offsets by hand.
func buildTextPDF(t *testing.T, pageTexts []string) []byte {
	t.Helper()

	n := len(pageTexts)
	fontObjNr := 3 + 2*n

	kids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 3+2*i))
	}

	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n),
	}
	for i, text := range pageTexts {
		contentObjNr := 4 + 2*i
		objs = append(objs, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>",
			contentObjNr, fontObjNr))
		stream := fmt.Sprintf("BT\n/F1 12 Tf\n72 720 Td\n(%s) Tj\nET", text)
		objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}
	objs = append(objs, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	return assemblePDF(objs)
}

// buildImagePDF assembles a one-page PDF whose only content is a 1x1 RGB
// image XObject.
func buildImagePDF(t *testing.T) []byte {
	t.Helper()

	imgData := "\xff\x00\x00"
	drawStream := "q 100 0 0 100 72 692 cm /Im1 Do Q"

	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /XObject << /Im1 4 0 R >> >> /Contents 5 0 R >>",
		fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Length %d >>\nstream\n%s\nendstream", len(imgData), imgData),
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(drawStream), drawStream),
	}

	return assemblePDF(objs)
}

func assemblePDF(objs []string) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs)+1)
	for i, obj := range objs {
		offsets[i+1] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objs)+1)
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(objs); i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func TestPDFRasterizer_PageCount(t *testing.T) {
	t.Parallel()
	r := NewPDFRasterizer()

	doc := buildTextPDF(t, []string{"page one", "page two", "page three"})
	count, err := r.PageCount(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPDFRasterizer_PageCount_RejectsGarbage(t *testing.T) {
	t.Parallel()
	r := NewPDFRasterizer()

	_, err := r.PageCount(context.Background(), []byte("this is not a pdf"))
	require.Error(t, err)
}

func TestPDFRasterizer_Split(t *testing.T) {
	t.Parallel()
	r := NewPDFRasterizer()
	ctx := context.Background()

	doc := buildTextPDF(t, []string{"first", "second", "third"})
	pages, err := r.Split(ctx, doc)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, page := range pages {
		assert.Equal(t, i+1, page.Number)
		assert.Equal(t, "application/pdf", page.MediaType)
		// Each unit must itself be a readable single-page PDF.
		count, err := r.PageCount(ctx, page.Data)
		require.NoError(t, err, "page %d", i+1)
		assert.Equal(t, 1, count, "page %d", i+1)
	}
}

func TestPDFRasterizer_Split_ContextCancelled(t *testing.T) {
	t.Parallel()
	r := NewPDFRasterizer()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Split(ctx, buildTextPDF(t, []string{"only"}))
	require.Error(t, err)
}

func TestPDFRasterizer_PageDims(t *testing.T) {
	t.Parallel()
	r := NewPDFRasterizer()

	dims, err := r.PageDims(context.Background(), buildTextPDF(t, []string{"a", "b"}))
	require.NoError(t, err)
	require.Len(t, dims, 2)
	assert.InDelta(t, 612.0, dims[0].Width, 0.01)
	assert.InDelta(t, 792.0, dims[0].Height, 0.01)
}

func TestPDFRasterizer_PageImages_TextPageHasNone(t *testing.T) {
	t.Parallel()
	r := NewPDFRasterizer()

	imgs, err := r.PageImages(context.Background(), buildTextPDF(t, []string{"words only"}), 1)
	require.NoError(t, err)
	assert.Empty(t, imgs)
}

func TestPDFRasterizer_PageImages_OutOfRange(t *testing.T) {
	t.Parallel()
	r := NewPDFRasterizer()

	_, err := r.PageImages(context.Background(), buildTextPDF(t, []string{"one page"}), 9)
	require.Error(t, err)
}

func TestPDFRasterizer_PageImages_ImagePDF(t *testing.T) {
	t.Parallel()
	r := NewPDFRasterizer()

	imgs, err := r.PageImages(context.Background(), buildImagePDF(t), 1)
	if err != nil {
		// Raw uncompressed streams are not always exportable.
		t.Logf("image extraction unavailable: %v", err)
		return
	}
	for _, img := range imgs {
		assert.NotEmpty(t, img.Data)
		assert.NotEmpty(t, img.FileType)
	}
}
