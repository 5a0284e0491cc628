// Package extraction runs the per-page recognition pipeline: split the
// uploaded PDF, send every page to the recognition engine concurrently,
// merge the results into the master markdown and crop figure images.
package extraction

// PageFigure is a figure the recognition engine detected on a page.
// Coordinates are reported by the engine in page pixel space.
type PageFigure struct {
	ID      int
	Type    string
	Caption string
	X       float64
	Y       float64
	Width   float64
	Height  float64
}

// PageResult is the recognition outcome for a single page.
type PageResult struct {
	PageNumber  int
	Markdown    string
	WritingMode string
	Figures     []PageFigure
}
