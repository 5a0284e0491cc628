package extraction

import (
	"fmt"
	"sort"
	"strings"
)

// MergeMarkdown joins per-page results into the master document. Pages are
// emitted in ascending page order regardless of completion order, each under
// a "# ページ N" header, followed by relative image refs for its figures.
func MergeMarkdown(results []PageResult) string {
	sorted := make([]PageResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PageNumber < sorted[j].PageNumber
	})

	var sb strings.Builder
	for _, res := range sorted {
		fmt.Fprintf(&sb, "# ページ %d\n\n", res.PageNumber)
		sb.WriteString(res.Markdown)
		sb.WriteString("\n\n")

		for _, fig := range res.Figures {
			fmt.Fprintf(&sb, "![図%d](figures/page_%d_fig_%d.png)\n\n", fig.ID, res.PageNumber, fig.ID)
			if fig.Caption != "" {
				fmt.Fprintf(&sb, "*%s*\n\n", fig.Caption)
			}
		}
	}
	return sb.String()
}
