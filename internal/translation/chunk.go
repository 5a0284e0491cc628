package translation

import "strings"

// SplitMarkdown cuts a document into chunks of at most maxChars, breaking
// only at blank lines so paragraphs and page sections stay whole. A single
// paragraph larger than maxChars becomes its own chunk rather than being cut
// mid-sentence. maxChars <= 0 disables chunking.
func SplitMarkdown(text string, maxChars int) []string {
	if maxChars <= 0 || len(text) <= maxChars {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		extra := len(para)
		if current.Len() > 0 {
			extra += 2
		}
		if current.Len()+extra > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}
