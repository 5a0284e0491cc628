package translation

import (
	"fmt"

	"github.com/MimeLyc/doctrans/internal/docjob"
)

// languageNames maps target codes to the names used in prompts. Native
// spellings help the engines pick the right variant, zh vs zh-TW especially.
var languageNames = map[string]string{
	"en":    "English",
	"zh":    "Simplified Chinese (简体中文)",
	"zh-TW": "Traditional Chinese (繁體中文)",
	"ko":    "Korean (한국어)",
	"vi":    "Vietnamese (Tiếng Việt)",
	"th":    "Thai (ไทย)",
	"es":    "Spanish (Español)",
	"fr":    "French (Français)",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return docjob.LanguageName(code)
}

// buildPrompt wraps the source markdown in the translation instructions.
func buildPrompt(sourceText, targetLanguage string) string {
	name := languageName(targetLanguage)
	return fmt.Sprintf(`You are an expert translator specializing in educational materials.

Translate the following Japanese textbook markdown content into %s.

# Translation Guidelines

1. **Maintain Educational Context**
   - Use clear, student-friendly language
   - Translate technical terms accurately

2. **Preserve Formatting**
   - Keep all Markdown formatting intact
   - Maintain headings (#), lists, emphasis, etc.
   - DO NOT modify image references (`+"`![図1](...)`"+`)

3. **Consistency**
   - Use consistent terminology throughout
   - Maintain consistent tone

4. **Figure References**
   - Translate phrases like "See Figure 1" but keep image links unchanged

5. **Special Notations**
   - Ruby annotations (`+"`{text|ruby}`"+`) should be removed or adapted as appropriate

# Source Text

%s

# Output

Provide ONLY the translated markdown in %s. No explanations or comments.`, name, sourceText, name)
}
