package docjob

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Target languages offered for translation. Keys are the canonical codes
// accepted by the API and baked into output artifact names.
var supportedTargets = []language.Tag{
	language.English,
	language.Chinese,
	language.Make("zh-TW"),
	language.Korean,
	language.Vietnamese,
	language.Thai,
	language.Spanish,
	language.French,
}

// NormalizeLanguage canonicalizes a target language code and rejects
// anything outside the supported set.
func NormalizeLanguage(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", NewErrorWithCause(ErrPrecondition, fmt.Sprintf("invalid language code %q", code), err)
	}
	for _, supported := range supportedTargets {
		if tag == supported {
			return supported.String(), nil
		}
	}
	return "", NewError(ErrPrecondition, fmt.Sprintf("unsupported target language %q", code)).
		WithContext("supported", SupportedLanguages())
}

// SupportedLanguages lists the canonical codes of all translation targets.
func SupportedLanguages() []string {
	ret := make([]string, 0, len(supportedTargets))
	for _, tag := range supportedTargets {
		ret = append(ret, tag.String())
	}
	return ret
}

// LanguageName returns the English display name for a language code,
// used when building engine prompts. Falls back to the raw code.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return code
	}
	return name
}
