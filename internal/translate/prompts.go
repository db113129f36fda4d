package translate

import "sort"

// FallbackPrompt is used for language codes missing from the table.
const FallbackPrompt = "Please translate the following text."

// PromptTable maps a target language code to the system instruction sent
// with the transcript. It is built once and only read afterwards.
type PromptTable map[string]string

func DefaultPrompts() PromptTable {
	return PromptTable{
		"ja": "以下の文章を日本語に翻訳してください。",
		"en": "Please translate the following text into English.",
		"de": "Bitte übersetze den folgenden Text ins Deutsche.",
	}
}

// Prompt resolves lang, falling back to the generic prompt. It never fails.
func (p PromptTable) Prompt(lang string) string {
	if prompt, ok := p[lang]; ok {
		return prompt
	}
	return FallbackPrompt
}

// Languages lists the codes with a dedicated prompt, sorted.
func (p PromptTable) Languages() []string {
	langs := make([]string, 0, len(p))
	for lang := range p {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Supports reports whether lang has a dedicated prompt.
func (p PromptTable) Supports(lang string) bool {
	_, ok := p[lang]
	return ok
}
