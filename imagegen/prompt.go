package imagegen

import (
	"strings"
	"unicode/utf8"
)

// PromptTemplates holds the fixed descriptors and the two templates the
// content is spliced into. Placeholders are {picture}, {style}, {subject}
// and {content}.
type PromptTemplates struct {
	Picture   string `yaml:"picture"`
	Style     string `yaml:"style"`
	Subject   string `yaml:"subject"`
	WithStyle string `yaml:"template"`
	NoStyle   string `yaml:"template_no_style"`
}

// DefaultPromptTemplates returns the stock birthday card descriptors.
func DefaultPromptTemplates() PromptTemplates {
	return PromptTemplates{
		Picture:   "cartoon image, fun, joyful, happy",
		Style:     "digital art, professional, masterpiece, best quality",
		Subject:   "young girl named Evelina, dark long hair, big eyes",
		WithStyle: "<picture>{picture}</picture>, <style>{style}</style>, <subject>{subject}</subject>, <content>{content}</content>",
		NoStyle:   "<picture>{picture}</picture>, <subject>{subject}</subject>, <content>{content}</content>",
	}
}

// ContentHasStyle reports whether content already carries a style
// directive, in which case the fixed style segment is left out.
func ContentHasStyle(content string) bool {
	return strings.Contains(strings.ToLower(content), "style")
}

// Build fills the matching template with content.
func (t PromptTemplates) Build(content string) string {
	return t.render(t.template(content), content)
}

// BuildWithin is Build with content cut on a rune boundary so the
// prompt is at most limit bytes. The template is chosen from the full
// content. truncated reports whether anything was cut; if the template
// alone exceeds limit the prompt is returned as built.
func (t PromptTemplates) BuildWithin(content string, limit int) (prompt string, truncated bool) {
	tmpl := t.template(content)
	prompt = t.render(tmpl, content)
	if len(prompt) <= limit {
		return prompt, false
	}
	slots := strings.Count(tmpl, "{content}")
	if slots == 0 {
		return prompt, false
	}
	budget := (limit - len(t.render(tmpl, ""))) / slots
	if budget <= 0 {
		return prompt, false
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	content = strings.TrimSpace(content[:cut])
	return t.render(tmpl, content), true
}

func (t PromptTemplates) template(content string) string {
	if ContentHasStyle(content) {
		return t.NoStyle
	}
	return t.WithStyle
}

func (t PromptTemplates) render(tmpl, content string) string {
	r := strings.NewReplacer(
		"{picture}", t.Picture,
		"{style}", t.Style,
		"{subject}", t.Subject,
		"{content}", content,
	)
	return r.Replace(tmpl)
}
