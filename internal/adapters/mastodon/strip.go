package mastodon

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy = bluemonday.StrictPolicy()
	// Блочные и переносные теги заменяются переводом строки до зачистки,
	// иначе соседние текстовые узлы склеиваются.
	breakTags = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
)

// StripHTML приводит HTML тела статуса к плоскому тексту.
func StripHTML(content string) string {
	withBreaks := breakTags.ReplaceAllString(content, "\n")
	plain := stripPolicy.Sanitize(withBreaks)
	return strings.TrimSpace(html.UnescapeString(plain))
}
