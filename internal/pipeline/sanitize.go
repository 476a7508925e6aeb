// ABOUTME: Strips reasoning scaffolding from model output before it is posted
// ABOUTME: Hidden blocks are removed with their content; other tags are unwrapped

package pipeline

import (
	"regexp"
	"strings"
)

// HiddenTags are removed together with their content.
var HiddenTags = []string{"initial_understanding", "thinking", "post_response"}

type hiddenTag struct {
	block   *regexp.Regexp
	orphan  *regexp.Regexp
	closing string
}

var (
	hidden = compileHidden(HiddenTags)
	anyTag = regexp.MustCompile(`</?[^>]+>`)
)

func compileHidden(tags []string) []hiddenTag {
	out := make([]hiddenTag, 0, len(tags))
	for _, tag := range tags {
		q := regexp.QuoteMeta(tag)
		// orphan is greedy: everything up to the last unmatched closing tag goes
		out = append(out, hiddenTag{
			block:   regexp.MustCompile(`(?is)<` + q + `(?:\s[^>]*)?>.*?</` + q + `>|<` + q + `(?:\s[^>]*)?/>`),
			orphan:  regexp.MustCompile(`(?is)^.*</` + q + `>`),
			closing: "</" + strings.ToLower(tag) + ">",
		})
	}
	return out
}

// Sanitize removes hidden blocks, then any closing hidden tag without an
// opener along with everything before it, then unwraps all remaining tags
// and trims whitespace.
func Sanitize(raw string) string {
	cleaned := raw
	for _, h := range hidden {
		cleaned = h.block.ReplaceAllString(cleaned, "")
		if strings.Contains(strings.ToLower(cleaned), h.closing) {
			cleaned = h.orphan.ReplaceAllString(cleaned, "")
		}
	}
	cleaned = anyTag.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
