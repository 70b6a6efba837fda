package relay

import (
	"regexp"
	"strings"
)

// TextFilter strips meta-commentary from model speech transcripts before
// they reach the user: narration about highlighting mechanics and
// references to the knowledge lookup. The rule set is shared across all
// connections and read-only after construction.
type TextFilter struct {
	rules []*regexp.Regexp
}

var whitespace = regexp.MustCompile(`\s+`)

// defaultRules match the phrasings observed from the model when it narrates
// its own tooling instead of the page.
var defaultRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bI[' ]?a?m (now )?highlighting[^.!?]*[.!?]?`),
	regexp.MustCompile(`(?i)\bI(?:'ve| have) (just )?highlighted[^.!?]*[.!?]?`),
	regexp.MustCompile(`(?i)\blet me highlight[^.!?]*[.!?]?`),
	regexp.MustCompile(`(?i)\baccording to (the|our|my) knowledge base[,:]?\s*`),
	regexp.MustCompile(`(?i)\bbased on (the|our|my) knowledge base[,:]?\s*`),
	regexp.MustCompile(`(?i)\bthe knowledge base (says|shows|indicates)[,:]?\s*`),
	regexp.MustCompile(`(?i)\(highlighting[^)]*\)`),
	regexp.MustCompile(`(?i)\busing the highlight tool[^.!?]*[.!?]?`),
}

func NewTextFilter() *TextFilter {
	return &TextFilter{rules: defaultRules}
}

// Apply strips matching meta-commentary and collapses the leftover
// whitespace. It returns "" when nothing user-worthy survives, which
// callers treat as "suppress the message".
func (f *TextFilter) Apply(text string) string {
	for _, rule := range f.rules {
		text = rule.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
