package relay

import (
	"fmt"
	"strings"

	"github.com/glowpath/glowpath/internal/protocol"
)

// DefaultRegistry is the fallback element map used when a session has not
// pushed a selector registry yet, covering the landmarks most pages have.
var DefaultRegistry = []protocol.SelectorEntry{
	{Selector: "header", Label: "Page header", Category: "navigation"},
	{Selector: "nav", Label: "Navigation menu", Category: "navigation"},
	{Selector: "main", Label: "Main content", Category: "content"},
	{Selector: "input[type=search]", Label: "Search box", Category: "input"},
	{Selector: "footer", Label: "Page footer", Category: "navigation"},
}

// BuildSystemPrompt produces the upstream session's system instruction from
// the current selector registry. An empty registry falls back to
// DefaultRegistry so highlight calls always have something to target.
func BuildSystemPrompt(registry []protocol.SelectorEntry) string {
	if len(registry) == 0 {
		registry = DefaultRegistry
	}

	var b strings.Builder
	b.WriteString("You are a friendly on-screen guide. You watch the user's shared screen, ")
	b.WriteString("answer questions about the page out loud, and point at elements by calling ")
	b.WriteString("the highlight tools. Keep speech short and conversational. ")
	b.WriteString("Only highlight elements from the registry below, using their exact selectors. ")
	b.WriteString("Never read selectors aloud and never describe the act of highlighting.\n\n")
	b.WriteString(describeRegistry(registry))
	return b.String()
}

// OnboardingInstruction is sent once, with the first frame of a session,
// asking the model for a short proactive tour.
func OnboardingInstruction(registry []protocol.SelectorEntry) string {
	if len(registry) == 0 {
		registry = DefaultRegistry
	}
	// Tour at most five elements, whatever the registry affords.
	n := len(registry)
	if n > 5 {
		n = 5
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The user just started sharing their screen. Greet them briefly, then use "+
		"highlight_sequence to walk them through %d of the most useful elements on this page, "+
		"saying one short sentence about each:\n\n", n)
	b.WriteString(describeRegistry(registry[:n]))
	return b.String()
}

// RegistryContext describes a freshly replaced registry to a live session.
func RegistryContext(registry []protocol.SelectorEntry) string {
	if len(registry) == 0 {
		return "The page structure changed and no interactive elements were found. " +
			"Do not highlight anything until a new element registry arrives."
	}
	return "The page structure changed. From now on, only highlight elements from this " +
		"updated registry:\n\n" + describeRegistry(registry)
}

func describeRegistry(registry []protocol.SelectorEntry) string {
	var b strings.Builder
	b.WriteString("Element registry (selector | label | category):\n")
	for _, e := range registry {
		fmt.Fprintf(&b, "- %s | %s | %s\n", e.Selector, e.Label, e.Category)
	}
	return b.String()
}
