package relay

import (
	"strings"
	"testing"

	"github.com/glowpath/glowpath/internal/protocol"
)

func TestBuildSystemPromptUsesRegistry(t *testing.T) {
	prompt := BuildSystemPrompt([]protocol.SelectorEntry{
		{Selector: "#checkout", Label: "Checkout", Category: "action"},
	})
	if !strings.Contains(prompt, "#checkout") || !strings.Contains(prompt, "Checkout") {
		t.Errorf("prompt missing registry entry:\n%s", prompt)
	}
}

func TestBuildSystemPromptFallsBackToDefault(t *testing.T) {
	prompt := BuildSystemPrompt(nil)
	for _, entry := range DefaultRegistry {
		if !strings.Contains(prompt, entry.Selector) {
			t.Errorf("prompt missing default entry %q", entry.Selector)
		}
	}
}

func TestRegistryContextEmpty(t *testing.T) {
	ctx := RegistryContext(nil)
	if !strings.Contains(ctx, "Do not highlight") {
		t.Errorf("empty registry context should forbid highlighting, got:\n%s", ctx)
	}
}

func TestOnboardingInstructionMentionsSequenceTool(t *testing.T) {
	instr := OnboardingInstruction([]protocol.SelectorEntry{
		{Selector: "#a", Label: "A"},
		{Selector: "#b", Label: "B"},
		{Selector: "#c", Label: "C"},
		{Selector: "#d", Label: "D"},
	})
	if !strings.Contains(instr, "highlight_sequence") {
		t.Error("onboarding instruction does not name the sequence tool")
	}
	if !strings.Contains(instr, "#a") {
		t.Error("onboarding instruction missing registry entries")
	}
}
