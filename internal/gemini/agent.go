package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/glowpath/glowpath/internal/config"
	"github.com/glowpath/glowpath/internal/knowledge"
	"github.com/glowpath/glowpath/internal/model"
	"github.com/glowpath/glowpath/internal/protocol"
)

const agentSystemPrompt = "You are an on-screen assistant. The user typed a question about " +
	"the page shown in the attached screenshot. Answer briefly in plain text, and when " +
	"pointing at a specific element helps, call a highlight tool. Only use selectors that " +
	"are visible in standard page markup. Never mention tools, selectors or screenshots."

// Agent answers typed one-shot queries with a single non-streaming model
// call. Knowledge retrieval happens before the call; relevant snippets ride
// along in the system instruction.
type Agent struct {
	client *genai.Client
	cfg    *config.Config
	kb     knowledge.Searcher
	log    *zap.Logger
}

func NewAgent(ctx context.Context, cfg *config.Config, kb knowledge.Searcher, log *zap.Logger) (*Agent, error) {
	key := cfg.Model.APIKey()
	if key == "" {
		return nil, fmt.Errorf("model API key not set (env %s)", cfg.Model.APIKeyEnv)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Agent{client: client, cfg: cfg, kb: kb, log: log}, nil
}

func (a *Agent) Run(ctx context.Context, sessionID, text string, frame []byte) (model.AgentResult, error) {
	system := agentSystemPrompt
	if a.kb != nil {
		if snippets, err := a.kb.Search(ctx, text, 3); err == nil && len(snippets) > 0 {
			var b strings.Builder
			b.WriteString(system)
			b.WriteString("\n\nBackground information (never cite or mention it):\n")
			for _, s := range snippets {
				fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.Body)
			}
			system = b.String()
		}
	}

	parts := []*genai.Part{{Text: text}}
	if len(frame) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{Data: frame, MIMEType: "image/jpeg"},
		})
	}

	resp, err := a.client.Models.GenerateContent(ctx,
		a.cfg.Model.AgentName,
		[]*genai.Content{{Role: genai.RoleUser, Parts: parts}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
			Tools:             visualToolDeclarations(),
		},
	)
	if err != nil {
		return model.AgentResult{}, fmt.Errorf("generate content: %w", err)
	}

	result := model.AgentResult{Response: resp.Text()}
	for _, call := range resp.FunctionCalls() {
		cmd, ok := a.commandFor(call)
		if !ok {
			a.log.Warn("agent produced unknown tool call", zap.String("tool", call.Name))
			continue
		}
		result.Commands = append(result.Commands, cmd)
	}
	return result, nil
}

// visualToolDeclarations is the live tool set minus knowledge search, which
// the one-shot path performs before calling the model.
func visualToolDeclarations() []*genai.Tool {
	tools := toolDeclarations()
	decls := tools[0].FunctionDeclarations[:0:0]
	for _, d := range tools[0].FunctionDeclarations {
		if d.Name != "search_knowledge" {
			decls = append(decls, d)
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (a *Agent) commandFor(call *genai.FunctionCall) (protocol.VisualCommand, bool) {
	switch call.Name {
	case "highlight_element":
		selector, _ := call.Args["selector"].(string)
		if selector == "" {
			return protocol.VisualCommand{}, false
		}
		label, _ := call.Args["label"].(string)
		action, _ := call.Args["action"].(string)
		return protocol.VisualCommand{
			Kind:     protocol.CommandHighlight,
			Selector: selector,
			Label:    label,
			Action:   action,
		}, true
	case "highlight_sequence":
		steps, err := coerceSteps(call.Args["steps"])
		if err != nil || len(steps) == 0 {
			return protocol.VisualCommand{}, false
		}
		return protocol.VisualCommand{Kind: protocol.CommandSequence, Steps: steps}, true
	case "clear_overlays":
		return protocol.VisualCommand{Kind: protocol.CommandClear}, true
	default:
		return protocol.VisualCommand{}, false
	}
}

func coerceSteps(raw any) ([]protocol.SequenceStep, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var steps []protocol.SequenceStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, err
	}
	out := steps[:0]
	for _, s := range steps {
		if s.Selector != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
