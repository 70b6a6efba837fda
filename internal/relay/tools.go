package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/model"
	"github.com/glowpath/glowpath/internal/protocol"
)

// Tool names form a closed set; anything else is answered with an explicit
// failure rather than silently ignored.
const (
	toolHighlightElement  = "highlight_element"
	toolHighlightSequence = "highlight_sequence"
	toolClearOverlays     = "clear_overlays"
	toolSearchKnowledge   = "search_knowledge"
)

// nonAttribution is prepended to knowledge results so the model never cites
// the lookup source aloud.
const nonAttribution = "Use the following background information to answer, " +
	"but never mention where it came from or that a lookup happened:\n\n"

// handleToolCall executes one tool call and always reports a result back
// upstream so the model's turn can complete, even on internal failure.
func (c *conn) handleToolCall(up model.Session, call model.ToolCall) {
	result := c.execTool(call)
	if err := up.SendToolResult(c.ctx, call.ID, call.Name, result); err != nil {
		c.log.Warn("send tool result", zap.String("tool", call.Name), zap.Error(err))
	}
}

// execTool maps a tool call onto visual commands for the client and builds
// the upstream acknowledgment. Errors, including panics from argument
// handling, are contained in this call's own result and never abort
// sibling tool calls.
func (c *conn) execTool(call model.ToolCall) (result map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("tool execution panicked", zap.String("tool", call.Name), zap.Any("panic", r))
			result = toolFailure(fmt.Sprintf("internal error in %s", call.Name))
		}
	}()

	switch call.Name {
	case toolHighlightElement:
		return c.execHighlightElement(call.Args)
	case toolHighlightSequence:
		return c.execHighlightSequence(call.Args)
	case toolClearOverlays:
		c.sendCommand(protocol.VisualCommand{Kind: protocol.CommandClear})
		return map[string]any{"success": true}
	case toolSearchKnowledge:
		return c.execSearchKnowledge(call.Args)
	default:
		c.log.Warn("unknown tool call", zap.String("tool", call.Name))
		return toolFailure("unknown tool: " + call.Name)
	}
}

func (c *conn) execHighlightElement(args map[string]any) map[string]any {
	selector := stringArg(args, "selector")
	if selector == "" {
		return toolFailure("highlight_element requires a selector")
	}
	label := stringArg(args, "label")
	action := stringArg(args, "action")
	if action == "" {
		action = protocol.ActionApply
	}

	// A fresh highlight always clears what came before it, so the client
	// never reconciles overlapping highlight sets.
	if action != protocol.ActionClear {
		c.sendCommand(protocol.VisualCommand{Kind: protocol.CommandClear})
	}
	c.sendCommand(protocol.VisualCommand{
		Kind:     protocol.CommandHighlight,
		Selector: selector,
		Label:    label,
		Action:   action,
	})

	return map[string]any{"success": true, "selector": selector}
}

func (c *conn) execHighlightSequence(args map[string]any) map[string]any {
	steps, err := sequenceSteps(args["steps"])
	if err != nil {
		return toolFailure("highlight_sequence: " + err.Error())
	}
	if len(steps) == 0 {
		return toolFailure("highlight_sequence requires at least one step")
	}

	c.sendCommand(protocol.VisualCommand{Kind: protocol.CommandClear})
	c.sendCommand(protocol.VisualCommand{Kind: protocol.CommandSequence, Steps: steps})

	return map[string]any{"success": true, "steps": len(steps)}
}

func (c *conn) execSearchKnowledge(args map[string]any) map[string]any {
	query := stringArg(args, "query")
	if query == "" {
		return toolFailure("search_knowledge requires a query")
	}

	snippets, err := c.r.kb.Search(c.ctx, query, 3)
	if err != nil {
		return toolFailure("knowledge lookup failed: " + err.Error())
	}
	if len(snippets) == 0 {
		return map[string]any{"success": true, "text": nonAttribution + "No relevant information found."}
	}

	var b strings.Builder
	b.WriteString(nonAttribution)
	for _, s := range snippets {
		b.WriteString(s.Title)
		b.WriteString(": ")
		b.WriteString(s.Body)
		b.WriteString("\n")
	}
	return map[string]any{"success": true, "text": b.String()}
}

// sendCommand stamps the session's current scroll context onto a visual
// command and ships it to the client.
func (c *conn) sendCommand(cmd protocol.VisualCommand) {
	cmd.Scroll = c.sess.Scroll()
	c.send(protocol.CommandMessage(cmd))
}

func toolFailure(detail string) map[string]any {
	return map[string]any{"success": false, "error": detail}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}

// sequenceSteps coerces the loosely-typed steps argument the model sends
// into concrete sequence steps.
func sequenceSteps(raw any) ([]protocol.SequenceStep, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid steps: %w", err)
	}
	var steps []protocol.SequenceStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("invalid steps: %w", err)
	}
	out := steps[:0]
	for _, s := range steps {
		if s.Selector != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
