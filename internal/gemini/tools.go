package gemini

import "google.golang.org/genai"

// toolDeclarations describes the visual and knowledge tools exposed to the
// live model. Names must match what the relay's tool executor expects.
func toolDeclarations() []*genai.Tool {
	return []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "highlight_element",
				Description: "Draw a highlight around one element on the user's screen. Use the exact selector from the element registry.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"selector": {Type: genai.TypeString, Description: "CSS selector of the element, taken verbatim from the registry"},
						"label":    {Type: genai.TypeString, Description: "Short label shown next to the highlight"},
						"action":   {Type: genai.TypeString, Description: "\"apply\" to draw (default) or \"clear\" to remove this highlight"},
					},
					Required: []string{"selector"},
				},
			},
			{
				Name:        "highlight_sequence",
				Description: "Walk the user through several elements in order, highlighting each in turn.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"steps": {
							Type:        genai.TypeArray,
							Description: "Tour steps in display order",
							Items: &genai.Schema{
								Type: genai.TypeObject,
								Properties: map[string]*genai.Schema{
									"selector": {Type: genai.TypeString},
									"label":    {Type: genai.TypeString},
									"delay_ms": {Type: genai.TypeInteger, Description: "How long to dwell on this step, in milliseconds"},
								},
								Required: []string{"selector"},
							},
						},
					},
					Required: []string{"steps"},
				},
			},
			{
				Name:        "clear_overlays",
				Description: "Remove every highlight currently on the user's screen.",
				Parameters: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: map[string]*genai.Schema{},
				},
			},
			{
				Name:        "search_knowledge",
				Description: "Look up product documentation relevant to the user's question.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {Type: genai.TypeString, Description: "Search terms"},
					},
					Required: []string{"query"},
				},
			},
		},
	}}
}
