// Package gemini binds the relay's model seam to the Gemini API: a live
// streaming session for audio and vision, and a one-shot agent for typed
// queries.
package gemini

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/glowpath/glowpath/internal/config"
	"github.com/glowpath/glowpath/internal/model"
)

// audioMIME is the PCM format the live API expects for input audio.
const audioMIME = "audio/pcm;rate=16000"

// Dialer opens live sessions against the Gemini realtime API.
type Dialer struct {
	client *genai.Client
	cfg    *config.Config
	log    *zap.Logger
}

func NewDialer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Dialer, error) {
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

	return &Dialer{client: client, cfg: cfg, log: log}, nil
}

func (d *Dialer) Dial(ctx context.Context, sessCfg model.SessionConfig) (model.Session, error) {
	connectCfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: sessCfg.SystemPrompt}},
		},
		Tools:                    toolDeclarations(),
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if d.cfg.Model.Voice != "" {
		connectCfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: d.cfg.Model.Voice},
			},
		}
	}

	live, err := d.client.Live.Connect(ctx, d.cfg.Model.Name, connectCfg)
	if err != nil {
		return nil, fmt.Errorf("connect live session: %w", err)
	}

	s := &liveSession{
		live:   live,
		log:    d.log,
		events: make(chan model.Event, 64),
	}
	go s.receiveLoop()
	return s, nil
}

// liveSession adapts one genai live session to the model seam. The receive
// loop owns the event channel and closes it when the stream ends.
type liveSession struct {
	live   *genai.Session
	log    *zap.Logger
	events chan model.Event

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func (s *liveSession) receiveLoop() {
	defer close(s.events)

	for {
		msg, err := s.live.Receive()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.events <- model.Event{Kind: model.EventClosed}
			} else {
				s.events <- model.Event{Kind: model.EventError, Err: err}
			}
			return
		}

		if sc := msg.ServerContent; sc != nil {
			if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
				s.events <- model.Event{Kind: model.EventText, Text: sc.OutputTranscription.Text}
			}
			if sc.ModelTurn != nil {
				for _, part := range sc.ModelTurn.Parts {
					if part.InlineData != nil && len(part.InlineData.Data) > 0 {
						s.events <- model.Event{Kind: model.EventAudio, Audio: part.InlineData.Data}
					}
				}
			}
		}

		if tc := msg.ToolCall; tc != nil {
			for _, call := range tc.FunctionCalls {
				s.events <- model.Event{Kind: model.EventToolCall, Call: model.ToolCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Args,
				}}
			}
		}
	}
}

func (s *liveSession) SendFrame(ctx context.Context, data []byte, mimeType string) error {
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	})
}

func (s *liveSession) SendAudio(ctx context.Context, data []byte) error {
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: audioMIME},
	})
}

func (s *liveSession) SendText(ctx context.Context, text string) error {
	return s.live.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{
			{Role: genai.RoleUser, Parts: []*genai.Part{{Text: text}}},
		},
		TurnComplete: genai.Ptr(true),
	})
}

// SendSystemText injects steering text mid-session. The live API has no
// system role after connect, so it goes in as user content the model is
// told to treat as instruction.
func (s *liveSession) SendSystemText(ctx context.Context, text string) error {
	return s.live.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{
			{Role: genai.RoleUser, Parts: []*genai.Part{{Text: "[instruction] " + text}}},
		},
		TurnComplete: genai.Ptr(true),
	})
}

func (s *liveSession) SendToolResult(ctx context.Context, id, name string, result map[string]any) error {
	return s.live.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{
			{ID: id, Name: name, Response: result},
		},
	})
}

func (s *liveSession) Events() <-chan model.Event { return s.events }

func (s *liveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.live.Close()
	})
	return err
}
