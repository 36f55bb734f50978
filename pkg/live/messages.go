package live

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SetupConfig configures a session when it opens.
type SetupConfig struct {
	Model              string
	ResponseModalities []string
	Voice              string
	SystemInstruction  string
	Tools              []FunctionDeclaration
}

// FunctionDeclaration declares a tool the model may call.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// FunctionCall is one tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// FunctionResponse answers a FunctionCall, keyed by its ID.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// TextResponse builds a FunctionResponse carrying a plain result string.
func TextResponse(call FunctionCall, result string) FunctionResponse {
	return FunctionResponse{ID: call.ID, Name: call.Name, Response: map[string]any{"result": result}}
}

// InlineData is a decoded media part.
type InlineData struct {
	MimeType string
	Data     []byte
}

// IsAudio reports whether the part carries PCM audio.
func (d InlineData) IsAudio() bool {
	return strings.HasPrefix(d.MimeType, "audio/pcm")
}

// ServerMessage is one decoded message from the server. A message may carry
// several kinds of content at once.
type ServerMessage struct {
	SetupComplete    bool
	Audio            []InlineData
	Text             []string
	ToolCalls        []FunctionCall
	CancelledCalls   []string
	Interrupted      bool
	TurnComplete     bool
	InputTranscript  string
	OutputTranscript string
	GoAway           bool
}

// Empty reports whether the message carried nothing recognized.
func (m ServerMessage) Empty() bool {
	return !m.SetupComplete && len(m.Audio) == 0 && len(m.Text) == 0 &&
		len(m.ToolCalls) == 0 && len(m.CancelledCalls) == 0 && !m.Interrupted &&
		!m.TurnComplete && m.InputTranscript == "" && m.OutputTranscript == "" && !m.GoAway
}

type wirePart struct {
	Text       string `json:"text,omitempty"`
	InlineData *struct {
		MimeType string `json:"mimeType"`
		Data     []byte `json:"data"` // base64 on the wire
	} `json:"inlineData,omitempty"`
}

type wireTranscript struct {
	Text string `json:"text"`
}

type wireServerMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []wirePart `json:"parts"`
		} `json:"modelTurn"`
		TurnComplete        bool            `json:"turnComplete"`
		Interrupted         bool            `json:"interrupted"`
		InputTranscription  *wireTranscript `json:"inputTranscription"`
		OutputTranscription *wireTranscript `json:"outputTranscription"`
	} `json:"serverContent"`
	ToolCall *struct {
		FunctionCalls []FunctionCall `json:"functionCalls"`
	} `json:"toolCall"`
	ToolCallCancellation *struct {
		IDs []string `json:"ids"`
	} `json:"toolCallCancellation"`
	GoAway *json.RawMessage `json:"goAway"`
}

// ParseServerMessage decodes a raw server frame.
func ParseServerMessage(raw []byte) (ServerMessage, error) {
	var w wireServerMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return ServerMessage{}, fmt.Errorf("live: decode server message: %w", err)
	}

	var m ServerMessage
	m.SetupComplete = w.SetupComplete != nil
	m.GoAway = w.GoAway != nil

	if sc := w.ServerContent; sc != nil {
		m.TurnComplete = sc.TurnComplete
		m.Interrupted = sc.Interrupted
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					m.Audio = append(m.Audio, InlineData{MimeType: p.InlineData.MimeType, Data: p.InlineData.Data})
				}
				if p.Text != "" {
					m.Text = append(m.Text, p.Text)
				}
			}
		}
		if sc.InputTranscription != nil {
			m.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			m.OutputTranscript = sc.OutputTranscription.Text
		}
	}
	if w.ToolCall != nil {
		m.ToolCalls = w.ToolCall.FunctionCalls
	}
	if w.ToolCallCancellation != nil {
		m.CancelledCalls = w.ToolCallCancellation.IDs
	}
	return m, nil
}

// Client messages.

type setupMessage struct {
	Setup setupBody `json:"setup"`
}

type setupBody struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generation_config"`
	SystemInstruction *systemInstruction `json:"system_instruction,omitempty"`
	Tools             []toolSet          `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"response_modalities"`
	SpeechConfig       *speechConfig `json:"speech_config,omitempty"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voice_name"`
		} `json:"prebuilt_voice_config"`
	} `json:"voice_config"`
}

type systemInstruction struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type toolSet struct {
	FunctionDeclarations []FunctionDeclaration `json:"function_declarations"`
}

type mediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput struct {
		MediaChunks []mediaChunk `json:"media_chunks"`
	} `json:"realtime_input"`
}

type toolResponseMessage struct {
	ToolResponse struct {
		FunctionResponses []FunctionResponse `json:"function_responses"`
	} `json:"tool_response"`
}

func buildSetup(cfg SetupConfig) setupMessage {
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}
	body := setupBody{
		Model:            cfg.Model,
		GenerationConfig: generationConfig{ResponseModalities: modalities},
	}
	if cfg.Voice != "" {
		sc := &speechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		body.GenerationConfig.SpeechConfig = sc
	}
	if cfg.SystemInstruction != "" {
		body.SystemInstruction = &systemInstruction{Parts: []textPart{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		body.Tools = []toolSet{{FunctionDeclarations: cfg.Tools}}
	}
	return setupMessage{Setup: body}
}
