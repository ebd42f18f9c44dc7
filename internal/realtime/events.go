package realtime

import "encoding/json"

// Client event types.
const (
	EventSessionUpdate          = "session.update"
	EventConversationItemCreate = "conversation.item.create"
	EventResponseCreate         = "response.create"
	EventInputAudioBufferAppend = "input_audio_buffer.append"
)

// Server event types.
const (
	EventSessionCreated               = "session.created"
	EventSessionUpdated               = "session.updated"
	EventResponseAudioDelta           = "response.audio.delta"
	EventResponseAudioDone            = "response.audio.done"
	EventResponseTextDelta            = "response.text.delta"
	EventResponseTextDone             = "response.text.done"
	EventResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	EventResponseAudioTranscriptDone  = "response.audio_transcript.done"
	EventResponseDone                 = "response.done"
	EventInputTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	EventInputTranscriptionFailed     = "conversation.item.input_audio_transcription.failed"
	EventSpeechStarted                = "input_audio_buffer.speech_started"
	EventError                        = "error"
)

// AudioFormatG711ULaw is the codec Twilio media streams carry.
const AudioFormatG711ULaw = "g711_ulaw"

// ServerEvent is the subset of realtime server events the bridge consumes.
type ServerEvent struct {
	Type       string    `json:"type"`
	EventID    string    `json:"event_id,omitempty"`
	ResponseID string    `json:"response_id,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	Delta      string    `json:"delta,omitempty"`
	Text       string    `json:"text,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Error      *APIError `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// APIError is the payload of an "error" server event.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return "realtime: " + e.Type + " (" + e.Code + "): " + e.Message
	}
	return "realtime: " + e.Type + ": " + e.Message
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// InputAudioTranscription enables transcripts of the caller's speech.
type InputAudioTranscription struct {
	Model string `json:"model"`
}

// Session is the body of a session.update event.
type Session struct {
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
}

// SessionOptions are the tunables of a phone session.
type SessionOptions struct {
	Voice              string  // e.g., "alloy"
	Temperature        float64 // 0.6-1.2 per the API
	VADThreshold       float64
	PrefixPaddingMs    int
	SilenceDurationMs  int
	TranscriptionModel string // e.g., "whisper-1"
}

// DefaultSessionOptions match a Twilio phone leg.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Voice:              "alloy",
		Temperature:        0.7,
		VADThreshold:       0.5,
		PrefixPaddingMs:    300,
		SilenceDurationMs:  800,
		TranscriptionModel: "whisper-1",
	}
}

// PhoneSession builds a μ-law session with server VAD and caller transcription.
func PhoneSession(instructions string, o SessionOptions) Session {
	return Session{
		Modalities:        []string{"text", "audio"},
		Instructions:      instructions,
		Voice:             o.Voice,
		InputAudioFormat:  AudioFormatG711ULaw,
		OutputAudioFormat: AudioFormatG711ULaw,
		InputAudioTranscription: &InputAudioTranscription{
			Model: o.TranscriptionModel,
		},
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         o.VADThreshold,
			PrefixPaddingMs:   o.PrefixPaddingMs,
			SilenceDurationMs: o.SilenceDurationMs,
		},
		Temperature: o.Temperature,
	}
}

// SessionUpdate configures the session.
type SessionUpdate struct {
	Type    string  `json:"type"`
	Session Session `json:"session"`
}

// NewSessionUpdate wraps s in a session.update event.
func NewSessionUpdate(s Session) SessionUpdate {
	return SessionUpdate{Type: EventSessionUpdate, Session: s}
}

// ContentPart is one part of a conversation item.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Item is a conversation item.
type Item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ConversationItemCreate injects an item into the conversation.
type ConversationItemCreate struct {
	Type string `json:"type"`
	Item Item   `json:"item"`
}

// NewTextItem injects a user text message, used for the scripted opening.
func NewTextItem(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: EventConversationItemCreate,
		Item: Item{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// ResponseCreate asks the model to respond.
type ResponseCreate struct {
	Type string `json:"type"`
}

// NewResponseCreate returns a response.create event.
func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: EventResponseCreate}
}

// InputAudioBufferAppend carries one base64 audio frame from the caller.
type InputAudioBufferAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewAudioAppend wraps a base64 payload as it arrived from the telephony leg.
func NewAudioAppend(payload string) InputAudioBufferAppend {
	return InputAudioBufferAppend{Type: EventInputAudioBufferAppend, Audio: payload}
}
