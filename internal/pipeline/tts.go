package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TTSOptions holds per-call synthesis parameters. Zero values keep the
// backend's own defaults.
type TTSOptions struct {
	Speed float64
	Voice string
}

// TTSSynthesizer produces encoded audio from text.
type TTSSynthesizer interface {
	SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error)
}

// speechCall is one JSON POST that answers with raw audio bytes.
type speechCall struct {
	url    string
	body   any
	header http.Header
}

// httpSpeech is a TTS backend reached over HTTP. build maps text and
// options to the backend's request shape.
type httpSpeech struct {
	name   string
	client *http.Client
	build  func(text string, opts TTSOptions) speechCall
}

func (h *httpSpeech) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	call := h.build(text, opts)
	body, err := json.Marshal(call.body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", h.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", h.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range call.header {
		req.Header[k] = v
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", h.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s status %d: %s", h.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return io.ReadAll(resp.Body)
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// NewPiperSynthesizer targets a piper HTTP sidecar, which answers with WAV.
func NewPiperSynthesizer(url, voice string, client *http.Client) TTSSynthesizer {
	url = strings.TrimRight(url, "/")
	return &httpSpeech{name: "piper", client: client, build: func(text string, opts TTSOptions) speechCall {
		return speechCall{
			url: url + "/synthesize",
			body: struct {
				Text  string `json:"text"`
				Voice string `json:"voice,omitempty"`
			}{text, pick(opts.Voice, voice)},
		}
	}}
}

// NewOpenAISynthesizer targets /audio/speech on the OpenAI API or a
// compatible server. baseURL carries the version prefix, e.g.
// https://api.openai.com/v1.
func NewOpenAISynthesizer(baseURL, apiKey, model, voice string, client *http.Client) TTSSynthesizer {
	baseURL = strings.TrimRight(baseURL, "/")
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	return &httpSpeech{name: "openai-tts", client: client, build: func(text string, opts TTSOptions) speechCall {
		return speechCall{
			url: baseURL + "/audio/speech",
			body: struct {
				Input          string  `json:"input"`
				Model          string  `json:"model"`
				Voice          string  `json:"voice"`
				Speed          float64 `json:"speed,omitempty"`
				ResponseFormat string  `json:"response_format"`
			}{text, model, pick(opts.Voice, voice), opts.Speed, "mp3"},
			header: header,
		}
	}}
}

const elevenlabsURL = "https://api.elevenlabs.io"

// NewElevenLabsSynthesizer targets the ElevenLabs text-to-speech API (MP3).
func NewElevenLabsSynthesizer(apiKey, voiceID, modelID string, client *http.Client) TTSSynthesizer {
	return newElevenLabs(elevenlabsURL, apiKey, voiceID, modelID, client)
}

func newElevenLabs(baseURL, apiKey, voiceID, modelID string, client *http.Client) TTSSynthesizer {
	header := http.Header{}
	header.Set("xi-api-key", apiKey)
	header.Set("Accept", "audio/mpeg")
	return &httpSpeech{name: "elevenlabs", client: client, build: func(text string, opts TTSOptions) speechCall {
		return speechCall{
			url: fmt.Sprintf("%s/v1/text-to-speech/%s", baseURL, pick(opts.Voice, voiceID)),
			body: struct {
				Text    string `json:"text"`
				ModelID string `json:"model_id"`
			}{text, modelID},
			header: header,
		}
	}}
}
