package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"

	"github.com/hubenschmidt/sdr-voice-agent/internal/audio"
	"github.com/hubenschmidt/sdr-voice-agent/internal/metrics"
)

// Transcriber turns a captured PCM16 utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Transcription sends every utterance to the active ASR engine.
type Transcription struct {
	*Engines[Transcriber]
}

// NewTranscription registers the ASR backends with active selected.
func NewTranscription(active string, backends map[string]Transcriber) (*Transcription, error) {
	e, err := NewEngines(active, backends)
	if err != nil {
		return nil, fmt.Errorf("asr: %w", err)
	}
	return &Transcription{Engines: e}, nil
}

func (t *Transcription) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	start := time.Now()
	text, err := t.activeBackend().Transcribe(ctx, pcm)
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.ActiveName(), err)
	}
	metrics.StageDuration.WithLabelValues("asr").Observe(time.Since(start).Seconds())
	return text, nil
}

// OpenAIWhisper transcribes through the OpenAI audio transcription API.
type OpenAIWhisper struct {
	client openai.Client
	model  string
}

// NewOpenAIWhisper creates a Whisper transcriber. An empty model selects whisper-1.
func NewOpenAIWhisper(client openai.Client, model string) *OpenAIWhisper {
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &OpenAIWhisper{client: client, model: model}
}

func (w *OpenAIWhisper) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	wav := audio.PCM16ToWAV(pcm, audio.SampleRate)
	res, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(w.model),
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	})
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "api").Inc()
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return res.Text, nil
}

// WhisperServer posts utterances to a whisper.cpp server's /inference endpoint.
type WhisperServer struct {
	url    string
	client *http.Client
}

func NewWhisperServer(url string, client *http.Client) *WhisperServer {
	return &WhisperServer{url: strings.TrimRight(url, "/"), client: client}
}

func (w *WhisperServer) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	body, contentType, err := inferenceForm(pcm)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+"/inference", body)
	if err != nil {
		return "", fmt.Errorf("create inference request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "http").Inc()
		return "", fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("asr", "status").Inc()
		return "", fmt.Errorf("inference status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}
	return out.Text, nil
}

// inferenceForm wraps the utterance as audio.wav with JSON output requested.
func inferenceForm(pcm []byte) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(audio.PCM16ToWAV(pcm, audio.SampleRate)); err != nil {
		return nil, "", fmt.Errorf("write wav: %w", err)
	}
	for k, v := range map[string]string{"response_format": "json", "temperature": "0"} {
		if err = form.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write %s: %w", k, err)
		}
	}
	if err = form.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &body, form.FormDataContentType(), nil
}
