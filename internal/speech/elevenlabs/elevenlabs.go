// Package elevenlabs reads triage assistant prompts aloud through the
// ElevenLabs text-to-speech API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	// DefaultVoiceID is the stock "Rachel" voice.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	modelID        = "eleven_monolingual_v1"
	httpTimeout    = 30 * time.Second
	maxTextLen     = 5000
	maxAudioBytes  = 10 << 20
)

// ErrEmptyText is returned when there is nothing to speak.
var ErrEmptyText = errors.New("elevenlabs: text is empty")

// Client converts text to MP3 audio.
type Client struct {
	apiKey  string
	voiceID string
	baseURL string
	client  *http.Client
}

// New creates a client. An empty voiceID uses DefaultVoiceID.
func New(apiKey, voiceID string) *Client {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	return &Client{
		apiKey:  apiKey,
		voiceID: voiceID,
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Speak returns text rendered as audio/mpeg. Text longer than the API
// accepts is cut at a word boundary.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	text = clip(strings.TrimSpace(text), maxTextLen)
	if text == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: modelID,
		VoiceSettings: voiceSettings{
			Stability:       0.75,
			SimilarityBoost: 0.75,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := c.baseURL + "/text-to-speech/" + c.voiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(req) //nolint:gosec // G704: base URL is fixed, voice ID from trusted config
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs: api returned %d: %s", resp.StatusCode, string(msg))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(audio) > maxAudioBytes {
		return nil, fmt.Errorf("elevenlabs: audio exceeds %d bytes", maxAudioBytes)
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs: empty audio response")
	}
	return audio, nil
}

// clip cuts s to at most limit bytes, backing up to the last space.
func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.ToValidUTF8(cut, "")
}
