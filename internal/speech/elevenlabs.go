package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	ModelID      string
	OutputFormat string
}

// ElevenLabsRenderer synthesizes one utterance per request via the plain
// HTTP text-to-speech endpoint. The panel cadence is turn-at-a-time, so the
// realtime streaming protocol buys nothing here.
type ElevenLabsRenderer struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsRenderer(cfg ElevenLabsConfig) *ElevenLabsRenderer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	return &ElevenLabsRenderer{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (r *ElevenLabsRenderer) Synthesize(ctx context.Context, text, voiceID string) (*Clip, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}

	u, err := url.Parse(strings.TrimRight(r.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("output_format", r.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": r.cfg.ModelID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", r.cfg.APIKey)

	res, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("tts http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts returned empty audio")
	}

	return &Clip{
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		Format:      r.cfg.OutputFormat,
	}, nil
}
