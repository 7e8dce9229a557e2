package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Exchange is one prior transcript entry handed to the generator as context.
type Exchange struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// TurnRequest is the normalized request for one persona utterance. Transcript
// is a bounded recent window, never the full history.
type TurnRequest struct {
	SessionID    string     `json:"session_id"`
	PersonaID    string     `json:"persona_id"`
	PersonaName  string     `json:"persona_name"`
	PersonaStyle string     `json:"persona_style"`
	Topic        string     `json:"topic"`
	Transcript   []Exchange `json:"transcript,omitempty"`
	UserInput    string     `json:"user_input,omitempty"`
}

type TurnResponse struct {
	Text string `json:"text"`
}

// Adapter bridges the scheduler to the text-generation backend. Adapters do
// not retry; the scheduler's fail-soft policy owns recovery.
type Adapter interface {
	Generate(ctx context.Context, req TurnRequest) (TurnResponse, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}
