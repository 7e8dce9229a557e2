package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies event and client payload variants.
type MessageType string

const (
	TypeStatusSnapshot MessageType = "status_snapshot"
	TypeTurnEvent      MessageType = "turn"
	TypePausedEvent    MessageType = "paused"
	TypeResumedEvent   MessageType = "resumed"
	TypeEndedEvent     MessageType = "ended"
	TypeErrorEvent     MessageType = "error_event"

	TypeUserMessage   MessageType = "user_message"
	TypeClientControl MessageType = "client_control"
)

const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionEnd    = "end"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// StatusSnapshot is sent to a subscriber on connect and on status queries.
type StatusSnapshot struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	Status        string      `json:"status"`
	Topic         string      `json:"topic"`
	TurnCount     int         `json:"turn_count"`
	MaxTurns      int         `json:"max_turns"`
	ElapsedMS     int64       `json:"elapsed_ms"`
	MaxDurationMS int64       `json:"max_duration_ms"`
	LastSpeakerID string      `json:"last_speaker_id,omitempty"`
}

// TurnEvent carries one produced turn, persona or user.
type TurnEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	SpeakerID   string      `json:"speaker_id"`
	SpeakerName string      `json:"speaker_name"`
	Kind        string      `json:"kind"`
	Text        string      `json:"text"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
	AudioFormat string      `json:"audio_format,omitempty"`
	DurationMS  int64       `json:"duration_ms"`
	TSMs        int64       `json:"ts_ms"`
}

type PausedEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ResumedEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type EndedEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Reason    string      `json:"reason"`
	Closing   string      `json:"closing"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

// UserMessage is an audience contribution submitted over the websocket.
type UserMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Author    string      `json:"author,omitempty"`
	Text      string      `json:"text"`
}

// ClientControl requests a lifecycle transition: pause, resume or end.
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid user_message")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionPause, ActionResume, ActionEnd:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
