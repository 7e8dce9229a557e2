package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local utterances when no generation
// backend is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Generate(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	select {
	case <-ctx.Done():
		return TurnResponse{}, ctx.Err()
	default:
	}
	return TurnResponse{Text: buildMockUtterance(req)}, nil
}

func buildMockUtterance(req TurnRequest) string {
	name := strings.TrimSpace(req.PersonaName)
	if name == "" {
		name = "the panel"
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = "the discussion"
	}

	if user := strings.TrimSpace(req.UserInput); user != "" {
		return fmt.Sprintf("%s here. On your question about %q: I think it comes back to %s.", name, user, topic)
	}
	if len(req.Transcript) == 0 {
		return fmt.Sprintf("Welcome everyone. Today we are discussing %s. Let's hear from the panel.", topic)
	}

	last := req.Transcript[len(req.Transcript)-1]
	return fmt.Sprintf("Building on what %s said, %s would add a perspective on %s.", last.Speaker, name, topic)
}
