package speech

import (
	"context"
	"strings"
	"time"
)

// Clip is one fully synthesized utterance.
type Clip struct {
	AudioBase64 string
	Format      string
}

// Renderer turns utterance text into audio for a given voice. A nil Clip with
// a nil error means synthesis is not configured; callers must treat missing
// audio as a normal outcome, not a failure.
type Renderer interface {
	Synthesize(ctx context.Context, text, voiceID string) (*Clip, error)
}

// NoopRenderer is used when no synthesis credential is configured.
type NoopRenderer struct{}

func NewNoopRenderer() *NoopRenderer { return &NoopRenderer{} }

func (NoopRenderer) Synthesize(context.Context, string, string) (*Clip, error) {
	return nil, nil
}

// Estimator derives a spoken duration from word count at a fixed speaking
// rate. The floor keeps even one-word utterances holding the floor for a
// perceptible interval.
type Estimator struct {
	WordsPerMinute int
	Floor          time.Duration
}

func NewEstimator(wordsPerMinute int, floor time.Duration) Estimator {
	if wordsPerMinute <= 0 {
		wordsPerMinute = 150
	}
	if floor <= 0 {
		floor = 2500 * time.Millisecond
	}
	return Estimator{WordsPerMinute: wordsPerMinute, Floor: floor}
}

func (e Estimator) Estimate(text string) time.Duration {
	wpm := e.WordsPerMinute
	if wpm <= 0 {
		wpm = 150
	}
	words := len(strings.Fields(text))
	d := time.Duration(words) * time.Minute / time.Duration(wpm)
	if d < e.Floor {
		return e.Floor
	}
	return d
}
