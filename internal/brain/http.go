package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter forwards turn requests to a generation-compatible HTTP
// endpoint. Plain JSON, SSE and NDJSON response bodies are all accepted so
// the same adapter works against streaming and non-streaming backends.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return &HTTPAdapter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (a *HTTPAdapter) Generate(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return TurnResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return TurnResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return TurnResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return TurnResponse{}, fmt.Errorf("brain http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return a.consumeStream(res.Body)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return TurnResponse{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		// Non-JSON bodies are treated as the utterance itself.
		return TurnResponse{Text: strings.TrimSpace(string(body))}, nil
	}
	return TurnResponse{Text: extractText(obj)}, nil
}

func (a *HTTPAdapter) consumeStream(body io.Reader) (TurnResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "data:")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") || line == "[DONE]" {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			out.WriteString(line)
			continue
		}
		out.WriteString(extractText(obj))
	}
	if err := scanner.Err(); err != nil {
		return TurnResponse{}, fmt.Errorf("read stream: %w", err)
	}
	return TurnResponse{Text: strings.TrimSpace(out.String())}, nil
}

func extractText(obj map[string]any) string {
	for _, key := range []string{"delta", "text", "output", "response", "content"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
